package transcribe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"gridharvest/lib/telemetry"

	"github.com/stretchr/testify/require"
)

func TestTranscribe(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:transcribe")
	defer cleanup()

	var gotFile bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, _, err := r.FormFile("file")
		if err == nil {
			gotFile = true
			file.Close()
		}
		w.Write([]byte(`{"text": "four seven two nine"}`))
	}))
	defer server.Close()

	tr := NewHTTPTranscriber(server.URL)
	text, err := tr.Transcribe(context.Background(), []byte("wav-bytes"))
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "four seven two nine", text)
	require.True(t, gotFile)
}

func TestTranscribeServerError(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:transcribe")
	defer cleanup()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	tr := NewHTTPTranscriber(server.URL)
	_, err := tr.Transcribe(context.Background(), []byte("wav-bytes"))
	require.Error(t, err)
}
