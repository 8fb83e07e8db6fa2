package webdriver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"gridharvest/lib/browser"
	"gridharvest/lib/telemetry"

	"github.com/stretchr/testify/require"
)

// fakeRemote is a tiny in-memory WebDriver remote covering the
// endpoints the driver speaks.
type fakeRemote struct {
	mux      *http.ServeMux
	sessions int
}

func value(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"value": v})
}

func newFakeRemote() *fakeRemote {
	r := &fakeRemote{mux: http.NewServeMux()}
	r.mux.HandleFunc("POST /session", func(w http.ResponseWriter, req *http.Request) {
		r.sessions++
		value(w, 200, map[string]string{"sessionId": "s1"})
	})
	r.mux.HandleFunc("POST /session/s1/url", func(w http.ResponseWriter, req *http.Request) {
		value(w, 200, nil)
	})
	r.mux.HandleFunc("POST /session/s1/element", func(w http.ResponseWriter, req *http.Request) {
		var body map[string]string
		json.NewDecoder(req.Body).Decode(&body)
		if body["value"] == "#missing" {
			value(w, 404, map[string]string{
				"error":   "no such element",
				"message": "no element matched",
			})
			return
		}
		value(w, 200, map[string]string{elementKey: "e1"})
	})
	r.mux.HandleFunc("POST /session/s1/element/e1/value", func(w http.ResponseWriter, req *http.Request) {
		value(w, 200, nil)
	})
	r.mux.HandleFunc("GET /session/s1/element/e1/attribute/style", func(w http.ResponseWriter, req *http.Request) {
		value(w, 200, nil)
	})
	r.mux.HandleFunc("GET /session/s1/cookie", func(w http.ResponseWriter, req *http.Request) {
		value(w, 200, []map[string]any{
			{"name": "sid", "value": "abc", "domain": "example.com", "secure": true, "expiry": 1767225600},
			{"name": "pref", "value": "1"},
		})
	})
	return r
}

func newTestClient(t *testing.T) (*Client, *fakeRemote) {
	cleanup := telemetry.SetupForTesting(t, "test:webdriver")
	t.Cleanup(cleanup)

	remote := newFakeRemote()
	server := httptest.NewServer(remote.mux)
	t.Cleanup(server.Close)
	return New(Options{RemoteUrl: server.URL}), remote
}

func TestSessionCreatedLazilyOnce(t *testing.T) {
	client, remote := newTestClient(t)
	ctx := context.Background()

	require.Zero(t, remote.sessions)

	err := client.Navigate(ctx, "https://example.com/login")
	if err != nil {
		t.Fatal(err)
	}
	err = client.Navigate(ctx, "https://example.com/dashboard")
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, 1, remote.sessions)
}

func TestFindMissingElement(t *testing.T) {
	client, _ := newTestClient(t)

	_, err := client.Find(context.Background(), "#missing")
	require.ErrorIs(t, err, browser.ElementNotFound)
}

func TestNullAttributeIsEmpty(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	el, err := client.Find(ctx, "input")
	if err != nil {
		t.Fatal(err)
	}
	style, err := el.Attr(ctx, "style")
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "", style)
}

func TestCookies(t *testing.T) {
	client, _ := newTestClient(t)

	cookies, err := client.Cookies(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	require.Len(t, cookies, 2)
	require.Equal(t, "sid", cookies[0].Name)
	require.Equal(t, "example.com", cookies[0].Domain)
	require.False(t, cookies[0].Expires.IsZero())
	require.True(t, cookies[1].Expires.IsZero())
}
