// Package transcribe provides the speech-to-text capabilities the
// captcha solver needs: an HTTP transcriber speaking the whisper-server
// style audio endpoint, and an ffmpeg-backed mp3 to wav transcoder.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"gridharvest/lib/captcha"
	"gridharvest/lib/telemetry"

	"github.com/go-resty/resty/v2"
)

type HTTPTranscriber struct {
	http *resty.Client
}

var _ captcha.Transcriber = (*HTTPTranscriber)(nil)

// NewHTTPTranscriber points at a transcription endpoint that accepts a
// multipart audio upload and answers {"text": "..."}, the contract
// whisper.cpp's server and compatible deployments share.
func NewHTTPTranscriber(endpoint string) *HTTPTranscriber {
	client := resty.New().
		SetBaseURL(endpoint).
		SetTimeout(time.Minute)
	telemetry.InstrumentResty(client, "transcribe")
	return &HTTPTranscriber{http: client}
}

func (t *HTTPTranscriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	res, err := t.http.R().
		SetContext(ctx).
		SetFileReader("file", "audio.wav", bytes.NewReader(wav)).
		Post("/inference")
	if err != nil {
		return "", err
	}
	if res.StatusCode() != 200 {
		return "", fmt.Errorf("transcription endpoint returned status %d", res.StatusCode())
	}

	var out struct {
		Text string `json:"text"`
	}
	err = json.Unmarshal(res.Body(), &out)
	if err != nil {
		return "", fmt.Errorf("malformed transcription response: %w", err)
	}
	return out.Text, nil
}

// FFmpeg shells out to ffmpeg to convert the portal's mp3 challenge
// audio into mono 16kHz wav. no pack library decodes mp3, and ffmpeg is
// already a deployment requirement of the transcription sidecar.
type FFmpeg struct {
	// Path overrides the binary looked up on PATH
	Path string
}

var _ captcha.Transcoder = FFmpeg{}

func (f FFmpeg) ToWAV(ctx context.Context, mp3 []byte) ([]byte, error) {
	path := f.Path
	if path == "" {
		path = "ffmpeg"
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path,
		"-i", "pipe:0",
		"-ac", "1",
		"-ar", "16000",
		"-f", "wav",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(mp3)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, stderr.String())
	}
	return stdout.Bytes(), nil
}
