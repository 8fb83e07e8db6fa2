// Package captcha resolves the portal's audio captcha challenge into an
// accepted answer string. the speech-to-text backend and the audio
// transcoder are injected capabilities, nothing here depends on a
// concrete recognition engine.
package captcha

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("captcha")

var Unresolved = fmt.Errorf("captcha unresolved after exhausting attempts")
var BotDetected = fmt.Errorf("captcha reported bot behavior")

const DefaultMaxAttempts = 3

type Verdict int

const (
	VerdictAccepted Verdict = iota
	VerdictWrongAnswer
	VerdictBlocked
)

type Challenge struct {
	// AudioURL references the challenge audio asset
	AudioURL string
	// SolvedByCheckbox reports that the widget accepted the initial
	// checkbox interaction and no audio challenge is required
	SolvedByCheckbox bool
}

// ChallengeSource abstracts the portal's challenge affordances: produce
// a challenge, accept an answer, and hand out a new challenge when
// asked.
type ChallengeSource interface {
	Challenge(ctx context.Context) (Challenge, error)
	Submit(ctx context.Context, answer string) (Verdict, error)
	Reload(ctx context.Context) error
}

// Transcriber converts challenge audio into raw text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// Transcoder converts the portal's mp3 audio into something the
// transcription backend accepts. optional, nil passes audio through.
type Transcoder interface {
	ToWAV(ctx context.Context, mp3 []byte) ([]byte, error)
}

type AudioFetcher interface {
	FetchAudio(ctx context.Context, url string) ([]byte, error)
}

type restyAudioFetcher struct {
	client *resty.Client
}

func (f restyAudioFetcher) FetchAudio(ctx context.Context, url string) ([]byte, error) {
	res, err := f.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, err
	}
	if res.StatusCode() != 200 {
		return nil, fmt.Errorf("audio download returned status %d", res.StatusCode())
	}
	return res.Body(), nil
}

func NewAudioFetcher(client *resty.Client) AudioFetcher {
	return restyAudioFetcher{client: client}
}

type Solver struct {
	Audio       AudioFetcher
	Transcoder  Transcoder
	Transcriber Transcriber
	// MaxAttempts bounds the number of challenges tried, 0 means
	// DefaultMaxAttempts
	MaxAttempts int
}

// Solve resolves one captcha into the answer the source accepted. a
// challenge solved by the checkbox interaction alone returns an empty
// answer. each attempt is independent: a rejected or untranscribable
// challenge is reloaded for a fresh one until the attempt ceiling is
// hit, at which point Unresolved is returned.
func (s Solver) Solve(ctx context.Context, src ChallengeSource) (string, error) {
	ctx, span := tracer.Start(ctx, "captcha:Solve")
	defer span.End()

	attempts := s.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			err := src.Reload(ctx)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "failed to request a new challenge")
				return "", err
			}
		}

		answer, verdict, err := s.attempt(ctx, src)
		if err == BotDetected {
			span.SetStatus(codes.Error, "bot detected")
			return "", err
		}
		if err != nil {
			slog.WarnContext(ctx, "captcha attempt failed", "attempt", attempt+1, "err", err)
			continue
		}

		switch verdict {
		case VerdictAccepted:
			return answer, nil
		case VerdictBlocked:
			span.SetStatus(codes.Error, "bot detected")
			return "", BotDetected
		case VerdictWrongAnswer:
			slog.InfoContext(ctx, "captcha answer rejected", "attempt", attempt+1)
		}
	}

	span.SetStatus(codes.Error, Unresolved.Error())
	return "", Unresolved
}

func (s Solver) attempt(ctx context.Context, src ChallengeSource) (string, Verdict, error) {
	ch, err := src.Challenge(ctx)
	if err != nil {
		return "", 0, err
	}
	if ch.SolvedByCheckbox {
		return "", VerdictAccepted, nil
	}

	audio, err := s.Audio.FetchAudio(ctx, ch.AudioURL)
	if err != nil {
		return "", 0, fmt.Errorf("fetch challenge audio: %w", err)
	}
	if s.Transcoder != nil {
		audio, err = s.Transcoder.ToWAV(ctx, audio)
		if err != nil {
			return "", 0, fmt.Errorf("transcode challenge audio: %w", err)
		}
	}

	transcript, err := s.Transcriber.Transcribe(ctx, audio)
	if err != nil {
		return "", 0, fmt.Errorf("transcribe challenge audio: %w", err)
	}

	answer := NormalizeTranscript(transcript)
	if answer == "" {
		return "", 0, fmt.Errorf("transcript %q normalized to nothing", transcript)
	}

	verdict, err := src.Submit(ctx, answer)
	if err != nil {
		return "", 0, err
	}
	return answer, verdict, nil
}
