package collector

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"gridharvest/lib/checkpoint"
	"gridharvest/lib/portal"
	"gridharvest/lib/session"
	"gridharvest/lib/sink"
	"gridharvest/lib/telemetry"
	"gridharvest/lib/timezone"
	"gridharvest/lib/usage"

	"github.com/stretchr/testify/require"
)

type fakeAuth struct {
	err error
	// force flags, one per call
	calls []bool
}

func (a *fakeAuth) EnsureAuthenticated(ctx context.Context, force bool) (*session.Session, error) {
	a.calls = append(a.calls, force)
	if a.err != nil {
		return nil, a.err
	}
	return &session.Session{
		Cookies:   []session.Cookie{{Name: "sid", Value: fmt.Sprintf("gen%d", len(a.calls))}},
		CreatedAt: time.Now(),
	}, nil
}

type fakeFetcher struct {
	intervals []usage.Interval
	// errs are consumed one per FetchUsage call, nil entries succeed
	errs      []error
	fetches   int
	sessions  []*session.Session
	lastStart time.Time
	lastEnd   time.Time
}

func (f *fakeFetcher) SetSession(sess *session.Session) error {
	f.sessions = append(f.sessions, sess)
	return nil
}

func (f *fakeFetcher) FetchUsage(ctx context.Context, start, end time.Time) ([]usage.Interval, error) {
	f.fetches++
	f.lastStart, f.lastEnd = start, end
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.intervals, nil
}

type memSink struct {
	name   string
	err    error
	writes map[usage.Day][]usage.Interval
}

func newMemSink(name string) *memSink {
	return &memSink{name: name, writes: map[usage.Day][]usage.Interval{}}
}

func (s *memSink) Name() string {
	return s.name
}

func (s *memSink) Write(ctx context.Context, day usage.Day, intervals []usage.Interval) error {
	if s.err != nil {
		return s.err
	}
	s.writes[day] = append(s.writes[day], intervals...)
	return nil
}

func at(day string, hour, minute int) time.Time {
	t, err := time.ParseInLocation("2006-01-02", day, timezone.Location)
	if err != nil {
		panic(err)
	}
	return t.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func twoDays() []usage.Interval {
	return []usage.Interval{
		{Time: at("2025-03-01", 23, 30), KWH: 0.4},
		{Time: at("2025-03-01", 23, 45), KWH: 0.5},
		{Time: at("2025-03-02", 0, 0), KWH: 0.6},
		{Time: at("2025-03-02", 0, 15), KWH: 0.3},
	}
}

type harness struct {
	auth      *fakeAuth
	fetcher   *fakeFetcher
	primary   *memSink
	secondary *memSink
	store     checkpoint.Store
	svc       *Service
}

func newHarness(t *testing.T) harness {
	cleanup := telemetry.SetupForTesting(t, "test:collector")
	t.Cleanup(cleanup)

	store, err := checkpoint.Open(filepath.Join(t.TempDir(), "checkpoints.db"))
	if err != nil {
		t.Fatal(err)
	}

	h := harness{
		auth:      &fakeAuth{},
		fetcher:   &fakeFetcher{intervals: twoDays()},
		primary:   newMemSink("csv"),
		secondary: newMemSink("mqtt"),
		store:     store,
	}
	h.svc, err = NewService(h.auth, h.fetcher, store, h.primary, []sink.Sink{h.secondary})
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestRunOnceWritesAndCheckpoints(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	result := h.svc.RunOnce(ctx)
	require.Equal(t, StatusSuccess, result.Status)
	require.Equal(t, 4, result.IntervalsWritten)
	require.Empty(t, result.SinkErrors)

	require.Len(t, h.primary.writes["2025-03-01"], 2)
	require.Len(t, h.primary.writes["2025-03-02"], 2)
	require.Equal(t, h.primary.writes, h.secondary.writes)

	latest, ok, err := h.store.Latest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.True(t, ok)
	require.True(t, latest.Equal(at("2025-03-02", 0, 15)))

	// the stored session sufficed, no forced login
	require.Equal(t, []bool{false}, h.auth.calls)
}

func TestSecondRunWritesNothingNew(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.svc.RunOnce(ctx)
	require.Equal(t, StatusSuccess, first.Status)

	second := h.svc.RunOnce(ctx)
	require.Equal(t, StatusSuccess, second.Status)
	require.Equal(t, 0, second.IntervalsWritten)
	require.Len(t, h.primary.writes["2025-03-01"], 2)
}

func TestSessionInvalidRetriesExactlyOnce(t *testing.T) {
	h := newHarness(t)
	h.fetcher.errs = []error{&portal.FetchError{Reason: portal.ReasonSessionInvalid}}

	result := h.svc.RunOnce(context.Background())
	require.Equal(t, StatusSuccess, result.Status)
	require.Equal(t, 4, result.IntervalsWritten)
	// one normal login, one forced re-login after the invalidation
	require.Equal(t, []bool{false, true}, h.auth.calls)
	require.Equal(t, 2, h.fetcher.fetches)
}

func TestSessionInvalidGivesUpAfterRetry(t *testing.T) {
	h := newHarness(t)
	h.fetcher.errs = []error{
		&portal.FetchError{Reason: portal.ReasonSessionInvalid},
		&portal.FetchError{Reason: portal.ReasonSessionInvalid},
	}

	result := h.svc.RunOnce(context.Background())
	require.Equal(t, StatusFailed, result.Status)
	require.NotEmpty(t, result.ErrorDetail)
	// no third login, no third fetch, the next cycle gets to try
	require.Equal(t, []bool{false, true}, h.auth.calls)
	require.Equal(t, 2, h.fetcher.fetches)
}

func TestSecondarySinkFailureIsPartial(t *testing.T) {
	h := newHarness(t)
	h.secondary.err = fmt.Errorf("broker unreachable")
	ctx := context.Background()

	result := h.svc.RunOnce(ctx)
	require.Equal(t, StatusPartial, result.Status)
	require.Equal(t, 4, result.IntervalsWritten)
	require.Contains(t, result.SinkErrors, "mqtt")

	// the primary confirmed, so the checkpoint still advances
	latest, ok, err := h.store.Latest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.True(t, ok)
	require.True(t, latest.Equal(at("2025-03-02", 0, 15)))
}

func TestPrimarySinkFailureIsFailed(t *testing.T) {
	h := newHarness(t)
	h.primary.err = fmt.Errorf("disk full")
	ctx := context.Background()

	result := h.svc.RunOnce(ctx)
	require.Equal(t, StatusFailed, result.Status)
	require.Equal(t, 0, result.IntervalsWritten)
	require.Contains(t, result.SinkErrors, "csv")

	// nothing durable happened, the days replay next cycle
	_, ok, err := h.store.Latest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.False(t, ok)
	require.Empty(t, h.secondary.writes)
}

func TestAuthFailureIsFailed(t *testing.T) {
	h := newHarness(t)
	h.auth.err = fmt.Errorf("captcha exhausted")

	result := h.svc.RunOnce(context.Background())
	require.Equal(t, StatusFailed, result.Status)
	require.NotEmpty(t, result.ErrorDetail)
	require.Zero(t, h.fetcher.fetches)
}

func TestWindowRefetchesCheckpointDayWholeAcrossZones(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// a checkpoint stored as a UTC instant must still anchor the window
	// at the portal-local start of its day
	err := h.store.Advance(ctx, "2025-03-02", at("2025-03-02", 0, 15).UTC())
	if err != nil {
		t.Fatal(err)
	}
	h.svc.Now = func() time.Time { return at("2025-03-10", 12, 0) }
	h.fetcher.intervals = nil

	result := h.svc.RunOnce(ctx)
	require.Equal(t, StatusSuccess, result.Status)
	require.True(t, h.fetcher.lastStart.Equal(at("2025-03-02", 0, 0)),
		"window started at %v", h.fetcher.lastStart)
	require.True(t, h.fetcher.lastEnd.Equal(at("2025-03-10", 12, 0)))
}

func TestWindowKeepsBackfillFloorPastNewerCheckpoint(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// a newer day's checkpoint must not shrink the window below the
	// backfill floor, earlier days inside it can still publish late
	err := h.store.Advance(ctx, "2025-03-02", at("2025-03-02", 23, 45))
	if err != nil {
		t.Fatal(err)
	}
	h.svc.Now = func() time.Time { return at("2025-03-03", 12, 0) }
	h.fetcher.intervals = nil

	result := h.svc.RunOnce(ctx)
	require.Equal(t, StatusSuccess, result.Status)
	require.True(t, h.fetcher.lastStart.Equal(at("2025-02-28", 12, 0)),
		"window started at %v", h.fetcher.lastStart)
}

func TestLatePublishedIntervalsLandOnNextRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.fetcher.intervals = twoDays()[:3]
	first := h.svc.RunOnce(ctx)
	require.Equal(t, 3, first.IntervalsWritten)

	// the portal publishes one more interval for an already
	// checkpointed day
	h.fetcher.intervals = twoDays()
	second := h.svc.RunOnce(ctx)
	require.Equal(t, StatusSuccess, second.Status)
	require.Equal(t, 1, second.IntervalsWritten)
	require.Len(t, h.primary.writes["2025-03-02"], 2)
}
