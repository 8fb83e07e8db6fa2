// Package collector runs the collection cycle: authenticate, fetch the
// usage window, deduplicate against the per-day checkpoints and fan the
// new intervals out to the configured sinks.
package collector

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"gridharvest/lib/checkpoint"
	"gridharvest/lib/portal"
	"gridharvest/lib/session"
	"gridharvest/lib/sink"
	"gridharvest/lib/timezone"
	"gridharvest/lib/usage"

	"go.opentelemetry.io/otel/codes"
)

const DefaultWindowDays = 3

// Authenticator hands out a validated portal session, implemented by
// the auth controller.
type Authenticator interface {
	EnsureAuthenticated(ctx context.Context, force bool) (*session.Session, error)
}

// Fetcher pulls usage intervals off the portal, implemented by the
// portal client.
type Fetcher interface {
	SetSession(sess *session.Session) error
	FetchUsage(ctx context.Context, start, end time.Time) ([]usage.Interval, error)
}

type Service struct {
	auth        Authenticator
	fetcher     Fetcher
	checkpoints checkpoint.Store
	// primary must confirm a day's write before its checkpoint
	// advances, secondaries are best-effort
	primary     sink.Sink
	secondaries []sink.Sink

	// WindowDays is the backfill floor: every cycle re-fetches at least
	// this many days, 0 means DefaultWindowDays
	WindowDays int
	// Now is overridable for tests, defaults to timezone.Now
	Now func() time.Time

	metrics cycleMetrics
}

func NewService(
	auth Authenticator,
	fetcher Fetcher,
	checkpoints checkpoint.Store,
	primary sink.Sink,
	secondaries []sink.Sink,
) (*Service, error) {
	metrics, err := newCycleMetrics()
	if err != nil {
		return nil, err
	}
	return &Service{
		auth:        auth,
		fetcher:     fetcher,
		checkpoints: checkpoints,
		primary:     primary,
		secondaries: secondaries,
		metrics:     metrics,
	}, nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return timezone.Now()
}

// RunOnce executes a single collection cycle. it never panics the
// caller's loop: every failure mode lands in the returned Result.
func (s *Service) RunOnce(ctx context.Context) Result {
	ctx, span := tracer.Start(ctx, "collector:RunOnce")
	defer span.End()

	result := Result{
		AttemptedAt: s.now(),
		Status:      StatusFailed,
		SinkErrors:  map[string]string{},
	}

	intervals, err := s.fetchWindow(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		result.ErrorDetail = err.Error()
		s.metrics.record(ctx, result)
		return result
	}

	written, failed, err := s.deliver(ctx, intervals, result.SinkErrors)
	result.IntervalsWritten = written
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		result.ErrorDetail = err.Error()
	case failed:
		result.ErrorDetail = "primary sink rejected a write"
	case len(result.SinkErrors) > 0:
		result.Status = StatusPartial
	default:
		result.Status = StatusSuccess
	}

	s.metrics.record(ctx, result)
	return result
}

// fetchWindow authenticates and pulls the current collection window. a
// session the portal invalidated mid-cycle gets exactly one forced
// re-login and one retried fetch, anything past that is this cycle's
// failure and the next cycle's problem.
func (s *Service) fetchWindow(ctx context.Context) ([]usage.Interval, error) {
	sess, err := s.auth.EnsureAuthenticated(ctx, false)
	if err != nil {
		return nil, err
	}
	err = s.fetcher.SetSession(sess)
	if err != nil {
		return nil, err
	}

	start, end, err := s.window(ctx)
	if err != nil {
		return nil, err
	}

	intervals, err := s.fetcher.FetchUsage(ctx, start, end)
	if portal.IsSessionInvalid(err) {
		slog.WarnContext(ctx, "portal invalidated the session mid-cycle, re-authenticating")
		sess, err = s.auth.EnsureAuthenticated(ctx, true)
		if err != nil {
			return nil, err
		}
		err = s.fetcher.SetSession(sess)
		if err != nil {
			return nil, err
		}
		intervals, err = s.fetcher.FetchUsage(ctx, start, end)
	}
	return intervals, err
}

// window spans at least the backfill floor (now minus WindowDays) and
// reaches back further when the latest checkpoint is older than that.
// re-fetching already-checkpointed days is deliberate: intervals the
// portal publishes late land inside the floor and FilterNew drops what
// was already written. a tail published later than WindowDays after
// its day is lost, which has not been observed in practice.
func (s *Service) window(ctx context.Context) (start, end time.Time, err error) {
	end = s.now()
	days := s.WindowDays
	if days <= 0 {
		days = DefaultWindowDays
	}
	start = end.AddDate(0, 0, -days)

	latest, ok, err := s.checkpoints.Latest(ctx)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !ok {
		return start, end, nil
	}

	// start of the checkpoint's day in portal-local time, so a
	// partially-published day is always re-fetched whole. the store
	// hands the instant back in the host's zone, which may differ.
	latest = latest.In(timezone.Location)
	dayStart := time.Date(latest.Year(), latest.Month(), latest.Day(), 0, 0, 0, 0, timezone.Location)
	if dayStart.Before(start) {
		start = dayStart
	}
	return start, end, nil
}

// deliver writes the new intervals out, day by day. the checkpoint for
// a day only advances after the primary sink confirmed that day, so a
// crash or failed write replays the day instead of losing it.
func (s *Service) deliver(ctx context.Context, intervals []usage.Interval, sinkErrors map[string]string) (written int, primaryFailed bool, err error) {
	// shutdown must not abandon a half-written day
	ctx = context.WithoutCancel(ctx)

	byDay := usage.GroupByDay(intervals)
	days := make([]usage.Day, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })

	for _, day := range days {
		fresh, err := s.checkpoints.FilterNew(ctx, day, byDay[day])
		if err != nil {
			return written, primaryFailed, err
		}
		if len(fresh) == 0 {
			continue
		}

		err = s.primary.Write(ctx, day, fresh)
		if err != nil {
			slog.ErrorContext(ctx, "primary sink write failed",
				"sink", s.primary.Name(), "day", day, "err", err)
			sinkErrors[s.primary.Name()] = err.Error()
			primaryFailed = true
			continue
		}

		last := fresh[0].Time
		for _, iv := range fresh {
			if iv.Time.After(last) {
				last = iv.Time
			}
		}
		err = s.checkpoints.Advance(ctx, day, last)
		if err != nil {
			return written, primaryFailed, err
		}
		written += len(fresh)

		for _, secondary := range s.secondaries {
			err := secondary.Write(ctx, day, fresh)
			if err != nil {
				slog.WarnContext(ctx, "secondary sink write failed",
					"sink", secondary.Name(), "day", day, "err", err)
				sinkErrors[secondary.Name()] = err.Error()
			}
		}

		slog.InfoContext(ctx, "wrote intervals", "day", day, "count", len(fresh))
	}
	return written, primaryFailed, nil
}

// RunForever polls on the given interval until the context is
// cancelled, running one cycle immediately on startup.
func (s *Service) RunForever(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	s.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			ticker.Stop()
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Service) runCycle(ctx context.Context) {
	result := s.RunOnce(ctx)
	switch result.Status {
	case StatusSuccess:
		slog.InfoContext(ctx, "collection cycle finished",
			"status", result.Status, "intervals", result.IntervalsWritten)
	default:
		slog.ErrorContext(ctx, "collection cycle finished",
			"status", result.Status, "intervals", result.IntervalsWritten,
			"detail", result.ErrorDetail, "sink_errors", result.SinkErrors)
	}
}
