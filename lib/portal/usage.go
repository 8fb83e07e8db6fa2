package portal

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"
	"time"

	"gridharvest/lib/timezone"
	"gridharvest/lib/usage"

	"go.opentelemetry.io/otel/codes"
)

// the portal caps 15-minute data requests at a few hours per call, the
// original client settled on 3-hour windows
const chunkHours = 3

// FetchUsage retrieves all 15-minute intervals between start and end
// (portal-local time), in ascending order. the portal publishes data
// with a lag so a window reaching into the present legitimately comes
// back shorter than the elapsed time; that is a valid, partial result,
// not an error.
func (c *Client) FetchUsage(ctx context.Context, start, end time.Time) ([]usage.Interval, error) {
	ctx, span := tracer.Start(ctx, "portal:FetchUsage")
	defer span.End()

	if c.fuelType == "" {
		fuelType, err := c.DiscoverMeter(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to discover meter")
			return nil, err
		}
		c.fuelType = fuelType
	}

	var out []usage.Interval
	for cur := start; cur.Before(end); {
		chunkEnd := cur.Add(time.Hour * chunkHours)
		if chunkEnd.After(end) {
			chunkEnd = end
		}

		err := c.limiter.Wait(ctx)
		if err != nil {
			return nil, err
		}

		intervals, err := c.fetchChunk(ctx, cur, chunkEnd)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to fetch usage chunk")
			return nil, err
		}
		out = append(out, intervals...)

		cur = chunkEnd
	}

	slices.SortFunc(out, func(a, b usage.Interval) int {
		return a.Time.Compare(b.Time)
	})
	return out, nil
}

func (c *Client) fetchChunk(ctx context.Context, start, end time.Time) ([]usage.Interval, error) {
	res, err := c.Http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"date":             start.Format("2006-01-02"),
			"usageType":        "Q",
			"timePeriod":       "15min",
			"select-time":      formatClock(start) + "-" + formatClock(end),
			"select-date-from": start.Format("01/02/2006"),
			"select-date-to":   start.Format("01/02/2006"),
			"show_demand":      "1",
			"fuelType":         c.fuelType,
		}).
		Get(usageDataPath)
	if err != nil {
		return nil, &FetchError{Reason: ReasonPortalUnavailable, Cause: err}
	}
	if err := classify(res); err != nil {
		return nil, err
	}
	return parseUsage(ctx, res.Body())
}

// the data endpoint's payload: one series of readings plus a parallel
// list of timestamps like "2025-01-10 08:15:00 GMT-0600"
type usagePayload struct {
	SeriesData []struct {
		// readings for intervals the meter hasn't reported yet come
		// back as null
		Data []*float64 `json:"data"`
	} `json:"series_data"`
	ColumnFullDates []string `json:"column_fulldates"`
}

func parseUsage(ctx context.Context, body []byte) ([]usage.Interval, error) {
	if err := classifyBody(body); err != nil {
		return nil, err
	}

	var payload usagePayload
	err := json.Unmarshal(body, &payload)
	if err != nil {
		return nil, &FetchError{Reason: ReasonUnparsableResponse, Cause: err}
	}
	if len(payload.SeriesData) == 0 {
		// no data published for this window yet
		return nil, nil
	}

	points := payload.SeriesData[0].Data
	stamps := payload.ColumnFullDates
	n := min(len(points), len(stamps))

	var out []usage.Interval
	for i := 0; i < n; i++ {
		if points[i] == nil {
			continue
		}
		kwh := *points[i]
		if kwh < 0 {
			slog.WarnContext(ctx, "skipping negative reading", "timestamp", stamps[i], "kwh", kwh)
			continue
		}

		stamp, _, _ := strings.Cut(stamps[i], " GMT")
		t, err := time.ParseInLocation("2006-01-02 15:04:05", stamp, timezone.Location)
		if err != nil {
			return nil, &FetchError{Reason: ReasonUnparsableResponse, Cause: err}
		}

		out = append(out, usage.Interval{Time: t, KWH: kwh})
	}
	return out, nil
}
