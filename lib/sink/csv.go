package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gridharvest/lib/usage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("sink")

// CSVSink appends intervals to one file per calendar day,
// usage_<day>.csv, with a `timestamp,usage_kwh` header written once.
// rows already present in the file are never appended again, so
// re-delivery after a partial cycle is harmless.
type CSVSink struct {
	Dir string
}

func (CSVSink) Name() string {
	return "csv"
}

func (s CSVSink) path(day usage.Day) string {
	return filepath.Join(s.Dir, fmt.Sprintf("usage_%s.csv", day))
}

func (s CSVSink) Write(ctx context.Context, day usage.Day, intervals []usage.Interval) error {
	_, span := tracer.Start(ctx, "csv:Write")
	defer span.End()

	err := os.MkdirAll(s.Dir, 0o755)
	if err != nil {
		return err
	}

	path := s.path(day)
	seen, hasHeader, err := existingTimestamps(path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read existing rows")
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if !hasHeader {
		err = w.Write([]string{"timestamp", "usage_kwh"})
		if err != nil {
			return err
		}
	}

	for _, iv := range intervals {
		stamp := iv.Time.Format(time.RFC3339)
		if seen[stamp] {
			continue
		}
		seen[stamp] = true

		err = w.Write([]string{stamp, strconv.FormatFloat(iv.KWH, 'f', -1, 64)})
		if err != nil {
			return err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to flush csv rows")
		return err
	}
	return f.Sync()
}

func existingTimestamps(path string) (seen map[string]bool, hasHeader bool, err error) {
	seen = map[string]bool{}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return seen, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, false, err
	}
	for i, row := range rows {
		if i == 0 || len(row) == 0 {
			// header
			continue
		}
		seen[row[0]] = true
	}
	return seen, len(rows) > 0, nil
}
