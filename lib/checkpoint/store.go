// Package checkpoint tracks, per calendar day, the timestamp of the
// last interval that was confirmed written. the checkpoint bounds fetch
// windows and filters re-fetched intervals so nothing is ever reported
// twice. checkpoints only move forward; deleting the database file is
// the documented way to force a full re-sync.
package checkpoint

import (
	"context"
	"database/sql"
	"time"

	"gridharvest/lib/checkpoint/db"
	"gridharvest/lib/usage"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func NewStore(database *sql.DB) (Store, error) {
	_, err := database.Exec(db.Schema)
	if err != nil {
		return Store{}, err
	}
	return Store{db: database}, nil
}

func Open(path string) (Store, error) {
	database, err := sql.Open("sqlite", path)
	if err != nil {
		return Store{}, err
	}
	return NewStore(database)
}

// Get returns the checkpoint for the day, reported as ok=false when the
// day has never been written.
func (s Store) Get(ctx context.Context, day usage.Day) (time.Time, bool, error) {
	var lastWritten int64
	err := s.db.QueryRowContext(
		ctx,
		`SELECT last_written FROM checkpoints WHERE day = ?`,
		day.String(),
	).Scan(&lastWritten)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(lastWritten, 0), true, nil
}

// FilterNew returns only the candidates strictly after the day's
// checkpoint, or all of them if the day has no checkpoint yet.
func (s Store) FilterNew(ctx context.Context, day usage.Day, candidates []usage.Interval) ([]usage.Interval, error) {
	mark, ok, err := s.Get(ctx, day)
	if err != nil {
		return nil, err
	}
	if !ok {
		return candidates, nil
	}

	var out []usage.Interval
	for _, iv := range candidates {
		if iv.Time.After(mark) {
			out = append(out, iv)
		}
	}
	return out, nil
}

// Advance moves the day's checkpoint forward to ts. a ts at or behind
// the stored checkpoint is a no-op, checkpoints never rewind.
func (s Store) Advance(ctx context.Context, day usage.Day, ts time.Time) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO checkpoints (day, last_written) VALUES (?, ?)
		 ON CONFLICT (day) DO UPDATE SET last_written = excluded.last_written
		 WHERE excluded.last_written > checkpoints.last_written`,
		day.String(), ts.Unix(),
	)
	return err
}

// Days lists every day that has a checkpoint, ascending.
func (s Store) Days(ctx context.Context) ([]usage.Day, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT day FROM checkpoints ORDER BY day ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []usage.Day
	for rows.Next() {
		var day string
		err := rows.Scan(&day)
		if err != nil {
			return nil, err
		}
		out = append(out, usage.Day(day))
	}
	return out, rows.Err()
}

// Latest returns the most recent checkpoint timestamp across every
// tracked day, ok=false when nothing has ever been written.
func (s Store) Latest(ctx context.Context) (time.Time, bool, error) {
	var lastWritten int64
	err := s.db.QueryRowContext(
		ctx,
		`SELECT last_written FROM checkpoints ORDER BY last_written DESC LIMIT 1`,
	).Scan(&lastWritten)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(lastWritten, 0), true, nil
}
