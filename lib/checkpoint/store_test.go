package checkpoint

import (
	"context"
	"testing"
	"time"

	"gridharvest/lib/timezone"
	"gridharvest/lib/usage"

	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) Store {
	store, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func at(hour, minute int) time.Time {
	return time.Date(2025, 1, 10, hour, minute, 0, 0, timezone.Location)
}

func TestFilterNew(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	day := usage.Day("2025-01-10")

	candidates := []usage.Interval{
		{Time: at(7, 45), KWH: 0.2},
		{Time: at(8, 0), KWH: 0.3},
		{Time: at(8, 15), KWH: 0.4},
		{Time: at(8, 30), KWH: 0.5},
	}

	// no checkpoint yet: everything is new
	fresh, err := store.FilterNew(ctx, day, candidates)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, candidates, fresh)

	err = store.Advance(ctx, day, at(8, 0))
	if err != nil {
		t.Fatal(err)
	}

	// only intervals strictly after 08:00 survive
	fresh, err = store.FilterNew(ctx, day, candidates)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, candidates[2:], fresh)
}

func TestAdvanceIsMonotonic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	day := usage.Day("2025-01-10")

	err := store.Advance(ctx, day, at(8, 30))
	if err != nil {
		t.Fatal(err)
	}

	// attempting to rewind must be a no-op
	err = store.Advance(ctx, day, at(8, 0))
	if err != nil {
		t.Fatal(err)
	}

	mark, ok, err := store.Get(ctx, day)
	if err != nil {
		t.Fatal(err)
	}
	require.True(t, ok)
	require.True(t, mark.Equal(at(8, 30)))
}

func TestGetMissingDay(t *testing.T) {
	store := newTestStore(t)

	_, ok, err := store.Get(context.Background(), usage.Day("1999-12-31"))
	if err != nil {
		t.Fatal(err)
	}
	require.False(t, ok)
}

func TestDaysAndLatest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, ok, err := store.Latest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.False(t, ok)

	err = store.Advance(ctx, usage.Day("2025-01-09"), at(23, 45).AddDate(0, 0, -1))
	if err != nil {
		t.Fatal(err)
	}
	err = store.Advance(ctx, usage.Day("2025-01-10"), at(8, 30))
	if err != nil {
		t.Fatal(err)
	}

	days, err := store.Days(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, []usage.Day{"2025-01-09", "2025-01-10"}, days)

	latest, ok, err := store.Latest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.True(t, ok)
	require.True(t, latest.Equal(at(8, 30)))
}
