// Package usage holds the value types shared between the portal
// fetcher, the checkpoint store and the sinks.
package usage

import "time"

// Interval is one fixed-width (15 minute) metering window. immutable
// once fetched, uniquely keyed by Time within a day.
type Interval struct {
	// start of the interval, in the portal's local timezone
	Time time.Time
	// non-negative consumption for the interval
	KWH float64
}

// Day identifies the calendar day a set of intervals belongs to,
// formatted 2006-01-02. it doubles as the checkpoint key and the CSV
// file name component.
type Day string

func DayOf(t time.Time) Day {
	return Day(t.Format("2006-01-02"))
}

func (d Day) String() string {
	return string(d)
}

// GroupByDay splits intervals into per-day buckets, preserving the
// input order within each bucket.
func GroupByDay(intervals []Interval) map[Day][]Interval {
	out := map[Day][]Interval{}
	for _, iv := range intervals {
		day := DayOf(iv.Time)
		out[day] = append(out[day], iv)
	}
	return out
}
