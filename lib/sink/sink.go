// Package sink fans collected intervals out to their destinations.
// sinks are independent of each other: each reports its own failure and
// a broken secondary never blocks the primary.
package sink

import (
	"context"

	"gridharvest/lib/usage"
)

type Sink interface {
	Name() string
	// Write delivers the day's new intervals. it must be safe to call
	// again with intervals that were already delivered: re-delivery
	// never produces duplicates in the destination.
	Write(ctx context.Context, day usage.Day, intervals []usage.Interval) error
}
