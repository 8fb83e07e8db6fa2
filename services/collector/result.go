package collector

import "time"

type Status string

const (
	// every new interval reached every sink
	StatusSuccess Status = "success"
	// the primary sink (and the checkpoints) are up to date but at
	// least one secondary sink failed
	StatusPartial Status = "partial"
	// the cycle produced nothing durable, or only some days landed
	StatusFailed Status = "failed"
)

// Result summarizes one collection cycle.
type Result struct {
	AttemptedAt      time.Time
	Status           Status
	IntervalsWritten int
	// ErrorDetail carries the failure cause for failed cycles
	ErrorDetail string
	// SinkErrors maps sink name to its write error, when any
	SinkErrors map[string]string
}
