package usage

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Outcome classifies a recorded call.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeCacheHit Outcome = "cache_hit"
	OutcomeFailure  Outcome = "failure"
)

// Record is one append-only usage row.
type Record struct {
	CallID         string
	Context        string
	Model          string
	TokensUsed     int64
	CostEstimate   float64
	ProcessingTime time.Duration
	Timestamp      time.Time
	Outcome        Outcome
}

// NewCallID returns a new lexically sortable call identifier.
func NewCallID() string {
	return ulid.Make().String()
}
