package models

import "time"

type AttemptOutcome string

const (
	OutcomeActive    AttemptOutcome = "active"
	OutcomeCompleted AttemptOutcome = "completed"
	OutcomeFailed    AttemptOutcome = "failed"
)

// Attempt is one worker's claim-to-finish record for a WorkItem. An item
// accumulates attempts over time (e.g. after a lease-expiry reclaim), but at
// most one may be active at once.
type Attempt struct {
	ID         string
	ItemID     int64
	WorkerID   string
	ClaimedAt  time.Time
	FinishedAt *time.Time
	Outcome    AttemptOutcome
	Report     string
}
