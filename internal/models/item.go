package models

type ItemStatus string

const (
	ItemStatusPending   ItemStatus = "pending"
	ItemStatusClaimed   ItemStatus = "claimed"
	ItemStatusCompleted ItemStatus = "completed"
	ItemStatusFailed    ItemStatus = "failed"
)

// WorkItem is one distributable unit of work, e.g. a single test case.
type WorkItem struct {
	ID       int64
	Name     string
	Suite    string
	Location string
	Status   ItemStatus
}

// SeedItem is the ingestion-side shape of a work item, before the store
// assigns identity and status.
type SeedItem struct {
	Name     string `json:"name" yaml:"name"`
	Suite    string `json:"suite" yaml:"suite"`
	Location string `json:"location" yaml:"location"`
}

// Assignment is what a successful claim hands to a worker.
type Assignment struct {
	AttemptID string `json:"attempt_id"`
	ItemID    int64  `json:"item_id"`
	Name      string `json:"name"`
	Suite     string `json:"suite"`
	Location  string `json:"location"`
}

// StatusCounts is a single consistent snapshot of the catalog.
type StatusCounts struct {
	Pending   int `json:"pending"`
	Claimed   int `json:"claimed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// Terminal reports whether every item has reached a terminal status.
func (c StatusCounts) Terminal() bool {
	return c.Total > 0 && c.Pending == 0 && c.Claimed == 0
}
