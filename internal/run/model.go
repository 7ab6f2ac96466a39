package run

import "time"

// SyncType selects which pipeline stages a run executes.
type SyncType string

// Sync types. Both runs artists, then events, then linking.
const (
	SyncArtists SyncType = "artists"
	SyncEvents  SyncType = "events"
	SyncLinking SyncType = "linking"
	SyncBoth    SyncType = "both"
)

// ParseSyncType validates s. An empty string means SyncBoth.
func ParseSyncType(s string) (SyncType, bool) {
	switch SyncType(s) {
	case "":
		return SyncBoth, true
	case SyncArtists, SyncEvents, SyncLinking, SyncBoth:
		return SyncType(s), true
	default:
		return "", false
	}
}

// Status is a run's lifecycle state.
type Status string

// Run states. Running is the only non-terminal state.
const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusPartial Status = "partial"
)

// FinalStatus decides the terminal state: a fatal error means error, any
// recorded per-item error means partial, otherwise success.
func FinalStatus(fatal error, errorCount int) Status {
	switch {
	case fatal != nil:
		return StatusError
	case errorCount > 0:
		return StatusPartial
	default:
		return StatusSuccess
	}
}

// Counts are the per-run statistics.
type Counts struct {
	PagesFetched   int `json:"pages_fetched"`
	ItemsProcessed int `json:"items_processed"`
	Created        int `json:"created"`
	Updated        int `json:"updated"`
	Unchanged      int `json:"unchanged"`
	LinksAdded     int `json:"links_added"`
	StubsCreated   int `json:"stubs_created"`
	HighConfidence int `json:"high_confidence"`
	Errors         int `json:"errors"`
}

// Add accumulates other into c.
func (c *Counts) Add(other Counts) {
	c.PagesFetched += other.PagesFetched
	c.ItemsProcessed += other.ItemsProcessed
	c.Created += other.Created
	c.Updated += other.Updated
	c.Unchanged += other.Unchanged
	c.LinksAdded += other.LinksAdded
	c.StubsCreated += other.StubsCreated
	c.HighConfidence += other.HighConfidence
	c.Errors += other.Errors
}

// Run is one pipeline execution. It is immutable once it leaves running.
type Run struct {
	ID              string     `json:"id"`
	SyncType        SyncType   `json:"sync_type"`
	Status          Status     `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Counts          Counts     `json:"counts"`
	ProgressPercent int        `json:"progress_percent"`
	ErrorMessage    string     `json:"error_message,omitempty"`
}

// Level is the severity of a progress log line.
type Level string

// Progress log levels.
const (
	LevelInfo    Level = "info"
	LevelWarn    Level = "warn"
	LevelError   Level = "error"
	LevelSuccess Level = "success"
)

// LogEntry is an append-only, human-readable progress line tied to a run.
type LogEntry struct {
	ID        int64          `json:"id"`
	RunID     string         `json:"run_id"`
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
