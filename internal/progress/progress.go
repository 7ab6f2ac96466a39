package progress

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// NoExpiration keeps a snapshot until it is replaced or deleted.
const NoExpiration time.Duration = cache.NoExpiration

// Snapshot is the pollable state of one batch session.
type Snapshot struct {
	SessionID       string    `json:"sessionId"`
	RunID           string    `json:"runId,omitempty"`
	ProgressPercent int       `json:"progressPercent"`
	Message         string    `json:"message"`
	EventsTotal     int       `json:"eventsTotal"`
	EventsParsed    int       `json:"eventsParsed"`
	ArtistsFound    int       `json:"artistsFound"`
	LinksCreated    int       `json:"linksCreated"`
	StubsCreated    int       `json:"stubsCreated"`
	Completed       bool      `json:"completed"`
	Error           string    `json:"error,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Store keeps session snapshots with per-entry expiry.
type Store interface {
	// Put replaces the snapshot for sessionID. ttl of NoExpiration keeps it
	// until the next Put or Delete.
	Put(sessionID string, s Snapshot, ttl time.Duration)
	// Get returns the latest snapshot, or false when unknown or expired.
	Get(sessionID string) (Snapshot, bool)
	Delete(sessionID string)
}

// MemoryStore is a Store backed by an in-process TTL cache whose janitor
// sweeps expired sessions on an interval.
type MemoryStore struct {
	c *cache.Cache
}

// NewMemoryStore creates a store that sweeps expired entries every
// sweepInterval.
func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	return &MemoryStore{c: cache.New(cache.NoExpiration, sweepInterval)}
}

// Put stores s under sessionID.
func (m *MemoryStore) Put(sessionID string, s Snapshot, ttl time.Duration) {
	s.SessionID = sessionID
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now().UTC()
	}
	if ttl == 0 {
		ttl = NoExpiration
	}
	m.c.Set(sessionID, s, ttl)
}

// Get returns the snapshot for sessionID.
func (m *MemoryStore) Get(sessionID string) (Snapshot, bool) {
	v, ok := m.c.Get(sessionID)
	if !ok {
		return Snapshot{}, false
	}
	s, ok := v.(Snapshot)
	return s, ok
}

// Delete removes a session.
func (m *MemoryStore) Delete(sessionID string) {
	m.c.Delete(sessionID)
}

// Active returns how many stored sessions are still running.
func (m *MemoryStore) Active() int {
	n := 0
	for _, item := range m.c.Items() {
		if s, ok := item.Object.(Snapshot); ok && !s.Completed {
			n++
		}
	}
	return n
}

// Sweep removes expired sessions immediately.
func (m *MemoryStore) Sweep() {
	m.c.DeleteExpired()
}
