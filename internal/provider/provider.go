package provider

import (
	"context"
	"fmt"
	"time"
)

// UpstreamName identifies a remote system the pipeline talks to.
type UpstreamName string

// Known upstream names.
const (
	NameListing UpstreamName = "listing"
	NameLineup  UpstreamName = "lineup"
	NameDeezer  UpstreamName = "deezer"
)

// AllUpstreamNames returns all known upstream names in display order.
func AllUpstreamNames() []UpstreamName {
	return []UpstreamName{NameListing, NameLineup, NameDeezer}
}

// DisplayName returns a human-readable name for the upstream.
func (n UpstreamName) DisplayName() string {
	switch n {
	case NameListing:
		return "Festival listing"
	case NameLineup:
		return "Event detail pages"
	case NameDeezer:
		return "Deezer"
	default:
		return string(n)
	}
}

// Enrichment is the annotation an enrichment collaborator returns for one
// artist. None of these fields take part in the artist content hash.
type Enrichment struct {
	Provider   UpstreamName `json:"provider"`
	ProviderID string       `json:"provider_id"`
	Name       string       `json:"name"`
	Popularity int          `json:"popularity"`
	Link       string       `json:"link,omitempty"`
	Picture    string       `json:"picture,omitempty"`
}

// Enricher looks up popularity data for an artist by name.
type Enricher interface {
	// Name returns the upstream identifier.
	Name() UpstreamName

	// Enrich returns the best match for name, or ErrNotFound when the
	// upstream has no acceptable candidate.
	Enrich(ctx context.Context, name string) (*Enrichment, error)
}

// ErrUpstreamUnavailable indicates a transient failure (rate-limited, timeout, server error).
type ErrUpstreamUnavailable struct {
	Upstream   UpstreamName
	Cause      error
	StatusCode int
	RetryAfter time.Duration
}

func (e *ErrUpstreamUnavailable) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s unavailable (status %d): %v", e.Upstream, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("upstream %s unavailable: %v", e.Upstream, e.Cause)
}

func (e *ErrUpstreamUnavailable) Unwrap() error { return e.Cause }

// ErrNotFound indicates the upstream has no data for the requested resource.
type ErrNotFound struct {
	Upstream UpstreamName
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("upstream %s: %s not found", e.Upstream, e.ID)
}
