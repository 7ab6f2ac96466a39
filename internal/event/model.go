package event

import (
	"strconv"
	"time"
)

// Event is a festival program entry.
type Event struct {
	ID             string     `json:"id"`
	ExternalID     string     `json:"external_id"`
	Title          string     `json:"title"`
	Subtitle       string     `json:"subtitle"`
	StartsAt       *time.Time `json:"starts_at,omitempty"`
	EndsAt         *time.Time `json:"ends_at,omitempty"`
	Venue          string     `json:"venue"`
	Category       string     `json:"category"`
	SoldOut        bool       `json:"sold_out"`
	URL            string     `json:"url"`
	ImageURL       string     `json:"image_url"`
	ContentHash    string     `json:"content_hash"`
	LineupParsed   bool       `json:"lineup_parsed"`
	LineupParsedAt *time.Time `json:"lineup_parsed_at,omitempty"`
	FirstRunID     string     `json:"first_run_id,omitempty"`
	LastRunID      string     `json:"last_run_id,omitempty"`
	FirstSeenAt    time.Time  `json:"first_seen_at"`
	LastUpdatedAt  time.Time  `json:"last_updated_at"`
}

// HashFields returns the canonical field tuple, in hashing order. The lineup
// flag is derived state and stays out of it.
func (e *Event) HashFields() []string {
	return []string{
		e.Title, e.Subtitle, formatOptional(e.StartsAt), formatOptional(e.EndsAt),
		e.Venue, e.Category, strconv.FormatBool(e.SoldOut), e.URL, e.ImageURL,
	}
}

// Snapshot returns the canonical fields keyed by name.
func (e *Event) Snapshot() map[string]string {
	return map[string]string{
		"title":     e.Title,
		"subtitle":  e.Subtitle,
		"starts_at": formatOptional(e.StartsAt),
		"ends_at":   formatOptional(e.EndsAt),
		"venue":     e.Venue,
		"category":  e.Category,
		"sold_out":  strconv.FormatBool(e.SoldOut),
		"url":       e.URL,
		"image_url": e.ImageURL,
	}
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// ListParams configures paginated event queries. Events are always ordered
// by start time, then title.
type ListParams struct {
	Page     int
	PageSize int
	Venue    string
	Search   string
	Unparsed bool
}

// Validate normalizes list parameters.
func (p *ListParams) Validate() {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 || p.PageSize > 200 {
		p.PageSize = 50
	}
}
