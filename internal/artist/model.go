package artist

import "time"

// Artist is a canonical performer record. Stub artists exist only because a
// lineup mention referenced an external id that the listing had not yet
// delivered; the next listing ingestion for that id clears the flag in place.
type Artist struct {
	ID              string     `json:"id"`
	ExternalID      string     `json:"external_id"`
	Title           string     `json:"title"`
	Subtitle        string     `json:"subtitle"`
	CountryLabel    string     `json:"country_label"`
	CountryCode     string     `json:"country_code"`
	URL             string     `json:"url"`
	ImageURL        string     `json:"image_url"`
	ContentHash     string     `json:"content_hash"`
	IsStub          bool       `json:"is_stub"`
	SourceReference string     `json:"source_reference,omitempty"`
	FirstRunID      string     `json:"first_run_id,omitempty"`
	LastRunID       string     `json:"last_run_id,omitempty"`
	FirstSeenAt     time.Time  `json:"first_seen_at"`
	LastUpdatedAt   time.Time  `json:"last_updated_at"`
	Enrichment      Enrichment `json:"enrichment"`
}

// Enrichment holds annotations written by the enrichment collaborator.
// These fields never feed the content hash.
type Enrichment struct {
	Provider   string     `json:"provider,omitempty"`
	ProviderID string     `json:"provider_id,omitempty"`
	Popularity int        `json:"popularity"`
	URL        string     `json:"url,omitempty"`
	Image      string     `json:"image,omitempty"`
	EnrichedAt *time.Time `json:"enriched_at,omitempty"`
}

// HashFields returns the canonical field tuple, in hashing order.
func (a *Artist) HashFields() []string {
	return []string{a.Title, a.Subtitle, a.CountryLabel, a.CountryCode, a.URL, a.ImageURL}
}

// Snapshot returns the canonical fields keyed by name, for diffs and audit
// records.
func (a *Artist) Snapshot() map[string]string {
	return map[string]string{
		"title":         a.Title,
		"subtitle":      a.Subtitle,
		"country_label": a.CountryLabel,
		"country_code":  a.CountryCode,
		"url":           a.URL,
		"image_url":     a.ImageURL,
	}
}
