package listing

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedRecord marks an upstream record that failed boundary validation.
var ErrMalformedRecord = errors.New("malformed record")

// FlexibleID is an external identifier the listing may send as a JSON number
// or a JSON string.
type FlexibleID string

// UnmarshalJSON accepts strings, integral numbers and null.
func (f *FlexibleID) UnmarshalJSON(raw []byte) error {
	if len(raw) == 0 || string(raw) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		*f = FlexibleID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %s", raw)
	}
	if i, err := n.Int64(); err == nil {
		*f = FlexibleID(strconv.FormatInt(i, 10))
		return nil
	}
	return fmt.Errorf("id must be integral: %s", raw)
}

// Country is the optional country block attached to an artist.
type Country struct {
	Label string `json:"label"`
	Code  string `json:"code"`
}

// RawArtist is one artist record as delivered by the listing endpoint.
type RawArtist struct {
	ID       FlexibleID `json:"id"`
	Title    string     `json:"title"`
	Subtitle string     `json:"subtitle"`
	Country  *Country   `json:"country,omitempty"`
	URL      string     `json:"url"`
	Image    string     `json:"image"`

	decodeErr error
}

// Validate checks the fields the pipeline depends on.
func (r RawArtist) Validate() error {
	if r.decodeErr != nil {
		return fmt.Errorf("artist %s: %v: %w", displayID(r.ID), r.decodeErr, ErrMalformedRecord)
	}
	if r.ID == "" {
		return fmt.Errorf("artist without id: %w", ErrMalformedRecord)
	}
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("artist %s without title: %w", r.ID, ErrMalformedRecord)
	}
	if err := validURL(r.URL); err != nil {
		return fmt.Errorf("artist %s url: %v: %w", r.ID, err, ErrMalformedRecord)
	}
	return nil
}

// CountryLabel returns the country label or "".
func (r RawArtist) CountryLabel() string {
	if r.Country == nil {
		return ""
	}
	return strings.TrimSpace(r.Country.Label)
}

// CountryCode returns the upper-cased country code or "".
func (r RawArtist) CountryCode() string {
	if r.Country == nil {
		return ""
	}
	return strings.ToUpper(strings.TrimSpace(r.Country.Code))
}

// RawEvent is one event record as delivered by the listing endpoint.
type RawEvent struct {
	ID       FlexibleID `json:"id"`
	Title    string     `json:"title"`
	Subtitle string     `json:"subtitle"`
	Start    string     `json:"start"`
	End      string     `json:"end"`
	Venue    string     `json:"venue"`
	Category string     `json:"category"`
	SoldOut  bool       `json:"sold_out"`
	URL      string     `json:"url"`
	Image    string     `json:"image"`

	decodeErr error
}

// Validate checks identifiers, timestamps and URLs.
func (r RawEvent) Validate() error {
	if r.decodeErr != nil {
		return fmt.Errorf("event %s: %v: %w", displayID(r.ID), r.decodeErr, ErrMalformedRecord)
	}
	if r.ID == "" {
		return fmt.Errorf("event without id: %w", ErrMalformedRecord)
	}
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("event %s without title: %w", r.ID, ErrMalformedRecord)
	}
	start, err := ParseTimestamp(r.Start)
	if err != nil {
		return fmt.Errorf("event %s start: %v: %w", r.ID, err, ErrMalformedRecord)
	}
	end, err := ParseTimestamp(r.End)
	if err != nil {
		return fmt.Errorf("event %s end: %v: %w", r.ID, err, ErrMalformedRecord)
	}
	if start != nil && end != nil && end.Before(*start) {
		return fmt.Errorf("event %s ends before it starts: %w", r.ID, ErrMalformedRecord)
	}
	if err := validURL(r.URL); err != nil {
		return fmt.Errorf("event %s url: %v: %w", r.ID, err, ErrMalformedRecord)
	}
	return nil
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp parses the timestamp formats seen in the listing. An empty
// string yields nil. Zone-less values are read as UTC.
func ParseTimestamp(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized timestamp %q", s)
}

func displayID(id FlexibleID) string {
	if id == "" {
		return "(no id)"
	}
	return string(id)
}

func validURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return nil
}
