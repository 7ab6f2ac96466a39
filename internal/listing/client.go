package listing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sydlexius/lineup/internal/provider"
)

// Section selects which half of the listing a request targets.
type Section string

// Listing sections.
const (
	SectionArtists Section = "artists"
	SectionEvents  Section = "events"
)

// Query holds the filter parameters sent with every page request.
type Query struct {
	FromDate   string
	ToDate     string
	TypeFilter string
}

// ClientConfig configures a listing Client.
type ClientConfig struct {
	BaseURL     string
	ArtistsPath string
	EventsPath  string
	Timeout     time.Duration
}

// Client fetches pages from the remote festival listing.
type Client struct {
	client      *http.Client
	limiter     *provider.RateLimiterMap
	logger      *slog.Logger
	baseURL     string
	artistsPath string
	eventsPath  string
}

// NewClient creates a listing client. Requests are spaced by the limiter's
// listing interval.
func NewClient(cfg ClientConfig, limiter *provider.RateLimiterMap, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		client:      &http.Client{Timeout: timeout},
		limiter:     limiter,
		logger:      logger.With(slog.String("component", "listing")),
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		artistsPath: cfg.ArtistsPath,
		eventsPath:  cfg.EventsPath,
	}
}

type pageResponse struct {
	Data []json.RawMessage `json:"data"`
}

// FetchArtists retrieves one page of artists. Pages are numbered from 1.
// An item that cannot be decoded is returned carrying its decode error so
// that Validate rejects it; the rest of the page is kept.
func (c *Client) FetchArtists(ctx context.Context, page int, q Query) ([]RawArtist, error) {
	raws, err := c.fetchPage(ctx, c.artistsPath, SectionArtists, page, q)
	if err != nil {
		return nil, err
	}
	items := make([]RawArtist, 0, len(raws))
	for i, raw := range raws {
		var a RawArtist
		if err := json.Unmarshal(raw, &a); err != nil {
			c.logUndecodable(SectionArtists, page, i, err)
			a = RawArtist{ID: rawID(raw), decodeErr: err}
		}
		items = append(items, a)
	}
	return items, nil
}

// FetchEvents retrieves one page of events. Pages are numbered from 1.
// Undecodable items are handled as in FetchArtists.
func (c *Client) FetchEvents(ctx context.Context, page int, q Query) ([]RawEvent, error) {
	raws, err := c.fetchPage(ctx, c.eventsPath, SectionEvents, page, q)
	if err != nil {
		return nil, err
	}
	items := make([]RawEvent, 0, len(raws))
	for i, raw := range raws {
		var e RawEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			c.logUndecodable(SectionEvents, page, i, err)
			e = RawEvent{ID: rawID(raw), decodeErr: err}
		}
		items = append(items, e)
	}
	return items, nil
}

func (c *Client) logUndecodable(section Section, page, index int, err error) {
	c.logger.Warn("undecodable listing item",
		slog.String("section", string(section)),
		slog.Int("page", page),
		slog.Int("index", index),
		slog.String("error", err.Error()))
}

// rawID recovers the id of an item that failed to decode, for logging.
func rawID(raw json.RawMessage) FlexibleID {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ""
	}
	idRaw, ok := fields["id"]
	if !ok {
		return ""
	}
	var id FlexibleID
	if err := id.UnmarshalJSON(idRaw); err == nil {
		return id
	}
	return FlexibleID(strings.Trim(strings.TrimSpace(string(idRaw)), `"`))
}

func (c *Client) fetchPage(ctx context.Context, path string, section Section, page int, q Query) ([]json.RawMessage, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("listing base url is not configured")
	}
	if err := c.limiter.Wait(ctx, provider.NameListing); err != nil {
		return nil, &provider.ErrUpstreamUnavailable{
			Upstream: provider.NameListing,
			Cause:    fmt.Errorf("rate limiter: %w", err),
		}
	}

	params := url.Values{
		"page":    {strconv.Itoa(page)},
		"section": {string(section)},
	}
	if q.FromDate != "" {
		params.Set("fromDate", q.FromDate)
	}
	if q.ToDate != "" {
		params.Set("toDate", q.ToDate)
	}
	if q.TypeFilter != "" {
		params.Set("typeFilter", q.TypeFilter)
	}
	reqURL := c.baseURL + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req) //nolint:gosec // URL built from operator config
	if err != nil {
		return nil, &provider.ErrUpstreamUnavailable{Upstream: provider.NameListing, Cause: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, &provider.ErrUpstreamUnavailable{
			Upstream:   provider.NameListing,
			Cause:      fmt.Errorf("unexpected status %d for %s page %d", resp.StatusCode, section, page),
			StatusCode: resp.StatusCode,
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8*1024*1024))
	if err != nil {
		return nil, &provider.ErrUpstreamUnavailable{Upstream: provider.NameListing, Cause: err}
	}
	var out pageResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decoding %s page %d: %w", section, page, err)
	}

	c.logger.Debug("listing page fetched",
		slog.String("section", string(section)),
		slog.Int("page", page),
		slog.Int("items", len(out.Data)))
	return out.Data, nil
}
