package deezer

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

	"github.com/sydlexius/lineup/internal/match"
	"github.com/sydlexius/lineup/internal/provider"
)

const defaultBaseURL = "https://api.deezer.com"

// Adapter implements provider.Enricher for Deezer's public API.
// No authentication is required.
type Adapter struct {
	client   *http.Client
	limiter  *provider.RateLimiterMap
	logger   *slog.Logger
	baseURL  string
	minScore float64
}

// New creates a Deezer adapter with the default base URL.
func New(limiter *provider.RateLimiterMap, logger *slog.Logger) *Adapter {
	return NewWithBaseURL(limiter, logger, defaultBaseURL)
}

// NewWithBaseURL creates a Deezer adapter with a custom base URL (for testing).
func NewWithBaseURL(limiter *provider.RateLimiterMap, logger *slog.Logger, baseURL string) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{
		client:   &http.Client{Timeout: 10 * time.Second},
		limiter:  limiter,
		logger:   logger.With(slog.String("provider", "deezer")),
		baseURL:  strings.TrimRight(baseURL, "/"),
		minScore: 0.60,
	}
}

// WithMinConfidence sets the lowest name score a search hit needs to be
// accepted as the artist.
func (a *Adapter) WithMinConfidence(v float64) *Adapter {
	a.minScore = v
	return a
}

// Name returns the upstream identifier.
func (a *Adapter) Name() provider.UpstreamName { return provider.NameDeezer }

// Enrich searches Deezer by artist name and returns the best-scoring hit.
// Ties on name score go to the result with more fans.
func (a *Adapter) Enrich(ctx context.Context, name string) (*provider.Enrichment, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &provider.ErrNotFound{Upstream: provider.NameDeezer, ID: name}
	}

	results, err := a.search(ctx, name)
	if err != nil {
		return nil, err
	}

	var best *artistResult
	bestScore := 0.0
	for i := range results {
		r := &results[i]
		s := match.Score(name, r.Name)
		if s <= a.minScore {
			continue
		}
		if best == nil || s > bestScore || (s == bestScore && r.NbFan > best.NbFan) {
			best, bestScore = r, s
		}
	}
	if best == nil {
		a.logger.Debug("no acceptable search result",
			slog.String("query", name),
			slog.Int("results", len(results)))
		return nil, &provider.ErrNotFound{Upstream: provider.NameDeezer, ID: name}
	}

	return &provider.Enrichment{
		Provider:   provider.NameDeezer,
		ProviderID: strconv.Itoa(best.ID),
		Name:       best.Name,
		Popularity: best.NbFan,
		Link:       best.Link,
		Picture:    pictureFor(best),
	}, nil
}

func (a *Adapter) search(ctx context.Context, name string) ([]artistResult, error) {
	if err := a.limiter.Wait(ctx, provider.NameDeezer); err != nil {
		return nil, &provider.ErrUpstreamUnavailable{
			Upstream: provider.NameDeezer,
			Cause:    fmt.Errorf("rate limiter: %w", err),
		}
	}

	params := url.Values{
		"q":     {name},
		"limit": {"10"},
	}
	body, err := a.doRequest(ctx, a.baseURL+"/search/artist?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing search response: %w", err)
	}
	if resp.Error != nil {
		return nil, &provider.ErrUpstreamUnavailable{
			Upstream: provider.NameDeezer,
			Cause:    fmt.Errorf("%s: %s", resp.Error.Type, resp.Error.Message),
		}
	}

	a.logger.Debug("artist search completed",
		slog.String("query", name),
		slog.Int("results", len(resp.Data)))
	return resp.Data, nil
}

// doRequest executes a GET request and returns the response body.
func (a *Adapter) doRequest(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req) //nolint:gosec // URL constructed from adapter config and escaped inputs
	if err != nil {
		return nil, &provider.ErrUpstreamUnavailable{
			Upstream: provider.NameDeezer,
			Cause:    err,
		}
	}
	defer resp.Body.Close() //nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, &provider.ErrNotFound{Upstream: provider.NameDeezer, ID: reqURL}
	case http.StatusTooManyRequests:
		return nil, &provider.ErrUpstreamUnavailable{
			Upstream:   provider.NameDeezer,
			Cause:      fmt.Errorf("rate limited by server"),
			StatusCode: resp.StatusCode,
		}
	default:
		return nil, &provider.ErrUpstreamUnavailable{
			Upstream:   provider.NameDeezer,
			Cause:      fmt.Errorf("unexpected status %d", resp.StatusCode),
			StatusCode: resp.StatusCode,
		}
	}

	return io.ReadAll(io.LimitReader(resp.Body, 1*1024*1024))
}

// pictureFor prefers the XL variant and skips Deezer's generic placeholder,
// which has an empty hash segment ("/images/artist//").
func pictureFor(r *artistResult) string {
	for _, u := range []string{r.PictureXL, r.PictureBig, r.Picture} {
		if u != "" && !strings.Contains(u, "/images/artist//") {
			return u
		}
	}
	return ""
}
