package lineup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sydlexius/lineup/internal/provider"
)

// FetcherConfig configures detail page retrieval.
type FetcherConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher downloads event detail pages and parses their lineups. Requests
// share the limiter's lineup interval, so consecutive pages are spaced even
// across batches.
type Fetcher struct {
	client    *http.Client
	limiter   *provider.RateLimiterMap
	parser    *Parser
	logger    *slog.Logger
	userAgent string
}

// NewFetcher creates a detail page fetcher.
func NewFetcher(cfg FetcherConfig, parser *Parser, limiter *provider.RateLimiterMap, logger *slog.Logger) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		limiter:   limiter,
		parser:    parser,
		logger:    logger.With(slog.String("component", "lineup")),
		userAgent: cfg.UserAgent,
	}
}

// FetchLineup downloads pageURL and returns the mentions found on it. A page
// without a discoverable lineup yields an empty result, not an error.
func (f *Fetcher) FetchLineup(ctx context.Context, pageURL string) (Result, error) {
	if err := f.limiter.Wait(ctx, provider.NameLineup); err != nil {
		return Result{}, &provider.ErrUpstreamUnavailable{
			Upstream: provider.NameLineup,
			Cause:    fmt.Errorf("rate limiter: %w", err),
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("building request for %s: %w", pageURL, err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req) //nolint:gosec // URL comes from the stored event record
	if err != nil {
		return Result{}, &provider.ErrUpstreamUnavailable{Upstream: provider.NameLineup, Cause: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Result{}, &provider.ErrNotFound{Upstream: provider.NameLineup, ID: pageURL}
	case resp.StatusCode != http.StatusOK:
		return Result{}, &provider.ErrUpstreamUnavailable{
			Upstream:   provider.NameLineup,
			Cause:      fmt.Errorf("unexpected status %d for %s", resp.StatusCode, pageURL),
			StatusCode: resp.StatusCode,
		}
	}

	res, err := f.parser.Parse(io.LimitReader(resp.Body, 4*1024*1024), pageURL)
	if err != nil {
		return Result{}, err
	}
	f.logger.Debug("lineup parsed",
		slog.String("url", pageURL),
		slog.String("strategy", res.Strategy),
		slog.Int("mentions", len(res.Mentions)))
	return res, nil
}
