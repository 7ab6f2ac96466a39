package lineup

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/sydlexius/lineup/internal/provider"
)

func newTestFetcher(t *testing.T) *Fetcher {
	t.Helper()
	limiter := provider.NewRateLimiterMap()
	limiter.SetInterval(provider.NameLineup, 0)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewFetcher(FetcherConfig{UserAgent: "lineup-test"}, NewParser("artists"), limiter, logger)
}

func TestFetchLineup(t *testing.T) {
	page, err := os.ReadFile("testdata/lineup_container.html")
	if err != nil {
		t.Fatalf("reading fixture: %v", err)
	}
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		switch r.URL.Path {
		case "/events/mainstage-friday/9001/":
			w.Header().Set("Content-Type", "text/html")
			w.Write(page) //nolint:errcheck
		case "/events/gone/1/":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	ctx := context.Background()

	res, err := f.FetchLineup(ctx, srv.URL+"/events/mainstage-friday/9001/")
	if err != nil {
		t.Fatalf("FetchLineup: %v", err)
	}
	if len(res.Mentions) != 3 {
		t.Errorf("len(Mentions) = %d, want 3", len(res.Mentions))
	}
	if res.Mentions[0].ProfileURL != srv.URL+"/artists/amelie-lens/101/" {
		t.Errorf("ProfileURL = %q, want resolved against page", res.Mentions[0].ProfileURL)
	}
	if gotUA != "lineup-test" {
		t.Errorf("User-Agent = %q, want lineup-test", gotUA)
	}

	_, err = f.FetchLineup(ctx, srv.URL+"/events/gone/1/")
	var nf *provider.ErrNotFound
	if !errors.As(err, &nf) {
		t.Errorf("404 err = %v, want ErrNotFound", err)
	}

	_, err = f.FetchLineup(ctx, srv.URL+"/events/broken/2/")
	var ue *provider.ErrUpstreamUnavailable
	if !errors.As(err, &ue) || ue.StatusCode != http.StatusInternalServerError {
		t.Errorf("500 err = %v, want ErrUpstreamUnavailable", err)
	}
}
