package deezer

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

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile("testdata/" + name)
	if err != nil {
		t.Fatalf("loading fixture %s: %v", name, err)
	}
	return data
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path != "/search/artist" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch r.URL.Query().Get("q") {
		case "no-results-query":
			w.Write([]byte(`{"data":[],"total":0}`)) //nolint:errcheck
		case "quota":
			w.Write([]byte(`{"error":{"type":"Exception","message":"Quota limit exceeded","code":4}}`)) //nolint:errcheck
		case "broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.Write(loadFixture(t, "search_amelie_lens.json")) //nolint:errcheck
		}
	}))
}

func newTestAdapter(t *testing.T, baseURL string) *Adapter {
	t.Helper()
	limiter := provider.NewRateLimiterMap()
	limiter.SetInterval(provider.NameDeezer, 0)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewWithBaseURL(limiter, logger, baseURL)
}

func TestName(t *testing.T) {
	a := newTestAdapter(t, "http://localhost")
	if a.Name() != provider.NameDeezer {
		t.Errorf("expected %q, got %q", provider.NameDeezer, a.Name())
	}
}

func TestEnrich_PicksBestMatch(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	a := newTestAdapter(t, srv.URL)

	e, err := a.Enrich(context.Background(), "amelie lens")
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if e.ProviderID != "4950161" {
		t.Errorf("ProviderID = %q, want 4950161", e.ProviderID)
	}
	if e.Popularity != 182004 {
		t.Errorf("Popularity = %d, want 182004", e.Popularity)
	}
	if e.Picture == "" {
		t.Error("expected XL picture")
	}
	if e.Provider != provider.NameDeezer {
		t.Errorf("Provider = %q, want deezer", e.Provider)
	}
}

func TestEnrich_NoResults(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	a := newTestAdapter(t, srv.URL)

	_, err := a.Enrich(context.Background(), "no-results-query")
	var nf *provider.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEnrich_RejectsWeakMatches(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	a := newTestAdapter(t, srv.URL)

	// The fixture only holds Amelie Lens entries, none of which score for this name.
	_, err := a.Enrich(context.Background(), "Charlotte de Witte")
	var nf *provider.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEnrich_UpstreamErrors(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	a := newTestAdapter(t, srv.URL)

	for _, q := range []string{"quota", "broken"} {
		_, err := a.Enrich(context.Background(), q)
		var ue *provider.ErrUpstreamUnavailable
		if !errors.As(err, &ue) {
			t.Errorf("Enrich(%q): expected ErrUpstreamUnavailable, got %v", q, err)
		}
	}
}

func TestPictureFor_SkipsPlaceholder(t *testing.T) {
	r := &artistResult{
		PictureXL:  "https://e-cdns-images.dzcdn.net/images/artist//1000x1000.jpg",
		PictureBig: "https://e-cdns-images.dzcdn.net/images/artist/abc/500x500.jpg",
	}
	if got := pictureFor(r); got != r.PictureBig {
		t.Errorf("pictureFor = %q, want big variant", got)
	}
}
