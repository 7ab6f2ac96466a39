package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/sydlexius/lineup/internal/run"
)

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil)

	if w := env.do(t, http.MethodGet, "/api/v1/health", ""); w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	w := env.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "lineup_batch_sessions_active") {
		t.Error("metrics missing batch session gauge")
	}
}

func TestArtistsAndEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	env.sync(t, run.SyncBoth)

	w := env.do(t, http.MethodGet, "/api/v1/artists?filter=stub", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d, want %d", w.Code, http.StatusOK)
	}
	if body := decode[map[string]any](t, w); body["total"] != float64(1) {
		t.Errorf("stub total = %v, want 1", body["total"])
	}

	a, err := env.artists.GetByExternalID(t.Context(), "101")
	if err != nil || a == nil {
		t.Fatalf("GetByExternalID: %v, %v", a, err)
	}
	w = env.do(t, http.MethodGet, "/api/v1/artists/"+a.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get artist status = %d, want %d", w.Code, http.StatusOK)
	}
	detail := decode[struct {
		Links []map[string]any `json:"links"`
	}](t, w)
	if len(detail.Links) != 1 || detail.Links[0]["event_title"] != "Opening Night" {
		t.Errorf("links = %v, want one link to Opening Night", detail.Links)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/artists/missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing artist status = %d, want %d", w.Code, http.StatusNotFound)
	}

	w = env.do(t, http.MethodGet, "/api/v1/events?venue=", "")
	events := decode[struct {
		Events []struct {
			ID string `json:"id"`
		} `json:"events"`
	}](t, w)
	if len(events.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(events.Events))
	}
	w = env.do(t, http.MethodGet, "/api/v1/events/"+events.Events[0].ID+"/links", "")
	links := decode[struct {
		Links []map[string]any `json:"links"`
	}](t, w)
	if len(links.Links) != 2 {
		t.Errorf("event links = %d, want 2", len(links.Links))
	}
	if w := env.do(t, http.MethodGet, "/api/v1/events/missing/links", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing event status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRunsAndChangelog(t *testing.T) {
	env := newTestEnv(t, nil)
	r := env.sync(t, run.SyncArtists)

	w := env.do(t, http.MethodGet, "/api/v1/runs/"+r.ID+"/logs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("logs status = %d, want %d", w.Code, http.StatusOK)
	}
	if body := decode[map[string]any](t, w); len(body["logs"].([]any)) == 0 {
		t.Error("expected progress log entries")
	}
	if w := env.do(t, http.MethodGet, "/api/v1/runs/"+r.ID+"/logs?after=x", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad cursor status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = env.do(t, http.MethodGet, "/api/v1/runs/"+r.ID+"/changes", "")
	if body := decode[map[string]any](t, w); len(body["changes"].([]any)) != 2 {
		t.Errorf("run changes = %v, want 2 entries", body["changes"])
	}

	w = env.do(t, http.MethodGet, "/api/v1/changelog/artist/101", "")
	if body := decode[map[string]any](t, w); len(body["changes"].([]any)) != 1 {
		t.Errorf("artist 101 changes = %v, want 1 entry", body["changes"])
	}
	if w := env.do(t, http.MethodGet, "/api/v1/changelog/venue/1", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad entity status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/runs/missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing run status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestEnrich_Disabled(t *testing.T) {
	env := newTestEnv(t, nil)
	env.sync(t, run.SyncArtists)
	a, _ := env.artists.GetByExternalID(t.Context(), "102")

	if w := env.do(t, http.MethodPost, "/api/v1/artists/"+a.ID+"/enrich", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestMaintenanceStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/api/v1/maintenance/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if body := decode[map[string]any](t, w); body["page_size"] == nil {
		t.Error("expected page_size in maintenance status")
	}
}
