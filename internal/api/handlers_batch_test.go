package api

import (
	"net/http"
	"testing"

	"github.com/sydlexius/lineup/internal/progress"
	"github.com/sydlexius/lineup/internal/run"
)

func TestBatch_StartAndPoll(t *testing.T) {
	env := newTestEnv(t, nil)
	env.sync(t, run.SyncArtists)
	env.sync(t, run.SyncEvents)

	w := env.do(t, http.MethodPost, "/api/v1/lineup/batch", `{"sessionId":"s1","limit":5}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	resp := decode[batchResponse](t, w)
	if !resp.Success || resp.SessionID != "s1" || resp.EventsFound != 1 {
		t.Errorf("response = %+v, want success for s1 with 1 event", resp)
	}

	var snap progress.Snapshot
	waitFor(t, func() bool {
		w := env.do(t, http.MethodGet, "/api/v1/lineup/batch?sessionId=s1", "")
		if w.Code != http.StatusOK {
			return false
		}
		snap = decode[progress.Snapshot](t, w)
		return snap.Completed
	})
	if snap.ProgressPercent != 100 {
		t.Errorf("progressPercent = %d, want 100", snap.ProgressPercent)
	}
	if snap.LinksCreated != 2 || snap.StubsCreated != 1 {
		t.Errorf("links = %d, stubs = %d, want 2 and 1", snap.LinksCreated, snap.StubsCreated)
	}
	if snap.Error != "" {
		t.Errorf("error = %q, want empty", snap.Error)
	}
}

func TestBatch_StartErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing session", `{"limit":5}`, http.StatusBadRequest},
		{"malformed body", `{"sessionId":`, http.StatusBadRequest},
		{"no events", `{"sessionId":"s2"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/lineup/batch", tt.body)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
			if resp := decode[batchResponse](t, w); resp.Success {
				t.Error("success = true, want false")
			}
		})
	}
}

func TestBatch_UnknownSession(t *testing.T) {
	env := newTestEnv(t, nil)

	if w := env.do(t, http.MethodGet, "/api/v1/lineup/batch?sessionId=nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("GET status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/lineup/batch", ""); w.Code != http.StatusBadRequest {
		t.Errorf("GET without session status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if w := env.do(t, http.MethodDelete, "/api/v1/lineup/batch?sessionId=nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("DELETE status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
