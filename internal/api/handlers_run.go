package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/sydlexius/lineup/internal/changelog"
	"github.com/sydlexius/lineup/internal/run"
)

// handleListRuns returns the most recent runs, newest first.
// GET /api/v1/runs?limit=
func (r *Router) handleListRuns(w http.ResponseWriter, req *http.Request) {
	runs, err := r.runService.List(req.Context(), intQuery(req, "limit", 20))
	if err != nil {
		r.logger.Error("listing runs", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleGetRun returns a single run with its counters.
// GET /api/v1/runs/{id}
func (r *Router) handleGetRun(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	got, err := r.runService.Get(req.Context(), id)
	if err != nil {
		if errors.Is(err, run.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		r.logger.Error("getting run", "run_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, got)
}

// handleRunLogs returns progress log entries of a run. Pass the last seen
// id as after to poll for new entries.
// GET /api/v1/runs/{id}/logs?after=&limit=
func (r *Router) handleRunLogs(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	var after int64
	if v := req.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid after cursor")
			return
		}
		after = n
	}

	logs, err := r.runService.ListLogs(req.Context(), id, after, intQuery(req, "limit", 200))
	if err != nil {
		r.logger.Error("listing run logs", "run_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": id, "logs": logs})
}

// handleRunChanges returns the change log entries a run produced.
// GET /api/v1/runs/{id}/changes
func (r *Router) handleRunChanges(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	entries, err := r.changeLogService.ListForRun(req.Context(), id)
	if err != nil {
		r.logger.Error("listing run changes", "run_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": id, "changes": entries})
}

// handleEntityChanges returns the change history of one artist or event.
// GET /api/v1/changelog/{entity}/{externalId}
func (r *Router) handleEntityChanges(w http.ResponseWriter, req *http.Request) {
	entity := changelog.EntityType(req.PathValue("entity"))
	if entity != changelog.EntityArtist && entity != changelog.EntityEvent {
		writeError(w, http.StatusBadRequest, "entity must be artist or event")
		return
	}
	externalID := req.PathValue("externalId")
	entries, err := r.changeLogService.ListForEntity(req.Context(), entity, externalID)
	if err != nil {
		r.logger.Error("listing entity changes", "entity", entity, "external_id", externalID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entity_type": entity,
		"external_id": externalID,
		"changes":     entries,
	})
}
