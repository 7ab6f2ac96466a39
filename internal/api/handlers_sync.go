package api

import (
	"errors"
	"net/http"

	"github.com/sydlexius/lineup/internal/reconcile"
	"github.com/sydlexius/lineup/internal/run"
)

// handleSyncStart starts a pipeline run in the background.
// POST /api/v1/sync {"type": "artists|events|linking|both"}
func (r *Router) handleSyncStart(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Type string `json:"type"`
	}
	if err := decodeBody(w, req, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Type == "" {
		body.Type = string(run.SyncBoth)
	}
	syncType, ok := run.ParseSyncType(body.Type)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown sync type: "+body.Type)
		return
	}

	started, err := r.orchestrator.Start(req.Context(), syncType)
	if err != nil {
		if errors.Is(err, reconcile.ErrRunInProgress) {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error":      err.Error(),
				"active_run": r.orchestrator.Active(),
			})
			return
		}
		r.logger.Error("starting sync", "sync_type", syncType, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusAccepted, started)
}

// handleSyncActive reports the id of the run in progress, if any.
// GET /api/v1/sync
func (r *Router) handleSyncActive(w http.ResponseWriter, _ *http.Request) {
	active := r.orchestrator.Active()
	writeJSON(w, http.StatusOK, map[string]any{
		"running":    active != "",
		"active_run": active,
	})
}

// handleSyncStop cancels the run in progress.
// DELETE /api/v1/sync
func (r *Router) handleSyncStop(w http.ResponseWriter, _ *http.Request) {
	active := r.orchestrator.Active()
	if !r.orchestrator.Stop() {
		writeError(w, http.StatusConflict, "no run in progress")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping", "run_id": active})
}
