package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sydlexius/lineup/internal/reconcile"
)

type batchRequest struct {
	EventID     string `json:"eventId"`
	VenueFilter string `json:"venueFilter"`
	Limit       int    `json:"limit"`
	SessionID   string `json:"sessionId"`
}

type batchResponse struct {
	Success     bool   `json:"success"`
	SessionID   string `json:"sessionId,omitempty"`
	EventsFound int    `json:"eventsFound"`
	Message     string `json:"message,omitempty"`
	Error       string `json:"error,omitempty"`
}

// handleBatchStart selects events and starts an asynchronous lineup batch.
// POST /api/v1/lineup/batch
func (r *Router) handleBatchStart(w http.ResponseWriter, req *http.Request) {
	var body batchRequest
	if err := decodeBody(w, req, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, batchResponse{Error: "invalid request body"})
		return
	}

	found, err := r.batchExecutor.Start(req.Context(), reconcile.BatchRequest{
		SessionID:   body.SessionID,
		EventID:     body.EventID,
		VenueFilter: body.VenueFilter,
		Limit:       body.Limit,
	})
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, reconcile.ErrSessionRequired):
			status = http.StatusBadRequest
		case errors.Is(err, reconcile.ErrNoEvents):
			status = http.StatusNotFound
		case errors.Is(err, reconcile.ErrSessionActive):
			status = http.StatusConflict
		case errors.Is(err, reconcile.ErrNoLineupFetcher):
			status = http.StatusServiceUnavailable
		default:
			r.logger.Error("starting lineup batch", "session_id", body.SessionID, "error", err)
		}
		writeJSON(w, status, batchResponse{SessionID: body.SessionID, Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, batchResponse{
		Success:     true,
		SessionID:   body.SessionID,
		EventsFound: found,
		Message:     fmt.Sprintf("Started parsing %d events", found),
	})
}

// handleBatchStatus returns the latest progress snapshot of a session.
// GET /api/v1/lineup/batch?sessionId=
func (r *Router) handleBatchStatus(w http.ResponseWriter, req *http.Request) {
	sessionID := req.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, reconcile.ErrSessionRequired.Error())
		return
	}
	snap, ok := r.batchExecutor.Get(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found or expired")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleBatchCancel asks a running session to stop before its next event.
// DELETE /api/v1/lineup/batch?sessionId=
func (r *Router) handleBatchCancel(w http.ResponseWriter, req *http.Request) {
	sessionID := req.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, reconcile.ErrSessionRequired.Error())
		return
	}
	if err := r.batchExecutor.Cancel(sessionID); err != nil {
		writeError(w, http.StatusNotFound, "session not running")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "sessionId": sessionID})
}
