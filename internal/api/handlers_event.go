package api

import (
	"errors"
	"net/http"

	"github.com/sydlexius/lineup/internal/event"
)

// handleListEvents returns a page of events in listing order.
// GET /api/v1/events?page=&page_size=&venue=&search=&unparsed=
func (r *Router) handleListEvents(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	params := event.ListParams{
		Page:     intQuery(req, "page", 1),
		PageSize: intQuery(req, "page_size", 50),
		Venue:    q.Get("venue"),
		Search:   q.Get("search"),
		Unparsed: q.Get("unparsed") == "true",
	}
	params.Validate()

	events, total, err := r.eventService.List(req.Context(), params)
	if err != nil {
		r.logger.Error("listing events", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events":    events,
		"total":     total,
		"page":      params.Page,
		"page_size": params.PageSize,
	})
}

// handleGetEvent returns a single event.
// GET /api/v1/events/{id}
func (r *Router) handleGetEvent(w http.ResponseWriter, req *http.Request) {
	ev, ok := r.lookupEvent(w, req)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// handleEventLinks returns the artists linked to an event.
// GET /api/v1/events/{id}/links
func (r *Router) handleEventLinks(w http.ResponseWriter, req *http.Request) {
	ev, ok := r.lookupEvent(w, req)
	if !ok {
		return
	}
	links, err := r.linkService.ListByEvent(req.Context(), ev.ID)
	if err != nil {
		r.logger.Error("listing event links", "event_id", ev.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"event": ev,
		"links": links,
	})
}

func (r *Router) lookupEvent(w http.ResponseWriter, req *http.Request) (*event.Event, bool) {
	id := req.PathValue("id")
	ev, err := r.eventService.GetByID(req.Context(), id)
	if err != nil {
		if errors.Is(err, event.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return nil, false
		}
		r.logger.Error("getting event", "event_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	return ev, true
}
