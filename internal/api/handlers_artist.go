package api

import (
	"errors"
	"net/http"

	"github.com/sydlexius/lineup/internal/artist"
	"github.com/sydlexius/lineup/internal/provider"
	"github.com/sydlexius/lineup/internal/reconcile"
)

// handleListArtists returns a page of artists as JSON.
// GET /api/v1/artists?page=&page_size=&sort=&order=&search=&filter=
func (r *Router) handleListArtists(w http.ResponseWriter, req *http.Request) {
	params := artist.ListParams{
		Page:     intQuery(req, "page", 1),
		PageSize: intQuery(req, "page_size", 50),
		Sort:     req.URL.Query().Get("sort"),
		Order:    req.URL.Query().Get("order"),
		Search:   req.URL.Query().Get("search"),
		Filter:   req.URL.Query().Get("filter"),
	}
	params.Validate()

	artists, total, err := r.artistService.List(req.Context(), params)
	if err != nil {
		r.logger.Error("listing artists", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"artists":   artists,
		"total":     total,
		"page":      params.Page,
		"page_size": params.PageSize,
	})
}

// handleGetArtist returns a single artist with the events it is linked to.
// GET /api/v1/artists/{id}
func (r *Router) handleGetArtist(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	a, err := r.artistService.GetByID(req.Context(), id)
	if err != nil {
		if errors.Is(err, artist.ErrNotFound) {
			writeError(w, http.StatusNotFound, "artist not found")
			return
		}
		r.logger.Error("getting artist", "artist_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	links, err := r.linkService.ListByArtist(req.Context(), id)
	if err != nil {
		r.logger.Warn("listing artist links", "artist_id", id, "error", err)
		links = nil
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"artist": a,
		"links":  links,
	})
}

// handleEnrichArtist looks the artist up through the enrichment collaborator.
// POST /api/v1/artists/{id}/enrich
func (r *Router) handleEnrichArtist(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	a, err := r.orchestrator.Enrich(req.Context(), id)
	if err != nil {
		var notFound *provider.ErrNotFound
		var unavailable *provider.ErrUpstreamUnavailable
		switch {
		case errors.Is(err, artist.ErrNotFound):
			writeError(w, http.StatusNotFound, "artist not found")
		case errors.Is(err, reconcile.ErrEnrichmentDisabled):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		case errors.As(err, &notFound):
			writeError(w, http.StatusNotFound, "no matching artist upstream")
		case errors.As(err, &unavailable):
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			r.logger.Error("enriching artist", "artist_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, a)
}
