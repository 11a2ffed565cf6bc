package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Rrens/dyncontent/internal/api/middleware"
	"github.com/Rrens/dyncontent/internal/api/response"
	"github.com/Rrens/dyncontent/internal/domain"
	"github.com/Rrens/dyncontent/internal/service"
)

// ContentHandler handles content record endpoints
type ContentHandler struct {
	content *service.ContentService
}

// NewContentHandler creates a new content handler
func NewContentHandler(content *service.ContentService) *ContentHandler {
	return &ContentHandler{content: content}
}

// Query finds records of a block. An empty body reads the first page.
func (h *ContentHandler) Query(w http.ResponseWriter, r *http.Request) {
	var q domain.Query
	if r.ContentLength != 0 {
		if err := decode(w, r, &q); err != nil {
			response.FromError(w, err)
			return
		}
	}

	res, err := h.content.Find(r.Context(),
		chi.URLParam(r, "block"),
		chi.URLParam(r, "tenantID"),
		middleware.GetPrincipal(r.Context()),
		q,
	)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, res)
}

// Get returns one record
func (h *ContentHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.content.Get(r.Context(),
		chi.URLParam(r, "block"),
		chi.URLParam(r, "id"),
		chi.URLParam(r, "tenantID"),
		middleware.GetPrincipal(r.Context()),
	)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, rec)
}

// Create stores a new record
func (h *ContentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := decode(w, r, &payload); err != nil {
		response.FromError(w, err)
		return
	}

	rec, err := h.content.Create(r.Context(),
		chi.URLParam(r, "block"),
		payload,
		chi.URLParam(r, "tenantID"),
		middleware.GetPrincipal(r.Context()),
	)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Created(w, rec)
}

// Update replaces a record's content
func (h *ContentHandler) Update(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := decode(w, r, &payload); err != nil {
		response.FromError(w, err)
		return
	}

	rec, err := h.content.Update(r.Context(),
		chi.URLParam(r, "block"),
		chi.URLParam(r, "id"),
		payload,
		chi.URLParam(r, "tenantID"),
		middleware.GetPrincipal(r.Context()),
	)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, rec)
}

// Delete removes a record
func (h *ContentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.content.Delete(r.Context(),
		chi.URLParam(r, "block"),
		chi.URLParam(r, "id"),
		chi.URLParam(r, "tenantID"),
		middleware.GetPrincipal(r.Context()),
	)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, map[string]bool{"deleted": deleted})
}

// Share opens a record to another user
func (h *ContentHandler) Share(w http.ResponseWriter, r *http.Request) {
	var grant domain.GrantRequest
	if err := decode(w, r, &grant); err != nil {
		response.FromError(w, err)
		return
	}

	org, err := h.content.Share(r.Context(),
		chi.URLParam(r, "block"),
		chi.URLParam(r, "id"),
		chi.URLParam(r, "tenantID"),
		middleware.GetPrincipal(r.Context()),
		grant,
	)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, org)
}

// QueryAcrossTenants runs a maintenance read over every tenant
func (h *ContentHandler) QueryAcrossTenants(w http.ResponseWriter, r *http.Request) {
	var q domain.Query
	if r.ContentLength != 0 {
		if err := decode(w, r, &q); err != nil {
			response.FromError(w, err)
			return
		}
	}

	res, err := h.content.FindAcrossTenants(r.Context(),
		chi.URLParam(r, "block"),
		middleware.GetPrincipal(r.Context()),
		q,
	)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, res)
}
