package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Rrens/dyncontent/internal/api/middleware"
	"github.com/Rrens/dyncontent/internal/api/response"
	"github.com/Rrens/dyncontent/internal/domain"
	"github.com/Rrens/dyncontent/internal/service"
)

// SharingHandler handles sharing organization endpoints
type SharingHandler struct {
	sharing *service.SharingService
}

// NewSharingHandler creates a new sharing handler
func NewSharingHandler(sharing *service.SharingService) *SharingHandler {
	return &SharingHandler{sharing: sharing}
}

// Lookup returns the organization sharing a resource
func (h *SharingHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	resourceID := r.URL.Query().Get("resourceId")
	contentType := r.URL.Query().Get("contentType")
	if resourceID == "" || contentType == "" {
		response.BadRequest(w, "resourceId and contentType are required")
		return
	}

	org, err := h.sharing.FindSharing(r.Context(), resourceID, contentType)
	if err != nil {
		response.FromError(w, err)
		return
	}
	if org == nil {
		response.NotFound(w, "resource is not shared")
		return
	}

	response.OK(w, org)
}

// Grant adds a user to a sharing organization
func (h *SharingHandler) Grant(w http.ResponseWriter, r *http.Request) {
	var req domain.GrantRequest
	if err := decode(w, r, &req); err != nil {
		response.FromError(w, err)
		return
	}

	a, err := h.sharing.Grant(r.Context(),
		chi.URLParam(r, "orgID"),
		middleware.GetPrincipal(r.Context()).UserID,
		req,
	)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Created(w, a)
}
