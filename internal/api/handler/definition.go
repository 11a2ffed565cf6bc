package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Rrens/dyncontent/internal/api/middleware"
	"github.com/Rrens/dyncontent/internal/api/response"
	"github.com/Rrens/dyncontent/internal/domain"
	"github.com/Rrens/dyncontent/internal/service"
)

// DefinitionHandler handles content definition endpoints
type DefinitionHandler struct {
	content *service.ContentService
	members *service.MembershipService
}

// NewDefinitionHandler creates a new definition handler
func NewDefinitionHandler(content *service.ContentService, members *service.MembershipService) *DefinitionHandler {
	return &DefinitionHandler{content: content, members: members}
}

// Create registers a definition. The caller must be able to manage the tenant.
func (h *DefinitionHandler) Create(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	tenantID := chi.URLParam(r, "tenantID")

	ok, err := h.members.CanManage(r.Context(), p.UserID, tenantID)
	if err != nil {
		response.FromError(w, err)
		return
	}
	if !ok {
		response.Forbidden(w, "insufficient role")
		return
	}

	var input domain.DefinitionInput
	if err := decode(w, r, &input); err != nil {
		response.FromError(w, err)
		return
	}

	def, err := h.content.CreateDefinition(r.Context(), tenantID, input)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Created(w, def)
}

// List returns the tenant's definitions. The caller needs a role in the tenant.
func (h *DefinitionHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if !h.member(w, r, tenantID) {
		return
	}

	defs, err := h.content.ListDefinitions(r.Context(), tenantID)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.OK(w, defs)
}

// Get returns the live definition of a block
func (h *DefinitionHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if !h.member(w, r, tenantID) {
		return
	}

	def, err := h.content.ResolveDefinition(r.Context(), tenantID, chi.URLParam(r, "block"))
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.OK(w, def)
}

func (h *DefinitionHandler) member(w http.ResponseWriter, r *http.Request, tenantID string) bool {
	p := middleware.GetPrincipal(r.Context())

	ok, err := h.members.HasAccess(r.Context(), p.UserID, tenantID, domain.ScopeTenant)
	if err != nil {
		response.FromError(w, err)
		return false
	}
	if !ok {
		response.Forbidden(w, "not a member of this tenant")
		return false
	}
	return true
}
