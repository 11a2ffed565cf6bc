package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Rrens/dyncontent/internal/api/middleware"
	"github.com/Rrens/dyncontent/internal/api/response"
	"github.com/Rrens/dyncontent/internal/domain"
	"github.com/Rrens/dyncontent/internal/service"
)

// MembershipHandler handles role assignment endpoints. Every mutation needs
// ADMIN or above in the target scope; granting OWNER or touching an OWNER's
// assignment needs OWNER.
type MembershipHandler struct {
	members *service.MembershipService
}

// NewMembershipHandler creates a new membership handler
func NewMembershipHandler(members *service.MembershipService) *MembershipHandler {
	return &MembershipHandler{members: members}
}

type roleUpdate struct {
	Role domain.Role `json:"role" validate:"required,oneof=VIEWER MEMBER ADMIN OWNER"`
}

// Assign creates a role assignment
func (h *MembershipHandler) Assign(w http.ResponseWriter, r *http.Request) {
	var input domain.RoleAssignmentCreate
	if err := decode(w, r, &input); err != nil {
		response.FromError(w, err)
		return
	}

	if !h.authorize(w, r, input.ScopeID, input.Role) {
		return
	}

	a, err := h.members.Assign(r.Context(), input)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Created(w, a)
}

// Update changes the role of an assignment
func (h *MembershipHandler) Update(w http.ResponseWriter, r *http.Request) {
	var input roleUpdate
	if err := decode(w, r, &input); err != nil {
		response.FromError(w, err)
		return
	}

	target, err := h.members.Get(r.Context(), chi.URLParam(r, "assignmentID"))
	if err != nil {
		response.FromError(w, err)
		return
	}
	if !h.authorize(w, r, target.ScopeID, target.Role, input.Role) {
		return
	}

	a, err := h.members.Update(r.Context(), target.ID, input.Role)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, a)
}

// Remove deletes an assignment
func (h *MembershipHandler) Remove(w http.ResponseWriter, r *http.Request) {
	target, err := h.members.Get(r.Context(), chi.URLParam(r, "assignmentID"))
	if err != nil {
		response.FromError(w, err)
		return
	}
	if !h.authorize(w, r, target.ScopeID, target.Role) {
		return
	}

	if _, err := h.members.Remove(r.Context(), target.ID); err != nil {
		response.FromError(w, err)
		return
	}

	response.NoContent(w)
}

// List returns the assignments of a scope. Any member of the scope may list.
func (h *MembershipHandler) List(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	scopeID := chi.URLParam(r, "scopeID")

	_, ok, err := h.members.RoleIn(r.Context(), p.UserID, scopeID)
	if err != nil {
		response.FromError(w, err)
		return
	}
	if !ok {
		response.Forbidden(w, "not a member of this scope")
		return
	}

	as, err := h.members.ListByScope(r.Context(), scopeID)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, as)
}

func (h *MembershipHandler) authorize(w http.ResponseWriter, r *http.Request, scopeID string, roles ...domain.Role) bool {
	p := middleware.GetPrincipal(r.Context())

	ok, err := h.members.CanManage(r.Context(), p.UserID, scopeID, roles...)
	if err != nil {
		response.FromError(w, err)
		return false
	}
	if !ok {
		response.Forbidden(w, "insufficient role")
		return false
	}
	return true
}
