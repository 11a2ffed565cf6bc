package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rrens/dyncontent/internal/access"
	"github.com/Rrens/dyncontent/internal/api"
	"github.com/Rrens/dyncontent/internal/api/handler"
	"github.com/Rrens/dyncontent/internal/domain"
	"github.com/Rrens/dyncontent/internal/provider"
	providermem "github.com/Rrens/dyncontent/internal/provider/memory"
	"github.com/Rrens/dyncontent/internal/query"
	"github.com/Rrens/dyncontent/internal/registry"
	"github.com/Rrens/dyncontent/internal/repository/memory"
	"github.com/Rrens/dyncontent/internal/security"
	"github.com/Rrens/dyncontent/internal/service"
)

const taskSchema = `{"type":"object","properties":{"title":{"type":"string"},"status":{"type":"string","default":"open"}},"required":["title"]}`

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Kind    string   `json:"kind"`
		Message string   `json:"message"`
		Details []string `json:"details"`
	} `json:"error"`
}

type server struct {
	handler http.Handler
	jwt     *security.JWTManager
}

func newDeps(t *testing.T) api.Deps {
	t.Helper()

	members := service.NewMembershipService(memory.NewRoleRepository())
	sharing := service.NewSharingService(memory.NewOrganizationRepository(), members)

	router := provider.NewRouter(providermem.Name)
	router.Use(providermem.Name, providermem.New())

	content := service.NewContentService(
		registry.New(memory.NewDefinitionRepository()),
		access.NewEvaluator(members, sharing, access.WithMaintenanceUsers("ops")),
		query.NewTranslator(router, query.DefaultOptions()),
		sharing,
	)

	return api.Deps{
		Content: content,
		Members: members,
		Sharing: sharing,
		JWT:     security.NewJWTManager("test-secret", "dyncontent", time.Minute),
	}
}

func newServer(t *testing.T, deps api.Deps) *server {
	t.Helper()
	return &server{handler: api.NewRouter(deps), jwt: deps.JWT}
}

func (s *server) do(t *testing.T, method, path, userID string, body any) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}

	var req *http.Request
	if reader != nil {
		req = httptest.NewRequest(method, path, reader)
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if userID != "" {
		token, err := s.jwt.GenerateToken(userID)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

// bootstrap registers the Task block for T1 with U1 as tenant owner.
func bootstrap(t *testing.T, s *server) {
	t.Helper()
	member := domain.RoleMember

	code, env := s.do(t, http.MethodPost, "/api/v1/tenants/T1/definitions", "U1", domain.DefinitionInput{
		Name:          "Task",
		Block:         "Task",
		JSONSchema:    json.RawMessage(taskSchema),
		IndexerFields: []string{"status"},
		Access:        domain.AccessPolicy{TenantRole: &member},
	})
	require.Equal(t, http.StatusCreated, code, env.Error)

	code, env = s.do(t, http.MethodPost, "/api/v1/memberships", "U1", domain.RoleAssignmentCreate{
		UserID:    "U1",
		ScopeID:   "T1",
		ScopeKind: domain.ScopeTenant,
		Role:      domain.RoleOwner,
	})
	require.Equal(t, http.StatusCreated, code, env.Error)
}

func createTask(t *testing.T, s *server, userID, title string) string {
	t.Helper()
	code, env := s.do(t, http.MethodPost, "/api/v1/tenants/T1/content/Task", userID, map[string]any{"title": title})
	require.Equal(t, http.StatusCreated, code, env.Error)
	return decodeData[map[string]any](t, env)["_id"].(string)
}

func TestHealth(t *testing.T) {
	s := newServer(t, newDeps(t))

	code, env := s.do(t, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
}

func TestReady(t *testing.T) {
	deps := newDeps(t)
	deps.Probes = map[string]handler.Probe{
		"ok": func(context.Context) error { return nil },
	}
	code, _ := newServer(t, deps).do(t, http.MethodGet, "/api/v1/ready", "", nil)
	assert.Equal(t, http.StatusOK, code)

	deps.Probes["postgres"] = func(context.Context) error { return errors.New("connection refused") }
	code, env := newServer(t, deps).do(t, http.MethodGet, "/api/v1/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "postgres not ready", env.Error.Message)
}

func TestContentLifecycle(t *testing.T) {
	s := newServer(t, newDeps(t))
	bootstrap(t, s)

	id := createTask(t, s, "U1", "write docs")
	createTask(t, s, "U1", "review docs")

	code, env := s.do(t, http.MethodPost, "/api/v1/tenants/T1/content/Task/query", "U1", domain.Query{
		Filter: map[string]any{"status": "open"},
		Limit:  1,
	})
	require.Equal(t, http.StatusOK, code, env.Error)
	res := decodeData[domain.FindResult](t, env)
	assert.Equal(t, 2, res.Total)
	assert.Len(t, res.Items, 1)

	// An empty body reads the first page.
	code, env = s.do(t, http.MethodPost, "/api/v1/tenants/T1/content/Task/query", "U1", nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Equal(t, 2, decodeData[domain.FindResult](t, env).Total)

	code, env = s.do(t, http.MethodPut, "/api/v1/tenants/T1/content/Task/"+id, "U1", map[string]any{"title": "write docs", "status": "done"})
	require.Equal(t, http.StatusOK, code, env.Error)

	code, env = s.do(t, http.MethodGet, "/api/v1/tenants/T1/content/Task/"+id, "U1", nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	flat := decodeData[map[string]any](t, env)
	assert.Equal(t, "done", flat["status"])
	assert.Equal(t, id, flat["_id"])

	code, env = s.do(t, http.MethodDelete, "/api/v1/tenants/T1/content/Task/"+id, "U1", nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Equal(t, map[string]bool{"deleted": true}, decodeData[map[string]bool](t, env))

	code, env = s.do(t, http.MethodDelete, "/api/v1/tenants/T1/content/Task/"+id, "U1", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", env.Error.Kind)
}

func TestContentErrors(t *testing.T) {
	s := newServer(t, newDeps(t))
	bootstrap(t, s)

	tests := []struct {
		name     string
		method   string
		path     string
		userID   string
		body     any
		wantCode int
		wantKind string
	}{
		{"anonymous caller", http.MethodPost, "/api/v1/tenants/T1/content/Task/query", "", nil, http.StatusUnauthorized, "unauthorized"},
		{"outsider", http.MethodPost, "/api/v1/tenants/T1/content/Task/query", "U9", nil, http.StatusForbidden, "forbidden"},
		{"unknown block", http.MethodPost, "/api/v1/tenants/T1/content/Note/query", "U1", nil, http.StatusNotFound, "not_found"},
		{"schema violation", http.MethodPost, "/api/v1/tenants/T1/content/Task", "U1", map[string]any{"status": "open"}, http.StatusBadRequest, "validation"},
		{"tenant filter", http.MethodPost, "/api/v1/tenants/T1/content/Task/query", "U1", map[string]any{"filter": map[string]any{"tenantId": "T2"}}, http.StatusBadRequest, "validation"},
		{"bad limit", http.MethodPost, "/api/v1/tenants/T1/content/Task/query", "U1", map[string]any{"limit": -1}, http.StatusBadRequest, "validation"},
		{"missing record", http.MethodGet, "/api/v1/tenants/T1/content/Task/nope", "U1", nil, http.StatusNotFound, "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := s.do(t, tt.method, tt.path, tt.userID, tt.body)
			assert.Equal(t, tt.wantCode, code)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.wantKind, env.Error.Kind)
		})
	}
}

func TestBadToken(t *testing.T) {
	s := newServer(t, newDeps(t))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants/T1/content/Task/query", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDefinitions(t *testing.T) {
	s := newServer(t, newDeps(t))
	bootstrap(t, s)

	code, _ := s.do(t, http.MethodGet, "/api/v1/tenants/T1/definitions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, env := s.do(t, http.MethodGet, "/api/v1/tenants/T1/definitions", "U1", nil)
	require.Equal(t, http.StatusOK, code)
	defs := decodeData[[]domain.ContentDefinition](t, env)
	require.Len(t, defs, 1)
	assert.Equal(t, "Task", defs[0].Block)

	code, env = s.do(t, http.MethodGet, "/api/v1/tenants/T1/definitions/Task", "U1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"status"}, decodeData[domain.ContentDefinition](t, env).IndexerFields)

	// Definitions are visible to tenant members only.
	code, env = s.do(t, http.MethodGet, "/api/v1/tenants/T1/definitions", "stranger", nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Nil(t, env.Data)
	code, _ = s.do(t, http.MethodGet, "/api/v1/tenants/T1/definitions/Task", "stranger", nil)
	assert.Equal(t, http.StatusForbidden, code)

	// Once the tenant has members, only admins may register.
	code, env = s.do(t, http.MethodPost, "/api/v1/tenants/T1/definitions", "U2", domain.DefinitionInput{
		Name:       "Note",
		Block:      "Note",
		JSONSchema: json.RawMessage(`{"type":"object"}`),
	})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "insufficient role", env.Error.Message)

	code, env = s.do(t, http.MethodPost, "/api/v1/tenants/T1/definitions", "U1", map[string]any{"name": "Note"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.NotEmpty(t, env.Error.Details)
}

func TestSharingAndMemberships(t *testing.T) {
	s := newServer(t, newDeps(t))
	bootstrap(t, s)
	id := createTask(t, s, "U1", "write docs")

	code, env := s.do(t, http.MethodGet, "/api/v1/tenants/T1/content/Task/"+id, "U2", nil)
	require.Equal(t, http.StatusForbidden, code)

	code, env = s.do(t, http.MethodPost, "/api/v1/tenants/T1/content/Task/"+id+"/share", "U1", domain.GrantRequest{
		UserID: "U2",
		Role:   domain.RoleViewer,
	})
	require.Equal(t, http.StatusOK, code, env.Error)
	org := decodeData[domain.Organization](t, env)
	assert.Equal(t, "Task", org.SharedResources[id])

	code, _ = s.do(t, http.MethodGet, "/api/v1/tenants/T1/content/Task/"+id, "U2", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, http.MethodPut, "/api/v1/tenants/T1/content/Task/"+id, "U2", map[string]any{"title": "hijack"})
	assert.Equal(t, http.StatusForbidden, code)

	code, env = s.do(t, http.MethodGet, "/api/v1/sharing?resourceId="+id+"&contentType=Task", "U2", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, org.ID, decodeData[domain.Organization](t, env).ID)

	code, _ = s.do(t, http.MethodGet, "/api/v1/sharing?resourceId=nope&contentType=Task", "U2", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = s.do(t, http.MethodGet, "/api/v1/sharing?resourceId="+id, "U2", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	// A viewer cannot grant; the owner can.
	code, _ = s.do(t, http.MethodPost, "/api/v1/sharing/"+org.ID+"/members", "U2", domain.GrantRequest{UserID: "U3", Role: domain.RoleViewer})
	assert.Equal(t, http.StatusForbidden, code)
	code, env = s.do(t, http.MethodPost, "/api/v1/sharing/"+org.ID+"/members", "U1", domain.GrantRequest{UserID: "U3", Role: domain.RoleMember})
	require.Equal(t, http.StatusCreated, code, env.Error)

	code, env = s.do(t, http.MethodGet, "/api/v1/scopes/"+org.ID+"/memberships", "U1", nil)
	require.Equal(t, http.StatusOK, code)
	assignments := decodeData[[]domain.RoleAssignment](t, env)
	require.Len(t, assignments, 3)

	var ownerID, viewerID string
	for _, a := range assignments {
		switch a.UserID {
		case "U1":
			ownerID = a.ID
		case "U2":
			viewerID = a.ID
		}
	}

	code, _ = s.do(t, http.MethodGet, "/api/v1/scopes/"+org.ID+"/memberships", "U9", nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, env = s.do(t, http.MethodDelete, "/api/v1/memberships/"+ownerID, "U1", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "last_owner", env.Error.Kind)

	code, env = s.do(t, http.MethodPatch, "/api/v1/memberships/"+ownerID, "U1", map[string]string{"role": "ADMIN"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "last_owner", env.Error.Kind)

	code, _ = s.do(t, http.MethodPatch, "/api/v1/memberships/"+viewerID, "U2", map[string]string{"role": "ADMIN"})
	assert.Equal(t, http.StatusForbidden, code)

	code, env = s.do(t, http.MethodPatch, "/api/v1/memberships/"+viewerID, "U1", map[string]string{"role": "MEMBER"})
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Equal(t, domain.RoleMember, decodeData[domain.RoleAssignment](t, env).Role)

	code, _ = s.do(t, http.MethodPatch, "/api/v1/memberships/"+viewerID, "U1", map[string]string{"role": "BOSS"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, http.MethodPut, "/api/v1/tenants/T1/content/Task/"+id, "U2", map[string]any{"title": "edited"})
	assert.Equal(t, http.StatusOK, code)

	code, env = s.do(t, http.MethodDelete, "/api/v1/memberships/"+viewerID, "U1", nil)
	require.Equal(t, http.StatusNoContent, code, env.Error)
}

func TestMembershipAssignRequiresAdmin(t *testing.T) {
	s := newServer(t, newDeps(t))
	bootstrap(t, s)

	code, env := s.do(t, http.MethodPost, "/api/v1/memberships", "U2", domain.RoleAssignmentCreate{
		UserID:    "U2",
		ScopeID:   "T1",
		ScopeKind: domain.ScopeTenant,
		Role:      domain.RoleOwner,
	})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "forbidden", env.Error.Kind)

	code, env = s.do(t, http.MethodPost, "/api/v1/memberships", "U1", domain.RoleAssignmentCreate{
		UserID:    "U1",
		ScopeID:   "T1",
		ScopeKind: domain.ScopeTenant,
		Role:      domain.RoleAdmin,
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "conflict", env.Error.Kind)

	code, _ = s.do(t, http.MethodPost, "/api/v1/memberships", "", domain.RoleAssignmentCreate{})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestOwnerAssignmentsNeedOwner(t *testing.T) {
	s := newServer(t, newDeps(t))
	bootstrap(t, s)
	id := createTask(t, s, "U1", "write docs")

	code, env := s.do(t, http.MethodPost, "/api/v1/tenants/T1/content/Task/"+id+"/share", "U1", domain.GrantRequest{
		UserID: "U2",
		Role:   domain.RoleAdmin,
	})
	require.Equal(t, http.StatusOK, code, env.Error)
	org := decodeData[domain.Organization](t, env)

	code, env = s.do(t, http.MethodGet, "/api/v1/scopes/"+org.ID+"/memberships", "U1", nil)
	require.Equal(t, http.StatusOK, code)
	var ownerID, adminID string
	for _, a := range decodeData[[]domain.RoleAssignment](t, env) {
		switch a.UserID {
		case "U1":
			ownerID = a.ID
		case "U2":
			adminID = a.ID
		}
	}
	require.NotEmpty(t, ownerID)
	require.NotEmpty(t, adminID)

	code, _ = s.do(t, http.MethodPatch, "/api/v1/memberships/"+adminID, "U2", map[string]string{"role": "OWNER"})
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = s.do(t, http.MethodDelete, "/api/v1/memberships/"+ownerID, "U2", nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = s.do(t, http.MethodPatch, "/api/v1/memberships/"+ownerID, "U2", map[string]string{"role": "VIEWER"})
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = s.do(t, http.MethodPost, "/api/v1/memberships", "U2", domain.RoleAssignmentCreate{
		UserID:    "U3",
		ScopeID:   org.ID,
		ScopeKind: domain.ScopeOrganization,
		Role:      domain.RoleOwner,
	})
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = s.do(t, http.MethodPost, "/api/v1/sharing/"+org.ID+"/members", "U2", domain.GrantRequest{UserID: "U1", Role: domain.RoleViewer})
	assert.Equal(t, http.StatusForbidden, code)

	// Admins still manage non-owner assignments; owners can hand over.
	code, env = s.do(t, http.MethodPost, "/api/v1/memberships", "U2", domain.RoleAssignmentCreate{
		UserID:    "U3",
		ScopeID:   org.ID,
		ScopeKind: domain.ScopeOrganization,
		Role:      domain.RoleMember,
	})
	require.Equal(t, http.StatusCreated, code, env.Error)
	code, env = s.do(t, http.MethodPatch, "/api/v1/memberships/"+adminID, "U1", map[string]string{"role": "OWNER"})
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Equal(t, domain.RoleOwner, decodeData[domain.RoleAssignment](t, env).Role)
}

func TestAdminQuery(t *testing.T) {
	s := newServer(t, newDeps(t))
	bootstrap(t, s)
	createTask(t, s, "U1", "write docs")

	code, _ := s.do(t, http.MethodPost, "/api/v1/admin/content/Task/query", "U1", nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, env := s.do(t, http.MethodPost, "/api/v1/admin/content/Task/query", "ops", nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Equal(t, 1, decodeData[domain.FindResult](t, env).Total)
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string) (bool, int, time.Time, error) {
	return false, 0, time.Now().Add(time.Minute), nil
}

func (denyAll) Limit() int { return 0 }

func TestRateLimitIsOptional(t *testing.T) {
	deps := newDeps(t)
	deps.Limiter = denyAll{}
	s := newServer(t, deps)

	code, env := s.do(t, http.MethodPost, "/api/v1/tenants/T1/content/Task/query", "U1", nil)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "rate_limited", env.Error.Kind)

	code, _ = s.do(t, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
}
