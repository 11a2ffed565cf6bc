package service

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/Rrens/dyncontent/internal/access"
	"github.com/Rrens/dyncontent/internal/domain"
)

// MockRoleRepository mocks the RoleRepository interface
type MockRoleRepository struct {
	mock.Mock
}

func (m *MockRoleRepository) Create(ctx context.Context, a *domain.RoleAssignment) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *MockRoleRepository) GetByID(ctx context.Context, id string) (*domain.RoleAssignment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RoleAssignment), args.Error(1)
}

func (m *MockRoleRepository) Get(ctx context.Context, scopeID, userID string) (*domain.RoleAssignment, error) {
	args := m.Called(ctx, scopeID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RoleAssignment), args.Error(1)
}

func (m *MockRoleRepository) ListByScope(ctx context.Context, scopeID string) ([]domain.RoleAssignment, error) {
	args := m.Called(ctx, scopeID)
	return args.Get(0).([]domain.RoleAssignment), args.Error(1)
}

func (m *MockRoleRepository) UpdateRole(ctx context.Context, id string, role domain.Role) (*domain.RoleAssignment, error) {
	args := m.Called(ctx, id, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RoleAssignment), args.Error(1)
}

func (m *MockRoleRepository) Delete(ctx context.Context, id string) (*domain.RoleAssignment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RoleAssignment), args.Error(1)
}

// MockOrganizationRepository mocks the OrganizationRepository interface
type MockOrganizationRepository struct {
	mock.Mock
}

func (m *MockOrganizationRepository) Create(ctx context.Context, org *domain.Organization, resourceID, contentType string) error {
	args := m.Called(ctx, org, resourceID, contentType)
	return args.Error(0)
}

func (m *MockOrganizationRepository) GetByID(ctx context.Context, id string) (*domain.Organization, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Organization), args.Error(1)
}

func (m *MockOrganizationRepository) FindBySharedResource(ctx context.Context, resourceID, contentType string) (*domain.Organization, error) {
	args := m.Called(ctx, resourceID, contentType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Organization), args.Error(1)
}

func (m *MockOrganizationRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockAuthorizer mocks the Authorizer interface
type MockAuthorizer struct {
	mock.Mock
}

func (m *MockAuthorizer) Authorize(ctx context.Context, p domain.Principal, tenantID string, def *domain.ContentDefinition, op domain.Operation, resourceID string) (access.Decision, error) {
	args := m.Called(ctx, p, tenantID, def, op, resourceID)
	return args.Get(0).(access.Decision), args.Error(1)
}

func (m *MockAuthorizer) AuthorizeMaintenance(p domain.Principal) access.Decision {
	args := m.Called(p)
	return args.Get(0).(access.Decision)
}

// MockExecutor mocks the Executor interface
type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Execute(ctx context.Context, def *domain.ContentDefinition, tenantID string, q domain.Query) (*domain.Page, error) {
	args := m.Called(ctx, def, tenantID, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Page), args.Error(1)
}

func (m *MockExecutor) ExecuteAcrossTenants(ctx context.Context, block string, q domain.Query) (*domain.Page, error) {
	args := m.Called(ctx, block, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Page), args.Error(1)
}

func (m *MockExecutor) Get(ctx context.Context, def *domain.ContentDefinition, tenantID, id string) (*domain.ContentRecord, error) {
	args := m.Called(ctx, def, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ContentRecord), args.Error(1)
}

func (m *MockExecutor) Insert(ctx context.Context, rec *domain.ContentRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockExecutor) Update(ctx context.Context, rec *domain.ContentRecord) (bool, error) {
	args := m.Called(ctx, rec)
	return args.Bool(0), args.Error(1)
}

func (m *MockExecutor) Delete(ctx context.Context, tenantID, block, id string) (bool, error) {
	args := m.Called(ctx, tenantID, block, id)
	return args.Bool(0), args.Error(1)
}
