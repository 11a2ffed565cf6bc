package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Rrens/dyncontent/internal/api/handler"
	customMiddleware "github.com/Rrens/dyncontent/internal/api/middleware"
	"github.com/Rrens/dyncontent/internal/security"
	"github.com/Rrens/dyncontent/internal/service"
)

// Deps holds what the HTTP layer needs. Limiter is optional; without it
// requests are not rate limited.
type Deps struct {
	Content        *service.ContentService
	Members        *service.MembershipService
	Sharing        *service.SharingService
	JWT            *security.JWTManager
	Limiter        customMiddleware.Limiter
	Probes         map[string]handler.Probe
	AllowedOrigins []string
}

// NewRouter creates and configures the HTTP router
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)

	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:         300,
	}))

	authMiddleware := customMiddleware.NewAuthMiddleware(deps.JWT)

	definitionHandler := handler.NewDefinitionHandler(deps.Content, deps.Members)
	contentHandler := handler.NewContentHandler(deps.Content)
	membershipHandler := handler.NewMembershipHandler(deps.Members)
	sharingHandler := handler.NewSharingHandler(deps.Sharing)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handler.HealthCheck)
		r.Get("/ready", handler.ReadyCheck(deps.Probes))

		r.Group(func(r chi.Router) {
			// Content routes accept anonymous callers; the access policy of
			// each block decides.
			r.Use(authMiddleware.Identify)
			if deps.Limiter != nil {
				r.Use(customMiddleware.NewRateLimitMiddleware(deps.Limiter).Limit)
			}

			r.Route("/tenants/{tenantID}", func(r chi.Router) {
				r.Route("/definitions", func(r chi.Router) {
					r.Use(customMiddleware.RequireUser)
					r.Get("/", definitionHandler.List)
					r.Post("/", definitionHandler.Create)
					r.Get("/{block}", definitionHandler.Get)
				})

				r.Route("/content/{block}", func(r chi.Router) {
					r.Post("/", contentHandler.Create)
					r.Post("/query", contentHandler.Query)
					r.Get("/{id}", contentHandler.Get)
					r.Put("/{id}", contentHandler.Update)
					r.Delete("/{id}", contentHandler.Delete)
					r.Post("/{id}/share", contentHandler.Share)
				})
			})

			r.Group(func(r chi.Router) {
				r.Use(customMiddleware.RequireUser)

				r.Post("/memberships", membershipHandler.Assign)
				r.Patch("/memberships/{assignmentID}", membershipHandler.Update)
				r.Delete("/memberships/{assignmentID}", membershipHandler.Remove)
				r.Get("/scopes/{scopeID}/memberships", membershipHandler.List)

				r.Get("/sharing", sharingHandler.Lookup)
				r.Post("/sharing/{orgID}/members", sharingHandler.Grant)

				r.Post("/admin/content/{block}/query", contentHandler.QueryAcrossTenants)
			})
		})
	})

	return r
}
