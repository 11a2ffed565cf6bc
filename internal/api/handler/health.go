package handler

import (
	"context"
	"net/http"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/dyncontent/internal/api/response"
	"github.com/Rrens/dyncontent/internal/domain"
)

// Probe checks one dependency
type Probe func(ctx context.Context) error

// HealthCheck returns a simple health check response
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{
		"status": "ok",
	})
}

// ReadyCheck reports ready when every probe passes
func ReadyCheck(probes map[string]Probe) http.HandlerFunc {
	names := make([]string, 0, len(probes))
	for name := range probes {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		for _, name := range names {
			if err := probes[name](r.Context()); err != nil {
				log.Warn().Err(err).Str("dependency", name).Msg("readiness probe failed")
				response.Error(w, http.StatusServiceUnavailable, response.ErrorBody{
					Kind:    domain.Kind("unavailable"),
					Message: name + " not ready",
				})
				return
			}
		}

		response.OK(w, map[string]string{
			"status": "ready",
		})
	}
}
