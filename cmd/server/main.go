package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/dyncontent/internal/access"
	"github.com/Rrens/dyncontent/internal/api"
	"github.com/Rrens/dyncontent/internal/api/handler"
	"github.com/Rrens/dyncontent/internal/config"
	"github.com/Rrens/dyncontent/internal/domain"
	"github.com/Rrens/dyncontent/internal/logger"
	"github.com/Rrens/dyncontent/internal/provider"
	providermem "github.com/Rrens/dyncontent/internal/provider/memory"
	"github.com/Rrens/dyncontent/internal/provider/mongo"
	"github.com/Rrens/dyncontent/internal/provider/sqlstore"
	"github.com/Rrens/dyncontent/internal/query"
	"github.com/Rrens/dyncontent/internal/registry"
	"github.com/Rrens/dyncontent/internal/repository/memory"
	"github.com/Rrens/dyncontent/internal/repository/postgres"
	"github.com/Rrens/dyncontent/internal/repository/redis"
	"github.com/Rrens/dyncontent/internal/security"
	"github.com/Rrens/dyncontent/internal/service"
)

type stores struct {
	definitions domain.DefinitionRepository
	roles       domain.RoleRepository
	orgs        domain.OrganizationRepository
}

func main() {
	// Load .env file - try multiple locations
	for _, p := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(p); err == nil {
			fmt.Printf("Loaded .env from: %s\n", p)
			break
		}
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	closer, err := logger.Setup(cfg.Logging, os.Getenv("ENV"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	if cfg.Auth.JWTSecret == "" {
		log.Fatal().Msg("JWT_SECRET is required")
	}

	log.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("storage", cfg.Storage.Driver).
		Str("provider", cfg.Provider.Default).
		Msg("Starting content API server")

	ctx := context.Background()
	probes := make(map[string]handler.Probe)

	// Storage for definitions, roles and organizations
	var (
		st stores
		db *postgres.DB
	)
	switch cfg.Storage.Driver {
	case "postgres":
		db, err = postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()

		st = stores{
			definitions: postgres.NewDefinitionRepository(db),
			roles:       postgres.NewRoleRepository(db),
			orgs:        postgres.NewOrganizationRepository(db),
		}
		probes["postgres"] = db.Ping
	default:
		log.Warn().Msg("Using in-memory storage; state is lost on restart")
		st = stores{
			definitions: memory.NewDefinitionRepository(),
			roles:       memory.NewRoleRepository(),
			orgs:        memory.NewOrganizationRepository(),
		}
	}

	// Optional Redis tier
	var (
		registryOpts []registry.Option
		limiter      *redis.RateLimiter
	)
	policy, err := registry.ParseSchemaChangePolicy(cfg.Registry.SchemaChangePolicy)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid schema change policy")
	}
	registryOpts = append(registryOpts, registry.WithSchemaChangePolicy(policy))

	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()

		registryOpts = append(registryOpts, registry.WithRemoteCache(redis.NewDefinitionCache(redisClient, cfg.Registry.CacheTTL)))
		limiter = redis.NewRateLimiter(redisClient, cfg.Security.RateLimit.RequestsPerMinute, cfg.Security.RateLimit.Burst)
		probes["redis"] = redisClient.Ping
	}

	// Record providers
	providers := provider.NewRouter(cfg.Provider.Default)
	providers.Register(providermem.Name, providermem.Factory, provider.Config{})
	providers.Register("mysql", sqlstore.Factory("mysql"), provider.Config{
		DSN:     cfg.Provider.MySQLDSN,
		Timeout: cfg.Provider.Timeout,
	})
	providers.Register("sqlite", sqlstore.Factory("sqlite"), provider.Config{
		DSN:     cfg.Provider.SQLitePath,
		Timeout: cfg.Provider.Timeout,
	})
	providers.Register(mongo.Name, mongo.Factory, provider.Config{
		DSN:        cfg.Mongo.URI,
		Database:   cfg.Mongo.Database,
		Collection: cfg.Mongo.Collection,
		Timeout:    cfg.Provider.Timeout,
	})
	if db != nil {
		providers.Use("postgres", sqlstore.NewFromPool(db.Pool))
	} else {
		providers.Register("postgres", sqlstore.Factory("postgres"), provider.Config{
			DSN:     cfg.Database.DSN(),
			Timeout: cfg.Provider.Timeout,
		})
	}
	for block, name := range cfg.Provider.Blocks {
		providers.Bind(block, name)
		log.Info().Str("block", block).Str("provider", name).Msg("Block bound to provider")
	}
	defer providers.CloseAll()
	probes["providers"] = providers.HealthCheck

	// Services
	members := service.NewMembershipService(st.roles)
	sharing := service.NewSharingService(st.orgs, members)
	evaluator := access.NewEvaluator(members, sharing,
		access.WithDefaultAllow(cfg.Access.DefaultAllow),
		access.WithMaintenanceUsers(cfg.Access.MaintenanceUsers...),
	)
	translator := query.NewTranslator(providers, query.Options{
		DefaultLimit: cfg.Query.DefaultLimit,
		MaxLimit:     cfg.Query.MaxLimit,
		ReadRetries:  cfg.Query.ReadRetries,
		Timeout:      cfg.Query.Timeout,
	})
	content := service.NewContentService(
		registry.New(st.definitions, registryOpts...),
		evaluator,
		translator,
		sharing,
	)

	deps := api.Deps{
		Content:        content,
		Members:        members,
		Sharing:        sharing,
		JWT:            security.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL),
		Probes:         probes,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}
	if limiter != nil {
		deps.Limiter = limiter
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
