// Package app assembles the console from configuration. Both the HTTP
// server and the Lambda entry point build through it.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"admin-console/internal/adapters/http/middleware"
	adapterlogger "admin-console/internal/adapters/logger"
	"admin-console/internal/adapters/metrics"
	"admin-console/internal/application"
	"admin-console/internal/application/permissions"
	"admin-console/internal/config"
	"admin-console/internal/domain"
	"admin-console/internal/infrastructure/auth"
	"admin-console/internal/infrastructure/dynamodb"
	"admin-console/internal/infrastructure/events"
	"admin-console/internal/infrastructure/memory"
	"admin-console/internal/infrastructure/postgres"
	httpiface "admin-console/internal/interfaces/http"
	"admin-console/internal/ports"
)

// Stores groups the store capabilities of one backend.
type Stores struct {
	Permissions ports.PermissionStore
	Seeder      ports.Seeder
	Roster      ports.RosterRepository
	close       func() error
}

func (s Stores) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

func OpenStores(ctx context.Context, cfg config.Config, logger ports.Logger) (Stores, error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		db, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return Stores{}, err
		}
		if cfg.AutoMigrate {
			if err := db.Migrate(ctx); err != nil {
				_ = db.Close()
				return Stores{}, fmt.Errorf("migrate: %w", err)
			}
		}
		store := postgres.NewPermissionStore(db.Gorm, logger)
		return Stores{Permissions: store, Seeder: store, Roster: store, close: db.Close}, nil
	case config.StoreDynamoDB:
		client, err := dynamodb.NewClient(ctx, cfg.Region, cfg.TableName)
		if err != nil {
			return Stores{}, fmt.Errorf("dynamodb client: %w", err)
		}
		store := dynamodb.NewPermissionStore(client)
		return Stores{Permissions: store, Seeder: store, Roster: dynamodb.NewRosterRepository(client)}, nil
	case config.StoreMemory:
		store := memory.NewStore()
		return Stores{Permissions: store, Seeder: store, Roster: store}, nil
	default:
		return Stores{}, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// OpenBus returns the Redis bridged bus when REDIS_URL is set and an
// in-process bus otherwise.
func OpenBus(ctx context.Context, cfg config.Config, logger ports.Logger) (ports.AuthEventBus, *events.RedisBus, error) {
	if cfg.RedisURL == "" {
		return events.NewLocalBus(), nil, nil
	}
	client, err := events.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	bus := events.NewRedisBus(client, cfg.RedisChannel, logger)
	return bus, bus, nil
}

func NewVerifier(mode middleware.Mode, cfg config.Config) (auth.Verifier, error) {
	switch mode {
	case middleware.ModeCognito:
		return auth.NewCognitoVerifier(cfg.UserPoolID, cfg.CognitoClientID, cfg.Region), nil
	case middleware.ModeJWT:
		return auth.NewHMACVerifier(cfg.JWTSecret)
	default:
		return nil, nil
	}
}

// ApplySeed writes the catalog, teams and people of seed. Each seeded
// person's grants are replaced with the listed keys, so reseeding is
// idempotent.
func ApplySeed(ctx context.Context, seed config.Seed, seeder ports.Seeder, store ports.PermissionStore) error {
	for _, p := range seed.Catalog() {
		if err := seeder.UpsertPermission(ctx, p); err != nil {
			return fmt.Errorf("seed permission %s: %w", p.Key, err)
		}
	}
	for _, t := range seed.TeamList() {
		if err := seeder.UpsertTeam(ctx, t); err != nil {
			return fmt.Errorf("seed team %d: %w", t.ID, err)
		}
	}
	now := time.Now().UTC()
	for i, person := range seed.PeopleList() {
		if err := seeder.UpsertPerson(ctx, person); err != nil {
			return fmt.Errorf("seed person %s: %w", person.Email, err)
		}
		grants := make([]domain.Grant, 0, len(seed.People[i].Grants))
		for _, key := range seed.People[i].Grants {
			permID, _ := seed.PermissionID(key)
			grants = append(grants, domain.Grant{
				ID:           uuid.NewString(),
				PersonID:     person.ID,
				PermissionID: permID,
				GrantedAt:    now,
			})
		}
		if err := store.ReplaceGrants(ctx, person.ID, grants); err != nil {
			return fmt.Errorf("seed grants for %s: %w", person.Email, err)
		}
	}
	return nil
}

// App is a fully wired console.
type App struct {
	Config   config.Config
	Logger   ports.Logger
	Echo     *echo.Echo
	Registry *permissions.Registry
	Bus      ports.AuthEventBus

	stores Stores
	redis  *events.RedisBus
}

func Build(ctx context.Context, cfg config.Config, logger ports.Logger) (*App, error) {
	mode, err := middleware.ParseAuthMode(cfg.AuthMode)
	if err != nil {
		return nil, err
	}
	xray.Configure(xray.Config{LogLevel: "error"})

	stores, err := OpenStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if cfg.CatalogFile != "" {
		seed, err := config.LoadSeed(cfg.CatalogFile)
		if err == nil {
			err = ApplySeed(ctx, seed, stores.Seeder, stores.Permissions)
		}
		if err != nil {
			_ = stores.Close()
			return nil, fmt.Errorf("seed catalog: %w", err)
		}
		logger.Info(ctx, "catalog seeded", "file", cfg.CatalogFile, "permissions", len(seed.Permissions))
	}

	bus, redisBus, err := OpenBus(ctx, cfg, logger)
	if err != nil {
		_ = stores.Close()
		return nil, err
	}

	prom := metrics.NewPrometheus()
	registry := permissions.NewRegistry(stores.Permissions, bus, logger, permissions.RegistryConfig{
		IdleTTL:      cfg.SessionTTL,
		CacheOptions: []permissions.Option{permissions.WithMetrics(prom)},
	})
	prom.TrackSessions(registry.Len)

	verifier, err := NewVerifier(mode, cfg)
	if err != nil {
		registry.Close()
		_ = stores.Close()
		return nil, err
	}
	authMW, err := middleware.AuthMiddleware(mode, verifier)
	if err != nil {
		registry.Close()
		_ = stores.Close()
		return nil, err
	}

	gate := middleware.GateConfig{Wait: cfg.GateWait, Metrics: prom}
	admin := application.NewPermissionAdminService(stores.Permissions, bus, logger, nil)
	roster := application.NewRosterService(stores.Roster, logger)

	e := httpiface.NewMainRouter(
		httpiface.Handlers{
			Session: httpiface.NewSessionHandler(registry, cfg.GateWait),
			Admin:   httpiface.NewAdminHandler(admin),
			Roster:  httpiface.NewRosterHandler(roster),
			Metrics: prom.Handler(),
		},
		httpiface.Middleware{
			Auth:          authMW,
			XRay:          middleware.XRayMiddleware("admin-console"),
			RequestLogger: middleware.RequestLogger(logger),
			Session:       middleware.Session(registry),
			Login:         middleware.RequireLogin(gate),
			Require: func(keyOf func(echo.Context) string) echo.MiddlewareFunc {
				return middleware.RequirePermission(keyOf, gate)
			},
		},
	)

	return &App{
		Config:   cfg,
		Logger:   logger,
		Echo:     e,
		Registry: registry,
		Bus:      bus,
		stores:   stores,
		redis:    redisBus,
	}, nil
}

// Run starts the background workers: the idle session sweep and, when
// configured, the Redis relay. It returns once ctx is done.
func (a *App) Run(ctx context.Context) {
	if a.redis != nil {
		go func() {
			if err := a.redis.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.Error(ctx, "auth event relay stopped", "error", err)
			}
		}()
	}
	a.Registry.Run(ctx)
}

func (a *App) Close() error {
	a.Registry.Close()
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	errs = append(errs, a.stores.Close())
	return errors.Join(errs...)
}

// NewLogger builds the JSON logger at cfg's level.
func NewLogger(cfg config.Config) (*adapterlogger.SlogLogger, error) {
	level, err := adapterlogger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return adapterlogger.New("admin-console", level), nil
}
