package factory

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/mcoot/islandgame/internal/config"
	"github.com/mcoot/islandgame/internal/dependencies/clock"
	"github.com/mcoot/islandgame/internal/dependencies/idgen"
	"github.com/mcoot/islandgame/internal/dependencies/random"
	"github.com/mcoot/islandgame/internal/gateway"
	"github.com/mcoot/islandgame/internal/messages"
	"github.com/mcoot/islandgame/internal/realtime"
	"github.com/mcoot/islandgame/internal/services/audit"
	"github.com/mcoot/islandgame/internal/services/auth"
	"github.com/mcoot/islandgame/internal/services/game"
	"github.com/mcoot/islandgame/internal/services/matchmaking"
	"github.com/mcoot/islandgame/internal/services/profile"
	"github.com/mcoot/islandgame/internal/services/registry"
	"github.com/mcoot/islandgame/internal/services/scoring"
	"github.com/mcoot/islandgame/internal/storage"
	"github.com/mcoot/islandgame/internal/storage/memory"
	"github.com/mcoot/islandgame/internal/storage/postgres"
	redisstorage "github.com/mcoot/islandgame/internal/storage/redis"
)

// Storage type constants
const (
	StorageTypeMemory   = "memory"
	StorageTypeRedis    = "redis"
	StorageTypePostgres = "postgres"
)

// App contains all wired application components
type App struct {
	// Storage
	Storage storage.Storage

	// External dependencies
	Clock    clock.Clock
	Random   random.Random
	IDs      idgen.Generator
	Messages *messages.Catalog

	// Services
	ScoringService *scoring.Service
	GameController *game.Controller
	Queue          *matchmaking.Queue
	Registry       *registry.Registry
	AuthService    *auth.Service
	ProfileService *profile.Service
	AuditService   *audit.Service

	// Realtime
	Hub     *realtime.Hub
	Gateway *gateway.Handler
}

// Config holds configuration for the application factory
type Config struct {
	// AuthConfig holds configuration for the auth service (optional)
	// If zero value, defaults to auth.DefaultConfig()
	AuthConfig auth.Config
	// GatewayConfig holds WebSocket settings (optional)
	// If zero value, defaults to gateway.DefaultConfig()
	GatewayConfig gateway.Config
	// MessagesDir overrides the built-in message catalog (optional)
	MessagesDir string
	// Logger is the application logger (optional)
	// If nil, a no-op logger is used
	Logger *slog.Logger
	// StorageType selects the storage backend ("memory", "redis" or "postgres")
	// If empty, defaults to "memory"
	StorageType string
	// RedisConfig holds Redis connection settings (required if StorageType is "redis")
	RedisConfig *redisstorage.Config
	// PostgresConfig holds Postgres connection settings (required if StorageType is "postgres")
	PostgresConfig *postgres.Config
}

// ConfigFrom maps the server configuration onto the factory's
func ConfigFrom(c *config.Config, logger *slog.Logger) Config {
	return Config{
		AuthConfig:  auth.Config{SessionDuration: c.Auth.SessionDuration},
		MessagesDir: c.Messages.Dir,
		Logger:      logger,
		StorageType: c.Storage.Type,
		RedisConfig: &redisstorage.Config{
			URL:             c.Storage.Redis.URL,
			PoolSize:        c.Storage.Redis.PoolSize,
			MinIdleConns:    c.Storage.Redis.MinIdleConns,
			FinishedGameTTL: c.Storage.Redis.FinishedGameTTL,
		},
		PostgresConfig: &postgres.Config{
			URL:             c.Storage.Postgres.URL,
			MaxOpenConns:    c.Storage.Postgres.MaxOpenConns,
			MaxIdleConns:    c.Storage.Postgres.MaxIdleConns,
			ConnMaxLifetime: c.Storage.Postgres.ConnMaxLifetime,
		},
	}
}

// New creates a new application with all dependencies wired
func New(cfg Config) (*App, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	catalog, err := messages.New(cfg.MessagesDir)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	store, err := OpenStorage(cfg)
	if err != nil {
		return nil, err
	}

	authCfg := cfg.AuthConfig
	if authCfg.SessionDuration == 0 {
		authCfg.SessionDuration = auth.DefaultConfig().SessionDuration
	}
	gatewayCfg := cfg.GatewayConfig
	if gatewayCfg == (gateway.Config{}) {
		gatewayCfg = gateway.DefaultConfig()
	}

	return newWithDependencies(store, clock.New(), random.New(), idgen.New(), catalog, authCfg, gatewayCfg, logger), nil
}

// OpenStorage creates the storage backend selected by cfg
func OpenStorage(cfg Config) (storage.Storage, error) {
	storageType := cfg.StorageType
	if storageType == "" {
		storageType = StorageTypeMemory
	}

	switch storageType {
	case StorageTypeMemory:
		return memory.New(), nil
	case StorageTypeRedis:
		if cfg.RedisConfig == nil {
			return nil, errors.New("RedisConfig required when StorageType is redis")
		}
		return redisstorage.New(*cfg.RedisConfig)
	case StorageTypePostgres:
		if cfg.PostgresConfig == nil {
			return nil, errors.New("PostgresConfig required when StorageType is postgres")
		}
		return postgres.New(*cfg.PostgresConfig)
	default:
		return nil, errors.New("invalid StorageType: must be 'memory', 'redis' or 'postgres'")
	}
}

// newWithDependencies creates an App with the given dependencies (useful for testing)
func newWithDependencies(
	store storage.Storage,
	clk clock.Clock,
	rnd random.Random,
	ids idgen.Generator,
	catalog *messages.Catalog,
	authCfg auth.Config,
	gatewayCfg gateway.Config,
	logger *slog.Logger,
) *App {
	hub := realtime.NewHub(logger)
	go hub.Run()

	return wire(store, clk, rnd, ids, catalog, hub, hub, authCfg, gatewayCfg, logger)
}

// wire builds the services on top of a running hub. Outbound events go to
// sender, which is the hub itself outside of tests.
func wire(
	store storage.Storage,
	clk clock.Clock,
	rnd random.Random,
	ids idgen.Generator,
	catalog *messages.Catalog,
	hub *realtime.Hub,
	sender realtime.Sender,
	authCfg auth.Config,
	gatewayCfg gateway.Config,
	logger *slog.Logger,
) *App {
	scoringService := scoring.New()
	gameController := game.NewController(store, scoringService, clk, rnd, ids, logger)
	queue := matchmaking.NewQueue(gameController, store, sender, catalog, logger)
	sessions := registry.New(gameController, store, queue, sender, catalog, logger)

	return &App{
		Storage:        store,
		Clock:          clk,
		Random:         rnd,
		IDs:            ids,
		Messages:       catalog,
		ScoringService: scoringService,
		GameController: gameController,
		Queue:          queue,
		Registry:       sessions,
		AuthService:    auth.New(store, clk, ids, logger, authCfg),
		ProfileService: profile.New(store, logger),
		AuditService:   audit.New(store, scoringService, logger),
		Hub:            hub,
		Gateway:        gateway.New(hub, queue, sessions, catalog, logger, gatewayCfg),
	}
}

// Connections returns the number of live WebSocket connections
func (a *App) Connections() int {
	return a.Hub.ClientCount()
}

// ActiveSessions returns the number of games being played
func (a *App) ActiveSessions() int {
	return a.Registry.Sessions()
}

// QueueLength returns the number of users waiting for a match
func (a *App) QueueLength() int {
	return a.Queue.Len()
}

// Close stops the hub and releases the storage backend
func (a *App) Close() error {
	a.Hub.Close()
	if closer, ok := a.Storage.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
