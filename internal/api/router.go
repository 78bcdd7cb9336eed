package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/islandgame/internal/api/handler"
	"github.com/mcoot/islandgame/internal/api/middleware"
	"github.com/mcoot/islandgame/internal/api/response"
	rootmiddleware "github.com/mcoot/islandgame/internal/middleware"
	"github.com/mcoot/islandgame/internal/services/auth"
	"github.com/mcoot/islandgame/internal/services/profile"
)

// Stats reports live counters for the health endpoint
type Stats interface {
	Connections() int
	ActiveSessions() int
	QueueLength() int
}

// RouterConfig holds configuration for the API router
type RouterConfig struct {
	Logger         *slog.Logger // defaults to discarding
	AuthService    *auth.Service
	ProfileService *profile.Service
	// WebSocket serves /api/v1/ws behind the auth middleware (optional)
	WebSocket http.Handler
	// Stats feeds the health endpoint (optional)
	Stats Stats
}

// NewRouter creates a new API router with all routes configured
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	// Create handlers
	userHandler := handler.NewUserHandler(cfg.AuthService, cfg.ProfileService)
	gameHandler := handler.NewGameHandler(cfg.ProfileService)

	// Create middleware
	authMiddleware := middleware.Auth(cfg.AuthService)
	loggingMiddleware := rootmiddleware.Logging(cfg.Logger)
	recoveryMiddleware := middleware.Recovery(cfg.Logger)

	// API subrouter with common middleware
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(rootmiddleware.RequestID)
	api.Use(recoveryMiddleware)
	api.Use(loggingMiddleware)

	// Account routes (no auth required)
	api.HandleFunc("/users/signup", userHandler.SignUp).Methods(http.MethodPost)
	api.HandleFunc("/users/login", userHandler.Login).Methods(http.MethodPost)

	// Protected user routes
	users := api.PathPrefix("/users").Subrouter()
	users.Use(authMiddleware)
	users.HandleFunc("/logout", userHandler.Logout).Methods(http.MethodPost)
	users.HandleFunc("/me", userHandler.GetMe).Methods(http.MethodGet)
	users.HandleFunc("/me/name", userHandler.Rename).Methods(http.MethodPut)
	users.HandleFunc("/me/games", userHandler.History).Methods(http.MethodGet)

	// Game routes (participants only)
	games := api.PathPrefix("/games").Subrouter()
	games.Use(authMiddleware)
	games.HandleFunc("/{id}", gameHandler.Get).Methods(http.MethodGet)

	// Public routes
	api.HandleFunc("/leaderboard", gameHandler.Leaderboard).Methods(http.MethodGet)
	api.HandleFunc("/health", healthHandler(cfg.Stats)).Methods(http.MethodGet)

	if cfg.WebSocket != nil {
		api.Handle("/ws", authMiddleware(cfg.WebSocket)).Methods(http.MethodGet)
	}

	return r
}

func healthHandler(stats Stats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := response.Health{Status: "ok"}
		if stats != nil {
			health.Connections = stats.Connections()
			health.ActiveSessions = stats.ActiveSessions()
			health.QueueLength = stats.QueueLength()
		}
		response.JSON(w, http.StatusOK, health)
	}
}
