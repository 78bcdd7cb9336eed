package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mcoot/islandgame/internal/dependencies/clock"
	"github.com/mcoot/islandgame/internal/dependencies/idgen"
	"github.com/mcoot/islandgame/internal/model"
	"github.com/mcoot/islandgame/internal/storage"
)

// Errors
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid or expired session")
)

// Session represents an authenticated session
type Session struct {
	Token     string
	UserID    model.UserID
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Service handles accounts and session tokens
type Service struct {
	storage storage.Storage
	clock   clock.Clock
	ids     idgen.Generator
	logger  *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	sessionDuration time.Duration
	hashCost        int
}

// Config holds configuration for the auth service
type Config struct {
	SessionDuration time.Duration
	HashCost        int // bcrypt cost
}

// DefaultConfig returns default auth configuration
func DefaultConfig() Config {
	return Config{
		SessionDuration: 24 * time.Hour,
		HashCost:        bcrypt.DefaultCost,
	}
}

// New creates a new auth Service
func New(storage storage.Storage, clock clock.Clock, ids idgen.Generator, logger *slog.Logger, cfg Config) *Service {
	if cfg.SessionDuration == 0 {
		cfg.SessionDuration = DefaultConfig().SessionDuration
	}
	if cfg.HashCost == 0 {
		cfg.HashCost = DefaultConfig().HashCost
	}
	return &Service{
		storage:         storage,
		clock:           clock,
		ids:             ids,
		logger:          logger,
		sessions:        make(map[string]*Session),
		sessionDuration: cfg.SessionDuration,
		hashCost:        cfg.HashCost,
	}
}

// SignUp creates an account with the starting balance and opens a session for it
func (s *Service) SignUp(ctx context.Context, name, password, avatarURL string) (*model.User, *Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil, model.ErrInvalidName
	}
	if password == "" {
		return nil, nil, fmt.Errorf("%w: password is required", model.ErrInvalidRequest)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return nil, nil, err
	}

	user := model.NewUser(model.UserID(s.ids.NewID()), name, string(hash), avatarURL, s.clock.Now())
	if err := s.storage.CreateUser(ctx, user); err != nil {
		return nil, nil, err
	}

	s.logger.Info("user signed up",
		slog.String("user_id", string(user.ID)),
		slog.String("name", user.Name),
	)

	return user, s.createSession(user.ID), nil
}

// Login checks the password for name and opens a session
func (s *Service) Login(ctx context.Context, name, password string) (*model.User, *Session, error) {
	user, err := s.storage.GetUserByName(ctx, strings.TrimSpace(name))
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, nil, ErrInvalidCredentials
	}

	return user, s.createSession(user.ID), nil
}

// ValidateSession checks if a session token is valid and returns the session
func (s *Service) ValidateSession(token string) (*Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[token]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrInvalidToken
	}

	if s.clock.Now().After(session.ExpiresAt) {
		s.mu.Lock()
		delete(s.sessions, token)
		s.mu.Unlock()
		return nil, ErrInvalidToken
	}

	return session, nil
}

// Authenticate resolves a token to its user
func (s *Service) Authenticate(ctx context.Context, token string) (*model.User, error) {
	session, err := s.ValidateSession(token)
	if err != nil {
		return nil, err
	}
	user, err := s.storage.GetUser(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			s.Logout(token)
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return user, nil
}

// Logout removes a session
func (s *Service) Logout(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

func (s *Service) createSession(userID model.UserID) *Session {
	token := generateToken("sess_")
	now := s.clock.Now()

	session := &Session{
		Token:     token,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionDuration),
	}

	s.mu.Lock()
	s.sessions[token] = session
	s.mu.Unlock()

	return session
}

func generateToken(prefix string) string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return prefix + base64.RawURLEncoding.EncodeToString(b)
}

// CleanExpiredSessions removes expired sessions (call periodically)
func (s *Service) CleanExpiredSessions() int {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, session := range s.sessions {
		if now.After(session.ExpiresAt) {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed
}

// SessionCount returns the number of live sessions
func (s *Service) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
