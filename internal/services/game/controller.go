package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mcoot/islandgame/internal/dependencies/clock"
	"github.com/mcoot/islandgame/internal/dependencies/idgen"
	"github.com/mcoot/islandgame/internal/dependencies/random"
	"github.com/mcoot/islandgame/internal/model"
	"github.com/mcoot/islandgame/internal/services/scoring"
	"github.com/mcoot/islandgame/internal/storage"
)

// Outcome is the state of a game after a successful operation
type Outcome struct {
	Game  *model.Game
	Ended bool

	// Settled records of the two participants, set when Ended
	UserA *model.User
	UserB *model.User
}

// session is the live handle for one game. Its mutex serializes every
// operation on the game.
type session struct {
	mu   sync.Mutex
	game *model.Game // nil until loaded
}

// Controller runs the per-game state machine: moves, forfeits, disconnects
// and the settlement that follows the terminal transition
type Controller struct {
	storage        storage.Storage
	scoringService *scoring.Service
	clock          clock.Clock
	random         random.Random
	ids            idgen.Generator
	logger         *slog.Logger

	mu       sync.Mutex
	sessions map[model.GameID]*session
}

// NewController creates a new game Controller
func NewController(
	storage storage.Storage,
	scoringService *scoring.Service,
	clock clock.Clock,
	random random.Random,
	ids idgen.Generator,
	logger *slog.Logger,
) *Controller {
	return &Controller{
		storage:        storage,
		scoringService: scoringService,
		clock:          clock,
		random:         random,
		ids:            ids,
		logger:         logger,
		sessions:       make(map[model.GameID]*session),
	}
}

// serverError marks a persistence failure
func serverError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, model.ErrServer, err)
}

// CreateGame starts a new active game between a and b. Colors and the first
// turn are independent coin flips.
func (c *Controller) CreateGame(ctx context.Context, a, b model.UserID) (*model.Game, error) {
	colorIdx := c.random.Intn(2)
	firstTurn := model.SlotA
	if c.random.Intn(2) == 1 {
		firstTurn = model.SlotB
	}

	game := model.NewGame(
		model.GameID(c.ids.NewID()),
		a, b,
		model.Palette[colorIdx], model.Palette[1-colorIdx],
		firstTurn,
		c.clock.Now(),
	)

	if err := c.storage.CreateGame(ctx, game); err != nil {
		c.logger.Error("failed to save game",
			slog.String("game_id", string(game.ID)),
			slog.String("error", err.Error()),
		)
		return nil, serverError("create game", err)
	}

	c.mu.Lock()
	c.sessions[game.ID] = &session{game: game.Clone()}
	c.mu.Unlock()

	c.logger.Info("game created",
		slog.String("game_id", string(game.ID)),
		slog.String("slot_a", string(a)),
		slog.String("slot_b", string(b)),
		slog.String("first_turn", string(game.CurrentTurnUser())),
	)

	return game, nil
}

// GetGame returns a snapshot of the game
func (c *Controller) GetGame(ctx context.Context, gameID model.GameID) (*model.Game, error) {
	s, err := c.acquire(ctx, gameID)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	if !s.game.IsActive() {
		c.forget(gameID, s)
	}
	return s.game.Clone(), nil
}

// acquire returns the locked session for gameID, loading it on first use.
// A handle dropped while the caller waited on it is never used; the caller
// starts over with the cached one.
func (c *Controller) acquire(ctx context.Context, gameID model.GameID) (*session, error) {
	for {
		c.mu.Lock()
		s, ok := c.sessions[gameID]
		if !ok {
			s = &session{}
			c.sessions[gameID] = s
		}
		c.mu.Unlock()

		s.mu.Lock()
		if !c.cached(gameID, s) {
			s.mu.Unlock()
			continue
		}
		if s.game != nil {
			return s, nil
		}

		game, err := c.storage.GetGame(ctx, gameID)
		if err != nil {
			c.forget(gameID, s)
			s.mu.Unlock()
			if errors.Is(err, model.ErrGameNotFound) {
				return nil, fmt.Errorf("%w: %s", model.ErrInvalidSession, gameID)
			}
			return nil, serverError("load game", err)
		}
		s.game = game
		return s, nil
	}
}

func (c *Controller) cached(gameID model.GameID, s *session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[gameID] == s
}

// forget drops the handle if it is still the cached one
func (c *Controller) forget(gameID model.GameID, s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessions[gameID] == s {
		delete(c.sessions, gameID)
	}
}

// ActiveSessions returns the number of cached session handles
func (c *Controller) ActiveSessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// ApplyMove claims cellIndex for userID. When the move fills the board the
// game completes and is settled in the same step.
func (c *Controller) ApplyMove(ctx context.Context, gameID model.GameID, userID model.UserID, cellIndex int) (*Outcome, error) {
	if !model.InBounds(cellIndex) {
		return nil, fmt.Errorf("%w: %d", model.ErrIndexOutOfRange, cellIndex)
	}

	s, err := c.acquire(ctx, gameID)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	current := s.game
	if !current.IsActive() {
		return nil, model.ErrNotActive
	}
	slot, ok := current.SlotOf(userID)
	if !ok {
		return nil, model.ErrNotParticipant
	}
	if slot != current.CurrentTurn {
		return nil, model.ErrNotYourTurn
	}
	if current.Grid[cellIndex] != model.SlotNone {
		return nil, model.ErrCellOccupied
	}

	now := c.clock.Now()
	next := current.Clone()
	next.Grid[cellIndex] = slot
	next.CurrentTurn = slot.Other()
	next.UpdatedAt = now

	if !next.Grid.Full() {
		if err := c.storage.SaveGame(ctx, next); err != nil {
			c.logger.Error("failed to save move",
				slog.String("game_id", string(gameID)),
				slog.Int("cell", cellIndex),
				slog.String("error", err.Error()),
			)
			return nil, serverError("save move", err)
		}
		s.game = next
		return &Outcome{Game: next.Clone()}, nil
	}

	scores := c.scoringService.ScoreGrid(next.Grid)
	next.Finish(model.GameStatusCompleted, scores.Result(), model.EndReasonBoardFull, scores.AreaA, scores.AreaB, now)
	return c.settle(ctx, gameID, s, next)
}

// Forfeit ends the game with userID losing. Forfeiting a finished game fails
// with ErrNotActive and changes nothing.
func (c *Controller) Forfeit(ctx context.Context, gameID model.GameID, userID model.UserID) (*Outcome, error) {
	return c.abandon(ctx, gameID, userID, model.EndReasonForfeit)
}

// HandleDisconnect ends the game with userID losing. It is a no-op (nil
// outcome, nil error) if the game has already finished.
func (c *Controller) HandleDisconnect(ctx context.Context, gameID model.GameID, userID model.UserID) (*Outcome, error) {
	out, err := c.abandon(ctx, gameID, userID, model.EndReasonDisconnect)
	if errors.Is(err, model.ErrNotActive) {
		return nil, nil
	}
	return out, err
}

func (c *Controller) abandon(ctx context.Context, gameID model.GameID, userID model.UserID, reason model.EndReason) (*Outcome, error) {
	s, err := c.acquire(ctx, gameID)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if !s.game.IsActive() {
		return nil, model.ErrNotActive
	}
	slot, ok := s.game.SlotOf(userID)
	if !ok {
		return nil, model.ErrNotParticipant
	}

	next := s.game.Clone()
	scores := c.scoringService.ScoreGrid(next.Grid)
	next.Finish(model.GameStatusForfeited, model.ResultForfeitedBy(slot), reason, scores.AreaA, scores.AreaB, c.clock.Now())
	return c.settle(ctx, gameID, s, next)
}

// settle stores a finished game and applies its coin and record changes to
// both users in one unit. Caller holds s.mu.
func (c *Controller) settle(ctx context.Context, gameID model.GameID, s *session, finished *model.Game) (*Outcome, error) {
	userA, userB, err := c.storage.SettleGame(ctx, finished)
	if err != nil {
		return nil, c.settleError(ctx, s, finished, err)
	}
	s.game = finished
	c.forget(gameID, s)

	c.logger.Info("game finished",
		slog.String("game_id", string(gameID)),
		slog.String("status", string(finished.Status)),
		slog.String("result", string(finished.Result)),
		slog.String("end_reason", string(finished.EndReason)),
		slog.Int("area_a", finished.AreaA),
		slog.Int("area_b", finished.AreaB),
	)

	return &Outcome{
		Game:  finished.Clone(),
		Ended: true,
		UserA: userA,
		UserB: userB,
	}, nil
}

// settleError reports a failed settlement. A game whose participants no
// longer exist cannot be settled, so it is closed without stats changes and
// dropped; any other failure leaves the session as it was.
func (c *Controller) settleError(ctx context.Context, s *session, finished *model.Game, err error) error {
	c.logger.Error("failed to settle game",
		slog.String("game_id", string(finished.ID)),
		slog.String("error", err.Error()),
	)
	if !errors.Is(err, model.ErrUserNotFound) {
		return serverError("settle game", err)
	}

	if saveErr := c.storage.SaveGame(ctx, finished); saveErr != nil {
		c.logger.Error("failed to close inconsistent game",
			slog.String("game_id", string(finished.ID)),
			slog.String("error", saveErr.Error()),
		)
	} else {
		s.game = finished
	}
	c.forget(finished.ID, s)
	return fmt.Errorf("settle game %s: %w: %w", finished.ID, model.ErrInconsistentState, err)
}
