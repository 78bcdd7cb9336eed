package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mcoot/islandgame/internal/messages"
	"github.com/mcoot/islandgame/internal/model"
	"github.com/mcoot/islandgame/internal/realtime"
	"github.com/mcoot/islandgame/internal/services/game"
	"github.com/mcoot/islandgame/internal/services/matchmaking"
)

// Sessions is the game state machine the registry routes actions to
type Sessions interface {
	GetGame(ctx context.Context, gameID model.GameID) (*model.Game, error)
	ApplyMove(ctx context.Context, gameID model.GameID, userID model.UserID, cellIndex int) (*game.Outcome, error)
	Forfeit(ctx context.Context, gameID model.GameID, userID model.UserID) (*game.Outcome, error)
	HandleDisconnect(ctx context.Context, gameID model.GameID, userID model.UserID) (*game.Outcome, error)
}

// UserFinder looks users up by ID
type UserFinder interface {
	GetUser(ctx context.Context, id model.UserID) (*model.User, error)
}

// Dequeuer removes connections from matchmaking
type Dequeuer interface {
	CancelConn(conn model.ConnID) bool
}

// ActionKind identifies an in-game action
type ActionKind string

const (
	ActionMove    ActionKind = "move"
	ActionForfeit ActionKind = "forfeit"
)

// Action is an in-game request arriving on a connection. GameID and UserID
// are optional; when set they must match the connection's binding.
type Action struct {
	Kind      ActionKind
	GameID    model.GameID
	UserID    model.UserID
	CellIndex int
}

type participant struct {
	userID model.UserID
	conn   model.ConnID // empty until known
	joined bool
}

// entry tracks the connections of one game. Its mutex serializes actions
// and the events they produce.
type entry struct {
	mu      sync.Mutex
	gameID  model.GameID
	players [2]participant // index 0 is slot A
	active  bool           // both participants have joined
	removed bool
}

func (e *entry) slotOfConn(conn model.ConnID) (int, bool) {
	for i, p := range e.players {
		if p.conn != "" && p.conn == conn {
			return i, true
		}
	}
	return 0, false
}

func (e *entry) slotOfUser(userID model.UserID) (int, bool) {
	for i, p := range e.players {
		if p.userID == userID {
			return i, true
		}
	}
	return 0, false
}

// Registry maps connections to the games they play in and routes their
// actions to the game state machine
type Registry struct {
	sessions Sessions
	users    UserFinder
	queue    Dequeuer
	sender   realtime.Sender
	messages *messages.Catalog
	logger   *slog.Logger

	mu      sync.Mutex
	entries map[model.GameID]*entry
	conns   map[model.ConnID]model.GameID
}

// New creates a new Registry
func New(
	sessions Sessions,
	users UserFinder,
	queue Dequeuer,
	sender realtime.Sender,
	catalog *messages.Catalog,
	logger *slog.Logger,
) *Registry {
	return &Registry{
		sessions: sessions,
		users:    users,
		queue:    queue,
		sender:   sender,
		messages: catalog,
		logger:   logger,
		entries:  make(map[model.GameID]*entry),
		conns:    make(map[model.ConnID]model.GameID),
	}
}

// Track records the connections of a fresh match as a pending entry, so a
// participant leaving before joining still forfeits. A connection already
// seated in another game keeps that seat; the new seat stays unbound until
// its user joins.
func (r *Registry) Track(match *matchmaking.Match) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[match.Game.ID]
	if !ok {
		e = newEntry(match.Game)
		r.entries[match.Game.ID] = e
	}
	for i, conn := range []model.ConnID{match.A.Conn, match.B.Conn} {
		if bound, seated := r.conns[conn]; seated && bound != match.Game.ID {
			r.logger.Warn("connection already seated, seat left unbound",
				slog.String("game_id", string(match.Game.ID)),
				slog.String("conn_id", string(conn)),
				slog.String("seated_game_id", string(bound)),
			)
			continue
		}
		if e.players[i].conn == "" {
			e.players[i].conn = conn
			r.conns[conn] = match.Game.ID
		}
	}
}

func newEntry(g *model.Game) *entry {
	return &entry{
		gameID: g.ID,
		players: [2]participant{
			{userID: g.SlotA},
			{userID: g.SlotB},
		},
	}
}

// lookup returns the entry for gameID, creating a pending one from the
// stored game if none is tracked
func (r *Registry) lookup(ctx context.Context, gameID model.GameID) (*entry, *model.Game, error) {
	g, err := r.sessions.GetGame(ctx, gameID)
	if err != nil {
		return nil, nil, err
	}
	if !g.IsActive() {
		return nil, nil, model.ErrNotActive
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[gameID]
	if !ok {
		e = newEntry(g)
		r.entries[gameID] = e
	}
	return e, g, nil
}

// RegisterParticipant binds conn to userID's seat in the game and takes
// conn out of matchmaking. Once both participants have joined, each receives
// start_game.
func (r *Registry) RegisterParticipant(ctx context.Context, gameID model.GameID, userID model.UserID, conn model.ConnID) error {
	e, _, err := r.lookup(ctx, gameID)
	if err != nil {
		return err
	}
	slot, ok := e.slotOfUser(userID)
	if !ok {
		return model.ErrNotParticipant
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// The game may have ended between lookup and taking the entry
	g, err := r.sessions.GetGame(ctx, gameID)
	if err != nil {
		r.handleSessionError(ctx, e, err)
		return err
	}
	if !g.IsActive() {
		r.removeLocked(e)
		return model.ErrNotActive
	}

	r.mu.Lock()
	if e.removed {
		r.mu.Unlock()
		return model.ErrNotActive
	}
	if bound, seated := r.conns[conn]; seated && bound != gameID {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", model.ErrAlreadyInGame, bound)
	}
	if old := e.players[slot].conn; old != "" && old != conn {
		delete(r.conns, old)
	}
	e.players[slot].conn = conn
	e.players[slot].joined = true
	r.conns[conn] = gameID
	promote := !e.active && e.players[0].joined && e.players[1].joined
	if promote {
		e.active = true
	}
	rejoin := e.active && !promote
	r.mu.Unlock()

	r.queue.CancelConn(conn)

	r.logger.Info("participant joined",
		slog.String("game_id", string(gameID)),
		slog.String("user_id", string(userID)),
		slog.String("conn_id", string(conn)),
		slog.Bool("session_active", e.active),
	)

	switch {
	case promote:
		return r.startGame(ctx, e, g, 0, 1)
	case rejoin:
		return r.startGame(ctx, e, g, slot)
	}
	return nil
}

// startGame sends start_game to the given seats, from each seat's point of view
func (r *Registry) startGame(ctx context.Context, e *entry, g *model.Game, seats ...int) error {
	var infos [2]model.PlayerInfo
	for i, p := range e.players {
		user, err := r.users.GetUser(ctx, p.userID)
		if err != nil {
			if errors.Is(err, model.ErrUserNotFound) {
				r.fail(ctx, e, err)
			}
			return err
		}
		infos[i] = model.InfoOf(user)
	}

	for _, seat := range seats {
		mine := model.SlotA
		if seat == 1 {
			mine = model.SlotB
		}
		r.sender.Send(e.players[seat].conn, model.Event{
			Type: model.EventStartGame,
			Payload: model.StartGamePayload{
				GameID:        g.ID,
				FirstTurn:     g.CurrentTurnUser(),
				MyColor:       g.ColorOf(mine),
				OpponentColor: g.ColorOf(mine.Other()),
				Opponent:      infos[1-seat],
			},
		})
	}
	return nil
}

// RouteAction runs a move or forfeit from conn against its game and
// broadcasts the result
func (r *Registry) RouteAction(ctx context.Context, conn model.ConnID, action Action) error {
	r.mu.Lock()
	gameID, ok := r.conns[conn]
	var e *entry
	if ok {
		e = r.entries[gameID]
	}
	r.mu.Unlock()
	if e == nil {
		return model.ErrInvalidSession
	}
	if action.GameID != "" && action.GameID != gameID {
		return model.ErrInvalidSession
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	seat, ok := e.slotOfConn(conn)
	if !ok || e.removed {
		return model.ErrInvalidSession
	}
	userID := e.players[seat].userID
	if action.UserID != "" && action.UserID != userID {
		return model.ErrNotParticipant
	}

	var (
		out *game.Outcome
		err error
	)
	switch action.Kind {
	case ActionMove:
		out, err = r.sessions.ApplyMove(ctx, gameID, userID, action.CellIndex)
	case ActionForfeit:
		out, err = r.sessions.Forfeit(ctx, gameID, userID)
	default:
		return model.ErrInvalidRequest
	}
	if err != nil {
		r.handleSessionError(ctx, e, err)
		return err
	}

	if action.Kind == ActionMove {
		r.broadcast(e, model.Event{
			Type: model.EventMoveMade,
			Payload: model.MoveMadePayload{
				GameID:   gameID,
				Grid:     out.Game.OwnerIDs(),
				NextTurn: out.Game.CurrentTurnUser(),
			},
		})
	}
	if out.Ended {
		r.finish(e, out)
	}
	return nil
}

// OnDisconnect drops conn from matchmaking and, if it was seated in an
// unfinished game, ends that game against its user
func (r *Registry) OnDisconnect(ctx context.Context, conn model.ConnID) {
	r.queue.CancelConn(conn)

	r.mu.Lock()
	gameID, ok := r.conns[conn]
	var e *entry
	if ok {
		e = r.entries[gameID]
	}
	r.mu.Unlock()
	if e == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	seat, ok := e.slotOfConn(conn)
	if !ok || e.removed {
		return
	}

	out, err := r.sessions.HandleDisconnect(ctx, gameID, e.players[seat].userID)
	if err != nil {
		r.logger.Error("failed to handle disconnect",
			slog.String("game_id", string(gameID)),
			slog.String("conn_id", string(conn)),
			slog.String("error", err.Error()),
		)
		r.handleSessionError(ctx, e, err)
		return
	}

	r.mu.Lock()
	delete(r.conns, conn)
	r.mu.Unlock()
	e.players[seat].conn = ""

	if out == nil {
		// Already finished elsewhere
		r.removeLocked(e)
		return
	}
	r.finish(e, out)
}

// RemoveTerminalSession forgets a finished game
func (r *Registry) RemoveTerminalSession(gameID model.GameID) {
	r.mu.Lock()
	e, ok := r.entries[gameID]
	r.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	r.removeLocked(e)
}

// removeLocked drops the entry and its connections. Caller holds e.mu.
func (r *Registry) removeLocked(e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.removed {
		return
	}
	e.removed = true
	if r.entries[e.gameID] == e {
		delete(r.entries, e.gameID)
	}
	for _, p := range e.players {
		if p.conn != "" && r.conns[p.conn] == e.gameID {
			delete(r.conns, p.conn)
		}
	}
	r.logger.Info("session removed", slog.String("game_id", string(e.gameID)))
}

// finish broadcasts game_end and removes the session. Caller holds e.mu.
func (r *Registry) finish(e *entry, out *game.Outcome) {
	g := out.Game
	payload := model.GameEndPayload{
		GameID:         g.ID,
		FinalGrid:      g.OwnerIDs(),
		Player1Result:  g.Result.For(model.SlotA),
		Player2Result:  g.Result.For(model.SlotB),
		Player1ID:      g.SlotA,
		Player2ID:      g.SlotB,
		Player1MaxArea: g.AreaA,
		Player2MaxArea: g.AreaB,
		Message:        r.messages.EndMessage(g.EndReason),
	}
	if out.UserA != nil {
		payload.Player1Coins = out.UserA.Coins
	}
	if out.UserB != nil {
		payload.Player2Coins = out.UserB.Coins
	}
	r.broadcast(e, model.Event{Type: model.EventGameEnd, Payload: payload})
	r.removeLocked(e)
}

// handleSessionError tears the session down when its state can no longer
// be trusted, or quietly drops it when the game already ended. Caller holds e.mu.
func (r *Registry) handleSessionError(ctx context.Context, e *entry, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidSession), errors.Is(err, model.ErrInconsistentState):
		r.fail(ctx, e, err)
	case errors.Is(err, model.ErrNotActive):
		r.removeLocked(e)
	}
}

// fail tells both connections the session is gone and removes it. Caller holds e.mu.
func (r *Registry) fail(ctx context.Context, e *entry, err error) {
	r.logger.Error("session state inconsistent, removing",
		slog.String("game_id", string(e.gameID)),
		slog.String("error", err.Error()),
	)
	r.broadcast(e, model.Event{
		Type:    model.EventError,
		Payload: model.ErrorPayload{Message: r.messages.ErrorText(model.ErrInvalidSession)},
	})
	r.removeLocked(e)
}

func (r *Registry) broadcast(e *entry, event model.Event) {
	for _, p := range e.players {
		if p.conn != "" {
			r.sender.Send(p.conn, event)
		}
	}
}

// Sessions returns the number of tracked games
func (r *Registry) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Bound returns the unfinished game conn is seated in, if any
func (r *Registry) Bound(conn model.ConnID) (model.GameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.conns[conn]
	return id, ok
}
