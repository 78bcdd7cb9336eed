package matchmaking

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mcoot/islandgame/internal/messages"
	"github.com/mcoot/islandgame/internal/model"
	"github.com/mcoot/islandgame/internal/realtime"
)

// SessionCreator starts games for matched pairs
type SessionCreator interface {
	CreateGame(ctx context.Context, a, b model.UserID) (*model.Game, error)
}

// UserFinder looks users up by ID
type UserFinder interface {
	GetUser(ctx context.Context, id model.UserID) (*model.User, error)
}

// Entry is a user waiting for an opponent
type Entry struct {
	User *model.User
	Conn model.ConnID
}

// Match is a pair that has been given a game
type Match struct {
	Game *model.Game
	A    Entry // seated in slot A
	B    Entry
}

// QueueInterface is the matchmaking surface used by the gateway and registry
type QueueInterface interface {
	Enqueue(ctx context.Context, userID model.UserID, conn model.ConnID) (*Match, error)
	Cancel(userID model.UserID) bool
	CancelConn(conn model.ConnID) bool
	Len() int
}

// Queue pairs waiting users first-in first-out
type Queue struct {
	sessions SessionCreator
	users    UserFinder
	sender   realtime.Sender
	messages *messages.Catalog
	logger   *slog.Logger

	mu      sync.Mutex
	waiting []Entry
	// Users popped for pairing whose game is still being created
	pairing map[model.UserID]*pairingEntry
}

type pairingEntry struct {
	conn      model.ConnID
	cancelled bool
}

// Ensure Queue implements QueueInterface
var _ QueueInterface = (*Queue)(nil)

// NewQueue creates a new matchmaking Queue
func NewQueue(
	sessions SessionCreator,
	users UserFinder,
	sender realtime.Sender,
	catalog *messages.Catalog,
	logger *slog.Logger,
) *Queue {
	return &Queue{
		sessions: sessions,
		users:    users,
		sender:   sender,
		messages: catalog,
		logger:   logger,
		pairing:  make(map[model.UserID]*pairingEntry),
	}
}

// Enqueue adds userID to the back of the queue and tries to pair the two
// oldest waiting users. It returns the match if one was made.
func (q *Queue) Enqueue(ctx context.Context, userID model.UserID, conn model.ConnID) (*Match, error) {
	user, err := q.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	q.mu.Lock()
	if q.isQueued(userID) {
		q.mu.Unlock()
		return nil, model.ErrAlreadyQueued
	}
	q.waiting = append(q.waiting, Entry{User: user, Conn: conn})
	waiting := len(q.waiting)
	q.mu.Unlock()

	q.logger.Info("user queued",
		slog.String("user_id", string(userID)),
		slog.String("conn_id", string(conn)),
		slog.Int("waiting", waiting),
	)

	return q.tryMatch(ctx), nil
}

// isQueued reports whether the user is waiting or being paired. Caller holds q.mu.
func (q *Queue) isQueued(userID model.UserID) bool {
	if _, ok := q.pairing[userID]; ok {
		return true
	}
	for _, e := range q.waiting {
		if e.User.ID == userID {
			return true
		}
	}
	return false
}

// Cancel removes the user from the queue. It reports whether anything changed.
func (q *Queue) Cancel(userID model.UserID) bool {
	return q.remove(func(e Entry) bool { return e.User.ID == userID })
}

// CancelConn removes whoever queued from conn
func (q *Queue) CancelConn(conn model.ConnID) bool {
	return q.remove(func(e Entry) bool { return e.Conn == conn })
}

func (q *Queue) remove(match func(Entry) bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.waiting {
		if match(e) {
			q.waiting = append(q.waiting[:i:i], q.waiting[i+1:]...)
			q.logger.Info("user left queue", slog.String("user_id", string(e.User.ID)))
			return true
		}
	}

	// Someone mid-pairing is not put back if their game cannot be created
	for userID, p := range q.pairing {
		if !p.cancelled && match(Entry{User: &model.User{ID: userID}, Conn: p.conn}) {
			p.cancelled = true
			q.logger.Info("user left queue during pairing", slog.String("user_id", string(userID)))
			return true
		}
	}
	return false
}

// Len returns the number of waiting users
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}

// tryMatch pairs the two oldest waiting users. Game creation happens outside
// the lock; on failure both are put back at the head in the order they were queued.
func (q *Queue) tryMatch(ctx context.Context) *Match {
	q.mu.Lock()
	if len(q.waiting) < 2 {
		q.mu.Unlock()
		return nil
	}
	a, b := q.waiting[0], q.waiting[1]
	q.waiting = append([]Entry(nil), q.waiting[2:]...)
	q.pairing[a.User.ID] = &pairingEntry{conn: a.Conn}
	q.pairing[b.User.ID] = &pairingEntry{conn: b.Conn}
	q.mu.Unlock()

	game, err := q.sessions.CreateGame(ctx, a.User.ID, b.User.ID)
	if err != nil {
		q.rollback(a, b)
		q.logger.Error("failed to create match",
			slog.String("user_a", string(a.User.ID)),
			slog.String("user_b", string(b.User.ID)),
			slog.String("error", err.Error()),
		)
		failed := model.Event{Type: model.EventError, Payload: model.ErrorPayload{Message: q.messages.Text(messages.KeyMatchFailed)}}
		q.sender.Send(a.Conn, failed)
		q.sender.Send(b.Conn, failed)
		return nil
	}

	q.mu.Lock()
	delete(q.pairing, a.User.ID)
	delete(q.pairing, b.User.ID)
	q.mu.Unlock()

	q.sender.Send(a.Conn, model.Event{
		Type:    model.EventMatchFound,
		Payload: model.MatchFoundPayload{GameID: game.ID, Opponent: model.InfoOf(b.User)},
	})
	q.sender.Send(b.Conn, model.Event{
		Type:    model.EventMatchFound,
		Payload: model.MatchFoundPayload{GameID: game.ID, Opponent: model.InfoOf(a.User)},
	})

	q.logger.Info("match made",
		slog.String("game_id", string(game.ID)),
		slog.String("user_a", string(a.User.ID)),
		slog.String("user_b", string(b.User.ID)),
	)

	return &Match{Game: game, A: a, B: b}
}

// rollback returns a failed pair to the head of the queue, skipping anyone
// who cancelled while their game was being created
func (q *Queue) rollback(a, b Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var restored []Entry
	for _, e := range []Entry{a, b} {
		if p, ok := q.pairing[e.User.ID]; ok && !p.cancelled {
			restored = append(restored, e)
		}
		delete(q.pairing, e.User.ID)
	}
	q.waiting = append(restored, q.waiting...)
}
