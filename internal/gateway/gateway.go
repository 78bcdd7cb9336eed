package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mcoot/islandgame/internal/api/apierr"
	"github.com/mcoot/islandgame/internal/api/middleware"
	"github.com/mcoot/islandgame/internal/messages"
	"github.com/mcoot/islandgame/internal/model"
	"github.com/mcoot/islandgame/internal/realtime"
	"github.com/mcoot/islandgame/internal/services/matchmaking"
	"github.com/mcoot/islandgame/internal/services/registry"
)

// Matchmaker is the matchmaking queue as seen by connections
type Matchmaker interface {
	Enqueue(ctx context.Context, userID model.UserID, conn model.ConnID) (*matchmaking.Match, error)
	CancelConn(conn model.ConnID) bool
}

// Sessions is the session registry as seen by connections
type Sessions interface {
	Track(match *matchmaking.Match)
	RegisterParticipant(ctx context.Context, gameID model.GameID, userID model.UserID, conn model.ConnID) error
	RouteAction(ctx context.Context, conn model.ConnID, action registry.Action) error
	OnDisconnect(ctx context.Context, conn model.ConnID)
	Bound(conn model.ConnID) (model.GameID, bool)
}

// Config holds connection timing and limits
type Config struct {
	ReadLimit  int64
	PongWait   time.Duration
	PingPeriod time.Duration // must be less than PongWait
	WriteWait  time.Duration
}

// DefaultConfig returns the production connection settings
func DefaultConfig() Config {
	return Config{
		ReadLimit:  4096,
		PongWait:   60 * time.Second,
		PingPeriod: 30 * time.Second,
		WriteWait:  10 * time.Second,
	}
}

// Handler upgrades authenticated requests to WebSocket connections and
// translates their events into queue and registry calls
type Handler struct {
	hub      *realtime.Hub
	queue    Matchmaker
	sessions Sessions
	messages *messages.Catalog
	logger   *slog.Logger
	config   Config
	upgrader websocket.Upgrader
}

// New creates a new gateway Handler
func New(hub *realtime.Hub, queue Matchmaker, sessions Sessions, catalog *messages.Catalog, logger *slog.Logger, cfg Config) *Handler {
	return &Handler{
		hub:      hub,
		queue:    queue,
		sessions: sessions,
		messages: catalog,
		logger:   logger.With(slog.String("component", "gateway")),
		config:   cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// connection is one upgraded socket and the user behind it
type connection struct {
	id     model.ConnID
	user   *model.User
	ws     *websocket.Conn
	client *realtime.Client
}

// ServeHTTP handles GET /api/v1/ws. The auth middleware must run first.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		apierr.WriteError(w, apierr.NewUnauthorizedError())
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the response
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	id := model.ConnID(uuid.NewString())
	c := &connection{
		id:     id,
		user:   user,
		ws:     ws,
		client: realtime.NewClient(id, user.ID),
	}
	h.hub.Register(c.client)

	h.logger.Info("connection opened",
		slog.String("conn_id", string(id)),
		slog.String("user_id", string(user.ID)),
	)

	// The socket outlives the request once hijacked
	ctx := context.WithoutCancel(r.Context())
	go h.writePump(c)
	h.readPump(ctx, c)
}

func (h *Handler) readPump(ctx context.Context, c *connection) {
	defer func() {
		h.sessions.OnDisconnect(ctx, c.id)
		h.hub.Unregister(c.client)
		_ = c.ws.Close()
		h.logger.Info("connection closed",
			slog.String("conn_id", string(c.id)),
			slog.String("user_id", string(c.user.ID)),
		)
	}()

	c.ws.SetReadLimit(h.config.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(h.config.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(h.config.PongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read error",
					slog.String("conn_id", string(c.id)),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var envelope model.Envelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			h.reject(c, envelope.Type, fmt.Errorf("%w: malformed event", model.ErrInvalidRequest))
			continue
		}
		if err := h.dispatch(ctx, c, envelope); err != nil {
			h.reject(c, envelope.Type, err)
		}
	}
}

func (h *Handler) writePump(c *connection) {
	ticker := time.NewTicker(h.config.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.client.Messages():
			_ = c.ws.SetWriteDeadline(time.Now().Add(h.config.WriteWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(h.config.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch runs one inbound event
func (h *Handler) dispatch(ctx context.Context, c *connection, envelope model.Envelope) error {
	switch envelope.Type {
	case model.EventFindMatch:
		var data model.FindMatchPayload
		if err := decode(envelope, &data); err != nil {
			return err
		}
		if err := c.checkUser(data.UserID); err != nil {
			return err
		}
		// A connection plays one game at a time
		if gameID, seated := h.sessions.Bound(c.id); seated {
			return fmt.Errorf("%w: %s", model.ErrAlreadyInGame, gameID)
		}
		match, err := h.queue.Enqueue(ctx, c.user.ID, c.id)
		if err != nil {
			return err
		}
		if match != nil {
			h.sessions.Track(match)
		}
		return nil

	case model.EventCancelMatch:
		h.queue.CancelConn(c.id)
		return nil

	case model.EventJoinGame:
		var data model.JoinGamePayload
		if err := decode(envelope, &data); err != nil {
			return err
		}
		if err := c.checkUser(data.UserID); err != nil {
			return err
		}
		if data.GameID == "" {
			return fmt.Errorf("%w: gameId is required", model.ErrInvalidRequest)
		}
		return h.sessions.RegisterParticipant(ctx, data.GameID, c.user.ID, c.id)

	case model.EventMakeMove:
		var data model.MakeMovePayload
		if err := decode(envelope, &data); err != nil {
			return err
		}
		if err := c.checkUser(data.UserID); err != nil {
			return err
		}
		if data.CellIndex == nil {
			return fmt.Errorf("%w: cellIndex is required", model.ErrInvalidRequest)
		}
		return h.sessions.RouteAction(ctx, c.id, registry.Action{
			Kind:      registry.ActionMove,
			GameID:    data.GameID,
			UserID:    c.user.ID,
			CellIndex: *data.CellIndex,
		})

	case model.EventForfeitGame:
		var data model.ForfeitGamePayload
		if err := decode(envelope, &data); err != nil {
			return err
		}
		if err := c.checkUser(data.UserID); err != nil {
			return err
		}
		return h.sessions.RouteAction(ctx, c.id, registry.Action{
			Kind:   registry.ActionForfeit,
			GameID: data.GameID,
			UserID: c.user.ID,
		})

	default:
		return fmt.Errorf("%w: unknown event type %q", model.ErrInvalidRequest, envelope.Type)
	}
}

func decode(envelope model.Envelope, v any) error {
	if len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, v); err != nil {
		return fmt.Errorf("%w: invalid %s data", model.ErrInvalidRequest, envelope.Type)
	}
	return nil
}

// checkUser rejects payloads naming a user other than the authenticated one
func (c *connection) checkUser(claimed model.UserID) error {
	if claimed != "" && claimed != c.user.ID {
		return model.ErrNotParticipant
	}
	return nil
}

// reject sends an error event to the offending connection only
func (h *Handler) reject(c *connection, eventType model.EventType, err error) {
	attrs := []any{
		slog.String("conn_id", string(c.id)),
		slog.String("user_id", string(c.user.ID)),
		slog.String("event", string(eventType)),
		slog.String("kind", model.KindOf(err).String()),
		slog.String("error", err.Error()),
	}
	switch model.KindOf(err) {
	case model.KindPersistence, model.KindInternal:
		h.logger.Error("event failed", attrs...)
	default:
		h.logger.Info("event rejected", attrs...)
	}

	h.hub.Send(c.id, model.Event{
		Type:    model.EventError,
		Payload: model.ErrorPayload{Message: h.messages.ErrorText(err)},
	})
}
