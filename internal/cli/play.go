package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/mcoot/islandgame/internal/api/response"
	"github.com/mcoot/islandgame/internal/messages"
	"github.com/mcoot/islandgame/internal/model"
)

func newPlayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "play",
		Short: "Find an opponent and play a game",
		Long: `Join the matchmaking queue and play one game in the terminal.

Cells are numbered 0-24, left to right and top to bottom. Enter a cell
number to claim it, or 'f' to forfeit. Press Ctrl+C to leave (this counts
as a disconnect and loses the game).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Token == "" {
				return errors.New("not logged in")
			}

			var me response.User
			if err := client.Get("/api/v1/users/me", &me); err != nil {
				return err
			}

			wsURL, err := client.WebSocketURL()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			conn, _, err := websocket.Dial(ctx, wsURL, nil)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

			player := NewPlayer(conn, model.UserID(me.ID), messages.Default(), cmd.InOrStdin(), cmd.OutOrStdout())
			_, err = player.Play(ctx)
			return err
		},
	}
}

// Player plays one game over a realtime connection, reading moves from in
// and writing the board to out
type Player struct {
	conn    *websocket.Conn
	self    model.UserID
	catalog *messages.Catalog
	in      io.Reader
	out     io.Writer

	gameID   model.GameID
	opponent model.PlayerInfo
	grid     []*model.UserID
	myTurn   bool
	awaiting bool
	want     chan struct{}
}

// NewPlayer creates a Player for the user self
func NewPlayer(conn *websocket.Conn, self model.UserID, catalog *messages.Catalog, in io.Reader, out io.Writer) *Player {
	return &Player{
		conn:    conn,
		self:    self,
		catalog: catalog,
		in:      in,
		out:     out,
		grid:    make([]*model.UserID, model.GridCells),
		want:    make(chan struct{}, 1),
	}
}

// Play queues for a match and returns the final result once the game ends
func (p *Player) Play(ctx context.Context) (*model.GameEndPayload, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan model.Envelope)
	readErr := make(chan error, 1)
	go func() {
		for {
			var env model.Envelope
			if err := wsjson.Read(ctx, p.conn, &env); err != nil {
				readErr <- err
				return
			}
			select {
			case events <- env:
			case <-ctx.Done():
				return
			}
		}
	}()

	lines := make(chan string)
	go p.readInput(ctx, lines)

	if err := p.send(ctx, model.EventFindMatch, model.FindMatchPayload{}); err != nil {
		return nil, err
	}
	p.println(p.catalog.Text(messages.KeyPlaySearching))

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err := <-readErr:
			return nil, fmt.Errorf("connection lost: %w", err)
		case line, ok := <-lines:
			if !ok {
				return nil, errors.New("input closed")
			}
			if err := p.handleInput(ctx, line); err != nil {
				return nil, err
			}
		case env := <-events:
			end, err := p.handleEvent(ctx, env)
			if err != nil || end != nil {
				return end, err
			}
		}
	}
}

// readInput reads one line from in each time a prompt is shown
func (p *Player) readInput(ctx context.Context, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(p.in)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.want:
		}
		if !scanner.Scan() {
			return
		}
		select {
		case lines <- strings.TrimSpace(scanner.Text()):
		case <-ctx.Done():
			return
		}
	}
}

func (p *Player) handleEvent(ctx context.Context, env model.Envelope) (*model.GameEndPayload, error) {
	switch env.Type {
	case model.EventMatchFound:
		var payload model.MatchFoundPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		p.render(messages.KeyPlayMatched, map[string]any{"Opponent": payload.Opponent.Name})
		return nil, p.send(ctx, model.EventJoinGame, model.JoinGamePayload{GameID: payload.GameID})

	case model.EventStartGame:
		var payload model.StartGamePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		p.gameID = payload.GameID
		p.opponent = payload.Opponent
		p.myTurn = payload.FirstTurn == p.self
		p.render(messages.KeyPlayStarted, map[string]any{
			"GameID":   payload.GameID,
			"Color":    payload.MyColor,
			"Opponent": payload.Opponent.Name,
			"MyTurn":   p.myTurn,
		})
		p.showBoard(false)
		p.nextTurn()

	case model.EventMoveMade:
		var payload model.MoveMadePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		p.grid = payload.Grid
		p.myTurn = payload.NextTurn == p.self
		p.showBoard(false)
		p.nextTurn()

	case model.EventGameEnd:
		var payload model.GameEndPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		p.grid = payload.FinalGrid
		p.showBoard(true)
		p.showResult(&payload)
		return &payload, nil

	case model.EventError:
		var payload model.ErrorPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		if p.gameID == "" {
			return nil, errors.New(payload.Message)
		}
		p.println("Error: " + payload.Message)
		if p.myTurn {
			p.prompt()
		}
	}
	return nil, nil
}

func (p *Player) handleInput(ctx context.Context, line string) error {
	p.awaiting = false
	if strings.EqualFold(line, "f") {
		return p.send(ctx, model.EventForfeitGame, model.ForfeitGamePayload{GameID: p.gameID})
	}

	cell, err := strconv.Atoi(line)
	if err != nil || !model.InBounds(cell) {
		p.println(p.catalog.Text(messages.KeyErrIndexOutOfRange))
		p.prompt()
		return nil
	}
	return p.send(ctx, model.EventMakeMove, model.MakeMovePayload{GameID: p.gameID, CellIndex: &cell})
}

func (p *Player) nextTurn() {
	if p.myTurn {
		p.prompt()
		return
	}
	p.println(p.catalog.Text(messages.KeyPlayWaiting))
}

func (p *Player) prompt() {
	if p.awaiting {
		return
	}
	p.awaiting = true
	_, _ = fmt.Fprint(p.out, p.catalog.Text(messages.KeyPlayPrompt))
	p.want <- struct{}{}
}

func (p *Player) showBoard(final bool) {
	_, _ = fmt.Fprint(p.out, RenderBoard(p.grid, p.opponent.ID, final))
}

func (p *Player) showResult(end *model.GameEndPayload) {
	outcome, mine, theirs, coins := end.Player1Result, end.Player1MaxArea, end.Player2MaxArea, end.Player1Coins
	if end.Player2ID == p.self {
		outcome, mine, theirs, coins = end.Player2Result, end.Player2MaxArea, end.Player1MaxArea, end.Player2Coins
	}
	p.render(messages.KeyPlayResult, map[string]any{
		"Outcome":      outcome,
		"MyArea":       mine,
		"OpponentArea": theirs,
		"Coins":        coins,
		"Message":      end.Message,
	})
}

func (p *Player) render(key string, data any) {
	text, err := p.catalog.Render(key, data)
	if err != nil {
		text = p.catalog.Text(key)
	}
	p.println(text)
}

func (p *Player) println(text string) {
	_, _ = fmt.Fprintln(p.out, text)
}

func (p *Player) send(ctx context.Context, eventType model.EventType, payload any) error {
	if err := wsjson.Write(ctx, p.conn, model.Event{Type: eventType, Payload: payload}); err != nil {
		return fmt.Errorf("send %s: %w", eventType, err)
	}
	return nil
}
