package profile

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/mcoot/islandgame/internal/model"
	"github.com/mcoot/islandgame/internal/storage"
)

// UnknownOpponent is shown when an opponent record no longer exists
const UnknownOpponent = "Unknown"

// DefaultLeaderboardLimit is used when no positive limit is given
const DefaultLeaderboardLimit = 10

// HistoryEntry is one finished game from the viewer's side
type HistoryEntry struct {
	Game         *model.Game
	OpponentID   model.UserID
	OpponentName string
	Outcome      model.Outcome
}

// GameView is a game as seen by one of its participants
type GameView struct {
	Game          *model.Game
	MyColor       string
	OpponentColor string
	Opponent      model.PlayerInfo
	Outcome       model.Outcome // empty while the game is active
}

// Service serves user profiles, history and rankings
type Service struct {
	storage storage.Storage
	logger  *slog.Logger
}

// New creates a new profile Service
func New(storage storage.Storage, logger *slog.Logger) *Service {
	return &Service{storage: storage, logger: logger}
}

// Get returns the user
func (s *Service) Get(ctx context.Context, userID model.UserID) (*model.User, error) {
	return s.storage.GetUser(ctx, userID)
}

// Rename changes the user's name. Renaming to the current name is a no-op.
func (s *Service) Rename(ctx context.Context, userID model.UserID, name string) (*model.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, model.ErrInvalidName
	}

	user, err := s.storage.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Name == name {
		return user, nil
	}

	renamed, err := s.storage.RenameUser(ctx, userID, name)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user renamed",
		slog.String("user_id", string(userID)),
		slog.String("from", user.Name),
		slog.String("to", renamed.Name),
	)
	return renamed, nil
}

// History returns the user's finished games, most recent first
func (s *Service) History(ctx context.Context, userID model.UserID) ([]HistoryEntry, error) {
	if _, err := s.storage.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	games, err := s.storage.ListGamesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	names := make(map[model.UserID]string)
	entries := make([]HistoryEntry, 0, len(games))
	for _, g := range games {
		if !g.Status.IsTerminal() {
			continue
		}
		slot, ok := g.SlotOf(userID)
		if !ok {
			continue
		}
		opponentID := g.UserIn(slot.Other())
		name, ok := names[opponentID]
		if !ok {
			name, err = s.nameOf(ctx, opponentID)
			if err != nil {
				return nil, err
			}
			names[opponentID] = name
		}
		entries = append(entries, HistoryEntry{
			Game:         g,
			OpponentID:   opponentID,
			OpponentName: name,
			Outcome:      g.Result.For(slot),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Game.UpdatedAt.After(entries[j].Game.UpdatedAt)
	})
	return entries, nil
}

func (s *Service) nameOf(ctx context.Context, userID model.UserID) (string, error) {
	user, err := s.storage.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return UnknownOpponent, nil
		}
		return "", err
	}
	return user.Name, nil
}

// GameDetails returns the game from viewerID's side. Only participants may
// view a game.
func (s *Service) GameDetails(ctx context.Context, gameID model.GameID, viewerID model.UserID) (*GameView, error) {
	g, err := s.storage.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	slot, ok := g.SlotOf(viewerID)
	if !ok {
		return nil, model.ErrNotParticipant
	}

	opponentID := g.UserIn(slot.Other())
	opponent := model.PlayerInfo{ID: opponentID, Name: UnknownOpponent}
	if user, err := s.storage.GetUser(ctx, opponentID); err == nil {
		opponent = model.InfoOf(user)
	} else if !errors.Is(err, model.ErrUserNotFound) {
		return nil, err
	}

	view := &GameView{
		Game:          g,
		MyColor:       g.ColorOf(slot),
		OpponentColor: g.ColorOf(slot.Other()),
		Opponent:      opponent,
	}
	if g.Status.IsTerminal() {
		view.Outcome = g.Result.For(slot)
	}
	return view, nil
}

// Leaderboard returns the top users by coins
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]*model.User, error) {
	if limit <= 0 {
		limit = DefaultLeaderboardLimit
	}
	return s.storage.Leaderboard(ctx, limit)
}
