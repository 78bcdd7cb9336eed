package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/mcoot/islandgame/internal/model"
	"github.com/mcoot/islandgame/internal/storage"
)

// Storage is an in-memory implementation of the storage interface
type Storage struct {
	mu sync.RWMutex

	users     map[model.UserID]*model.User
	nameIndex map[string]model.UserID
	games     map[model.GameID]*model.Game
	userGames map[model.UserID][]model.GameID
}

// New creates a new in-memory storage instance
func New() *Storage {
	return &Storage{
		users:     make(map[model.UserID]*model.User),
		nameIndex: make(map[string]model.UserID),
		games:     make(map[model.GameID]*model.Game),
		userGames: make(map[model.UserID][]model.GameID),
	}
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// User operations

func (s *Storage) CreateUser(ctx context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.nameIndex[user.Name]; taken {
		return model.ErrNameTaken
	}
	s.users[user.ID] = user.Clone()
	s.nameIndex[user.Name] = user.ID
	return nil
}

func (s *Storage) SaveUser(ctx context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putUser(user)
}

// putUser stores a user and keeps the name index current. Caller holds the lock.
func (s *Storage) putUser(user *model.User) error {
	if owner, taken := s.nameIndex[user.Name]; taken && owner != user.ID {
		return model.ErrNameTaken
	}
	if old, ok := s.users[user.ID]; ok && old.Name != user.Name {
		delete(s.nameIndex, old.Name)
	}
	s.users[user.ID] = user.Clone()
	s.nameIndex[user.Name] = user.ID
	return nil
}

func (s *Storage) GetUser(ctx context.Context, id model.UserID) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	return user.Clone(), nil
}

func (s *Storage) GetUserByName(ctx context.Context, name string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.nameIndex[name]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	user, ok := s.users[id]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	return user.Clone(), nil
}

func (s *Storage) RenameUser(ctx context.Context, id model.UserID, name string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	renamed := user.Clone()
	renamed.Name = name
	if err := s.putUser(renamed); err != nil {
		return nil, err
	}
	return renamed, nil
}

func (s *Storage) Leaderboard(ctx context.Context, limit int) ([]*model.User, error) {
	s.mu.RLock()
	users := make([]*model.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool {
		if users[i].Coins != users[j].Coins {
			return users[i].Coins > users[j].Coins
		}
		return users[i].Name < users[j].Name
	})
	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

// Game operations

func (s *Storage) CreateGame(ctx context.Context, game *model.Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games[game.ID] = game.Clone()
	s.userGames[game.SlotA] = append(s.userGames[game.SlotA], game.ID)
	s.userGames[game.SlotB] = append(s.userGames[game.SlotB], game.ID)
	return nil
}

func (s *Storage) SaveGame(ctx context.Context, game *model.Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[game.ID]; !ok {
		return model.ErrGameNotFound
	}
	s.games[game.ID] = game.Clone()
	return nil
}

func (s *Storage) GetGame(ctx context.Context, id model.GameID) (*model.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	game, ok := s.games[id]
	if !ok {
		return nil, model.ErrGameNotFound
	}
	return game.Clone(), nil
}

func (s *Storage) ListGamesForUser(ctx context.Context, userID model.UserID) ([]*model.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.userGames[userID]
	games := make([]*model.Game, 0, len(ids))
	for _, id := range ids {
		if game, ok := s.games[id]; ok {
			games = append(games, game.Clone())
		}
	}
	return games, nil
}

func (s *Storage) ListGamesByStatus(ctx context.Context, status model.GameStatus) ([]*model.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var games []*model.Game
	for _, game := range s.games {
		if game.Status == status {
			games = append(games, game.Clone())
		}
	}
	return games, nil
}

func (s *Storage) SettleGame(ctx context.Context, game *model.Game) (*model.User, *model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[game.ID]; !ok {
		return nil, nil, model.ErrGameNotFound
	}
	storedA, okA := s.users[game.SlotA]
	storedB, okB := s.users[game.SlotB]
	if !okA || !okB {
		return nil, nil, model.ErrUserNotFound
	}

	a, b := storedA.Clone(), storedB.Clone()
	model.Settle(game.Result, a, b, game.EndedAt)
	s.users[a.ID] = a
	s.users[b.ID] = b
	s.games[game.ID] = game.Clone()
	return a.Clone(), b.Clone(), nil
}
