package storage

import (
	"context"

	"github.com/mcoot/islandgame/internal/model"
)

// Storage defines the interface for data persistence.
// Implementations return copies: mutating a returned value never changes
// stored state until it is saved.
type Storage interface {
	// User operations
	CreateUser(ctx context.Context, user *model.User) error // ErrNameTaken if the name is in use
	SaveUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, id model.UserID) (*model.User, error)
	GetUserByName(ctx context.Context, name string) (*model.User, error)
	RenameUser(ctx context.Context, id model.UserID, name string) (*model.User, error)
	Leaderboard(ctx context.Context, limit int) ([]*model.User, error) // coins desc, name asc

	// Game operations
	CreateGame(ctx context.Context, game *model.Game) error
	SaveGame(ctx context.Context, game *model.Game) error
	GetGame(ctx context.Context, id model.GameID) (*model.Game, error)
	ListGamesForUser(ctx context.Context, userID model.UserID) ([]*model.Game, error)
	ListGamesByStatus(ctx context.Context, status model.GameStatus) ([]*model.Game, error)

	// SettleGame writes a finished game and applies its result to the
	// stored records of both participants as one unit: either everything is
	// stored or nothing is. The records are read and updated inside that
	// unit, so concurrent settlements or renames of the same user are never
	// lost. It returns the settled users, slot A first.
	SettleGame(ctx context.Context, game *model.Game) (*model.User, *model.User, error)
}
