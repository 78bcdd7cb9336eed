package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/mcoot/islandgame/internal/model"
	"github.com/mcoot/islandgame/internal/storage"
)

// SQLSTATE for unique_violation
const uniqueViolation = "23505"

// Storage is a Postgres-backed implementation of the storage interface
type Storage struct {
	db *sql.DB
}

// New opens a connection pool, verifies it and applies the schema
func New(cfg Config) (*Storage, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("postgres URL is required")
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Storage{db: db}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing pool. The schema is not applied.
func NewWithDB(db *sql.DB) *Storage {
	return &Storage{db: db}
}

// Close closes the connection pool
func (s *Storage) Close() error {
	return s.db.Close()
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// execer is satisfied by both *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// User operations

const userColumns = `id, name, password_hash, avatar_url, coins, wins, losses, draws, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Name, &u.PasswordHash, &u.AvatarURL,
		&u.Coins, &u.Wins, &u.Losses, &u.Draws, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Storage) CreateUser(ctx context.Context, user *model.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		user.ID, user.Name, user.PasswordHash, user.AvatarURL,
		user.Coins, user.Wins, user.Losses, user.Draws, user.CreatedAt, user.UpdatedAt)
	if isUniqueViolation(err) {
		return model.ErrNameTaken
	}
	return err
}

func (s *Storage) SaveUser(ctx context.Context, user *model.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			name=EXCLUDED.name,
			password_hash=EXCLUDED.password_hash,
			avatar_url=EXCLUDED.avatar_url,
			coins=EXCLUDED.coins,
			wins=EXCLUDED.wins,
			losses=EXCLUDED.losses,
			draws=EXCLUDED.draws,
			updated_at=EXCLUDED.updated_at`,
		user.ID, user.Name, user.PasswordHash, user.AvatarURL,
		user.Coins, user.Wins, user.Losses, user.Draws, user.CreatedAt, user.UpdatedAt)
	if isUniqueViolation(err) {
		return model.ErrNameTaken
	}
	return err
}

func (s *Storage) GetUser(ctx context.Context, id model.UserID) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrUserNotFound
	}
	return user, err
}

func (s *Storage) GetUserByName(ctx context.Context, name string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE name = $1`, name)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrUserNotFound
	}
	return user, err
}

func (s *Storage) RenameUser(ctx context.Context, id model.UserID, name string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE users SET name = $2 WHERE id = $1 RETURNING `+userColumns, id, name)
	user, err := scanUser(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, model.ErrUserNotFound
	case isUniqueViolation(err):
		return nil, model.ErrNameTaken
	}
	return user, err
}

func (s *Storage) Leaderboard(ctx context.Context, limit int) ([]*model.User, error) {
	// A NULL limit means no limit
	var lim sql.NullInt64
	if limit > 0 {
		lim = sql.NullInt64{Int64: int64(limit), Valid: true}
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY coins DESC, name ASC LIMIT $1`, lim)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	users := []*model.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// Game operations

const gameColumns = `id, slot_a, slot_b, color_a, color_b, grid, current_turn, status, result,
	winner_id, area_a, area_b, end_reason, created_at, updated_at, ended_at`

func scanGame(row interface{ Scan(...any) error }) (*model.Game, error) {
	var (
		g       model.Game
		grid    string
		endedAt sql.NullTime
	)
	if err := row.Scan(&g.ID, &g.SlotA, &g.SlotB, &g.ColorA, &g.ColorB, &grid, &g.CurrentTurn,
		&g.Status, &g.Result, &g.WinnerID, &g.AreaA, &g.AreaB, &g.EndReason,
		&g.CreatedAt, &g.UpdatedAt, &endedAt); err != nil {
		return nil, err
	}
	decoded, err := decodeGrid(grid)
	if err != nil {
		return nil, fmt.Errorf("game %s: %w", g.ID, err)
	}
	g.Grid = decoded
	if endedAt.Valid {
		g.EndedAt = endedAt.Time
	}
	return &g, nil
}

func endedAt(g *model.Game) sql.NullTime {
	return sql.NullTime{Time: g.EndedAt, Valid: !g.EndedAt.IsZero()}
}

func (s *Storage) CreateGame(ctx context.Context, game *model.Game) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO games (`+gameColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		game.ID, game.SlotA, game.SlotB, game.ColorA, game.ColorB, encodeGrid(game.Grid),
		game.CurrentTurn, game.Status, game.Result, game.WinnerID, game.AreaA, game.AreaB,
		game.EndReason, game.CreatedAt, game.UpdatedAt, endedAt(game))
	return err
}

func (s *Storage) SaveGame(ctx context.Context, game *model.Game) error {
	return updateGame(ctx, s.db, game)
}

func updateGame(ctx context.Context, db execer, game *model.Game) error {
	res, err := db.ExecContext(ctx,
		`UPDATE games SET
			grid=$2, current_turn=$3, status=$4, result=$5, winner_id=$6,
			area_a=$7, area_b=$8, end_reason=$9, updated_at=$10, ended_at=$11
		WHERE id = $1`,
		game.ID, encodeGrid(game.Grid), game.CurrentTurn, game.Status, game.Result, game.WinnerID,
		game.AreaA, game.AreaB, game.EndReason, game.UpdatedAt, endedAt(game))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrGameNotFound
	}
	return nil
}

func (s *Storage) GetGame(ctx context.Context, id model.GameID) (*model.Game, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+gameColumns+` FROM games WHERE id = $1`, id)
	game, err := scanGame(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrGameNotFound
	}
	return game, err
}

func (s *Storage) ListGamesForUser(ctx context.Context, userID model.UserID) ([]*model.Game, error) {
	return s.queryGames(ctx,
		`SELECT `+gameColumns+` FROM games WHERE slot_a = $1 OR slot_b = $1 ORDER BY created_at DESC`, userID)
}

func (s *Storage) ListGamesByStatus(ctx context.Context, status model.GameStatus) ([]*model.Game, error) {
	return s.queryGames(ctx,
		`SELECT `+gameColumns+` FROM games WHERE status = $1 ORDER BY created_at`, status)
}

func (s *Storage) queryGames(ctx context.Context, query string, args ...any) ([]*model.Game, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	games := []*model.Game{}
	for rows.Next() {
		game, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		games = append(games, game)
	}
	return games, rows.Err()
}

func (s *Storage) SettleGame(ctx context.Context, game *model.Game) (a, b *model.User, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// Row locks in id order serialize settlements and renames of the same user
	rows, err := tx.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ANY($1) ORDER BY id FOR UPDATE`,
		pq.Array([]string{string(game.SlotA), string(game.SlotB)}))
	if err != nil {
		return nil, nil, err
	}
	locked := make(map[model.UserID]*model.User, 2)
	for rows.Next() {
		var u *model.User
		if u, err = scanUser(rows); err != nil {
			_ = rows.Close()
			return nil, nil, err
		}
		locked[u.ID] = u
	}
	if err = rows.Err(); err != nil {
		return nil, nil, err
	}
	a, b = locked[game.SlotA], locked[game.SlotB]
	if a == nil || b == nil {
		err = model.ErrUserNotFound
		return nil, nil, err
	}

	model.Settle(game.Result, a, b, game.EndedAt)
	for _, u := range []*model.User{a, b} {
		if _, err = tx.ExecContext(ctx,
			`UPDATE users SET coins=$2, wins=$3, losses=$4, draws=$5, updated_at=$6 WHERE id = $1`,
			u.ID, u.Coins, u.Wins, u.Losses, u.Draws, u.UpdatedAt); err != nil {
			return nil, nil, err
		}
	}
	if err = updateGame(ctx, tx, game); err != nil {
		return nil, nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, nil, err
	}
	return a, b, nil
}
