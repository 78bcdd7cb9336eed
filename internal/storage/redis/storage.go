package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/islandgame/internal/model"
	"github.com/mcoot/islandgame/internal/storage"
)

// maxTxAttempts bounds the retries of an optimistic transaction
const maxTxAttempts = 8

// Storage is a Redis-backed implementation of the storage interface
type Storage struct {
	client *redis.Client
	cfg    Config
}

// New creates a new Redis storage instance
func New(cfg Config) (*Storage, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Storage{
		client: client,
		cfg:    cfg,
	}, nil
}

// NewWithClient creates a Redis storage with an existing client (for testing)
func NewWithClient(client *redis.Client, cfg Config) *Storage {
	return &Storage{
		client: client,
		cfg:    cfg,
	}
}

// Close closes the Redis connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// User operations

func (s *Storage) CreateUser(ctx context.Context, user *model.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return err
	}

	// Claim the name first so concurrent sign-ups cannot both win it
	claimed, err := s.client.SetNX(ctx, userNameIndexKey(user.Name), string(user.ID), 0).Result()
	if err != nil {
		return err
	}
	if !claimed {
		return model.ErrNameTaken
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, userKey(user.ID), data, 0)
	pipe.ZAdd(ctx, leaderboardKey(), redis.Z{Score: float64(user.Coins), Member: string(user.ID)})
	if _, err := pipe.Exec(ctx); err != nil {
		s.client.Del(ctx, userNameIndexKey(user.Name))
		return err
	}
	return nil
}

func (s *Storage) SaveUser(ctx context.Context, user *model.User) error {
	existing, err := s.GetUser(ctx, user.ID)
	if err != nil && !errors.Is(err, model.ErrUserNotFound) {
		return err
	}
	if existing == nil || existing.Name != user.Name {
		if err := s.claimName(ctx, user.Name, user.ID); err != nil {
			return err
		}
	}

	data, err := json.Marshal(user)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, userKey(user.ID), data, 0)
	pipe.ZAdd(ctx, leaderboardKey(), redis.Z{Score: float64(user.Coins), Member: string(user.ID)})
	if existing != nil && existing.Name != user.Name {
		pipe.Del(ctx, userNameIndexKey(existing.Name))
	}
	_, err = pipe.Exec(ctx)
	return err
}

// claimName points the name index at id, failing if another user holds it
func (s *Storage) claimName(ctx context.Context, name string, id model.UserID) error {
	claimed, err := s.client.SetNX(ctx, userNameIndexKey(name), string(id), 0).Result()
	if err != nil {
		return err
	}
	if claimed {
		return nil
	}
	owner, err := s.client.Get(ctx, userNameIndexKey(name)).Result()
	if err != nil {
		return err
	}
	if model.UserID(owner) != id {
		return model.ErrNameTaken
	}
	return nil
}

func (s *Storage) GetUser(ctx context.Context, id model.UserID) (*model.User, error) {
	return readUser(ctx, s.client, id)
}

// getter is satisfied by both *redis.Client and *redis.Tx
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readUser(ctx context.Context, c getter, id model.UserID) (*model.User, error) {
	data, err := c.Get(ctx, userKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrUserNotFound
		}
		return nil, err
	}

	var user model.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// watch runs fn as an optimistic transaction over keys, retrying while a
// watched key changes underneath it
func (s *Storage) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for range maxTxAttempts {
		err := s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return redis.TxFailedErr
}

func (s *Storage) GetUserByName(ctx context.Context, name string) (*model.User, error) {
	id, err := s.client.Get(ctx, userNameIndexKey(name)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrUserNotFound
		}
		return nil, err
	}
	return s.GetUser(ctx, model.UserID(id))
}

func (s *Storage) RenameUser(ctx context.Context, id model.UserID, name string) (*model.User, error) {
	if err := s.claimName(ctx, name, id); err != nil {
		return nil, err
	}

	var renamed *model.User
	err := s.watch(ctx, func(tx *redis.Tx) error {
		user, err := readUser(ctx, tx, id)
		if err != nil {
			return err
		}
		old := user.Name
		user.Name = name
		data, err := json.Marshal(user)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, userKey(id), data, 0)
			if old != name {
				pipe.Del(ctx, userNameIndexKey(old))
			}
			return nil
		})
		if err == nil {
			renamed = user
		}
		return err
	}, userKey(id))
	if err != nil {
		s.releaseName(ctx, name, id)
		return nil, err
	}
	return renamed, nil
}

// releaseName drops a claim on name made for id, unless id's record holds it
func (s *Storage) releaseName(ctx context.Context, name string, id model.UserID) {
	if user, err := s.GetUser(ctx, id); err == nil && user.Name == name {
		return
	}
	owner, err := s.client.Get(ctx, userNameIndexKey(name)).Result()
	if err == nil && model.UserID(owner) == id {
		s.client.Del(ctx, userNameIndexKey(name))
	}
}

func (s *Storage) Leaderboard(ctx context.Context, limit int) ([]*model.User, error) {
	var ids []string
	if limit <= 0 {
		all, err := s.client.ZRevRange(ctx, leaderboardKey(), 0, -1).Result()
		if err != nil {
			return nil, err
		}
		ids = all
	} else {
		top, err := s.client.ZRevRangeWithScores(ctx, leaderboardKey(), 0, int64(limit-1)).Result()
		if err != nil {
			return nil, err
		}
		if len(top) == 0 {
			return []*model.User{}, nil
		}

		// Ties at the cut-off are broken by name, so fetch everyone on the boundary score
		boundary := strconv.FormatFloat(top[len(top)-1].Score, 'f', -1, 64)
		above, err := s.client.ZRevRangeByScore(ctx, leaderboardKey(), &redis.ZRangeBy{Min: "(" + boundary, Max: "+inf"}).Result()
		if err != nil {
			return nil, err
		}
		tied, err := s.client.ZRangeByScore(ctx, leaderboardKey(), &redis.ZRangeBy{Min: boundary, Max: boundary}).Result()
		if err != nil {
			return nil, err
		}
		ids = append(above, tied...)
	}

	users, err := s.getUsers(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(users, func(i, j int) bool {
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

func (s *Storage) getUsers(ctx context.Context, ids []string) ([]*model.User, error) {
	if len(ids) == 0 {
		return []*model.User{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = userKey(model.UserID(id))
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	users := make([]*model.User, 0, len(values))
	for _, val := range values {
		if val == nil {
			continue
		}
		var user model.User
		if err := json.Unmarshal([]byte(val.(string)), &user); err != nil {
			continue // Skip invalid data
		}
		users = append(users, &user)
	}
	return users, nil
}

// Game operations

func (s *Storage) CreateGame(ctx context.Context, game *model.Game) error {
	data, err := json.Marshal(game)
	if err != nil {
		return err
	}

	created := float64(game.CreatedAt.UnixNano())
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, gameKey(game.ID), data, 0)
	pipe.ZAdd(ctx, userGamesIndexKey(game.SlotA), redis.Z{Score: created, Member: string(game.ID)})
	pipe.ZAdd(ctx, userGamesIndexKey(game.SlotB), redis.Z{Score: created, Member: string(game.ID)})
	pipe.SAdd(ctx, gamesByStatusIndexKey(game.Status), string(game.ID))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Storage) SaveGame(ctx context.Context, game *model.Game) error {
	if err := s.requireGame(ctx, game.ID); err != nil {
		return err
	}
	data, err := json.Marshal(game)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	s.queueGameWrite(ctx, pipe, game, data)
	_, err = pipe.Exec(ctx)
	return err
}

// queueGameWrite adds the game record and its status index to a transaction
func (s *Storage) queueGameWrite(ctx context.Context, pipe redis.Pipeliner, game *model.Game, data []byte) {
	var ttl time.Duration
	if game.Status.IsTerminal() {
		ttl = s.cfg.FinishedGameTTL
	}
	pipe.Set(ctx, gameKey(game.ID), data, ttl)
	for _, status := range allStatuses {
		if status != game.Status {
			pipe.SRem(ctx, gamesByStatusIndexKey(status), string(game.ID))
		}
	}
	pipe.SAdd(ctx, gamesByStatusIndexKey(game.Status), string(game.ID))
}

func (s *Storage) requireGame(ctx context.Context, id model.GameID) error {
	n, err := s.client.Exists(ctx, gameKey(id)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrGameNotFound
	}
	return nil
}

func (s *Storage) GetGame(ctx context.Context, id model.GameID) (*model.Game, error) {
	data, err := s.client.Get(ctx, gameKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrGameNotFound
		}
		return nil, err
	}

	var game model.Game
	if err := json.Unmarshal(data, &game); err != nil {
		return nil, err
	}
	return &game, nil
}

func (s *Storage) ListGamesForUser(ctx context.Context, userID model.UserID) ([]*model.Game, error) {
	ids, err := s.client.ZRevRange(ctx, userGamesIndexKey(userID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return s.getGames(ctx, ids)
}

func (s *Storage) ListGamesByStatus(ctx context.Context, status model.GameStatus) ([]*model.Game, error) {
	ids, err := s.client.SMembers(ctx, gamesByStatusIndexKey(status)).Result()
	if err != nil {
		return nil, err
	}
	return s.getGames(ctx, ids)
}

func (s *Storage) getGames(ctx context.Context, ids []string) ([]*model.Game, error) {
	if len(ids) == 0 {
		return []*model.Game{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = gameKey(model.GameID(id))
	}

	// Fetch all games in one round trip
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	games := make([]*model.Game, 0, len(values))
	for _, val := range values {
		if val == nil {
			continue // Game may have expired
		}
		var game model.Game
		if err := json.Unmarshal([]byte(val.(string)), &game); err != nil {
			continue // Skip invalid data
		}
		games = append(games, &game)
	}
	return games, nil
}

func (s *Storage) SettleGame(ctx context.Context, game *model.Game) (*model.User, *model.User, error) {
	gameData, err := json.Marshal(game)
	if err != nil {
		return nil, nil, err
	}

	var a, b *model.User
	err = s.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, gameKey(game.ID)).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return model.ErrGameNotFound
		}
		if a, err = readUser(ctx, tx, game.SlotA); err != nil {
			return err
		}
		if b, err = readUser(ctx, tx, game.SlotB); err != nil {
			return err
		}

		model.Settle(game.Result, a, b, game.EndedAt)
		aData, err := json.Marshal(a)
		if err != nil {
			return err
		}
		bData, err := json.Marshal(b)
		if err != nil {
			return err
		}

		// MULTI/EXEC so the game and the settled records land together
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.queueGameWrite(ctx, pipe, game, gameData)
			pipe.Set(ctx, userKey(a.ID), aData, 0)
			pipe.ZAdd(ctx, leaderboardKey(), redis.Z{Score: float64(a.Coins), Member: string(a.ID)})
			pipe.Set(ctx, userKey(b.ID), bData, 0)
			pipe.ZAdd(ctx, leaderboardKey(), redis.Z{Score: float64(b.Coins), Member: string(b.ID)})
			return nil
		})
		return err
	}, gameKey(game.ID), userKey(game.SlotA), userKey(game.SlotB))
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}
