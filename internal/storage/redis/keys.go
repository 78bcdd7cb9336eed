package redis

import (
	"fmt"

	"github.com/mcoot/islandgame/internal/model"
)

// Key prefix for all game-related data
const keyPrefix = "islandgame"

// userKey returns the Redis key for a User
func userKey(id model.UserID) string {
	return fmt.Sprintf("%s:user:%s", keyPrefix, id)
}

// userNameIndexKey returns the Redis key for the name -> user_id index
func userNameIndexKey(name string) string {
	return fmt.Sprintf("%s:idx:user_name:%s", keyPrefix, name)
}

// leaderboardKey returns the Redis key for the ZSET of user IDs scored by coins
func leaderboardKey() string {
	return fmt.Sprintf("%s:idx:leaderboard", keyPrefix)
}

// gameKey returns the Redis key for a Game
func gameKey(id model.GameID) string {
	return fmt.Sprintf("%s:game:%s", keyPrefix, id)
}

// userGamesIndexKey returns the Redis key for the ZSET of a user's games scored by creation time
func userGamesIndexKey(userID model.UserID) string {
	return fmt.Sprintf("%s:idx:user_games:%s", keyPrefix, userID)
}

// gamesByStatusIndexKey returns the Redis key for the SET of games in a status
func gamesByStatusIndexKey(status model.GameStatus) string {
	return fmt.Sprintf("%s:idx:games_by_status:%s", keyPrefix, status)
}

var allStatuses = []model.GameStatus{
	model.GameStatusActive,
	model.GameStatusCompleted,
	model.GameStatusForfeited,
}
