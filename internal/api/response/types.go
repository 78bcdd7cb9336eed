package response

import (
	"time"

	"github.com/mcoot/islandgame/internal/model"
	"github.com/mcoot/islandgame/internal/services/auth"
	"github.com/mcoot/islandgame/internal/services/profile"
)

// User represents a user's own profile in API responses
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatar_url"`
	Coins     int       `json:"coins"`
	Wins      int       `json:"wins"`
	Losses    int       `json:"losses"`
	Draws     int       `json:"draws"`
	CreatedAt time.Time `json:"created_at"`
}

// UserFromModel converts a model.User to a response User
func UserFromModel(u *model.User) User {
	return User{
		ID:        string(u.ID),
		Name:      u.Name,
		AvatarURL: u.AvatarURL,
		Coins:     u.Coins,
		Wins:      u.Wins,
		Losses:    u.Losses,
		Draws:     u.Draws,
		CreatedAt: u.CreatedAt,
	}
}

// AuthResponse is the response for authentication endpoints
type AuthResponse struct {
	User         User      `json:"user"`
	SessionToken string    `json:"session_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// NewAuthResponse creates an AuthResponse for a user and their new session
func NewAuthResponse(u *model.User, s *auth.Session) AuthResponse {
	return AuthResponse{
		User:         UserFromModel(u),
		SessionToken: s.Token,
		ExpiresAt:    s.ExpiresAt,
	}
}

// Player is another user as shown in game views
type Player struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// HistoryEntry is one finished game in a user's history
type HistoryEntry struct {
	GameID       string    `json:"game_id"`
	OpponentID   string    `json:"opponent_id"`
	OpponentName string    `json:"opponent_name"`
	Result       string    `json:"result"`
	Status       string    `json:"status"`
	EndReason    string    `json:"end_reason"`
	MyArea       int       `json:"my_area"`
	OpponentArea int       `json:"opponent_area"`
	EndedAt      time.Time `json:"ended_at"`
}

// HistoryResponse lists a user's finished games
type HistoryResponse struct {
	Games []HistoryEntry `json:"games"`
}

// HistoryFromEntries converts history entries for viewer
func HistoryFromEntries(viewer model.UserID, entries []profile.HistoryEntry) HistoryResponse {
	resp := HistoryResponse{Games: make([]HistoryEntry, 0, len(entries))}
	for _, e := range entries {
		mine, theirs := areas(e.Game, viewer)
		resp.Games = append(resp.Games, HistoryEntry{
			GameID:       string(e.Game.ID),
			OpponentID:   string(e.OpponentID),
			OpponentName: e.OpponentName,
			Result:       string(e.Outcome),
			Status:       string(e.Game.Status),
			EndReason:    string(e.Game.EndReason),
			MyArea:       mine,
			OpponentArea: theirs,
			EndedAt:      e.Game.EndedAt,
		})
	}
	return resp
}

// Game is a game as seen by one of its participants
type Game struct {
	ID            string     `json:"id"`
	Status        string     `json:"status"`
	Result        string     `json:"result,omitempty"`
	EndReason     string     `json:"end_reason,omitempty"`
	Grid          []*string  `json:"grid"`
	CurrentTurn   string     `json:"current_turn,omitempty"`
	MyColor       string     `json:"my_color"`
	OpponentColor string     `json:"opponent_color"`
	Opponent      Player     `json:"opponent"`
	MyArea        int        `json:"my_area"`
	OpponentArea  int        `json:"opponent_area"`
	CreatedAt     time.Time  `json:"created_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
}

// GameFromView converts a participant's view of a game
func GameFromView(viewer model.UserID, v *profile.GameView) Game {
	g := v.Game
	grid := make([]*string, 0, model.GridCells)
	for _, owner := range g.OwnerIDs() {
		if owner == nil {
			grid = append(grid, nil)
			continue
		}
		id := string(*owner)
		grid = append(grid, &id)
	}

	mine, theirs := areas(g, viewer)
	resp := Game{
		ID:            string(g.ID),
		Status:        string(g.Status),
		Result:        string(v.Outcome),
		EndReason:     string(g.EndReason),
		Grid:          grid,
		MyColor:       v.MyColor,
		OpponentColor: v.OpponentColor,
		Opponent: Player{
			ID:        string(v.Opponent.ID),
			Name:      v.Opponent.Name,
			AvatarURL: v.Opponent.AvatarURL,
		},
		MyArea:       mine,
		OpponentArea: theirs,
		CreatedAt:    g.CreatedAt,
	}
	if g.IsActive() {
		resp.CurrentTurn = string(g.CurrentTurnUser())
	} else {
		ended := g.EndedAt
		resp.EndedAt = &ended
	}
	return resp
}

func areas(g *model.Game, viewer model.UserID) (mine, theirs int) {
	if slot, _ := g.SlotOf(viewer); slot == model.SlotB {
		return g.AreaB, g.AreaA
	}
	return g.AreaA, g.AreaB
}

// LeaderboardEntry is one ranked user
type LeaderboardEntry struct {
	Rank      int    `json:"rank"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
	Coins     int    `json:"coins"`
	Wins      int    `json:"wins"`
	Losses    int    `json:"losses"`
	Draws     int    `json:"draws"`
}

// LeaderboardResponse lists the top users
type LeaderboardResponse struct {
	Entries []LeaderboardEntry `json:"entries"`
}

// LeaderboardFromUsers ranks users in the given order
func LeaderboardFromUsers(users []*model.User) LeaderboardResponse {
	resp := LeaderboardResponse{Entries: make([]LeaderboardEntry, 0, len(users))}
	for i, u := range users {
		resp.Entries = append(resp.Entries, LeaderboardEntry{
			Rank:      i + 1,
			ID:        string(u.ID),
			Name:      u.Name,
			AvatarURL: u.AvatarURL,
			Coins:     u.Coins,
			Wins:      u.Wins,
			Losses:    u.Losses,
			Draws:     u.Draws,
		})
	}
	return resp
}

// Health reports server liveness
type Health struct {
	Status         string `json:"status"`
	Connections    int    `json:"connections"`
	ActiveSessions int    `json:"active_sessions"`
	QueueLength    int    `json:"queue_length"`
}
