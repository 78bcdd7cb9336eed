package model

import "encoding/json"

// ConnID identifies one live realtime connection
type ConnID string

// EventType identifies the type of a realtime message
type EventType string

const (
	// Inbound events
	EventFindMatch   EventType = "find_match"
	EventCancelMatch EventType = "cancel_match"
	EventJoinGame    EventType = "join_game"
	EventMakeMove    EventType = "make_move"
	EventForfeitGame EventType = "forfeit_game"

	// Outbound events
	EventMatchFound EventType = "match_found"
	EventStartGame  EventType = "start_game"
	EventMoveMade   EventType = "move_made"
	EventGameEnd    EventType = "game_end"
	EventError      EventType = "error"
)

// Event is the envelope for every realtime message
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"data,omitempty"`
}

// Envelope is an event as read off the wire, before its data is decoded
type Envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// FindMatchPayload asks to join the matchmaking queue
type FindMatchPayload struct {
	UserID UserID `json:"userId,omitempty"`
}

// JoinGamePayload binds the connection to a matched game
type JoinGamePayload struct {
	GameID GameID `json:"gameId"`
	UserID UserID `json:"userId,omitempty"`
}

// MakeMovePayload claims one cell. CellIndex is a pointer so a missing
// index can be told apart from cell 0.
type MakeMovePayload struct {
	GameID    GameID `json:"gameId"`
	UserID    UserID `json:"userId,omitempty"`
	CellIndex *int   `json:"cellIndex"`
}

// ForfeitGamePayload concedes the game
type ForfeitGamePayload struct {
	GameID GameID `json:"gameId"`
	UserID UserID `json:"userId,omitempty"`
}

// PlayerInfo is the public identity of a user shown to opponents
type PlayerInfo struct {
	ID        UserID `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
}

// InfoOf builds the public identity of u
func InfoOf(u *User) PlayerInfo {
	return PlayerInfo{ID: u.ID, Name: u.Name, AvatarURL: u.AvatarURL}
}

// MatchFoundPayload is sent to each player when they are paired
type MatchFoundPayload struct {
	GameID   GameID     `json:"gameId"`
	Opponent PlayerInfo `json:"opponent"`
}

// StartGamePayload is sent to each player once both have joined.
// Colors are from the recipient's point of view.
type StartGamePayload struct {
	GameID        GameID     `json:"gameId"`
	FirstTurn     UserID     `json:"firstTurn"`
	MyColor       string     `json:"myColor"`
	OpponentColor string     `json:"opponentColor"`
	Opponent      PlayerInfo `json:"opponent"`
}

// MoveMadePayload is broadcast after every accepted move
type MoveMadePayload struct {
	GameID   GameID    `json:"gameId"`
	Grid     []*UserID `json:"grid"`
	NextTurn UserID    `json:"nextTurn"`
}

// GameEndPayload is broadcast when a game reaches a terminal state
type GameEndPayload struct {
	GameID         GameID    `json:"gameId"`
	FinalGrid      []*UserID `json:"finalGrid"`
	Player1Result  Outcome   `json:"player1Result"`
	Player2Result  Outcome   `json:"player2Result"`
	Player1ID      UserID    `json:"player1Id"`
	Player2ID      UserID    `json:"player2Id"`
	Player1Coins   int       `json:"player1Coins"`
	Player2Coins   int       `json:"player2Coins"`
	Player1MaxArea int       `json:"player1MaxArea"`
	Player2MaxArea int       `json:"player2MaxArea"`
	Message        string    `json:"message,omitempty"`
}

// ErrorPayload is sent to a single connection when its request fails
type ErrorPayload struct {
	Message string `json:"message"`
}
