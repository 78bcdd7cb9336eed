package model

import "time"

// UserID uniquely identifies a user across the system
type UserID string

const (
	// StartingCoins is the balance granted at sign-up
	StartingCoins = 1000

	// DefaultAvatarURL is used when a user signs up without a picture
	DefaultAvatarURL = "https://th.bing.com/th/id/OIP.eMLmzmhAqRMxUZad3zXE5QHaHa?rs=1&pid=ImgDetMain"
)

// Coin stakes applied when a game is settled
const (
	WinReward   = 200
	LossPenalty = 200
	DrawReward  = 50
)

// User is a registered player and their running record
type User struct {
	ID           UserID
	Name         string // unique, shown to opponents
	PasswordHash string // bcrypt hash
	AvatarURL    string
	Coins        int
	Wins         int
	Losses       int
	Draws        int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewUser creates a user with the starting balance and an empty record
func NewUser(id UserID, name, passwordHash, avatarURL string, now time.Time) *User {
	if avatarURL == "" {
		avatarURL = DefaultAvatarURL
	}
	return &User{
		ID:           id,
		Name:         name,
		PasswordHash: passwordHash,
		AvatarURL:    avatarURL,
		Coins:        StartingCoins,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// RecordWin credits a win
func (u *User) RecordWin() {
	u.Wins++
	u.Coins += WinReward
}

// RecordLoss debits a loss, never taking the balance below zero
func (u *User) RecordLoss() {
	u.Losses++
	u.Coins = max(0, u.Coins-LossPenalty)
}

// RecordDraw credits a draw
func (u *User) RecordDraw() {
	u.Draws++
	u.Coins += DrawReward
}

// Clone returns a copy of the user
func (u *User) Clone() *User {
	cp := *u
	return &cp
}

// Settle applies the result of a finished game to both participants
func Settle(result GameResult, a, b *User, now time.Time) {
	switch result {
	case ResultSlotAWin:
		a.RecordWin()
		b.RecordLoss()
	case ResultSlotBWin:
		a.RecordLoss()
		b.RecordWin()
	case ResultDraw:
		a.RecordDraw()
		b.RecordDraw()
	default:
		return
	}
	a.UpdatedAt = now
	b.UpdatedAt = now
}
