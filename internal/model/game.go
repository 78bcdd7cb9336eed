package model

import "time"

// GameID uniquely identifies a game
type GameID string

// Palette holds the two claim colors handed out at match time
var Palette = [2]string{"rgb(255, 69, 58)", "rgb(0, 122, 255)"}

// GameStatus represents the lifecycle phase of a game
type GameStatus string

const (
	GameStatusActive    GameStatus = "active"
	GameStatusCompleted GameStatus = "completed" // all cells claimed
	GameStatusForfeited GameStatus = "forfeited" // ended by forfeit or disconnect
)

// IsTerminal reports whether no further transitions are possible
func (s GameStatus) IsTerminal() bool {
	return s == GameStatusCompleted || s == GameStatusForfeited
}

// GameResult is the outcome of a finished game. Empty while active.
type GameResult string

const (
	ResultNone     GameResult = ""
	ResultSlotAWin GameResult = "slot_a_win"
	ResultSlotBWin GameResult = "slot_b_win"
	ResultDraw     GameResult = "draw"
)

// ResultFromAreas compares region areas. Only exact equality is a draw.
func ResultFromAreas(areaA, areaB int) GameResult {
	switch {
	case areaA > areaB:
		return ResultSlotAWin
	case areaB > areaA:
		return ResultSlotBWin
	default:
		return ResultDraw
	}
}

// ResultForfeitedBy returns the result when slot gives up
func ResultForfeitedBy(slot Slot) GameResult {
	if slot == SlotA {
		return ResultSlotBWin
	}
	return ResultSlotAWin
}

// Winner returns the winning slot, or SlotNone for a draw or no result
func (r GameResult) Winner() Slot {
	switch r {
	case ResultSlotAWin:
		return SlotA
	case ResultSlotBWin:
		return SlotB
	default:
		return SlotNone
	}
}

// Outcome is a result seen from one participant's side
type Outcome string

const (
	OutcomeWon  Outcome = "won"
	OutcomeLost Outcome = "lost"
	OutcomeDraw Outcome = "draw"
)

// For derives the outcome for the given slot
func (r GameResult) For(slot Slot) Outcome {
	switch r.Winner() {
	case SlotNone:
		return OutcomeDraw
	case slot:
		return OutcomeWon
	default:
		return OutcomeLost
	}
}

// EndReason records why a game reached a terminal state
type EndReason string

const (
	EndReasonNone       EndReason = ""
	EndReasonBoardFull  EndReason = "board_full"
	EndReasonForfeit    EndReason = "forfeit"
	EndReasonDisconnect EndReason = "disconnect"
)

// Game is a single two-player match
type Game struct {
	ID     GameID
	SlotA  UserID
	SlotB  UserID
	ColorA string
	ColorB string

	Grid        Grid
	CurrentTurn Slot

	Status    GameStatus
	Result    GameResult
	WinnerID  UserID // Empty on draw or while active
	AreaA     int
	AreaB     int
	EndReason EndReason

	CreatedAt time.Time
	UpdatedAt time.Time
	EndedAt   time.Time // Zero while active
}

// NewGame creates an active game with an empty grid
func NewGame(id GameID, a, b UserID, colorA, colorB string, firstTurn Slot, now time.Time) *Game {
	return &Game{
		ID:          id,
		SlotA:       a,
		SlotB:       b,
		ColorA:      colorA,
		ColorB:      colorB,
		CurrentTurn: firstTurn,
		Status:      GameStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns an independent copy of the game
func (g *Game) Clone() *Game {
	cp := *g
	return &cp
}

// SlotOf returns the slot held by user
func (g *Game) SlotOf(user UserID) (Slot, bool) {
	switch user {
	case g.SlotA:
		return SlotA, true
	case g.SlotB:
		return SlotB, true
	default:
		return SlotNone, false
	}
}

// UserIn returns the user seated in slot
func (g *Game) UserIn(slot Slot) UserID {
	switch slot {
	case SlotA:
		return g.SlotA
	case SlotB:
		return g.SlotB
	default:
		return ""
	}
}

// ColorOf returns the claim color of slot
func (g *Game) ColorOf(slot Slot) string {
	if slot == SlotA {
		return g.ColorA
	}
	return g.ColorB
}

// CurrentTurnUser returns the user expected to move next
func (g *Game) CurrentTurnUser() UserID {
	return g.UserIn(g.CurrentTurn)
}

// IsActive reports whether moves are still accepted
func (g *Game) IsActive() bool {
	return g.Status == GameStatusActive
}

// OwnerIDs serializes the grid as owner identities, nil for unclaimed cells
func (g *Game) OwnerIDs() []*UserID {
	out := make([]*UserID, GridCells)
	for i, c := range g.Grid {
		if c == SlotNone {
			continue
		}
		id := g.UserIn(c)
		out[i] = &id
	}
	return out
}

// Finish moves the game into a terminal state
func (g *Game) Finish(status GameStatus, result GameResult, reason EndReason, areaA, areaB int, now time.Time) {
	g.Status = status
	g.Result = result
	g.WinnerID = g.UserIn(result.Winner())
	g.EndReason = reason
	g.AreaA = areaA
	g.AreaB = areaB
	g.UpdatedAt = now
	g.EndedAt = now
}
