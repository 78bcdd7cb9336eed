package model

import "errors"

// Common errors used across the application
var (
	// Request errors
	ErrInvalidRequest  = errors.New("invalid request")
	ErrIndexOutOfRange = errors.New("cell index out of range")
	ErrInvalidName     = errors.New("name must not be empty")

	// User errors
	ErrUserNotFound = errors.New("user not found")
	ErrNameTaken    = errors.New("name is already taken")

	// Matchmaking errors
	ErrAlreadyQueued = errors.New("user is already queued")
	ErrAlreadyInGame = errors.New("connection is already seated in a game")

	// Game errors
	ErrGameNotFound   = errors.New("game not found")
	ErrInvalidSession = errors.New("unknown game session")
	ErrNotActive      = errors.New("game is not active")
	ErrNotParticipant = errors.New("user is not a participant in this game")
	ErrNotYourTurn    = errors.New("not this user's turn")
	ErrCellOccupied   = errors.New("cell is already claimed")

	// Server errors
	ErrServer            = errors.New("server error")
	ErrInconsistentState = errors.New("inconsistent session state")
)

// ErrorKind groups errors by how callers should react to them
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindStateConflict
	KindNotFound
	KindPersistence
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindStateConflict:
		return "state_conflict"
	case KindNotFound:
		return "not_found"
	case KindPersistence:
		return "persistence"
	default:
		return "internal"
	}
}

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrIndexOutOfRange),
		errors.Is(err, ErrInvalidName):
		return KindValidation
	case errors.Is(err, ErrNotYourTurn),
		errors.Is(err, ErrCellOccupied),
		errors.Is(err, ErrNotActive),
		errors.Is(err, ErrAlreadyQueued),
		errors.Is(err, ErrAlreadyInGame),
		errors.Is(err, ErrNotParticipant),
		errors.Is(err, ErrNameTaken):
		return KindStateConflict
	case errors.Is(err, ErrInvalidSession),
		errors.Is(err, ErrGameNotFound),
		errors.Is(err, ErrUserNotFound):
		return KindNotFound
	case errors.Is(err, ErrServer):
		return KindPersistence
	default:
		return KindInternal
	}
}
