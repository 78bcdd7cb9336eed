package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/mcoot/islandgame/internal/model"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		avatar_url    TEXT NOT NULL,
		coins         INTEGER NOT NULL CHECK (coins >= 0),
		wins          INTEGER NOT NULL DEFAULT 0,
		losses        INTEGER NOT NULL DEFAULT 0,
		draws         INTEGER NOT NULL DEFAULT 0,
		created_at    TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS users_coins_idx ON users (coins DESC, name ASC)`,
	`CREATE TABLE IF NOT EXISTS games (
		id           TEXT PRIMARY KEY,
		slot_a       TEXT NOT NULL,
		slot_b       TEXT NOT NULL,
		color_a      TEXT NOT NULL,
		color_b      TEXT NOT NULL,
		grid         CHAR(25) NOT NULL,
		current_turn SMALLINT NOT NULL,
		status       TEXT NOT NULL,
		result       TEXT NOT NULL DEFAULT '',
		winner_id    TEXT NOT NULL DEFAULT '',
		area_a       INTEGER NOT NULL DEFAULT 0,
		area_b       INTEGER NOT NULL DEFAULT 0,
		end_reason   TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL,
		ended_at     TIMESTAMPTZ NULL
	)`,
	`CREATE INDEX IF NOT EXISTS games_slot_a_idx ON games (slot_a)`,
	`CREATE INDEX IF NOT EXISTS games_slot_b_idx ON games (slot_b)`,
	`CREATE INDEX IF NOT EXISTS games_status_idx ON games (status)`,
}

// Migrate creates the tables and indexes if they do not exist
func (s *Storage) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Grid cells are stored as one character each: A, B or '.'
func encodeGrid(g model.Grid) string {
	var b strings.Builder
	b.Grow(model.GridCells)
	for _, c := range g {
		switch c {
		case model.SlotA:
			b.WriteByte('A')
		case model.SlotB:
			b.WriteByte('B')
		default:
			b.WriteByte('.')
		}
	}
	return b.String()
}

func decodeGrid(s string) (model.Grid, error) {
	var g model.Grid
	if len(s) != model.GridCells {
		return g, fmt.Errorf("grid has %d cells, want %d", len(s), model.GridCells)
	}
	for i := 0; i < model.GridCells; i++ {
		switch s[i] {
		case 'A':
			g[i] = model.SlotA
		case 'B':
			g[i] = model.SlotB
		case '.':
		default:
			return g, fmt.Errorf("invalid grid cell %q at %d", s[i], i)
		}
	}
	return g, nil
}
