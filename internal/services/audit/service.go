package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mcoot/islandgame/internal/model"
	"github.com/mcoot/islandgame/internal/services/scoring"
	"github.com/mcoot/islandgame/internal/storage"
)

// Issue is one inconsistency found in a stored game
type Issue struct {
	GameID  model.GameID `json:"game_id"`
	Problem string       `json:"problem"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.GameID, i.Problem)
}

// Report summarises an audit run
type Report struct {
	Checked int     `json:"checked"`
	Issues  []Issue `json:"issues"`
}

// OK reports whether no issues were found
func (r *Report) OK() bool {
	return len(r.Issues) == 0
}

// Service checks stored games against the rules they were played under
type Service struct {
	storage        storage.Storage
	scoringService *scoring.Service
	logger         *slog.Logger
}

// New creates a new audit Service
func New(storage storage.Storage, scoringService *scoring.Service, logger *slog.Logger) *Service {
	return &Service{storage: storage, scoringService: scoringService, logger: logger}
}

// Run checks every finished game
func (s *Service) Run(ctx context.Context) (*Report, error) {
	report := &Report{}
	for _, status := range []model.GameStatus{model.GameStatusCompleted, model.GameStatusForfeited} {
		games, err := s.storage.ListGamesByStatus(ctx, status)
		if err != nil {
			return nil, fmt.Errorf("list %s games: %w", status, err)
		}
		for _, g := range games {
			report.Checked++
			for _, problem := range s.Check(g) {
				report.Issues = append(report.Issues, Issue{GameID: g.ID, Problem: problem})
			}
		}
	}

	s.logger.Info("audit finished",
		slog.Int("checked", report.Checked),
		slog.Int("issues", len(report.Issues)),
	)
	return report, nil
}

// Check returns the problems with a single finished game
func (s *Service) Check(g *model.Game) []string {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if g.Result == model.ResultNone {
		add("finished game has no result")
	}
	if want := g.UserIn(g.Result.Winner()); g.WinnerID != want {
		add("winner %q does not match result %s", g.WinnerID, g.Result)
	}
	if g.EndedAt.IsZero() {
		add("finished game has no end time")
	}

	switch g.Status {
	case model.GameStatusForfeited:
		if g.EndReason != model.EndReasonForfeit && g.EndReason != model.EndReasonDisconnect {
			add("forfeited game has end reason %q", g.EndReason)
		}
		if g.Result == model.ResultDraw {
			add("forfeited game recorded as a draw")
		}
	case model.GameStatusCompleted:
		if g.EndReason != model.EndReasonBoardFull {
			add("completed game has end reason %q", g.EndReason)
		}
		if !g.Grid.Full() {
			add("completed game has %d of %d cells claimed", g.Grid.Claimed(), model.GridCells)
			break
		}
		scores := s.scoringService.ScoreGrid(g.Grid)
		if scores.AreaA != g.AreaA || scores.AreaB != g.AreaB {
			add("stored areas %d/%d, recomputed %d/%d", g.AreaA, g.AreaB, scores.AreaA, scores.AreaB)
		}
		if scores.Result() != g.Result {
			add("stored result %s, recomputed %s", g.Result, scores.Result())
		}
	}
	return problems
}
