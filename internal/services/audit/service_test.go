package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/islandgame/internal/model"
	"github.com/mcoot/islandgame/internal/services/scoring"
	"github.com/mcoot/islandgame/internal/storage/memory"
	"github.com/mcoot/islandgame/internal/testutil"
)

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type ServiceSuite struct {
	suite.Suite
	store   *memory.Storage
	service *Service
	ctx     context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.store = memory.New()
	s.service = New(s.store, scoring.New(), testutil.NopLogger())
	s.ctx = context.Background()
}

func newGame(id string) *model.Game {
	return model.NewGame(model.GameID(id), "user-a", "user-b", model.Palette[0], model.Palette[1], model.SlotA, epoch)
}

// topRow fills the board with A owning the top row, B the row below and a
// checkerboard under that. B's second row picks up two more cells, so B wins 7 to 5.
func topRow() model.Grid {
	var grid model.Grid
	for i := range grid {
		row, col := i/model.GridSize, i%model.GridSize
		switch {
		case row == 0:
			grid[i] = model.SlotA
		case row == 1:
			grid[i] = model.SlotB
		case (row+col)%2 == 0:
			grid[i] = model.SlotA
		default:
			grid[i] = model.SlotB
		}
	}
	return grid
}

func (s *ServiceSuite) completed(id string) *model.Game {
	g := newGame(id)
	g.Grid = topRow()
	scores := scoring.New().ScoreGrid(g.Grid)
	g.Finish(model.GameStatusCompleted, scores.Result(), model.EndReasonBoardFull, scores.AreaA, scores.AreaB, epoch)
	return g
}

func (s *ServiceSuite) TestCleanStore() {
	s.Require().NoError(s.store.CreateGame(s.ctx, s.completed("g1")))

	forfeited := newGame("g2")
	forfeited.Finish(model.GameStatusForfeited, model.ResultForfeitedBy(model.SlotB), model.EndReasonDisconnect, 0, 0, epoch)
	s.Require().NoError(s.store.CreateGame(s.ctx, forfeited))

	s.Require().NoError(s.store.CreateGame(s.ctx, newGame("g3")))

	report, err := s.service.Run(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, report.Checked)
	s.True(report.OK(), "%v", report.Issues)
}

func (s *ServiceSuite) TestFixture() {
	g := s.completed("g1")
	s.Equal(5, g.AreaA)
	s.Equal(7, g.AreaB)
	s.Equal(model.UserID("user-b"), g.WinnerID)
}

func (s *ServiceSuite) TestWrongWinner() {
	g := s.completed("g1")
	g.WinnerID = "user-a"

	s.Len(s.service.Check(g), 1)
}

func (s *ServiceSuite) TestTamperedAreas() {
	g := s.completed("g1")
	g.AreaA = 25

	problems := s.service.Check(g)
	s.Require().Len(problems, 1)
	s.Contains(problems[0], "recomputed")
}

func (s *ServiceSuite) TestTamperedResult() {
	g := s.completed("g1")
	g.Result = model.ResultSlotAWin
	g.WinnerID = "user-a"

	s.Len(s.service.Check(g), 1)
}

func (s *ServiceSuite) TestCompletedWithEmptyCells() {
	g := s.completed("g1")
	g.Grid[12] = model.SlotNone

	problems := s.service.Check(g)
	s.Require().Len(problems, 1)
	s.Contains(problems[0], "24 of 25")
}

func (s *ServiceSuite) TestForfeitWithoutReason() {
	g := newGame("g1")
	g.Finish(model.GameStatusForfeited, model.ResultDraw, model.EndReasonBoardFull, 0, 0, epoch)

	s.Len(s.service.Check(g), 2)
}

func (s *ServiceSuite) TestReportCollectsIssuesPerGame() {
	bad := s.completed("g1")
	bad.EndReason = model.EndReasonForfeit
	s.Require().NoError(s.store.CreateGame(s.ctx, bad))
	s.Require().NoError(s.store.CreateGame(s.ctx, s.completed("g2")))

	report, err := s.service.Run(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, report.Checked)
	s.Require().Len(report.Issues, 1)
	s.Equal(model.GameID("g1"), report.Issues[0].GameID)
}
