package factory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/islandgame/internal/model"
	"github.com/mcoot/islandgame/internal/services/registry"
)

type IntegrationSuite struct {
	suite.Suite
	app   *TestApp
	ctx   context.Context
	alice *model.User
	bob   *model.User
}

func TestIntegrationSuite(t *testing.T) {
	suite.Run(t, new(IntegrationSuite))
}

func (s *IntegrationSuite) SetupTest() {
	s.app = NewTestApp()
	s.ctx = context.Background()
	s.alice = s.signUp("alice")
	s.bob = s.signUp("bob")
}

func (s *IntegrationSuite) TearDownTest() {
	s.NoError(s.app.Close())
}

func (s *IntegrationSuite) signUp(name string) *model.User {
	user, _, err := s.app.AuthService.SignUp(s.ctx, name, "pw", "")
	s.Require().NoError(err)
	return user
}

// startGame matches alice (conn-a) with bob (conn-b) and joins both.
// With the mock random at zero alice is slot A and moves first.
func (s *IntegrationSuite) startGame() model.GameID {
	match, err := s.app.Queue.Enqueue(s.ctx, s.alice.ID, "conn-a")
	s.Require().NoError(err)
	s.Require().Nil(match)

	match, err = s.app.Queue.Enqueue(s.ctx, s.bob.ID, "conn-b")
	s.Require().NoError(err)
	s.Require().NotNil(match)
	s.app.Registry.Track(match)

	s.Require().NoError(s.app.Registry.RegisterParticipant(s.ctx, match.Game.ID, s.alice.ID, "conn-a"))
	s.Require().NoError(s.app.Registry.RegisterParticipant(s.ctx, match.Game.ID, s.bob.ID, "conn-b"))
	s.Equal(1, s.app.ActiveSessions())
	return match.Game.ID
}

func (s *IntegrationSuite) move(conn model.ConnID, cell int) {
	s.Require().NoError(s.app.Registry.RouteAction(s.ctx, conn, registry.Action{Kind: registry.ActionMove, CellIndex: cell}))
}

func (s *IntegrationSuite) gameEnd(conn model.ConnID) model.GameEndPayload {
	event, ok := s.app.Events.Last(conn)
	s.Require().True(ok)
	s.Require().Equal(model.EventGameEnd, event.Type)
	return event.Payload.(model.GameEndPayload)
}

func (s *IntegrationSuite) user(id model.UserID) *model.User {
	user, err := s.app.Storage.GetUser(s.ctx, id)
	s.Require().NoError(err)
	return user
}

// Test: a full board played to a draw, then seen through profile, history and audit
func (s *IntegrationSuite) TestCompleteGameFlow() {
	gameID := s.startGame()
	s.Equal([]model.EventType{model.EventMatchFound, model.EventStartGame}, s.app.Events.Types("conn-a"))

	for cell := 0; cell < model.GridCells; cell++ {
		if cell%2 == 0 {
			s.move("conn-a", cell)
		} else {
			s.move("conn-b", cell)
		}
	}

	end := s.gameEnd("conn-a")
	s.Equal(gameID, end.GameID)
	s.Equal(model.OutcomeDraw, end.Player1Result)
	s.Equal(model.OutcomeDraw, end.Player2Result)
	for _, owner := range end.FinalGrid {
		s.NotNil(owner)
	}
	s.Equal(0, s.app.ActiveSessions())
	s.Equal(0, s.app.GameController.ActiveSessions())

	alice := s.user(s.alice.ID)
	s.Equal(model.StartingCoins+model.DrawReward, alice.Coins)
	s.Equal(1, alice.Draws)
	s.Equal(1, s.user(s.bob.ID).Draws)

	history, err := s.app.ProfileService.History(s.ctx, s.bob.ID)
	s.Require().NoError(err)
	s.Require().Len(history, 1)
	s.Equal("alice", history[0].OpponentName)
	s.Equal(model.OutcomeDraw, history[0].Outcome)

	report, err := s.app.AuditService.Run(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, report.Checked)
	s.True(report.OK(), "%v", report.Issues)
}

// Test: a forfeit settles coins and shows up on the leaderboard
func (s *IntegrationSuite) TestForfeitFlow() {
	gameID := s.startGame()
	s.move("conn-a", 0)
	s.move("conn-b", 1)

	s.Require().NoError(s.app.Registry.RouteAction(s.ctx, "conn-b", registry.Action{Kind: registry.ActionForfeit}))

	end := s.gameEnd("conn-b")
	s.Equal(model.OutcomeWon, end.Player1Result)
	s.Equal("Game forfeited", end.Message)

	leaders, err := s.app.ProfileService.Leaderboard(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(leaders, 2)
	s.Equal(s.alice.ID, leaders[0].ID)
	s.Equal(model.StartingCoins+model.WinReward, leaders[0].Coins)
	s.Equal(model.StartingCoins-model.LossPenalty, leaders[1].Coins)

	view, err := s.app.ProfileService.GameDetails(s.ctx, gameID, s.bob.ID)
	s.Require().NoError(err)
	s.Equal(model.OutcomeLost, view.Outcome)
	s.Equal(model.GameStatusForfeited, view.Game.Status)

	report, err := s.app.AuditService.Run(s.ctx)
	s.Require().NoError(err)
	s.True(report.OK(), "%v", report.Issues)
}

// Test: dropping the connection mid-game loses it
func (s *IntegrationSuite) TestDisconnectFlow() {
	s.startGame()
	s.move("conn-a", 12)

	s.app.Registry.OnDisconnect(s.ctx, "conn-a")

	end := s.gameEnd("conn-b")
	s.Equal(model.OutcomeLost, end.Player1Result)
	s.Equal(model.OutcomeWon, end.Player2Result)
	s.Equal("Opponent disconnected", end.Message)
	s.Equal(1, s.user(s.bob.ID).Wins)
	s.Equal(1, s.user(s.alice.ID).Losses)
}

// Test: both players can queue again once their game is over
func (s *IntegrationSuite) TestRematch() {
	first := s.startGame()
	s.Require().NoError(s.app.Registry.RouteAction(s.ctx, "conn-a", registry.Action{Kind: registry.ActionForfeit}))

	second := s.startGame()
	s.NotEqual(first, second)
	s.Equal(0, s.app.QueueLength())
}
