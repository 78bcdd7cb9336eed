package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/islandgame/internal/dependencies/mocks"
	"github.com/mcoot/islandgame/internal/messages"
	"github.com/mcoot/islandgame/internal/model"
	"github.com/mcoot/islandgame/internal/services/game"
	"github.com/mcoot/islandgame/internal/services/matchmaking"
	"github.com/mcoot/islandgame/internal/services/scoring"
	"github.com/mcoot/islandgame/internal/storage/memory"
	"github.com/mcoot/islandgame/internal/testutil"
)

// vanishingSessions reports every game as gone once it has been created
type vanishingSessions struct {
	Sessions
}

func (v vanishingSessions) ApplyMove(ctx context.Context, gameID model.GameID, userID model.UserID, cellIndex int) (*game.Outcome, error) {
	return nil, model.ErrInvalidSession
}

type RegistrySuite struct {
	suite.Suite
	store      *memory.Storage
	clock      *mocks.MockClock
	events     *mocks.EventRecorder
	controller *game.Controller
	queue      *matchmaking.Queue
	registry   *Registry
	ctx        context.Context
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.New()
	s.clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.events = mocks.NewEventRecorder()
	logger := testutil.NopLogger()
	catalog := messages.Default()

	// Zero from the mock random: slot A gets the first color and moves first
	s.controller = game.NewController(s.store, scoring.New(), s.clock, mocks.NewMockRandom(), mocks.NewMockIDs(), logger)
	s.queue = matchmaking.NewQueue(s.controller, s.store, s.events, catalog, logger)
	s.registry = New(s.controller, s.store, s.queue, s.events, catalog, logger)

	for _, name := range []string{"alice", "bob", "carol"} {
		user := model.NewUser(model.UserID("user-"+name), name, "hash", "", s.clock.Now())
		s.Require().NoError(s.store.CreateUser(s.ctx, user))
	}
}

// Helpers

// match pairs alice and bob and tracks the new game
func (s *RegistrySuite) match() *model.Game {
	_, err := s.queue.Enqueue(s.ctx, "user-alice", "conn-alice")
	s.Require().NoError(err)
	m, err := s.queue.Enqueue(s.ctx, "user-bob", "conn-bob")
	s.Require().NoError(err)
	s.Require().NotNil(m)
	s.registry.Track(m)
	return m.Game
}

// start matches alice and bob and joins them both
func (s *RegistrySuite) start() *model.Game {
	g := s.match()
	s.Require().NoError(s.registry.RegisterParticipant(s.ctx, g.ID, "user-alice", "conn-alice"))
	s.Require().NoError(s.registry.RegisterParticipant(s.ctx, g.ID, "user-bob", "conn-bob"))
	return g
}

func (s *RegistrySuite) move(conn model.ConnID, cell int) error {
	return s.registry.RouteAction(s.ctx, conn, Action{Kind: ActionMove, CellIndex: cell})
}

func (s *RegistrySuite) count(conn model.ConnID, eventType model.EventType) int {
	n := 0
	for _, t := range s.events.Types(conn) {
		if t == eventType {
			n++
		}
	}
	return n
}

func (s *RegistrySuite) lastGameEnd(conn model.ConnID) model.GameEndPayload {
	event, ok := s.events.Last(conn)
	s.Require().True(ok)
	s.Require().Equal(model.EventGameEnd, event.Type)
	payload, ok := event.Payload.(model.GameEndPayload)
	s.Require().True(ok)
	return payload
}

// Joining

func (s *RegistrySuite) TestStartWaitsForBothParticipants() {
	g := s.match()

	s.Require().NoError(s.registry.RegisterParticipant(s.ctx, g.ID, "user-alice", "conn-alice"))
	s.Equal(0, s.count("conn-alice", model.EventStartGame))

	s.Require().NoError(s.registry.RegisterParticipant(s.ctx, g.ID, "user-bob", "conn-bob"))
	s.Equal(1, s.count("conn-alice", model.EventStartGame))
	s.Equal(1, s.count("conn-bob", model.EventStartGame))
}

func (s *RegistrySuite) TestStartGameIsPerPlayer() {
	g := s.start()

	event, ok := s.events.Last("conn-alice")
	s.Require().True(ok)
	alice := event.Payload.(model.StartGamePayload)
	event, ok = s.events.Last("conn-bob")
	s.Require().True(ok)
	bob := event.Payload.(model.StartGamePayload)

	s.Equal(g.ID, alice.GameID)
	s.Equal(model.UserID("user-alice"), alice.FirstTurn)
	s.Equal(alice.FirstTurn, bob.FirstTurn)
	s.Equal(model.Palette[0], alice.MyColor)
	s.Equal(model.Palette[1], alice.OpponentColor)
	s.Equal(alice.MyColor, bob.OpponentColor)
	s.Equal(alice.OpponentColor, bob.MyColor)
	s.Equal(model.UserID("user-bob"), alice.Opponent.ID)
	s.Equal("bob", alice.Opponent.Name)
	s.Equal(model.UserID("user-alice"), bob.Opponent.ID)
}

func (s *RegistrySuite) TestJoinUnknownGame() {
	err := s.registry.RegisterParticipant(s.ctx, "nope", "user-alice", "conn-alice")
	s.ErrorIs(err, model.ErrInvalidSession)
}

func (s *RegistrySuite) TestJoinByStranger() {
	g := s.match()

	err := s.registry.RegisterParticipant(s.ctx, g.ID, "user-carol", "conn-carol")
	s.ErrorIs(err, model.ErrNotParticipant)
	_, bound := s.registry.Bound("conn-carol")
	s.False(bound)
}

func (s *RegistrySuite) TestJoinFinishedGame() {
	g := s.start()
	s.Require().NoError(s.registry.RouteAction(s.ctx, "conn-alice", Action{Kind: ActionForfeit}))

	err := s.registry.RegisterParticipant(s.ctx, g.ID, "user-alice", "conn-alice")
	s.ErrorIs(err, model.ErrNotActive)
}

func (s *RegistrySuite) TestJoinWithoutTrack() {
	g, err := s.controller.CreateGame(s.ctx, "user-alice", "user-bob")
	s.Require().NoError(err)

	s.Require().NoError(s.registry.RegisterParticipant(s.ctx, g.ID, "user-alice", "conn-alice"))
	s.Require().NoError(s.registry.RegisterParticipant(s.ctx, g.ID, "user-bob", "conn-bob"))
	s.Equal(1, s.count("conn-alice", model.EventStartGame))
	s.Equal(1, s.count("conn-bob", model.EventStartGame))
}

func (s *RegistrySuite) TestRejoinMovesToNewConnection() {
	g := s.start()

	s.Require().NoError(s.registry.RegisterParticipant(s.ctx, g.ID, "user-alice", "conn-alice-2"))
	s.Equal(1, s.count("conn-alice-2", model.EventStartGame))
	s.Equal(1, s.count("conn-bob", model.EventStartGame))

	s.ErrorIs(s.move("conn-alice", 0), model.ErrInvalidSession)
	s.NoError(s.move("conn-alice-2", 0))
}

// Actions

func (s *RegistrySuite) TestMoveIsBroadcast() {
	g := s.start()

	s.Require().NoError(s.move("conn-alice", 7))

	for _, conn := range []model.ConnID{"conn-alice", "conn-bob"} {
		event, ok := s.events.Last(conn)
		s.Require().True(ok)
		s.Equal(model.EventMoveMade, event.Type)
		payload := event.Payload.(model.MoveMadePayload)
		s.Equal(g.ID, payload.GameID)
		s.Require().Len(payload.Grid, model.GridCells)
		s.Require().NotNil(payload.Grid[7])
		s.Equal(model.UserID("user-alice"), *payload.Grid[7])
		s.Nil(payload.Grid[0])
		s.Equal(model.UserID("user-bob"), payload.NextTurn)
	}
}

func (s *RegistrySuite) TestRejectedMoveIsNotBroadcast() {
	s.start()

	s.ErrorIs(s.move("conn-bob", 0), model.ErrNotYourTurn)
	s.ErrorIs(s.move("conn-alice", 25), model.ErrIndexOutOfRange)
	s.Equal(0, s.count("conn-alice", model.EventMoveMade))
	s.Equal(0, s.count("conn-bob", model.EventMoveMade))
}

func (s *RegistrySuite) TestActionFromUnboundConnection() {
	s.start()
	s.ErrorIs(s.move("conn-carol", 0), model.ErrInvalidSession)
}

func (s *RegistrySuite) TestActionForOtherGameOrUser() {
	s.start()

	err := s.registry.RouteAction(s.ctx, "conn-alice", Action{Kind: ActionMove, GameID: "other"})
	s.ErrorIs(err, model.ErrInvalidSession)

	err = s.registry.RouteAction(s.ctx, "conn-alice", Action{Kind: ActionMove, UserID: "user-bob"})
	s.ErrorIs(err, model.ErrNotParticipant)
}

func (s *RegistrySuite) TestUnknownActionKind() {
	s.start()
	err := s.registry.RouteAction(s.ctx, "conn-alice", Action{Kind: "dance"})
	s.ErrorIs(err, model.ErrInvalidRequest)
}

func (s *RegistrySuite) TestForfeitEndsGameForBoth() {
	g := s.start()

	s.Require().NoError(s.registry.RouteAction(s.ctx, "conn-alice", Action{Kind: ActionForfeit}))

	for _, conn := range []model.ConnID{"conn-alice", "conn-bob"} {
		payload := s.lastGameEnd(conn)
		s.Equal(g.ID, payload.GameID)
		s.Equal(model.UserID("user-alice"), payload.Player1ID)
		s.Equal(model.UserID("user-bob"), payload.Player2ID)
		s.Equal(model.OutcomeLost, payload.Player1Result)
		s.Equal(model.OutcomeWon, payload.Player2Result)
		s.Equal(model.StartingCoins-model.LossPenalty, payload.Player1Coins)
		s.Equal(model.StartingCoins+model.WinReward, payload.Player2Coins)
		s.Equal("Game forfeited", payload.Message)
	}
	s.Equal(0, s.registry.Sessions())
	_, bound := s.registry.Bound("conn-bob")
	s.False(bound)
}

func (s *RegistrySuite) TestFullBoardEndsGame() {
	s.start()

	// Alternating through the cells in order leaves a checkerboard
	for cell := 0; cell < model.GridCells; cell++ {
		conn := model.ConnID("conn-alice")
		if cell%2 == 1 {
			conn = "conn-bob"
		}
		s.Require().NoError(s.move(conn, cell), "cell %d", cell)
	}

	payload := s.lastGameEnd("conn-bob")
	s.Equal(model.OutcomeDraw, payload.Player1Result)
	s.Equal(model.OutcomeDraw, payload.Player2Result)
	s.Equal(1, payload.Player1MaxArea)
	s.Equal(1, payload.Player2MaxArea)
	s.Equal(model.StartingCoins+model.DrawReward, payload.Player1Coins)
	s.Empty(payload.Message)
	s.Equal(model.GridCells, s.count("conn-alice", model.EventMoveMade))
	s.Equal(0, s.registry.Sessions())

	s.ErrorIs(s.move("conn-alice", 0), model.ErrInvalidSession)
}

func (s *RegistrySuite) TestVanishedGameTearsDownSession() {
	s.registry.sessions = vanishingSessions{Sessions: s.controller}
	s.start()

	s.ErrorIs(s.move("conn-alice", 0), model.ErrInvalidSession)

	for _, conn := range []model.ConnID{"conn-alice", "conn-bob"} {
		event, ok := s.events.Last(conn)
		s.Require().True(ok)
		s.Equal(model.EventError, event.Type)
	}
	s.Equal(0, s.registry.Sessions())
}

func (s *RegistrySuite) TestActionOnEndedGameDropsSession() {
	g := s.start()

	// Ended behind the registry's back
	_, err := s.controller.Forfeit(s.ctx, g.ID, "user-bob")
	s.Require().NoError(err)

	s.ErrorIs(s.move("conn-alice", 0), model.ErrNotActive)
	s.Equal(0, s.registry.Sessions())
	_, bound := s.registry.Bound("conn-alice")
	s.False(bound)
}

// Seating

func (s *RegistrySuite) TestJoinLeavesQueue() {
	g := s.match()
	_, err := s.queue.Enqueue(s.ctx, "user-alice", "conn-alice")
	s.Require().NoError(err)
	s.Equal(1, s.queue.Len())

	s.Require().NoError(s.registry.RegisterParticipant(s.ctx, g.ID, "user-alice", "conn-alice"))
	s.Equal(0, s.queue.Len())
}

func (s *RegistrySuite) TestJoinOtherGameFromSeatedConnection() {
	first := s.start()

	_, err := s.queue.Enqueue(s.ctx, "user-alice", "conn-alice-2")
	s.Require().NoError(err)
	m, err := s.queue.Enqueue(s.ctx, "user-carol", "conn-carol")
	s.Require().NoError(err)
	s.Require().NotNil(m)
	s.registry.Track(m)

	err = s.registry.RegisterParticipant(s.ctx, m.Game.ID, "user-alice", "conn-alice")
	s.ErrorIs(err, model.ErrAlreadyInGame)

	bound, ok := s.registry.Bound("conn-alice")
	s.True(ok)
	s.Equal(first.ID, bound)
}

func (s *RegistrySuite) TestRequeuedConnectionStillForfeitsFirstGame() {
	first := s.start()
	s.Require().NoError(s.move("conn-alice", 0))

	// The same connection is matched again before its first game ends
	_, err := s.queue.Enqueue(s.ctx, "user-alice", "conn-alice")
	s.Require().NoError(err)
	m, err := s.queue.Enqueue(s.ctx, "user-carol", "conn-carol")
	s.Require().NoError(err)
	s.Require().NotNil(m)
	s.registry.Track(m)

	bound, ok := s.registry.Bound("conn-alice")
	s.Require().True(ok)
	s.Equal(first.ID, bound)

	s.registry.OnDisconnect(s.ctx, "conn-alice")

	s.Equal(1, s.count("conn-bob", model.EventGameEnd))
	stored, err := s.store.GetGame(s.ctx, first.ID)
	s.Require().NoError(err)
	s.Equal(model.GameStatusForfeited, stored.Status)
	s.Equal(model.EndReasonDisconnect, stored.EndReason)

	// Alice's seat in the new game waits for her to join from elsewhere
	second, err := s.store.GetGame(s.ctx, m.Game.ID)
	s.Require().NoError(err)
	s.Equal(model.GameStatusActive, second.Status)
	s.Require().NoError(s.registry.RegisterParticipant(s.ctx, m.Game.ID, "user-alice", "conn-alice-2"))
	s.Require().NoError(s.registry.RegisterParticipant(s.ctx, m.Game.ID, "user-carol", "conn-carol"))
	s.Equal(1, s.count("conn-alice-2", model.EventStartGame))
}

// Disconnects

func (s *RegistrySuite) TestDisconnectEndsGame() {
	s.start()
	s.Require().NoError(s.move("conn-alice", 0))

	s.registry.OnDisconnect(s.ctx, "conn-alice")

	payload := s.lastGameEnd("conn-bob")
	s.Equal(model.OutcomeLost, payload.Player1Result)
	s.Equal(model.OutcomeWon, payload.Player2Result)
	s.Equal(1, payload.Player1MaxArea)
	s.Equal("Opponent disconnected", payload.Message)
	s.Equal(0, s.count("conn-alice", model.EventGameEnd))
	s.Equal(0, s.registry.Sessions())

	stored, err := s.store.GetGame(s.ctx, payload.GameID)
	s.Require().NoError(err)
	s.Equal(model.GameStatusForfeited, stored.Status)
	s.Equal(model.EndReasonDisconnect, stored.EndReason)
}

func (s *RegistrySuite) TestDisconnectBeforeJoining() {
	g := s.match()
	s.Require().NoError(s.registry.RegisterParticipant(s.ctx, g.ID, "user-alice", "conn-alice"))

	s.registry.OnDisconnect(s.ctx, "conn-bob")

	payload := s.lastGameEnd("conn-alice")
	s.Equal(model.OutcomeWon, payload.Player1Result)
	s.Equal(0, s.count("conn-alice", model.EventStartGame))
}

func (s *RegistrySuite) TestDisconnectWhileQueued() {
	_, err := s.queue.Enqueue(s.ctx, "user-carol", "conn-carol")
	s.Require().NoError(err)

	s.registry.OnDisconnect(s.ctx, "conn-carol")
	s.Equal(0, s.queue.Len())
}

func (s *RegistrySuite) TestDisconnectAfterGameEnded() {
	s.start()
	s.Require().NoError(s.registry.RouteAction(s.ctx, "conn-alice", Action{Kind: ActionForfeit}))
	before := len(s.events.Events("conn-bob"))

	s.registry.OnDisconnect(s.ctx, "conn-alice")
	s.Len(s.events.Events("conn-bob"), before)
}

func (s *RegistrySuite) TestRemoveTerminalSession() {
	g := s.start()
	s.registry.RemoveTerminalSession(g.ID)
	s.registry.RemoveTerminalSession(g.ID)

	s.Equal(0, s.registry.Sessions())
	s.ErrorIs(s.move("conn-alice", 0), model.ErrInvalidSession)
}
