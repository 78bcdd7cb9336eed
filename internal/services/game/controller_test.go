package game

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mcoot/islandgame/internal/dependencies/mocks"
	"github.com/mcoot/islandgame/internal/model"
	"github.com/mcoot/islandgame/internal/services/scoring"
	"github.com/mcoot/islandgame/internal/storage"
	"github.com/mcoot/islandgame/internal/storage/memory"
	"github.com/mcoot/islandgame/internal/testutil"
	"github.com/stretchr/testify/suite"
)

var errBoom = errors.New("boom")

// flakyStorage fails selected operations on demand
type flakyStorage struct {
	storage.Storage
	mu             sync.Mutex
	failSaveGame   bool
	failSaveResult bool

	// failLoads is the number of GetGame calls left to fail. A failing load
	// reports on loadStarted, then waits for loadGate to close.
	failLoads   int
	loadGate    chan struct{}
	loadStarted chan struct{}
}

func (f *flakyStorage) SaveGame(ctx context.Context, game *model.Game) error {
	f.mu.Lock()
	fail := f.failSaveGame
	f.mu.Unlock()
	if fail {
		return errBoom
	}
	return f.Storage.SaveGame(ctx, game)
}

func (f *flakyStorage) SettleGame(ctx context.Context, game *model.Game) (*model.User, *model.User, error) {
	f.mu.Lock()
	fail := f.failSaveResult
	f.mu.Unlock()
	if fail {
		return nil, nil, errBoom
	}
	return f.Storage.SettleGame(ctx, game)
}

func (f *flakyStorage) GetGame(ctx context.Context, id model.GameID) (*model.Game, error) {
	f.mu.Lock()
	fail := f.failLoads > 0
	if fail {
		f.failLoads--
	}
	gate, started := f.loadGate, f.loadStarted
	f.mu.Unlock()
	if !fail {
		return f.Storage.GetGame(ctx, id)
	}
	if gate != nil {
		started <- struct{}{}
		<-gate
	}
	return nil, errBoom
}

type ControllerSuite struct {
	suite.Suite
	store      *flakyStorage
	clock      *mocks.MockClock
	random     *mocks.MockRandom
	ids        *mocks.MockIDs
	controller *Controller
	ctx        context.Context
}

func TestControllerSuite(t *testing.T) {
	suite.Run(t, new(ControllerSuite))
}

func (s *ControllerSuite) SetupTest() {
	s.store = &flakyStorage{Storage: memory.New()}
	s.clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.random = mocks.NewMockRandom()
	s.ids = mocks.NewMockIDs()
	s.controller = NewController(s.store, scoring.New(), s.clock, s.random, s.ids, testutil.NopLogger())
	s.ctx = context.Background()

	s.createUser("user-a", "alice", model.StartingCoins)
	s.createUser("user-b", "bob", model.StartingCoins)
}

// Helpers

func (s *ControllerSuite) createUser(id model.UserID, name string, coins int) {
	user := model.NewUser(id, name, "hash", "", s.clock.Now())
	user.Coins = coins
	s.Require().NoError(s.store.CreateUser(s.ctx, user))
}

func (s *ControllerSuite) user(id model.UserID) *model.User {
	user, err := s.store.GetUser(s.ctx, id)
	s.Require().NoError(err)
	return user
}

// newGame creates a game where user-a moves first
func (s *ControllerSuite) newGame() *model.Game {
	s.ids.Queue("game-1")
	game, err := s.controller.CreateGame(s.ctx, "user-a", "user-b")
	s.Require().NoError(err)
	s.Require().Equal(model.SlotA, game.CurrentTurn)
	return game
}

// play applies moves alternately starting with user-a
func (s *ControllerSuite) play(gameID model.GameID, cells ...int) *Outcome {
	var out *Outcome
	players := [2]model.UserID{"user-a", "user-b"}
	for i, cell := range cells {
		var err error
		out, err = s.controller.ApplyMove(s.ctx, gameID, players[i%2], cell)
		s.Require().NoError(err, "move %d (cell %d)", i, cell)
	}
	return out
}

func interleave(a, b []int) []int {
	var out []int
	for i := range a {
		out = append(out, a[i])
		if i < len(b) {
			out = append(out, b[i])
		}
	}
	return out
}

// Create tests

func (s *ControllerSuite) TestCreateGame() {
	game := s.newGame()

	s.Equal(model.GameID("game-1"), game.ID)
	s.Equal(model.GameStatusActive, game.Status)
	s.Equal(model.Palette[0], game.ColorA)
	s.Equal(model.Palette[1], game.ColorB)
	s.Equal(0, game.Grid.Claimed())

	stored, err := s.store.GetGame(s.ctx, "game-1")
	s.Require().NoError(err)
	s.Equal(model.GameStatusActive, stored.Status)
}

func (s *ControllerSuite) TestCreateGameUsesRandomColorsAndFirstTurn() {
	s.random.QueueIntn(1, 1)

	game, err := s.controller.CreateGame(s.ctx, "user-a", "user-b")
	s.Require().NoError(err)

	s.Equal(model.Palette[1], game.ColorA)
	s.Equal(model.Palette[0], game.ColorB)
	s.Equal(model.SlotB, game.CurrentTurn)
	s.Equal(model.UserID("user-b"), game.CurrentTurnUser())
}

// Move tests

func (s *ControllerSuite) TestApplyMove() {
	game := s.newGame()

	out, err := s.controller.ApplyMove(s.ctx, game.ID, "user-a", 12)
	s.Require().NoError(err)

	s.False(out.Ended)
	s.Equal(model.SlotA, out.Game.Grid[12])
	s.Equal(model.SlotB, out.Game.CurrentTurn)

	stored, err := s.store.GetGame(s.ctx, game.ID)
	s.Require().NoError(err)
	s.Equal(model.SlotA, stored.Grid[12])
}

func (s *ControllerSuite) TestApplyMoveOutOfTurn() {
	game := s.newGame()

	_, err := s.controller.ApplyMove(s.ctx, game.ID, "user-b", 0)
	s.ErrorIs(err, model.ErrNotYourTurn)
}

func (s *ControllerSuite) TestTurnsStrictlyAlternate() {
	game := s.newGame()
	s.play(game.ID, 0)

	_, err := s.controller.ApplyMove(s.ctx, game.ID, "user-a", 1)
	s.ErrorIs(err, model.ErrNotYourTurn)

	_, err = s.controller.ApplyMove(s.ctx, game.ID, "user-b", 1)
	s.Require().NoError(err)
}

func (s *ControllerSuite) TestApplyMoveCellOccupied() {
	game := s.newGame()
	s.play(game.ID, 7)

	_, err := s.controller.ApplyMove(s.ctx, game.ID, "user-b", 7)
	s.ErrorIs(err, model.ErrCellOccupied)
}

func (s *ControllerSuite) TestApplyMoveIndexOutOfRange() {
	game := s.newGame()

	for _, cell := range []int{-1, 25, 100} {
		_, err := s.controller.ApplyMove(s.ctx, game.ID, "user-a", cell)
		s.ErrorIs(err, model.ErrIndexOutOfRange)
		s.Equal(model.KindValidation, model.KindOf(err))
	}
}

func (s *ControllerSuite) TestApplyMoveByStranger() {
	game := s.newGame()

	_, err := s.controller.ApplyMove(s.ctx, game.ID, "user-z", 0)
	s.ErrorIs(err, model.ErrNotParticipant)
}

func (s *ControllerSuite) TestApplyMoveUnknownGame() {
	_, err := s.controller.ApplyMove(s.ctx, "nope", "user-a", 0)
	s.ErrorIs(err, model.ErrInvalidSession)
	s.Equal(0, s.controller.ActiveSessions())
}

// Completion tests

func (s *ControllerSuite) TestFullBoardTopRowWins() {
	game := s.newGame()

	// A: AAAAA / ...A. / A.A.A / .A.A. / A.A..  (largest region 6)
	// B: ..... / BBB.B / .B.B. / B.B.B / .B.BB  (largest region 4)
	aCells := []int{0, 1, 2, 3, 4, 8, 10, 12, 14, 16, 18, 20, 22}
	bCells := []int{5, 6, 7, 9, 11, 13, 15, 17, 19, 21, 23, 24}
	out := s.play(game.ID, interleave(aCells, bCells)...)

	s.True(out.Ended)
	s.Equal(model.GameStatusCompleted, out.Game.Status)
	s.Equal(model.ResultSlotAWin, out.Game.Result)
	s.Equal(model.UserID("user-a"), out.Game.WinnerID)
	s.Equal(model.EndReasonBoardFull, out.Game.EndReason)
	s.Equal(6, out.Game.AreaA)
	s.Equal(4, out.Game.AreaB)
	s.True(out.Game.Grid.Full())
	for _, owner := range out.Game.OwnerIDs() {
		s.NotNil(owner)
	}

	s.Equal(model.StartingCoins+model.WinReward, out.UserA.Coins)
	s.Equal(model.StartingCoins-model.LossPenalty, out.UserB.Coins)

	alice, bob := s.user("user-a"), s.user("user-b")
	s.Equal(1, alice.Wins)
	s.Equal(0, alice.Losses)
	s.Equal(1, bob.Losses)
	s.Equal(0, bob.Wins)
}

func (s *ControllerSuite) TestFullBoardDraw() {
	game := s.newGame()

	// Checkerboard: every region has area 1
	var aCells, bCells []int
	for i := 0; i < model.GridCells; i++ {
		if (i/model.GridSize+i%model.GridSize)%2 == 0 {
			aCells = append(aCells, i)
		} else {
			bCells = append(bCells, i)
		}
	}
	out := s.play(game.ID, interleave(aCells, bCells)...)

	s.True(out.Ended)
	s.Equal(model.ResultDraw, out.Game.Result)
	s.Empty(out.Game.WinnerID)
	s.Equal(1, out.Game.AreaA)
	s.Equal(1, out.Game.AreaB)

	alice, bob := s.user("user-a"), s.user("user-b")
	s.Equal(1, alice.Draws)
	s.Equal(1, bob.Draws)
	s.Equal(model.StartingCoins+model.DrawReward, alice.Coins)
	s.Equal(model.StartingCoins+model.DrawReward, bob.Coins)
}

func (s *ControllerSuite) TestNoMovesAfterCompletion() {
	game := s.newGame()
	cells := make([]int, model.GridCells)
	for i := range cells {
		cells[i] = i
	}
	out := s.play(game.ID, cells...)
	s.Require().True(out.Ended)

	_, err := s.controller.ApplyMove(s.ctx, game.ID, out.Game.CurrentTurnUser(), 0)
	s.ErrorIs(err, model.ErrNotActive)

	// Settlement happened exactly once
	alice, bob := s.user("user-a"), s.user("user-b")
	s.Equal(1, alice.Wins+alice.Losses+alice.Draws)
	s.Equal(1, bob.Wins+bob.Losses+bob.Draws)
}

// Forfeit tests

func (s *ControllerSuite) TestForfeit() {
	game := s.newGame()
	s.play(game.ID, 0, 1, 2)

	out, err := s.controller.Forfeit(s.ctx, game.ID, "user-a")
	s.Require().NoError(err)

	s.True(out.Ended)
	s.Equal(model.GameStatusForfeited, out.Game.Status)
	s.Equal(model.ResultSlotBWin, out.Game.Result)
	s.Equal(model.UserID("user-b"), out.Game.WinnerID)
	s.Equal(model.EndReasonForfeit, out.Game.EndReason)
	s.Equal(1, out.Game.AreaA) // cells 0 and 2 are not adjacent
	s.Equal(1, out.Game.AreaB)
	s.Equal(model.OutcomeLost, out.Game.Result.For(model.SlotA))
	s.Equal(model.OutcomeWon, out.Game.Result.For(model.SlotB))
}

func (s *ControllerSuite) TestForfeitBeatsLargerArea() {
	game := s.newGame()
	s.play(game.ID, 0, 10, 1, 20, 2)

	out, err := s.controller.Forfeit(s.ctx, game.ID, "user-a")
	s.Require().NoError(err)
	s.Equal(3, out.Game.AreaA)
	s.Equal(model.ResultSlotBWin, out.Game.Result)
}

func (s *ControllerSuite) TestForfeitTwice() {
	game := s.newGame()

	_, err := s.controller.Forfeit(s.ctx, game.ID, "user-b")
	s.Require().NoError(err)

	_, err = s.controller.Forfeit(s.ctx, game.ID, "user-b")
	s.ErrorIs(err, model.ErrNotActive)

	_, err = s.controller.Forfeit(s.ctx, game.ID, "user-a")
	s.ErrorIs(err, model.ErrNotActive)

	alice, bob := s.user("user-a"), s.user("user-b")
	s.Equal(1, alice.Wins)
	s.Equal(model.StartingCoins+model.WinReward, alice.Coins)
	s.Equal(1, bob.Losses)
}

func (s *ControllerSuite) TestForfeitByStranger() {
	game := s.newGame()

	_, err := s.controller.Forfeit(s.ctx, game.ID, "user-z")
	s.ErrorIs(err, model.ErrNotParticipant)
}

func (s *ControllerSuite) TestLossCoinsFloorAtZero() {
	s.createUser("user-c", "carol", 150)
	s.ids.Queue("game-2")
	game, err := s.controller.CreateGame(s.ctx, "user-a", "user-c")
	s.Require().NoError(err)

	_, err = s.controller.Forfeit(s.ctx, game.ID, "user-c")
	s.Require().NoError(err)

	carol := s.user("user-c")
	s.Equal(0, carol.Coins)
	s.Equal(1, carol.Losses)
}

// Disconnect tests

func (s *ControllerSuite) TestDisconnectAfterTenCells() {
	game := s.newGame()
	s.play(game.ID, 0, 5, 1, 6, 2, 7, 3, 8, 24, 9)

	out, err := s.controller.HandleDisconnect(s.ctx, game.ID, "user-b")
	s.Require().NoError(err)
	s.Require().NotNil(out)

	s.Equal(model.GameStatusForfeited, out.Game.Status)
	s.Equal(model.EndReasonDisconnect, out.Game.EndReason)
	s.Equal(model.ResultSlotAWin, out.Game.Result)
	s.Equal(4, out.Game.AreaA)
	s.Equal(5, out.Game.AreaB)
	s.Equal(10, out.Game.Grid.Claimed())

	s.Equal(model.StartingCoins+model.WinReward, s.user("user-a").Coins)
	s.Equal(model.StartingCoins-model.LossPenalty, s.user("user-b").Coins)
}

func (s *ControllerSuite) TestDisconnectAfterEndIsNoop() {
	game := s.newGame()
	_, err := s.controller.Forfeit(s.ctx, game.ID, "user-a")
	s.Require().NoError(err)

	out, err := s.controller.HandleDisconnect(s.ctx, game.ID, "user-b")
	s.NoError(err)
	s.Nil(out)

	s.Equal(1, s.user("user-b").Wins)
}

// Persistence failure tests

func (s *ControllerSuite) TestMoveNotAppliedWhenSaveFails() {
	game := s.newGame()
	s.store.failSaveGame = true

	_, err := s.controller.ApplyMove(s.ctx, game.ID, "user-a", 3)
	s.ErrorIs(err, model.ErrServer)
	s.Equal(model.KindPersistence, model.KindOf(err))

	current, err := s.controller.GetGame(s.ctx, game.ID)
	s.Require().NoError(err)
	s.Equal(model.SlotNone, current.Grid[3])
	s.Equal(model.SlotA, current.CurrentTurn)

	s.store.failSaveGame = false
	_, err = s.controller.ApplyMove(s.ctx, game.ID, "user-a", 3)
	s.NoError(err)
}

func (s *ControllerSuite) TestForfeitNotAppliedWhenSettlementFails() {
	game := s.newGame()
	s.store.failSaveResult = true

	_, err := s.controller.Forfeit(s.ctx, game.ID, "user-a")
	s.ErrorIs(err, model.ErrServer)

	current, err := s.controller.GetGame(s.ctx, game.ID)
	s.Require().NoError(err)
	s.Equal(model.GameStatusActive, current.Status)
	s.Equal(0, s.user("user-b").Wins)

	s.store.failSaveResult = false
	out, err := s.controller.Forfeit(s.ctx, game.ID, "user-a")
	s.Require().NoError(err)
	s.True(out.Ended)
	s.Equal(1, s.user("user-b").Wins)
}

func (s *ControllerSuite) TestSettlementWithMissingUserClosesGame() {
	s.ids.Queue("game-ghost")
	game, err := s.controller.CreateGame(s.ctx, "user-a", "user-ghost")
	s.Require().NoError(err)

	_, err = s.controller.Forfeit(s.ctx, game.ID, "user-a")
	s.ErrorIs(err, model.ErrInconsistentState)

	stored, err := s.store.GetGame(s.ctx, game.ID)
	s.Require().NoError(err)
	s.Equal(model.GameStatusForfeited, stored.Status)
	s.Equal(0, s.user("user-a").Losses)
}

// Concurrency tests

func (s *ControllerSuite) TestConcurrentForfeitsSettleOnce() {
	game := s.newGame()

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			player := model.UserID("user-a")
			if i%2 == 1 {
				player = "user-b"
			}
			_, errs[i] = s.controller.Forfeit(s.ctx, game.ID, player)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			s.ErrorIs(err, model.ErrNotActive)
		}
	}
	s.Equal(1, succeeded)

	alice, bob := s.user("user-a"), s.user("user-b")
	s.Equal(1, alice.Wins+alice.Losses)
	s.Equal(1, bob.Wins+bob.Losses)
}

func (s *ControllerSuite) TestFailedLoadKeepsOneSessionPerGame() {
	game := s.newGame()

	// A fresh controller has to load the game; its first load fails
	// while a second caller is already waiting on the same handle
	other := NewController(s.store, scoring.New(), s.clock, s.random, s.ids, testutil.NopLogger())
	gate := make(chan struct{})
	s.store.mu.Lock()
	s.store.failLoads = 1
	s.store.loadGate = gate
	s.store.loadStarted = make(chan struct{}, 1)
	s.store.mu.Unlock()

	first := make(chan error, 1)
	go func() {
		_, err := other.Forfeit(s.ctx, game.ID, "user-a")
		first <- err
	}()
	<-s.store.loadStarted

	second := make(chan error, 1)
	go func() {
		_, err := other.Forfeit(s.ctx, game.ID, "user-b")
		second <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(gate)

	s.ErrorIs(<-first, model.ErrServer)
	_, errThird := other.Forfeit(s.ctx, game.ID, "user-a")
	errSecond := <-second

	succeeded := 0
	for _, err := range []error{errSecond, errThird} {
		if err == nil {
			succeeded++
		} else {
			s.ErrorIs(err, model.ErrNotActive)
		}
	}
	s.Equal(1, succeeded)

	alice, bob := s.user("user-a"), s.user("user-b")
	s.Equal(1, alice.Wins+alice.Losses)
	s.Equal(1, bob.Wins+bob.Losses)
	s.Equal(2*model.StartingCoins, alice.Coins+bob.Coins)
}

func (s *ControllerSuite) TestConcurrentSettlementsForOneUser() {
	s.createUser("user-c", "carol", model.StartingCoins)
	s.ids.Queue("game-1", "game-2")
	first, err := s.controller.CreateGame(s.ctx, "user-a", "user-b")
	s.Require().NoError(err)
	second, err := s.controller.CreateGame(s.ctx, "user-a", "user-c")
	s.Require().NoError(err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []model.GameID{first.ID, second.ID} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.controller.Forfeit(s.ctx, id, "user-a")
		}()
	}
	wg.Wait()
	s.Require().NoError(errs[0])
	s.Require().NoError(errs[1])

	alice := s.user("user-a")
	s.Equal(2, alice.Losses)
	s.Equal(model.StartingCoins-2*model.LossPenalty, alice.Coins)
	s.Equal(1, s.user("user-b").Wins)
	s.Equal(1, s.user("user-c").Wins)
}

func (s *ControllerSuite) TestConcurrentMovesOnSameCell() {
	game := s.newGame()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.controller.ApplyMove(s.ctx, game.ID, "user-a", 4)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	s.Equal(1, succeeded)

	current, err := s.controller.GetGame(s.ctx, game.ID)
	s.Require().NoError(err)
	s.Equal(1, current.Grid.Claimed())
	s.Equal(model.SlotB, current.CurrentTurn)
}

func (s *ControllerSuite) TestSessionReloadsFromStorage() {
	game := s.newGame()
	s.play(game.ID, 0)

	// A fresh controller over the same store picks the game up where it was
	other := NewController(s.store, scoring.New(), s.clock, s.random, s.ids, testutil.NopLogger())
	_, err := other.ApplyMove(s.ctx, game.ID, "user-b", 1)
	s.Require().NoError(err)

	stored, err := s.store.GetGame(s.ctx, game.ID)
	s.Require().NoError(err)
	s.Equal(2, stored.Grid.Claimed())
}
