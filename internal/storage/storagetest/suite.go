// Package storagetest holds the behaviour every storage backend must share.
package storagetest

import (
	"context"
	"sync"
	"time"

	"github.com/mcoot/islandgame/internal/model"
	"github.com/mcoot/islandgame/internal/storage"
	"github.com/stretchr/testify/suite"
)

var baseTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// Suite runs the shared storage contract against the backend returned by
// NewStorage. Backends embed it and set NewStorage before SetupTest runs.
type Suite struct {
	suite.Suite
	NewStorage func() storage.Storage
	Store      storage.Storage
	Ctx        context.Context
}

func (s *Suite) SetupTest() {
	s.Require().NotNil(s.NewStorage, "NewStorage must be set")
	s.Store = s.NewStorage()
	s.Ctx = context.Background()
}

// Helpers

func (s *Suite) createUser(id model.UserID, name string, coins int) *model.User {
	user := model.NewUser(id, name, "hash", "", baseTime)
	user.Coins = coins
	s.Require().NoError(s.Store.CreateUser(s.Ctx, user))
	return user
}

func (s *Suite) createGame(id model.GameID, a, b model.UserID, offset time.Duration) *model.Game {
	game := model.NewGame(id, a, b, model.Palette[0], model.Palette[1], model.SlotA, baseTime.Add(offset))
	s.Require().NoError(s.Store.CreateGame(s.Ctx, game))
	return game
}

// User tests

func (s *Suite) TestCreateAndGetUser() {
	s.createUser("user-1", "alice", model.StartingCoins)

	user, err := s.Store.GetUser(s.Ctx, "user-1")
	s.Require().NoError(err)
	s.Equal("alice", user.Name)
	s.Equal(model.StartingCoins, user.Coins)
	s.Equal(model.DefaultAvatarURL, user.AvatarURL)
	s.True(baseTime.Equal(user.CreatedAt))
}

func (s *Suite) TestGetUserNotFound() {
	_, err := s.Store.GetUser(s.Ctx, "missing")
	s.ErrorIs(err, model.ErrUserNotFound)

	_, err = s.Store.GetUserByName(s.Ctx, "missing")
	s.ErrorIs(err, model.ErrUserNotFound)
}

func (s *Suite) TestCreateUserDuplicateName() {
	s.createUser("user-1", "alice", model.StartingCoins)

	err := s.Store.CreateUser(s.Ctx, model.NewUser("user-2", "alice", "hash", "", baseTime))
	s.ErrorIs(err, model.ErrNameTaken)
}

func (s *Suite) TestGetUserByName() {
	s.createUser("user-1", "alice", model.StartingCoins)

	user, err := s.Store.GetUserByName(s.Ctx, "alice")
	s.Require().NoError(err)
	s.Equal(model.UserID("user-1"), user.ID)
}

func (s *Suite) TestSaveUserUpdatesRecord() {
	user := s.createUser("user-1", "alice", model.StartingCoins)
	user.RecordWin()

	s.Require().NoError(s.Store.SaveUser(s.Ctx, user))

	got, err := s.Store.GetUser(s.Ctx, "user-1")
	s.Require().NoError(err)
	s.Equal(1, got.Wins)
	s.Equal(model.StartingCoins+model.WinReward, got.Coins)
}

func (s *Suite) TestReturnedUserIsACopy() {
	s.createUser("user-1", "alice", model.StartingCoins)

	user, err := s.Store.GetUser(s.Ctx, "user-1")
	s.Require().NoError(err)
	user.Coins = 0

	again, err := s.Store.GetUser(s.Ctx, "user-1")
	s.Require().NoError(err)
	s.Equal(model.StartingCoins, again.Coins)
}

func (s *Suite) TestRenameUser() {
	s.createUser("user-1", "alice", model.StartingCoins)

	renamed, err := s.Store.RenameUser(s.Ctx, "user-1", "alicia")
	s.Require().NoError(err)
	s.Equal("alicia", renamed.Name)

	_, err = s.Store.GetUserByName(s.Ctx, "alice")
	s.ErrorIs(err, model.ErrUserNotFound)

	got, err := s.Store.GetUserByName(s.Ctx, "alicia")
	s.Require().NoError(err)
	s.Equal(model.UserID("user-1"), got.ID)
}

func (s *Suite) TestRenameUserToTakenName() {
	s.createUser("user-1", "alice", model.StartingCoins)
	s.createUser("user-2", "bob", model.StartingCoins)

	_, err := s.Store.RenameUser(s.Ctx, "user-2", "alice")
	s.ErrorIs(err, model.ErrNameTaken)

	got, err := s.Store.GetUser(s.Ctx, "user-2")
	s.Require().NoError(err)
	s.Equal("bob", got.Name)
}

func (s *Suite) TestRenameMissingUser() {
	_, err := s.Store.RenameUser(s.Ctx, "missing", "ghost")
	s.ErrorIs(err, model.ErrUserNotFound)
}

func (s *Suite) TestLeaderboardOrdersByCoins() {
	s.createUser("user-1", "alice", 800)
	s.createUser("user-2", "bob", 1400)
	s.createUser("user-3", "carol", 1000)

	users, err := s.Store.Leaderboard(s.Ctx, 0)
	s.Require().NoError(err)
	s.Require().Len(users, 3)
	s.Equal("bob", users[0].Name)
	s.Equal("carol", users[1].Name)
	s.Equal("alice", users[2].Name)

	top, err := s.Store.Leaderboard(s.Ctx, 2)
	s.Require().NoError(err)
	s.Len(top, 2)
}

func (s *Suite) TestLeaderboardFollowsSavedCoins() {
	s.createUser("user-1", "alice", 1000)
	bob := s.createUser("user-2", "bob", 1100)

	bob.RecordLoss()
	s.Require().NoError(s.Store.SaveUser(s.Ctx, bob))

	users, err := s.Store.Leaderboard(s.Ctx, 0)
	s.Require().NoError(err)
	s.Require().Len(users, 2)
	s.Equal("alice", users[0].Name)
	s.Equal(900, users[1].Coins)
}

// Game tests

func (s *Suite) TestCreateAndGetGame() {
	s.createGame("game-1", "user-1", "user-2", 0)

	game, err := s.Store.GetGame(s.Ctx, "game-1")
	s.Require().NoError(err)
	s.Equal(model.UserID("user-1"), game.SlotA)
	s.Equal(model.UserID("user-2"), game.SlotB)
	s.Equal(model.GameStatusActive, game.Status)
	s.Equal(model.SlotA, game.CurrentTurn)
	s.Equal(0, game.Grid.Claimed())
	s.True(game.EndedAt.IsZero())
}

func (s *Suite) TestGetGameNotFound() {
	_, err := s.Store.GetGame(s.Ctx, "missing")
	s.ErrorIs(err, model.ErrGameNotFound)
}

func (s *Suite) TestSaveGamePersistsGrid() {
	game := s.createGame("game-1", "user-1", "user-2", 0)
	game.Grid[0] = model.SlotA
	game.Grid[24] = model.SlotB
	game.CurrentTurn = model.SlotB

	s.Require().NoError(s.Store.SaveGame(s.Ctx, game))

	got, err := s.Store.GetGame(s.Ctx, "game-1")
	s.Require().NoError(err)
	s.Equal(model.SlotA, got.Grid[0])
	s.Equal(model.SlotB, got.Grid[24])
	s.Equal(model.SlotNone, got.Grid[12])
	s.Equal(model.SlotB, got.CurrentTurn)
}

func (s *Suite) TestSaveMissingGame() {
	game := model.NewGame("missing", "user-1", "user-2", model.Palette[0], model.Palette[1], model.SlotA, baseTime)
	err := s.Store.SaveGame(s.Ctx, game)
	s.ErrorIs(err, model.ErrGameNotFound)
}

func (s *Suite) TestReturnedGameIsACopy() {
	s.createGame("game-1", "user-1", "user-2", 0)

	game, err := s.Store.GetGame(s.Ctx, "game-1")
	s.Require().NoError(err)
	game.Grid[3] = model.SlotB

	again, err := s.Store.GetGame(s.Ctx, "game-1")
	s.Require().NoError(err)
	s.Equal(model.SlotNone, again.Grid[3])
}

func (s *Suite) TestListGamesForUser() {
	s.createGame("game-1", "user-1", "user-2", 0)
	s.createGame("game-2", "user-3", "user-1", time.Minute)
	s.createGame("game-3", "user-2", "user-3", 2*time.Minute)

	games, err := s.Store.ListGamesForUser(s.Ctx, "user-1")
	s.Require().NoError(err)
	ids := make([]model.GameID, 0, len(games))
	for _, g := range games {
		ids = append(ids, g.ID)
	}
	s.ElementsMatch([]model.GameID{"game-1", "game-2"}, ids)

	none, err := s.Store.ListGamesForUser(s.Ctx, "user-9")
	s.Require().NoError(err)
	s.Empty(none)
}

func (s *Suite) TestSettleGame() {
	s.createUser("user-1", "alice", model.StartingCoins)
	s.createUser("user-2", "bob", model.StartingCoins)
	game := s.createGame("game-1", "user-1", "user-2", 0)

	game.Finish(model.GameStatusForfeited, model.ResultSlotAWin, model.EndReasonForfeit, 0, 0, baseTime.Add(time.Minute))
	alice, bob, err := s.Store.SettleGame(s.Ctx, game)
	s.Require().NoError(err)
	s.Equal(1, alice.Wins)
	s.Equal(model.StartingCoins+model.WinReward, alice.Coins)
	s.Equal(1, bob.Losses)

	got, err := s.Store.GetGame(s.Ctx, "game-1")
	s.Require().NoError(err)
	s.Equal(model.GameStatusForfeited, got.Status)
	s.Equal(model.ResultSlotAWin, got.Result)
	s.Equal(model.UserID("user-1"), got.WinnerID)
	s.Equal(model.EndReasonForfeit, got.EndReason)
	s.True(baseTime.Add(time.Minute).Equal(got.EndedAt))

	a, err := s.Store.GetUser(s.Ctx, "user-1")
	s.Require().NoError(err)
	s.Equal(1, a.Wins)
	s.True(baseTime.Add(time.Minute).Equal(a.UpdatedAt))
	b, err := s.Store.GetUser(s.Ctx, "user-2")
	s.Require().NoError(err)
	s.Equal(1, b.Losses)
	s.Equal(model.StartingCoins-model.LossPenalty, b.Coins)
}

func (s *Suite) TestSettleGameIsAllOrNothing() {
	s.createUser("user-1", "alice", model.StartingCoins)
	game := s.createGame("game-1", "user-1", "user-2", 0)

	game.Finish(model.GameStatusForfeited, model.ResultSlotAWin, model.EndReasonForfeit, 0, 0, baseTime)
	_, _, err := s.Store.SettleGame(s.Ctx, game)
	s.ErrorIs(err, model.ErrUserNotFound)

	stored, err := s.Store.GetGame(s.Ctx, "game-1")
	s.Require().NoError(err)
	s.Equal(model.GameStatusActive, stored.Status)

	a, err := s.Store.GetUser(s.Ctx, "user-1")
	s.Require().NoError(err)
	s.Equal(0, a.Wins)
	s.Equal(model.StartingCoins, a.Coins)
}

func (s *Suite) TestSettleUnknownGame() {
	s.createUser("user-1", "alice", model.StartingCoins)
	s.createUser("user-2", "bob", model.StartingCoins)
	game := model.NewGame("missing", "user-1", "user-2", model.Palette[0], model.Palette[1], model.SlotA, baseTime)

	game.Finish(model.GameStatusCompleted, model.ResultDraw, model.EndReasonBoardFull, 1, 1, baseTime)
	_, _, err := s.Store.SettleGame(s.Ctx, game)
	s.ErrorIs(err, model.ErrGameNotFound)

	a, err := s.Store.GetUser(s.Ctx, "user-1")
	s.Require().NoError(err)
	s.Equal(0, a.Draws)
}

func (s *Suite) TestSettleGameKeepsRename() {
	s.createUser("user-1", "alice", model.StartingCoins)
	s.createUser("user-2", "bob", model.StartingCoins)
	game := s.createGame("game-1", "user-1", "user-2", 0)

	_, err := s.Store.RenameUser(s.Ctx, "user-1", "alicia")
	s.Require().NoError(err)

	game.Finish(model.GameStatusForfeited, model.ResultSlotBWin, model.EndReasonForfeit, 0, 0, baseTime)
	alice, _, err := s.Store.SettleGame(s.Ctx, game)
	s.Require().NoError(err)
	s.Equal("alicia", alice.Name)

	stored, err := s.Store.GetUserByName(s.Ctx, "alicia")
	s.Require().NoError(err)
	s.Equal(1, stored.Losses)
	s.Equal(model.StartingCoins-model.LossPenalty, stored.Coins)
}

func (s *Suite) TestConcurrentSettlementsForOneUserAllApply() {
	s.createUser("user-1", "alice", model.StartingCoins)
	opponents := []model.UserID{"user-2", "user-3", "user-4", "user-5"}
	games := make([]*model.Game, len(opponents))
	for i, id := range opponents {
		s.createUser(id, "opponent-"+string(id), model.StartingCoins)
		games[i] = s.createGame(model.GameID("game-"+string(id)), "user-1", id, 0)
		games[i].Finish(model.GameStatusForfeited, model.ResultSlotBWin, model.EndReasonForfeit, 0, 0, baseTime)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(games))
	for i, game := range games {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, errs[i] = s.Store.SettleGame(s.Ctx, game)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		s.Require().NoError(err)
	}

	alice, err := s.Store.GetUser(s.Ctx, "user-1")
	s.Require().NoError(err)
	s.Equal(len(games), alice.Losses)
	s.Equal(model.StartingCoins-len(games)*model.LossPenalty, alice.Coins)

	board, err := s.Store.Leaderboard(s.Ctx, 0)
	s.Require().NoError(err)
	s.Require().Len(board, len(opponents)+1)
	s.Equal(model.UserID("user-1"), board[len(board)-1].ID)
}

func (s *Suite) TestListGamesByStatus() {
	s.createUser("user-1", "alice", model.StartingCoins)
	s.createUser("user-2", "bob", model.StartingCoins)
	s.createGame("game-1", "user-1", "user-2", 0)
	finished := s.createGame("game-2", "user-1", "user-2", time.Minute)

	finished.Finish(model.GameStatusCompleted, model.ResultDraw, model.EndReasonBoardFull, 3, 3, baseTime.Add(time.Hour))
	_, _, err := s.Store.SettleGame(s.Ctx, finished)
	s.Require().NoError(err)

	active, err := s.Store.ListGamesByStatus(s.Ctx, model.GameStatusActive)
	s.Require().NoError(err)
	s.Require().Len(active, 1)
	s.Equal(model.GameID("game-1"), active[0].ID)

	completed, err := s.Store.ListGamesByStatus(s.Ctx, model.GameStatusCompleted)
	s.Require().NoError(err)
	s.Require().Len(completed, 1)
	s.Equal(model.GameID("game-2"), completed[0].ID)
	s.Equal(model.ResultDraw, completed[0].Result)
	s.Empty(completed[0].WinnerID)
}
