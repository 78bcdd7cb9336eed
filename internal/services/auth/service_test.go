package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"github.com/mcoot/islandgame/internal/dependencies/mocks"
	"github.com/mcoot/islandgame/internal/model"
	"github.com/mcoot/islandgame/internal/storage/memory"
	"github.com/mcoot/islandgame/internal/testutil"
)

type ServiceSuite struct {
	suite.Suite
	storage *memory.Storage
	clock   *mocks.MockClock
	service *Service
	ctx     context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.storage = memory.New()
	s.clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	cfg := DefaultConfig()
	cfg.HashCost = bcrypt.MinCost
	s.service = New(s.storage, s.clock, mocks.NewMockIDs(), testutil.NopLogger(), cfg)
	s.ctx = context.Background()
}

func (s *ServiceSuite) signUp(name string) (*model.User, *Session) {
	user, session, err := s.service.SignUp(s.ctx, name, "password123", "")
	s.Require().NoError(err)
	return user, session
}

// SignUp tests

func (s *ServiceSuite) TestSignUpSucceeds() {
	user, session := s.signUp("alice")

	s.NotEmpty(session.Token)
	s.Equal(user.ID, session.UserID)
	s.Equal("alice", user.Name)
	s.Equal(model.StartingCoins, user.Coins)
	s.Equal(model.DefaultAvatarURL, user.AvatarURL)
}

func (s *ServiceSuite) TestSignUpPersistsHashedPassword() {
	user, _ := s.signUp("alice")

	stored, err := s.storage.GetUser(s.ctx, user.ID)
	s.Require().NoError(err)
	s.NotEmpty(stored.PasswordHash)
	s.NotEqual("password123", stored.PasswordHash)
}

func (s *ServiceSuite) TestSignUpKeepsAvatar() {
	user, _, err := s.service.SignUp(s.ctx, "alice", "pw", "https://example.com/a.png")
	s.Require().NoError(err)
	s.Equal("https://example.com/a.png", user.AvatarURL)
}

func (s *ServiceSuite) TestSignUpTrimsName() {
	user, _ := s.signUp("  alice ")
	s.Equal("alice", user.Name)
}

func (s *ServiceSuite) TestSignUpRejectsBlankName() {
	_, _, err := s.service.SignUp(s.ctx, "   ", "pw", "")
	s.ErrorIs(err, model.ErrInvalidName)
}

func (s *ServiceSuite) TestSignUpRejectsEmptyPassword() {
	_, _, err := s.service.SignUp(s.ctx, "alice", "", "")
	s.ErrorIs(err, model.ErrInvalidRequest)
}

func (s *ServiceSuite) TestSignUpFailsIfNameTaken() {
	s.signUp("alice")

	_, _, err := s.service.SignUp(s.ctx, "alice", "different", "")
	s.ErrorIs(err, model.ErrNameTaken)
}

// Login tests

func (s *ServiceSuite) TestLoginSucceeds() {
	user, _ := s.signUp("alice")

	loggedIn, session, err := s.service.Login(s.ctx, "alice", "password123")
	s.Require().NoError(err)

	s.NotEmpty(session.Token)
	s.Equal(user.ID, loggedIn.ID)
}

func (s *ServiceSuite) TestLoginFailsWithWrongPassword() {
	s.signUp("alice")

	_, _, err := s.service.Login(s.ctx, "alice", "wrongpassword")
	s.ErrorIs(err, ErrInvalidCredentials)
}

func (s *ServiceSuite) TestLoginFailsWithUnknownUser() {
	_, _, err := s.service.Login(s.ctx, "nobody", "password123")
	s.ErrorIs(err, ErrInvalidCredentials)
}

// ValidateSession tests

func (s *ServiceSuite) TestValidateSessionSucceeds() {
	_, session := s.signUp("alice")

	validated, err := s.service.ValidateSession(session.Token)
	s.Require().NoError(err)
	s.Equal(session.Token, validated.Token)
}

func (s *ServiceSuite) TestValidateSessionFailsWithInvalidToken() {
	_, err := s.service.ValidateSession("invalid_token")
	s.ErrorIs(err, ErrInvalidToken)
}

func (s *ServiceSuite) TestValidateSessionFailsWhenExpired() {
	_, session := s.signUp("alice")

	s.clock.Advance(25 * time.Hour)

	_, err := s.service.ValidateSession(session.Token)
	s.ErrorIs(err, ErrInvalidToken)
}

// Authenticate tests

func (s *ServiceSuite) TestAuthenticateReturnsCurrentUser() {
	user, session := s.signUp("alice")
	_, err := s.storage.RenameUser(s.ctx, user.ID, "alicia")
	s.Require().NoError(err)

	current, err := s.service.Authenticate(s.ctx, session.Token)
	s.Require().NoError(err)
	s.Equal("alicia", current.Name)
}

func (s *ServiceSuite) TestAuthenticateFailsWithInvalidToken() {
	_, err := s.service.Authenticate(s.ctx, "invalid_token")
	s.ErrorIs(err, ErrInvalidToken)
}

// Logout tests

func (s *ServiceSuite) TestLogoutRemovesSession() {
	_, session := s.signUp("alice")

	s.service.Logout(session.Token)

	_, err := s.service.ValidateSession(session.Token)
	s.ErrorIs(err, ErrInvalidToken)
}

func (s *ServiceSuite) TestLogoutNoopForUnknownToken() {
	s.service.Logout("unknown_token")
}

// CleanExpiredSessions tests

func (s *ServiceSuite) TestCleanExpiredSessionsRemovesExpired() {
	_, session1 := s.signUp("alice")

	s.clock.Advance(25 * time.Hour)

	_, session2 := s.signUp("bob")

	s.Equal(1, s.service.CleanExpiredSessions())

	_, err := s.service.ValidateSession(session1.Token)
	s.ErrorIs(err, ErrInvalidToken)

	_, err = s.service.ValidateSession(session2.Token)
	s.NoError(err)
	s.Equal(1, s.service.SessionCount())
}
