package factory

import (
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mcoot/islandgame/internal/dependencies/mocks"
	"github.com/mcoot/islandgame/internal/gateway"
	"github.com/mcoot/islandgame/internal/messages"
	"github.com/mcoot/islandgame/internal/realtime"
	"github.com/mcoot/islandgame/internal/services/auth"
	"github.com/mcoot/islandgame/internal/storage/memory"
	"github.com/mcoot/islandgame/internal/testutil"
)

// TestApp extends App with test-specific helpers
type TestApp struct {
	*App

	// Mocks for test control
	MockClock  *mocks.MockClock
	MockRandom *mocks.MockRandom
	MockIDs    *mocks.MockIDs
	Events     *mocks.EventRecorder
}

// NewTestApp creates an App configured for testing with mocked dependencies.
// Outbound events are captured by Events instead of a running hub.
func NewTestApp() *TestApp {
	store := memory.New()
	mockClock := mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	mockRandom := mocks.NewMockRandom()
	mockIDs := mocks.NewMockIDs()
	events := mocks.NewEventRecorder()
	logger := testutil.NopLogger()

	authCfg := auth.DefaultConfig()
	authCfg.HashCost = bcrypt.MinCost

	app := wire(store, mockClock, mockRandom, mockIDs, messages.Default(), realtime.NewHub(logger), events,
		authCfg, gateway.DefaultConfig(), logger)

	return &TestApp{
		App:        app,
		MockClock:  mockClock,
		MockRandom: mockRandom,
		MockIDs:    mockIDs,
		Events:     events,
	}
}
