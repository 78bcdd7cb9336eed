package mocks

import (
	"fmt"
	"sync"

	"github.com/mcoot/islandgame/internal/dependencies/idgen"
)

// MockIDs hands out queued IDs, then sequential ones
type MockIDs struct {
	mu     sync.Mutex
	queued []string
	next   int
}

// Ensure MockIDs implements Generator
var _ idgen.Generator = (*MockIDs)(nil)

// NewMockIDs creates a new MockIDs
func NewMockIDs() *MockIDs {
	return &MockIDs{}
}

// NewID returns the next queued ID, or "id-N" once the queue is empty
func (g *MockIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.queued) > 0 {
		id := g.queued[0]
		g.queued = g.queued[1:]
		return id
	}
	g.next++
	return fmt.Sprintf("id-%d", g.next)
}

// Queue adds IDs to be returned before the sequential ones
func (g *MockIDs) Queue(ids ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queued = append(g.queued, ids...)
}
