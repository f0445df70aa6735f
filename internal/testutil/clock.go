package testutil

import (
	"fmt"
	"sync"
	"time"

	"glassy-go/internal/glassy"
)

// LedgerTime is the instant every operation recorded through FixedClock
// starts and finishes at.
var LedgerTime = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// FixedClock always reports LedgerTime.
func FixedClock() glassy.Clock {
	return fixedClock{t: LedgerTime}
}

// SequentialSessions numbers transfer sessions "session-1", "session-2", ...
// in the order they start.
type SequentialSessions struct {
	mu   sync.Mutex
	next int
}

func (s *SequentialSessions) NewSession() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("session-%d", s.next)
}
