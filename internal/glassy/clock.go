package glassy

import (
	"time"

	"github.com/google/uuid"
)

// Clock stamps sync operations in the ledger and times transfer sessions.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// SessionIDs names transfer sessions. Every log line of one download or
// upload batch carries the same session ID.
type SessionIDs interface {
	NewSession() string
}

// RandomSessionIDs issues random UUIDs.
type RandomSessionIDs struct{}

func (RandomSessionIDs) NewSession() string { return uuid.NewString() }
