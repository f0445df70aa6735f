package glassy_test

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"glassy-go/internal/glassy"
)

func TestSystemClock(t *testing.T) {
	if loc := (glassy.SystemClock{}).Now().Location(); loc != time.UTC {
		t.Errorf("Now() location = %v, want UTC", loc)
	}
}

func TestRandomSessionIDs(t *testing.T) {
	var ids glassy.SessionIDs = glassy.RandomSessionIDs{}
	a, b := ids.NewSession(), ids.NewSession()
	if a == b {
		t.Errorf("NewSession() repeated %q", a)
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Errorf("NewSession() = %q, not a uuid: %v", a, err)
	}
}
