package model

import "fmt"

// ChangeType classifies a pending local change relative to a file's base hash.
// The integer values are persisted in the ledger.
type ChangeType int

const (
	// NoChange means the file on disk matches the last confirmed sync.
	NoChange ChangeType = iota

	// Create means the file exists locally but was never confirmed.
	Create

	// Update means the file exists locally with content different from its base.
	Update

	// Delete means the file was on disk at the last scan and is gone now.
	Delete
)

func (c ChangeType) String() string {
	switch c {
	case NoChange:
		return "nochange"
	case Create:
		return "create"
	case Update:
		return "update"
	case Delete:
		return "delete"
	}
	return fmt.Sprintf("ChangeType(%d)", int(c))
}

// Valid reports whether c is one of the four known classifications.
func (c ChangeType) Valid() bool {
	switch c {
	case NoChange, Create, Update, Delete:
		return true
	}
	return false
}

// ParseChangeType converts a persisted integer into a ChangeType.
func ParseChangeType(v int64) (ChangeType, error) {
	c := ChangeType(v)
	if !c.Valid() {
		return NoChange, fmt.Errorf("unknown change type %d", v)
	}
	return c, nil
}

// Classify computes the change classification for a path after a scan.
// prev is the existing ledger record (nil if none), present reports whether
// the file is on disk now and hash is its content hash when present.
// The second return value is false when the scan says nothing about the path
// (absent now and never materialized locally), in which case the record is
// left untouched.
func Classify(prev *FileRecord, present bool, hash string) (ChangeType, bool) {
	if !present {
		if prev == nil {
			return NoChange, false
		}
		if prev.InFS || prev.ChangeType == Delete {
			return Delete, true
		}
		return prev.ChangeType, false
	}

	switch {
	case prev == nil, prev.BaseHash == "":
		return Create, true
	case hash != prev.BaseHash:
		return Update, true
	default:
		return NoChange, true
	}
}
