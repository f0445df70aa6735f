package glassy

import "glassy-go/internal/model"

// PathChange is the classification of one path between two snapshots.
type PathChange struct {
	Path   string
	Change model.ChangeType
}

// Fingerprint is the outcome of one directory fingerprinting pass.
type Fingerprint struct {
	Files    []model.LocalFile // Sorted by path
	TreeHash string
	Changes  []PathChange // Relative to the previous snapshot, sorted by path
}

// Fingerprinter hashes a directory tree and replaces its snapshot.
type Fingerprinter interface {
	// Fingerprint hashes every regular file under root, diffs the result
	// against the snapshot at snapshotPath and atomically replaces it.
	// Paths in ignore are carried over from the previous snapshot unhashed.
	Fingerprint(root string, snapshotPath string, ignore []string) (*Fingerprint, error)
}
