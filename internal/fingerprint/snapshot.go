package fingerprint

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
	"github.com/zeebo/blake3"

	"glassy-go/internal/glassy"
	"glassy-go/internal/model"
)

// ReadSnapshot loads a snapshot. A missing file is an empty snapshot.
func ReadSnapshot(fs afero.Fs, name string) ([]model.LocalFile, error) {
	data, err := afero.ReadFile(fs, name)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	var files []model.LocalFile
	if err := json.Unmarshal(data, &files); err != nil {
		return nil, fmt.Errorf("decoding snapshot %s: %w", name, err)
	}
	return files, nil
}

// WriteSnapshot replaces the snapshot at name. Readers see either the old
// or the new snapshot, never a partial one.
func WriteSnapshot(fs afero.Fs, name string, files []model.LocalFile) error {
	if files == nil {
		files = []model.LocalFile{}
	}
	data, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	dir := filepath.Dir(name)
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}

	tmp, err := afero.TempFile(fs, dir, glassy.TempPrefix+"*")
	if err != nil {
		return fmt.Errorf("creating temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		fs.Remove(tmpName)
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		fs.Remove(tmpName)
		return fmt.Errorf("closing snapshot: %w", err)
	}
	if err := fs.Rename(tmpName, name); err != nil {
		fs.Remove(tmpName)
		return fmt.Errorf("replacing snapshot: %w", err)
	}
	return nil
}

// Diff classifies every path of prev and curr. The result is sorted by path.
func Diff(prev, curr []model.LocalFile) []glassy.PathChange {
	before := make(map[string]string, len(prev))
	for _, f := range prev {
		before[f.Path] = f.Hash
	}

	changes := make([]glassy.PathChange, 0, len(curr))
	seen := make(map[string]bool, len(curr))
	for _, f := range curr {
		seen[f.Path] = true
		hash, ok := before[f.Path]
		switch {
		case !ok:
			changes = append(changes, glassy.PathChange{Path: f.Path, Change: model.Create})
		case hash != f.Hash:
			changes = append(changes, glassy.PathChange{Path: f.Path, Change: model.Update})
		default:
			changes = append(changes, glassy.PathChange{Path: f.Path, Change: model.NoChange})
		}
	}
	for _, f := range prev {
		if !seen[f.Path] {
			changes = append(changes, glassy.PathChange{Path: f.Path, Change: model.Delete})
		}
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes
}

// TreeHash digests a path-sorted file list into one hash.
func TreeHash(files []model.LocalFile) string {
	h := blake3.New()
	for _, f := range files {
		io.WriteString(h, f.Path)
		h.Write([]byte{0})
		io.WriteString(h, f.Hash)
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// HashReader returns the hex BLAKE3 digest of everything read from r.
func HashReader(r io.Reader) (string, int64, error) {
	h := blake3.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
