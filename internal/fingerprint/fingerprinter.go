package fingerprint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"

	"glassy-go/internal/glassy"
	"glassy-go/internal/model"
)

// DefaultWorkers bounds concurrent file hashing.
const DefaultWorkers = 4

// Fingerprinter hashes project trees on an afero filesystem.
type Fingerprinter struct {
	fs       afero.Fs
	workers  int
	patterns []string
}

var _ glassy.Fingerprinter = (*Fingerprinter)(nil)

// NewFingerprinter creates a Fingerprinter. patterns are glob ignore rules
// applied to every project in addition to its .glassyignore file.
func NewFingerprinter(fs afero.Fs, workers int, patterns []string) *Fingerprinter {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Fingerprinter{fs: fs, workers: workers, patterns: patterns}
}

type candidate struct {
	abs  string
	rel  string
	size int64
}

// Fingerprint implements glassy.Fingerprinter.
func (f *Fingerprinter) Fingerprint(root string, snapshotPath string, ignore []string) (*glassy.Fingerprint, error) {
	info, err := f.fs.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("reading root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", root)
	}

	prev, err := ReadSnapshot(f.fs, snapshotPath)
	if err != nil {
		return nil, err
	}

	extra, err := ParseIgnoreFile(f.fs, filepath.Join(root, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	rules := append(append(append([]string{}, defaultIgnorePatterns...), f.patterns...), extra...)
	matcher := NewIgnoreMatcher(rules)

	carried := make(map[string]bool, len(ignore))
	for _, p := range ignore {
		carried[filepath.ToSlash(filepath.Clean(p))] = true
	}

	candidates, err := f.walk(root, matcher)
	if err != nil {
		return nil, err
	}

	files, err := f.hashAll(candidates, carried)
	if err != nil {
		return nil, err
	}
	for _, p := range prev {
		if carried[p.Path] {
			files = append(files, p)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	if err := WriteSnapshot(f.fs, snapshotPath, files); err != nil {
		return nil, err
	}

	return &glassy.Fingerprint{
		Files:    files,
		TreeHash: TreeHash(files),
		Changes:  Diff(prev, files),
	}, nil
}

// walk lists the regular files under root that are not ignored.
func (f *Fingerprinter) walk(root string, matcher *IgnoreMatcher) ([]candidate, error) {
	var out []candidate
	err := afero.Walk(f.fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			// Entries that vanish or cannot be read mid-walk are skipped.
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if p == root {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return fmt.Errorf("computing relative path: %w", err)
		}
		rel = filepath.ToSlash(rel)
		if rel == "" || rel == "." {
			return nil
		}

		if info.IsDir() {
			if matcher.Match(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() || skipName(info.Name()) || matcher.Match(rel) {
			return nil
		}

		out = append(out, candidate{abs: p, rel: rel, size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	return out, nil
}

// hashAll hashes every candidate not in carried on a bounded pool.
// Files removed between the walk and the hash are dropped.
func (f *Fingerprinter) hashAll(candidates []candidate, carried map[string]bool) ([]model.LocalFile, error) {
	p := pool.NewWithResults[model.LocalFile]().WithErrors().WithMaxGoroutines(f.workers)
	for _, c := range candidates {
		if carried[c.rel] {
			continue
		}
		p.Go(func() (model.LocalFile, error) {
			return f.hashFile(c)
		})
	}
	results, err := p.Wait()
	if err != nil {
		return nil, err
	}

	files := make([]model.LocalFile, 0, len(results))
	for _, r := range results {
		if r.Path != "" {
			files = append(files, r)
		}
	}
	return files, nil
}

func (f *Fingerprinter) hashFile(c candidate) (model.LocalFile, error) {
	file, err := f.fs.Open(c.abs)
	if errors.Is(err, os.ErrNotExist) {
		return model.LocalFile{}, nil
	}
	if err != nil {
		return model.LocalFile{}, fmt.Errorf("opening %s: %w", c.rel, err)
	}
	defer file.Close()

	hash, n, err := HashReader(file)
	if err != nil {
		return model.LocalFile{}, fmt.Errorf("hashing %s: %w", c.rel, err)
	}
	return model.LocalFile{Path: c.rel, Size: n, Hash: hash}, nil
}

// skipName reports names that never belong in a snapshot: in-flight
// assembly files and editor lock files.
func skipName(name string) bool {
	return strings.HasPrefix(name, glassy.TempPrefix) || strings.Contains(name, "~$")
}
