package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"glassy-go/internal/glassy"
	"glassy-go/internal/model"
)

const mappingFile = "mapping.json"

// FileSystemCache is a content-addressed chunk store on local disk:
//
//	<root>/
//	  <file hash>/
//	    mapping.json   (ordered chunk list)
//	    <block hash>   (chunk bytes, sealed when a Sealer is set)
type FileSystemCache struct {
	root   string
	sealer glassy.Sealer
}

// NewFileSystemCache creates a cache rooted at root. A nil sealer stores raw bytes.
func NewFileSystemCache(root string, sealer glassy.Sealer) (*FileSystemCache, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &FileSystemCache{root: root, sealer: sealer}, nil
}

// Has reports whether a mapping exists for hash.
func (c *FileSystemCache) Has(hash string) bool {
	if !validName(hash) {
		return false
	}
	return exists(c.mappingPath(hash))
}

// Complete reports whether hash can be assembled without any network access.
func (c *FileSystemCache) Complete(hash string) (bool, error) {
	chunks, err := c.Mapping(hash)
	if errors.Is(err, glassy.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(chunks) == 0 {
		return false, nil
	}
	for _, ch := range chunks {
		if !c.HasChunk(hash, ch.BlockHash) {
			return false, nil
		}
	}
	return true, nil
}

// Mapping returns the ordered chunk list for hash.
func (c *FileSystemCache) Mapping(hash string) ([]model.ChunkRef, error) {
	if !validName(hash) {
		return nil, fmt.Errorf("invalid hash %q", hash)
	}
	data, err := os.ReadFile(c.mappingPath(hash))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("mapping %s: %w", hash, glassy.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading mapping %s: %w", hash, err)
	}

	var chunks []model.ChunkRef
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, fmt.Errorf("decoding mapping %s: %w", hash, err)
	}
	return chunks, nil
}

// PutMapping stores the chunk list for hash. An existing mapping is kept.
func (c *FileSystemCache) PutMapping(hash string, chunks []model.ChunkRef) error {
	if !validName(hash) {
		return fmt.Errorf("invalid hash %q", hash)
	}
	for _, ch := range chunks {
		if !validBlock(ch.BlockHash) {
			return fmt.Errorf("invalid block hash %q", ch.BlockHash)
		}
	}
	if c.Has(hash) {
		return nil
	}

	data, err := json.Marshal(chunks)
	if err != nil {
		return fmt.Errorf("encoding mapping: %w", err)
	}
	if err := os.MkdirAll(c.entryDir(hash), 0700); err != nil {
		return fmt.Errorf("failed to create cache entry: %w", err)
	}
	return writeFile(c.mappingPath(hash), func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// HasChunk reports whether the chunk blob is present.
func (c *FileSystemCache) HasChunk(hash string, blockHash string) bool {
	if !validName(hash) || !validBlock(blockHash) {
		return false
	}
	return exists(c.chunkPath(hash, blockHash))
}

// PutChunk stores one chunk read from r. An existing chunk is kept and r is drained.
func (c *FileSystemCache) PutChunk(hash string, blockHash string, r io.Reader) error {
	if !validName(hash) || !validBlock(blockHash) {
		return fmt.Errorf("invalid chunk name %q/%q", hash, blockHash)
	}
	if c.HasChunk(hash, blockHash) {
		if _, err := io.Copy(io.Discard, r); err != nil {
			return fmt.Errorf("failed to read chunk: %w", err)
		}
		return nil
	}

	if err := os.MkdirAll(c.entryDir(hash), 0700); err != nil {
		return fmt.Errorf("failed to create chunk directory: %w", err)
	}
	return writeFile(c.chunkPath(hash, blockHash), func(w io.Writer) error {
		if c.sealer == nil {
			_, err := io.Copy(w, r)
			return err
		}
		return c.sealer.Seal(r, w)
	})
}

// Assemble concatenates the chunks of hash, in mapping order, into dest.
// Nothing is created at dest unless every chunk is present.
func (c *FileSystemCache) Assemble(hash string, dest string) error {
	chunks, err := c.Mapping(hash)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return fmt.Errorf("assembling %s: %w", hash, glassy.ErrEmptyMapping)
	}
	for _, ch := range chunks {
		if !c.HasChunk(hash, ch.BlockHash) {
			return fmt.Errorf("assembling %s: chunk %s: %w", hash, ch.BlockHash, glassy.ErrMissingChunk)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	return writeFile(dest, func(w io.Writer) error {
		for _, ch := range chunks {
			if err := c.copyChunk(hash, ch.BlockHash, w); err != nil {
				return err
			}
		}
		return nil
	})
}

// Remove drops every cached byte for hash. Removing an absent entry is not an error.
func (c *FileSystemCache) Remove(hash string) error {
	if !validName(hash) {
		return fmt.Errorf("invalid hash %q", hash)
	}
	if err := os.RemoveAll(c.entryDir(hash)); err != nil {
		return fmt.Errorf("removing cache entry %s: %w", hash, err)
	}
	return nil
}

func (c *FileSystemCache) copyChunk(hash string, blockHash string, w io.Writer) error {
	f, err := os.Open(c.chunkPath(hash, blockHash))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("chunk %s: %w", blockHash, glassy.ErrMissingChunk)
		}
		return fmt.Errorf("failed to open chunk: %w", err)
	}
	defer f.Close()

	if c.sealer == nil {
		_, err = io.Copy(w, f)
	} else {
		err = c.sealer.Open(f, w)
	}
	if err != nil {
		return fmt.Errorf("reading chunk %s: %w", blockHash, err)
	}
	return nil
}

func (c *FileSystemCache) entryDir(hash string) string {
	return filepath.Join(c.root, hash)
}

func (c *FileSystemCache) mappingPath(hash string) string {
	return filepath.Join(c.root, hash, mappingFile)
}

func (c *FileSystemCache) chunkPath(hash string, blockHash string) string {
	return filepath.Join(c.root, hash, blockHash)
}

// writeFile fills a temp file beside destPath and renames it into place,
// so readers see either the old state or the complete new file.
func writeFile(destPath string, fill func(io.Writer) error) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), glassy.TempPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := fill(tmpFile); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// validName rejects hashes that would escape their directory.
func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}

// validBlock also rejects names that would shadow the mapping beside the chunks.
func validBlock(name string) bool {
	return validName(name) && name != mappingFile && !strings.HasPrefix(name, glassy.TempPrefix)
}

// Compile-time check that FileSystemCache implements glassy.Cache interface
var _ glassy.Cache = (*FileSystemCache)(nil)
