package glassy

import (
	"io"

	"glassy-go/internal/model"
)

// TempPrefix names in-flight files written beside their final destination.
// The fingerprinter never reports them.
const TempPrefix = ".glassy-tmp-"

// Cache is the local content-addressed store of file chunks.
// Entries are write-once: the content behind a hash never changes.
type Cache interface {
	// Has reports whether a chunk mapping exists for the file hash.
	Has(hash string) bool

	// Complete reports whether the mapping exists, is non-empty and every
	// chunk it lists is present.
	Complete(hash string) (bool, error)

	// Mapping returns the ordered chunk list for a file hash.
	Mapping(hash string) ([]model.ChunkRef, error)

	// PutMapping stores the ordered chunk list for a file hash.
	PutMapping(hash string, chunks []model.ChunkRef) error

	// HasChunk reports whether a chunk blob is present.
	HasChunk(hash string, blockHash string) bool

	// PutChunk stores one chunk's raw bytes read from r.
	PutChunk(hash string, blockHash string, r io.Reader) error

	// Assemble reconstructs the file identified by hash at dest.
	// The destination appears atomically or not at all.
	Assemble(hash string, dest string) error

	// Remove drops every cached byte for a file hash.
	Remove(hash string) error
}

// Sealer transforms chunk bytes on their way into and out of the cache.
type Sealer interface {
	// Seal reads plaintext from r and writes the stored form to w.
	Seal(r io.Reader, w io.Writer) error

	// Open reads the stored form from r and writes plaintext to w.
	Open(r io.Reader, w io.Writer) error
}
