package glassy

import (
	"context"
	"io"
)

// ManifestRequest asks the remote service how to reconstruct one file at a commit.
type ManifestRequest struct {
	ProjectID int64  `json:"project_id"`
	Path      string `json:"path"`
	CommitID  int64  `json:"commit_id"`
}

// ChunkDownload locates one chunk for the current transfer session.
// URL is a presigned locator and is never persisted.
type ChunkDownload struct {
	FileHash  string `json:"file_hash"`
	BlockHash string `json:"block_hash"`
	URL       string `json:"s3_url"`
}

// Manifest is the ordered chunk list for a file.
type Manifest struct {
	FileHash string          `json:"file_hash"`
	Chunks   []ChunkDownload `json:"file_chunks"`
}

// UploadForm is one file sent to the ingest endpoint.
// Content is nil for deletions.
type UploadForm struct {
	ProjectID int64
	CommitID  int64
	Path      string
	Size      int64
	Hash      string
	Change    string
	Content   []byte
}

// Remote talks to the remote project service and the object store behind it.
// Errors wrap ErrServer or ErrTransport.
type Remote interface {
	// RequestManifest fetches the chunk manifest of one file.
	RequestManifest(ctx context.Context, serverURL string, token string, req ManifestRequest) (*Manifest, error)

	// FetchChunk downloads one chunk body from its presigned URL.
	FetchChunk(ctx context.Context, url string) (io.ReadCloser, error)

	// Upload sends one file (or deletion marker) to the ingest endpoint.
	Upload(ctx context.Context, serverURL string, token string, form UploadForm) error
}
