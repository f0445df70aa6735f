package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"glassy-go/internal/glassy"
)

const fakeURLPrefix = "fake://chunks/"

// gauge tracks how many calls are in flight and the highest count seen.
type gauge struct {
	current int
	max     int
}

func (g *gauge) enter() {
	g.current++
	if g.current > g.max {
		g.max = g.current
	}
}

func (g *gauge) leave() { g.current-- }

type fakeFile struct {
	hash   string
	size   int64
	blocks []string
}

// FakeRemote is an in-memory glassy.Remote. It serves files registered with
// AddFile, records every call and tracks peak concurrency per call kind.
type FakeRemote struct {
	// Delay is slept inside every manifest and chunk call so overlapping
	// calls are observable.
	Delay time.Duration

	// FailManifest makes manifest requests for a path fail with the error.
	FailManifest map[string]error

	// FailChunk makes fetches of a block hash fail with the error.
	FailChunk map[string]error

	// FailUploadAt makes the n-th upload call (1-based) fail. Zero never fails.
	FailUploadAt int

	mu            sync.Mutex
	files         map[string]fakeFile
	chunks        map[string][]byte
	manifestCalls int
	chunkCalls    int
	uploadCalls   int
	uploads       []glassy.UploadForm
	manifests     gauge
	fetches       gauge
}

var _ glassy.Remote = (*FakeRemote)(nil)

func NewFakeRemote() *FakeRemote {
	return &FakeRemote{
		FailManifest: make(map[string]error),
		FailChunk:    make(map[string]error),
		files:        make(map[string]fakeFile),
		chunks:       make(map[string][]byte),
	}
}

// AddFile serves path as the concatenation of parts, one chunk per part,
// and returns a download request for it at commitID.
func (f *FakeRemote) AddFile(path string, commitID int64, parts ...string) glassy.DownloadRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	var all []byte
	blocks := make([]string, len(parts))
	for i, p := range parts {
		blocks[i] = Blake3Hex([]byte(p))
		f.chunks[blocks[i]] = []byte(p)
		all = append(all, p...)
	}
	file := fakeFile{hash: Blake3Hex(all), size: int64(len(all)), blocks: blocks}
	f.files[path] = file

	return glassy.DownloadRequest{Path: path, Hash: file.hash, CommitID: commitID, Size: file.size, Download: true}
}

func (f *FakeRemote) RequestManifest(ctx context.Context, serverURL string, token string, req glassy.ManifestRequest) (*glassy.Manifest, error) {
	f.mu.Lock()
	f.manifestCalls++
	f.manifests.enter()
	file, ok := f.files[req.Path]
	failure := f.FailManifest[req.Path]
	f.mu.Unlock()

	f.pause(ctx)

	f.mu.Lock()
	f.manifests.leave()
	f.mu.Unlock()

	if failure != nil {
		return nil, failure
	}
	if !ok {
		return nil, fmt.Errorf("manifest for %s: %w", req.Path, glassy.ErrServer)
	}

	m := &glassy.Manifest{FileHash: file.hash}
	for _, b := range file.blocks {
		m.Chunks = append(m.Chunks, glassy.ChunkDownload{FileHash: file.hash, BlockHash: b, URL: fakeURLPrefix + b})
	}
	return m, nil
}

func (f *FakeRemote) FetchChunk(ctx context.Context, url string) (io.ReadCloser, error) {
	block := strings.TrimPrefix(url, fakeURLPrefix)

	f.mu.Lock()
	f.chunkCalls++
	f.fetches.enter()
	data, ok := f.chunks[block]
	failure := f.FailChunk[block]
	f.mu.Unlock()

	f.pause(ctx)

	f.mu.Lock()
	f.fetches.leave()
	f.mu.Unlock()

	if failure != nil {
		return nil, failure
	}
	if !ok {
		return nil, fmt.Errorf("chunk %s: %w", block, glassy.ErrTransport)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *FakeRemote) Upload(ctx context.Context, serverURL string, token string, form glassy.UploadForm) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.uploadCalls++
	if f.FailUploadAt == f.uploadCalls {
		return fmt.Errorf("upload %s: %w", form.Path, glassy.ErrServer)
	}
	f.uploads = append(f.uploads, form)
	return nil
}

// BlockHash returns the chunk name AddFile gives a part.
func (f *FakeRemote) BlockHash(part string) string {
	return Blake3Hex([]byte(part))
}

func (f *FakeRemote) ManifestCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.manifestCalls
}

func (f *FakeRemote) ChunkCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chunkCalls
}

func (f *FakeRemote) UploadCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploadCalls
}

// Uploads returns the accepted upload forms in call order.
func (f *FakeRemote) Uploads() []glassy.UploadForm {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]glassy.UploadForm(nil), f.uploads...)
}

// MaxManifestsInFlight is the peak number of overlapping manifest requests.
func (f *FakeRemote) MaxManifestsInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.manifests.max
}

// MaxChunksInFlight is the peak number of overlapping chunk fetches.
func (f *FakeRemote) MaxChunksInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches.max
}

func (f *FakeRemote) pause(ctx context.Context) {
	if f.Delay <= 0 {
		return
	}
	select {
	case <-time.After(f.Delay):
	case <-ctx.Done():
	}
}
