package glassy

import "errors"

var (
	// ErrNotFound is returned by ledger lookups for paths that were never recorded.
	ErrNotFound = errors.New("not found")

	// ErrNoActiveServer means no server is active, so no project directory
	// or endpoint can be resolved.
	ErrNoActiveServer = errors.New("no active server")

	// ErrUnknownProject means the project is not joined on the active server.
	ErrUnknownProject = errors.New("unknown project")

	// ErrServer classifies a remote response that was received but not successful.
	ErrServer = errors.New("server error")

	// ErrTransport classifies a request that failed before a response arrived.
	ErrTransport = errors.New("transport error")

	// ErrEmptyMapping means a cached chunk mapping lists no chunks.
	ErrEmptyMapping = errors.New("empty chunk mapping")

	// ErrMissingChunk means a chunk listed in a mapping is not in the cache.
	ErrMissingChunk = errors.New("missing chunk")
)
