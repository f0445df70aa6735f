package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"glassy-go/internal/glassy"
)

const (
	manifestPath = "/store/download"
	ingestPath   = "/ingest"

	// DefaultHeaderTimeout bounds the wait for response headers. Bodies are
	// read without a deadline; ctx cancels them.
	DefaultHeaderTimeout = time.Minute
)

// manifestResponse is the envelope the service wraps manifests in.
type manifestResponse struct {
	Response string           `json:"response"`
	Body     *glassy.Manifest `json:"body"`
}

// HTTPRemote talks to the project service over HTTP.
type HTTPRemote struct {
	client *http.Client
	logger glassy.Logger
}

var _ glassy.Remote = (*HTTPRemote)(nil)

// NewHTTPRemote creates a remote client. A nil client uses one that only
// limits the header wait to DefaultHeaderTimeout.
func NewHTTPRemote(client *http.Client, logger glassy.Logger) *HTTPRemote {
	if client == nil {
		client = newClient(DefaultHeaderTimeout)
	}
	if logger == nil {
		logger = glassy.Discard
	}
	return &HTTPRemote{client: client, logger: logger}
}

func newClient(headerTimeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = headerTimeout
	return &http.Client{Transport: transport}
}

// RequestManifest posts req to the download endpoint and decodes the chunk list.
func (r *HTTPRemote) RequestManifest(ctx context.Context, serverURL string, token string, req glassy.ManifestRequest) (*glassy.Manifest, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding manifest request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(serverURL, manifestPath), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building manifest request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	authorize(httpReq, token)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("requesting manifest for %s: %w: %v", req.Path, glassy.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("manifest for %s: status %d: %w", req.Path, resp.StatusCode, glassy.ErrServer)
	}

	var out manifestResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding manifest for %s: %w: %v", req.Path, glassy.ErrServer, err)
	}
	if out.Response != "success" || out.Body == nil {
		return nil, fmt.Errorf("manifest for %s: response %q: %w", req.Path, out.Response, glassy.ErrServer)
	}

	r.logger.Debug("manifest received", "path", req.Path, "chunks", len(out.Body.Chunks))
	return out.Body, nil
}

// FetchChunk GETs a presigned chunk URL. The caller closes the body.
func (r *HTTPRemote) FetchChunk(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building chunk request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching chunk: %w: %v", glassy.ErrTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("fetching chunk: status %d: %w", resp.StatusCode, glassy.ErrTransport)
	}
	return resp.Body, nil
}

// Upload posts one multipart form to the ingest endpoint. Deletions carry
// no file part.
func (r *HTTPRemote) Upload(ctx context.Context, serverURL string, token string, form glassy.UploadForm) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields := []struct{ name, value string }{
		{"commit", strconv.FormatInt(form.CommitID, 10)},
		{"path", form.Path},
		{"size", strconv.FormatInt(form.Size, 10)},
		{"hash", form.Hash},
		{"project", strconv.FormatInt(form.ProjectID, 10)},
		{"change", form.Change},
	}
	for _, f := range fields {
		if err := mw.WriteField(f.name, f.value); err != nil {
			return fmt.Errorf("writing form field %s: %w", f.name, err)
		}
	}
	if form.Content != nil {
		part, err := mw.CreateFormFile("key", form.Path)
		if err != nil {
			return fmt.Errorf("creating file part: %w", err)
		}
		if _, err := part.Write(form.Content); err != nil {
			return fmt.Errorf("writing file part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("closing form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(serverURL, ingestPath), &buf)
	if err != nil {
		return fmt.Errorf("building upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	authorize(req, token)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("uploading %s: %w: %v", form.Path, glassy.ErrTransport, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("uploading %s: status %d: %w", form.Path, resp.StatusCode, glassy.ErrServer)
	}
	return nil
}

// IsRetryable reports whether err came from the network rather than the server.
func IsRetryable(err error) bool {
	return errors.Is(err, glassy.ErrTransport)
}

func endpoint(serverURL, path string) string {
	return strings.TrimRight(serverURL, "/") + path
}

func authorize(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
