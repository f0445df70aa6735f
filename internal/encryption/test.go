package encryption

import (
	"bytes"
	"fmt"
	"io"

	"glassy-go/internal/glassy"
)

// testHeader is prepended by TestSealer so sealed bytes differ from
// plaintext while staying deterministic.
var testHeader = []byte("GLSEAL\x00\x00")

// TestSealer is a deterministic sealer for tests. It prepends a fixed
// header on Seal and strips it on Open.
type TestSealer struct{}

var _ glassy.Sealer = (*TestSealer)(nil)

// NewTestSealer creates a new TestSealer.
func NewTestSealer() *TestSealer {
	return &TestSealer{}
}

func (s *TestSealer) Seal(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testHeader); err != nil {
		return fmt.Errorf("writing test header: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (s *TestSealer) Open(r io.Reader, w io.Writer) error {
	header := make([]byte, len(testHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading test header: %w", err)
	}
	if !bytes.Equal(header, testHeader) {
		return fmt.Errorf("invalid test seal header")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
