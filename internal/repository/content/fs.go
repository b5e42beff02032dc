// Package content fetches raw document bytes by content reference. Upload
// storage itself lives outside the service; this adapter resolves references
// against a local content root.
package content

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/agrisage-cloud/knowd/internal/domain"
	domdoc "github.com/agrisage-cloud/knowd/internal/domain/document"
)

// FileSource resolves content references as paths relative to a root directory.
type FileSource struct {
	root string
}

// NewFileSource creates a source rooted at dir.
func NewFileSource(dir string) *FileSource {
	return &FileSource{root: filepath.Clean(dir)}
}

// Fetch reads the content behind ref. References escaping the root or content
// larger than the document size limit are rejected with ErrValidation.
func (s *FileSource) Fetch(ctx context.Context, ref string) ([]byte, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("content %s: %w", ref, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("open content %s: %w", ref, err)
	}
	defer f.Close()

	// Read one byte past the limit to tell "exactly at limit" from "over".
	data, err := io.ReadAll(io.LimitReader(f, domdoc.MaxContentSize+1))
	if err != nil {
		return nil, fmt.Errorf("read content %s: %w", ref, err)
	}
	if len(data) > domdoc.MaxContentSize {
		return nil, fmt.Errorf("content %s exceeds %d bytes: %w", ref, domdoc.MaxContentSize, domain.ErrValidation)
	}
	return data, nil
}

func (s *FileSource) resolve(ref string) (string, error) {
	if ref == "" || filepath.IsAbs(ref) {
		return "", fmt.Errorf("invalid content reference %q: %w", ref, domain.ErrValidation)
	}
	path := filepath.Join(s.root, filepath.Clean(ref))
	if path != s.root && !strings.HasPrefix(path, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("content reference %q escapes root: %w", ref, domain.ErrValidation)
	}
	return path, nil
}
