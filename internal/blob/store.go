// Package blob stores run artifacts (archived working directories) at the
// path spec.md's UPLOADING step names:
// artifacts/<node_id>/<job_id>/<YYYY>/<MM>/<DD>/<run_id>/.
package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Store persists a run artifact and returns the URL it can later be
// retrieved from.
type Store interface {
	Put(ctx context.Context, path string, r io.Reader) (string, error)
}

// FileStore is a filesystem-backed Store. No object-storage SDK appears
// anywhere in the reference pack, so artifacts are written under a local
// root directory instead — see DESIGN.md for why this stays on the
// standard library rather than reaching for a cloud SDK.
type FileStore struct {
	root string
}

// NewFileStore creates a FileStore rooted at root, creating it if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob root %s: %w", root, err)
	}
	return &FileStore{root: root}, nil
}

// Put writes r's contents to root/path and returns a file:// URL.
func (f *FileStore) Put(ctx context.Context, path string, r io.Reader) (string, error) {
	dest := filepath.Join(f.root, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("creating artifact directory: %w", err)
	}

	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("creating artifact file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, r); err != nil {
		return "", fmt.Errorf("writing artifact: %w", err)
	}

	return "file://" + dest, nil
}

// ArtifactPath builds the artifact path spec.md's UPLOADING step names.
func ArtifactPath(nodeID, jobID string, year int, month, day int, runID string) string {
	return fmt.Sprintf("artifacts/%s/%s/%04d/%02d/%02d/%s/run.tar.gz", nodeID, jobID, year, month, day, runID)
}
