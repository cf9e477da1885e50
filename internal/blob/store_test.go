package blob

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileStorePutWritesUnderRoot(t *testing.T) {
	root := t.TempDir()
	store, err := NewFileStore(root)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	url, err := store.Put(context.Background(), "artifacts/node-1/job-1/2026/08/06/run-1/run.tar.gz", strings.NewReader("archive bytes"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	want := "file://" + filepath.Join(root, "artifacts/node-1/job-1/2026/08/06/run-1/run.tar.gz")
	if url != want {
		t.Errorf("url = %q, want %q", url, want)
	}

	data, err := os.ReadFile(filepath.Join(root, "artifacts/node-1/job-1/2026/08/06/run-1/run.tar.gz"))
	if err != nil {
		t.Fatalf("reading written artifact: %v", err)
	}
	if string(data) != "archive bytes" {
		t.Errorf("content = %q, want %q", data, "archive bytes")
	}
}

func TestFileStorePutCreatesIntermediateDirs(t *testing.T) {
	root := t.TempDir()
	store, err := NewFileStore(root)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	if _, err := store.Put(context.Background(), "a/b/c/d.tar.gz", strings.NewReader("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "a", "b", "c", "d.tar.gz")); err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}
}

func TestArtifactPathLayout(t *testing.T) {
	got := ArtifactPath("node-1", "job-42", 2026, 8, 6, "run-9")
	want := "artifacts/node-1/job-42/2026/08/06/run-9/run.tar.gz"
	if got != want {
		t.Errorf("ArtifactPath = %q, want %q", got, want)
	}
}

func TestArtifactPathPadsMonthAndDay(t *testing.T) {
	got := ArtifactPath("n", "j", 2026, 1, 2, "r")
	want := "artifacts/n/j/2026/01/02/r/run.tar.gz"
	if got != want {
		t.Errorf("ArtifactPath = %q, want %q", got, want)
	}
}
