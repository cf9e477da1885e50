package executor

import (
	"archive/tar"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/leoscope/leoscope/internal/logs"
	"github.com/leoscope/leoscope/internal/rpc"
	"github.com/leoscope/leoscope/internal/trigger"
)

func TestContainerNamePrefix(t *testing.T) {
	got := containerName("run-123")
	want := "leotest-run-123"
	if got != want {
		t.Errorf("containerName = %q, want %q", got, want)
	}
}

func TestLabelsForIncludesLeotestAndOverheadFlag(t *testing.T) {
	job := rpc.JobRecord{ID: "job-1", NodeID: "node-1"}

	labels := labelsFor(job, "run-1", true)
	if labels["leotest"] != "true" {
		t.Errorf("leotest = %q, want true", labels["leotest"])
	}
	if labels["overhead"] != "true" {
		t.Errorf("overhead = %q, want true", labels["overhead"])
	}
	if labels["jobid"] != "job-1" || labels["runid"] != "run-1" || labels["nodeid"] != "node-1" {
		t.Errorf("unexpected labels: %+v", labels)
	}

	labels = labelsFor(job, "run-2", false)
	if labels["overhead"] != "false" {
		t.Errorf("overhead = %q, want false", labels["overhead"])
	}
}

func TestEvalTriggerAgainstSnapshot(t *testing.T) {
	e := &Executor{}

	snap := trigger.NewSnapshot()
	snap.SetNumber("satellite_elevation", 45)

	gate, err := e.evalTrigger("satellite_elevation > 30", snap)
	if err != nil {
		t.Fatalf("evalTrigger: %v", err)
	}
	if !gate {
		t.Error("expected trigger to pass with elevation 45 > 30")
	}

	snap.SetNumber("satellite_elevation", 12)
	gate, err = e.evalTrigger("satellite_elevation > 30", snap)
	if err != nil {
		t.Fatalf("evalTrigger: %v", err)
	}
	if gate {
		t.Error("expected trigger to fail with elevation 12 > 30")
	}
}

func TestEvalTriggerNilSnapshotFailsClosed(t *testing.T) {
	e := &Executor{}

	gate, err := e.evalTrigger("satellite_elevation > 30", nil)
	if err != nil {
		t.Fatalf("evalTrigger: %v", err)
	}
	if gate {
		t.Error("expected trigger referencing an absent key to fail closed")
	}
}

func TestEvalTriggerRejectsMalformedExpression(t *testing.T) {
	e := &Executor{}

	if _, err := e.evalTrigger("satellite_elevation >", nil); err == nil {
		t.Error("expected parse error for malformed expression")
	}
}

func TestLineWriterSplitsOnNewlines(t *testing.T) {
	container := logs.NewContainer(100)
	w := newLineWriter(nil, container, "run-1", "stdout")

	if _, err := w.Write([]byte("first line\nsecond ")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := w.Write([]byte("line\nthird")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	entries := container.GetAll()
	if len(entries) != 2 {
		t.Fatalf("expected 2 complete lines before Flush, got %d: %+v", len(entries), entries)
	}
	if entries[0].Line != "first line" || entries[1].Line != "second line" {
		t.Errorf("unexpected lines: %q, %q", entries[0].Line, entries[1].Line)
	}

	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	entries = container.GetAll()
	if len(entries) != 3 || entries[2].Line != "third" {
		t.Fatalf("expected trailing partial line flushed, got %+v", entries)
	}
}

func TestLineWriterTrimsCarriageReturn(t *testing.T) {
	container := logs.NewContainer(100)
	w := newLineWriter(nil, container, "run-1", "stderr")

	if _, err := w.Write([]byte("windows line\r\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	entries := container.GetAll()
	if len(entries) != 1 || entries[0].Line != "windows line" {
		t.Fatalf("expected CR trimmed, got %+v", entries)
	}
}

func TestLineWriterFlushIsNoopWithoutPartialData(t *testing.T) {
	container := logs.NewContainer(100)
	w := newLineWriter(nil, container, "run-1", "stdout")

	if _, err := w.Write([]byte("complete\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	entries := container.GetAll()
	if len(entries) != 1 {
		t.Fatalf("expected no extra entry from a no-op flush, got %+v", entries)
	}
}

func TestArchiveDirRoundTrips(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "output.log"), []byte("hello\n"), 0o644); err != nil {
		t.Fatalf("writing fixture file: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(src, "nested"), 0o755); err != nil {
		t.Fatalf("mkdir nested: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "nested", "config.json"), []byte(`{"a":1}`), 0o644); err != nil {
		t.Fatalf("writing nested fixture file: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "run.tar.gz")
	if err := archiveDir(src, dest); err != nil {
		t.Fatalf("archiveDir: %v", err)
	}

	f, err := os.Open(dest)
	if err != nil {
		t.Fatalf("opening archive: %v", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	seen := map[string]bool{}
	for {
		hdr, err := tr.Next()
		if err != nil {
			break
		}
		seen[hdr.Name] = true
	}

	if !seen["output.log"] {
		t.Error("expected output.log in archive")
	}
	if !seen[filepath.Join("nested", "config.json")] {
		t.Error("expected nested/config.json in archive")
	}
}

func TestWriteCapturedLogFormatsEntries(t *testing.T) {
	container := logs.NewContainer(10)
	w := newLineWriter(nil, container, "run-1", "stdout")
	w.Write([]byte("line one\nline two\n"))

	wd := t.TempDir()
	if err := writeCapturedLog(wd, container); err != nil {
		t.Fatalf("writeCapturedLog: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(wd, "output.log"))
	if err != nil {
		t.Fatalf("reading output.log: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty output.log")
	}
}
