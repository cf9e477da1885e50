package deploy

import (
	"context"
	"testing"
	"time"

	"github.com/leoscope/leoscope/internal/secrets"
)

func TestMergeForRunInjectsIdentity(t *testing.T) {
	m := NewEnvMerger(nil, nil)
	id := Identity{RunID: "run-1", JobID: "job-1", NodeID: "node-1", StartTS: time.Unix(0, 0), LengthSecs: 60}

	merged, err := m.MergeForRun(context.Background(), id, `{"FOO":"bar"}`)
	if err != nil {
		t.Fatalf("MergeForRun: %v", err)
	}

	if merged["FOO"] != "bar" {
		t.Errorf("expected config var FOO to survive, got %q", merged["FOO"])
	}
	if merged["LEOTEST_RUNID"] != "run-1" {
		t.Errorf("expected LEOTEST_RUNID to be injected, got %q", merged["LEOTEST_RUNID"])
	}
	if merged["LEOTEST_JOBID"] != "job-1" {
		t.Errorf("expected LEOTEST_JOBID to be injected, got %q", merged["LEOTEST_JOBID"])
	}
	if merged["LEOTEST_LENGTH"] != "60" {
		t.Errorf("expected LEOTEST_LENGTH to be injected, got %q", merged["LEOTEST_LENGTH"])
	}
	if _, ok := merged["LEOTEST_SERVER_IP"]; ok {
		t.Error("expected no LEOTEST_SERVER_IP for an unpaired job")
	}
}

func TestMergeForRunInjectsServerIPWhenPaired(t *testing.T) {
	m := NewEnvMerger(nil, nil)
	id := Identity{RunID: "run-1", JobID: "job-1", NodeID: "node-1", StartTS: time.Unix(0, 0), ServerIP: "10.0.0.5"}

	merged, err := m.MergeForRun(context.Background(), id, "")
	if err != nil {
		t.Fatalf("MergeForRun: %v", err)
	}
	if merged["LEOTEST_SERVER_IP"] != "10.0.0.5" {
		t.Errorf("expected LEOTEST_SERVER_IP to be injected, got %q", merged["LEOTEST_SERVER_IP"])
	}
}

func TestMergeForRunIdentityWinsOverConfig(t *testing.T) {
	m := NewEnvMerger(nil, nil)
	id := Identity{RunID: "run-1", JobID: "job-1", NodeID: "node-1", StartTS: time.Unix(0, 0)}

	merged, err := m.MergeForRun(context.Background(), id, `{"LEOTEST_RUNID":"spoofed"}`)
	if err != nil {
		t.Fatalf("MergeForRun: %v", err)
	}

	if merged["LEOTEST_RUNID"] != "run-1" {
		t.Errorf("job config must not override run identity, got %q", merged["LEOTEST_RUNID"])
	}
}

func TestMergeForRunEmptyConfig(t *testing.T) {
	m := NewEnvMerger(nil, nil)
	id := Identity{RunID: "run-1", JobID: "job-1", NodeID: "node-1", StartTS: time.Unix(0, 0)}

	merged, err := m.MergeForRun(context.Background(), id, "")
	if err != nil {
		t.Fatalf("MergeForRun: %v", err)
	}
	if len(merged) != 5 {
		t.Errorf("expected only the five identity vars, got %d: %v", len(merged), merged)
	}
}

func TestMergeForRunDecryptsConfig(t *testing.T) {
	publicKey, privateKey, err := secrets.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	enc, err := secrets.NewSOPSService(&secrets.Config{AgePublicKey: publicKey, AgePrivateKey: privateKey}, nil)
	if err != nil {
		t.Fatalf("NewSOPSService: %v", err)
	}

	ciphertext, err := enc.Encrypt(context.Background(), []byte(`{"SECRET":"value"}`))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	m := NewEnvMerger(enc, nil)
	id := Identity{RunID: "run-1", JobID: "job-1", NodeID: "node-1", StartTS: time.Unix(0, 0)}

	merged, err := m.MergeForRun(context.Background(), id, string(ciphertext))
	if err != nil {
		t.Fatalf("MergeForRun: %v", err)
	}
	if merged["SECRET"] != "value" {
		t.Errorf("expected decrypted config var SECRET, got %q", merged["SECRET"])
	}
}
