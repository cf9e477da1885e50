// Package deploy assembles the environment a run's containers execute with.
package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/leoscope/leoscope/internal/secrets"
)

// Identity is the fixed set of variables every container the executor
// launches for a run receives, regardless of lifecycle step, so a running
// experiment can always identify which run it belongs to. ServerIP is only
// set for the client side of a paired job, once its SERVER_SETUP task
// completes. IsServer marks the peer node itself: it flags which side of a
// paired job this container is running as.
type Identity struct {
	RunID      string
	JobID      string
	NodeID     string
	StartTS    time.Time
	LengthSecs int64
	ServerIP   string
	IsServer   bool
}

func (id Identity) vars() map[string]string {
	server := "0"
	if id.IsServer {
		server = "1"
	}
	vars := map[string]string{
		"LEOTEST_JOBID":      id.JobID,
		"LEOTEST_RUNID":      id.RunID,
		"LEOTEST_NODEID":     id.NodeID,
		"LEOTEST_START_TIME": id.StartTS.UTC().Format(time.RFC3339),
		"LEOTEST_LENGTH":     fmt.Sprintf("%d", id.LengthSecs),
		"LEOTEST_SERVER":     server,
	}
	if id.ServerIP != "" {
		vars["LEOTEST_SERVER_IP"] = id.ServerIP
	}
	return vars
}

// EnvMerger decrypts a job's config blob and merges it with the run's fixed
// identity variables into the final environment a container is launched
// with.
type EnvMerger struct {
	sopsService *secrets.SOPSService
	logger      *slog.Logger
}

// NewEnvMerger creates a new EnvMerger instance. sopsService may be nil, in
// which case config blobs are treated as plaintext JSON.
func NewEnvMerger(sopsService *secrets.SOPSService, logger *slog.Logger) *EnvMerger {
	if logger == nil {
		logger = slog.Default()
	}
	return &EnvMerger{
		sopsService: sopsService,
		logger:      logger,
	}
}

// MergeForRun decrypts jobConfig (a JSON object of string->string encoded as
// the job's opaque Config blob, optionally age-encrypted) and merges it
// under id's fixed identity variables, which always win on key collision so
// a job's own config can never spoof its run identity.
func (m *EnvMerger) MergeForRun(ctx context.Context, id Identity, jobConfig string) (map[string]string, error) {
	configVars, err := m.decodeConfig(ctx, jobConfig)
	if err != nil {
		return nil, fmt.Errorf("decoding job config: %w", err)
	}

	merged := MergeEnvVars(configVars, id.vars())

	m.logger.Debug("run environment merged",
		"run_id", id.RunID,
		"job_id", id.JobID,
		"config_vars", len(configVars),
		"merged_vars", len(merged),
	)

	return merged, nil
}

func (m *EnvMerger) decodeConfig(ctx context.Context, jobConfig string) (map[string]string, error) {
	if jobConfig == "" {
		return map[string]string{}, nil
	}

	plaintext := []byte(jobConfig)
	if m.sopsService != nil && m.sopsService.CanDecrypt() {
		decrypted, err := m.sopsService.Decrypt(ctx, []byte(jobConfig))
		if err != nil {
			m.logger.Warn("failed to decrypt job config, treating as plaintext", "error", err)
		} else {
			plaintext = decrypted
		}
	}

	vars := make(map[string]string)
	if err := json.Unmarshal(plaintext, &vars); err != nil {
		return nil, fmt.Errorf("job config is not a JSON object of string values: %w", err)
	}
	return vars, nil
}

// MergeEnvVars merges two maps of environment variables. The second map
// takes precedence over the first on key collision. Pure function, kept
// separate from EnvMerger for direct testing.
func MergeEnvVars(base, override map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(override))

	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}

	return merged
}
