// Package config provides environment-based configuration for the
// coordinator (C5) and node agent (C6) processes.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the coordinator process.
type Config struct {
	// Metadata store
	DatabaseDSN string

	// Authentication
	JWTSecret   string
	TokenExpiry time.Duration

	// Server configuration
	GRPCPort   int
	AdminPort  int
	AdminHost  string

	ShutdownTimeout time.Duration

	// Admission configuration
	Schedule ScheduleConfig

	// Agent-only configuration, ignored by the coordinator
	Agent AgentConfig

	// Age-based encryption for Job.Config blobs
	Secrets SecretsConfig
}

// ScheduleConfig tunes the overhead-job admission and reschedule search.
type ScheduleConfig struct {
	RescheduleStep time.Duration
}

// AgentConfig holds node-agent-specific configuration: the loop period,
// container runtime socket, and this node's identity. Node identity is
// intentionally not stored in the metadata store's GlobalConfig document
// (see DESIGN.md's open-question resolution on dual config paths) because
// a node must know who it is before it can reach the store at all.
type AgentConfig struct {
	NodeID          string
	CoordinatorAddr string
	StaticToken     string
	PodmanSocket    string
	WorkDir         string
	PollInterval    time.Duration
	HeartbeatPeriod time.Duration
	MaxConcurrency  int
	StaticConfigPath string
	// AdminPort serves the node's own /healthz and the run-exec websocket
	// endpoint `leoctl run exec` dials directly against this node.
	AdminPort int
}

// SecretsConfig holds age key material for encrypting/decrypting
// Job.Config at rest.
type SecretsConfig struct {
	AgePublicKey  string
	AgePrivateKey string
}

// Load reads coordinator configuration from environment variables.
func Load() (*Config, error) {
	cfg := load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithDefaults loads configuration with defaults for development. It
// does not validate required fields, useful for testing.
func LoadWithDefaults() *Config {
	cfg := load()
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "development-secret-key-min-32-chars"
	}
	return cfg
}

func load() *Config {
	return &Config{
		DatabaseDSN: getEnv("DATABASE_URL", "postgres://localhost:5432/leoscope?sslmode=disable"),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		TokenExpiry: getDurationEnv("TOKEN_EXPIRY", 24*time.Hour),
		GRPCPort:    getIntEnv("GRPC_PORT", 9090),
		AdminPort:   getIntEnv("ADMIN_PORT", 8080),
		AdminHost:   getEnv("ADMIN_HOST", "0.0.0.0"),

		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),

		Schedule: ScheduleConfig{
			RescheduleStep: getDurationEnv("SCHEDULE_RESCHEDULE_STEP", time.Minute),
		},

		Agent: AgentConfig{
			NodeID:           getEnv("LEOSCOPE_NODE_ID", ""),
			CoordinatorAddr:  getEnv("LEOSCOPE_COORDINATOR_ADDR", "localhost:9090"),
			StaticToken:      getEnv("LEOSCOPE_NODE_TOKEN", ""),
			PodmanSocket:     getEnv("PODMAN_SOCKET", "unix:///run/user/1000/podman/podman.sock"),
			WorkDir:          getEnv("LEOSCOPE_WORKDIR", "/var/lib/leoscope/runs"),
			PollInterval:     getDurationEnv("LEOSCOPE_POLL_INTERVAL", 10*time.Second),
			HeartbeatPeriod:  getDurationEnv("LEOSCOPE_HEARTBEAT_PERIOD", 30*time.Second),
			MaxConcurrency:   getIntEnv("LEOSCOPE_MAX_CONCURRENCY", 4),
			StaticConfigPath: getEnv("LEOSCOPE_NODE_CONFIG_PATH", ""),
			AdminPort:        getIntEnv("LEOSCOPE_AGENT_ADMIN_PORT", 8081),
		},

		Secrets: SecretsConfig{
			AgePublicKey:  getEnv("LEOSCOPE_AGE_PUBLIC_KEY", ""),
			AgePrivateKey: getEnv("LEOSCOPE_AGE_PRIVATE_KEY", ""),
		},
	}
}

// Validate checks that required coordinator configuration values are set.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	return nil
}

// nodeStaticOverlay is the shape of the optional YAML file a node agent
// may load to override its bootstrap identity, for deployments that
// prefer a config file over environment variables.
type nodeStaticOverlay struct {
	NodeID          string `yaml:"node_id"`
	CoordinatorAddr string `yaml:"coordinator_addr"`
	StaticToken     string `yaml:"static_token"`
	Lat             float64 `yaml:"lat"`
	Lon             float64 `yaml:"lon"`
}

// LoadAgentOverlay merges a YAML static-config file, when
// StaticConfigPath is set, over the environment-derived AgentConfig.
// Values present in the file win; empty fields fall through to whatever
// was already loaded from the environment.
func (c *Config) LoadAgentOverlay() error {
	if c.Agent.StaticConfigPath == "" {
		return nil
	}
	data, err := os.ReadFile(c.Agent.StaticConfigPath)
	if err != nil {
		return fmt.Errorf("reading node config overlay: %w", err)
	}
	var overlay nodeStaticOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parsing node config overlay: %w", err)
	}
	if overlay.NodeID != "" {
		c.Agent.NodeID = overlay.NodeID
	}
	if overlay.CoordinatorAddr != "" {
		c.Agent.CoordinatorAddr = overlay.CoordinatorAddr
	}
	if overlay.StaticToken != "" {
		c.Agent.StaticToken = overlay.StaticToken
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
