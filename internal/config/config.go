// Package config implements the configuration overlay of §4.9: a root Config
// struct composing the sub-configs this core actually consumes, loaded from a
// YAML file with an environment-variable overlay, in the shape of the
// teacher's internal/config package (Load, per-sub-config defaults and
// Validate) trimmed to WorkspaceConfig/MCPConfig/ModelConfig/
// CheckpointConfig/AttachmentConfig/EventBusConfig/ObservabilityConfig.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration tree for a Zypher agent process.
type Config struct {
	Workspace     WorkspaceConfig     `yaml:"workspace"`
	MCP           MCPConfig           `yaml:"mcp"`
	Model         ModelConfig         `yaml:"model"`
	Checkpoint    CheckpointConfig    `yaml:"checkpoint"`
	Attachment    AttachmentConfig    `yaml:"attachment"`
	EventBus      EventBusConfig      `yaml:"event_bus"`
	Observability ObservabilityConfig `yaml:"observability"`
	Gateway       GatewayConfig       `yaml:"gateway"`
}

// WorkspaceConfig configures the workspace directory the Agent Runner, the
// Checkpoint Store, and the File Attachment Cache all operate against.
type WorkspaceConfig struct {
	Path         string `yaml:"path"`
	MaxChars     int    `yaml:"max_chars"`
	AgentsFile   string `yaml:"agents_file"`
	SystemPrompt string `yaml:"system_prompt_file"`
}

// MCPConfig configures the MCP Server Manager (C1/C2): the set of servers to
// register at startup plus the default tool-approval policy.
type MCPConfig struct {
	Servers         []MCPServerConfig `yaml:"servers"`
	DefaultApproval string            `yaml:"default_approval"` // "auto" or "manual"
	HandshakeTimeout time.Duration    `yaml:"handshake_timeout"`
}

// MCPServerConfig describes one MCP server endpoint to register at startup.
type MCPServerConfig struct {
	ID      string            `yaml:"id"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	URL     string            `yaml:"url"`
	Env     map[string]string `yaml:"env"`
}

// ModelConfig selects and configures the Model Provider collaborator (§6).
type ModelConfig struct {
	Provider   string        `yaml:"provider"` // "anthropic" or "openai"
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	Model      string        `yaml:"model"`
	MaxTokens  int           `yaml:"max_tokens"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// CheckpointConfig configures the Checkpoint Store (C6).
type CheckpointConfig struct {
	MetadataDir       string `yaml:"metadata_dir"`
	RefuseDirtyApply  bool   `yaml:"refuse_dirty_apply"`
}

// AttachmentConfig configures the File Attachment Cache (C7).
type AttachmentConfig struct {
	CacheDir         string        `yaml:"cache_dir"`
	SignedURLExpiry  time.Duration `yaml:"signed_url_expiry"`
	S3Bucket         string        `yaml:"s3_bucket"`
	S3Prefix         string        `yaml:"s3_prefix"`
	S3Region         string        `yaml:"s3_region"`
	S3Endpoint       string        `yaml:"s3_endpoint"`
	S3AccessKeyID    string        `yaml:"s3_access_key_id"`
	S3SecretAccessKey string       `yaml:"s3_secret_access_key"`
}

// EventBusConfig configures the Task Event Bus (C4).
type EventBusConfig struct {
	ReplayBufferSize  int           `yaml:"replay_buffer_size"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// GatewayConfig configures the websocket control plane.
type GatewayConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// ObservabilityConfig configures logging, metrics, and tracing.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // "json" or "text"
	MetricsPort int    `yaml:"metrics_port"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName string `yaml:"service_name"`
}

// Load reads, expands, and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("config: expected a single YAML document")
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Workspace.Path == "" {
		cfg.Workspace.Path = "."
	}
	if cfg.Workspace.MaxChars == 0 {
		cfg.Workspace.MaxChars = 20000
	}
	if cfg.Workspace.AgentsFile == "" {
		cfg.Workspace.AgentsFile = "AGENTS.md"
	}

	if cfg.MCP.DefaultApproval == "" {
		cfg.MCP.DefaultApproval = "manual"
	}
	if cfg.MCP.HandshakeTimeout == 0 {
		cfg.MCP.HandshakeTimeout = 30 * time.Second
	}

	if cfg.Model.Provider == "" {
		cfg.Model.Provider = "anthropic"
	}
	if cfg.Model.MaxTokens == 0 {
		cfg.Model.MaxTokens = 4096
	}
	if cfg.Model.MaxRetries == 0 {
		cfg.Model.MaxRetries = 3
	}
	if cfg.Model.RetryDelay == 0 {
		cfg.Model.RetryDelay = time.Second
	}

	if cfg.Checkpoint.MetadataDir == "" {
		cfg.Checkpoint.MetadataDir = ".zypher/checkpoints"
	}

	if cfg.Attachment.CacheDir == "" {
		cfg.Attachment.CacheDir = ".zypher/attachments"
	}
	if cfg.Attachment.SignedURLExpiry == 0 {
		cfg.Attachment.SignedURLExpiry = 15 * time.Minute
	}

	if cfg.EventBus.ReplayBufferSize == 0 {
		cfg.EventBus.ReplayBufferSize = 256
	}
	if cfg.EventBus.HeartbeatInterval == 0 {
		cfg.EventBus.HeartbeatInterval = 15 * time.Second
	}

	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.LogFormat == "" {
		cfg.Observability.LogFormat = "json"
	}
	if cfg.Observability.MetricsPort == 0 {
		cfg.Observability.MetricsPort = 9090
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "zypher-agent"
	}

	if cfg.Gateway.ListenAddr == "" {
		cfg.Gateway.ListenAddr = ":8787"
	}
}

// applyEnvOverrides lets deployment secrets (API keys, S3 credentials) come
// from the environment rather than the checked-in config file, matching the
// teacher's NEXUS_*/JWT_SECRET override pattern.
func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("ZYPHER_MODEL_API_KEY")); v != "" {
		cfg.Model.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); v != "" && cfg.Model.Provider == "anthropic" && cfg.Model.APIKey == "" {
		cfg.Model.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" && cfg.Model.Provider == "openai" && cfg.Model.APIKey == "" {
		cfg.Model.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("AWS_ACCESS_KEY_ID")); v != "" {
		cfg.Attachment.S3AccessKeyID = v
	}
	if v := strings.TrimSpace(os.Getenv("AWS_SECRET_ACCESS_KEY")); v != "" {
		cfg.Attachment.S3SecretAccessKey = v
	}
	if v := strings.TrimSpace(os.Getenv("ZYPHER_METRICS_PORT")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Observability.MetricsPort = parsed
		}
	}
}

// ValidationError reports every config problem found, not just the first,
// matching the teacher's ConfigValidationError.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

// Validate checks cfg for internally inconsistent or missing required
// values. It is called automatically by Load but is exported so callers
// constructing a Config programmatically (e.g. in tests) can validate too.
func (cfg *Config) Validate() error {
	var issues []string

	if cfg.Workspace.MaxChars < 0 {
		issues = append(issues, "workspace.max_chars must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.MCP.DefaultApproval)) {
	case "auto", "manual":
	default:
		issues = append(issues, `mcp.default_approval must be "auto" or "manual"`)
	}
	seen := map[string]struct{}{}
	for i, s := range cfg.MCP.Servers {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			issues = append(issues, fmt.Sprintf("mcp.servers[%d].id is required", i))
			continue
		}
		if _, ok := seen[id]; ok {
			issues = append(issues, fmt.Sprintf("mcp.servers[%d].id %q is a duplicate", i, id))
		}
		seen[id] = struct{}{}
		if s.Command == "" && s.URL == "" {
			issues = append(issues, fmt.Sprintf("mcp.servers[%d] must set command or url", i))
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Model.Provider)) {
	case "anthropic", "openai":
	default:
		issues = append(issues, `model.provider must be "anthropic" or "openai"`)
	}
	if cfg.Model.MaxTokens < 0 {
		issues = append(issues, "model.max_tokens must be >= 0")
	}
	if cfg.Model.MaxRetries < 0 {
		issues = append(issues, "model.max_retries must be >= 0")
	}

	if cfg.EventBus.ReplayBufferSize < 0 {
		issues = append(issues, "event_bus.replay_buffer_size must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Observability.LogFormat)) {
	case "json", "text":
	default:
		issues = append(issues, `observability.log_format must be "json" or "text"`)
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
