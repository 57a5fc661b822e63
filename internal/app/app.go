// Package app wires the Zypher building blocks — config, workspace, Model
// Provider, MCP Server Manager, Checkpoint Store, File Attachment Cache,
// Agent Runner, and Session Facade — into one runnable process, the way the
// teacher's cmd/nexus main.go composes its equivalents before handing off
// to the gateway server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/CoreSpeed-io/zypher-agent/internal/agent"
	"github.com/CoreSpeed-io/zypher-agent/internal/attachments"
	"github.com/CoreSpeed-io/zypher-agent/internal/checkpoint"
	"github.com/CoreSpeed-io/zypher-agent/internal/config"
	"github.com/CoreSpeed-io/zypher-agent/internal/eventbus"
	"github.com/CoreSpeed-io/zypher-agent/internal/mcp"
	"github.com/CoreSpeed-io/zypher-agent/internal/observability"
	"github.com/CoreSpeed-io/zypher-agent/internal/policy/policy"
	"github.com/CoreSpeed-io/zypher-agent/internal/provider/anthropic"
	"github.com/CoreSpeed-io/zypher-agent/internal/provider/openai"
	"github.com/CoreSpeed-io/zypher-agent/internal/session"
	"github.com/CoreSpeed-io/zypher-agent/internal/storage"
	"github.com/CoreSpeed-io/zypher-agent/internal/workspace"
)

// App holds every long-lived collaborator built from one Config, ready for
// a CLI command to drive.
type App struct {
	Config   *config.Config
	Session  *session.Session
	Manager  *mcp.Manager
	Approver *policy.ApprovalManager
	Tracer   *observability.Tracer

	shutdownTracer func(context.Context) error
	logger         *slog.Logger
}

// Build loads cfgPath, bootstraps the workspace, and constructs every
// collaborator the Agent Runner needs, in the teacher's dependency order:
// config, then workspace, then storage/attachments, then the Model
// Provider, then the MCP Server Manager, then the Checkpoint Store, and
// finally the Session Facade over all of it.
func Build(ctx context.Context, cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("app: load config: %w", err)
	}

	logger := slog.Default().With("component", "app")

	if _, err := workspace.EnsureWorkspaceFiles(cfg.Workspace.Path, workspace.BootstrapFilesForConfig(cfg), false); err != nil {
		return nil, fmt.Errorf("app: bootstrap workspace: %w", err)
	}
	ws, err := workspace.LoadWorkspace(workspace.LoaderConfigFromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("app: load workspace: %w", err)
	}

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName: firstNonEmpty(cfg.Observability.ServiceName, "zypher-agent"),
		Endpoint:    cfg.Observability.OTLPEndpoint,
	})

	provider, providerName, err := buildProvider(cfg.Model)
	if err != nil {
		shutdownTracer(ctx)
		return nil, err
	}

	approvalPolicy := policy.DefaultApprovalPolicy()
	if strings.EqualFold(cfg.MCP.DefaultApproval, "manual") {
		approvalPolicy = policy.ManualApprovalPolicy()
	}
	approvalPolicy.RiskOf = defaultRiskClassifier
	approver := policy.NewApprovalManager(approvalPolicy)

	manager := mcp.NewManager(logger, approver.Handler("default", "default"), nil)
	for _, sc := range cfg.MCP.Servers {
		endpoint := mcp.ServerEndpoint{ID: sc.ID, Name: sc.ID, Env: sc.Env}
		if sc.URL != "" {
			endpoint.Kind = mcp.EndpointRemote
			endpoint.URL = sc.URL
		} else {
			endpoint.Kind = mcp.EndpointCommand
			endpoint.Command = sc.Command
			endpoint.Args = sc.Args
		}
		if err := manager.RegisterServer(ctx, endpoint, true, mcp.DirectSource, nil); err != nil {
			logger.Warn("register mcp server", "server", sc.ID, "error", err)
		}
	}

	checkpointDir := cfg.Checkpoint.MetadataDir
	if checkpointDir == "" {
		checkpointDir = filepath.Join(cfg.Workspace.Path, ".zypher", "checkpoints")
	}
	checkpoints, err := checkpoint.NewStore(checkpointDir, cfg.Workspace.Path)
	if err != nil {
		shutdownTracer(ctx)
		return nil, fmt.Errorf("app: open checkpoint store: %w", err)
	}

	var attachmentCache *attachments.Cache
	if cfg.Attachment.S3Bucket != "" {
		backend, err := storage.NewS3Collaborator(ctx, storage.S3Config{
			Bucket:          cfg.Attachment.S3Bucket,
			Region:          cfg.Attachment.S3Region,
			Endpoint:        cfg.Attachment.S3Endpoint,
			Prefix:          cfg.Attachment.S3Prefix,
			AccessKeyID:     cfg.Attachment.S3AccessKeyID,
			SecretAccessKey: cfg.Attachment.S3SecretAccessKey,
		})
		if err != nil {
			shutdownTracer(ctx)
			return nil, fmt.Errorf("app: build attachment storage: %w", err)
		}
		cacheDir := cfg.Attachment.CacheDir
		if cacheDir == "" {
			cacheDir = filepath.Join(cfg.Workspace.Path, ".zypher", "attachments")
		}
		attachmentCache, err = attachments.NewCache(cacheDir, backend)
		if err != nil {
			shutdownTracer(ctx)
			return nil, fmt.Errorf("app: open attachment cache: %w", err)
		}
	}

	promptLoader := func(context.Context) (string, error) {
		return ws.SystemPromptContext(), nil
	}

	var attachCacher agent.AttachmentCacher
	if attachmentCache != nil {
		attachCacher = attachmentCache
	}

	runner := agent.NewRunner(manager, provider, checkpoints, attachCacher, promptLoader, nil).
		WithTracer(tracer).
		WithProviderName(providerName)

	dbPath := filepath.Join(cfg.Workspace.Path, ".zypher", "session.db")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		shutdownTracer(ctx)
		return nil, fmt.Errorf("app: create session dir: %w", err)
	}
	sess, err := session.Open(dbPath, runner, manager, checkpoints, logger)
	if err != nil {
		shutdownTracer(ctx)
		return nil, fmt.Errorf("app: open session: %w", err)
	}

	return &App{
		Config:         cfg,
		Session:        sess,
		Manager:        manager,
		Approver:       approver,
		Tracer:         tracer,
		shutdownTracer: shutdownTracer,
		logger:         logger,
	}, nil
}

// Close disposes the session and flushes the tracer.
func (a *App) Close(ctx context.Context) error {
	err := a.Session.Dispose()
	if a.shutdownTracer != nil {
		if sErr := a.shutdownTracer(ctx); sErr != nil && err == nil {
			err = sErr
		}
	}
	return err
}

func buildProvider(cfg config.ModelConfig) (agent.ModelProvider, string, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "anthropic":
		p, err := anthropic.New(anthropic.Config{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   cfg.RetryDelay,
			DefaultModel: cfg.Model,
		})
		return p, "anthropic", err
	case "openai":
		p, err := openai.New(openai.Config{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   cfg.RetryDelay,
			DefaultModel: cfg.Model,
		})
		return p, "openai", err
	default:
		return nil, "", fmt.Errorf("app: unknown model provider %q", cfg.Provider)
	}
}

// defaultRiskClassifier flags tools that mutate or delete state as high
// risk; everything else defaults to low. Servers needing finer-grained
// classification should set MCPConfig.DefaultApproval to "manual" instead.
func defaultRiskClassifier(toolName string) policy.RiskLevel {
	lower := strings.ToLower(toolName)
	switch {
	case strings.Contains(lower, "delete"), strings.Contains(lower, "remove"), strings.Contains(lower, "drop"):
		return policy.RiskCritical
	case strings.Contains(lower, "write"), strings.Contains(lower, "exec"), strings.Contains(lower, "run"):
		return policy.RiskHigh
	default:
		return policy.RiskLow
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// EventBus exposes eventbus.New with the configured heartbeat interval, for
// callers that want to build a Bus outside of RunTask (e.g. tests).
func (a *App) EventBus() *eventbus.Bus {
	return eventbus.New(a.Config.EventBus.HeartbeatInterval)
}
