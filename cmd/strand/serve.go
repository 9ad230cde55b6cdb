package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/strandlabs/strand/pkg/config"
	"github.com/strandlabs/strand/pkg/observability"
	"github.com/strandlabs/strand/pkg/runtime"
	"github.com/strandlabs/strand/pkg/server"
)

// ServeCmd starts the HTTP server, either from a config file (--config) or
// in zero-config mode where flags and environment variables fill a default
// configuration.
type ServeCmd struct {
	// Zero-config options.
	Provider string `help:"LLM provider: openai or gemini (zero-config mode)."`
	Model    string `help:"Model name (zero-config mode)."`
	APIKey   string `name:"api-key" help:"API key (defaults to OPENAI_API_KEY / GEMINI_API_KEY)."`
	BaseURL  string `name:"base-url" help:"Custom API base URL (zero-config mode)."`
	KBDir    string `name:"kb-dir" help:"Folder with knowledge-base documents (zero-config mode)." type:"path" placeholder:"PATH"`
	Observe  bool   `help:"Enable metrics and OTLP tracing (zero-config mode)."`

	// Server options.
	Host  string `help:"Host to bind to (overrides config)."`
	Port  int    `help:"Port to listen on (overrides config)."`
	Watch bool   `help:"Reload the configuration when the file changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg, loader, err := c.loadConfig(ctx, cli.Config)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	if c.Watch && loader != nil {
		go func() {
			if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Config watch failed", "error", err)
			}
		}()
	}

	obs := observability.NewManager(cfg.Observability)
	if err := obs.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		if err := obs.Shutdown(context.Background()); err != nil {
			slog.Warn("Observability shutdown failed", "error", err)
		}
	}()

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create runtime: %w", err)
	}
	defer rt.Close()

	srv := server.New(&cfg.Server, rt,
		server.WithObservability(obs),
		server.WithVersion(buildVersion()),
	)

	printServeInfo(cfg, obs)

	return srv.Start(ctx)
}

// loadConfig loads from the config file when one is given, otherwise builds
// a zero-config setup from flags and environment variables.
func (c *ServeCmd) loadConfig(ctx context.Context, configPath string) (*config.Config, *config.Loader, error) {
	if configPath != "" {
		// Env files next to the config file load before parsing so
		// ${VAR} expansion in the file sees them.
		if err := config.LoadEnvFilesFor(configPath); err != nil {
			slog.Warn("Failed to load env files next to config", "error", err)
		}
		cfg, loader, err := config.LoadConfigFile(ctx, configPath)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Loaded configuration", "path", configPath)
		return cfg, loader, nil
	}

	cfg := &config.Config{}
	cfg.LLM.Provider = config.LLMProvider(c.Provider)
	cfg.LLM.Model = c.Model
	cfg.LLM.APIKey = c.APIKey
	cfg.LLM.BaseURL = c.BaseURL
	if c.KBDir != "" {
		cfg.Documents.KBDir = c.KBDir
	}
	if c.Observe {
		cfg.Observability.Tracing.Enabled = true
		cfg.Observability.Metrics.Enabled = true
	}
	cfg.SetDefaults()

	if cfg.LLM.APIKey == "" {
		return nil, nil, fmt.Errorf(
			"API key required for zero-config mode\n\n" +
				"Provide it via:\n" +
				"  1. Command line flag:     strand serve --api-key sk-...\n" +
				"  2. Environment variable:  export OPENAI_API_KEY=sk-...\n\n" +
				"Or run with a config file:  strand serve --config strand.yaml")
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	slog.Info("Using zero-config mode",
		"provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model)
	return cfg, nil, nil
}

func printServeInfo(cfg *config.Config, obs *observability.Manager) {
	addr := cfg.Server.Address()
	color := "\033[38;2;99;102;241m"
	reset := "\033[0m"

	fmt.Printf("\n%s🚀 Strand server ready!%s\n", color, reset)
	fmt.Printf("   API:      http://%s\n", addr)
	fmt.Printf("   Health:   http://%s/api/health\n", addr)
	fmt.Printf("   Sessions: http://%s/api/sessions\n", addr)
	if obs.MetricsEnabled() {
		fmt.Printf("   Metrics:  http://%s%s\n", addr, obs.MetricsEndpoint())
	}
	if cfg.Observability.Tracing.Enabled {
		fmt.Printf("   Tracing:  %s (%s)\n",
			cfg.Observability.Tracing.Exporter, cfg.Observability.Tracing.Endpoint)
	}
	if cfg.Documents.KBDir != "" {
		fmt.Printf("   KB dir:   %s\n", cfg.Documents.KBDir)
	}
	fmt.Println("\nPress Ctrl+C to stop")
}
