package commands

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"

	"github.com/openfroyo/wslprov/pkg/config"
	"github.com/openfroyo/wslprov/pkg/prompt"
	"github.com/openfroyo/wslprov/pkg/stores"
	"github.com/openfroyo/wslprov/pkg/telemetry"
	"github.com/openfroyo/wslprov/pkg/transports/local"
	"github.com/openfroyo/wslprov/pkg/transports/wsl"
	"github.com/spf13/cobra"
)

// runtime holds the host-facing collaborators of a command.
type runtime struct {
	exec     wsl.Executor
	host     local.Runner
	prompter prompt.Prompter
}

// newRuntime drives the local wsl.exe. Tests replace it.
var newRuntime = func(cfg config.WorkflowConfig) (*runtime, error) {
	host := local.NewProcessRunner()
	// wsl.exe writes UTF-16 to pipes unless told otherwise.
	host.Env = []string{"WSL_UTF8=1"}

	exec, err := wsl.NewClient(host, wsl.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create wsl client: %w", err)
	}

	return &runtime{
		exec:     exec,
		host:     host,
		prompter: prompt.New(cfg.NonInteractive),
	}, nil
}

// loadConfig builds the run configuration from the config file, the global
// flags and overrides, then installs the configured logger.
func loadConfig(cmd *cobra.Command, overrides ...config.Override) (config.WorkflowConfig, error) {
	flags := cmd.Flags()
	global := func(c *config.WorkflowConfig) {
		if flags.Changed("log-level") {
			c.Telemetry.LogLevel = logLevel
		}
		if flags.Changed("log-format") {
			c.Telemetry.LogFormat = logFormat
		}
		if flags.Changed("store") {
			c.StorePath = storePath
		}
		if nonInteractive {
			c.NonInteractive = true
		}
	}

	cfg, err := config.Build(configPath, append([]config.Override{global}, overrides...)...)
	if err != nil {
		return config.WorkflowConfig{}, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := telemetry.InstallGlobal(cfg.TelemetryConfig(buildVersion).Logging); err != nil {
		return config.WorkflowConfig{}, fmt.Errorf("failed to configure logging: %w", err)
	}
	return cfg, nil
}

// openJournal opens the run journal at path. An empty path returns nil.
func openJournal(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	if path == "" {
		return nil, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}
	store, err := stores.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return store, nil
}

// requireJournal is openJournal for commands that only read the journal.
func requireJournal(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("no journal configured: pass --store or set store_path")
	}
	return openJournal(ctx, path)
}

// currentActor names the operator in audit entries.
func currentActor() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "wslprov"
}
