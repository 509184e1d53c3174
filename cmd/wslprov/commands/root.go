package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath     string
	logLevel       string
	logFormat      string
	storePath      string
	nonInteractive bool
	outputFormat   string

	buildVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "wslprov",
		Short: "Provision WSL development environments",
		Long: `wslprov installs and converges a WSL guest into a ready-to-use
development environment.

A run:
  - Enables the WSL platform features
  - Installs the distribution (fresh) or checks it exists (converge)
  - Initializes the package manager and installs packages
  - Creates the user and grants passwordless sudo
  - Restarts the guest so systemd and the default user take effect
  - Optionally forwards a host port to the guest's sshd
  - Optionally bootstraps dotfiles with chezmoi`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch outputFormat {
			case "table", "json", "yaml":
				return nil
			default:
				return fmt.Errorf("unsupported output format: %s", outputFormat)
			}
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "run journal database path")
	rootCmd.PersistentFlags().BoolVarP(&nonInteractive, "non-interactive", "y", false, "answer every prompt with its default")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format (table, json, yaml)")

	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newNetworkCommand())
	rootCmd.AddCommand(newRemoveCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
