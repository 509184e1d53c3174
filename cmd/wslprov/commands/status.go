package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/openfroyo/wslprov/cmd/wslprov/ui"
	"github.com/openfroyo/wslprov/pkg/config"
	"github.com/openfroyo/wslprov/pkg/guest"
	"github.com/openfroyo/wslprov/pkg/pkgmgr"
	"github.com/openfroyo/wslprov/pkg/probe"
	"github.com/openfroyo/wslprov/pkg/stores"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// statusReport is the observed state of one environment.
type statusReport struct {
	Environment guest.Environment          `json:"environment" yaml:"environment"`
	Account     *guest.PrincipalAccount    `json:"account,omitempty" yaml:"account,omitempty"`
	Packages    *guest.PackageManagerState `json:"packages,omitempty" yaml:"packages,omitempty"`
	Dotfiles    *bool                      `json:"dotfiles_configured,omitempty" yaml:"dotfiles_configured,omitempty"`

	// Network and LastRun come from the journal.
	Network *guest.NetworkAccessConfig `json:"network,omitempty" yaml:"network,omitempty"`
	LastRun *stores.Run                `json:"last_run,omitempty" yaml:"last_run,omitempty"`
}

func newStatusCommand() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a WSL environment",
		Long: `Probe a WSL environment without changing it.

The probes are the same ones a converge run uses to decide what to do:
registration, readiness, the account and its sudo rights, the package
keyring and missing packages. When a journal is configured, the last
recorded network access and run are shown as well.`,
		Example: `  # Show the configured environment
  wslprov status

  # Show another environment as YAML
  wslprov status --name arch-dev -o yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			cfg, err := loadConfig(cmd, func(c *config.WorkflowConfig) {
				if flags.Changed("name") {
					c.Name = name
				}
			})
			if err != nil {
				return err
			}

			rt, err := newRuntime(cfg)
			if err != nil {
				return err
			}

			report := collectStatus(cmd.Context(), rt, cfg)
			if err := attachJournal(cmd.Context(), cfg, report); err != nil {
				log.Warn().Err(err).Msg("Failed to read journal")
			}

			if handled, err := writeStructured(cmd.OutOrStdout(), report); handled || err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "WSL distribution name")

	return cmd
}

func newProbe(rt *runtime) *probe.Probe {
	return probe.New(rt.exec)
}

// collectStatus probes as deep as the environment's state allows. An
// environment that does not answer is not asked about its contents.
func collectStatus(ctx context.Context, rt *runtime, cfg config.WorkflowConfig) *statusReport {
	p := newProbe(rt)
	report := &statusReport{Environment: p.Environment(ctx, cfg.Name)}
	report.Environment.Image = cfg.Image
	if report.Environment.State != guest.StateReady {
		return report
	}

	account := p.Account(ctx, cfg.Name, cfg.Username, cfg.AdminGroup)
	report.Account = &account

	packages := pkgmgr.New(rt.exec, p, nil).CheckStatus(ctx, cfg.Name, cfg.Username, cfg.Packages)
	report.Packages = &packages

	if account.Exists {
		configured := p.DotfileManagerConfigured(ctx, cfg.Name, cfg.Username)
		report.Dotfiles = &configured
	}
	return report
}

func attachJournal(ctx context.Context, cfg config.WorkflowConfig, report *statusReport) error {
	store, err := openJournal(ctx, cfg.StorePath)
	if err != nil || store == nil {
		return err
	}
	defer store.Close()

	fact, err := store.GetFact(ctx, cfg.Name, "network", "access")
	switch {
	case errors.Is(err, stores.ErrNotFound):
	case err != nil:
		return err
	default:
		var access guest.NetworkAccessConfig
		if err := json.Unmarshal([]byte(fact.Value), &access); err != nil {
			return fmt.Errorf("failed to decode network fact: %w", err)
		}
		report.Network = &access
	}

	runs, err := store.ListRuns(ctx, cfg.Name, 1, 0)
	if err != nil {
		return err
	}
	if len(runs) > 0 {
		report.LastRun = runs[0]
	}
	return nil
}

func printStatus(w io.Writer, r *statusReport) {
	var sb strings.Builder

	env := r.Environment
	state := string(env.State)
	switch env.State {
	case guest.StateReady:
		state = ui.Success(state)
	case guest.StateRegistered:
		state = ui.Warn(state)
	default:
		state = ui.Error(state)
	}
	sb.WriteString(ui.Title(env.Name) + " " + state + "\n")

	if r.Account != nil {
		sb.WriteString(ui.Section("Account") + "\n")
		sb.WriteString(renderAccount(*r.Account))
	}
	if r.Packages != nil {
		sb.WriteString(ui.Section("Packages") + "\n")
		sb.WriteString(renderPackages(*r.Packages))
	}
	if r.Dotfiles != nil {
		sb.WriteString(ui.Section("Dotfiles") + "\n")
		sb.WriteString(ui.KeyValues("  ", ui.KV("chezmoi", ui.Bool(*r.Dotfiles))))
	}
	if r.Network != nil {
		sb.WriteString(ui.Section("Network") + "\n")
		sb.WriteString(renderNetwork(*r.Network))
	}
	if r.LastRun != nil {
		run := r.LastRun
		sb.WriteString(ui.Section("Last run") + "\n")
		sb.WriteString(ui.KeyValues("  ",
			ui.KV("id", run.ID),
			ui.KV("mode", run.Mode),
			ui.KV("status", string(run.Status)),
			ui.KV("stage", run.Stage),
			ui.KV("started", run.StartedAt.Local().Format("2006-01-02 15:04:05")),
		))
	}

	fmt.Fprint(w, sb.String())
}
