package commands

import (
	"fmt"

	"github.com/openfroyo/wslprov/cmd/wslprov/ui"
	"github.com/openfroyo/wslprov/pkg/config"
	"github.com/openfroyo/wslprov/pkg/engine"
	"github.com/openfroyo/wslprov/pkg/lifecycle"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRemoveCommand() *cobra.Command {
	var (
		name      string
		assumeYes bool
	)

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Unregister a WSL environment",
		Long: `Unregister a WSL environment and destroy its filesystem.

Journaled facts about the environment are forgotten; its run history is
kept. This cannot be undone.`,
		Example: `  # Remove the configured environment after confirming
  wslprov remove

  # Remove without asking
  wslprov remove --name arch-dev --yes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
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

			p := newProbe(rt)
			if !p.EnvironmentExists(ctx, cfg.Name) {
				fmt.Fprintln(cmd.OutOrStdout(), ui.Muted(fmt.Sprintf("%s is not registered; nothing to remove", cfg.Name)))
				return nil
			}

			if !assumeYes {
				ok, err := rt.prompter.Confirm(ctx,
					fmt.Sprintf("Remove environment %s?", cfg.Name),
					"Its filesystem is destroyed.",
					false)
				if err != nil {
					return fmt.Errorf("failed to confirm: %w", err)
				}
				if !ok {
					return fmt.Errorf("removal of %s not confirmed; pass --yes to skip the question", cfg.Name)
				}
			}

			if err := lifecycle.NewManager(rt.exec, p).Remove(ctx, cfg.Name); err != nil {
				return err
			}

			store, err := openJournal(ctx, cfg.StorePath)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
				if n, err := store.DeleteFacts(ctx, cfg.Name); err != nil {
					log.Warn().Err(err).Msg("Failed to forget facts")
				} else {
					log.Debug().Int64("facts", n).Msg("Forgot facts")
				}
				engine.Audit(ctx, store, "distro.removed", currentActor(), cfg.Name, nil)
			}

			fmt.Fprintln(cmd.OutOrStdout(), ui.Success(fmt.Sprintf("%s %s removed", ui.OKMark, cfg.Name)))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "WSL distribution name")
	cmd.Flags().BoolVar(&assumeYes, "yes", false, "do not ask for confirmation")

	return cmd
}
