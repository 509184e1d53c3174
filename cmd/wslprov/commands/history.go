package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/openfroyo/wslprov/cmd/wslprov/ui"
	"github.com/openfroyo/wslprov/pkg/stores"
	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	var (
		name  string
		limit int
		level string
	)

	cmd := &cobra.Command{
		Use:   "history [RUN_ID]",
		Short: "Show journaled runs",
		Long: `Show runs recorded in the journal.

Without arguments the most recent runs are listed. With a run ID the
events of that run are shown.`,
		Example: `  # List recent runs
  wslprov history --store ~/.wslprov/journal.db

  # List runs of one environment as JSON
  wslprov history --name arch-dev -o json

  # Show the warnings of a run
  wslprov history 2b0c6f1e-... --level warning`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			store, err := requireJournal(ctx, cfg.StorePath)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				run, err := store.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				var levelFilter *string
				if level != "" {
					levelFilter = &level
				}
				events, err := store.GetEvents(ctx, run.ID, levelFilter, 0, 0)
				if err != nil {
					return err
				}
				if handled, err := writeStructured(cmd.OutOrStdout(), events); handled || err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), renderEvents(run, events))
				return nil
			}

			runs, err := store.ListRuns(ctx, name, limit, 0)
			if err != nil {
				return err
			}
			if handled, err := writeStructured(cmd.OutOrStdout(), runs); handled || err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderRuns(runs))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "only show runs of this distribution")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs (0 for all)")
	cmd.Flags().StringVar(&level, "level", "", "only show events of this level (info, warning, error)")

	return cmd
}

func renderRuns(runs []*stores.Run) string {
	if len(runs) == 0 {
		return ui.Muted("no runs recorded") + "\n"
	}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.ID,
			r.Distro,
			r.Mode,
			string(r.Status),
			r.Stage,
			strconv.Itoa(r.Warnings),
			r.StartedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	return ui.Table([]string{"ID", "DISTRO", "MODE", "STATUS", "STAGE", "WARNINGS", "STARTED"}, rows) + "\n"
}

func renderEvents(run *stores.Run, events []*stores.Event) string {
	var sb strings.Builder
	sb.WriteString(ui.Title(fmt.Sprintf("%s run of %s", run.Mode, run.Distro)) + " " + ui.Muted(string(run.Status)) + "\n")
	if run.Error != nil {
		sb.WriteString(ui.Error(*run.Error) + "\n")
	}
	for _, e := range events {
		msg := e.Message
		switch e.Level {
		case "warning":
			msg = ui.Warn(msg)
		case "error":
			msg = ui.Error(msg)
		}
		sb.WriteString(fmt.Sprintf("  %s %-16s %-22s %s\n",
			ui.Muted(e.Timestamp.Local().Format("15:04:05")),
			e.Type,
			ui.Muted(e.Stage),
			msg))
	}
	return sb.String()
}
