package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/wslprov/pkg/config"
	"github.com/openfroyo/wslprov/pkg/engine"
	"github.com/openfroyo/wslprov/pkg/policy"
	"github.com/openfroyo/wslprov/pkg/telemetry"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newApplyCommand() *cobra.Command {
	var (
		fresh         bool
		assumeYes     bool
		name          string
		image         string
		username      string
		packages      []string
		dotfilesRepo  string
		network       bool
		hostPort      int
		keyPath       string
		metricsFile   string
		traceExporter string
		traceEndpoint string
		policies      []string
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Provision or converge a WSL environment",
		Long: `Provision a WSL environment, or converge an existing one.

Without --fresh the environment must already exist. Its state is probed
and only the steps with work left to do are run.

With --fresh any environment of the same name is unregistered and its
filesystem destroyed before the image is installed again.`,
		Example: `  # Converge the environment from a config file
  wslprov apply -c wslprov.yaml

  # Create a fresh Arch environment for user dev
  wslprov apply --fresh --name arch-dev --user dev --yes

  # Add packages and bootstrap dotfiles
  wslprov apply --packages git,neovim --dotfiles github-user

  # Enforce site policies on top of the built-in ones
  wslprov apply --policy /etc/wslprov/policies

  # Forward host port 2222 to the guest's sshd, recording the run
  wslprov apply --network --host-port 2222 --store ~/.wslprov/journal.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			cfg, err := loadConfig(cmd, func(c *config.WorkflowConfig) {
				if flags.Changed("fresh") {
					c.Fresh = fresh
				}
				if flags.Changed("name") {
					c.Name = name
				}
				if flags.Changed("image") {
					c.Image = image
				}
				if flags.Changed("user") {
					c.Username = username
				}
				if flags.Changed("packages") {
					c.Packages = packages
				}
				if flags.Changed("dotfiles") {
					c.Dotfiles.Enabled = dotfilesRepo != ""
					c.Dotfiles.Repo = dotfilesRepo
				}
				if flags.Changed("network") {
					c.Network.Enabled = network
				}
				if flags.Changed("host-port") {
					c.Network.HostPort = hostPort
				}
				if flags.Changed("key") {
					c.Network.KeyPath = keyPath
				}
				if flags.Changed("metrics-file") {
					c.Telemetry.MetricsFile = metricsFile
				}
				if flags.Changed("trace-exporter") {
					c.Telemetry.TraceExporter = traceExporter
				}
				if flags.Changed("trace-endpoint") {
					c.Telemetry.TraceEndpoint = traceEndpoint
				}
				if flags.Changed("policy") {
					c.Policies = append(c.Policies, policies...)
				}
			})
			if err != nil {
				return err
			}
			return runApply(cmd, cfg, assumeYes)
		},
	}

	cmd.Flags().BoolVar(&fresh, "fresh", false, "destroy and recreate the environment")
	cmd.Flags().BoolVar(&assumeYes, "yes", false, "do not ask before destroying an existing environment")
	cmd.Flags().StringVar(&name, "name", "", "WSL distribution name")
	cmd.Flags().StringVar(&image, "image", "", "distribution image to install")
	cmd.Flags().StringVar(&username, "user", "", "account to create")
	cmd.Flags().StringSliceVar(&packages, "packages", nil, "packages to install (replaces the configured list)")
	cmd.Flags().StringVar(&dotfilesRepo, "dotfiles", "", "chezmoi repository or GitHub user (empty disables)")
	cmd.Flags().BoolVar(&network, "network", false, "forward a host port to the guest's sshd")
	cmd.Flags().IntVar(&hostPort, "host-port", 0, "host port to forward")
	cmd.Flags().StringVar(&keyPath, "key", "", "private key whose public half is authorized in the guest")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this file after the run")
	cmd.Flags().StringVar(&traceExporter, "trace-exporter", "", "trace exporter (none, stdout, otlp)")
	cmd.Flags().StringVar(&traceEndpoint, "trace-endpoint", "", "OTLP collector endpoint")
	cmd.Flags().StringSliceVar(&policies, "policy", nil, "additional policy files or directories")

	return cmd
}

func runApply(cmd *cobra.Command, cfg config.WorkflowConfig, assumeYes bool) error {
	ctx := cmd.Context()

	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}

	if cfg.Fresh && !assumeYes {
		if err := confirmReplace(ctx, rt, cfg.Name); err != nil {
			return err
		}
	}

	admission, err := newAdmission(ctx, cfg)
	if err != nil {
		return err
	}

	tcfg := cfg.TelemetryConfig(buildVersion)
	metrics, err := telemetry.NewMetrics(tcfg.Metrics)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}
	tracer, err := telemetry.NewTracer(tcfg.Tracing, tcfg.ServiceName, tcfg.ServiceVersion)
	if err != nil {
		return fmt.Errorf("failed to create tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tcfg.Tracing.ExportTimeout)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to flush traces")
		}
	}()

	pub := telemetry.NewEventPublisher(tcfg.Events)
	pub.Subscribe(metrics.Subscriber(), nil)
	pub.Subscribe(telemetry.LogSubscriber(log.Logger), telemetry.FilterByType(
		telemetry.EventTypeWaitProgress,
		telemetry.EventTypePackageResult,
		telemetry.EventTypeNetworkChanged,
		telemetry.EventTypeAdvisory,
	))

	opts := []engine.Option{
		engine.WithPublisher(pub),
		engine.WithTracer(tracer),
		engine.WithMetrics(metrics),
		engine.WithActor(currentActor()),
		engine.WithAdmission(admission),
	}

	store, err := openJournal(ctx, cfg.StorePath)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
		opts = append(opts, engine.WithJournal(store))
	}

	w := engine.New(cfg, opts...)
	c := engine.NewComponents(cfg, rt.exec, rt.host, rt.prompter, w.Sink())

	report, runErr := w.Run(ctx, c)

	if handled, err := writeStructured(cmd.OutOrStdout(), report); err != nil {
		return err
	} else if !handled {
		fmt.Fprint(cmd.OutOrStdout(), renderReport(report))
	}

	if err := metrics.WriteTextfile(); err != nil {
		log.Warn().Err(err).Msg("Failed to write metrics")
	}
	return runErr
}

// newAdmission builds the policy engine that admits runs: the built-in
// policies plus any loaded from cfg.Policies, minus cfg.DisabledPolicies.
func newAdmission(ctx context.Context, cfg config.WorkflowConfig) (*policy.Engine, error) {
	eng, err := policy.NewEngine(log.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}
	if len(cfg.Policies) > 0 {
		if err := eng.LoadPolicies(ctx, cfg.Policies); err != nil {
			return nil, err
		}
	}
	for _, name := range cfg.DisabledPolicies {
		if err := eng.DisablePolicy(name); err != nil {
			return nil, fmt.Errorf("failed to disable policy: %w", err)
		}
	}
	return eng, nil
}

// confirmReplace asks before a fresh run destroys an existing environment.
func confirmReplace(ctx context.Context, rt *runtime, name string) error {
	exists := newProbe(rt).EnvironmentExists(ctx, name)
	if !exists {
		return nil
	}

	ok, err := rt.prompter.Confirm(ctx,
		fmt.Sprintf("Replace environment %s?", name),
		"The environment is unregistered and its filesystem is destroyed.",
		false)
	if err != nil {
		return fmt.Errorf("failed to confirm: %w", err)
	}
	if !ok {
		return fmt.Errorf("environment %s exists; pass --yes to replace it", name)
	}
	return nil
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}
