package commands

import (
	"fmt"
	"strings"

	"github.com/openfroyo/wslprov/cmd/wslprov/ui"
	"github.com/openfroyo/wslprov/pkg/config"
	"github.com/openfroyo/wslprov/pkg/engine"
	"github.com/openfroyo/wslprov/pkg/guest"
	"github.com/openfroyo/wslprov/pkg/telemetry"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newNetworkCommand() *cobra.Command {
	var (
		name        string
		hostPort    int
		keyPath     string
		verifyLogin bool
		knownHosts  string
	)

	cmd := &cobra.Command{
		Use:   "network",
		Short: "Refresh host port forwarding to the guest",
		Long: `Re-detect the guest's address and point host port forwarding at it.

The guest address changes every time WSL restarts, so forwarding set up
by apply goes stale. This command repeats the network step on its own:
  - Ensures sshd is running in the guest
  - Detects the guest address and sshd port
  - Replaces the host portproxy rule
  - Ensures the inbound firewall rule
  - Optionally authorizes a public key for the user
  - Optionally logs in with that key through the forwarded port`,
		Example: `  # Refresh forwarding for the configured environment
  wslprov network

  # Forward host port 2200 and authorize a key
  wslprov network --host-port 2200 --key ~/.ssh/wsl_ed25519

  # Authorize a key and check that it can log in
  wslprov network --key ~/.ssh/wsl_ed25519 --verify

  # Require the guest's host key to be in a known_hosts file
  wslprov network --key ~/.ssh/wsl_ed25519 --verify --known-hosts ~/.ssh/known_hosts`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			flags := cmd.Flags()
			cfg, err := loadConfig(cmd, func(c *config.WorkflowConfig) {
				c.Network.Enabled = true
				if flags.Changed("name") {
					c.Name = name
				}
				if flags.Changed("host-port") {
					c.Network.HostPort = hostPort
				}
				if flags.Changed("key") {
					c.Network.KeyPath = keyPath
				}
				if flags.Changed("verify") {
					c.Network.VerifyLogin = verifyLogin
				}
				if flags.Changed("known-hosts") {
					c.Network.KnownHosts = knownHosts
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
				return guest.NewFatalError(fmt.Sprintf("environment %s does not exist", cfg.Name), nil).
					WithDistro(cfg.Name).
					WithCode(guest.ErrCodeNotFound)
			}

			pub := telemetry.NewEventPublisher(telemetry.EventsConfig{})
			pub.Subscribe(telemetry.LogSubscriber(log.Logger), nil)

			res := engine.NewNetwork(cfg, rt.exec, rt.host, p, rt.prompter, pub).Configure(ctx, cfg.Name)
			for _, w := range res.Warnings {
				log.Warn().Err(w).Str("distro", cfg.Name).Msg("Network configuration warning")
			}

			if res.Config.ForwardingSet {
				store, err := openJournal(ctx, cfg.StorePath)
				if err != nil {
					return err
				}
				if store != nil {
					defer store.Close()
					engine.RecordFact(ctx, store, cfg.Name, "", "network", "access", res.Config)
					engine.Audit(ctx, store, "network.configured", currentActor(), cfg.Name, map[string]interface{}{
						"guest_address": res.Config.GuestAddress,
						"host_port":     res.Config.HostPort,
					})
				}
			}

			if handled, err := writeStructured(cmd.OutOrStdout(), res.Config); handled || err != nil {
				return err
			}
			printNetwork(cmd, res.Config, res.Warnings)

			if !res.Config.ForwardingSet {
				return fmt.Errorf("port forwarding for %s was not configured", cfg.Name)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "WSL distribution name")
	cmd.Flags().IntVar(&hostPort, "host-port", 0, "host port to forward")
	cmd.Flags().StringVar(&keyPath, "key", "", "private key whose public half is authorized in the guest")
	cmd.Flags().BoolVar(&verifyLogin, "verify", false, "log in with the key through the forwarded port")
	cmd.Flags().StringVar(&knownHosts, "known-hosts", "", "known_hosts file the guest's host key must match during --verify")

	return cmd
}

func printNetwork(cmd *cobra.Command, n guest.NetworkAccessConfig, warnings []error) {
	var sb strings.Builder
	sb.WriteString(ui.Section("Network") + "\n")
	sb.WriteString(renderNetwork(n))
	for _, w := range warnings {
		sb.WriteString(fmt.Sprintf("  %s %s\n", ui.Warn(ui.WarnMark), w))
	}
	fmt.Fprint(cmd.OutOrStdout(), sb.String())
}
