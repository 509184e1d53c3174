// Package network makes the guest's SSH service reachable from outside the
// control host: it finds the guest address and service port, then installs
// a port proxy and a firewall rule on the host.
//
// Everything here is a convenience. Failures are returned as recoverable
// warnings and never stop provisioning.
package network

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/wslprov/pkg/guest"
	"github.com/openfroyo/wslprov/pkg/probe"
	"github.com/openfroyo/wslprov/pkg/prompt"
	"github.com/openfroyo/wslprov/pkg/telemetry"
	"github.com/openfroyo/wslprov/pkg/transports/local"
	"github.com/openfroyo/wslprov/pkg/transports/ssh"
	"github.com/openfroyo/wslprov/pkg/transports/wsl"
	"github.com/rs/zerolog/log"
)

// Options controls the host side of network access.
type Options struct {
	HostPort      int
	ListenAddress string
	ServiceUnit   string

	// Username and KeyPath, when both set, install the key pair's public
	// half into the user's authorized_keys.
	Username string
	KeyPath  string

	// VerifyLogin logs in through the forwarded port with KeyPath after
	// the key is installed.
	VerifyLogin bool

	// KnownHostsPath turns on strict host key checking for the login.
	KnownHostsPath string
}

// DefaultOptions forwards 0.0.0.0:2222 to sshd.
func DefaultOptions() Options {
	return Options{HostPort: 2222, ListenAddress: "0.0.0.0", ServiceUnit: "sshd"}
}

// Result is the outcome of Configure.
type Result struct {
	Config   guest.NetworkAccessConfig
	Warnings []error
}

// Configurator detects guest addressing and manages host rules.
type Configurator struct {
	exec     wsl.Executor
	host     local.Runner
	probe    *probe.Probe
	prompter prompt.Prompter
	sink     telemetry.Sink
	opts     Options
	login    ssh.LoginChecker
	now      func() time.Time
}

// New creates a configurator. Zero option fields take their defaults.
func New(exec wsl.Executor, host local.Runner, p *probe.Probe, prompter prompt.Prompter, sink telemetry.Sink, opts Options) *Configurator {
	defaults := DefaultOptions()
	if opts.HostPort == 0 {
		opts.HostPort = defaults.HostPort
	}
	if opts.ListenAddress == "" {
		opts.ListenAddress = defaults.ListenAddress
	}
	if opts.ServiceUnit == "" {
		opts.ServiceUnit = defaults.ServiceUnit
	}
	if prompter == nil {
		prompter = prompt.Defaults{}
	}
	if sink == nil {
		sink = telemetry.Discard
	}
	return &Configurator{
		exec:     exec,
		host:     host,
		probe:    p,
		prompter: prompter,
		sink:     sink,
		opts:     opts,
		login:    ssh.CheckLogin,
		now:      time.Now,
	}
}

// DetectGuestAddress returns the first valid IPv4 address any strategy
// finds.
func (c *Configurator) DetectGuestAddress(ctx context.Context, name string) (string, error) {
	addr, strategy, ok := firstMatch(ctx, c.exec, name, AddressStrategies)
	if !ok {
		return "", networkError(name, "detect-address", "no strategy found a guest IPv4 address", nil)
	}
	log.Debug().Str("distro", name).Str("address", addr).Str("strategy", strategy).Msg("Detected guest address")
	return addr, nil
}

// DetectServicePort returns the configured SSH port, or DefaultServicePort.
// It never fails.
func (c *Configurator) DetectServicePort(ctx context.Context, name string) int {
	port, strategy, ok := firstMatch(ctx, c.exec, name, PortStrategies)
	if !ok {
		log.Debug().Str("distro", name).Int("port", DefaultServicePort).Msg("Falling back to default service port")
		return DefaultServicePort
	}
	log.Debug().Str("distro", name).Int("port", port).Str("strategy", strategy).Msg("Detected service port")
	return port
}

// ConfigureForwarding replaces the host proxy rule for hostPort so it
// targets the current guest address and guestPort. It returns that address.
func (c *Configurator) ConfigureForwarding(ctx context.Context, hostPort int, name, listenAddress string, guestPort int) (string, error) {
	addr, err := c.DetectGuestAddress(ctx, name)
	if err != nil {
		return "", err
	}

	if err := replaceForwarding(ctx, c.host, hostPort, listenAddress, addr, guestPort); err != nil {
		return "", networkError(name, "forwarding", "failed to configure port forwarding", err)
	}

	log.Info().
		Str("distro", name).
		Str("listen", fmt.Sprintf("%s:%d", listenAddress, hostPort)).
		Str("target", fmt.Sprintf("%s:%d", addr, guestPort)).
		Msg("Port forwarding configured")
	return addr, nil
}

// ConfigureFirewallAdmission ensures one inbound allow rule exists for the
// environment and hostPort. It returns the rule name.
func (c *Configurator) ConfigureFirewallAdmission(ctx context.Context, hostPort int, name string) (string, error) {
	rule := FirewallRuleName(name, hostPort)
	created, err := ensureFirewallRule(ctx, c.host, rule, hostPort)
	if err != nil {
		return "", networkError(name, "firewall", "failed to configure firewall rule", err)
	}
	if created {
		log.Info().Str("rule", rule).Msg("Firewall rule created")
	} else {
		log.Debug().Str("rule", rule).Msg("Firewall rule already present")
	}
	return rule, nil
}

// Configure runs the whole network setup for name.
func (c *Configurator) Configure(ctx context.Context, name string) *Result {
	res := &Result{Config: guest.NetworkAccessConfig{
		HostPort:      c.opts.HostPort,
		ListenAddress: c.opts.ListenAddress,
	}}

	if !c.ensureService(ctx, name) {
		res.Warnings = append(res.Warnings,
			networkError(name, "service", fmt.Sprintf("%s is not running; skipping network configuration", c.opts.ServiceUnit), nil))
		return res
	}

	res.Config.GuestPort = c.DetectServicePort(ctx, name)

	addr, err := c.ConfigureForwarding(ctx, c.opts.HostPort, name, c.opts.ListenAddress, res.Config.GuestPort)
	if err != nil {
		res.Warnings = append(res.Warnings, err)
		return res
	}
	res.Config.GuestAddress = addr
	res.Config.ForwardingSet = true
	res.Config.ConfiguredAt = c.now()

	if rule, err := c.ConfigureFirewallAdmission(ctx, c.opts.HostPort, name); err != nil {
		res.Warnings = append(res.Warnings, err)
	} else {
		res.Config.FirewallRule = rule
	}

	if c.opts.Username != "" && c.opts.KeyPath != "" {
		if err := c.installKey(ctx, name); err != nil {
			res.Warnings = append(res.Warnings, networkError(name, "authorized-key", "failed to install SSH key", err))
		} else if c.opts.VerifyLogin {
			if err := c.verifyLogin(ctx, name, &res.Config); err != nil {
				res.Warnings = append(res.Warnings, err)
			}
		}
	}

	_ = c.sink.Publish(telemetry.Event{
		Type:    telemetry.EventTypeNetworkChanged,
		Source:  "network",
		Distro:  name,
		Message: fmt.Sprintf("%s:%d -> %s:%d", c.opts.ListenAddress, c.opts.HostPort, addr, res.Config.GuestPort),
		Data: map[string]interface{}{
			"guest_address": addr,
			"guest_port":    res.Config.GuestPort,
			"host_port":     c.opts.HostPort,
			"firewall_rule": res.Config.FirewallRule,
		},
	})

	return res
}

// ensureService reports whether the SSH unit is active, offering to start
// it when it is not.
func (c *Configurator) ensureService(ctx context.Context, name string) bool {
	unit := c.opts.ServiceUnit
	if c.probe.ServiceActive(ctx, name, unit) {
		return true
	}

	start, err := c.prompter.Confirm(ctx,
		fmt.Sprintf("%s is not running in %s. Start it?", unit, name),
		"The service is enabled so it also starts on the next boot.",
		true)
	if err != nil || !start {
		return false
	}

	result, err := c.exec.RunQuiet(ctx, name, wsl.Root, "systemctl enable --now "+wsl.Quote(unit))
	if err != nil || !result.Succeeded() {
		log.Warn().Err(err).Str("unit", unit).Msg("Failed to start service")
		return false
	}
	return c.probe.ServiceActive(ctx, name, unit)
}

func (c *Configurator) installKey(ctx context.Context, name string) error {
	key, err := EnsureKeyPair(c.opts.KeyPath)
	if err != nil {
		return err
	}
	changed, err := InstallAuthorizedKey(ctx, c.exec, name, c.opts.Username, key)
	if err != nil {
		return err
	}
	if changed {
		log.Info().Str("distro", name).Str("user", c.opts.Username).Msg("Installed SSH public key")
	}
	return nil
}

// verifyLogin logs in as the user through the host side of the forwarding.
func (c *Configurator) verifyLogin(ctx context.Context, name string, cfg *guest.NetworkAccessConfig) error {
	host := c.opts.ListenAddress
	if host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	sshCfg := ssh.DefaultConfig(host, c.opts.HostPort, c.opts.Username)
	sshCfg.PrivateKeyPath = c.opts.KeyPath
	if c.opts.KnownHostsPath != "" {
		sshCfg.KnownHostsPath = c.opts.KnownHostsPath
		sshCfg.StrictHostKeyChecking = true
	}

	res, err := c.login(ctx, sshCfg)
	if err != nil {
		return networkError(name, "verify-login", fmt.Sprintf("could not log in as %s through %s", c.opts.Username, sshCfg.Address()), err)
	}

	cfg.LoginVerified = true
	cfg.HostKeyFingerprint = res.HostKeyFingerprint
	log.Info().
		Str("distro", name).
		Str("address", res.Address).
		Str("host_key", res.HostKeyFingerprint).
		Dur("duration", res.Duration).
		Msg("SSH login verified")
	return nil
}

func networkError(name, op, msg string, err error) *guest.Error {
	return guest.NewRecoverableError(msg, err).
		WithDistro(name).
		WithOperation(op).
		WithCode(guest.ErrCodeNetwork)
}
