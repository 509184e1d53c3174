package engine

import (
	"github.com/openfroyo/wslprov/pkg/config"
	"github.com/openfroyo/wslprov/pkg/dotfiles"
	"github.com/openfroyo/wslprov/pkg/lifecycle"
	"github.com/openfroyo/wslprov/pkg/network"
	"github.com/openfroyo/wslprov/pkg/pkgmgr"
	"github.com/openfroyo/wslprov/pkg/probe"
	"github.com/openfroyo/wslprov/pkg/prompt"
	"github.com/openfroyo/wslprov/pkg/telemetry"
	"github.com/openfroyo/wslprov/pkg/transports/local"
	"github.com/openfroyo/wslprov/pkg/transports/wsl"
	"github.com/openfroyo/wslprov/pkg/users"
)

// NewComponents wires the standard collaborators for cfg over one guest
// executor and one host runner. Optional collaborators are only created
// when enabled in cfg.
func NewComponents(cfg config.WorkflowConfig, exec wsl.Executor, host local.Runner, prompter prompt.Prompter, sink telemetry.Sink, lifecycleOpts ...lifecycle.Option) Components {
	p := probe.New(exec)

	opts := append([]lifecycle.Option{lifecycle.WithSink(sink)}, lifecycleOpts...)

	c := Components{
		Probe:     p,
		Lifecycle: lifecycle.NewManager(exec, p, opts...),
		Packages:  pkgmgr.New(exec, p, sink),
		Users:     users.New(exec, p, users.Options{Shell: cfg.Shell, AdminGroup: cfg.AdminGroup}),
		Prompter:  prompter,
	}

	if cfg.Network.Enabled {
		c.Network = NewNetwork(cfg, exec, host, p, prompter, sink)
	}
	if cfg.Dotfiles.Enabled {
		c.Dotfiles = dotfiles.NewChezmoi(exec, p)
	}
	return c
}

// NewNetwork builds the network configurator for cfg.
func NewNetwork(cfg config.WorkflowConfig, exec wsl.Executor, host local.Runner, p *probe.Probe, prompter prompt.Prompter, sink telemetry.Sink) *network.Configurator {
	return network.New(exec, host, p, prompter, sink, network.Options{
		HostPort:       cfg.Network.HostPort,
		ListenAddress:  cfg.Network.ListenAddress,
		Username:       cfg.Username,
		KeyPath:        cfg.Network.KeyPath,
		VerifyLogin:    cfg.Network.VerifyLogin,
		KnownHostsPath: cfg.Network.KnownHosts,
	})
}
