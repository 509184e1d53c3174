package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/openfroyo/wslprov/cmd/wslprov/ui"
	"github.com/openfroyo/wslprov/pkg/engine"
	"github.com/openfroyo/wslprov/pkg/guest"
)

func renderReport(r *engine.Report) string {
	var sb strings.Builder

	sb.WriteString(ui.Title(fmt.Sprintf("%s run of %s", r.Mode, r.Distro)) + " " + ui.Muted(r.RunID) + "\n")

	sb.WriteString(ui.Section("Steps") + "\n")
	for _, s := range r.Steps {
		line := fmt.Sprintf("  %s %-18s %s", ui.Mark(string(s.Outcome)), s.Name, ui.Muted(formatDuration(s.Duration)))
		if s.Reason != "" {
			line += " " + ui.Muted(s.Reason)
		}
		sb.WriteString(line + "\n")
	}

	if len(r.Warnings) > 0 {
		sb.WriteString(ui.Section("Warnings") + "\n")
		for _, w := range r.Warnings {
			sb.WriteString(fmt.Sprintf("  %s %s %s\n", ui.Warn(ui.WarnMark), ui.Muted(string(w.Stage)), w.Message))
		}
	}
	if len(r.Advisories) > 0 {
		sb.WriteString(ui.Section("Advisories") + "\n")
		sb.WriteString(ui.List("  ", r.Advisories))
	}

	if r.Account != nil {
		sb.WriteString(ui.Section("Account") + "\n")
		sb.WriteString(renderAccount(*r.Account))
	}
	if r.Network != nil {
		sb.WriteString(ui.Section("Network") + "\n")
		sb.WriteString(renderNetwork(*r.Network))
	}

	sb.WriteString("\n")
	if r.OK() {
		sb.WriteString(ui.Success(fmt.Sprintf("%s %s is ready", ui.OKMark, r.Distro)))
		if len(r.Warnings) > 0 {
			sb.WriteString(ui.Warn(fmt.Sprintf(" with %d warning(s)", len(r.Warnings))))
		}
	} else {
		sb.WriteString(ui.Error(fmt.Sprintf("%s stopped after %s: %s", ui.FailMark, r.Stage, r.Error)))
	}
	sb.WriteString(" " + ui.Muted(formatDuration(r.Duration())) + "\n")

	return sb.String()
}

func renderAccount(a guest.PrincipalAccount) string {
	if !a.Exists {
		return ui.KeyValues("  ", ui.KV("username", a.Username), ui.KV("exists", ui.Bool(false)))
	}
	return ui.KeyValues("  ",
		ui.KV("username", a.Username),
		ui.KV("uid", a.UID),
		ui.KV("groups", strings.Join(a.Groups, ", ")),
		ui.KV("admin group", ui.Bool(a.InAdminGroup)),
		ui.KV("passwordless sudo", ui.Bool(a.PasswordlessSudo)),
		ui.KV("home", ui.Bool(a.HomeExists)),
	)
}

func renderNetwork(n guest.NetworkAccessConfig) string {
	pairs := []ui.Pair{
		ui.KV("guest", fmt.Sprintf("%s:%d", n.GuestAddress, n.GuestPort)),
		ui.KV("host", fmt.Sprintf("%s:%d", n.ListenAddress, n.HostPort)),
		ui.KV("forwarding", ui.Bool(n.ForwardingSet)),
	}
	if n.FirewallRule != "" {
		pairs = append(pairs, ui.KV("firewall rule", n.FirewallRule))
	}
	if n.LoginVerified {
		pairs = append(pairs, ui.KV("login", ui.Success("verified")), ui.KV("host key", n.HostKeyFingerprint))
	}
	if !n.ConfiguredAt.IsZero() {
		pairs = append(pairs, ui.KV("configured", n.ConfiguredAt.Local().Format("2006-01-02 15:04:05")))
	}
	return ui.KeyValues("  ", pairs...)
}

func renderPackages(s guest.PackageManagerState) string {
	return ui.KeyValues("  ",
		ui.KV("sudo", ui.Bool(s.SudoAvailable)),
		ui.KV("keyring", ui.Bool(s.KeyringInitialized)),
		ui.KV("required", strconv.Itoa(len(s.RequiredPackages))),
		ui.KV("missing", strings.Join(s.MissingPackages, ", ")),
	)
}
