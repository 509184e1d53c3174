package network

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/openfroyo/wslprov/pkg/transports/local"
)

const (
	netshBinary      = "netsh"
	powershellBinary = "powershell"
)

// FirewallRuleName names the inbound rule for an environment and port.
func FirewallRuleName(name string, hostPort int) string {
	return fmt.Sprintf("WSL %s SSH %d", name, hostPort)
}

// forwardingRule is one row of the host's v4tov4 portproxy table.
type forwardingRule struct {
	ListenAddress  string
	ListenPort     int
	ConnectAddress string
	ConnectPort    int
}

// parsePortProxy reads the table printed by "netsh interface portproxy show
// v4tov4". Header and separator lines are skipped.
func parsePortProxy(out string) []forwardingRule {
	var rules []forwardingRule
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 4 {
			continue
		}
		listenPort, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		connectPort, err := strconv.Atoi(fields[3])
		if err != nil {
			continue
		}
		rules = append(rules, forwardingRule{
			ListenAddress:  fields[0],
			ListenPort:     listenPort,
			ConnectAddress: fields[2],
			ConnectPort:    connectPort,
		})
	}
	return rules
}

// replaceForwarding deletes every rule listening on hostPort, whatever its
// listen address, then adds one rule from listenAddress:hostPort to
// target:guestPort.
func replaceForwarding(ctx context.Context, runner local.Runner, hostPort int, listenAddress, target string, guestPort int) error {
	shown, err := runner.Run(ctx, netshBinary, "interface", "portproxy", "show", "v4tov4")
	if err != nil {
		return fmt.Errorf("failed to run netsh: %w", err)
	}
	if !shown.Succeeded() {
		return fmt.Errorf("netsh show exited with code %d: %s", shown.ExitCode, strings.TrimSpace(shown.Stdout+" "+shown.Stderr))
	}

	port := "listenport=" + strconv.Itoa(hostPort)
	for _, rule := range parsePortProxy(shown.Stdout) {
		if rule.ListenPort != hostPort {
			continue
		}
		result, err := runner.Run(ctx, netshBinary, "interface", "portproxy", "delete", "v4tov4", port, "listenaddress="+rule.ListenAddress)
		if err != nil {
			return fmt.Errorf("failed to run netsh: %w", err)
		}
		if !result.Succeeded() {
			return fmt.Errorf("netsh delete of %s:%d exited with code %d: %s",
				rule.ListenAddress, hostPort, result.ExitCode, strings.TrimSpace(result.Stdout+" "+result.Stderr))
		}
	}

	result, err := runner.Run(ctx, netshBinary, "interface", "portproxy", "add", "v4tov4",
		port, "listenaddress="+listenAddress,
		"connectport="+strconv.Itoa(guestPort), "connectaddress="+target)
	if err != nil {
		return fmt.Errorf("failed to run netsh: %w", err)
	}
	if !result.Succeeded() {
		return fmt.Errorf("netsh add exited with code %d: %s", result.ExitCode, strings.TrimSpace(result.Stdout+" "+result.Stderr))
	}
	return nil
}

func powershell(ctx context.Context, runner local.Runner, script string) (*local.ExecResult, error) {
	return runner.Run(ctx, powershellBinary, "-NoProfile", "-NonInteractive", "-Command", script)
}

func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// ensureFirewallRule creates an inbound allow rule named rule for hostPort
// unless one with that name exists. It reports whether a rule was created.
func ensureFirewallRule(ctx context.Context, runner local.Runner, rule string, hostPort int) (bool, error) {
	check := fmt.Sprintf("if (Get-NetFirewallRule -DisplayName %s -ErrorAction SilentlyContinue) { 'present' }", psQuote(rule))
	result, err := powershell(ctx, runner, check)
	if err != nil {
		return false, fmt.Errorf("failed to query firewall: %w", err)
	}
	if result.Succeeded() && strings.Contains(result.Stdout, "present") {
		return false, nil
	}

	create := fmt.Sprintf(
		"New-NetFirewallRule -DisplayName %s -Direction Inbound -Action Allow -Protocol TCP -LocalPort %d | Out-Null",
		psQuote(rule), hostPort)
	result, err = powershell(ctx, runner, create)
	if err != nil {
		return false, fmt.Errorf("failed to create firewall rule: %w", err)
	}
	if !result.Succeeded() {
		return false, fmt.Errorf("New-NetFirewallRule exited with code %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return true, nil
}
