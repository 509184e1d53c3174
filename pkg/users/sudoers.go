package users

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/wslprov/pkg/transports/wsl"
)

const sudoersDir = "/etc/sudoers.d"

// sudoersPath names the fragment after group. sudo skips files in
// sudoers.d whose names contain a dot or end in a tilde, so those
// characters are replaced.
func sudoersPath(group string) string {
	safe := strings.Map(func(r rune) rune {
		if r == '.' || r == '~' || r == '/' {
			return '_'
		}
		return r
	}, group)
	return fmt.Sprintf("%s/10-%s-nopasswd", sudoersDir, safe)
}

// buildSudoersRule scopes the rule to a group so granting more users only
// changes group membership.
func buildSudoersRule(group string) string {
	var b strings.Builder
	b.WriteString("# Managed by wslprov\n")
	fmt.Fprintf(&b, "%%%s ALL=(ALL:ALL) NOPASSWD: ALL\n", group)
	return b.String()
}

// ensureSudoers installs the fragment unless it already has the wanted
// content. The staged file must pass visudo before it replaces the old one.
func (pr *Provisioner) ensureSudoers(ctx context.Context, name, group string) (bool, error) {
	rule := buildSudoersRule(group)
	path := sudoersPath(group)

	existing, err := pr.exec.Run(ctx, name, wsl.Root, wsl.ReadFileScript(path))
	if err == nil && existing.Succeeded() && strings.TrimSpace(existing.Output) == strings.TrimSpace(rule) {
		return false, nil
	}

	if err := pr.mustRun(ctx, name, wsl.WriteFileScript(path, rule, 0o440, "visudo -cf")); err != nil {
		return false, fmt.Errorf("invalid sudoers syntax: %w", err)
	}
	return true, nil
}
