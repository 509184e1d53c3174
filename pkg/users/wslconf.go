package users

import (
	"bytes"
	"context"
	"fmt"

	"github.com/go-ini/ini"
	"github.com/openfroyo/wslprov/pkg/transports/wsl"
)

const wslConfPath = "/etc/wsl.conf"

// mergeWSLConf sets systemd boot and the default user in content, keeping
// every other section and key. It reports whether anything changed.
func mergeWSLConf(content, username string) (string, bool, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, []byte(content))
	if err != nil {
		return "", false, fmt.Errorf("failed to parse wsl.conf: %w", err)
	}

	changed := false
	set := func(section, key, value string) {
		k := cfg.Section(section).Key(key)
		if k.String() != value {
			k.SetValue(value)
			changed = true
		}
	}
	set("boot", "systemd", "true")
	set("user", "default", username)

	if !changed {
		return content, false, nil
	}

	var buf bytes.Buffer
	if _, err := cfg.WriteTo(&buf); err != nil {
		return "", false, fmt.Errorf("failed to render wsl.conf: %w", err)
	}
	return buf.String(), true, nil
}

// ensureWSLConf takes effect only after the environment restarts.
func (pr *Provisioner) ensureWSLConf(ctx context.Context, name, username string) (bool, error) {
	existing, err := pr.exec.Run(ctx, name, wsl.Root, wsl.ReadFileScript(wslConfPath))
	if err != nil {
		return false, err
	}

	merged, changed, err := mergeWSLConf(existing.Output, username)
	if err != nil || !changed {
		return false, err
	}

	if err := pr.mustRun(ctx, name, wsl.WriteFileScript(wslConfPath, merged, 0o644, "")); err != nil {
		return false, err
	}
	return true, nil
}
