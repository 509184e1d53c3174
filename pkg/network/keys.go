package network

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openfroyo/wslprov/pkg/transports/wsl"
	"github.com/rs/zerolog/log"
	sshpkg "golang.org/x/crypto/ssh"
)

// EnsureKeyPair loads the ed25519 key pair at privateKeyPath, generating it
// when absent, and returns the public half in authorized_keys format.
func EnsureKeyPair(privateKeyPath string) (string, error) {
	publicKeyPath := privateKeyPath + ".pub"

	if _, err := os.Stat(privateKeyPath); err == nil {
		pubKeyBytes, err := os.ReadFile(publicKeyPath)
		if err != nil {
			return "", fmt.Errorf("failed to read public key: %w", err)
		}
		if _, _, _, _, err := sshpkg.ParseAuthorizedKey(pubKeyBytes); err != nil {
			return "", fmt.Errorf("failed to parse public key: %w", err)
		}
		return strings.TrimSpace(string(pubKeyBytes)), nil
	}

	if err := os.MkdirAll(filepath.Dir(privateKeyPath), 0700); err != nil {
		return "", fmt.Errorf("failed to create keys directory: %w", err)
	}

	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to generate keypair: %w", err)
	}

	privBlock, err := sshpkg.MarshalPrivateKey(privKey, "wslprov")
	if err != nil {
		return "", fmt.Errorf("failed to marshal private key: %w", err)
	}
	if err := os.WriteFile(privateKeyPath, pem.EncodeToMemory(privBlock), 0600); err != nil {
		return "", fmt.Errorf("failed to write private key: %w", err)
	}

	sshPubKey, err := sshpkg.NewPublicKey(pubKey)
	if err != nil {
		return "", fmt.Errorf("failed to create SSH public key: %w", err)
	}
	authorized := strings.TrimSpace(string(sshpkg.MarshalAuthorizedKey(sshPubKey)))

	if err := os.WriteFile(publicKeyPath, []byte(authorized+"\n"), 0644); err != nil {
		return "", fmt.Errorf("failed to write public key: %w", err)
	}

	log.Info().
		Str("private_key", privateKeyPath).
		Str("fingerprint", sshpkg.FingerprintSHA256(sshPubKey)).
		Msg("Generated new SSH keypair")

	return authorized, nil
}

// mergeAuthorizedKeys appends key unless a line with the same key material
// is already present.
func mergeAuthorizedKeys(existing, key string) (string, bool, error) {
	want, _, _, _, err := sshpkg.ParseAuthorizedKey([]byte(key))
	if err != nil {
		return "", false, fmt.Errorf("failed to parse public key: %w", err)
	}

	var lines []string
	for _, line := range strings.Split(existing, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		lines = append(lines, trimmed)
		if strings.HasPrefix(trimmed, "#") {
			continue
		}
		have, _, _, _, err := sshpkg.ParseAuthorizedKey([]byte(trimmed))
		if err == nil && string(have.Marshal()) == string(want.Marshal()) {
			return existing, false, nil
		}
	}

	lines = append(lines, strings.TrimSpace(key))
	return strings.Join(lines, "\n") + "\n", true, nil
}

// InstallAuthorizedKey adds key to username's authorized_keys in name.
func InstallAuthorizedKey(ctx context.Context, exec wsl.Executor, name, username, key string) (bool, error) {
	home, err := exec.Run(ctx, name, wsl.Root, fmt.Sprintf("getent passwd %s | cut -d: -f6", wsl.Quote(username)))
	if err != nil {
		return false, fmt.Errorf("failed to look up home directory: %w", err)
	}
	if !home.Succeeded() || home.Output == "" {
		return false, fmt.Errorf("home directory of %s not found", username)
	}

	sshDir := home.Output + "/.ssh"
	path := sshDir + "/authorized_keys"

	existing, err := exec.Run(ctx, name, wsl.Root, wsl.ReadFileScript(path))
	if err != nil {
		return false, fmt.Errorf("failed to read authorized_keys: %w", err)
	}

	merged, changed, err := mergeAuthorizedKeys(existing.Output, key)
	if err != nil || !changed {
		return false, err
	}

	owner := wsl.Quote(username + ":" + username)
	script := fmt.Sprintf("mkdir -p %s && chmod 0700 %s && %s && chown -R %s %s",
		wsl.Quote(sshDir), wsl.Quote(sshDir),
		wsl.WriteFileScript(path, merged, 0600, ""),
		owner, wsl.Quote(sshDir))

	result, err := exec.Run(ctx, name, wsl.Root, script)
	if err != nil {
		return false, fmt.Errorf("failed to write authorized_keys: %w", err)
	}
	if !result.Succeeded() {
		return false, fmt.Errorf("failed to write authorized_keys: exit code %d: %s", result.ExitCode, result.Output)
	}
	return true, nil
}
