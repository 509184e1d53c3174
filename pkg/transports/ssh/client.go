// Package ssh logs in to a guest through its forwarded SSH port. It is used
// to confirm that forwarding and key authorization actually work end to end.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// TransportError is a failed SSH operation.
type TransportError struct {
	Op          string
	Err         error
	IsTemporary bool
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ssh %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Client is one established SSH connection.
type Client struct {
	config  *Config
	client  *ssh.Client
	hostKey ssh.PublicKey
}

// Dial connects and authenticates to the server described by config.
func Dial(ctx context.Context, config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Client{config: config}
	clientConfig, err := config.BuildSSHClientConfig(func(key ssh.PublicKey) { c.hostKey = key })
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	address := config.Address()
	log.Debug().Str("address", address).Str("user", config.User).Msg("establishing SSH connection")

	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)

	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- client
	}()

	select {
	case <-ctx.Done():
		return nil, &TransportError{Op: "connect", Err: ctx.Err(), IsTemporary: true}
	case err := <-errChan:
		return nil, &TransportError{Op: "connect", Err: err, IsTemporary: !isAuthFailure(err), IsAuthError: isAuthFailure(err)}
	case client := <-connChan:
		c.client = client
		log.Debug().Str("address", address).Msg("SSH connection established")
		return c, nil
	}
}

// HostKeyFingerprint returns the SHA256 fingerprint of the server's host key.
func (c *Client) HostKeyFingerprint() string {
	if c.hostKey == nil {
		return ""
	}
	return ssh.FingerprintSHA256(c.hostKey)
}

// Run executes cmd in a new session and returns its trimmed stdout.
func (c *Client) Run(ctx context.Context, cmd string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.CommandTimeout)
	defer cancel()

	startTime := time.Now()

	session, err := c.client.NewSession()
	if err != nil {
		return "", &TransportError{Op: "execute", Err: fmt.Errorf("failed to create session: %w", err), IsTemporary: true}
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	doneChan := make(chan error, 1)
	go func() {
		doneChan <- session.Run(cmd)
	}()

	var execErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		execErr = ctx.Err()
	case execErr = <-doneChan:
	}

	stdout := strings.TrimSpace(stdoutBuf.String())
	stderr := strings.TrimSpace(stderrBuf.String())

	log.Debug().
		Str("command", cmd).
		Int("stdout_len", len(stdout)).
		Dur("duration", time.Since(startTime)).
		Err(execErr).
		Msg("command completed")

	if execErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(execErr, &exitErr) {
			return stdout, &TransportError{
				Op:  "execute",
				Err: fmt.Errorf("command exited with code %d: %s", exitErr.ExitStatus(), stderr),
			}
		}
		return stdout, &TransportError{Op: "execute", Err: execErr, IsTemporary: true}
	}
	return stdout, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func isAuthFailure(err error) bool {
	return err != nil && strings.Contains(err.Error(), "unable to authenticate")
}
