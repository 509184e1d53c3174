package ssh

import (
	"context"
	"fmt"
	"time"
)

// LoginResult describes a successful login check.
type LoginResult struct {
	Address            string
	User               string
	HostKeyFingerprint string
	Duration           time.Duration
}

// LoginChecker confirms that a user can log in with a key.
type LoginChecker func(ctx context.Context, config *Config) (*LoginResult, error)

// CheckLogin logs in as config.User, runs whoami and compares the answer.
func CheckLogin(ctx context.Context, config *Config) (*LoginResult, error) {
	start := time.Now()

	client, err := Dial(ctx, config)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	who, err := client.Run(ctx, "whoami")
	if err != nil {
		return nil, err
	}
	if who != config.User {
		return nil, &TransportError{
			Op:  "login",
			Err: fmt.Errorf("logged in as %q, expected %q", who, config.User),
		}
	}

	return &LoginResult{
		Address:            config.Address(),
		User:               who,
		HostKeyFingerprint: client.HostKeyFingerprint(),
		Duration:           time.Since(start),
	}, nil
}
