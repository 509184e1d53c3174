package network

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/openfroyo/wslprov/internal/testutil"
	"github.com/openfroyo/wslprov/pkg/guest"
	"github.com/openfroyo/wslprov/pkg/probe"
	"github.com/openfroyo/wslprov/pkg/transports/local"
	"github.com/openfroyo/wslprov/pkg/transports/ssh"
	"github.com/openfroyo/wslprov/pkg/transports/wsl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sshpkg "golang.org/x/crypto/ssh"
)

func newConfigurator(exec *testutil.FakeExecutor, host *testutil.FakeRunner, prompter *testutil.FakePrompter, opts Options) *Configurator {
	if prompter == nil {
		prompter = &testutil.FakePrompter{}
	}
	return New(exec, host, probe.New(exec), prompter, nil, opts)
}

func TestDetectGuestAddress(t *testing.T) {
	tests := []struct {
		name      string
		outputs   map[string]string
		expected  string
		wantErr   bool
		strategy3 int
	}{
		{
			name:     "hostname",
			outputs:  map[string]string{"hostname -I": "172.20.1.5 fd00::5"},
			expected: "172.20.1.5",
		},
		{
			name: "malformed first strategy falls through to interface",
			outputs: map[string]string{
				"hostname -I":          "hostname: invalid option -- 'I'",
				"ip -4 addr show eth0": "2: eth0: <BROADCAST,UP>\n    inet 192.0.2.5/24 brd 192.0.2.255 scope global eth0",
			},
			expected:  "192.0.2.5",
			strategy3: 0,
		},
		{
			name: "global scope skips loopback",
			outputs: map[string]string{
				"ip -4 -o addr show scope global": "1: lo    inet 127.0.0.1/8 scope host lo\n3: eth1    inet 10.0.0.7/24 brd 10.0.0.255 scope global eth1",
			},
			expected:  "10.0.0.7",
			strategy3: 1,
		},
		{
			name:      "exhausted",
			outputs:   map[string]string{},
			wantErr:   true,
			strategy3: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := testutil.NewFakeExecutor()
			for cmd, out := range tt.outputs {
				exec.OnOutput(cmd, out)
			}
			c := newConfigurator(exec, testutil.NewFakeRunner(), nil, Options{})

			addr, err := c.DetectGuestAddress(context.Background(), "dev")
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, guest.ErrCodeNetwork, guest.CodeOf(err))
				assert.False(t, guest.IsFatal(err))
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expected, addr)
			}
			assert.Equal(t, tt.strategy3, exec.Count("scope global"))
		})
	}
}

func TestDetectServicePort(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(exec *testutil.FakeExecutor)
		expected int
	}{
		{
			name: "config file",
			setup: func(exec *testutil.FakeExecutor) {
				exec.OnOutput("sshd_config", "# Port 22\nPort 2022\nPort 2023\n")
			},
			expected: 2022,
		},
		{
			name: "port inside match block ignored",
			setup: func(exec *testutil.FakeExecutor) {
				exec.OnOutput("sshd_config", "Match User git\n  Port 9999\n")
				exec.OnOutput("sshd -T", "port 2200\naddressfamily any")
			},
			expected: 2200,
		},
		{
			name: "default port listening",
			setup: func(exec *testutil.FakeExecutor) {
				exec.OnOutput("ss -Htln", "LISTEN 0 128 0.0.0.0:22 0.0.0.0:*")
			},
			expected: 22,
		},
		{
			name:     "hard default",
			setup:    func(*testutil.FakeExecutor) {},
			expected: DefaultServicePort,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := testutil.NewFakeExecutor()
			tt.setup(exec)
			c := newConfigurator(exec, testutil.NewFakeRunner(), nil, Options{})
			assert.Equal(t, tt.expected, c.DetectServicePort(context.Background(), "dev"))
		})
	}
}

// portproxy simulates the host's netsh v4tov4 table.
type portproxy struct {
	rules []forwardingRule
}

func netshArgs(args []string) map[string]string {
	kv := map[string]string{}
	for _, a := range args {
		if k, v, ok := strings.Cut(a, "="); ok {
			kv[k] = v
		}
	}
	return kv
}

func (p *portproxy) attach(host *testutil.FakeRunner) {
	host.On("portproxy show v4tov4", func(string, []string) (*local.ExecResult, error) {
		var b strings.Builder
		b.WriteString("\r\nListen on ipv4:             Connect to ipv4:\r\n\r\n")
		b.WriteString("Address         Port        Address         Port\r\n")
		b.WriteString("--------------- ----------  --------------- ----------\r\n")
		for _, r := range p.rules {
			fmt.Fprintf(&b, "%-15s %-11d %-15s %d\r\n", r.ListenAddress, r.ListenPort, r.ConnectAddress, r.ConnectPort)
		}
		return &local.ExecResult{Stdout: b.String()}, nil
	})
	host.On("portproxy delete", func(_ string, args []string) (*local.ExecResult, error) {
		kv := netshArgs(args)
		kept := p.rules[:0]
		found := false
		for _, r := range p.rules {
			if r.ListenAddress == kv["listenaddress"] && strconv.Itoa(r.ListenPort) == kv["listenport"] {
				found = true
				continue
			}
			kept = append(kept, r)
		}
		p.rules = kept
		if !found {
			return &local.ExecResult{Stdout: "The system cannot find the file specified.", ExitCode: 1}, nil
		}
		return &local.ExecResult{}, nil
	})
	host.On("portproxy add", func(_ string, args []string) (*local.ExecResult, error) {
		kv := netshArgs(args)
		listenPort, _ := strconv.Atoi(kv["listenport"])
		connectPort, _ := strconv.Atoi(kv["connectport"])
		p.rules = append(p.rules, forwardingRule{
			ListenAddress:  kv["listenaddress"],
			ListenPort:     listenPort,
			ConnectAddress: kv["connectaddress"],
			ConnectPort:    connectPort,
		})
		return &local.ExecResult{}, nil
	})
}

func (p *portproxy) onPort(port int) []forwardingRule {
	var out []forwardingRule
	for _, r := range p.rules {
		if r.ListenPort == port {
			out = append(out, r)
		}
	}
	return out
}

func TestConfigureForwardingReplacesRule(t *testing.T) {
	exec := testutil.NewFakeExecutor()
	host := testutil.NewFakeRunner()
	proxy := &portproxy{}
	proxy.attach(host)
	c := newConfigurator(exec, host, nil, Options{})

	exec.OnOutput("hostname -I", "172.20.1.5")
	_, err := c.ConfigureForwarding(context.Background(), 2222, "dev", "0.0.0.0", 22)
	require.NoError(t, err)

	exec.OnOutput("hostname -I", "172.20.9.9")
	addr, err := c.ConfigureForwarding(context.Background(), 2222, "dev", "0.0.0.0", 22)
	require.NoError(t, err)
	assert.Equal(t, "172.20.9.9", addr)

	require.Len(t, proxy.rules, 1)
	assert.Equal(t, forwardingRule{
		ListenAddress:  "0.0.0.0",
		ListenPort:     2222,
		ConnectAddress: "172.20.9.9",
		ConnectPort:    22,
	}, proxy.rules[0])
}

func TestConfigureForwardingListenAddressChange(t *testing.T) {
	exec := testutil.NewFakeExecutor()
	host := testutil.NewFakeRunner()
	proxy := &portproxy{rules: []forwardingRule{
		{ListenAddress: "0.0.0.0", ListenPort: 8080, ConnectAddress: "172.20.0.2", ConnectPort: 80},
	}}
	proxy.attach(host)
	c := newConfigurator(exec, host, nil, Options{})

	exec.OnOutput("hostname -I", "172.20.1.5")
	_, err := c.ConfigureForwarding(context.Background(), 2222, "dev", "127.0.0.1", 22)
	require.NoError(t, err)

	exec.OnOutput("hostname -I", "172.20.9.9")
	_, err = c.ConfigureForwarding(context.Background(), 2222, "dev", "0.0.0.0", 22)
	require.NoError(t, err)

	rules := proxy.onPort(2222)
	require.Len(t, rules, 1)
	assert.Equal(t, "0.0.0.0", rules[0].ListenAddress)
	assert.Equal(t, "172.20.9.9", rules[0].ConnectAddress)
	assert.Len(t, proxy.onPort(8080), 1)
	assert.Equal(t, 1, host.Count("delete v4tov4 listenport=2222 listenaddress=127.0.0.1"))
}

func TestParsePortProxy(t *testing.T) {
	out := "\r\nListen on ipv4:             Connect to ipv4:\r\n\r\n" +
		"Address         Port        Address         Port\r\n" +
		"--------------- ----------  --------------- ----------\r\n" +
		"0.0.0.0         2222        172.20.1.5      22\r\n" +
		"127.0.0.1       2222        172.20.1.6      2022\r\n"

	assert.Equal(t, []forwardingRule{
		{ListenAddress: "0.0.0.0", ListenPort: 2222, ConnectAddress: "172.20.1.5", ConnectPort: 22},
		{ListenAddress: "127.0.0.1", ListenPort: 2222, ConnectAddress: "172.20.1.6", ConnectPort: 2022},
	}, parsePortProxy(out))
	assert.Empty(t, parsePortProxy(""))
}

func TestConfigureForwardingAddFailure(t *testing.T) {
	exec := testutil.NewFakeExecutor()
	exec.OnOutput("hostname -I", "172.20.1.5")
	host := testutil.NewFakeRunner()
	host.OnExit("portproxy add", 1, "The requested operation requires elevation.")
	c := newConfigurator(exec, host, nil, Options{})

	_, err := c.ConfigureForwarding(context.Background(), 2222, "dev", "0.0.0.0", 22)
	require.Error(t, err)
	assert.True(t, guest.IsRecoverable(err))
}

func TestConfigureFirewallAdmission(t *testing.T) {
	t.Run("creates when absent", func(t *testing.T) {
		host := testutil.NewFakeRunner()
		c := newConfigurator(testutil.NewFakeExecutor(), host, nil, Options{})

		rule, err := c.ConfigureFirewallAdmission(context.Background(), 2222, "dev")
		require.NoError(t, err)
		assert.Equal(t, "WSL dev SSH 2222", rule)
		assert.Equal(t, 1, host.Count("New-NetFirewallRule -DisplayName 'WSL dev SSH 2222'"))
	})

	t.Run("skips when present", func(t *testing.T) {
		host := testutil.NewFakeRunner()
		host.OnExit("Get-NetFirewallRule", 0, "present\r\n")
		c := newConfigurator(testutil.NewFakeExecutor(), host, nil, Options{})

		_, err := c.ConfigureFirewallAdmission(context.Background(), 2222, "dev")
		require.NoError(t, err)
		assert.Equal(t, 0, host.Count("New-NetFirewallRule"))
	})
}

func TestConfigure(t *testing.T) {
	t.Run("service inactive and declined", func(t *testing.T) {
		exec := testutil.NewFakeExecutor()
		exec.OnExit("systemctl is-active", 3, "")
		host := testutil.NewFakeRunner()
		prompter := &testutil.FakePrompter{Confirms: []bool{false}}
		c := newConfigurator(exec, host, prompter, Options{})

		res := c.Configure(context.Background(), "dev")
		require.Len(t, res.Warnings, 1)
		assert.False(t, res.Config.ForwardingSet)
		assert.Empty(t, host.Lines())
		assert.Equal(t, 0, exec.Count("enable --now"))
		assert.Len(t, prompter.Asked, 1)
	})

	t.Run("service started on request", func(t *testing.T) {
		exec := testutil.NewFakeExecutor()
		started := false
		exec.On("systemctl is-active", func(testutil.Call) (*wsl.Result, error) {
			if started {
				return testutil.OK(""), nil
			}
			return testutil.Exit(3, ""), nil
		})
		exec.On("systemctl enable --now", func(testutil.Call) (*wsl.Result, error) {
			started = true
			return testutil.OK(""), nil
		})
		exec.OnOutput("hostname -I", "172.20.1.5")
		host := testutil.NewFakeRunner()
		c := newConfigurator(exec, host, &testutil.FakePrompter{Confirms: []bool{true}}, Options{HostPort: 2022})

		res := c.Configure(context.Background(), "dev")
		assert.Empty(t, res.Warnings)
		assert.True(t, res.Config.ForwardingSet)
		assert.Equal(t, "172.20.1.5", res.Config.GuestAddress)
		assert.Equal(t, 22, res.Config.GuestPort)
		assert.Equal(t, 2022, res.Config.HostPort)
		assert.Equal(t, "WSL dev SSH 2022", res.Config.FirewallRule)
	})

	t.Run("firewall failure is a warning", func(t *testing.T) {
		exec := testutil.NewFakeExecutor()
		exec.OnOutput("hostname -I", "172.20.1.5")
		host := testutil.NewFakeRunner()
		host.OnExit("New-NetFirewallRule", 1, "")
		c := newConfigurator(exec, host, nil, Options{})

		res := c.Configure(context.Background(), "dev")
		require.Len(t, res.Warnings, 1)
		assert.True(t, res.Config.ForwardingSet)
		assert.Empty(t, res.Config.FirewallRule)
	})
}

func TestConfigureVerifiesLogin(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "id")

	newKeyedConfigurator := func(login ssh.LoginChecker) *Configurator {
		exec := testutil.NewFakeExecutor()
		exec.OnOutput("hostname -I", "172.20.1.5")
		exec.OnOutput("getent passwd", "/home/dev")
		testutil.NewGuestFiles().Attach(exec)
		c := newConfigurator(exec, testutil.NewFakeRunner(), nil, Options{
			Username:    "dev",
			KeyPath:     keyPath,
			VerifyLogin: true,
		})
		c.login = login
		return c
	}

	t.Run("login succeeds", func(t *testing.T) {
		var got *ssh.Config
		c := newKeyedConfigurator(func(_ context.Context, cfg *ssh.Config) (*ssh.LoginResult, error) {
			got = cfg
			return &ssh.LoginResult{Address: cfg.Address(), User: cfg.User, HostKeyFingerprint: "SHA256:abc"}, nil
		})

		res := c.Configure(context.Background(), "dev")
		assert.Empty(t, res.Warnings)
		assert.True(t, res.Config.LoginVerified)
		assert.Equal(t, "SHA256:abc", res.Config.HostKeyFingerprint)

		require.NotNil(t, got)
		assert.Equal(t, "127.0.0.1:2222", got.Address())
		assert.Equal(t, "dev", got.User)
		assert.Equal(t, keyPath, got.PrivateKeyPath)
	})

	t.Run("login failure is a warning", func(t *testing.T) {
		c := newKeyedConfigurator(func(context.Context, *ssh.Config) (*ssh.LoginResult, error) {
			return nil, &ssh.TransportError{Op: "connect", Err: errors.New("connection refused"), IsTemporary: true}
		})

		res := c.Configure(context.Background(), "dev")
		require.Len(t, res.Warnings, 1)
		assert.True(t, guest.IsRecoverable(res.Warnings[0]))
		assert.Contains(t, res.Warnings[0].Error(), "could not log in as dev")
		assert.True(t, res.Config.ForwardingSet)
		assert.False(t, res.Config.LoginVerified)
	})

	t.Run("known_hosts enables strict checking", func(t *testing.T) {
		var got *ssh.Config
		c := newKeyedConfigurator(func(_ context.Context, cfg *ssh.Config) (*ssh.LoginResult, error) {
			got = cfg
			return &ssh.LoginResult{Address: cfg.Address(), User: cfg.User}, nil
		})
		c.opts.KnownHostsPath = "/home/dev/.ssh/known_hosts"

		res := c.Configure(context.Background(), "dev")
		assert.Empty(t, res.Warnings)
		require.NotNil(t, got)
		assert.True(t, got.StrictHostKeyChecking)
		assert.Equal(t, "/home/dev/.ssh/known_hosts", got.KnownHostsPath)
	})

	t.Run("host keys unchecked without known_hosts", func(t *testing.T) {
		var got *ssh.Config
		c := newKeyedConfigurator(func(_ context.Context, cfg *ssh.Config) (*ssh.LoginResult, error) {
			got = cfg
			return &ssh.LoginResult{Address: cfg.Address(), User: cfg.User}, nil
		})

		c.Configure(context.Background(), "dev")
		require.NotNil(t, got)
		assert.False(t, got.StrictHostKeyChecking)
		assert.Empty(t, got.KnownHostsPath)
	})

	t.Run("not verified unless asked", func(t *testing.T) {
		called := false
		c := newKeyedConfigurator(func(context.Context, *ssh.Config) (*ssh.LoginResult, error) {
			called = true
			return &ssh.LoginResult{}, nil
		})
		c.opts.VerifyLogin = false

		res := c.Configure(context.Background(), "dev")
		assert.Empty(t, res.Warnings)
		assert.False(t, called)
		assert.False(t, res.Config.LoginVerified)
	})
}

func TestEnsureKeyPair(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "wslprov_ed25519")

	first, err := EnsureKeyPair(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first, "ssh-ed25519 "))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	second, err := EnsureKeyPair(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	signer, err := sshpkg.ParsePrivateKey(raw)
	require.NoError(t, err)
	assert.Equal(t, first, strings.TrimSpace(string(sshpkg.MarshalAuthorizedKey(signer.PublicKey()))))
}

func TestInstallAuthorizedKeyNoDuplicates(t *testing.T) {
	key, err := EnsureKeyPair(filepath.Join(t.TempDir(), "id"))
	require.NoError(t, err)

	exec := testutil.NewFakeExecutor()
	exec.OnOutput("getent passwd", "/home/alice")
	files := testutil.NewGuestFiles()
	files.Attach(exec)
	files.Set("/home/alice/.ssh/authorized_keys", "# existing\n")

	changed, err := InstallAuthorizedKey(context.Background(), exec, "dev", "alice", key)
	require.NoError(t, err)
	assert.True(t, changed)

	// same key material with a different comment is still a duplicate
	fields := strings.Fields(key)
	changed, err = InstallAuthorizedKey(context.Background(), exec, "dev", "alice", fields[0]+" "+fields[1]+" other@host")
	require.NoError(t, err)
	assert.False(t, changed)

	content, _ := files.Get("/home/alice/.ssh/authorized_keys")
	assert.Equal(t, 1, strings.Count(content, fields[1]))
	assert.True(t, strings.HasPrefix(content, "# existing\n"))
	assert.Equal(t, 1, files.Writes("/home/alice/.ssh/authorized_keys"))
}
