package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// testSSHServer is a minimal SSH server that accepts one key.
type testSSHServer struct {
	listener net.Listener
	config   *ssh.ServerConfig
	hostKey  ssh.PublicKey
	whoami   string
	done     chan struct{}
}

func newTestSSHServer(t *testing.T, authorized ssh.PublicKey, whoami string) *testSSHServer {
	t.Helper()

	hostSigner := generateSigner(t)
	config := &ssh.ServerConfig{
		PublicKeyCallback: func(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if string(key.Marshal()) == string(authorized.Marshal()) {
				return nil, nil
			}
			return nil, fmt.Errorf("unknown key for %s", c.User())
		},
	}
	config.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	s := &testSSHServer{
		listener: listener,
		config:   config,
		hostKey:  hostSigner.PublicKey(),
		whoami:   whoami,
		done:     make(chan struct{}),
	}
	go s.serve()
	t.Cleanup(s.close)
	return s
}

func (s *testSSHServer) port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

func (s *testSSHServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				continue
			}
		}
		go s.handleConnection(conn)
	}
}

func (s *testSSHServer) handleConnection(netConn net.Conn) {
	defer netConn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go s.handleChannel(channel, requests)
	}
}

func (s *testSSHServer) handleChannel(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()

	for req := range requests {
		if req.Type != "exec" {
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
			continue
		}

		command := string(req.Payload[4:])
		if req.WantReply {
			_ = req.Reply(true, nil)
		}

		switch command {
		case "whoami":
			_, _ = channel.Write([]byte(s.whoami + "\n"))
			_, _ = channel.SendRequest("exit-status", false, []byte{0, 0, 0, 0})
		case "exit 1":
			_, _ = channel.Stderr().Write([]byte("boom\n"))
			_, _ = channel.SendRequest("exit-status", false, []byte{0, 0, 0, 1})
		default:
			_, _ = channel.SendRequest("exit-status", false, []byte{0, 0, 0, 127})
		}
		return
	}
}

func (s *testSSHServer) close() {
	close(s.done)
	_ = s.listener.Close()
}

func generateSigner(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	return signer
}

// writeClientKey writes a fresh private key and returns its path and
// public half.
func writeClientKey(t *testing.T) (string, ssh.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "test")
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("failed to convert key: %v", err)
	}
	return path, sshPub
}

func TestConfigValidation(t *testing.T) {
	keyPath, _ := writeClientKey(t)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing host", mutate: func(c *Config) { c.Host = "" }, wantErr: "host is required"},
		{name: "bad port", mutate: func(c *Config) { c.Port = 70000 }, wantErr: "invalid port"},
		{name: "missing user", mutate: func(c *Config) { c.User = "" }, wantErr: "user is required"},
		{name: "missing key", mutate: func(c *Config) { c.PrivateKeyPath = "" }, wantErr: "private key path is required"},
		{name: "absent key", mutate: func(c *Config) { c.PrivateKeyPath = keyPath + ".gone" }, wantErr: "private key file not found"},
		{name: "strict without known_hosts", mutate: func(c *Config) { c.StrictHostKeyChecking = true }, wantErr: "known_hosts"},
		{name: "zero timeout", mutate: func(c *Config) { c.ConnectionTimeout = 0 }, wantErr: "connection timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("127.0.0.1", 2222, "dev")
			cfg.PrivateKeyPath = keyPath
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfigAddress(t *testing.T) {
	cfg := DefaultConfig("127.0.0.1", 2222, "dev")
	if got := cfg.Address(); got != "127.0.0.1:2222" {
		t.Errorf("Address() = %s", got)
	}
}

func TestCheckLogin(t *testing.T) {
	keyPath, pub := writeClientKey(t)
	server := newTestSSHServer(t, pub, "dev")

	cfg := DefaultConfig("127.0.0.1", server.port(), "dev")
	cfg.PrivateKeyPath = keyPath

	res, err := CheckLogin(context.Background(), cfg)
	if err != nil {
		t.Fatalf("CheckLogin failed: %v", err)
	}
	if res.User != "dev" {
		t.Errorf("User = %s", res.User)
	}
	if res.Address != "127.0.0.1:"+strconv.Itoa(server.port()) {
		t.Errorf("Address = %s", res.Address)
	}
	if res.HostKeyFingerprint != ssh.FingerprintSHA256(server.hostKey) {
		t.Errorf("HostKeyFingerprint = %s", res.HostKeyFingerprint)
	}
}

func TestCheckLoginKnownHosts(t *testing.T) {
	keyPath, pub := writeClientKey(t)
	server := newTestSSHServer(t, pub, "dev")

	writeKnownHosts := func(key ssh.PublicKey) string {
		path := filepath.Join(t.TempDir(), "known_hosts")
		line := knownhosts.Line([]string{"127.0.0.1:" + strconv.Itoa(server.port())}, key)
		if err := os.WriteFile(path, []byte(line+"\n"), 0600); err != nil {
			t.Fatalf("failed to write known_hosts: %v", err)
		}
		return path
	}

	t.Run("listed host key", func(t *testing.T) {
		cfg := DefaultConfig("127.0.0.1", server.port(), "dev")
		cfg.PrivateKeyPath = keyPath
		cfg.KnownHostsPath = writeKnownHosts(server.hostKey)
		cfg.StrictHostKeyChecking = true

		if _, err := CheckLogin(context.Background(), cfg); err != nil {
			t.Fatalf("CheckLogin failed: %v", err)
		}
	})

	t.Run("changed host key", func(t *testing.T) {
		cfg := DefaultConfig("127.0.0.1", server.port(), "dev")
		cfg.PrivateKeyPath = keyPath
		cfg.KnownHostsPath = writeKnownHosts(generateSigner(t).PublicKey())
		cfg.StrictHostKeyChecking = true

		if _, err := CheckLogin(context.Background(), cfg); err == nil {
			t.Fatal("expected host key mismatch")
		}
	})
}

func TestCheckLoginWrongUser(t *testing.T) {
	keyPath, pub := writeClientKey(t)
	server := newTestSSHServer(t, pub, "root")

	cfg := DefaultConfig("127.0.0.1", server.port(), "dev")
	cfg.PrivateKeyPath = keyPath

	_, err := CheckLogin(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), `expected "dev"`) {
		t.Fatalf("error = %v", err)
	}
}

func TestCheckLoginRejectedKey(t *testing.T) {
	keyPath, _ := writeClientKey(t)
	_, other := writeClientKey(t)
	server := newTestSSHServer(t, other, "dev")

	cfg := DefaultConfig("127.0.0.1", server.port(), "dev")
	cfg.PrivateKeyPath = keyPath

	_, err := CheckLogin(context.Background(), cfg)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.Op != "connect" || !te.IsAuthError {
		t.Errorf("got %+v", te)
	}
}

func TestCheckLoginUnreachable(t *testing.T) {
	keyPath, _ := writeClientKey(t)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	_ = listener.Close()

	cfg := DefaultConfig("127.0.0.1", port, "dev")
	cfg.PrivateKeyPath = keyPath
	cfg.ConnectionTimeout = time.Second

	_, err = CheckLogin(context.Background(), cfg)
	var te *TransportError
	if !errors.As(err, &te) || !te.IsTemporary {
		t.Fatalf("expected temporary TransportError, got %v", err)
	}
}

func TestRunExitCode(t *testing.T) {
	keyPath, pub := writeClientKey(t)
	server := newTestSSHServer(t, pub, "dev")

	cfg := DefaultConfig("127.0.0.1", server.port(), "dev")
	cfg.PrivateKeyPath = keyPath

	client, err := Dial(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	_, err = client.Run(context.Background(), "exit 1")
	if err == nil || !strings.Contains(err.Error(), "exited with code 1") {
		t.Fatalf("error = %v", err)
	}
}
