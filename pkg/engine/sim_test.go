package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/openfroyo/wslprov/internal/testutil"
	"github.com/openfroyo/wslprov/pkg/config"
	"github.com/openfroyo/wslprov/pkg/dotfiles"
	"github.com/openfroyo/wslprov/pkg/lifecycle"
	"github.com/openfroyo/wslprov/pkg/transports/wsl"
)

const sudoersFile = "/etc/sudoers.d/10-wheel-nopasswd"

// guestSim models just enough of a WSL host and an Arch guest to drive the
// real components through a FakeExecutor.
type guestSim struct {
	mu sync.Mutex

	registered map[string]bool
	users      map[string]bool
	keyring    bool
	installed  map[string]bool
	failing    map[string]bool

	// boots counts terminations; sudoers takes effect on the boot after
	// it was written unless sudoImmediate is set.
	boots          int
	sudoersWritten bool
	sudoersBoot    int
	sudoImmediate  bool

	// neverReady keeps readiness probes failing.
	neverReady bool

	// image lists packages a fresh install starts with.
	image []string

	files *testutil.GuestFiles
	exec  *testutil.FakeExecutor
}

func newGuestSim() *guestSim {
	s := &guestSim{
		registered: map[string]bool{},
		users:      map[string]bool{},
		installed:  map[string]bool{},
		failing:    map[string]bool{},
		image:      []string{"pacman"},
		files:      testutil.NewGuestFiles(),
		exec:       testutil.NewFakeExecutor(),
	}
	s.attach()
	return s
}

// converged returns a sim holding a fully provisioned "dev" environment.
func convergedSim(packages ...string) *guestSim {
	s := newGuestSim()
	s.registered["dev"] = true
	s.users["dev"] = true
	s.keyring = true
	s.sudoersWritten = true
	s.sudoersBoot = -1
	for _, p := range packages {
		s.installed[p] = true
	}
	s.files.Set(sudoersFile, "# Managed by wslprov\n%wheel ALL=(ALL:ALL) NOPASSWD: ALL\n")
	s.files.Set("/etc/wsl.conf", "[boot]\nsystemd = true\n\n[user]\ndefault = dev\n")
	return s
}

func (s *guestSim) lockedDo(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

func lastQuoted(command string) string {
	fields := strings.Fields(command)
	return strings.Trim(fields[len(fields)-1], "'")
}

func (s *guestSim) attach() {
	e := s.exec

	e.On("--list --quiet", func(testutil.Call) (*wsl.Result, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		var names []string
		for name := range s.registered {
			names = append(names, name)
		}
		return testutil.OK(strings.Join(names, "\n")), nil
	})
	e.On("--install", func(call testutil.Call) (*wsl.Result, error) {
		fields := strings.Fields(call.Command)
		s.lockedDo(func() {
			for i, f := range fields {
				if f == "--name" && i+1 < len(fields) {
					s.registered[fields[i+1]] = true
				}
			}
			s.users = map[string]bool{}
			s.keyring = false
			s.sudoersWritten = false
			s.installed = map[string]bool{}
			for _, p := range s.image {
				s.installed[p] = true
			}
		})
		return testutil.OK(""), nil
	})
	e.On("--unregister", func(call testutil.Call) (*wsl.Result, error) {
		s.lockedDo(func() { delete(s.registered, lastQuoted(call.Command)) })
		return testutil.OK(""), nil
	})
	e.On("--terminate", func(testutil.Call) (*wsl.Result, error) {
		s.lockedDo(func() { s.boots++ })
		return testutil.OK(""), nil
	})
	e.On("--exec echo ready", func(call testutil.Call) (*wsl.Result, error) {
		fields := strings.Fields(call.Command)
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.neverReady || len(fields) < 2 || !s.registered[fields[1]] {
			return testutil.Exit(1, "There is no distribution with the supplied name."), nil
		}
		return testutil.OK("ready"), nil
	})
	e.On("echo shell-ok", func(call testutil.Call) (*wsl.Result, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.neverReady || !s.registered[call.Distro] {
			return testutil.Exit(1, ""), nil
		}
		return testutil.OK("shell-ok"), nil
	})

	e.On("id -u", func(call testutil.Call) (*wsl.Result, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.users[lastQuoted(call.Command)] {
			return testutil.OK("1000"), nil
		}
		return testutil.Exit(1, "id: no such user"), nil
	})
	e.On("useradd", func(call testutil.Call) (*wsl.Result, error) {
		s.lockedDo(func() { s.users[lastQuoted(call.Command)] = true })
		return testutil.OK(""), nil
	})
	e.On("id -nG", func(call testutil.Call) (*wsl.Result, error) {
		return testutil.OK(lastQuoted(call.Command) + " wheel"), nil
	})
	e.On("sudo -n true", func(call testutil.Call) (*wsl.Result, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		ok := s.users[string(call.Identity)] && s.sudoersWritten &&
			(s.sudoImmediate || s.boots > s.sudoersBoot)
		if ok {
			return testutil.OK(""), nil
		}
		return testutil.Exit(1, "sudo: a password is required"), nil
	})

	e.On("pubring", func(testutil.Call) (*wsl.Result, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.keyring {
			return testutil.OK(""), nil
		}
		return testutil.Exit(1, ""), nil
	})
	e.On("pacman-key --init", func(testutil.Call) (*wsl.Result, error) {
		s.lockedDo(func() { s.keyring = true })
		return testutil.OK(""), nil
	})
	e.On("pacman -T", func(call testutil.Call) (*wsl.Result, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		var missing []string
		for _, f := range strings.Fields(call.Command)[2:] {
			name := strings.Trim(f, "'")
			if !s.installed[name] {
				missing = append(missing, name)
			}
		}
		if len(missing) == 0 {
			return testutil.OK(""), nil
		}
		return testutil.Exit(127, strings.Join(missing, "\n")), nil
	})
	e.On("--needed --noconfirm", func(call testutil.Call) (*wsl.Result, error) {
		name := lastQuoted(call.Command)
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.failing[name] {
			return testutil.Exit(1, "error: target not found: "+name), nil
		}
		s.installed[name] = true
		return testutil.OK(""), nil
	})

	// Registered after the generic file handlers so they win for sudoers.
	s.files.Attach(e)
	e.On(sudoersFile+".wslprov-tmp", func(call testutil.Call) (*wsl.Result, error) {
		path, content, ok := testutil.DecodeWrite(call.Command)
		if !ok {
			return testutil.Exit(2, "malformed write"), nil
		}
		s.files.Set(path, content)
		s.lockedDo(func() {
			s.sudoersWritten = true
			s.sudoersBoot = s.boots
		})
		return testutil.OK(""), nil
	})
}

func testConfig() config.WorkflowConfig {
	cfg := config.Default()
	cfg.Name = "dev"
	cfg.Username = "dev"
	cfg.Packages = []string{"sudo", "vim"}
	cfg.NonInteractive = true
	cfg.Wait = config.WaitConfig{MaxAttempts: 3, Delay: time.Second, InitialGrace: time.Second}
	return cfg
}

func noSleep(context.Context, time.Duration) error { return nil }

func components(cfg config.WorkflowConfig, s *guestSim, w *Workflow, prompter *testutil.FakePrompter) Components {
	if prompter == nil {
		prompter = &testutil.FakePrompter{}
	}
	return NewComponents(cfg, s.exec, testutil.NewFakeRunner(), prompter, w.Sink(), lifecycle.WithSleep(noSleep))
}

// fakeDotfiles verifies according to a queue of results.
type fakeDotfiles struct {
	verify     []bool
	bootstraps int
	requests   []dotfiles.Request
}

func (f *fakeDotfiles) Bootstrap(_ context.Context, req dotfiles.Request) error {
	f.bootstraps++
	f.requests = append(f.requests, req)
	return nil
}

func (f *fakeDotfiles) Verify(context.Context, dotfiles.Request) bool {
	if len(f.verify) == 0 {
		return false
	}
	ok := f.verify[0]
	f.verify = f.verify[1:]
	return ok
}
