package testutil

import (
	"encoding/base64"
	"regexp"
	"sync"

	"github.com/openfroyo/wslprov/pkg/transports/wsl"
)

var (
	writePattern = regexp.MustCompile(`printf '%s' '([A-Za-z0-9+/=]*)' \| base64 -d > '([^']+)\.wslprov-tmp'`)
	readPattern  = regexp.MustCompile(`^cat '([^']+)' 2>/dev/null \|\| true$`)
)

// DecodeWrite extracts the target path and content from a command built by
// wsl.WriteFileScript.
func DecodeWrite(command string) (path, content string, ok bool) {
	m := writePattern.FindStringSubmatch(command)
	if m == nil {
		return "", "", false
	}
	raw, err := base64.StdEncoding.DecodeString(m[1])
	if err != nil {
		return "", "", false
	}
	return m[2], string(raw), true
}

// GuestFiles simulates files inside a guest for commands built by
// wsl.WriteFileScript and wsl.ReadFileScript.
type GuestFiles struct {
	mu     sync.Mutex
	files  map[string]string
	writes map[string]int
}

// NewGuestFiles creates an empty file set.
func NewGuestFiles() *GuestFiles {
	return &GuestFiles{files: make(map[string]string), writes: make(map[string]int)}
}

// Attach registers read and write handlers on exec.
func (g *GuestFiles) Attach(exec *FakeExecutor) {
	exec.On("base64 -d >", func(call Call) (*wsl.Result, error) {
		path, content, ok := DecodeWrite(call.Command)
		if !ok {
			return Exit(2, "malformed write"), nil
		}
		g.Set(path, content)
		g.mu.Lock()
		g.writes[path]++
		g.mu.Unlock()
		return OK(""), nil
	})
	exec.On("2>/dev/null || true", func(call Call) (*wsl.Result, error) {
		m := readPattern.FindStringSubmatch(call.Command)
		if m == nil {
			return OK(""), nil
		}
		content, _ := g.Get(m[1])
		return OK(content), nil
	})
}

// Set stores content at path.
func (g *GuestFiles) Set(path, content string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.files[path] = content
}

// Get returns the content at path.
func (g *GuestFiles) Get(path string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	content, ok := g.files[path]
	return content, ok
}

// Writes returns how often path was written.
func (g *GuestFiles) Writes(path string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.writes[path]
}
