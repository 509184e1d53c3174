package wsl

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
)

// Quote returns s as a single POSIX shell word.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// WriteFileScript returns a guest command line that atomically replaces path
// with content. The content travels base64 encoded so no quoting of the
// payload is needed. If validate is non-empty it is run with the staged file
// as its last argument and the file is only installed when it exits zero.
func WriteFileScript(path, content string, mode os.FileMode, validate string) string {
	staged := path + ".wslprov-tmp"
	encoded := base64.StdEncoding.EncodeToString([]byte(content))

	var b strings.Builder
	fmt.Fprintf(&b, "printf '%%s' %s | base64 -d > %s", Quote(encoded), Quote(staged))
	fmt.Fprintf(&b, " && chmod %04o %s", uint32(mode.Perm()), Quote(staged))
	if validate != "" {
		fmt.Fprintf(&b, " && { %s %s || { rm -f %s; exit 1; }; }", validate, Quote(staged), Quote(staged))
	}
	fmt.Fprintf(&b, " && mv -f %s %s", Quote(staged), Quote(path))
	return b.String()
}

// ReadFileScript returns a guest command line printing path, or nothing
// when it does not exist.
func ReadFileScript(path string) string {
	return fmt.Sprintf("cat %s 2>/dev/null || true", Quote(path))
}
