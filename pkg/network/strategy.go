package network

import (
	"context"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/openfroyo/wslprov/pkg/transports/wsl"
	"github.com/rs/zerolog/log"
)

// Strategy runs one guest command and extracts a value from its output.
// Extract reports false when the output holds nothing usable.
type Strategy[T any] struct {
	Name    string
	Command string
	Extract func(output string) (T, bool)
}

// firstMatch runs strategies in order and returns the first extracted value.
func firstMatch[T any](ctx context.Context, exec wsl.Executor, name string, strategies []Strategy[T]) (T, string, bool) {
	var zero T
	for _, s := range strategies {
		result, err := exec.Run(ctx, name, wsl.Root, s.Command)
		if err != nil || !result.Succeeded() {
			log.Debug().Err(err).Str("strategy", s.Name).Msg("strategy command failed")
			continue
		}
		if value, ok := s.Extract(result.Output); ok {
			return value, s.Name, true
		}
		log.Debug().Str("strategy", s.Name).Str("output", result.Output).Msg("strategy produced no value")
	}
	return zero, "", false
}

var inetPattern = regexp.MustCompile(`inet (\d{1,3}(?:\.\d{1,3}){3})`)

// AddressStrategies are tried in order by DetectGuestAddress.
var AddressStrategies = []Strategy[string]{
	{
		Name:    "hostname",
		Command: "hostname -I",
		Extract: func(output string) (string, bool) {
			for _, field := range strings.Fields(output) {
				if isIPv4(field) {
					return field, true
				}
			}
			return "", false
		},
	},
	{
		Name:    "interface",
		Command: "ip -4 addr show eth0",
		Extract: extractInet,
	},
	{
		Name:    "global-scope",
		Command: "ip -4 -o addr show scope global",
		Extract: func(output string) (string, bool) {
			for _, line := range strings.Split(output, "\n") {
				fields := strings.Fields(line)
				if len(fields) > 1 && fields[1] == "lo" {
					continue
				}
				if addr, ok := extractInet(line); ok {
					return addr, true
				}
			}
			return "", false
		},
	},
}

func extractInet(output string) (string, bool) {
	for _, m := range inetPattern.FindAllStringSubmatch(output, -1) {
		if isIPv4(m[1]) && !strings.HasPrefix(m[1], "127.") {
			return m[1], true
		}
	}
	return "", false
}

func isIPv4(s string) bool {
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil && !ip.IsLoopback()
}

// DefaultServicePort is used when no strategy finds a port.
const DefaultServicePort = 22

// PortStrategies are tried in order by DetectServicePort.
var PortStrategies = []Strategy[int]{
	{
		Name:    "sshd_config",
		Command: wsl.ReadFileScript("/etc/ssh/sshd_config"),
		Extract: func(output string) (int, bool) {
			return parsePort(parseSSHDConfig(output)["port"])
		},
	},
	{
		Name:    "sshd-effective",
		Command: "sshd -T 2>/dev/null",
		Extract: func(output string) (int, bool) {
			return parsePort(parseSSHDConfig(output)["port"])
		},
	},
	{
		Name:    "listening",
		Command: "ss -Htln 'sport = :" + strconv.Itoa(DefaultServicePort) + "'",
		Extract: func(output string) (int, bool) {
			return DefaultServicePort, strings.TrimSpace(output) != ""
		},
	},
}

// parseSSHDConfig maps lower-cased keywords to their first value, matching
// sshd's first-one-wins rule. Match blocks end the global section.
func parseSSHDConfig(content string) map[string]string {
	config := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		key := strings.ToLower(parts[0])
		if key == "match" {
			break
		}
		if _, seen := config[key]; !seen {
			config[key] = strings.Join(parts[1:], " ")
		}
	}
	return config
}

func parsePort(value string) (int, bool) {
	port, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || port < 1 || port > 65535 {
		return 0, false
	}
	return port, true
}
