package transport

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
)

// SSHConfig holds Host blocks parsed from an OpenSSH client config file.
// Only HostName and Port are used; device credentials come from profiles.
type SSHConfig struct {
	blocks []sshConfigBlock
}

type sshConfigBlock struct {
	patterns []string
	hostName string
	port     int
}

// LoadSSHConfig reads and parses an ssh_config file. A missing file yields an
// empty config.
func LoadSSHConfig(file string) (*SSHConfig, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		if os.IsNotExist(err) {
			return &SSHConfig{}, nil
		}
		return nil, fmt.Errorf("failed to read ssh config: %w", err)
	}
	return ParseSSHConfig(data)
}

// ParseSSHConfig parses ssh_config content.
func ParseSSHConfig(data []byte) (*SSHConfig, error) {
	cfg := &SSHConfig{}
	var current *sshConfigBlock

	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		key, value, ok := splitConfigLine(scanner.Text())
		if !ok {
			continue
		}
		switch key {
		case "host":
			cfg.blocks = append(cfg.blocks, sshConfigBlock{patterns: strings.Fields(value)})
			current = &cfg.blocks[len(cfg.blocks)-1]
		case "match":
			// Match blocks are not evaluated; their options are skipped.
			current = nil
		case "hostname":
			if current != nil && current.hostName == "" {
				current.hostName = value
			}
		case "port":
			if current != nil && current.port == 0 {
				port, err := strconv.Atoi(value)
				if err != nil || port < 1 || port > 65535 {
					return nil, fmt.Errorf("ssh config line %d: invalid port %q", lineNo, value)
				}
				current.port = port
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// splitConfigLine splits "Key value", "Key=value" and tab separated forms.
func splitConfigLine(line string) (string, string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	idx := strings.IndexAny(line, " \t=")
	if idx < 0 {
		return "", "", false
	}
	key := strings.ToLower(line[:idx])
	value := strings.TrimSpace(strings.TrimLeft(line[idx:], " \t="))
	value = strings.Trim(value, `"`)
	if value == "" {
		return "", "", false
	}
	return key, value, true
}

// Resolve returns the HostName and Port for alias. The first value found in
// file order wins, as in OpenSSH. Empty/zero results mean "unchanged".
func (c *SSHConfig) Resolve(alias string) (string, int) {
	if c == nil {
		return "", 0
	}
	var host string
	var port int
	for _, b := range c.blocks {
		if !b.matches(alias) {
			continue
		}
		if host == "" && b.hostName != "" {
			host = strings.ReplaceAll(b.hostName, "%h", alias)
		}
		if port == 0 && b.port != 0 {
			port = b.port
		}
	}
	return host, port
}

func (b sshConfigBlock) matches(host string) bool {
	matched := false
	for _, p := range b.patterns {
		negate := strings.HasPrefix(p, "!")
		p = strings.TrimPrefix(p, "!")
		ok, err := path.Match(p, host)
		if err != nil || !ok {
			continue
		}
		if negate {
			return false
		}
		matched = true
	}
	return matched
}
