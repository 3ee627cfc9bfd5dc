package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/tOgg1/jumpshell/internal/models"
)

// ResolveSecret resolves a credential reference. "env:NAME" reads an
// environment variable, "file:PATH" reads a file (trailing newline trimmed),
// anything else is returned as is.
func ResolveSecret(ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, "env:"):
		name := strings.TrimPrefix(ref, "env:")
		value, ok := os.LookupEnv(name)
		if !ok {
			return "", fmt.Errorf("environment variable %s is not set", name)
		}
		return value, nil
	case strings.HasPrefix(ref, "file:"):
		path := expandTilde(strings.TrimPrefix(ref, "file:"))
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read secret file: %w", err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	default:
		return ref, nil
	}
}

// Profile returns a named profile with its secrets resolved.
func (c *Config) Profile(name string) (models.AuthProfile, error) {
	for _, p := range c.Authentication.Profiles {
		if p.Name != name {
			continue
		}
		password, err := ResolveSecret(p.Password)
		if err != nil {
			return models.AuthProfile{}, fmt.Errorf("profile %q password: %w", name, err)
		}
		privilege, err := ResolveSecret(p.PrivilegePassword)
		if err != nil {
			return models.AuthProfile{}, fmt.Errorf("profile %q privilege password: %w", name, err)
		}
		return models.AuthProfile{
			Name:              p.Name,
			Username:          p.Username,
			Password:          password,
			PrivilegeCommand:  p.PrivilegeCommand,
			PrivilegePassword: privilege,
		}, nil
	}
	return models.AuthProfile{}, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
}

// ResolveAuth resolves profile names to an ordered list of credentials.
func (c *Config) ResolveAuth(names []string) ([]models.AuthProfile, error) {
	out := make([]models.AuthProfile, 0, len(names))
	for _, name := range names {
		p, err := c.Profile(name)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// JumpHost resolves a configured jump host by name (or host when unnamed).
func (c *Config) JumpHost(name string) (*models.JumpHost, error) {
	for _, h := range c.JumpHosts.Hosts {
		if h.Name != name && !(h.Name == "" && h.Host == name) {
			continue
		}
		auth, err := c.ResolveAuth(h.Authentication)
		if err != nil {
			return nil, fmt.Errorf("jump host %q: %w", name, err)
		}
		maxSessions := h.MaxConnections
		if maxSessions <= 0 {
			maxSessions = c.JumpHosts.Defaults.MaxConnections
		}
		port := h.Port
		if port == 0 {
			port = models.DefaultSSHPort
		}
		return &models.JumpHost{
			Name:        h.Name,
			Host:        h.Host,
			Port:        port,
			Description: h.Description,
			Auth:        auth,
			MaxSessions: maxSessions,
			Timeouts:    c.JumpHostTimeouts(),
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownJumpHost, name)
}
