package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/jumpshell/internal/identify"
)

const sampleConfig = `
devices:
  defaults:
    connection_timeout: 5s
    retries: 3
    max_direct_connections: 4
jump_hosts:
  defaults:
    max_connections: 6
  hosts:
    - name: ams-jump
      host: 10.1.0.10
      description: Amsterdam bastion
      authentication: [ops]
    - host: 10.2.0.10
      port: 2222
      max_connections: 2
      authentication: [ops, fallback]
authentication:
  profiles:
    - name: ops
      username: netops
      password: env:JUMPSHELL_TEST_PASSWORD
      privilege_command: enable
    - name: fallback
      username: admin
      password: admin
prompts:
  rules:
    - name: opengear
      pattern: '^(([\w.-]+)#\s*)$'
      fields: [prompt, hostname]
      vendor: opengear
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 10*time.Second, cfg.Devices.Defaults.ConnectionTimeout)
	require.Equal(t, 180*time.Second, cfg.Devices.Defaults.SessionTimeout)
	require.Equal(t, 2, cfg.Devices.Defaults.Retries)
	require.Equal(t, 15*time.Second, cfg.Devices.Defaults.RetryInterval)
	require.Equal(t, 10, cfg.JumpHosts.Defaults.MaxConnections)
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("JUMPSHELL_TEST_PASSWORD", "s3cret")
	path := writeConfig(t, sampleConfig)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, cfg.Devices.Defaults.ConnectionTimeout)
	require.Equal(t, 180*time.Second, cfg.Devices.Defaults.SessionTimeout)
	require.Equal(t, 3, cfg.Devices.Defaults.Retries)
	require.Equal(t, 4, cfg.Devices.Defaults.MaxDirectConnections)
	require.Len(t, cfg.JumpHosts.Hosts, 2)
	require.Len(t, cfg.Prompts.Rules, 1)

	auth, err := cfg.ResolveAuth([]string{"ops", "fallback"})
	require.NoError(t, err)
	require.Equal(t, "netops", auth[0].Username)
	require.Equal(t, "s3cret", auth[0].Password)
	require.Equal(t, "enable", auth[0].PrivilegeCommand)
	require.Equal(t, "admin", auth[1].Password)

	jump, err := cfg.JumpHost("ams-jump")
	require.NoError(t, err)
	require.Equal(t, 22, jump.Port)
	require.Equal(t, 6, jump.MaxSessions)
	require.Equal(t, "Amsterdam bastion", jump.Description)

	jump, err = cfg.JumpHost("10.2.0.10")
	require.NoError(t, err)
	require.Equal(t, 2222, jump.Port)
	require.Equal(t, 2, jump.MaxSessions)
	require.Len(t, jump.Auth, 2)

	_, err = cfg.JumpHost("nope")
	require.ErrorIs(t, err, ErrUnknownJumpHost)

	_, err = cfg.ResolveAuth([]string{"missing"})
	require.ErrorIs(t, err, ErrUnknownProfile)

	rs, err := cfg.Ruleset()
	require.NoError(t, err)
	m, ok := rs.Prompt("og-cm7100#")
	require.True(t, ok)
	require.Equal(t, "opengear", m.Rule.Name)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("JUMPSHELL_LOGGING_LEVEL", "debug")
	t.Setenv("JUMPSHELL_DEVICES_DEFAULTS_SOCKS_PROXY", "127.0.0.1:1080")
	path := writeConfig(t, "logging:\n  level: warn\n")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "127.0.0.1:1080", cfg.Devices.Defaults.SocksProxy)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero retries", func(c *Config) { c.Devices.Defaults.Retries = 0 }},
		{"zero direct pool", func(c *Config) { c.Devices.Defaults.MaxDirectConnections = 0 }},
		{"profile without username", func(c *Config) {
			c.Authentication.Profiles = []AuthProfileConfig{{Name: "x"}}
		}},
		{"duplicate profile", func(c *Config) {
			c.Authentication.Profiles = []AuthProfileConfig{{Name: "x", Username: "a"}, {Name: "x", Username: "b"}}
		}},
		{"jump host unknown profile", func(c *Config) {
			c.JumpHosts.Hosts = []JumpHostConfig{{Host: "j", Authentication: []string{"nope"}}}
		}},
		{"bad prompt rule", func(c *Config) {
			c.Prompts.Rules = []identify.RuleSpec{{Name: "bad", Pattern: "("}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestResolveSecret(t *testing.T) {
	t.Setenv("JUMPSHELL_SECRET_X", "from-env")
	v, err := ResolveSecret("env:JUMPSHELL_SECRET_X")
	require.NoError(t, err)
	require.Equal(t, "from-env", v)

	_, err = ResolveSecret("env:JUMPSHELL_SECRET_UNSET_42")
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "pw")
	require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0o600))
	v, err = ResolveSecret("file:" + path)
	require.NoError(t, err)
	require.Equal(t, "from-file", v)

	v, err = ResolveSecret("literal")
	require.NoError(t, err)
	require.Equal(t, "literal", v)
}

func TestDatabasePath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Global.DataDir = "/data"
	require.Equal(t, "/data/jumpshell.db", cfg.DatabasePath())
	cfg.Database.Path = "/elsewhere.db"
	require.Equal(t, "/elsewhere.db", cfg.DatabasePath())
}

func TestLoadHooks(t *testing.T) {
	path := writeConfig(t, `
hooks:
  - name: page
    events: [task.failed, jump_host.failed]
    command: ./page-oncall.sh
    timeout: 5s
`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Len(t, cfg.Hooks, 1)
	require.Equal(t, []string{"task.failed", "jump_host.failed"}, cfg.Hooks[0].Events)
	require.Equal(t, 5*time.Second, cfg.Hooks[0].Timeout)

	cfg.Hooks = append(cfg.Hooks, HookConfig{Name: "broken"})
	require.Error(t, cfg.Validate())
}

func TestDatabaseRetrySettings(t *testing.T) {
	t.Setenv("JUMPSHELL_DATABASE_RETRY_ATTEMPTS", "6")
	path := writeConfig(t, "database:\n  busy_timeout_ms: 750\n  retry_backoff: 20ms\n")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, 750, cfg.Database.BusyTimeoutMs)
	require.Equal(t, 6, cfg.Database.RetryAttempts)
	require.Equal(t, 20*time.Millisecond, cfg.Database.RetryBackoff)
	require.Equal(t, time.Second, cfg.Database.RetryMaxBackoff)

	cfg.Database.RetryAttempts = 0
	require.ErrorContains(t, cfg.Validate(), "database.retry_attempts")
}
