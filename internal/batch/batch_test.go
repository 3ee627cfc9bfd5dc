package batch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/jumpshell/internal/config"
	"github.com/tOgg1/jumpshell/internal/models"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Authentication.Profiles = []config.AuthProfileConfig{
		{Name: "ops", Username: "netops", Password: "s3cret", PrivilegeCommand: "enable"},
		{Name: "fallback", Username: "admin", Password: "admin"},
	}
	cfg.JumpHosts.Hosts = []config.JumpHostConfig{
		{Name: "ams-jump", Host: "10.1.0.10", Authentication: []string{"ops"}, MaxConnections: 3},
	}
	cfg.Devices.Defaults.Authentication = []string{"fallback"}
	return cfg
}

const yamlBatch = `
name: weekly-inventory
defaults:
  authentication: [ops]
  jump_host: ams-jump
  commands: [terminal length 0]
  connection_timeout: 20s
  parameters:
    site: ams
tasks:
  - host: sw1.ams
    description: core switch
    commands: [show version]
    parameters:
      rack: r12
  - host: fw1.ams
    port: 2222
    authentication: [fallback, ops]
    jump_host: none
    vendor: Fortinet
    fail_on_first_error: true
    commands: [get system status]
    session_timeout: 2m
`

func TestParseYAML(t *testing.T) {
	b, err := Parse([]byte(yamlBatch), FormatYAML, testConfig())
	require.NoError(t, err)
	require.Equal(t, "weekly-inventory", b.Name)
	require.Len(t, b.Tasks, 2)

	sw := b.Tasks[0]
	require.Equal(t, "sw1.ams", sw.Host)
	require.Equal(t, "core switch", sw.Description)
	require.Equal(t, []string{"terminal length 0", "show version"}, sw.Commands)
	require.Len(t, sw.Auth, 1)
	require.Equal(t, "netops", sw.Auth[0].Username)
	require.Equal(t, "s3cret", sw.Auth[0].Password)
	require.NotNil(t, sw.JumpHost)
	require.Equal(t, "ams-jump", sw.JumpHost.Label())
	require.Equal(t, 3, sw.JumpHost.MaxSessions)
	require.Equal(t, 20*time.Second, sw.Connection)
	require.Equal(t, map[string]string{"site": "ams", "rack": "r12"}, sw.Parameters)
	require.False(t, sw.FailOnFirstError)

	fw := b.Tasks[1]
	require.Nil(t, fw.JumpHost)
	require.Equal(t, 2222, fw.Port)
	require.Equal(t, "fortinet", fw.Vendor)
	require.True(t, fw.FailOnFirstError)
	require.Equal(t, 2*time.Minute, fw.Session)
	require.Equal(t, "admin", fw.Auth[0].Username)
	require.Equal(t, "netops", fw.Auth[1].Username)
}

func TestParseSharesJumpHost(t *testing.T) {
	data := []byte(`
defaults:
  jump_host: ams-jump
tasks:
  - host: a
  - host: b
`)
	b, err := Parse(data, FormatYAML, testConfig())
	require.NoError(t, err)
	require.Same(t, b.Tasks[0].JumpHost, b.Tasks[1].JumpHost)
	require.Equal(t, "admin", b.Tasks[0].Auth[0].Username)
}

const tomlBatch = `
name = "lab"

[defaults]
authentication = ["ops"]
retries = 4
retry_interval = "5s"

[[tasks]]
host = "r1.lab"
commands = ["show version", "show clock"]

[[tasks]]
host = "r2.lab"
jump_host = "ams-jump"
fail_on_first_error = true

[tasks.parameters]
owner = "noc"
`

func TestParseTOML(t *testing.T) {
	b, err := Parse([]byte(tomlBatch), FormatTOML, testConfig())
	require.NoError(t, err)
	require.Equal(t, "lab", b.Name)
	require.Len(t, b.Tasks, 2)

	require.Equal(t, []string{"show version", "show clock"}, b.Tasks[0].Commands)
	require.Equal(t, 4, b.Tasks[0].Retries)
	require.Equal(t, 5*time.Second, b.Tasks[0].RetryInterval)
	require.Nil(t, b.Tasks[0].JumpHost)

	require.NotNil(t, b.Tasks[1].JumpHost)
	require.True(t, b.Tasks[1].FailOnFirstError)
	require.Equal(t, "noc", b.Tasks[1].Parameters["owner"])
}

func TestParseErrors(t *testing.T) {
	cfg := testConfig()
	tests := []struct {
		name   string
		data   string
		target error
	}{
		{name: "no tasks", data: "name: empty\n", target: ErrEmptyBatch},
		{name: "missing host", data: "tasks:\n  - commands: [date]\n", target: models.ErrInvalidHost},
		{name: "unknown profile", data: "tasks:\n  - host: a\n    authentication: [nope]\n", target: config.ErrUnknownProfile},
		{name: "unknown jump host", data: "tasks:\n  - host: a\n    jump_host: nope\n", target: config.ErrUnknownJumpHost},
		{name: "empty command", data: "tasks:\n  - host: a\n    commands: ['  ']\n", target: models.ErrEmptyCommand},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), FormatYAML, cfg)
			require.ErrorIs(t, err, tt.target)
		})
	}

	_, err := Parse([]byte("tasks:\n  - host: a\n    session_timeout: soon\n"), FormatYAML, cfg)
	require.ErrorContains(t, err, "session_timeout")

	_, err = Parse([]byte(yamlBatch), Format("xml"), cfg)
	require.ErrorIs(t, err, ErrUnknownFormat)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nightly.toml")
	require.NoError(t, os.WriteFile(path, []byte("[[tasks]]\nhost = \"r1\"\nauthentication = [\"ops\"]\n"), 0o600))

	b, err := Load(path, testConfig())
	require.NoError(t, err)
	require.Equal(t, "nightly", b.Name)
	require.Equal(t, path, b.Source)
	require.Len(t, b.Tasks, 1)

	_, err = Load(filepath.Join(dir, "missing.yaml"), testConfig())
	require.ErrorIs(t, err, os.ErrNotExist)

	require.Equal(t, FormatTOML, FormatFor("x.TOML"))
	require.Equal(t, FormatYAML, FormatFor("x.yml"))
}
