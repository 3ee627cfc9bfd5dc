// Package config handles jumpshell configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tOgg1/jumpshell/internal/identify"
	"github.com/tOgg1/jumpshell/internal/models"
)

// Config is the root configuration structure for jumpshell.
type Config struct {
	// Global settings
	Global GlobalConfig `yaml:"global" mapstructure:"global"`

	// Database settings
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Devices holds defaults applied to every target device.
	Devices DevicesConfig `yaml:"devices" mapstructure:"devices"`

	// JumpHosts lists named jump hosts and their defaults.
	JumpHosts JumpHostsConfig `yaml:"jump_hosts" mapstructure:"jump_hosts"`

	// Authentication holds named credential profiles.
	Authentication AuthenticationConfig `yaml:"authentication" mapstructure:"authentication"`

	// Orchestrator settings
	Orchestrator OrchestratorConfig `yaml:"orchestrator" mapstructure:"orchestrator"`

	// Prompts adds custom prompt rules ahead of the built-in ones.
	Prompts PromptsConfig `yaml:"prompts" mapstructure:"prompts"`

	// Hooks run shell commands on run, task and jump host events.
	Hooks []HookConfig `yaml:"hooks" mapstructure:"hooks"`
}

// GlobalConfig contains global settings.
type GlobalConfig struct {
	// DataDir is where jumpshell stores its data (default: ~/.local/share/jumpshell).
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	// ConfigDir is where config files are stored (default: ~/.config/jumpshell).
	ConfigDir string `yaml:"config_dir" mapstructure:"config_dir"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path" mapstructure:"path"`

	// MaxConnections is the maximum number of database connections.
	MaxConnections int `yaml:"max_connections" mapstructure:"max_connections"`

	// BusyTimeoutMs is the SQLite busy timeout in milliseconds.
	BusyTimeoutMs int `yaml:"busy_timeout_ms" mapstructure:"busy_timeout_ms"`

	// RetryAttempts bounds how often a result write is attempted while the
	// database stays busy past the busy timeout.
	RetryAttempts int `yaml:"retry_attempts" mapstructure:"retry_attempts"`

	// RetryBackoff is the first delay between attempts; it doubles up to
	// RetryMaxBackoff.
	RetryBackoff    time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff"`
	RetryMaxBackoff time.Duration `yaml:"retry_max_backoff" mapstructure:"retry_max_backoff"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// File is an optional log file path.
	File string `yaml:"file" mapstructure:"file"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// DevicesConfig groups device settings.
type DevicesConfig struct {
	Defaults DeviceDefaults `yaml:"defaults" mapstructure:"defaults"`
}

// DeviceDefaults are applied to tasks that do not override them.
type DeviceDefaults struct {
	// ConnectionTimeout bounds each login attempt including prompt detection.
	ConnectionTimeout time.Duration `yaml:"connection_timeout" mapstructure:"connection_timeout"`

	// SessionTimeout bounds the wait for a prompt after each command. The
	// deadline is pushed back whenever the device sends output.
	SessionTimeout time.Duration `yaml:"session_timeout" mapstructure:"session_timeout"`

	// Keepalive is the interval between transport keepalives.
	Keepalive time.Duration `yaml:"keepalive" mapstructure:"keepalive"`

	// Retries is the number of attempts per authentication profile.
	Retries int `yaml:"retries" mapstructure:"retries"`

	// RetryInterval is the wait between attempts.
	RetryInterval time.Duration `yaml:"retry_interval" mapstructure:"retry_interval"`

	// MaxDirectConnections caps concurrent sessions that do not use a jump host.
	MaxDirectConnections int `yaml:"max_direct_connections" mapstructure:"max_direct_connections"`

	// SocksProxy routes direct connections through a SOCKS5 proxy (host:port).
	SocksProxy string `yaml:"socks_proxy" mapstructure:"socks_proxy"`

	// SSHConfigFile is consulted for HostName and Port aliases.
	SSHConfigFile string `yaml:"ssh_config_file" mapstructure:"ssh_config_file"`

	// HostKeyFile is a known_hosts file used to verify servers. Empty disables verification.
	HostKeyFile string `yaml:"host_key_file" mapstructure:"host_key_file"`

	// Authentication lists the profile names tried for tasks that name none.
	Authentication []string `yaml:"authentication" mapstructure:"authentication"`
}

// JumpHostsConfig groups jump host settings.
type JumpHostsConfig struct {
	Defaults JumpHostDefaults `yaml:"defaults" mapstructure:"defaults"`
	Hosts    []JumpHostConfig `yaml:"hosts" mapstructure:"hosts"`
}

// JumpHostDefaults are applied to jump hosts that do not override them.
type JumpHostDefaults struct {
	// MaxConnections caps concurrent tunneled sessions per jump host.
	MaxConnections    int           `yaml:"max_connections" mapstructure:"max_connections"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout" mapstructure:"connection_timeout"`
	SessionTimeout    time.Duration `yaml:"session_timeout" mapstructure:"session_timeout"`
	Keepalive         time.Duration `yaml:"keepalive" mapstructure:"keepalive"`
	Retries           int           `yaml:"retries" mapstructure:"retries"`
	RetryInterval     time.Duration `yaml:"retry_interval" mapstructure:"retry_interval"`
}

// JumpHostConfig defines one named jump host.
type JumpHostConfig struct {
	Name        string `yaml:"name" mapstructure:"name"`
	Host        string `yaml:"host" mapstructure:"host"`
	Port        int    `yaml:"port" mapstructure:"port"`
	Description string `yaml:"description" mapstructure:"description"`
	Region      string `yaml:"region" mapstructure:"region"`

	// Authentication lists profile names tried in order.
	Authentication []string `yaml:"authentication" mapstructure:"authentication"`

	// MaxConnections overrides jump_hosts.defaults.max_connections.
	MaxConnections int `yaml:"max_connections" mapstructure:"max_connections"`
}

// AuthenticationConfig holds credential profiles.
type AuthenticationConfig struct {
	Profiles []AuthProfileConfig `yaml:"profiles" mapstructure:"profiles"`
}

// AuthProfileConfig is a named credential profile. Password fields accept a
// literal, "env:NAME" or "file:/path".
type AuthProfileConfig struct {
	Name              string `yaml:"name" mapstructure:"name"`
	Description       string `yaml:"description" mapstructure:"description"`
	Username          string `yaml:"username" mapstructure:"username"`
	Password          string `yaml:"password" mapstructure:"password"`
	PrivilegeCommand  string `yaml:"privilege_command" mapstructure:"privilege_command"`
	PrivilegePassword string `yaml:"privilege_password" mapstructure:"privilege_password"`
}

// OrchestratorConfig contains scheduling settings.
type OrchestratorConfig struct {
	// PollInterval is how often the scheduling loop scans pools and queues.
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`

	// ReadInterval is the sleep between non-blocking drains in a session.
	ReadInterval time.Duration `yaml:"read_interval" mapstructure:"read_interval"`

	// StoreResults persists task results to the database.
	StoreResults bool `yaml:"store_results" mapstructure:"store_results"`
}

// PromptsConfig holds user-defined prompt rules.
type PromptsConfig struct {
	Rules []identify.RuleSpec `yaml:"rules" mapstructure:"rules"`
}

// HookConfig defines a command run for matching events.
type HookConfig struct {
	Name    string        `yaml:"name" mapstructure:"name"`
	Events  []string      `yaml:"events" mapstructure:"events"`
	Command string        `yaml:"command" mapstructure:"command"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Global: GlobalConfig{
			DataDir:   filepath.Join(homeDir, ".local", "share", "jumpshell"),
			ConfigDir: filepath.Join(homeDir, ".config", "jumpshell"),
		},
		Database: DatabaseConfig{
			Path:            "", // Will be set to DataDir/jumpshell.db
			MaxConnections:  10,
			BusyTimeoutMs:   5000,
			RetryAttempts:   3,
			RetryBackoff:    50 * time.Millisecond,
			RetryMaxBackoff: time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Devices: DevicesConfig{
			Defaults: DeviceDefaults{
				ConnectionTimeout:    10 * time.Second,
				SessionTimeout:       180 * time.Second,
				Keepalive:            120 * time.Second,
				Retries:              2,
				RetryInterval:        15 * time.Second,
				MaxDirectConnections: 10,
			},
		},
		JumpHosts: JumpHostsConfig{
			Defaults: JumpHostDefaults{
				MaxConnections:    10,
				ConnectionTimeout: 10 * time.Second,
				SessionTimeout:    180 * time.Second,
				Keepalive:         120 * time.Second,
				Retries:           2,
				RetryInterval:     15 * time.Second,
			},
		},
		Orchestrator: OrchestratorConfig{
			PollInterval: 50 * time.Millisecond,
			ReadInterval: 10 * time.Millisecond,
			StoreResults: true,
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Database.MaxConnections < 1 {
		return fmt.Errorf("database.max_connections must be at least 1")
	}
	if c.Database.RetryAttempts < 1 {
		return fmt.Errorf("database.retry_attempts must be at least 1")
	}
	if c.Database.RetryBackoff < 0 || c.Database.RetryMaxBackoff < 0 {
		return fmt.Errorf("database retry backoff must not be negative")
	}

	d := c.Devices.Defaults
	if d.ConnectionTimeout <= 0 {
		return fmt.Errorf("devices.defaults.connection_timeout must be positive")
	}
	if d.SessionTimeout <= 0 {
		return fmt.Errorf("devices.defaults.session_timeout must be positive")
	}
	if d.Retries < 1 {
		return fmt.Errorf("devices.defaults.retries must be at least 1")
	}
	if d.RetryInterval < 0 {
		return fmt.Errorf("devices.defaults.retry_interval must not be negative")
	}
	if d.MaxDirectConnections < 1 {
		return fmt.Errorf("devices.defaults.max_direct_connections must be at least 1")
	}
	if c.JumpHosts.Defaults.MaxConnections < 1 {
		return fmt.Errorf("jump_hosts.defaults.max_connections must be at least 1")
	}

	if c.Orchestrator.PollInterval < time.Millisecond {
		return fmt.Errorf("orchestrator.poll_interval must be at least 1ms")
	}
	if c.Orchestrator.ReadInterval < time.Millisecond {
		return fmt.Errorf("orchestrator.read_interval must be at least 1ms")
	}

	profiles := make(map[string]bool, len(c.Authentication.Profiles))
	for i, p := range c.Authentication.Profiles {
		if p.Name == "" {
			return fmt.Errorf("authentication.profiles[%d].name is required", i)
		}
		if p.Username == "" {
			return fmt.Errorf("authentication.profiles[%d].username is required", i)
		}
		if profiles[p.Name] {
			return fmt.Errorf("authentication.profiles[%d]: duplicate profile %q", i, p.Name)
		}
		profiles[p.Name] = true
	}

	names := make(map[string]bool, len(c.JumpHosts.Hosts))
	for i, h := range c.JumpHosts.Hosts {
		if h.Host == "" {
			return fmt.Errorf("jump_hosts.hosts[%d].host is required", i)
		}
		if h.Port < 0 || h.Port > 65535 {
			return fmt.Errorf("jump_hosts.hosts[%d].port is out of range", i)
		}
		if len(h.Authentication) == 0 {
			return fmt.Errorf("jump_hosts.hosts[%d].authentication is required", i)
		}
		for _, name := range h.Authentication {
			if !profiles[name] {
				return fmt.Errorf("jump_hosts.hosts[%d]: unknown authentication profile %q", i, name)
			}
		}
		key := h.Name
		if key == "" {
			key = h.Host
		}
		if names[key] {
			return fmt.Errorf("jump_hosts.hosts[%d]: duplicate jump host %q", i, key)
		}
		names[key] = true
	}

	if _, err := identify.Compile(c.Prompts.Rules); err != nil {
		return fmt.Errorf("prompts.rules: %w", err)
	}

	for i, h := range c.Hooks {
		if h.Name == "" || h.Command == "" {
			return fmt.Errorf("hooks[%d]: name and command are required", i)
		}
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Global.DataDir, c.Global.ConfigDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the full database path.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.Global.DataDir, "jumpshell.db")
}

// DeviceTimeouts returns device defaults as task timeouts.
func (c *Config) DeviceTimeouts() models.Timeouts {
	d := c.Devices.Defaults
	return models.Timeouts{
		Connection:    d.ConnectionTimeout,
		Session:       d.SessionTimeout,
		Keepalive:     d.Keepalive,
		Retries:       d.Retries,
		RetryInterval: d.RetryInterval,
	}
}

// JumpHostTimeouts returns jump host defaults as timeouts.
func (c *Config) JumpHostTimeouts() models.Timeouts {
	d := c.JumpHosts.Defaults
	return models.Timeouts{
		Connection:    d.ConnectionTimeout,
		Session:       d.SessionTimeout,
		Keepalive:     d.Keepalive,
		Retries:       d.Retries,
		RetryInterval: d.RetryInterval,
	}
}

// Ruleset builds the prompt ruleset with custom rules ahead of the defaults.
func (c *Config) Ruleset() (*identify.Ruleset, error) {
	custom, err := identify.Compile(c.Prompts.Rules)
	if err != nil {
		return nil, err
	}
	rs := identify.Default()
	if len(custom) > 0 {
		rs = rs.WithRules(custom...)
	}
	return rs, nil
}

var (
	// ErrUnknownProfile is returned when an authentication profile name is not configured.
	ErrUnknownProfile = errors.New("unknown authentication profile")

	// ErrUnknownJumpHost is returned when a jump host name is not configured.
	ErrUnknownJumpHost = errors.New("unknown jump host")
)
