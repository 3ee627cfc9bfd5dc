package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "JUMPSHELL"

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// Load loads configuration with proper precedence:
// defaults < config file < env vars < CLI flags
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	l.setupViper(cfg)

	if err := l.loadConfigFile(); err != nil {
		// Config file is optional, only error if explicitly specified
		if l.configFile != "" {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Unmarshal does not merge env vars into nested structs once a file is loaded.
	l.applyEnvOverrides(cfg)

	expandPaths(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// expandTilde expands ~ to the user's home directory.
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

func expandPaths(cfg *Config) {
	cfg.Global.DataDir = expandTilde(cfg.Global.DataDir)
	cfg.Global.ConfigDir = expandTilde(cfg.Global.ConfigDir)
	cfg.Database.Path = expandTilde(cfg.Database.Path)
	cfg.Logging.File = expandTilde(cfg.Logging.File)
	cfg.Devices.Defaults.SSHConfigFile = expandTilde(cfg.Devices.Defaults.SSHConfigFile)
	cfg.Devices.Defaults.HostKeyFile = expandTilde(cfg.Devices.Defaults.HostKeyFile)
}

func (l *Loader) setupViper(cfg *Config) {
	v := l.v

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		v.AddConfigPath(filepath.Join(xdgConfig, "jumpshell"))
	}
	if homeDir, _ := os.UserHomeDir(); homeDir != "" {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "jumpshell"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	l.setDefaults(cfg)
	bindEnvVars(v)
	v.AutomaticEnv()
}

func (l *Loader) setDefaults(cfg *Config) {
	v := l.v

	// Global
	v.SetDefault("global.data_dir", cfg.Global.DataDir)
	v.SetDefault("global.config_dir", cfg.Global.ConfigDir)

	// Database
	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("database.max_connections", cfg.Database.MaxConnections)
	v.SetDefault("database.busy_timeout_ms", cfg.Database.BusyTimeoutMs)
	v.SetDefault("database.retry_attempts", cfg.Database.RetryAttempts)
	v.SetDefault("database.retry_backoff", cfg.Database.RetryBackoff)
	v.SetDefault("database.retry_max_backoff", cfg.Database.RetryMaxBackoff)

	// Logging
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.enable_caller", cfg.Logging.EnableCaller)

	// Devices
	d := cfg.Devices.Defaults
	v.SetDefault("devices.defaults.connection_timeout", d.ConnectionTimeout)
	v.SetDefault("devices.defaults.session_timeout", d.SessionTimeout)
	v.SetDefault("devices.defaults.keepalive", d.Keepalive)
	v.SetDefault("devices.defaults.retries", d.Retries)
	v.SetDefault("devices.defaults.retry_interval", d.RetryInterval)
	v.SetDefault("devices.defaults.max_direct_connections", d.MaxDirectConnections)
	v.SetDefault("devices.defaults.socks_proxy", d.SocksProxy)
	v.SetDefault("devices.defaults.ssh_config_file", d.SSHConfigFile)
	v.SetDefault("devices.defaults.host_key_file", d.HostKeyFile)

	// Jump hosts
	j := cfg.JumpHosts.Defaults
	v.SetDefault("jump_hosts.defaults.max_connections", j.MaxConnections)
	v.SetDefault("jump_hosts.defaults.connection_timeout", j.ConnectionTimeout)
	v.SetDefault("jump_hosts.defaults.session_timeout", j.SessionTimeout)
	v.SetDefault("jump_hosts.defaults.keepalive", j.Keepalive)
	v.SetDefault("jump_hosts.defaults.retries", j.Retries)
	v.SetDefault("jump_hosts.defaults.retry_interval", j.RetryInterval)

	// Orchestrator
	v.SetDefault("orchestrator.poll_interval", cfg.Orchestrator.PollInterval)
	v.SetDefault("orchestrator.read_interval", cfg.Orchestrator.ReadInterval)
	v.SetDefault("orchestrator.store_results", cfg.Orchestrator.StoreResults)
}

func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return err
	}

	return nil
}

// ConfigFileUsed returns the config file that was loaded.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Set sets a Viper value by key. Used for CLI flag overrides.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// LoadFromFile loads configuration from a specific file.
func LoadFromFile(path string) (*Config, error) {
	loader := NewLoader()
	loader.SetConfigFile(path)
	return loader.Load()
}

// LoadDefault loads configuration with default search paths.
func LoadDefault() (*Config, error) {
	return NewLoader().Load()
}

// envBindings lists keys that accept JUMPSHELL_* overrides.
var envBindings = []string{
	"global.data_dir",
	"global.config_dir",
	"database.path",
	"database.max_connections",
	"database.busy_timeout_ms",
	"database.retry_attempts",
	"database.retry_backoff",
	"database.retry_max_backoff",
	"logging.level",
	"logging.format",
	"logging.file",
	"logging.enable_caller",
	"devices.defaults.connection_timeout",
	"devices.defaults.session_timeout",
	"devices.defaults.keepalive",
	"devices.defaults.retries",
	"devices.defaults.retry_interval",
	"devices.defaults.max_direct_connections",
	"devices.defaults.socks_proxy",
	"devices.defaults.ssh_config_file",
	"devices.defaults.host_key_file",
	"jump_hosts.defaults.max_connections",
	"orchestrator.poll_interval",
	"orchestrator.read_interval",
	"orchestrator.store_results",
}

// bindEnvVars binds environment variables for config keys: database.path -> JUMPSHELL_DATABASE_PATH.
func bindEnvVars(v *viper.Viper) {
	for _, key := range envBindings {
		envVar := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, envVar)
	}
}

// applyEnvOverrides copies env-only values that Unmarshal skipped for nested structs.
func (l *Loader) applyEnvOverrides(cfg *Config) {
	v := l.v

	if path := v.GetString("database.path"); path != "" {
		cfg.Database.Path = path
	}
	if dataDir := v.GetString("global.data_dir"); dataDir != "" {
		cfg.Global.DataDir = dataDir
	}
	if configDir := v.GetString("global.config_dir"); configDir != "" {
		cfg.Global.ConfigDir = configDir
	}
	if level := v.GetString("logging.level"); level != "" {
		cfg.Logging.Level = level
	}
	if format := v.GetString("logging.format"); format != "" {
		cfg.Logging.Format = format
	}
	if proxy := v.GetString("devices.defaults.socks_proxy"); proxy != "" {
		cfg.Devices.Defaults.SocksProxy = proxy
	}
	if n := v.GetInt("devices.defaults.max_direct_connections"); n > 0 {
		cfg.Devices.Defaults.MaxDirectConnections = n
	}
	if n := v.GetInt("devices.defaults.retries"); n > 0 {
		cfg.Devices.Defaults.Retries = n
	}
	if d := v.GetDuration("devices.defaults.connection_timeout"); d > 0 {
		cfg.Devices.Defaults.ConnectionTimeout = d
	}
	if d := v.GetDuration("devices.defaults.session_timeout"); d > 0 {
		cfg.Devices.Defaults.SessionTimeout = d
	}
}
