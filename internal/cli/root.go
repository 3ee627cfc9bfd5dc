// Package cli implements the jumpshell command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tOgg1/jumpshell/internal/config"
	"github.com/tOgg1/jumpshell/internal/db"
	"github.com/tOgg1/jumpshell/internal/logging"
)

var (
	cfgFile     string
	jsonOutput  bool
	jsonlOutput bool
	noColor     bool
	quiet       bool
	verbose     bool
	logLevel    string

	appConfig      *config.Config
	configFileUsed string
	logger         zerolog.Logger
	version        = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "jumpshell",
	Short: "Run commands on network devices over SSH",
	Long: `jumpshell logs in to routers, switches, firewalls and Linux hosts over SSH,
finds their prompt, runs commands and collects the output. Sessions can be
tunneled through shared jump hosts.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.config/jumpshell/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")
	rootCmd.PersistentFlags().BoolVar(&jsonlOutput, "jsonl", false, "output JSON lines")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress progress output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

// Execute runs the root command.
func Execute(v string) error {
	if v != "" {
		version = v
	}
	rootCmd.Version = version
	return rootCmd.Execute()
}

func initConfig() error {
	loader := config.NewLoader()
	if cfgFile != "" {
		loader.SetConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	appConfig = cfg
	configFileUsed = loader.ConfigFileUsed()

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	if verbose {
		level = "debug"
	}
	logCfg := logging.Config{
		Level:        level,
		Format:       cfg.Logging.Format,
		Output:       os.Stderr,
		EnableCaller: cfg.Logging.EnableCaller,
	}
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		logCfg.Output = f
		logCfg.Format = "json"
	}
	logging.Init(logCfg)
	logger = logging.Component("cli")
	return nil
}

// GetConfig returns the loaded configuration.
func GetConfig() *config.Config {
	if appConfig == nil {
		return config.DefaultConfig()
	}
	return appConfig
}

// IsJSONOutput reports whether --json was given.
func IsJSONOutput() bool {
	return jsonOutput
}

// IsJSONLOutput reports whether --jsonl was given.
func IsJSONLOutput() bool {
	return jsonlOutput
}

// IsVerbose reports whether --verbose was given.
func IsVerbose() bool {
	return verbose
}

func colorEnabled() bool {
	if noColor || IsJSONOutput() || IsJSONLOutput() {
		return false
	}
	_, disabled := os.LookupEnv("NO_COLOR")
	return !disabled
}

// WriteOutput writes v as indented JSON, or on a single line in JSONL mode.
func WriteOutput(out io.Writer, v any) error {
	if IsJSONLOutput() {
		return json.NewEncoder(out).Encode(v)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func writeJSONL[T any](out io.Writer, items []T) error {
	enc := json.NewEncoder(out)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return err
		}
	}
	return nil
}

// openDatabase opens and migrates the results database.
func openDatabase(ctx context.Context) (*db.DB, error) {
	cfg := GetConfig()
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	database, err := db.OpenWithOptions(cfg.DatabasePath(), databaseOptions(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := database.MigrateUp(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return database, nil
}

func databaseOptions(c config.DatabaseConfig) db.Options {
	return db.Options{
		MaxConnections: c.MaxConnections,
		BusyTimeout:    time.Duration(c.BusyTimeoutMs) * time.Millisecond,
		Retry: db.RetryPolicy{
			Attempts:   c.RetryAttempts,
			Backoff:    c.RetryBackoff,
			MaxBackoff: c.RetryMaxBackoff,
		},
	}
}

func shortID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
