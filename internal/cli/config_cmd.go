package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const redacted = "********"

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configPathCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets redacted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := *GetConfig()
		profiles := append(cfg.Authentication.Profiles[:0:0], cfg.Authentication.Profiles...)
		for i := range profiles {
			profiles[i].Password = redactSecret(profiles[i].Password)
			profiles[i].PrivilegePassword = redactSecret(profiles[i].PrivilegePassword)
		}
		cfg.Authentication.Profiles = profiles

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(cmd.OutOrStdout(), cfg)
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file, database and state paths",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		file := configFileUsed
		if file == "" {
			file = "(none, using defaults)"
		}
		paths := map[string]string{
			"config":   file,
			"database": cfg.DatabasePath(),
			"state":    statePath(cfg),
		}
		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(cmd.OutOrStdout(), paths)
		}
		for _, k := range []string{"config", "database", "state"} {
			fmt.Fprintf(cmd.OutOrStdout(), "%-9s %s\n", k+":", paths[k])
		}
		return nil
	},
}

// redactSecret hides literal secrets and keeps env:/file: references.
func redactSecret(s string) string {
	if s == "" || strings.HasPrefix(s, "env:") || strings.HasPrefix(s, "file:") {
		return s
	}
	return redacted
}
