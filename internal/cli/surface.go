package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// SurfaceCommand represents one command in the CLI surface manifest.
type SurfaceCommand struct {
	Name        string           `json:"name"`
	Aliases     []string         `json:"aliases,omitempty"`
	Short       string           `json:"short"`
	Args        string           `json:"args,omitempty"`
	Flags       []SurfaceFlag    `json:"flags,omitempty"`
	Subcommands []SurfaceCommand `json:"subcommands,omitempty"`
}

// SurfaceFlag represents a flag in the CLI surface manifest.
type SurfaceFlag struct {
	Long    string `json:"long"`
	Short   string `json:"short,omitempty"`
	Type    string `json:"type"`
	Default string `json:"default,omitempty"`
	Usage   string `json:"usage,omitempty"`
}

// SurfaceManifest is the top-level structure for the command surface.
type SurfaceManifest struct {
	CLI         string           `json:"cli"`
	Version     string           `json:"version"`
	GlobalFlags []SurfaceFlag    `json:"global_flags"`
	Commands    []SurfaceCommand `json:"commands"`
}

func init() {
	rootCmd.AddCommand(surfaceCmd)
}

var surfaceCmd = &cobra.Command{
	Use:    "surface",
	Short:  "Print the command surface as JSON",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := CommandSurfaceJSON()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	},
}

// CommandSurfaceJSON returns a JSON manifest of every visible command and flag.
func CommandSurfaceJSON() ([]byte, error) {
	return json.MarshalIndent(extractManifest(rootCmd, "jumpshell"), "", "  ")
}

func extractManifest(root *cobra.Command, name string) SurfaceManifest {
	return SurfaceManifest{
		CLI:         name,
		Version:     version,
		GlobalFlags: extractFlags(root.PersistentFlags()),
		Commands:    extractSubcommands(root),
	}
}

func extractSubcommands(cmd *cobra.Command) []SurfaceCommand {
	var cmds []SurfaceCommand
	for _, c := range cmd.Commands() {
		// help is auto-generated
		if c.Hidden || c.Name() == "help" {
			continue
		}
		cmds = append(cmds, SurfaceCommand{
			Name:        c.Name(),
			Aliases:     c.Aliases,
			Short:       c.Short,
			Args:        commandArgs(c),
			Flags:       extractFlags(c.LocalFlags()),
			Subcommands: extractSubcommands(c),
		})
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	return cmds
}

// commandArgs returns the positional part of the Use line.
func commandArgs(c *cobra.Command) string {
	_, args, _ := strings.Cut(c.Use, " ")
	return strings.TrimSpace(args)
}

func extractFlags(fs *pflag.FlagSet) []SurfaceFlag {
	var flags []SurfaceFlag
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == "help" {
			return
		}
		flags = append(flags, SurfaceFlag{
			Long:    f.Name,
			Short:   f.Shorthand,
			Type:    flagTypeName(f.Value.Type()),
			Default: f.DefValue,
			Usage:   f.Usage,
		})
	})
	sort.Slice(flags, func(i, j int) bool { return flags[i].Long < flags[j].Long })
	return flags
}

func flagTypeName(t string) string {
	switch strings.ToLower(t) {
	case "stringslice":
		return "stringSlice"
	case "stringarray":
		return "stringArray"
	default:
		return strings.ToLower(t)
	}
}
