package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tOgg1/jumpshell/internal/identify"
)

func init() {
	rootCmd.AddCommand(identifyCmd)
	identifyCmd.AddCommand(identifyPromptCmd, identifyVersionCmd, identifyRulesCmd)
}

var identifyCmd = &cobra.Command{
	Use:   "identify",
	Short: "Test prompt and SSH version rules",
}

type promptOutput struct {
	Line     string            `json:"line"`
	Matched  bool              `json:"matched"`
	Rule     string            `json:"rule,omitempty"`
	Vendor   string            `json:"vendor,omitempty"`
	OS       string            `json:"os,omitempty"`
	Shell    string            `json:"shell,omitempty"`
	Prompt   string            `json:"prompt,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
	Commands []string          `json:"commands,omitempty"`
}

var identifyPromptCmd = &cobra.Command{
	Use:   "prompt <line>...",
	Short: "Show which rule matches a prompt line",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rules, err := GetConfig().Ruleset()
		if err != nil {
			return err
		}
		outputs := make([]promptOutput, 0, len(args))
		for _, line := range args {
			outputs = append(outputs, matchPrompt(rules, line))
		}

		out := cmd.OutOrStdout()
		if IsJSONLOutput() {
			return writeJSONL(out, outputs)
		}
		if IsJSONOutput() {
			return WriteOutput(out, outputs)
		}
		for i, o := range outputs {
			if i > 0 {
				fmt.Fprintln(out)
			}
			writePromptOutput(cmd, o)
		}
		return nil
	},
}

func matchPrompt(rules *identify.Ruleset, line string) promptOutput {
	m, ok := rules.Prompt(line)
	if !ok {
		return promptOutput{Line: line}
	}
	return promptOutput{
		Line:     line,
		Matched:  true,
		Rule:     m.Rule.Name,
		Vendor:   m.Rule.Vendor,
		OS:       m.Rule.OS,
		Shell:    m.Rule.Shell,
		Prompt:   m.Prompt(),
		Fields:   m.Fields,
		Commands: m.Rule.Commands,
	}
}

func writePromptOutput(cmd *cobra.Command, o promptOutput) {
	out := cmd.OutOrStdout()
	if !o.Matched {
		fmt.Fprintf(out, "%q: %s\n", o.Line, render(styleFailed, "no match"))
		return
	}
	fmt.Fprintf(out, "%q: %s\n", o.Line, render(styleOK, o.Rule))
	if o.Vendor != "" {
		fmt.Fprintf(out, "  vendor:   %s\n", identify.VendorLabel(o.Vendor))
	}
	if o.OS != "" {
		fmt.Fprintf(out, "  os:       %s\n", o.OS)
	}
	if o.Shell != "" {
		fmt.Fprintf(out, "  shell:    %s\n", o.Shell)
	}
	keys := make([]string, 0, len(o.Fields))
	for k := range o.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "  %-9s %q\n", k+":", o.Fields[k])
	}
	if len(o.Commands) > 0 {
		fmt.Fprintf(out, "  commands: %s\n", strings.Join(o.Commands, "; "))
	}
}

var identifyVersionCmd = &cobra.Command{
	Use:   "version <ssh-version>",
	Short: "Show the vendor hinted by an SSH server version string",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rules, err := GetConfig().Ruleset()
		if err != nil {
			return err
		}
		vendor, ok := rules.SSHVersion(args[0])
		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(cmd.OutOrStdout(), map[string]any{
				"version": args[0],
				"matched": ok,
				"vendor":  vendor,
			})
		}
		if !ok {
			fmt.Fprintf(cmd.OutOrStdout(), "%q: %s\n", args[0], render(styleMuted, "no hint"))
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%q: %s\n", args[0], identify.VendorLabel(vendor))
		return nil
	},
}

var identifyRulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List prompt rules in evaluation order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rules, err := GetConfig().Ruleset()
		if err != nil {
			return err
		}
		type ruleOutput struct {
			Name    string `json:"name"`
			Vendor  string `json:"vendor,omitempty"`
			Pattern string `json:"pattern"`
			Errors  int    `json:"known_errors"`
		}
		outputs := make([]ruleOutput, 0, len(rules.Rules))
		for _, r := range rules.Rules {
			outputs = append(outputs, ruleOutput{
				Name:    r.Name,
				Vendor:  r.Vendor,
				Pattern: r.Pattern.String(),
				Errors:  len(r.KnownErrors),
			})
		}

		out := cmd.OutOrStdout()
		if IsJSONLOutput() {
			return writeJSONL(out, outputs)
		}
		if IsJSONOutput() {
			return WriteOutput(out, outputs)
		}
		rows := make([][]string, 0, len(outputs))
		for _, r := range outputs {
			vendor := r.Vendor
			if vendor == "" {
				vendor = "-"
			}
			rows = append(rows, []string{r.Name, vendor, fmt.Sprint(r.Errors), truncate(r.Pattern)})
		}
		return writeTable(out, []string{"RULE", "VENDOR", "ERRORS", "PATTERN"}, rows)
	},
}
