package cli

import (
	"fmt"
	"os"
)

// HintContext provides context for generating relevant next steps.
type HintContext struct {
	// Action is the command that was executed (e.g., "run", "results")
	Action string

	// RunID is the run involved (if any)
	RunID string

	// Host is the device involved (if any)
	Host string

	// Failed is the number of failed tasks in the run
	Failed int
}

// PrintNextSteps prints contextual next steps after a successful command.
// Does nothing if JSON output is enabled.
func PrintNextSteps(ctx HintContext) {
	if IsJSONOutput() || IsJSONLOutput() || quiet {
		return
	}

	hints := generateHints(ctx)
	if len(hints) == 0 {
		return
	}

	fmt.Fprintln(os.Stdout)
	fmt.Fprintln(os.Stdout, "Next steps:")
	for _, hint := range hints {
		fmt.Fprintf(os.Stdout, "  %s\n", hint)
	}
}

func generateHints(ctx HintContext) []string {
	switch ctx.Action {
	case "run":
		return hintsForRun(ctx)
	case "results_show":
		return hintsForResultsShow(ctx)
	default:
		return nil
	}
}

func hintsForRun(ctx HintContext) []string {
	if ctx.RunID == "" {
		return nil
	}
	hints := make([]string, 0, 3)
	hints = append(hints,
		fmt.Sprintf("jumpshell results show %s --output     # Command output", shortID(ctx.RunID)),
	)
	if ctx.Failed > 0 {
		hints = append(hints,
			fmt.Sprintf("jumpshell events --run %s              # What went wrong", shortID(ctx.RunID)),
		)
	}
	hints = append(hints, "jumpshell results list                   # Previous runs")
	return hints
}

func hintsForResultsShow(ctx HintContext) []string {
	if ctx.Host == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("jumpshell results host %s              # History for this device", ctx.Host),
	}
}
