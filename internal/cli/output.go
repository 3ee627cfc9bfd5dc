package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/tOgg1/jumpshell/internal/events"
	"github.com/tOgg1/jumpshell/internal/logging"
	"github.com/tOgg1/jumpshell/internal/models"
)

// ExitError carries a process exit code. Printed is set when the command
// already reported the failure to the user.
type ExitError struct {
	Code    int
	Err     error
	Printed bool
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// runOutput is the JSON shape of a finished run.
type runOutput struct {
	RunID   string               `json:"run_id"`
	Total   int                  `json:"total"`
	Failed  int                  `json:"failed"`
	Results []*models.TaskResult `json:"results"`
}

func writeResults(out io.Writer, runID string, results []*models.TaskResult, showOutput bool) error {
	if IsJSONLOutput() {
		return writeJSONL(out, results)
	}
	if IsJSONOutput() {
		return WriteOutput(out, runOutput{
			RunID:   runID,
			Total:   len(results),
			Failed:  countFailed(results),
			Results: results,
		})
	}

	if err := writeResultTable(out, results); err != nil {
		return err
	}
	if showOutput {
		for _, r := range results {
			writeCommandOutput(out, r)
		}
	}
	_, err := fmt.Fprintf(out, "\n%s %s  %s tasks  %s failed\n",
		render(styleHeader, "run"), shortID(runID),
		render(styleHeader, fmt.Sprint(len(results))),
		formatCount(countFailed(results), styleFailed))
	return err
}

func writeResultTable(out io.Writer, results []*models.TaskResult) error {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		jump := r.JumpHost
		if jump == "" {
			jump = "-"
		}
		vendor := r.Vendor
		if vendor == "" {
			vendor = "-"
		}
		user := r.AuthenticatedAs
		if user == "" {
			user = "-"
		}
		rows = append(rows, []string{
			hostPort(r.Host, r.Port),
			jump,
			formatStatus(r.Status),
			vendor,
			user,
			fmt.Sprint(len(r.Commands)),
			formatCount(r.CommandErrors(), styleWarn),
			formatDuration(r.Duration()),
			truncate(r.Error),
		})
	}
	return writeTable(out, []string{"HOST", "JUMP HOST", "STATUS", "VENDOR", "USER", "CMDS", "ERRORS", "DURATION", "ERROR"}, rows)
}

// writeCommandOutput prints every command of r with its output indented.
func writeCommandOutput(out io.Writer, r *models.TaskResult) {
	if len(r.Commands) == 0 {
		return
	}
	fmt.Fprintf(out, "\n%s\n", render(styleHeader, "== "+hostPort(r.Host, r.Port)))
	for _, c := range r.Commands {
		line := "$ " + c.Command
		if c.Failed() {
			line += "  " + render(styleFailed, c.Error)
		}
		fmt.Fprintln(out, line)
		for _, l := range strings.Split(strings.TrimRight(c.Output, "\r\n"), "\n") {
			fmt.Fprintf(out, "  %s\n", strings.TrimRight(l, "\r"))
		}
	}
	if len(r.Collection) > 0 {
		data, err := json.Marshal(logging.RedactMap(r.Collection))
		if err == nil {
			fmt.Fprintf(out, "%s %s\n", render(styleMuted, "collected:"), data)
		}
	}
}

func hostPort(host string, port int) string {
	if port == 0 || port == models.DefaultSSHPort {
		return host
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// progressPrinter writes one line per finished task and jump host change.
type progressPrinter struct {
	mu    sync.Mutex
	out   io.Writer
	total int
	done  int
}

func newProgressPrinter(out io.Writer, total int) *progressPrinter {
	return &progressPrinter{out: out, total: total}
}

func (p *progressPrinter) filter() events.Filter {
	return events.Filter{EventTypes: []models.EventType{
		models.EventTypeTaskCompleted,
		models.EventTypeTaskFailed,
		models.EventTypeJumpHostConnected,
		models.EventTypeJumpHostFailed,
	}}
}

func (p *progressPrinter) handle(event *models.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch event.Type {
	case models.EventTypeTaskCompleted, models.EventTypeTaskFailed:
		p.done++
		var payload models.TaskFinishedPayload
		_ = json.Unmarshal(event.Payload, &payload)
		line := fmt.Sprintf("[%d/%d] %s %s", p.done, p.total, formatStatus(models.TaskStatus(payload.Status)), payload.Host)
		if payload.Error != "" {
			line += ": " + truncate(payload.Error)
		} else if payload.CommandErrors > 0 {
			line += fmt.Sprintf(" (%s command errors)", formatCount(payload.CommandErrors, styleWarn))
		}
		fmt.Fprintln(p.out, line)
	case models.EventTypeJumpHostConnected, models.EventTypeJumpHostFailed:
		var payload models.JumpHostPayload
		_ = json.Unmarshal(event.Payload, &payload)
		if payload.Error != "" {
			fmt.Fprintf(p.out, "jump host %s %s: %s\n", payload.Address, render(styleFailed, "failed"), payload.Error)
			return
		}
		fmt.Fprintf(p.out, "jump host %s %s (%d slots)\n", payload.Address, render(styleOK, "connected"), payload.Slots)
	}
}
