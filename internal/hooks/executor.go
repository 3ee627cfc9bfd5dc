package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"time"

	"github.com/tOgg1/jumpshell/internal/models"
)

// Executor runs a hook command for an event and returns its combined output.
type Executor interface {
	Execute(ctx context.Context, command string, event *models.Event) ([]byte, error)
}

// ShellExecutor runs commands with /bin/sh.
type ShellExecutor struct {
	// Shell overrides /bin/sh.
	Shell string
}

// Execute implements Executor.
func (e ShellExecutor) Execute(ctx context.Context, command string, event *models.Event) ([]byte, error) {
	shell := e.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Env = append(os.Environ(), eventEnv(event)...)
	if data, err := json.Marshal(event); err == nil {
		cmd.Stdin = bytes.NewReader(data)
	}
	return cmd.CombinedOutput()
}

func eventEnv(event *models.Event) []string {
	if event == nil {
		return nil
	}
	env := []string{
		"JUMPSHELL_EVENT_ID=" + event.ID,
		"JUMPSHELL_EVENT_TYPE=" + string(event.Type),
		"JUMPSHELL_ENTITY_TYPE=" + string(event.EntityType),
		"JUMPSHELL_ENTITY_ID=" + event.EntityID,
	}
	if !event.Timestamp.IsZero() {
		env = append(env, "JUMPSHELL_EVENT_TIMESTAMP="+event.Timestamp.UTC().Format(time.RFC3339))
	}
	if len(event.Payload) > 0 {
		env = append(env, "JUMPSHELL_EVENT_PAYLOAD="+string(event.Payload))
	}
	return env
}
