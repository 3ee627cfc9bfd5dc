// Package hooks runs user commands when run, task or jump host events are
// published.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/jumpshell/internal/events"
	"github.com/tOgg1/jumpshell/internal/logging"
	"github.com/tOgg1/jumpshell/internal/models"
)

// DefaultTimeout bounds a hook command that does not set its own timeout.
const DefaultTimeout = 30 * time.Second

// ErrInvalidHook is returned for hooks without a name or command.
var ErrInvalidHook = errors.New("invalid hook")

// Hook is a shell command run for matching events.
type Hook struct {
	Name string

	// Events limits the hook to these event types. Empty matches every event.
	Events []models.EventType

	// Command is run with sh -c. The event is available in JUMPSHELL_EVENT_*
	// variables and as JSON on stdin.
	Command string

	Timeout time.Duration
}

// Validate checks the hook definition.
func (h Hook) Validate() error {
	if strings.TrimSpace(h.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidHook)
	}
	if strings.TrimSpace(h.Command) == "" {
		return fmt.Errorf("%w: %s: command is required", ErrInvalidHook, h.Name)
	}
	if h.Timeout < 0 {
		return fmt.Errorf("%w: %s: timeout must not be negative", ErrInvalidHook, h.Name)
	}
	return nil
}

// Manager subscribes hooks to a publisher and tracks running commands.
type Manager struct {
	hooks  []Hook
	exec   Executor
	logger zerolog.Logger

	wg sync.WaitGroup
}

// NewManager creates a manager. A nil executor runs commands with sh.
func NewManager(hooks []Hook, exec Executor) *Manager {
	if exec == nil {
		exec = ShellExecutor{}
	}
	return &Manager{
		hooks:  hooks,
		exec:   exec,
		logger: logging.Component("hooks"),
	}
}

// Attach subscribes every hook. Hook commands run in the background so a
// slow hook never stalls the publisher.
func (m *Manager) Attach(pub events.Publisher) error {
	for _, h := range m.hooks {
		if err := h.Validate(); err != nil {
			return err
		}
		hook := h
		filter := events.Filter{EventTypes: hook.Events}
		if err := pub.Subscribe("hook:"+hook.Name, filter, func(event *models.Event) {
			m.dispatch(hook, event)
		}); err != nil {
			return fmt.Errorf("subscribe hook %s: %w", hook.Name, err)
		}
	}
	return nil
}

// Wait blocks until every started hook command has exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) dispatch(hook Hook, event *models.Event) {
	timeout := hook.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		start := time.Now()
		out, err := m.exec.Execute(ctx, hook.Command, event)
		log := m.logger.With().
			Str("hook", hook.Name).
			Str("event", string(event.Type)).
			Str("entity_id", event.EntityID).
			Dur("elapsed", time.Since(start)).
			Logger()
		if err != nil {
			log.Warn().Err(err).Str("output", strings.TrimSpace(string(out))).Msg("hook failed")
			return
		}
		log.Debug().Msg("hook ran")
	}()
}
