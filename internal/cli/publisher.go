package cli

import (
	"github.com/tOgg1/jumpshell/internal/config"
	"github.com/tOgg1/jumpshell/internal/db"
	"github.com/tOgg1/jumpshell/internal/events"
	"github.com/tOgg1/jumpshell/internal/hooks"
	"github.com/tOgg1/jumpshell/internal/models"
)

// newEventPublisher builds the publisher for a run. Events are persisted when
// database is set, and configured hooks are attached. The returned manager is
// nil when no hooks are configured.
func newEventPublisher(database *db.DB, cfg *config.Config) (*events.InMemoryPublisher, *hooks.Manager, error) {
	var opts []events.PublisherOption
	if database != nil {
		opts = append(opts, events.WithRepository(db.NewEventRepository(database)))
	}
	publisher := events.NewInMemoryPublisher(opts...)

	if len(cfg.Hooks) == 0 {
		return publisher, nil, nil
	}
	manager := hooks.NewManager(hooksFromConfig(cfg.Hooks), hooks.ShellExecutor{})
	if err := manager.Attach(publisher); err != nil {
		return nil, nil, err
	}
	return publisher, manager, nil
}

func hooksFromConfig(cfgHooks []config.HookConfig) []hooks.Hook {
	out := make([]hooks.Hook, 0, len(cfgHooks))
	for _, h := range cfgHooks {
		types := make([]models.EventType, 0, len(h.Events))
		for _, e := range h.Events {
			types = append(types, models.EventType(e))
		}
		out = append(out, hooks.Hook{
			Name:    h.Name,
			Events:  types,
			Command: h.Command,
			Timeout: h.Timeout,
		})
	}
	return out
}
