package orchestrator

import (
	"context"

	"github.com/tOgg1/jumpshell/internal/analysis"
	"github.com/tOgg1/jumpshell/internal/events"
	"github.com/tOgg1/jumpshell/internal/logging"
	"github.com/tOgg1/jumpshell/internal/models"
	"github.com/tOgg1/jumpshell/internal/pool"
	"github.com/tOgg1/jumpshell/internal/session"
)

// launch starts a worker for a task that already holds slot in p.
func (o *Orchestrator) launch(ctx context.Context, task *models.Task, slot int, p *pool.Pool, jh *jumpHost) {
	o.wg.Add(1)

	o.mu.Lock()
	res := *o.results[task.ID]
	res.Status = models.TaskStatusRunning
	res.StartedAt = o.now()
	o.results[task.ID] = &res
	o.mu.Unlock()

	o.logger.Debug().
		Str("task_id", task.ID).
		Str("host", task.Address()).
		Str("pool", p.Name()).
		Int("slot", slot).
		Interface("parameters", logging.RedactParams(task.Parameters)).
		Msg("task started")
	o.publish(events.New(models.EventTypeTaskStarted, models.EntityTypeTask, task.ID, map[string]any{
		"host": task.Address(),
		"pool": p.Name(),
		"slot": slot,
	}))

	go func() {
		defer o.wg.Done()
		defer p.Release(task.ID)
		o.work(ctx, task, res, jh)
	}()
}

// work runs one task to completion and records its result. The slot is
// released by the caller after the result is visible.
func (o *Orchestrator) work(ctx context.Context, task *models.Task, res models.TaskResult, jh *jumpHost) {
	opts := session.Options{
		ID:           task.ID,
		Host:         task.Host,
		Port:         task.Port,
		Description:  task.Description,
		Auth:         task.Auth,
		Timeouts:     task.Timeouts,
		Vendor:       task.Vendor,
		Dialer:       o.dialer,
		Rules:        o.rules,
		PollInterval: o.cfg.ReadInterval,
		Now:          o.now,
		Sleep:        o.sleep,
	}
	if jh != nil {
		opts.Via = jh.session
	}
	sess := session.New(opts)

	var commands []models.CommandResult
	var sendErr error
	connectErr := sess.Connect(ctx)
	if connectErr == nil {
		commands, sendErr = sess.SendAll(ctx, task.Commands, task.FailOnFirstError)
	}
	sess.Disconnect()

	res.Commands = commands
	res.History = sess.History()
	res.Raw = sess.Raw()
	res.AuthenticatedAs = sess.AuthenticatedAs()
	res.ServerVersion = sess.ServerVersion()
	res.Vendor = sess.Vendor()
	if m, ok := sess.Prompt(); ok {
		res.Prompt = m.Info()
	}

	switch {
	case !sess.WasConnected():
		res.Status = models.TaskStatusFailed
		res.Error = errMessage(connectErr)
		if res.Error == "" {
			res.Error = errMessage(sess.Err())
		}
	case connectErr != nil:
		// Logged in, then lost the session while raising privileges.
		res.Status = models.TaskStatusFailed
		res.Error = errMessage(connectErr)
	case sendErr != nil:
		res.Status = models.TaskStatusFailed
		res.Error = errMessage(sendErr)
	default:
		res.Status = models.TaskStatusComplete
	}

	if o.analyzers != nil && len(commands) > 0 {
		res.Collection = o.analyze(res.Vendor, commands)
	}
	res.FinishedAt = o.now()

	log := o.logger.With().Str("task_id", task.ID).Str("host", task.Address()).Logger()
	for _, c := range commands {
		if c.Error == "" {
			continue
		}
		log.Warn().Str("command", logging.Redact(c.Command)).Str("error", c.Error).Msg("command error")
		o.publish(events.New(models.EventTypeCommandError, models.EntityTypeTask, task.ID, models.CommandErrorPayload{
			Command: c.Command,
			Error:   c.Error,
		}))
	}

	o.mu.Lock()
	o.results[task.ID] = &res
	o.mu.Unlock()

	if res.Status == models.TaskStatusFailed {
		log.Warn().Str("error", res.Error).Msg("task failed")
	} else {
		log.Info().Int("commands", len(commands)).Dur("elapsed", res.Duration()).Msg("task complete")
	}
	o.publishFinished(&res)
}

// analyze feeds every command's output through the matching analyzer. An
// analyzer that rejects its output leaves its error under analysis.ErrorKey.
func (o *Orchestrator) analyze(vendor string, commands []models.CommandResult) map[string]interface{} {
	collection := analysis.Collection{}
	for _, c := range commands {
		if c.Error != "" {
			continue
		}
		_, out, _ := o.analyzers.Analyze(vendor, c.Command, c.Output, collection)
		collection = out
	}
	if len(collection) == 0 {
		return nil
	}
	return collection
}

func (o *Orchestrator) publishFinished(res *models.TaskResult) {
	t := models.EventTypeTaskCompleted
	if res.Status == models.TaskStatusFailed {
		t = models.EventTypeTaskFailed
	}
	o.publish(events.New(t, models.EntityTypeTask, res.TaskID, models.TaskFinishedPayload{
		Host:          res.Host,
		Status:        string(res.Status),
		Error:         res.Error,
		Vendor:        res.Vendor,
		CommandErrors: res.CommandErrors(),
	}))
}
