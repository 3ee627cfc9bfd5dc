// Package orchestrator runs batches of tasks across direct connections and
// shared jump hosts with bounded concurrency.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tOgg1/jumpshell/internal/analysis"
	"github.com/tOgg1/jumpshell/internal/config"
	"github.com/tOgg1/jumpshell/internal/events"
	"github.com/tOgg1/jumpshell/internal/identify"
	"github.com/tOgg1/jumpshell/internal/logging"
	"github.com/tOgg1/jumpshell/internal/models"
	"github.com/tOgg1/jumpshell/internal/pool"
	"github.com/tOgg1/jumpshell/internal/session"
	"github.com/tOgg1/jumpshell/internal/transport"
)

// DefaultPollInterval is how often the scheduling loop scans pools.
const DefaultPollInterval = 50 * time.Millisecond

var (
	// ErrRunning is returned when Run is called while a run is in progress.
	ErrRunning = errors.New("orchestrator is already running")

	// ErrNilTask is returned when submitting a nil task.
	ErrNilTask = errors.New("task is nil")
)

// Config holds scheduling settings.
type Config struct {
	// PollInterval is the scheduling loop period.
	PollInterval time.Duration

	// ReadInterval is the session read poll period.
	ReadInterval time.Duration

	// MaxDirectConnections caps concurrent sessions without a jump host.
	MaxDirectConnections int

	// JumpHostCapacity is the slot count for jump hosts that do not set one.
	JumpHostCapacity int

	// DeviceTimeouts fill unset task timeouts.
	DeviceTimeouts models.Timeouts

	// JumpHostTimeouts fill unset jump host timeouts.
	JumpHostTimeouts models.Timeouts
}

// DefaultConfig returns the built-in scheduling settings.
func DefaultConfig() Config {
	return Config{
		PollInterval:         DefaultPollInterval,
		ReadInterval:         session.DefaultPollInterval,
		MaxDirectConnections: pool.DefaultCapacity,
		JumpHostCapacity:     pool.DefaultCapacity,
	}
}

// ConfigFrom derives scheduling settings from the loaded configuration.
func ConfigFrom(cfg *config.Config) Config {
	out := DefaultConfig()
	if cfg == nil {
		return out
	}
	if cfg.Orchestrator.PollInterval > 0 {
		out.PollInterval = cfg.Orchestrator.PollInterval
	}
	if cfg.Orchestrator.ReadInterval > 0 {
		out.ReadInterval = cfg.Orchestrator.ReadInterval
	}
	if cfg.Devices.Defaults.MaxDirectConnections > 0 {
		out.MaxDirectConnections = cfg.Devices.Defaults.MaxDirectConnections
	}
	if cfg.JumpHosts.Defaults.MaxConnections > 0 {
		out.JumpHostCapacity = cfg.JumpHosts.Defaults.MaxConnections
	}
	out.DeviceTimeouts = cfg.DeviceTimeouts()
	out.JumpHostTimeouts = cfg.JumpHostTimeouts()
	return out
}

// ResultStore persists a finished run.
type ResultStore interface {
	SaveRun(ctx context.Context, run *models.Run, results []*models.TaskResult) error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRules sets the prompt ruleset used by every session.
func WithRules(rules *identify.Ruleset) Option {
	return func(o *Orchestrator) { o.rules = rules }
}

// WithAnalyzers runs the registry over each command's output.
func WithAnalyzers(r *analysis.Registry) Option {
	return func(o *Orchestrator) { o.analyzers = r }
}

// WithPublisher sets the event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithStore persists each finished run.
func WithStore(s ResultStore) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithSource labels runs, e.g. with the batch file name.
func WithSource(source string) Option {
	return func(o *Orchestrator) { o.source = source }
}

// WithClock replaces the session clock, mostly for tests.
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) Option {
	return func(o *Orchestrator) {
		o.now = now
		o.sleep = sleep
	}
}

// Orchestrator owns the direct pool, the jump host table and the result
// table for one batch. It is not reused across concurrent runs.
type Orchestrator struct {
	cfg       Config
	dialer    transport.Dialer
	rules     *identify.Ruleset
	analyzers *analysis.Registry
	publisher events.Publisher
	store     ResultStore
	source    string
	now       func() time.Time
	sleep     func(context.Context, time.Duration) error
	logger    zerolog.Logger

	mu      sync.Mutex
	running bool
	runID   string
	direct  *pool.Pool
	jumps   []*jumpHost
	byKey   map[string]*jumpHost
	order   []string
	results map[string]*models.TaskResult
	wg      sync.WaitGroup
}

// New creates an orchestrator.
func New(cfg Config, dialer transport.Dialer, opts ...Option) *Orchestrator {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ReadInterval <= 0 {
		cfg.ReadInterval = def.ReadInterval
	}
	if cfg.MaxDirectConnections <= 0 {
		cfg.MaxDirectConnections = def.MaxDirectConnections
	}
	if cfg.JumpHostCapacity <= 0 {
		cfg.JumpHostCapacity = def.JumpHostCapacity
	}

	o := &Orchestrator{
		cfg:     cfg,
		dialer:  dialer,
		logger:  logging.Component("orchestrator"),
		direct:  pool.New("direct", cfg.MaxDirectConnections),
		byKey:   make(map[string]*jumpHost),
		results: make(map[string]*models.TaskResult),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.rules == nil {
		o.rules = identify.Default()
	}
	if o.publisher == nil {
		o.publisher = events.NewInMemoryPublisher()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Submit validates a task and queues it. Tasks may be submitted before or
// during Run.
func (o *Orchestrator) Submit(task *models.Task) error {
	if task == nil {
		return ErrNilTask
	}
	if err := task.Validate(); err != nil {
		return err
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Port == 0 {
		task.Port = models.DefaultSSHPort
	}
	if task.SubmittedAt.IsZero() {
		task.SubmittedAt = o.now()
	}
	task.Timeouts = task.Timeouts.Merge(o.cfg.DeviceTimeouts)

	res := &models.TaskResult{
		TaskID:      task.ID,
		Host:        task.Host,
		Port:        task.Port,
		Description: task.Description,
		Status:      models.TaskStatusQueued,
		Parameters:  task.Parameters,
	}

	o.mu.Lock()
	if _, exists := o.results[task.ID]; exists {
		o.mu.Unlock()
		return fmt.Errorf("duplicate task id %q", task.ID)
	}
	o.results[task.ID] = res
	o.order = append(o.order, task.ID)

	if task.JumpHost == nil {
		o.direct.Enqueue(task)
	} else {
		res.JumpHost = task.JumpHost.Label()
		o.jumpHostFor(task.JumpHost).pool.Enqueue(task)
	}
	o.mu.Unlock()

	o.publish(events.New(models.EventTypeTaskQueued, models.EntityTypeTask, task.ID, map[string]string{
		"host":      task.Address(),
		"jump_host": res.JumpHost,
	}))
	return nil
}

// jumpHostFor returns the live entry for j, creating one when none exists or
// the previous one has finished. Caller holds o.mu.
func (o *Orchestrator) jumpHostFor(j *models.JumpHost) *jumpHost {
	key := j.Key()
	if jh, ok := o.byKey[key]; ok && jh.phase() != phaseDone {
		return jh
	}

	capacity := j.MaxSessions
	if capacity <= 0 {
		capacity = o.cfg.JumpHostCapacity
	}
	port := j.Port
	if port == 0 {
		port = models.DefaultSSHPort
	}
	jh := &jumpHost{
		key:   key,
		label: j.Label(),
		pool:  pool.New(key, capacity),
		session: session.New(session.Options{
			ID:           "jump:" + key,
			Host:         j.Host,
			Port:         port,
			Description:  j.Description,
			Auth:         j.Auth,
			Timeouts:     j.Timeouts.Merge(o.cfg.JumpHostTimeouts),
			Dialer:       o.dialer,
			Rules:        o.rules,
			PollInterval: o.cfg.ReadInterval,
			Now:          o.now,
			Sleep:        o.sleep,
		}),
	}
	o.byKey[key] = jh
	o.jumps = append(o.jumps, jh)
	o.logger.Debug().Str("jump_host", key).Int("capacity", capacity).Msg("jump host registered")
	return jh
}

// Results returns a snapshot of the result table in submission order.
func (o *Orchestrator) Results() []*models.TaskResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*models.TaskResult, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, o.results[id])
	}
	return out
}

// QueueLen returns the number of tasks waiting for a slot.
func (o *Orchestrator) QueueLen() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := o.direct.QueueLen()
	for _, jh := range o.jumps {
		n += jh.pool.QueueLen()
	}
	return n
}

// JumpHostCount returns how many jump host connections have been created.
func (o *Orchestrator) JumpHostCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.jumps)
}

// RunID returns the identifier of the current or last run.
func (o *Orchestrator) RunID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runID
}

// Run drives every submitted task to a terminal state and returns the
// results in submission order. When ctx is cancelled, queued tasks fail with
// "Cancelled", running sessions abort, and ctx.Err() is returned with the
// results.
func (o *Orchestrator) Run(ctx context.Context) ([]*models.TaskResult, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil, ErrRunning
	}
	o.running = true
	o.runID = uuid.New().String()
	run := &models.Run{ID: o.runID, Source: o.source, StartedAt: o.now()}
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	log := logging.WithRun(run.ID).With().Str("component", "orchestrator").Logger()
	log.Info().Int("tasks", len(o.Results())).Msg("run started")
	o.publish(events.New(models.EventTypeRunStarted, models.EntityTypeRun, run.ID, map[string]string{"source": o.source}))

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			o.cancel(ctx)
			break
		}
		o.step(ctx)
		if o.finished() {
			break
		}
		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
	o.wg.Wait()
	o.shutdownJumpHosts()

	results := o.Results()
	run.FinishedAt = o.now()
	run.TaskCount = len(results)
	for _, r := range results {
		if r.Status == models.TaskStatusFailed {
			run.Failed++
		}
	}

	if o.store != nil {
		// Persist with a fresh context so a cancelled run still records what happened.
		if err := o.store.SaveRun(context.WithoutCancel(ctx), run, results); err != nil {
			log.Error().Err(err).Msg("failed to store results")
		}
	}

	log.Info().
		Int("tasks", run.TaskCount).
		Int("failed", run.Failed).
		Dur("elapsed", run.FinishedAt.Sub(run.StartedAt)).
		Msg("run finished")
	o.publish(events.New(models.EventTypeRunFinished, models.EntityTypeRun, run.ID, map[string]int{
		"tasks":  run.TaskCount,
		"failed": run.Failed,
	}))

	return results, ctx.Err()
}

// step is one pass of the scheduling loop. It never blocks on the network.
func (o *Orchestrator) step(ctx context.Context) {
	o.mu.Lock()
	jumps := make([]*jumpHost, len(o.jumps))
	copy(jumps, o.jumps)
	o.mu.Unlock()

	for _, jh := range jumps {
		o.stepJumpHost(ctx, jh)
	}

	for {
		task, slot, ok := o.direct.Claim()
		if !ok {
			break
		}
		o.launch(ctx, task, slot, o.direct, nil)
	}
}

func (o *Orchestrator) stepJumpHost(ctx context.Context, jh *jumpHost) {
	switch jh.phase() {
	case phasePending:
		if jh.pool.QueueLen() == 0 {
			return
		}
		jh.setPhase(phaseConnecting)
		o.wg.Add(1)
		go o.connectJumpHost(ctx, jh)

	case phaseConnected:
		if jh.session.State() != session.StateConnected {
			err := jh.session.Err()
			o.publishJump(models.EventTypeJumpHostFailed, jh, err)
			jh.fail(err)
			o.stepJumpHost(ctx, jh)
			return
		}
		for {
			task, slot, ok := jh.pool.Claim()
			if !ok {
				break
			}
			o.launch(ctx, task, slot, jh.pool, jh)
		}
		if o.retire(jh) {
			jh.session.Disconnect()
			o.publishJump(models.EventTypeJumpHostDisconnected, jh, nil)
			return
		}
		if jh.session.KeepaliveDue() {
			o.keepalive(jh)
		}

	case phaseFailed:
		for _, task := range jh.pool.Drain() {
			o.failQueued(task, fmt.Sprintf("Jump host '%s' unavailable: %s", jh.label, errMessage(jh.err())))
		}
		if o.retire(jh) {
			jh.session.Disconnect()
		}
	}
}

// retire moves jh to done once its pool is idle. The check and the move
// happen under o.mu, so a concurrent Submit either queues before the check
// or sees the entry done and registers a new one.
func (o *Orchestrator) retire(jh *jumpHost) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !jh.pool.Idle() {
		return false
	}
	jh.setPhase(phaseDone)
	return true
}

func (o *Orchestrator) connectJumpHost(ctx context.Context, jh *jumpHost) {
	defer o.wg.Done()

	o.publishJump(models.EventTypeJumpHostConnecting, jh, nil)
	if err := jh.session.Connect(ctx); err != nil {
		o.logger.Warn().Str("jump_host", jh.key).Str("error", errMessage(err)).Msg("jump host connection failed")
		o.publishJump(models.EventTypeJumpHostFailed, jh, err)
		jh.fail(err)
		return
	}
	o.logger.Debug().Str("jump_host", jh.key).Msg("jump host connected")
	o.publishJump(models.EventTypeJumpHostConnected, jh, nil)
	jh.setPhase(phaseConnected)
}

func (o *Orchestrator) keepalive(jh *jumpHost) {
	if !jh.beginKeepalive() {
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer jh.endKeepalive()
		if err := jh.session.Keepalive(); err != nil {
			o.logger.Warn().Str("jump_host", jh.key).Err(err).Msg("jump host keepalive failed")
		}
	}()
}

// cancel fails everything still queued after ctx is done.
func (o *Orchestrator) cancel(ctx context.Context) {
	o.logger.Warn().Err(ctx.Err()).Msg("run cancelled")

	for _, task := range o.direct.Drain() {
		o.failQueued(task, session.MsgCancelled)
	}
	o.mu.Lock()
	jumps := make([]*jumpHost, len(o.jumps))
	copy(jumps, o.jumps)
	o.mu.Unlock()
	for _, jh := range jumps {
		for _, task := range jh.pool.Drain() {
			o.failQueued(task, session.MsgCancelled)
		}
	}
}

// finished reports whether every queue is empty, the direct pool is idle and
// every jump host is finalised. A jump host that never had work stays pending.
func (o *Orchestrator) finished() bool {
	if !o.direct.Idle() {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, jh := range o.jumps {
		switch jh.phase() {
		case phaseDone:
		case phasePending:
			if jh.pool.QueueLen() > 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// shutdownJumpHosts disconnects anything left open after a cancelled run.
func (o *Orchestrator) shutdownJumpHosts() {
	o.mu.Lock()
	jumps := make([]*jumpHost, len(o.jumps))
	copy(jumps, o.jumps)
	o.mu.Unlock()

	for _, jh := range jumps {
		// Pending entries have no connection; their queue is left for the next Run.
		if p := jh.phase(); p == phaseDone || p == phasePending {
			continue
		}
		jh.session.Disconnect()
		jh.setPhase(phaseDone)
		o.publishJump(models.EventTypeJumpHostDisconnected, jh, jh.err())
	}
}

func (o *Orchestrator) failQueued(task *models.Task, msg string) {
	now := o.now()
	o.mu.Lock()
	prev := o.results[task.ID]
	res := *prev
	res.Status = models.TaskStatusFailed
	res.Error = msg
	res.StartedAt = now
	res.FinishedAt = now
	o.results[task.ID] = &res
	o.mu.Unlock()

	o.logger.Warn().Str("task_id", task.ID).Str("host", task.Host).Str("error", msg).Msg("task not started")
	o.publishFinished(&res)
}

func (o *Orchestrator) publish(event *models.Event) {
	o.publisher.Publish(context.Background(), event)
}

func (o *Orchestrator) publishJump(t models.EventType, jh *jumpHost, err error) {
	payload := models.JumpHostPayload{
		Address: jh.session.Label(),
		Error:   errMessage(err),
		Slots:   jh.pool.Capacity(),
	}
	o.publish(events.New(t, models.EntityTypeJumpHost, jh.key, payload))
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	var ce *session.ConnectError
	if errors.As(err, &ce) {
		return ce.Message
	}
	return err.Error()
}
