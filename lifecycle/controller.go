package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"bastionwaf/inspection"
	"bastionwaf/rules"
)

// Runnable is a background loop the controller owns: the log dispatcher,
// the event sweeper, a database writer. All of them stop when the run
// context is cancelled.
type Runnable interface {
	Run(ctx context.Context) error
}

// Controller drives the engine through its lifecycle. Commands are
// serialized; Status is lock-free so the console can poll it at any time,
// including mid-transition.
type Controller struct {
	logger      zerolog.Logger
	source      rules.Source
	buildOpts   rules.BuildOptions
	handle      *rules.Handle
	pipeline    *inspection.Pipeline
	runnables   []Runnable
	gracePeriod time.Duration

	opMu   sync.Mutex
	state  atomic.Int32
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewController creates a controller in the Stopped state.
func NewController(logger zerolog.Logger, source rules.Source, handle *rules.Handle, pipeline *inspection.Pipeline, gracePeriod time.Duration, buildOpts rules.BuildOptions, runnables ...Runnable) *Controller {
	if gracePeriod <= 0 {
		gracePeriod = 10 * time.Second
	}
	return &Controller{
		logger:      logger.With().Str("component", "lifecycle").Logger(),
		source:      source,
		buildOpts:   buildOpts,
		handle:      handle,
		pipeline:    pipeline,
		runnables:   runnables,
		gracePeriod: gracePeriod,
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State { return State(c.state.Load()) }

// Status reports the state plus the live rule-set identity.
func (c *Controller) Status() Status {
	s := c.State()
	status := Status{
		IsRunning: s == Running,
		State:     s.String(),
	}
	if snapshot := c.handle.Current(); snapshot != nil {
		status.RuleSetVersion = snapshot.Version()
		status.RuleCount = snapshot.RuleCount()
	}
	return status
}

// Start builds the initial rule set and brings the engine up. Fails
// unless the engine is stopped.
func (c *Controller) Start(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if s := c.State(); s != Stopped && s != ForceStopped {
		return &LifecycleError{Op: "start", State: s}
	}
	c.state.Store(int32(Starting))

	if err := c.buildAndPublish(ctx); err != nil {
		c.state.Store(int32(Stopped))
		return err
	}

	c.startLocked()
	c.state.Store(int32(Running))
	c.logger.Info().Msg("engine started")
	return nil
}

// Stop gracefully shuts the engine down: new inspections are rejected,
// in-flight ones get the grace period to finish, stragglers are
// force-cancelled onto the same fail-safe path as ForceStop.
func (c *Controller) Stop(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if s := c.State(); s != Running {
		return &LifecycleError{Op: "stop", State: s}
	}
	c.state.Store(int32(Stopping))

	c.stopLocked(ctx)
	c.state.Store(int32(Stopped))
	c.logger.Info().Msg("engine stopped")
	return nil
}

// ForceStop abandons in-flight inspections immediately. Callers still
// waiting get the fail-safe verdict. Allowed from any state.
func (c *Controller) ForceStop() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.pipeline.Abort()
	c.teardownLocked()
	c.state.Store(int32(ForceStopped))
	c.logger.Warn().Msg("engine force-stopped")
	return nil
}

// Restart performs stop-then-start as one logical operation.
func (c *Controller) Restart(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if s := c.State(); s != Running {
		return &LifecycleError{Op: "restart", State: s}
	}
	c.state.Store(int32(Restarting))

	c.stopLocked(ctx)

	if err := c.buildAndPublish(ctx); err != nil {
		c.state.Store(int32(Stopped))
		return err
	}
	c.startLocked()
	c.state.Store(int32(Running))
	c.logger.Info().Msg("engine restarted")
	return nil
}

// Reload rebuilds the rule set from current configuration and swaps it in
// atomically. In-flight inspections keep the snapshot they started with.
// A failed build leaves the live snapshot serving traffic unaffected.
func (c *Controller) Reload(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if s := c.State(); s != Running {
		return &LifecycleError{Op: "reload", State: s}
	}
	c.state.Store(int32(Reloading))

	err := c.buildAndPublish(ctx)
	c.state.Store(int32(Running))
	if err != nil {
		c.logger.Error().Err(err).Msg("reload rejected, previous rule set stays live")
		return err
	}
	c.logger.Info().Msg("engine reloaded")
	return nil
}

func (c *Controller) buildAndPublish(ctx context.Context) error {
	defs, sites, err := c.source.Load(ctx)
	if err != nil {
		return err
	}
	snapshot, err := rules.Build(defs, sites, c.buildOpts)
	if err != nil {
		return err
	}
	c.handle.Publish(snapshot)
	c.logger.Info().Int64("version", snapshot.Version()).Int("rules", snapshot.RuleCount()).Msg("rule set published")
	return nil
}

// startLocked launches the background loops and opens the pipeline.
func (c *Controller) startLocked() {
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.group, runCtx = errgroup.WithContext(runCtx)
	for _, r := range c.runnables {
		r := r
		c.group.Go(func() error { return r.Run(runCtx) })
	}
	c.pipeline.SetAccepting(true)
}

// stopLocked closes the pipeline, drains within the grace period, then
// tears down the background loops.
func (c *Controller) stopLocked(ctx context.Context) {
	c.pipeline.SetAccepting(false)

	drainCtx, cancel := context.WithTimeout(ctx, c.gracePeriod)
	defer cancel()
	if err := c.pipeline.Drain(drainCtx); err != nil {
		c.logger.Warn().Dur("gracePeriod", c.gracePeriod).Msg("drain grace period exceeded, force-cancelling in-flight inspections")
		c.pipeline.Abort()
	}

	c.teardownLocked()
}

func (c *Controller) teardownLocked() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	if err := c.group.Wait(); err != nil {
		c.logger.Error().Err(err).Msg("background loop exited with error")
	}
	c.cancel = nil
	c.group = nil
}
