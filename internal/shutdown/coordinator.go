package shutdown

import (
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-match-server/internal/metrics"
)

// Hooks are the process pieces the coordinator drives. All are optional;
// a nil hook is skipped.
type Hooks struct {
	// StopAccepting closes the listener so no new connections arrive.
	// Connections already open stay up for the drain.
	StopAccepting func()
	// Notify broadcasts the restart notice to every connected client.
	Notify func()
	// Cleanup flushes timers and state. An error is logged, never fatal.
	Cleanup func() error
	// LiveCount reports connections still open, polled while draining.
	LiveCount func() int
	// CloseAll force-closes whatever is left after the drain timeout.
	CloseAll func()
}

// Coordinator walks the stop sequence exactly once: flag, stop
// accepting, notice, cleanup, bounded drain, forced close, exit 0.
// Repeat triggers while draining are no-ops.
type Coordinator struct {
	st    *State
	hooks Hooks

	drainTimeout time.Duration
	drainPoll    time.Duration

	log  *zap.Logger
	mets *metrics.Registry

	sleep func(time.Duration)
	exit  func(int)
}

func NewCoordinator(st *State, hooks Hooks, drainTimeout, drainPoll time.Duration, mets *metrics.Registry, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		st:           st,
		hooks:        hooks,
		drainTimeout: drainTimeout,
		drainPoll:    drainPoll,
		log:          log,
		mets:         mets,
		sleep:        time.Sleep,
		exit:         os.Exit,
	}
}

// Shutdown runs the full sequence and terminates the process with exit
// code 0. The drain is a bounded wait: a client that never closes its
// connection cannot hold the process past the timeout.
func (c *Coordinator) Shutdown(reason string) {
	if !c.st.Begin() {
		c.log.Info("shutdown_repeat_ignored", zap.String("reason", reason))
		return
	}
	c.mets.Inc(metrics.ShutdownInProgress)
	c.log.Info("shutdown_begin",
		zap.String("reason", reason),
		zap.Duration("drain_timeout", c.drainTimeout),
	)

	if c.hooks.StopAccepting != nil {
		c.hooks.StopAccepting()
	}

	if c.hooks.Notify != nil {
		c.hooks.Notify()
	}

	if c.hooks.Cleanup != nil {
		if err := c.hooks.Cleanup(); err != nil {
			c.log.Error("shutdown_cleanup_failed", zap.Error(err))
		}
	}

	c.drain()

	if c.hooks.CloseAll != nil {
		c.hooks.CloseAll()
	}

	c.log.Info("shutdown_complete", zap.String("reason", reason))
	_ = c.log.Sync()
	c.exit(0)
}

func (c *Coordinator) drain() {
	if c.hooks.LiveCount == nil {
		return
	}
	waited := time.Duration(0)
	for {
		n := c.hooks.LiveCount()
		if n == 0 {
			c.log.Info("shutdown_drained", zap.Duration("waited", waited))
			return
		}
		if waited >= c.drainTimeout {
			c.log.Warn("shutdown_drain_timeout",
				zap.Int("remaining", n),
				zap.Duration("waited", waited),
			)
			return
		}
		c.sleep(c.drainPoll)
		waited += c.drainPoll
	}
}
