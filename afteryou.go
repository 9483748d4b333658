package afteryou

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-after-you/config"
	"github.com/Swind/go-after-you/core"
	"github.com/Swind/go-after-you/host"
	"github.com/Swind/go-after-you/worker"
)

// RuntimeOptions carries the collaborators a config file cannot describe.
// All fields are optional.
type RuntimeOptions struct {
	// Logger overrides the logger built from the config's log level.
	Logger core.Logger

	// Metrics receives scheduler and throttle events. Defaults to NilMetrics.
	Metrics core.Metrics

	// Clock drives the frame and throttle budgets. Defaults to SystemClock.
	Clock core.Clock

	// Input overrides the host's input-pending source.
	Input host.InputSource
}

// Runtime is the composition root: one host loop, the scheduler and the
// AfterYou throttle bound to it, and the worker offloader. Every call site
// receives the Runtime explicitly; there is no package-level instance.
type Runtime struct {
	cfg    config.Config
	logger core.Logger

	loop      *host.Loop
	caps      core.Capabilities
	scheduler *core.Scheduler
	throttle  *core.Throttle
	worker    *worker.Offloader

	closeOnce sync.Once
}

// New builds a Runtime from cfg. Capabilities are probed once from the new
// loop and shared by the scheduler and the throttle.
func New(cfg config.Config, opts RuntimeOptions) *Runtime {
	logger := opts.Logger
	if logger == nil {
		logger = cfg.Logger()
	}

	hostOpts := cfg.HostOptions(logger)
	if opts.Input != nil {
		hostOpts.Input = opts.Input
	}
	loop := host.New(hostOpts)
	caps := loop.Capabilities()

	schedCfg := cfg.SchedulerConfig(logger)
	throttleCfg := cfg.ThrottleConfig(logger)
	if opts.Metrics != nil {
		schedCfg.Metrics = opts.Metrics
		throttleCfg.Metrics = opts.Metrics
	}
	if opts.Clock != nil {
		schedCfg.Clock = opts.Clock
		throttleCfg.Clock = opts.Clock
	}

	rt := &Runtime{
		cfg:       cfg,
		logger:    logger,
		loop:      loop,
		caps:      caps,
		scheduler: core.NewScheduler(loop, caps, schedCfg),
		throttle:  core.NewThrottle(loop, caps, throttleCfg),
		worker:    worker.New(cfg.WorkerOptions(caps, logger)),
	}

	logger.Info("Runtime started",
		core.F("scheduler", rt.scheduler.Name()),
		core.F("capabilities", caps),
		core.F("strategy", core.SelectStrategy(caps)))
	return rt
}

// Scheduler returns the scheduler owned by the runtime.
func (r *Runtime) Scheduler() *core.Scheduler { return r.scheduler }

// Throttle returns the AfterYou throttle owned by the runtime.
func (r *Runtime) Throttle() *core.Throttle { return r.throttle }

// Loop returns the host event loop.
func (r *Runtime) Loop() *host.Loop { return r.loop }

// Worker returns the isolated execution offloader.
func (r *Runtime) Worker() *worker.Offloader { return r.worker }

// Capabilities returns the probed capability snapshot.
func (r *Runtime) Capabilities() core.Capabilities { return r.caps }

// Logger returns the runtime logger.
func (r *Runtime) Logger() core.Logger { return r.logger }

// Config returns the configuration the runtime was built from.
func (r *Runtime) Config() config.Config { return r.cfg }

// AddTask enqueues task at PriorityNormal.
func (r *Runtime) AddTask(task Task) TaskHandle {
	return r.scheduler.AddTask(task)
}

// AddTaskWithPriority enqueues task at priority.
func (r *Runtime) AddTaskWithPriority(task Task, priority Priority) TaskHandle {
	return r.scheduler.AddTaskWithPriority(task, priority)
}

// CancelTask prevents a queued task from running. See core.Scheduler.CancelTask.
func (r *Runtime) CancelTask(h TaskHandle) {
	r.scheduler.CancelTask(h)
}

// AfterYou is a throttled suspension point for long-running code. ctx must be
// the context of a running task or of a routine started with Loop().Go.
func (r *Runtime) AfterYou(ctx context.Context, opts ...YieldOption) error {
	return r.throttle.AfterYou(ctx, opts...)
}

// SetGlobalBudget sets the default AfterYou interval. The scheduler's frame
// budget is unaffected.
func (r *Runtime) SetGlobalBudget(d time.Duration) {
	r.throttle.SetGlobalBudget(d)
}

// RunInWorker offloads fnSource to a fresh interpreter. See worker.Offloader.Run.
func (r *Runtime) RunInWorker(ctx context.Context, fnSource string, args []any, opts worker.RunOptions) (any, error) {
	return r.worker.Run(ctx, fnSource, args, opts)
}

// RunUntilIdle starts the scheduler and pumps the loop on the calling
// goroutine until nothing is left to do. It is only meaningful when the
// host is not self-driving.
func (r *Runtime) RunUntilIdle(ctx context.Context) error {
	r.scheduler.Start()
	return r.loop.RunUntilIdle(ctx)
}

// WaitIdle blocks until the scheduler drained its queues.
func (r *Runtime) WaitIdle(ctx context.Context) error {
	return r.scheduler.WaitIdle(ctx)
}

// Close stops the host loop. Queued tasks are dropped and suspended routines
// resume with host.ErrLoopClosed. Close must not be called from a task.
func (r *Runtime) Close() {
	r.closeOnce.Do(func() {
		r.loop.Stop()
		r.scheduler.Abandon()
		stats := r.scheduler.Stats()
		r.logger.Info("Runtime closed",
			core.F("scheduler", stats.Name),
			core.F("executed", stats.Executed),
			core.F("pending", stats.PendingTotal))
	})
}

// RunInWorker offloads fnSource on rt and converts the result to T.
func RunInWorker[T any](ctx context.Context, rt *Runtime, fnSource string, args []any, opts worker.RunOptions) (T, error) {
	return worker.Run[T](ctx, rt.worker, fnSource, args, opts)
}
