package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-after-you/core"
	"github.com/Swind/go-after-you/host"
	prom "github.com/prometheus/client_golang/prometheus"
)

// SchedulerSnapshotProvider provides current scheduler stats snapshots.
type SchedulerSnapshotProvider interface {
	Stats() core.SchedulerStats
}

// ThrottleSnapshotProvider provides current throttle stats snapshots.
type ThrottleSnapshotProvider interface {
	Stats() core.ThrottleStats
}

// HostSnapshotProvider provides current event loop stats snapshots.
type HostSnapshotProvider interface {
	Stats() host.Stats
}

// SnapshotPoller periodically exports scheduler, throttle and host Stats()
// snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	schedulersMu sync.RWMutex
	schedulers   map[string]SchedulerSnapshotProvider

	throttlesMu sync.RWMutex
	throttles   map[string]ThrottleSnapshotProvider

	hostsMu sync.RWMutex
	hosts   map[string]HostSnapshotProvider

	schedulerPending  *prom.GaugeVec
	schedulerRunning  *prom.GaugeVec
	schedulerMarkers  *prom.GaugeVec
	schedulerExecuted *prom.GaugeVec

	throttleBudget      *prom.GaugeVec
	throttleSuspensions *prom.GaugeVec
	throttleThrottled   *prom.GaugeVec

	hostQueued *prom.GaugeVec
	hostTimers *prom.GaugeVec
	hostParked *prom.GaugeVec
	hostTurns  *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(namespace string, reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if namespace == "" {
		namespace = "afteryou"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	gauge := func(name, help string, labels ...string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}

	p := &SnapshotPoller{
		interval:   interval,
		schedulers: make(map[string]SchedulerSnapshotProvider),
		throttles:  make(map[string]ThrottleSnapshotProvider),
		hosts:      make(map[string]HostSnapshotProvider),

		schedulerPending:  gauge("scheduler_pending", "Pending tasks per scheduler and priority.", "scheduler", "priority"),
		schedulerRunning:  gauge("scheduler_running", "Scheduler work loop state (1=running, 0=idle).", "scheduler"),
		schedulerMarkers:  gauge("scheduler_cancel_markers", "Cancellation markers not yet consumed.", "scheduler"),
		schedulerExecuted: gauge("scheduler_executed_total", "Scheduler executed task count snapshot.", "scheduler"),

		throttleBudget:      gauge("throttle_budget_seconds", "Current AfterYou global budget.", "throttle"),
		throttleSuspensions: gauge("throttle_suspensions_total", "AfterYou calls that suspended.", "throttle"),
		throttleThrottled:   gauge("throttle_throttled_total", "AfterYou calls that returned immediately.", "throttle"),

		hostQueued: gauge("host_queued", "Macrotasks queued on the event loop.", "host"),
		hostTimers: gauge("host_timers", "Armed timers on the event loop.", "host"),
		hostParked: gauge("host_parked", "Coroutines suspended on the event loop.", "host"),
		hostTurns:  gauge("host_turns_total", "Event loop turns snapshot.", "host"),
	}

	for _, vec := range []**prom.GaugeVec{
		&p.schedulerPending, &p.schedulerRunning, &p.schedulerMarkers, &p.schedulerExecuted,
		&p.throttleBudget, &p.throttleSuspensions, &p.throttleThrottled,
		&p.hostQueued, &p.hostTimers, &p.hostParked, &p.hostTurns,
	} {
		registered, err := registerCollector(reg, *vec)
		if err != nil {
			return nil, err
		}
		*vec = registered
	}

	return p, nil
}

// AddScheduler adds or replaces a scheduler snapshot provider by name.
func (p *SnapshotPoller) AddScheduler(name string, provider SchedulerSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "scheduler")
	p.schedulersMu.Lock()
	p.schedulers[name] = provider
	p.schedulersMu.Unlock()
}

// AddThrottle adds or replaces a throttle snapshot provider by name.
func (p *SnapshotPoller) AddThrottle(name string, provider ThrottleSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "throttle")
	p.throttlesMu.Lock()
	p.throttles[name] = provider
	p.throttlesMu.Unlock()
}

// AddHost adds or replaces an event loop snapshot provider by name.
func (p *SnapshotPoller) AddHost(name string, provider HostSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "host")
	p.hostsMu.Lock()
	p.hosts[name] = provider
	p.hostsMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx, p.done)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.schedulersMu.RLock()
	for name, provider := range p.schedulers {
		stats := provider.Stats()
		for _, priority := range core.Priorities {
			p.schedulerPending.WithLabelValues(name, priority.String()).Set(float64(stats.Pending[priority]))
		}
		p.schedulerRunning.WithLabelValues(name).Set(boolGauge(stats.State == core.StateRunning))
		p.schedulerMarkers.WithLabelValues(name).Set(float64(stats.CancelMarkers))
		p.schedulerExecuted.WithLabelValues(name).Set(float64(stats.Executed))
	}
	p.schedulersMu.RUnlock()

	p.throttlesMu.RLock()
	for name, provider := range p.throttles {
		stats := provider.Stats()
		p.throttleBudget.WithLabelValues(name).Set(stats.GlobalBudget.Seconds())
		p.throttleSuspensions.WithLabelValues(name).Set(float64(stats.Suspensions))
		p.throttleThrottled.WithLabelValues(name).Set(float64(stats.Throttled))
	}
	p.throttlesMu.RUnlock()

	p.hostsMu.RLock()
	for name, provider := range p.hosts {
		stats := provider.Stats()
		p.hostQueued.WithLabelValues(name).Set(float64(stats.Queued))
		p.hostTimers.WithLabelValues(name).Set(float64(stats.Timers))
		p.hostParked.WithLabelValues(name).Set(float64(stats.Parked))
		p.hostTurns.WithLabelValues(name).Set(float64(stats.Turns))
	}
	p.hostsMu.RUnlock()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
