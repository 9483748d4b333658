package prometheus

import (
	"errors"
	"fmt"
	"time"

	"github.com/Swind/go-after-you/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	// DurationBuckets default to buckets sized for sub-frame tasks.
	DurationBuckets []float64
}

// DefaultDurationBuckets spans 100µs to 250ms.
var DefaultDurationBuckets = []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1, .25}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	taskDurationSeconds *prom.HistogramVec
	taskFailedTotal     *prom.CounterVec
	taskCancelledTotal  *prom.CounterVec
	yieldTotal          *prom.CounterVec
	queueDepth          *prom.GaugeVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "afteryou"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = DefaultDurationBuckets
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Task execution duration in seconds, including awaited futures.",
		Buckets:   buckets,
	}, []string{"scheduler", "priority"})
	failedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_failed_total",
		Help:      "Total number of failed tasks.",
	}, []string{"scheduler", "priority"})
	cancelledVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_cancelled_total",
		Help:      "Total number of tasks discarded because their handle was cancelled.",
	}, []string{"scheduler", "priority"})
	yieldVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "yield_total",
		Help:      "Total number of suspensions by yield strategy.",
	}, []string{"scheduler", "strategy"})
	queueDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Queue depth per priority after the last enqueue.",
	}, []string{"scheduler", "priority"})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if failedVec, err = registerCollector(reg, failedVec); err != nil {
		return nil, err
	}
	if cancelledVec, err = registerCollector(reg, cancelledVec); err != nil {
		return nil, err
	}
	if yieldVec, err = registerCollector(reg, yieldVec); err != nil {
		return nil, err
	}
	if queueDepthVec, err = registerCollector(reg, queueDepthVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		taskDurationSeconds: durationVec,
		taskFailedTotal:     failedVec,
		taskCancelledTotal:  cancelledVec,
		yieldTotal:          yieldVec,
		queueDepth:          queueDepthVec,
	}, nil
}

// RecordTaskDuration records task execution duration.
func (m *MetricsExporter) RecordTaskDuration(schedulerName string, priority core.Priority, duration time.Duration) {
	if m == nil {
		return
	}
	m.taskDurationSeconds.WithLabelValues(normalizeLabel(schedulerName, "unknown"), priority.String()).Observe(duration.Seconds())
}

// RecordTaskFailure records failed tasks.
func (m *MetricsExporter) RecordTaskFailure(schedulerName string, priority core.Priority) {
	if m == nil {
		return
	}
	m.taskFailedTotal.WithLabelValues(normalizeLabel(schedulerName, "unknown"), priority.String()).Inc()
}

// RecordTaskCancelled records tasks dropped at dequeue.
func (m *MetricsExporter) RecordTaskCancelled(schedulerName string, priority core.Priority) {
	if m == nil {
		return
	}
	m.taskCancelledTotal.WithLabelValues(normalizeLabel(schedulerName, "unknown"), priority.String()).Inc()
}

// RecordYield records one suspension.
func (m *MetricsExporter) RecordYield(schedulerName string, strategy core.Strategy) {
	if m == nil {
		return
	}
	m.yieldTotal.WithLabelValues(normalizeLabel(schedulerName, "unknown"), strategy.String()).Inc()
}

// RecordQueueDepth records queue depth.
func (m *MetricsExporter) RecordQueueDepth(schedulerName string, priority core.Priority, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(schedulerName, "unknown"), priority.String()).Set(float64(depth))
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
