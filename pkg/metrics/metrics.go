// Package metrics exposes Prometheus collectors for the task pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the pipeline's Prometheus collectors.
type Recorder struct {
	queueDepth       prometheus.Gauge
	tasksTotal       *prometheus.CounterVec
	retriesTotal     *prometheus.CounterVec
	throttleWait     prometheus.Histogram
	interpretLatency prometheus.Histogram
}

// NewRecorder registers the pipeline collectors with the default registry.
// Call at most once per process.
func NewRecorder() *Recorder {
	return &Recorder{
		queueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "relief_queue_depth",
			Help: "Number of tasks currently waiting in the dispatch queue",
		}),
		tasksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relief_tasks_total",
				Help: "Total tasks processed by terminal status",
			},
			[]string{"status", "persona"},
		),
		retriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relief_task_retries_total",
				Help: "Total task retry attempts by error type",
			},
			[]string{"error_type"},
		),
		throttleWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "relief_throttle_wait_seconds",
			Help:    "Time tasks spent waiting on the interpreter throttle",
			Buckets: prometheus.DefBuckets,
		}),
		interpretLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "relief_interpret_duration_seconds",
			Help:    "Interpreter call latency",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// SetQueueDepth records the current queue length.
func (r *Recorder) SetQueueDepth(depth int) {
	if r == nil {
		return
	}
	r.queueDepth.Set(float64(depth))
}

// ObserveTask counts a task reaching a terminal status.
func (r *Recorder) ObserveTask(status, persona string) {
	if r == nil {
		return
	}
	r.tasksTotal.WithLabelValues(status, persona).Inc()
}

// ObserveRetry counts a retry attempt.
func (r *Recorder) ObserveRetry(errorType string) {
	if r == nil {
		return
	}
	r.retriesTotal.WithLabelValues(errorType).Inc()
}

// ObserveThrottleWait records time spent in the global throttle.
func (r *Recorder) ObserveThrottleWait(d time.Duration) {
	if r == nil {
		return
	}
	r.throttleWait.Observe(d.Seconds())
}

// ObserveInterpretLatency records one interpreter round trip.
func (r *Recorder) ObserveInterpretLatency(d time.Duration) {
	if r == nil {
		return
	}
	r.interpretLatency.Observe(d.Seconds())
}
