package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "farmora"

// Metrics holds the engine's prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	dispatches       *prometheus.CounterVec
	dispatchDuration prometheus.Histogram
	channelResults   *prometheus.CounterVec
	channelRetries   *prometheus.CounterVec
	jobRuns          *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	jobLastSuccess   *prometheus.GaugeVec
	expiredDeleted   prometheus.Counter
	digestsGenerated prometheus.Counter
}

// NewMetrics creates the collectors and registers them when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "notification_dispatches_total",
				Help:      "Notification dispatches by final outcome",
			},
			[]string{"outcome"},
		),
		dispatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "notification_dispatch_duration_seconds",
				Help:      "Time spent dispatching one notification across its channels",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		),
		channelResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "channel_deliveries_total",
				Help:      "Channel delivery results",
			},
			[]string{"channel", "result"},
		),
		channelRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "channel_retries_total",
				Help:      "Channel attempts retried after a transient error",
			},
			[]string{"channel"},
		),
		jobRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "scheduler_job_runs_total",
				Help:      "Scheduler job runs by result",
			},
			[]string{"job", "result"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "scheduler_job_duration_seconds",
				Help:      "Duration of scheduler job runs",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"job"},
		),
		jobLastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "scheduler_job_last_success_timestamp",
				Help:      "Timestamp of the last successful job run (seconds since epoch)",
			},
			[]string{"job"},
		),
		expiredDeleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "notifications_expired_deleted_total",
				Help:      "Expired notifications removed by cleanup",
			},
		),
		digestsGenerated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "digests_generated_total",
				Help:      "Daily digest notifications created",
			},
		),
	}

	if reg != nil {
		for _, c := range m.all() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) all() []prometheus.Collector {
	return []prometheus.Collector{
		m.dispatches,
		m.dispatchDuration,
		m.channelResults,
		m.channelRetries,
		m.jobRuns,
		m.jobDuration,
		m.jobLastSuccess,
		m.expiredDeleted,
		m.digestsGenerated,
	}
}

func (m *Metrics) ObserveDispatch(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(outcome).Inc()
	observeDuration(m.dispatchDuration, d)
}

func (m *Metrics) ObserveChannel(channel, result string) {
	if m == nil {
		return
	}
	m.channelResults.WithLabelValues(channel, result).Inc()
}

func (m *Metrics) ObserveRetry(channel string) {
	if m == nil {
		return
	}
	m.channelRetries.WithLabelValues(channel).Inc()
}

// ObserveJob records one scheduler run; result is success, error, panic or skipped.
func (m *Metrics) ObserveJob(job, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, result).Inc()
	if result == "skipped" {
		return
	}
	observeDuration(m.jobDuration.WithLabelValues(job), d)
	if result == "success" {
		m.jobLastSuccess.WithLabelValues(job).SetToCurrentTime()
	}
}

func (m *Metrics) AddExpiredDeleted(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.expiredDeleted.Add(float64(n))
}

func (m *Metrics) IncDigests() {
	if m == nil {
		return
	}
	m.digestsGenerated.Inc()
}

// observeDuration records a duration in seconds on the supplied histogram observer.
func observeDuration(observer prometheus.Observer, d time.Duration) {
	if observer == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	observer.Observe(d.Seconds())
}
