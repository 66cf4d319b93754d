package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Notification outcomes
const (
	NotifyScheduled = "scheduled"
	NotifyDenied    = "denied"
	NotifyCancelled = "cancelled"
	NotifyDelivered = "delivered"
	NotifyFailed    = "failed"
)

type Metrics struct {
	startTime time.Time
	registry  *prometheus.Registry

	doseTransitions *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	sweeps          prometheus.Counter
	sweepErrors     prometheus.Counter
	sweepDuration   prometheus.Histogram
	historyAppends  prometheus.Counter
	adherenceRate   prometheus.Gauge

	dosesTaken   atomic.Int64
	dosesSkipped atomic.Int64
	dosesMissed  atomic.Int64

	sweepsTotal    atomic.Int64
	sweepsFailed   atomic.Int64
	historyTotal   atomic.Int64
	lastAdherence  atomic.Int64
	lastSweepNanos atomic.Int64

	notifyCounts map[string]*atomic.Int64
	notifyLock   sync.Mutex
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = New()
	})
	return defaultMetrics
}

// New builds a Metrics with its own prometheus registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		startTime: time.Now(),
		registry:  reg,
		doseTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medtrack",
			Name:      "dose_transitions_total",
			Help:      "Dose status transitions by target status",
		}, []string{"status"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medtrack",
			Name:      "notifications_total",
			Help:      "Notification requests by outcome",
		}, []string{"outcome"}),
		sweeps: f.NewCounter(prometheus.CounterOpts{
			Namespace: "medtrack",
			Name:      "missed_sweeps_total",
			Help:      "Missed-dose sweeps run",
		}),
		sweepErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "medtrack",
			Name:      "missed_sweep_errors_total",
			Help:      "Missed-dose sweeps that returned an error",
		}),
		sweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "medtrack",
			Name:      "missed_sweep_duration_seconds",
			Help:      "Missed-dose sweep latency",
			Buckets:   prometheus.DefBuckets,
		}),
		historyAppends: f.NewCounter(prometheus.CounterOpts{
			Namespace: "medtrack",
			Name:      "history_appends_total",
			Help:      "History ledger entries written",
		}),
		adherenceRate: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "medtrack",
			Name:      "adherence_rate_percent",
			Help:      "Most recently computed adherence rate",
		}),
		notifyCounts: make(map[string]*atomic.Int64),
	}
}

// RecordDose counts a transition into status (taken, skipped, missed)
func (m *Metrics) RecordDose(status string) {
	m.doseTransitions.WithLabelValues(status).Inc()
	switch status {
	case "taken":
		m.dosesTaken.Add(1)
	case "skipped":
		m.dosesSkipped.Add(1)
	case "missed":
		m.dosesMissed.Add(1)
	}
}

func (m *Metrics) RecordNotification(outcome string) {
	m.notifications.WithLabelValues(outcome).Inc()

	m.notifyLock.Lock()
	defer m.notifyLock.Unlock()

	if m.notifyCounts[outcome] == nil {
		m.notifyCounts[outcome] = &atomic.Int64{}
	}
	m.notifyCounts[outcome].Add(1)
}

func (m *Metrics) RecordSweep(d time.Duration, err error) {
	m.sweeps.Inc()
	m.sweepsTotal.Add(1)
	m.sweepDuration.Observe(d.Seconds())
	m.lastSweepNanos.Store(d.Nanoseconds())
	if err != nil {
		m.sweepErrors.Inc()
		m.sweepsFailed.Add(1)
	}
}

func (m *Metrics) RecordHistoryAppend() {
	m.historyAppends.Inc()
	m.historyTotal.Add(1)
}

func (m *Metrics) SetAdherenceRate(rate int) {
	m.adherenceRate.Set(float64(rate))
	m.lastAdherence.Store(int64(rate))
}

// Registry exposes the underlying prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

type Snapshot struct {
	Uptime            time.Duration    `json:"uptime"`
	DosesTaken        int64            `json:"doses_taken"`
	DosesSkipped      int64            `json:"doses_skipped"`
	DosesMissed       int64            `json:"doses_missed"`
	SweepsTotal       int64            `json:"sweeps_total"`
	SweepsFailed      int64            `json:"sweeps_failed"`
	LastSweepDuration time.Duration    `json:"last_sweep_duration"`
	HistoryAppends    int64            `json:"history_appends"`
	AdherenceRate     int64            `json:"adherence_rate"`
	Notifications     map[string]int64 `json:"notifications"`
}

func (m *Metrics) Snapshot() *Snapshot {
	s := &Snapshot{
		Uptime:            time.Since(m.startTime),
		DosesTaken:        m.dosesTaken.Load(),
		DosesSkipped:      m.dosesSkipped.Load(),
		DosesMissed:       m.dosesMissed.Load(),
		SweepsTotal:       m.sweepsTotal.Load(),
		SweepsFailed:      m.sweepsFailed.Load(),
		LastSweepDuration: time.Duration(m.lastSweepNanos.Load()),
		HistoryAppends:    m.historyTotal.Load(),
		AdherenceRate:     m.lastAdherence.Load(),
		Notifications:     make(map[string]int64),
	}

	m.notifyLock.Lock()
	for k, v := range m.notifyCounts {
		s.Notifications[k] = v.Load()
	}
	m.notifyLock.Unlock()

	return s
}

func RecordDose(status string) {
	Default().RecordDose(status)
}

func RecordNotification(outcome string) {
	Default().RecordNotification(outcome)
}

func RecordSweep(d time.Duration, err error) {
	Default().RecordSweep(d, err)
}

func RecordHistoryAppend() {
	Default().RecordHistoryAppend()
}

func SetAdherenceRate(rate int) {
	Default().SetAdherenceRate(rate)
}

func Handler() http.Handler {
	return Default().Handler()
}

func TakeSnapshot() *Snapshot {
	return Default().Snapshot()
}
