package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "audiencia"

// Metrics holds the collectors of one client process.
type Metrics struct {
	cycles         prometheus.Counter
	cycleDuration  prometheus.Histogram
	fetchFailures  *prometheus.CounterVec
	ticksSkipped   *prometheus.CounterVec
	reconnects     prometheus.Counter
	heartbeats     *prometheus.CounterVec
	events         *prometheus.CounterVec
	duplicates     *prometheus.CounterVec
	decisions      *prometheus.CounterVec
	staleTurns     prometheus.Counter
	requestLatency *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg.
// Pass prometheus.NewRegistry() in tests to avoid clashing with the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_cycles_total",
			Help:      "Total number of completed poll cycles.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_cycle_duration_seconds",
			Help:      "Duration of poll cycles.",
			Buckets:   prometheus.DefBuckets,
		}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_fetch_failures_total",
			Help:      "Failed fetches per entity.",
		}, []string{"entity"}),
		ticksSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_ticks_skipped_total",
			Help:      "Ticks dropped because the previous run was still in flight.",
		}, []string{"task"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_reconnects_total",
			Help:      "Number of times the sync loop entered reconnection.",
		}),
		heartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Heartbeats sent, by result.",
		}, []string{"result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Domain events published, by type.",
		}, []string{"type"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_duplicates_total",
			Help:      "Re-delivered events absorbed, by subscriber.",
		}, []string{"subscriber"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_submitted_total",
			Help:      "Decisions accepted by the authority, by origin.",
		}, []string{"origin"}),
		staleTurns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_stale_total",
			Help:      "Submissions rejected because the turn had moved on.",
		}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "authority_request_duration_seconds",
			Help:      "Latency of authority calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.cycles, m.cycleDuration, m.fetchFailures, m.ticksSkipped, m.reconnects,
			m.heartbeats, m.events, m.duplicates, m.decisions, m.staleTurns, m.requestLatency,
		)
	}
	return m
}

func (m *Metrics) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.cycles.Inc()
	m.cycleDuration.Observe(d.Seconds())
}

func (m *Metrics) FetchFailed(entity string) {
	if m == nil {
		return
	}
	m.fetchFailures.WithLabelValues(entity).Inc()
}

func (m *Metrics) TickSkipped(task string) {
	if m == nil {
		return
	}
	m.ticksSkipped.WithLabelValues(task).Inc()
}

func (m *Metrics) Reconnected() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) Heartbeat(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.heartbeats.WithLabelValues(result).Inc()
}

func (m *Metrics) EventPublished(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType).Inc()
}

func (m *Metrics) DuplicateAbsorbed(subscriber string) {
	if m == nil {
		return
	}
	m.duplicates.WithLabelValues(subscriber).Inc()
}

// DecisionSubmitted counts an accepted decision; automatic ones are labelled "bot".
func (m *Metrics) DecisionSubmitted(automatic bool) {
	if m == nil {
		return
	}
	origin := "human"
	if automatic {
		origin = "bot"
	}
	m.decisions.WithLabelValues(origin).Inc()
}

func (m *Metrics) StaleTurn() {
	if m == nil {
		return
	}
	m.staleTurns.Inc()
}

func (m *Metrics) ObserveRequest(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestLatency.WithLabelValues(op).Observe(d.Seconds())
}
