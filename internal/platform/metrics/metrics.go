package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the registrar.
// Methods are nil-safe so components can run without metrics in tests.
type Metrics struct {
	ScannerHeight       prometheus.Gauge
	BlocksProcessed     prometheus.Counter
	CallsApplied        *prometheus.CounterVec
	GuardRejections     *prometheus.CounterVec
	ChallengesSent      *prometheus.CounterVec
	ChallengesFailed    *prometheus.CounterVec
	Completions         *prometheus.CounterVec
	JudgementsSubmitted prometheus.Counter
	JudgementsFailed    prometheus.Counter
	ReconcileDuration   prometheus.Histogram
	EventsPublished     prometheus.Counter
}

// New registers metrics on the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers metrics on reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ScannerHeight: f.NewGauge(prometheus.GaugeOpts{
			Name: "registrar_scanner_last_processed_height",
			Help: "Last block height fully applied by the scanner",
		}),
		BlocksProcessed: f.NewCounter(prometheus.CounterOpts{
			Name: "registrar_scanner_blocks_processed_total",
			Help: "Total number of blocks applied by the scanner",
		}),
		CallsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "registrar_scanner_calls_applied_total",
			Help: "Identity calls applied, by event kind",
		}, []string{"kind"}),
		GuardRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "registrar_guard_rejections_total",
			Help: "Work skipped because the dedup guard was held, by scope",
		}, []string{"scope"}),
		ChallengesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "registrar_challenges_dispatched_total",
			Help: "Challenges handed to a channel driver successfully",
		}, []string{"channel"}),
		ChallengesFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "registrar_challenges_failed_total",
			Help: "Challenges a channel driver failed to send",
		}, []string{"channel"}),
		Completions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "registrar_completions_total",
			Help: "Channel completion callbacks, by outcome",
		}, []string{"channel", "outcome"}),
		JudgementsSubmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "registrar_judgements_submitted_total",
			Help: "Judgement transactions accepted by the chain",
		}),
		JudgementsFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "registrar_judgements_failed_total",
			Help: "Judgement transaction submissions that failed",
		}),
		ReconcileDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "registrar_reconcile_tick_duration_seconds",
			Help:    "Duration of reconciler ticks",
			Buckets: prometheus.DefBuckets,
		}),
		EventsPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "registrar_lifecycle_events_published_total",
			Help: "Lifecycle events relayed to the event stream",
		}),
	}
}

func (m *Metrics) SetScannerHeight(h uint64) {
	if m == nil {
		return
	}
	m.ScannerHeight.Set(float64(h))
}

func (m *Metrics) IncBlocksProcessed() {
	if m == nil {
		return
	}
	m.BlocksProcessed.Inc()
}

func (m *Metrics) IncCallsApplied(kind string) {
	if m == nil {
		return
	}
	m.CallsApplied.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncGuardRejections(scope string) {
	if m == nil {
		return
	}
	m.GuardRejections.WithLabelValues(scope).Inc()
}

func (m *Metrics) IncChallengeSent(channel string) {
	if m == nil {
		return
	}
	m.ChallengesSent.WithLabelValues(channel).Inc()
}

func (m *Metrics) IncChallengeFailed(channel string) {
	if m == nil {
		return
	}
	m.ChallengesFailed.WithLabelValues(channel).Inc()
}

func (m *Metrics) IncCompletion(channel, outcome string) {
	if m == nil {
		return
	}
	m.Completions.WithLabelValues(channel, outcome).Inc()
}

func (m *Metrics) IncJudgementSubmitted() {
	if m == nil {
		return
	}
	m.JudgementsSubmitted.Inc()
}

func (m *Metrics) IncJudgementFailed() {
	if m == nil {
		return
	}
	m.JudgementsFailed.Inc()
}

// ObserveReconcile records the elapsed time since start.
func (m *Metrics) ObserveReconcile(start time.Time) {
	if m == nil {
		return
	}
	m.ReconcileDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) AddEventsPublished(n int) {
	if m == nil {
		return
	}
	m.EventsPublished.Add(float64(n))
}
