package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus instrument of the bot pipeline.
type Metrics struct {
	// Ingestion
	TurnsAppended      *prometheus.CounterVec
	FragmentsDiscarded *prometheus.CounterVec
	AppendFailures     prometheus.Counter

	// Webhooks
	WebhookDeliveries *prometheus.CounterVec

	// Lifecycle
	Transitions *prometheus.CounterVec
	StuckBots   prometheus.Gauge

	// Assistant
	AssistantCalls   *prometheus.CounterVec
	AssistantLatency prometheus.Histogram
	ChatSendFailures prometheus.Counter

	// Workers
	ActiveWorkers prometheus.Gauge
	DroppedEvents *prometheus.CounterVec
	WorkerPanics  prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TurnsAppended: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cogito_turns_appended_total",
				Help: "Turns written to the turn log",
			},
			[]string{"source_type"},
		),
		FragmentsDiscarded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cogito_fragments_discarded_total",
				Help: "Transcript fragments dropped without producing a turn",
			},
			[]string{"reason"},
		),
		AppendFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cogito_turn_append_failures_total",
				Help: "Turn appends that failed after retries",
			},
		),
		WebhookDeliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cogito_webhook_deliveries_total",
				Help: "Inbound webhook deliveries by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		Transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cogito_bot_transitions_total",
				Help: "Bot state transitions attempted",
			},
			[]string{"to", "outcome"},
		),
		StuckBots: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "cogito_stuck_bots",
				Help: "Bots reported by the last stuck sweep",
			},
		),
		AssistantCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cogito_assistant_calls_total",
				Help: "Assistant invocations by outcome",
			},
			[]string{"outcome"},
		),
		AssistantLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cogito_assistant_latency_seconds",
				Help:    "Assistant call latency",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
			},
		),
		ChatSendFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cogito_chat_send_failures_total",
				Help: "Assistant replies that could not be delivered to the meeting chat",
			},
		),
		ActiveWorkers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "cogito_active_workers",
				Help: "Per-bot workers currently running",
			},
		),
		DroppedEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cogito_dropped_events_total",
				Help: "Events dropped before reaching a worker",
			},
			[]string{"reason"},
		),
		WorkerPanics: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cogito_worker_panics_total",
				Help: "Recovered panics in per-bot workers",
			},
		),
	}
}

// NewNop returns instruments bound to a private registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
