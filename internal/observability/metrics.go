package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	CrisisDetections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wellness_crisis_detections_total",
			Help: "Inbound texts classified as crisis, by source and severity.",
		},
		[]string{"source", "severity"},
	)

	ModelCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wellness_model_calls_total",
			Help: "Generative model invocations by model and outcome.",
		},
		[]string{"model", "outcome"},
	)

	FallbackReplies = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wellness_chat_fallback_replies_total",
			Help: "Chat turns answered with the canned per-language fallback.",
		},
	)

	ModerationDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wellness_moderation_decisions_total",
			Help: "Moderation scorer decisions by outcome.",
		},
		[]string{"outcome"},
	)

	Escalations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wellness_escalations_total",
			Help: "Content escalated to the crisis queue, by content kind.",
		},
		[]string{"kind"},
	)

	ChatTurnSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wellness_chat_turn_seconds",
			Help:    "Wall time of a full chat turn.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	LiveSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wellness_live_subscribers",
			Help: "Open live-event subscriptions.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		CrisisDetections,
		ModelCalls,
		FallbackReplies,
		ModerationDecisions,
		Escalations,
		ChatTurnSeconds,
		LiveSubscribers,
	)
}
