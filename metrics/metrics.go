// Package metrics exposes the pipeline's prometheus instrumentation.
// Every recoverable error kind has a counter so operators can see
// transport flaps, decode noise and shed load without reading logs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "arbitrage"

var (
	QuotesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "quotes_ingested_total",
		Help:      "Quotes accepted into the top-of-book store.",
	}, []string{"exchange"})

	StaleQuotes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stale_quotes_total",
		Help:      "Quotes rejected by the store for sequence regression.",
	}, []string{"exchange"})

	TransportErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transport_errors_total",
		Help:      "Socket-level failures per venue (drop, dial, TLS, DNS).",
	}, []string{"exchange"})

	ProtocolErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "protocol_errors_total",
		Help:      "Malformed frames or unexpected venue replies.",
	}, []string{"exchange"})

	DecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decode_errors_total",
		Help:      "Frames dropped because gzip or JSON decoding failed.",
	}, []string{"exchange"})

	SequenceGaps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sequence_gaps_total",
		Help:      "Orderbook diff gaps that forced a merge or resubscribe.",
	}, []string{"exchange"})

	UnknownSymbols = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "unknown_symbols_total",
		Help:      "Venue messages dropped for unmapped symbols.",
	}, []string{"exchange"})

	Reconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconnects_total",
		Help:      "Collector reconnect attempts.",
	}, []string{"exchange"})

	CollectorState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "collector_state",
		Help:      "Collector state machine position (0=disconnected .. 6=shutdown).",
	}, []string{"exchange"})

	ConflatedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conflated_events_total",
		Help:      "Quote change events coalesced because a consumer lagged.",
	}, []string{"consumer"})

	DetectLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "detect_latency_seconds",
		Help:      "Quote change to opportunity emit latency.",
		Buckets:   prometheus.ExponentialBuckets(0.000050, 2, 12),
	})

	Opportunities = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "opportunities_total",
		Help:      "Opportunities emitted by the detector.",
	}, []string{"pair"})

	OpportunityDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "opportunity_drops_total",
		Help:      "Opportunities dropped because the cache inbox was full.",
	})

	BroadcastDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_drops_total",
		Help:      "Events dropped from saturated subscriber queues.",
	})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Connected dashboard sessions.",
	})

	MirrorErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mirror_errors_total",
		Help:      "Redis mirror writes rejected or failed.",
	})
)
