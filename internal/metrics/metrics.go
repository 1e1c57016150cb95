package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TopupOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topup_operations_total",
			Help: "Top-up orchestrator calls by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	TopupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "topup_operation_duration_seconds",
			Help:    "Duration of top-up orchestrator calls including retries",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"operation"},
	)

	WalletCredited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_credited_minor_units_total",
			Help: "Minor units credited to wallets by approved top-ups",
		},
		[]string{"currency"},
	)

	ConsistencyAlarms = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_consistency_alarms_total",
			Help: "Unexpected request or ledger entry states observed",
		},
		[]string{"kind"},
	)

	EventsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "system_events_recorded_total",
			Help: "System event record attempts by result",
		},
		[]string{"result"},
	)

	EventDispatchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "system_event_dispatch_errors_total",
			Help: "System events that could not be handed off",
		},
		[]string{"dispatcher"},
	)
)

const (
	OutcomeApplied = "applied"
	OutcomeNoop    = "noop"
	OutcomeError   = "error"

	ResultInserted  = "inserted"
	ResultDuplicate = "duplicate"
	ResultRace      = "race"
	ResultFailed    = "failed"
)
