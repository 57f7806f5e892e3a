package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransfersTotal counts bridge transactions/transfers by status.
	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_transfers_total",
			Help: "Total number of bridge transfers by terminal status",
		},
		[]string{"status"},
	)

	// BlocksProcessed counts blocks processed on each chain.
	BlocksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_blocks_processed_total",
			Help: "Total number of blocks processed",
		},
		[]string{"chain"},
	)

	// EventsDetected counts events detected on each chain.
	EventsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_events_detected_total",
			Help: "Total number of bridge events detected",
		},
		[]string{"chain", "event_type"},
	)

	// TransactionsSent counts transactions sent to each chain.
	TransactionsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_transactions_sent_total",
			Help: "Total number of withdraw transactions sent",
		},
		[]string{"chain", "status"},
	)

	// BridgeBalance tracks current bridge balances observed during liquidity checks.
	BridgeBalance = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bridge_balance",
			Help: "Current bridge balance by chain and token",
		},
		[]string{"chain", "token"},
	)

	// PendingTransfers tracks number of non-terminal bridge transactions.
	PendingTransfers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bridge_pending_transfers",
			Help: "Number of bridge transactions not yet in a terminal state",
		},
		[]string{"status"},
	)

	// ErrorsTotal counts errors by component and taxonomy category.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_errors_total",
			Help: "Total number of errors by component and category",
		},
		[]string{"component", "category"},
	)

	// GasUsed tracks gas used for withdraw transactions.
	GasUsed = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bridge_gas_used",
			Help:    "Gas used for withdraw transactions",
			Buckets: []float64{21000, 50000, 100000, 200000, 300000, 500000},
		},
		[]string{"chain"},
	)

	// LastProcessedBlock tracks the last persisted cursor block per chain.
	LastProcessedBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bridge_last_processed_block",
			Help: "Last processed block number by chain",
		},
		[]string{"chain"},
	)

	// CursorLag tracks head - lastBlockNumber per chain, the watcher's backlog.
	CursorLag = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bridge_cursor_lag_blocks",
			Help: "Blocks between chain head and the persisted cursor",
		},
		[]string{"chain"},
	)

	// SignaturesTotal counts validator signatures produced.
	SignaturesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_signatures_total",
			Help: "Total number of validator signatures produced",
		},
		[]string{"source_chain", "target_chain"},
	)
)
