package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Escrow transaction metrics
	TransactionsOpened    prometheus.Counter
	TransactionsReleased  prometheus.Counter
	TransactionsCancelled *prometheus.CounterVec
	TransactionsDisputed  prometheus.Counter
	TransactionDuration   *prometheus.HistogramVec
	TransactionErrors     *prometheus.CounterVec
	EscrowAmount          prometheus.Histogram

	// Ledger metrics
	HoldsCreated    prometheus.Counter
	HoldsReleased   prometheus.Counter
	HoldsVoided     prometheus.Counter
	PostingsWritten *prometheus.CounterVec
	FeesCollected   *prometheus.CounterVec

	// Wallet metrics
	DepositsInitiated    prometheus.Counter
	DepositsConfirmed    prometheus.Counter
	DepositsFailed       prometheus.Counter
	WithdrawalsCompleted prometheus.Counter

	// Messaging metrics
	MessagesSent      *prometheus.CounterVec
	MessageDuplicates prometheus.Counter
	FanoutFailures    prometheus.Counter
	ActiveSessions    prometheus.Gauge
	RoomJoins         *prometheus.CounterVec

	// Collaborator metrics
	GatewayRequests *prometheus.CounterVec

	// Storage metrics
	DBRetries *prometheus.CounterVec

	// Outbox metrics
	OutboxPublished prometheus.Counter
	OutboxFailures  prometheus.Counter

	// Authentication metrics
	AuthFailures *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitHits prometheus.Counter

	// HTTP metrics
	HTTPRequests         *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
}

// New creates all metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		TransactionsOpened: f.NewCounter(prometheus.CounterOpts{
			Name: "escrow_transactions_opened_total",
			Help: "Total number of escrow transactions opened",
		}),
		TransactionsReleased: f.NewCounter(prometheus.CounterOpts{
			Name: "escrow_transactions_released_total",
			Help: "Total number of escrow transactions released to the seller",
		}),
		TransactionsCancelled: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_transactions_cancelled_total",
				Help: "Total number of escrow transactions cancelled, by actor kind",
			},
			[]string{"actor"},
		),
		TransactionsDisputed: f.NewCounter(prometheus.CounterOpts{
			Name: "escrow_transactions_disputed_total",
			Help: "Total number of escrow transactions disputed",
		}),
		TransactionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "escrow_transaction_operation_duration_seconds",
				Help:    "Duration of escrow state machine operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		TransactionErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_transaction_errors_total",
				Help: "Escrow operation failures by operation and error code",
			},
			[]string{"operation", "code"},
		),
		EscrowAmount: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "escrow_transaction_amount_minor",
			Help:    "Escrowed amounts in minor units",
			Buckets: []float64{1000, 10000, 100000, 1000000, 10000000, 100000000},
		}),

		HoldsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "escrow_holds_created_total",
			Help: "Total number of holds created",
		}),
		HoldsReleased: f.NewCounter(prometheus.CounterOpts{
			Name: "escrow_holds_released_total",
			Help: "Total number of holds released",
		}),
		HoldsVoided: f.NewCounter(prometheus.CounterOpts{
			Name: "escrow_holds_voided_total",
			Help: "Total number of holds voided",
		}),
		PostingsWritten: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_ledger_postings_total",
				Help: "Ledger postings written by kind",
			},
			[]string{"kind"},
		),
		FeesCollected: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_fees_collected_minor_total",
				Help: "Platform fees collected in minor units by source",
			},
			[]string{"source"},
		),

		DepositsInitiated: f.NewCounter(prometheus.CounterOpts{
			Name: "escrow_deposits_initiated_total",
			Help: "Total number of deposit checkout sessions created",
		}),
		DepositsConfirmed: f.NewCounter(prometheus.CounterOpts{
			Name: "escrow_deposits_confirmed_total",
			Help: "Total number of deposits confirmed by the gateway",
		}),
		DepositsFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "escrow_deposits_failed_total",
			Help: "Total number of deposits failed or expired",
		}),
		WithdrawalsCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "escrow_withdrawals_completed_total",
			Help: "Total number of withdrawals posted",
		}),

		MessagesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_messages_sent_total",
				Help: "Messages persisted by kind",
			},
			[]string{"kind"},
		),
		MessageDuplicates: f.NewCounter(prometheus.CounterOpts{
			Name: "escrow_message_duplicates_total",
			Help: "Sends deduplicated by client token",
		}),
		FanoutFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "escrow_fanout_failures_total",
			Help: "Room events that could not be published",
		}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "escrow_socket_sessions",
			Help: "Current number of socket sessions",
		}),
		RoomJoins: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_room_joins_total",
				Help: "Room join attempts by result",
			},
			[]string{"result"},
		),

		GatewayRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_collaborator_requests_total",
				Help: "Requests to external collaborators by service and result",
			},
			[]string{"service", "result"},
		),

		DBRetries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_db_retries_total",
				Help: "Database units of work retried after a transient conflict, by reason",
			},
			[]string{"reason"},
		),

		OutboxPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "escrow_outbox_published_total",
			Help: "Outbox events published",
		}),
		OutboxFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "escrow_outbox_failures_total",
			Help: "Outbox events that failed to publish",
		}),

		AuthFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_auth_failures_total",
				Help: "Total authentication failures",
			},
			[]string{"reason"},
		),

		RateLimitHits: f.NewCounter(prometheus.CounterOpts{
			Name: "escrow_rate_limit_hits_total",
			Help: "Total rate limit hits",
		}),

		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),
		HTTPRequestsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		}),
	}
}
