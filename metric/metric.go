package metric

import (
	"time"

	"zkrollup/common"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespaceRollup = "rollup"
	namespaceAPI    = "api"
)

var (
	// AccountsCreated created accounts count
	AccountsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespaceRollup,
			Name:      "accounts_created_total",
			Help:      "",
		})

	// Deposits accepted deposits count
	Deposits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespaceRollup,
			Name:      "deposits_total",
			Help:      "",
		})

	// Batches committed batches count
	Batches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespaceRollup,
			Name:      "batches_total",
			Help:      "",
		})

	// ProcessedTxs txs in committed batches count
	ProcessedTxs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespaceRollup,
			Name:      "processed_txs_total",
			Help:      "",
		})

	// Withdrawals paid withdrawals count
	Withdrawals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespaceRollup,
			Name:      "withdrawals_total",
			Help:      "",
		})

	// Rejections rejected operations by operation and reason
	Rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespaceRollup,
			Name:      "rejections_total",
			Help:      "",
		}, []string{"operation", "reason"})

	// TotalAccounts number of accounts in the ledger
	TotalAccounts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespaceRollup,
			Name:      "total_accounts",
			Help:      "",
		})

	// CurrentBatch num of the next batch to be committed
	CurrentBatch = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespaceRollup,
			Name:      "current_batch",
			Help:      "",
		})

	// ProcessBatchDuration duration of the batch processing in
	// milliseconds
	ProcessBatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespaceRollup,
			Name:      "process_batch_duration",
			Help:      "",
		}, []string{"result"})

	// Requests API requests count by path and status
	Requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespaceAPI,
			Name:      "requests_total",
			Help:      "",
		}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(AccountsCreated, Deposits, Batches, ProcessedTxs, Withdrawals,
		Rejections, TotalAccounts, CurrentBatch, ProcessBatchDuration, Requests)
}

// MeasureDuration measure the method execution duration
// and save it into a histogram metric
func MeasureDuration(histogram *prometheus.HistogramVec, start time.Time, lvs ...string) {
	duration := time.Since(start)
	histogram.WithLabelValues(lvs...).Observe(float64(duration.Milliseconds()))
}

// Reason returns the label of a rejection error
func Reason(err error) string {
	if err == nil {
		return "none"
	}
	if msg, ok := reasons[common.Unwrap(err)]; ok {
		return msg
	}
	return "internal"
}

var reasons = map[error]string{
	common.ErrNotOwner:            "not_owner",
	common.ErrNotAccountOwner:     "not_account_owner",
	common.ErrAccountExists:       "account_exists",
	common.ErrInvalidAccount:      "invalid_account",
	common.ErrInvalidAmount:       "invalid_amount",
	common.ErrInsufficientBalance: "insufficient_balance",
	common.ErrInvalidNonce:        "invalid_nonce",
	common.ErrInvalidSignature:    "invalid_signature",
	common.ErrAmountOverflow:      "amount_overflow",
	common.ErrFeeOverflow:         "fee_overflow",
	common.ErrZeroAddress:         "zero_address",
	common.ErrInvalidProof:        "invalid_proof",
	common.ErrStateRootMismatch:   "state_root_mismatch",
	common.ErrStaleRoot:           "stale_root",
	common.ErrBatchTooLarge:       "batch_too_large",
	common.ErrEmptyBatch:          "empty_batch",
	common.ErrContractPaused:      "paused",
	common.ErrNotPaused:           "not_paused",
	common.ErrReentrantCall:       "reentrant_call",
	common.ErrIdxOverflow:         "idx_overflow",
}
