package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidfunds_operations_total",
			Help: "Total number of core operations by name and result",
		},
		[]string{"operation", "result"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bidfunds_operation_duration_seconds",
			Help:    "Duration of core operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	bidValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidfunds_bid_validations_total",
			Help: "Bid validations by outcome",
		},
		[]string{"valid"},
	)

	reservationsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bidfunds_reservations_expired_total",
			Help: "Reservations moved to EXPIRED by the sweep",
		},
	)

	loserReleaseFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bidfunds_settlement_release_failures_total",
			Help: "Losing reservations that could not be released after settlement",
		},
	)

	notificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidfunds_notification_failures_total",
			Help: "Notifications that could not be delivered",
		},
		[]string{"event"},
	)
)

// Result labels an operation outcome: ok, replay, or the class of error.
type Result string

const (
	ResultOK     Result = "ok"
	ResultReplay Result = "replay"
	ResultError  Result = "error"
)

func ObserveOperation(operation string, start time.Time, result Result) {
	operationsTotal.WithLabelValues(operation, string(result)).Inc()
	operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// ResultOf classifies err, treating any error in replays as a replay outcome.
func ResultOf(err error, replays ...error) Result {
	if err == nil {
		return ResultOK
	}
	for _, r := range replays {
		if errors.Is(err, r) {
			return ResultReplay
		}
	}
	return ResultError
}

func IncBidValidation(valid bool) {
	if valid {
		bidValidations.WithLabelValues("true").Inc()
		return
	}
	bidValidations.WithLabelValues("false").Inc()
}

func AddExpired(n int) {
	reservationsExpired.Add(float64(n))
}

func IncLoserReleaseFailure() {
	loserReleaseFailures.Inc()
}

func IncNotificationFailure(event string) {
	notificationFailures.WithLabelValues(event).Inc()
}
