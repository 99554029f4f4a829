package exec

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "executor"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of cross-chain transactions currently tracked.
	XtxActive metrics.Gauge
	// Total number of bids submitted to the coordinator.
	BidsSubmitted metrics.Counter
	// Total number of bids the coordinator accepted with this executor leading.
	BidsWon metrics.Counter
	// Total number of bids the coordinator rejected.
	BidsRejected metrics.Counter
	// Total number of side effects confirmed back on the coordinator.
	SfxConfirmed metrics.Counter
	// Total number of side effects dropped at bidding.
	SfxDropped metrics.Counter
	// Total number of side effects reverted on timeout.
	SfxReverted metrics.Counter
	// Total number of failed target-chain executions.
	ExecutionErrors metrics.Counter
	// Total number of failed confirmation batches.
	ConfirmationErrors metrics.Counter
	// Total number of failed price oracle polls.
	PriceOracleErrors metrics.Counter
	// Last tracked light-client height per vendor.
	VendorHeight metrics.Gauge
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		XtxActive: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "xtx_active",
			Help:      "Number of cross-chain transactions currently tracked.",
		}, labels).With(labelsAndValues...),
		BidsSubmitted: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "bids_submitted_total",
			Help:      "Total number of bids submitted to the coordinator.",
		}, labels).With(labelsAndValues...),
		BidsWon: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "bids_won_total",
			Help:      "Total number of accepted bids with this executor leading.",
		}, labels).With(labelsAndValues...),
		BidsRejected: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "bids_rejected_total",
			Help:      "Total number of bids the coordinator rejected.",
		}, labels).With(labelsAndValues...),
		SfxConfirmed: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "sfx_confirmed_total",
			Help:      "Total number of side effects confirmed on the coordinator.",
		}, labels).With(labelsAndValues...),
		SfxDropped: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "sfx_dropped_total",
			Help:      "Total number of side effects dropped at bidding.",
		}, labels).With(labelsAndValues...),
		SfxReverted: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "sfx_reverted_total",
			Help:      "Total number of side effects reverted on timeout.",
		}, labels).With(labelsAndValues...),
		ExecutionErrors: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "execution_errors_total",
			Help:      "Total number of failed target-chain executions.",
		}, labels).With(labelsAndValues...),
		ConfirmationErrors: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "confirmation_errors_total",
			Help:      "Total number of failed confirmation batches.",
		}, labels).With(labelsAndValues...),
		PriceOracleErrors: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "price_oracle_errors_total",
			Help:      "Total number of failed price oracle polls.",
		}, labels).With(labelsAndValues...),
		VendorHeight: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "vendor_height",
			Help:      "Last tracked light-client height per vendor.",
		}, append(labels, "vendor")).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		XtxActive:          discard.NewGauge(),
		BidsSubmitted:      discard.NewCounter(),
		BidsWon:            discard.NewCounter(),
		BidsRejected:       discard.NewCounter(),
		SfxConfirmed:       discard.NewCounter(),
		SfxDropped:         discard.NewCounter(),
		SfxReverted:        discard.NewCounter(),
		ExecutionErrors:    discard.NewCounter(),
		ConfirmationErrors: discard.NewCounter(),
		PriceOracleErrors:  discard.NewCounter(),
		VendorHeight:       discard.NewGauge(),
	}
}
