// Package metrics holds the prometheus collectors for datakit stores.
package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Result label values.
const (
	Fail = "fail"
	Ok   = "ok"
)

// Subsystem label values.
const (
	Preferences = "preferences"
	RDB         = "rdb"
)

// Registry is the registry every datakit collector is registered on.
var Registry = prometheus.NewRegistry()

// Collectors for preferences and relational store operations.
var (
	OperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "datakit_operations_total",
		Help: "Cumulative number of store operations, by subsystem, operation and result.",
	}, []string{"subsystem", "op", "result"})

	FlushDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "datakit_flush_duration_seconds",
		Help:    "Latency of preferences flushes that reached the file system.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})

	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "datakit_queue_depth",
		Help: "Number of operations queued on store handles and not yet started.",
	}, []string{"subsystem"})
)

func init() {
	Registry.MustRegister(OperationsTotal, FlushDuration, QueueDepth)
}

// Observe records the outcome of one operation.
func Observe(subsystem, op string, err error) {
	result := Ok
	if err != nil {
		result = Fail
	}
	OperationsTotal.WithLabelValues(subsystem, op, result).Inc()
}

// WriteText dumps every collector on Registry in the prometheus text format.
func WriteText(w io.Writer) error {
	families, err := Registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
