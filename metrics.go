package gstate

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	traceVariants = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gstate",
			Subsystem: "trace",
			Name:      "variants",
			Help:      "Number of distinct variants in the collection being traced",
		},
	)

	warmupUnitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gstate",
			Subsystem: "warmup",
			Name:      "units_total",
			Help:      "Total number of warm-up units by result",
		},
		[]string{"result"},
	)

	warmupDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "gstate",
			Subsystem: "warmup",
			Name:      "duration_seconds",
			Help:      "Duration of complete warm-up runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		},
	)

	collectionIOTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gstate",
			Subsystem: "collection",
			Name:      "io_total",
			Help:      "Total number of collection file operations by op and result",
		},
		[]string{"op", "result"},
	)
)

// Metric label values.
const (
	resultOK      = "ok"
	resultError   = "error"
	resultSkipped = "skipped"

	opSave = "save"
	opLoad = "load"
)

// RegisterMetrics registers the gstate collectors with reg.
// Registering twice with the same registerer is not an error.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{traceVariants, warmupUnitsTotal, warmupDuration, collectionIOTotal} {
		if err := reg.Register(c); err != nil {
			var e prometheus.AlreadyRegisteredError
			if errors.As(err, &e) {
				continue
			}
			return err
		}
	}
	return nil
}

func observeIO(op string, err error) {
	if err != nil {
		collectionIOTotal.WithLabelValues(op, resultError).Inc()
		return
	}
	collectionIOTotal.WithLabelValues(op, resultOK).Inc()
}
