// Package metrics exposes Prometheus instruments for the compute-heavy
// stages of the forward pass. Instruments are registered on the default
// registry, so any binary that serves promhttp picks them up without
// extra wiring.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var layerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "dl20",
	Name:      "layer_duration_seconds",
	Help:      "Wall-clock time of a single forward pass through one layer.",
	Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 12),
}, []string{"layer"})

// RecordLayerDuration observes one forward-pass duration for the named layer.
func RecordLayerDuration(layer string, d time.Duration) {
	layerDuration.WithLabelValues(layer).Observe(d.Seconds())
}
