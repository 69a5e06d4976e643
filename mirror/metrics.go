package mirror

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the run's Prometheus instrumentation, grounded on the
// teacher's promauto.NewCounterVec usage in internal/indexer/postgres. It is
// optional on Engine: a nil *Metrics disables instrumentation entirely
// rather than requiring a caller who doesn't care about metrics to wire a
// no-op registry.
type Metrics struct {
	PackagesPlaced   prometheus.Counter
	PlacementErrors  prometheus.Counter
	IntegrityClashes prometheus.Counter
}

// NewMetrics registers a Metrics set against reg. Pass prometheus.DefaultRegisterer
// for process-wide collection.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PackagesPlaced: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "meso_forge_mirror",
			Subsystem: "mirror",
			Name:      "packages_placed_total",
			Help:      "Packages successfully placed into the target channel.",
		}),
		PlacementErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "meso_forge_mirror",
			Subsystem: "mirror",
			Name:      "placement_errors_total",
			Help:      "Candidates that failed the pipeline, after any retries.",
		}),
		IntegrityClashes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "meso_forge_mirror",
			Subsystem: "mirror",
			Name:      "integrity_clashes_total",
			Help:      "Same <subdir>/<fname> placed twice in one run with differing bytes (spec.md §9).",
		}),
	}
}
