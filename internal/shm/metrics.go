package shm

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	regionsMapped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shm_mirror",
		Name:      "regions_mapped_total",
		Help:      "Total number of mirrored regions mapped.",
	}, []string{"backend"})

	regionsUnmapped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shm_mirror",
		Name:      "regions_unmapped_total",
		Help:      "Total number of mirrored regions unmapped.",
	}, []string{"backend"})

	backendFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shm_mirror",
		Name:      "backend_failures_total",
		Help:      "Total number of failed attempts to build a mirrored region.",
	}, []string{"backend"})

	regionsLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "shm_mirror",
		Name:      "regions_live",
		Help:      "Number of mirrored regions currently mapped.",
	})
)

// Collectors returns the package's prometheus collectors.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{regionsMapped, regionsUnmapped, backendFailures, regionsLive}
}

// RegisterMetrics registers the package's collectors with r. Collectors that
// are already registered are skipped.
func RegisterMetrics(r prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}
