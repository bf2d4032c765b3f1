package shm

import (
	"github.com/prometheus/client_golang/prometheus"

	internalshm "github.com/srediag/shm-mirror/internal/shm"
)

// RegisterMetrics registers the region counters with r. It is safe to call
// more than once.
func RegisterMetrics(r prometheus.Registerer) error {
	return internalshm.RegisterMetrics(r)
}

// LiveRegions returns the number of Mirror mappings currently held by the
// process, pooled ones included.
func LiveRegions() int {
	return internalshm.LiveRegions()
}
