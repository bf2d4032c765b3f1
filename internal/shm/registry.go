package shm

import (
	"unsafe"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// live holds every region that has been mapped and not yet unmapped, keyed by
// base address.
var live = cmap.NewWithCustomShardingFunction[uintptr, Backend](func(addr uintptr) uint32 {
	// Regions are page aligned; drop the always-zero bits before mixing.
	return uint32(addr>>12) * 2654435761
})

func baseOf(r *MappedRegion) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(r.Addr)))
}

func track(r *MappedRegion) {
	live.Set(baseOf(r), r.Backend)
	regionsMapped.WithLabelValues(r.Backend.String()).Inc()
	regionsLive.Inc()
}

func untrack(r *MappedRegion) {
	if _, ok := live.Pop(baseOf(r)); !ok {
		logger.Warnf("unmapping untracked region at %#x", baseOf(r))
		return
	}
	regionsUnmapped.WithLabelValues(r.Backend.String()).Inc()
	regionsLive.Dec()
}

// LiveRegions is the number of regions currently mapped by this process.
func LiveRegions() int {
	return live.Count()
}

// LiveRegionsByBackend breaks LiveRegions down per backend.
func LiveRegionsByBackend() map[Backend]int {
	out := make(map[Backend]int)
	live.IterCb(func(_ uintptr, b Backend) {
		out[b]++
	})
	return out
}
