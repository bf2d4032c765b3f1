// Package health exposes liveness and readiness endpoints for processes that
// hold shm.Pools.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/heptiolabs/healthcheck"

	"github.com/srediag/shm-mirror/pkg/shm"
)

const (
	// DefaultMaxGoroutines fails liveness when the process leaks goroutines.
	DefaultMaxGoroutines = 10000
	readyTimeout         = time.Second
)

// NamedPool labels a Pool in check names.
type NamedPool struct {
	Name string
	Pool *shm.Pool
}

// NewHandler returns a handler serving /live and /ready.
//
// Each pool is live until it is closed, and ready when it has an idle Mirror
// or can map a new one.
func NewHandler(pools ...NamedPool) healthcheck.Handler {
	h := healthcheck.NewHandler()
	h.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(DefaultMaxGoroutines))
	for _, np := range pools {
		h.AddLivenessCheck("pool-"+np.Name, PoolOpen(np.Pool))
		h.AddReadinessCheck("pool-"+np.Name, PoolReady(np.Pool))
	}
	return h
}

// PoolOpen fails once p is closed.
func PoolOpen(p *shm.Pool) healthcheck.Check {
	return func() error {
		if p.Closed() {
			return shm.ErrClosed
		}
		return nil
	}
}

// PoolReady fails when p is closed or cannot produce a Mirror. A Mirror
// mapped by the check is parked in p.
func PoolReady(p *shm.Pool) healthcheck.Check {
	return func() error {
		if p.Closed() {
			return shm.ErrClosed
		}
		if p.Idle() > 0 {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), readyTimeout)
		defer cancel()
		m, err := p.Get(ctx)
		if err != nil {
			return fmt.Errorf("map %d byte mirror: %w", p.Size(), err)
		}
		p.Put(m)
		return nil
	}
}
