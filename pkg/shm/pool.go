package shm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/panjf2000/ants/v2"
)

const (
	defaultPoolIdle    = 16
	defaultPoolWorkers = 4
	pollTimeout        = time.Millisecond
)

// PoolConfig holds Pool creation parameters.
type PoolConfig struct {
	// Mirror configures every Mirror the pool creates. Nil means DefaultConfig.
	Mirror *Config
	// MaxIdle bounds how many Mirrors are kept for reuse. The bound is
	// rounded up to a power of two; MaxIdle reports the result.
	MaxIdle int
	// Workers bounds how many Mirrors Prewarm builds concurrently.
	Workers int
}

// Pool keeps idle Mirrors of one size so callers can skip the mapping
// syscalls. It is safe for concurrent use; each Mirror it hands out belongs to
// the caller until Put.
type Pool struct {
	cfg     Config
	idle    *queue.RingBuffer
	workers *ants.Pool

	// mu orders Put against Close so no Mirror is parked after the drain.
	mu     sync.RWMutex
	closed bool
}

// NewPool verifies cfg and returns an empty Pool.
func NewPool(cfg PoolConfig) (*Pool, error) {
	mc := cfg.Mirror
	if mc == nil {
		mc = DefaultConfig()
	}
	if err := VerifyConfig(mc); err != nil {
		return nil, err
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = defaultPoolIdle
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultPoolWorkers
	}
	workers, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, err
	}
	return &Pool{
		cfg:     *mc,
		idle:    queue.NewRingBuffer(uint64(cfg.MaxIdle)),
		workers: workers,
	}, nil
}

// Size returns the capacity of the Mirrors in the pool.
func (p *Pool) Size() int {
	return p.cfg.Size
}

// MaxIdle returns how many Mirrors the pool keeps for reuse.
func (p *Pool) MaxIdle() int {
	return int(p.idle.Cap())
}

// Idle returns the number of Mirrors waiting for reuse.
func (p *Pool) Idle() int {
	return int(p.idle.Len())
}

// Closed reports whether Close has been called.
func (p *Pool) Closed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Get returns an empty Mirror, reusing an idle one when possible.
func (p *Pool) Get(ctx context.Context) (*Mirror, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.idle.Len() > 0 {
		item, err := p.idle.Poll(pollTimeout)
		switch {
		case err == nil:
			return item.(*Mirror), nil
		case errors.Is(err, queue.ErrDisposed):
			return nil, ErrClosed
		}
		// Another caller or Close took it first.
	}
	if p.Closed() {
		return nil, ErrClosed
	}
	return Open(ctx, &p.cfg)
}

// Put resets m and keeps it for reuse, or closes it when the pool is full,
// closed, or m has another size.
func (p *Pool) Put(m *Mirror) {
	if m == nil || m.region == nil {
		return
	}
	m.Reset()
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.closed && m.Cap() == p.cfg.Size {
		if ok, err := p.idle.Offer(m); ok && err == nil {
			return
		}
	}
	if err := m.Close(); err != nil {
		logger.Warnf("pool: close surplus mirror: %v", err)
	}
}

// Prewarm builds up to n Mirrors concurrently and parks them. It builds no
// more than the free idle slots and returns the first construction error.
func (p *Pool) Prewarm(ctx context.Context, n int) error {
	if p.Closed() {
		return ErrClosed
	}
	if room := int(p.idle.Cap()) - p.Idle(); n > room {
		n = room
	}
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() { firstErr = err })
	}
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			fail(err)
			break
		}
		wg.Add(1)
		err := p.workers.Submit(func() {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				fail(err)
				return
			}
			m, err := Open(ctx, &p.cfg)
			if err != nil {
				fail(err)
				return
			}
			p.Put(m)
		})
		if err != nil {
			wg.Done()
			fail(err)
			break
		}
	}
	wg.Wait()
	return firstErr
}

// Close closes every idle Mirror and stops the pool. Mirrors still held by
// callers are closed when they are Put back.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.closed = true
	p.mu.Unlock()

	var errs []error
	for p.idle.Len() > 0 {
		item, err := p.idle.Poll(pollTimeout)
		if err != nil {
			break
		}
		if err := item.(*Mirror).Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.idle.Dispose()
	p.workers.Release()
	return errors.Join(errs...)
}
