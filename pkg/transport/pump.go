// Package transport moves bytes between a reader and a writer through a
// shm.Mirror, so every read lands in one contiguous free window and every
// write leaves from one contiguous buffered window.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/srediag/shm-mirror/internal/logging"
	"github.com/srediag/shm-mirror/pkg/shm"
)

var logger = logging.New("transport", os.Stderr)

// Pump copies Src to Dst through Mirror.
//
// Each step makes one WriteFrom call while the Mirror has free space and one
// ReadInto call while it holds data. Transient errors (EAGAIN, EINTR) on
// either side are retried under BackOff; any other error ends the run.
type Pump struct {
	Src    io.Reader
	Dst    io.Writer
	Mirror *shm.Mirror

	// BackOff returns the retry policy for transient errors. Nil means
	// DefaultBackOff.
	BackOff func() backoff.BackOff
}

// DefaultBackOff is an exponential policy from 1ms up to 100ms between
// attempts, giving up after 5s.
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second
	return b
}

// Run copies until Src reports io.EOF and the Mirror is drained, or until an
// error or ctx ends it. It returns the number of bytes written to Dst.
func (p *Pump) Run(ctx context.Context) (int64, error) {
	if p.Src == nil || p.Dst == nil || p.Mirror == nil {
		return 0, errors.New("transport: pump needs Src, Dst and Mirror")
	}
	newBackOff := p.BackOff
	if newBackOff == nil {
		newBackOff = DefaultBackOff
	}
	bo := backoff.WithContext(newBackOff(), ctx)

	var (
		total int64
		eof   bool
	)
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		if !eof && p.Mirror.Free() > 0 {
			_, err := retry(bo, func() (int, error) { return p.Mirror.WriteFrom(p.Src) })
			switch {
			case err == io.EOF:
				eof = true
			case err != nil:
				return total, fmt.Errorf("transport: read: %w", err)
			}
		}
		if p.Mirror.Len() == 0 {
			if eof {
				logger.Debugf("pump done: %d bytes", total)
				return total, nil
			}
			continue
		}
		n, err := retry(bo, func() (int, error) { return p.Mirror.ReadInto(p.Dst) })
		total += int64(n)
		if err != nil {
			return total, fmt.Errorf("transport: write: %w", err)
		}
	}
}

// retry runs op until it succeeds, fails permanently, or bo gives up. It
// returns the bytes op moved across all attempts.
func retry(bo backoff.BackOff, op func() (int, error)) (int, error) {
	var moved int
	err := backoff.Retry(func() error {
		n, err := op()
		moved += n
		if err != nil && Transient(err) {
			logger.Tracef("transient error, retrying: %v", err)
			return err
		}
		return backoff.Permanent(err)
	}, bo)
	return moved, err
}

// Transient reports whether err is worth retrying on the same descriptor.
func Transient(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EINTR)
}
