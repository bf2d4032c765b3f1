package shm

import (
	"errors"

	internalshm "github.com/srediag/shm-mirror/internal/shm"
)

var (
	// ErrBackend is matched by any failure to acquire or map backing memory.
	ErrBackend = internalshm.ErrBackend
	// ErrInvalidSize reports a size that is not a power of two of at least one page.
	ErrInvalidSize = internalshm.ErrInvalidSize
	// ErrClosed is returned when a closed Mirror or Pool is used or closed again.
	ErrClosed = errors.New("shm: closed")
)
