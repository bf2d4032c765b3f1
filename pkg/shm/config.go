package shm

import (
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	internalshm "github.com/srediag/shm-mirror/internal/shm"
)

const defaultMirrorSize = 1 << 20

// Backend selects how the shared memory object behind a Mirror is obtained.
type Backend = internalshm.Backend

const (
	BackendAuto   = internalshm.BackendAuto
	BackendMemFd  = internalshm.BackendMemFd
	BackendDevShm = internalshm.BackendDevShm
)

// ParseBackend parses "auto", "memfd" or "devshm".
func ParseBackend(s string) (Backend, error) {
	return internalshm.ParseBackend(s)
}

// DefaultBackend is the backend BackendAuto resolves to in this process.
func DefaultBackend() Backend {
	return internalshm.DefaultBackend()
}

// PageSize is the smallest valid Mirror size.
func PageSize() int {
	return internalshm.PageSize()
}

// Config holds Mirror creation parameters.
type Config struct {
	// Size is the physical capacity in bytes. It must be a power of two and at
	// least one page; a Mirror holds at most Size-1 bytes.
	Size int
	// Backend defaults to BackendAuto.
	Backend Backend
	// Meter and Tracer are optional; nil means no-op.
	Meter  metric.Meter
	Tracer trace.Tracer
}

// DefaultConfig returns a 1 MiB Mirror configuration on the default backend.
func DefaultConfig() *Config {
	return &Config{
		Size:    defaultMirrorSize,
		Backend: BackendAuto,
	}
}

// VerifyConfig checks c without touching any system resource.
func VerifyConfig(c *Config) error {
	if c == nil {
		return errors.New("shm: nil config")
	}
	if !internalshm.ValidSize(c.Size) {
		return fmt.Errorf("%w: got %d, page size %d, max %d",
			ErrInvalidSize, c.Size, PageSize(), internalshm.MaxSize)
	}
	switch c.Backend {
	case BackendAuto, BackendMemFd, BackendDevShm:
	default:
		return fmt.Errorf("shm: unknown backend %v", c.Backend)
	}
	return nil
}
