// Package shm maps one anonymous shared memory object twice, back to back, so
// that the second half of the returned region aliases the first.
//
// Raw address arithmetic lives in overlap_unix.go only; everything else deals in
// byte slices.
package shm

import (
	"errors"
	"fmt"
	"math/bits"
	"os"
	"strings"

	"github.com/srediag/shm-mirror/internal/logging"
)

// MaxSize bounds the capacity so cursors and their sums stay inside a uint32
// and the doubled reservation fits a 32-bit address space int.
const MaxSize = 1 << 30

var logger = logging.New("shm", os.Stderr)

var (
	// ErrBackend is matched by every *BackendError.
	ErrBackend = errors.New("shm: memory backend failure")
	// ErrInvalidSize reports a capacity that is not a power of two of at least one page.
	ErrInvalidSize = errors.New("shm: size must be a power of two and at least one page")
	// ErrNotMapped is returned by Unmap on a region that was already released.
	ErrNotMapped = errors.New("shm: region not mapped")
	// ErrUnsupported is wrapped in a BackendError when the platform lacks a primitive.
	ErrUnsupported = errors.New("shm: unsupported on this platform")
	// ErrShareMemoryHadNotLeftSpace is wrapped when /dev/shm cannot hold the object.
	ErrShareMemoryHadNotLeftSpace = errors.New("shm: share memory had not left space")
)

// Backend names a strategy for obtaining the shareable memory object.
type Backend int

const (
	// BackendAuto resolves to DefaultBackend.
	BackendAuto Backend = iota
	// BackendMemFd uses an unnamed memfd_create(2) file.
	BackendMemFd
	// BackendDevShm uses a POSIX style named object that is unlinked right after opening.
	BackendDevShm
)

func (b Backend) String() string {
	switch b {
	case BackendAuto:
		return "auto"
	case BackendMemFd:
		return "memfd"
	case BackendDevShm:
		return "devshm"
	}
	return fmt.Sprintf("backend(%d)", int(b))
}

// ParseBackend is the inverse of Backend.String.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return BackendAuto, nil
	case "memfd":
		return BackendMemFd, nil
	case "devshm", "shm":
		return BackendDevShm, nil
	}
	return BackendAuto, fmt.Errorf("shm: unknown backend %q", s)
}

// BackendError reports which step of building a region failed.
type BackendError struct {
	Backend Backend
	Op      string
	Err     error
}

func (e *BackendError) Error() string {
	if e.Err != nil {
		return "shm: " + e.Backend.String() + ": " + e.Op + ": " + e.Err.Error()
	}
	return "shm: " + e.Backend.String() + ": " + e.Op
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Is makes every BackendError match ErrBackend.
func (e *BackendError) Is(target error) bool {
	return target == ErrBackend
}

// MappedRegion is a page aligned range of 2*Size bytes whose halves alias.
type MappedRegion struct {
	// Addr covers both halves: Addr[k] and Addr[k+Size] are the same byte.
	Addr    []byte
	Size    int
	Backend Backend
}

// PageSize is the system page size.
func PageSize() int {
	return os.Getpagesize()
}

// ValidSize reports whether size can back a mirrored region.
func ValidSize(size int) bool {
	return size >= PageSize() && size <= MaxSize && bits.OnesCount(uint(size)) == 1
}

// Overlap builds a mirrored region of size bytes with the default backend.
func Overlap(size int) (*MappedRegion, error) {
	return OverlapWith(BackendAuto, size)
}

// OverlapWith builds a mirrored region of size bytes with backend b.
func OverlapWith(b Backend, size int) (*MappedRegion, error) {
	if !ValidSize(size) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	if b == BackendAuto {
		b = DefaultBackend()
	}
	region, err := overlap(b, size)
	if err != nil {
		backendFailures.WithLabelValues(b.String()).Inc()
		logger.Warnf("overlap %d bytes with %s failed: %v", size, b, err)
		return nil, err
	}
	track(region)
	logger.Debugf("mapped %d bytes twice at %p with %s", size, &region.Addr[0], b)
	return region, nil
}

// Unmap releases both halves. A second call returns ErrNotMapped.
func (r *MappedRegion) Unmap() error {
	if r == nil || r.Addr == nil {
		return ErrNotMapped
	}
	// A failed munmap leaves the region mapped and tracked.
	if err := unmap(r.Addr); err != nil {
		logger.Warnf("unmap %d bytes: %v", 2*r.Size, err)
		return fmt.Errorf("munmap: %w", err)
	}
	untrack(r)
	r.Addr = nil
	return nil
}
