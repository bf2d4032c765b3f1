//go:build unix

package shm

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

func overlap(b Backend, size int) (*MappedRegion, error) {
	var (
		fd  int
		err error
	)
	switch b {
	case BackendMemFd:
		fd, err = createMemFd()
	case BackendDevShm:
		fd, err = createDevShm(uint64(size))
	default:
		return nil, &BackendError{Backend: b, Op: "select", Err: ErrUnsupported}
	}
	if err != nil {
		return nil, err
	}
	// Only the mappings outlive this call.
	defer func() {
		if cerr := unix.Close(fd); cerr != nil {
			logger.Warnf("close %s fd %d: %v", b, fd, cerr)
		}
	}()

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		return nil, &BackendError{Backend: b, Op: "ftruncate", Err: err}
	}

	// Reserve the whole doubled range first so both fixed mappings land in a
	// hole nobody else owns.
	mem, err := unix.Mmap(-1, 0, 2*size, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, &BackendError{Backend: b, Op: "reserve", Err: err}
	}
	base := unsafe.Pointer(unsafe.SliceData(mem))
	for _, off := range [2]int{0, size} {
		if err := mapFixed(unsafe.Add(base, off), size, fd); err != nil {
			_ = unix.Munmap(mem)
			return nil, &BackendError{Backend: b, Op: fmt.Sprintf("mmap at +%d", off), Err: err}
		}
	}
	return &MappedRegion{Addr: mem, Size: size, Backend: b}, nil
}

func mapFixed(addr unsafe.Pointer, length int, fd int) error {
	got, err := unix.MmapPtr(fd, 0, addr, uintptr(length),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_FIXED)
	if err != nil {
		return err
	}
	if got != addr {
		return fmt.Errorf("mapped at %p, want %p", got, addr)
	}
	return nil
}

func unmap(mem []byte) error {
	return unix.Munmap(mem)
}
