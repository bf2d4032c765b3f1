//go:build linux

package shm

import (
	"errors"

	"golang.org/x/sys/unix"
)

const memfdName = "shm-mirror"

func createMemFd() (int, error) {
	fd, err := unix.MemfdCreate(memfdName, unix.MFD_CLOEXEC)
	if err != nil {
		return -1, &BackendError{Backend: BackendMemFd, Op: "memfd_create", Err: err}
	}
	return fd, nil
}

// memfdSupported probes memfd_create once. Kernels older than 3.17 answer
// ENOSYS; seccomp profiles commonly answer EPERM.
func memfdSupported() bool {
	fd, err := unix.MemfdCreate(memfdName+"-probe", unix.MFD_CLOEXEC)
	if err == nil {
		_ = unix.Close(fd)
		return true
	}
	return !errors.Is(err, unix.ENOSYS) && !errors.Is(err, unix.EPERM)
}
