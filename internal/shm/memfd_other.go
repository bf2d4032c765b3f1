//go:build unix && !linux

package shm

func createMemFd() (int, error) {
	return -1, &BackendError{Backend: BackendMemFd, Op: "memfd_create", Err: ErrUnsupported}
}

func memfdSupported() bool {
	return false
}
