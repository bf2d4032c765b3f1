//go:build !unix

package shm

func overlap(b Backend, size int) (*MappedRegion, error) {
	return nil, &BackendError{Backend: b, Op: "overlap", Err: ErrUnsupported}
}

func unmap(mem []byte) error {
	return ErrUnsupported
}

func memfdSupported() bool {
	return false
}
