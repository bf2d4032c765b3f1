package shm

import "sync"

var (
	defaultOnce    sync.Once
	defaultBackend Backend
)

// DefaultBackend is the strategy Overlap uses. It is decided once per process:
// memfd where the kernel offers it, devshm otherwise.
func DefaultBackend() Backend {
	defaultOnce.Do(func() {
		defaultBackend = BackendDevShm
		if memfdSupported() {
			defaultBackend = BackendMemFd
		}
		logger.Infof("default memory backend: %s", defaultBackend)
	})
	return defaultBackend
}
