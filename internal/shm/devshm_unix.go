//go:build unix

package shm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/cenkalti/backoff/v4"
	"github.com/shirou/gopsutil/v3/disk"
	"golang.org/x/sys/unix"
)

const (
	devShmDir = "/dev/shm"
	// A collision means a stale object from an earlier process with our pid;
	// the next sequence number is tried instead.
	maxNameAttempts = 8
)

var shmSeq atomic.Uint64

// shmDir is where shm_open(3) keeps its objects on Linux. Platforms without
// /dev/shm fall back to the temp dir; the file is unlinked immediately either way.
func shmDir() string {
	if fi, err := os.Stat(devShmDir); err == nil && fi.IsDir() {
		return devShmDir
	}
	return os.TempDir()
}

func nextShmName() string {
	return fmt.Sprintf("shm-mirror.%d.%d", os.Getpid(), shmSeq.Add(1))
}

// canCreateOnDevShm reports whether size bytes fit on /dev/shm. Paths
// elsewhere are not checked.
func canCreateOnDevShm(size uint64, path string) bool {
	if !strings.HasPrefix(path, devShmDir) {
		return true
	}
	stat, err := disk.Usage(devShmDir)
	if err != nil {
		logger.Warnf("could not read %s usage: %v", devShmDir, err)
		return true
	}
	return stat.Free >= size
}

func createDevShm(size uint64) (int, error) {
	dir := shmDir()
	if !canCreateOnDevShm(size, filepath.Join(dir, "probe")) {
		return -1, &BackendError{Backend: BackendDevShm, Op: "statfs " + dir, Err: ErrShareMemoryHadNotLeftSpace}
	}

	fd := -1
	open := func() error {
		path := filepath.Join(dir, nextShmName())
		f, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL|unix.O_CLOEXEC, 0o600)
		if err != nil {
			if errors.Is(err, unix.EEXIST) {
				logger.Debugf("shm object %s exists, picking another name", path)
				return err
			}
			return backoff.Permanent(&BackendError{Backend: BackendDevShm, Op: "open", Err: err})
		}
		if err := unix.Unlink(path); err != nil {
			_ = unix.Close(f)
			return backoff.Permanent(&BackendError{Backend: BackendDevShm, Op: "unlink", Err: err})
		}
		fd = f
		return nil
	}
	if err := backoff.Retry(open, backoff.WithMaxRetries(&backoff.ZeroBackOff{}, maxNameAttempts)); err != nil {
		var be *BackendError
		if errors.As(err, &be) {
			return -1, be
		}
		return -1, &BackendError{Backend: BackendDevShm, Op: "open", Err: err}
	}
	return fd, nil
}
