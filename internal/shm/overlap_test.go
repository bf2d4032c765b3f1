//go:build linux

package shm

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sys/unix"
)

type OverlapTestSuite struct {
	suite.Suite
	backend Backend
}

func (s *OverlapTestSuite) TestRegionShape() {
	size := PageSize()
	r, err := OverlapWith(s.backend, size)
	s.Require().NoError(err)
	defer func() { s.NoError(r.Unmap()) }()

	s.Equal(2*size, len(r.Addr))
	s.Equal(size, r.Size)
	s.Equal(s.backend, r.Backend)
	base := uintptr(unsafe.Pointer(&r.Addr[0]))
	s.Zero(base%uintptr(PageSize()), "region must be page aligned")
}

func (s *OverlapTestSuite) TestHalvesAlias() {
	size := 4 * PageSize()
	r, err := OverlapWith(s.backend, size)
	s.Require().NoError(err)
	defer func() { s.NoError(r.Unmap()) }()

	for _, k := range []int{0, 1, size / 2, size - 1} {
		r.Addr[k] = byte(k + 1)
		s.Equal(byte(k+1), r.Addr[k+size], "low write at %d", k)
		r.Addr[k+size] = byte(k + 7)
		s.Equal(byte(k+7), r.Addr[k], "high write at %d", k)
	}

	// A copy straddling the boundary lands at the start of the low half.
	copy(r.Addr[size-2:], []byte{9, 8, 7, 6})
	s.Equal([]byte{9, 8}, r.Addr[size-2:size])
	s.Equal([]byte{7, 6}, r.Addr[0:2])
}

func (s *OverlapTestSuite) TestStartsZeroed() {
	r, err := OverlapWith(s.backend, PageSize())
	s.Require().NoError(err)
	defer func() { s.NoError(r.Unmap()) }()
	for i, b := range r.Addr {
		if b != 0 {
			s.FailNowf("non-zero byte", "offset %d holds %d", i, b)
		}
	}
}

func (s *OverlapTestSuite) TestLiveRegionsAndDoubleUnmap() {
	before := LiveRegions()
	beforeBackend := LiveRegionsByBackend()[s.backend]
	r, err := OverlapWith(s.backend, PageSize())
	s.Require().NoError(err)
	s.Equal(before+1, LiveRegions())
	s.Equal(beforeBackend+1, LiveRegionsByBackend()[s.backend])

	s.Require().NoError(r.Unmap())
	s.Equal(before, LiveRegions())
	s.Nil(r.Addr)
	s.ErrorIs(r.Unmap(), ErrNotMapped)
	s.Equal(before, LiveRegions())
}

func (s *OverlapTestSuite) TestFailedUnmapStaysTracked() {
	r, err := OverlapWith(s.backend, PageSize())
	s.Require().NoError(err)
	defer func() { s.NoError(r.Unmap()) }()

	// A view starting one byte in is not a mapping the kernel or x/sys
	// will release.
	bad := &MappedRegion{Addr: r.Addr[1:], Size: r.Size, Backend: r.Backend}
	track(bad)
	before := LiveRegions()
	s.Error(bad.Unmap())
	s.NotNil(bad.Addr)
	s.Equal(before, LiveRegions())
	untrack(bad)
}

func (s *OverlapTestSuite) TestMappedCounter() {
	c := regionsMapped.WithLabelValues(s.backend.String())
	u := regionsUnmapped.WithLabelValues(s.backend.String())
	m0, u0 := counterValue(c), counterValue(u)

	r, err := OverlapWith(s.backend, PageSize())
	s.Require().NoError(err)
	s.Equal(m0+1, counterValue(c))
	s.Require().NoError(r.Unmap())
	s.Equal(u0+1, counterValue(u))
}

func TestOverlapMemFd(t *testing.T) {
	if !memfdSupported() {
		t.Skip("memfd_create not available")
	}
	suite.Run(t, &OverlapTestSuite{backend: BackendMemFd})
}

func TestOverlapDevShm(t *testing.T) {
	suite.Run(t, &OverlapTestSuite{backend: BackendDevShm})
}

func TestOverlapInvalidSize(t *testing.T) {
	before := LiveRegions()
	for _, size := range []int{0, -1, 1, PageSize() / 2, PageSize() + 1, 3 * PageSize(), MaxSize + PageSize()} {
		r, err := Overlap(size)
		assert.Nil(t, r, "size %d", size)
		assert.ErrorIs(t, err, ErrInvalidSize, "size %d", size)
		assert.False(t, errors.Is(err, ErrBackend), "size %d", size)
	}
	assert.Equal(t, before, LiveRegions())
}

func TestOverlapDefaultBackend(t *testing.T) {
	b := DefaultBackend()
	assert.Contains(t, []Backend{BackendMemFd, BackendDevShm}, b)
	assert.Equal(t, b, DefaultBackend())

	r, err := Overlap(PageSize())
	require.NoError(t, err)
	assert.Equal(t, b, r.Backend)
	assert.NoError(t, r.Unmap())
}

func TestOverlapUnknownBackend(t *testing.T) {
	failures := backendFailures.WithLabelValues(Backend(42).String())
	f0 := counterValue(failures)

	r, err := OverlapWith(Backend(42), PageSize())
	assert.Nil(t, r)
	assert.ErrorIs(t, err, ErrBackend)
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Equal(t, f0+1, counterValue(failures))
}

func TestBackendError(t *testing.T) {
	err := error(&BackendError{Backend: BackendMemFd, Op: "ftruncate", Err: ErrUnsupported})
	assert.Equal(t, "shm: memfd: ftruncate: "+ErrUnsupported.Error(), err.Error())
	assert.ErrorIs(t, err, ErrBackend)
	assert.ErrorIs(t, err, ErrUnsupported)

	var be *BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "ftruncate", be.Op)
	assert.Equal(t, "shm: devshm: open", (&BackendError{Backend: BackendDevShm, Op: "open"}).Error())
}

func TestParseBackend(t *testing.T) {
	for in, want := range map[string]Backend{
		"":       BackendAuto,
		"auto":   BackendAuto,
		"memfd":  BackendMemFd,
		"MemFd":  BackendMemFd,
		"devshm": BackendDevShm,
		" shm ":  BackendDevShm,
	} {
		got, err := ParseBackend(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseBackend("hugetlbfs")
	assert.Error(t, err)
	assert.Equal(t, "backend(9)", Backend(9).String())
}

func TestCanCreateOnDevShm(t *testing.T) {
	// Only /dev/shm is checked, everything else is accepted.
	assert.Equal(t, true, canCreateOnDevShm(math.MaxUint64, "sdffafds"))
	stat, err := disk.Usage(devShmDir)
	if err != nil {
		t.Skipf("%s unavailable: %v", devShmDir, err)
	}
	assert.Equal(t, true, canCreateOnDevShm(stat.Free/2, "/dev/shm/xxx"))
	assert.Equal(t, false, canCreateOnDevShm(math.MaxUint64, "/dev/shm/yyy"))
}

// occupyShmNames creates files under the names the next n devshm objects
// would take.
func occupyShmNames(t *testing.T, n int) {
	t.Helper()
	next := shmSeq.Load()
	for i := 1; i <= n; i++ {
		path := filepath.Join(shmDir(), fmt.Sprintf("shm-mirror.%d.%d", os.Getpid(), next+uint64(i)))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
		require.NoError(t, err)
		require.NoError(t, f.Close())
		t.Cleanup(func() { _ = os.Remove(path) })
	}
}

func TestDevShmNameCollisionRetries(t *testing.T) {
	occupyShmNames(t, 1)
	seq := shmSeq.Load()

	r, err := OverlapWith(BackendDevShm, PageSize())
	require.NoError(t, err)
	defer func() { assert.NoError(t, r.Unmap()) }()
	assert.Equal(t, seq+2, shmSeq.Load())
}

func TestDevShmNameCollisionGivesUp(t *testing.T) {
	occupyShmNames(t, maxNameAttempts+1)
	seq := shmSeq.Load()
	before := LiveRegions()

	_, err := OverlapWith(BackendDevShm, PageSize())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBackend))
	assert.True(t, errors.Is(err, unix.EEXIST))
	assert.Equal(t, seq+maxNameAttempts+1, shmSeq.Load())
	assert.Equal(t, before, LiveRegions())
}

func TestDevShmRefusesWithoutSpace(t *testing.T) {
	if shmDir() != devShmDir {
		t.Skipf("%s unavailable", devShmDir)
	}
	if _, err := disk.Usage(devShmDir); err != nil {
		t.Skipf("%s unavailable: %v", devShmDir, err)
	}
	seq := shmSeq.Load()
	fd, err := createDevShm(math.MaxUint64)
	assert.Equal(t, -1, fd)
	assert.True(t, errors.Is(err, ErrBackend))
	assert.True(t, errors.Is(err, ErrShareMemoryHadNotLeftSpace))
	var be *BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, BackendDevShm, be.Backend)
	// Refused before any name was taken.
	assert.Equal(t, seq, shmSeq.Load())
}

func TestRegisterMetricsTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterMetrics(reg))
	require.NoError(t, RegisterMetrics(reg))
	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "shm_mirror_regions_live")
}

func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	_ = c.Write(m)
	return m.GetCounter().GetValue()
}
