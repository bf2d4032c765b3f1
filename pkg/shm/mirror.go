package shm

import (
	"context"
	"io"

	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/srediag/shm-mirror/internal/logging"
	internalshm "github.com/srediag/shm-mirror/internal/shm"
)

const instrumentationName = "github.com/srediag/shm-mirror/pkg/shm"

// Mirror is a ring buffer over a doubled mapping.
//
// read and write are offsets into the first half, always below size. The
// occupied bytes are buf[read : read+Len()], which may run into the second
// half; the free bytes are buf[write : write+Free()]. One slot is never used
// so that read == write always means empty.
type Mirror struct {
	region   *internalshm.MappedRegion
	buf      []byte
	capacity int
	size     uint32
	mask   uint32
	read   uint32
	write  uint32

	bytesIn  metric.Int64Counter
	bytesOut metric.Int64Counter
}

// New returns a Mirror of size bytes on the default backend.
func New(size int) (*Mirror, error) {
	cfg := DefaultConfig()
	cfg.Size = size
	return Open(context.Background(), cfg)
}

// Open returns a Mirror configured by cfg. A nil cfg means DefaultConfig.
func Open(ctx context.Context, cfg *Config) (*Mirror, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := VerifyConfig(cfg); err != nil {
		return nil, err
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer(instrumentationName)
	}
	meter := cfg.Meter
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter(instrumentationName)
	}
	_, span := tracer.Start(ctx, "shm.Open", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	bytesIn, err := meter.Int64Counter("shm.mirror.bytes_in",
		metric.WithUnit("By"), metric.WithDescription("Bytes written into mirrors."))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	bytesOut, err := meter.Int64Counter("shm.mirror.bytes_out",
		metric.WithUnit("By"), metric.WithDescription("Bytes read out of mirrors."))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	region, err := internalshm.OverlapWith(cfg.Backend, cfg.Size)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	logger.Debugf("mirror open: size=%d backend=%s", cfg.Size, region.Backend)
	return &Mirror{
		region:   region,
		buf:      region.Addr,
		capacity: cfg.Size,
		size:     uint32(cfg.Size),
		mask:     uint32(cfg.Size - 1),
		bytesIn:  bytesIn,
		bytesOut: bytesOut,
	}, nil
}

// Cap returns the physical capacity. At most Cap()-1 bytes can be buffered.
// It is unchanged by Close.
func (m *Mirror) Cap() int {
	return m.capacity
}

// Backend returns the backend the mapping was built with.
func (m *Mirror) Backend() Backend {
	if m.region == nil {
		return BackendAuto
	}
	return m.region.Backend
}

// Len returns the number of buffered bytes.
func (m *Mirror) Len() int {
	return int((m.write - m.read) & m.mask)
}

// Free returns how many bytes can be written before the buffer is full.
func (m *Mirror) Free() int {
	return int(m.size) - 1 - m.Len()
}

// Cursors returns the read and write offsets.
func (m *Mirror) Cursors() (read, write uint32) {
	return m.read, m.write
}

// Bytes returns the buffered bytes as one slice, valid until the next call
// that moves a cursor. It aliases the Mirror's memory.
func (m *Mirror) Bytes() []byte {
	end := m.read + uint32(m.Len())
	return m.buf[m.read:end:end]
}

// Peek returns the first n buffered bytes without consuming them, or nil if
// fewer than n are buffered.
func (m *Mirror) Peek(n int) []byte {
	if n < 0 || n > m.Len() {
		return nil
	}
	end := m.read + uint32(n)
	return m.buf[m.read:end:end]
}

// Reserve returns the free space ahead of the write cursor as one slice.
// Bytes placed there become readable after Commit.
func (m *Mirror) Reserve() []byte {
	end := m.write + uint32(m.Free())
	return m.buf[m.write:end:end]
}

// Commit makes n bytes written into Reserve readable. It reports false and
// changes nothing if n exceeds Free.
func (m *Mirror) Commit(n int) bool {
	if n < 0 || n > m.Free() {
		return false
	}
	m.advanceWrite(n)
	return true
}

// Push appends p. It reports false and changes nothing if p does not fit.
func (m *Mirror) Push(p []byte) bool {
	if len(p) > m.Free() {
		return false
	}
	copy(m.buf[m.write:], p)
	m.advanceWrite(len(p))
	return true
}

// Pop fills p with the oldest buffered bytes and consumes them. It reports
// false and changes nothing if fewer than len(p) bytes are buffered.
func (m *Mirror) Pop(p []byte) bool {
	if len(p) > m.Len() {
		return false
	}
	copy(p, m.buf[m.read:])
	m.advanceRead(len(p))
	return true
}

// Drop discards the oldest n bytes, typically after handling them through
// Bytes. It reports false and changes nothing if fewer than n are buffered.
func (m *Mirror) Drop(n int) bool {
	if n < 0 || n > m.Len() {
		return false
	}
	m.advanceRead(n)
	return true
}

// Reset empties the Mirror.
func (m *Mirror) Reset() {
	m.read, m.write = 0, 0
}

// WriteFrom makes exactly one r.Read call straight into the free space and
// commits whatever it reports. Short reads are not retried and the error is
// returned as is.
func (m *Mirror) WriteFrom(r io.Reader) (int, error) {
	if m.region == nil {
		return 0, ErrClosed
	}
	window := m.Reserve()
	n, err := r.Read(window)
	n = clamp(n, len(window))
	m.advanceWrite(n)
	return n, err
}

// ReadInto makes exactly one w.Write call with the buffered bytes and consumes
// whatever it reports written. The error is returned as is.
func (m *Mirror) ReadInto(w io.Writer) (int, error) {
	if m.region == nil {
		return 0, ErrClosed
	}
	view := m.Bytes()
	n, err := w.Write(view)
	n = clamp(n, len(view))
	m.advanceRead(n)
	return n, err
}

// Close releases the mapping. It must be called once; later calls return
// ErrClosed.
func (m *Mirror) Close() error {
	if m.region == nil {
		return ErrClosed
	}
	err := m.region.Unmap()
	logger.Debugf("mirror close: size=%d backend=%s", m.size, m.region.Backend)
	m.region = nil
	m.buf = nil
	// A one byte ring is always both empty and full, so every later Push,
	// Pop, Drop or Commit is rejected instead of touching unmapped memory.
	// capacity keeps the mapped size for diagnostics.
	m.size, m.mask = 1, 0
	m.read, m.write = 0, 0
	return err
}

func (m *Mirror) advanceWrite(n int) {
	if n == 0 {
		return
	}
	m.write = (m.write + uint32(n)) & m.mask
	m.bytesIn.Add(context.Background(), int64(n))
}

func (m *Mirror) advanceRead(n int) {
	if n == 0 {
		return
	}
	m.read = (m.read + uint32(n)) & m.mask
	m.bytesOut.Add(context.Background(), int64(n))
}

// clamp bounds a count reported by a Reader or Writer to [0, limit].
func clamp(n, limit int) int {
	if n < 0 {
		return 0
	}
	if n > limit {
		return limit
	}
	return n
}

// SetLogLevel changes the level of the package loggers. Levels run from 0
// (trace) to 5 (silent); the default is 3 (warn). The SHM_MIRROR_LOG_LEVEL
// environment variable sets the initial level.
func SetLogLevel(l int) {
	logging.SetLevel(l)
}
