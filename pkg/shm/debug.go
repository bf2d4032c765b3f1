package shm

import (
	"encoding/hex"
	"os"
	"strconv"

	"github.com/valyala/bytebufferpool"

	"github.com/srediag/shm-mirror/internal/logging"
)

var logger = logging.New("mirror", os.Stderr)

// dumpLimit caps how many buffered bytes Dump renders.
const dumpLimit = 64

// State is a snapshot of a Mirror's cursors for diagnostics.
type State struct {
	Capacity int
	Read     uint32
	Write    uint32
	Len      int
	Free     int
	Wrapped  bool // the buffered bytes run into the second half
	Closed   bool
}

// State returns a snapshot of m.
func (m *Mirror) State() State {
	return State{
		Capacity: m.Cap(),
		Read:     m.read,
		Write:    m.write,
		Len:      m.Len(),
		Free:     m.Free(),
		Wrapped:  m.write < m.read,
		Closed:   m.region == nil,
	}
}

// Dump renders m's state and a hex dump of up to 64 buffered bytes.
func (m *Mirror) Dump() string {
	st := m.State()
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	_, _ = buf.WriteString("mirror cap:")
	_, _ = buf.WriteString(strconv.Itoa(st.Capacity))
	_, _ = buf.WriteString(" backend:")
	_, _ = buf.WriteString(m.Backend().String())
	_, _ = buf.WriteString(" read:")
	_, _ = buf.WriteString(strconv.FormatUint(uint64(st.Read), 10))
	_, _ = buf.WriteString(" write:")
	_, _ = buf.WriteString(strconv.FormatUint(uint64(st.Write), 10))
	_, _ = buf.WriteString(" len:")
	_, _ = buf.WriteString(strconv.Itoa(st.Len))
	_, _ = buf.WriteString(" free:")
	_, _ = buf.WriteString(strconv.Itoa(st.Free))
	if st.Wrapped {
		_, _ = buf.WriteString(" wrapped")
	}
	if st.Closed {
		_, _ = buf.WriteString(" closed")
	}
	_ = buf.WriteByte('\n')

	data := m.Bytes()
	if len(data) > dumpLimit {
		data = data[:dumpLimit]
	}
	if len(data) > 0 {
		d := hex.Dumper(buf)
		_, _ = d.Write(data)
		_ = d.Close()
	}
	return buf.String()
}
