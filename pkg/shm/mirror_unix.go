//go:build unix

package shm

import "golang.org/x/sys/unix"

// WriteFromFd is WriteFrom over a raw descriptor: one read(2) into the free
// space. EAGAIN and EINTR are returned like any other error.
func (m *Mirror) WriteFromFd(fd int) (int, error) {
	if m.region == nil {
		return 0, ErrClosed
	}
	window := m.Reserve()
	n, err := unix.Read(fd, window)
	n = clamp(n, len(window))
	m.advanceWrite(n)
	return n, err
}

// ReadIntoFd is ReadInto over a raw descriptor: one write(2) of the buffered
// bytes.
func (m *Mirror) ReadIntoFd(fd int) (int, error) {
	if m.region == nil {
		return 0, ErrClosed
	}
	view := m.Bytes()
	n, err := unix.Write(fd, view)
	n = clamp(n, len(view))
	m.advanceRead(n)
	return n, err
}
