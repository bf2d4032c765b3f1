// Package shm provides Mirror, a fixed-capacity ring buffer whose storage is
// mapped twice back to back. Whatever the cursor positions, the buffered
// bytes are always one contiguous slice, and the free space ahead of the
// write cursor is another, so data can be handed to io.Reader, io.Writer or a
// raw file descriptor without split views or linearizing copies.
//
// A Mirror is not safe for concurrent use. Pool hands out Mirrors to
// concurrent callers, each Mirror owned by one of them at a time.
//
// Example usage:
//
//	m, err := shm.New(64 << 10)
//	if err != nil {
//		return err
//	}
//	defer m.Close()
//
//	m.Push([]byte("hello "))
//	m.Push([]byte("world"))
//	fmt.Println(string(m.Bytes())) // hello world
//	m.Drop(m.Len())
//
// The backing memory comes from memfd_create(2) where available and from an
// unlinked /dev/shm object otherwise; see Backend.
package shm
