// Package mmap provides the shared-mapping primitive backing the
// store's partition files: one growable read-write (or read-only)
// mapping per partition, with range sync for commit durability.
package mmap

// Map is one live mapping of a partition file. It is not safe to
// Remap or Close concurrently with readers; the owning partition
// serializes growth behind its own mutex.
type Map struct {
	data     []byte
	fd       int
	size     int64
	writable bool
}

// Data returns the mapped bytes. The slice is invalidated by Remap
// and Close.
func (m *Map) Data() []byte { return m.data }

// Size returns the current mapped length in bytes.
func (m *Map) Size() int64 { return m.size }

// Writable reports whether the mapping allows stores.
func (m *Map) Writable() bool { return m.writable }

// Fd returns the mapped file's descriptor.
func (m *Map) Fd() int { return m.fd }

// Error wraps a failing mapping syscall with the operation name.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return "mmap: " + e.Op + ": " + e.Err.Error()
	}
	return "mmap: " + e.Op
}

func (e *Error) Unwrap() error { return e.Err }

var (
	ErrInvalidSize  = &Error{Op: "invalid size"}
	ErrInvalidRange = &Error{Op: "invalid range"}
	ErrNotMapped    = &Error{Op: "not mapped"}
)
