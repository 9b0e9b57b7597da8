//go:build unix

package mmap

import "golang.org/x/sys/unix"

// New maps length bytes of fd starting at offset, which must be
// page-aligned. The mapping is MAP_SHARED: stores through Data land
// in the file once synced.
func New(fd int, offset int64, length int, writable bool) (*Map, error) {
	if length <= 0 {
		return nil, ErrInvalidSize
	}
	data, err := unix.Mmap(fd, offset, length, protFor(writable), unix.MAP_SHARED)
	if err != nil {
		return nil, &Error{Op: "mmap", Err: err}
	}
	return &Map{data: data, fd: fd, size: int64(length), writable: writable}, nil
}

func protFor(writable bool) int {
	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}
	return prot
}

// SyncRange flushes [offset, offset+length) to the backing file.
func (m *Map) SyncRange(offset, length int64) error {
	if m.data == nil {
		return ErrNotMapped
	}
	if offset < 0 || length < 0 || offset+length > m.size {
		return ErrInvalidRange
	}
	if length == 0 {
		return nil
	}
	// msync requires a page-aligned start address.
	if rem := offset % int64(unix.Getpagesize()); rem != 0 {
		offset -= rem
		length += rem
	}
	if err := unix.Msync(m.data[offset:offset+length], unix.MS_SYNC); err != nil {
		return &Error{Op: "msync", Err: err}
	}
	return nil
}

// Sync flushes the whole mapping.
func (m *Map) Sync() error {
	return m.SyncRange(0, m.size)
}

// Remap grows (or shrinks) the mapping to newSize bytes. The file
// must already cover newSize. Existing Data slices are invalidated.
func (m *Map) Remap(newSize int64) error {
	if m.data == nil {
		return ErrNotMapped
	}
	if newSize <= 0 {
		return ErrInvalidSize
	}
	if newSize == m.size {
		return nil
	}

	if data, err := m.remapFast(int(newSize)); err == nil {
		m.data = data
		m.size = newSize
		return nil
	}

	// Portable path: tear the mapping down and rebuild it at the new
	// length.
	if err := unix.Munmap(m.data); err != nil {
		return &Error{Op: "munmap", Err: err}
	}
	data, err := unix.Mmap(m.fd, 0, int(newSize), protFor(m.writable), unix.MAP_SHARED)
	if err != nil {
		m.data = nil
		m.size = 0
		return &Error{Op: "mmap", Err: err}
	}
	m.data = data
	m.size = newSize
	return nil
}

// Close unmaps the region. The file descriptor stays open; it belongs
// to the partition.
func (m *Map) Close() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	m.size = 0
	if err != nil {
		return &Error{Op: "munmap", Err: err}
	}
	return nil
}
