//go:build linux

package mmap

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// remapFast grows the mapping in place with mremap(MREMAP_MAYMOVE),
// avoiding the unmap/map window of the portable path.
func (m *Map) remapFast(newSize int) ([]byte, error) {
	newAddr, _, errno := unix.Syscall6(
		unix.SYS_MREMAP,
		uintptr(unsafe.Pointer(&m.data[0])),
		uintptr(m.size),
		uintptr(newSize),
		unix.MREMAP_MAYMOVE,
		0, 0)
	if errno != 0 {
		return nil, errno
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(newAddr)), newSize), nil
}
