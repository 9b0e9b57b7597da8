//go:build darwin

package mmap

// Darwin has no mremap; Remap always takes the unmap/map path.
func (m *Map) remapFast(newSize int) ([]byte, error) {
	return nil, ErrNotMapped
}
