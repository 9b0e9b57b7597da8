//go:build linux || darwin

package ptnk

import (
	"os"

	mmappkg "github.com/nyaxt/ptnk-sub000/mmap"
)

// partitionByteCap is the full address span one partition can ever
// occupy. A writable partition maps this span once, up front: page
// handles stay valid across file growth because the mapping never
// moves, and touching a page is legal as soon as the file has been
// extended underneath it.
const partitionByteCap = maxPagesPerPartition * PageSize

func createPartition(prefix string, id partID, mode os.FileMode) (*partition, error) {
	path := partitionPath(prefix, id)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return nil, WrapError(KindIO, "create partition file", err)
	}
	mm, err := mmappkg.New(int(f.Fd()), 0, partitionByteCap, true)
	if err != nil {
		f.Close()
		return nil, WrapError(KindIO, "mmap partition file", err)
	}
	return &partition{id: id, path: path, file: f, mm: mm}, nil
}

func openPartition(prefix string, id partID, readOnly bool) (*partition, error) {
	path := partitionPath(prefix, id)
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, WrapError(KindIO, "open partition file", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, WrapError(KindIO, "stat partition file", err)
	}
	pt := &partition{id: id, path: path, file: f, readOnly: readOnly}
	numPages := uint64(info.Size() / PageSize)
	pt.numPages.Store(numPages)

	// Read-only partitions never grow: map just what is on disk. The
	// writable (active) partition reserves its whole span.
	length := int(numPages * PageSize)
	if !readOnly {
		length = partitionByteCap
	}
	if length > 0 {
		mm, err := mmappkg.New(int(f.Fd()), 0, length, !readOnly)
		if err != nil {
			f.Close()
			return nil, WrapError(KindIO, "mmap partition file", err)
		}
		pt.mm = mm
	}
	return pt, nil
}
