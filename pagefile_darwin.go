//go:build darwin

package ptnk

import "golang.org/x/sys/unix"

// growPartitionFile extends pt's backing file to target pages;
// Darwin's ftruncate suffices. The mapping already spans the whole
// partition, so no remap is needed.
func growPartitionFile(pt *partition, targetPages uint64) error {
	targetSize := int64(targetPages * PageSize)
	if err := pt.file.Truncate(targetSize); err != nil {
		return WrapError(KindIO, "grow partition file", err)
	}
	return nil
}

// syncPartitionRange flushes [off, off+length) of pt's mapping.
// Darwin has no sync_file_range; fall back to msync, then fsync.
func syncPartitionRange(pt *partition, off, length int64) error {
	if pt.mm != nil {
		if err := pt.mm.SyncRange(off, length); err == nil {
			return nil
		}
	}
	if err := unix.Fsync(int(pt.file.Fd())); err != nil {
		return WrapError(KindIO, "sync partition range", err)
	}
	return nil
}
