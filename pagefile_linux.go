//go:build linux

package ptnk

import "golang.org/x/sys/unix"

// growPartitionFile extends pt's backing file to target pages,
// preferring fallocate (avoids sparse-file surprises on later ENOSPC)
// and falling back to ftruncate. The mapping already spans the whole
// partition, so no remap is needed.
func growPartitionFile(pt *partition, targetPages uint64) error {
	targetSize := int64(targetPages * PageSize)
	fd := int(pt.file.Fd())
	if err := unix.Fallocate(fd, 0, 0, targetSize); err != nil {
		if err := pt.file.Truncate(targetSize); err != nil {
			return WrapError(KindIO, "grow partition file", err)
		}
	}
	return nil
}

// syncPartitionRange flushes [off, off+length) of pt's mapping,
// preferring sync_file_range (write-back without the full msync
// metadata sync), falling back to msync, then fdatasync.
func syncPartitionRange(pt *partition, off, length int64) error {
	fd := int(pt.file.Fd())
	const flags = unix.SYNC_FILE_RANGE_WAIT_BEFORE | unix.SYNC_FILE_RANGE_WRITE | unix.SYNC_FILE_RANGE_WAIT_AFTER
	if err := unix.SyncFileRange(fd, off, length, flags); err == nil {
		return nil
	}
	if pt.mm != nil {
		if err := pt.mm.SyncRange(off, length); err == nil {
			return nil
		}
	}
	if err := unix.Fdatasync(fd); err != nil {
		return WrapError(KindIO, "sync partition range", err)
	}
	return nil
}
