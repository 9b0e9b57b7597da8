package ptnk

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	mmappkg "github.com/nyaxt/ptnk-sub000/mmap"
)

// partition is one `<prefix>.<3hex>.ptnk` file: a sequence of
// PageSize-byte slots, memory-mapped in full. Mutating
// fields (nextLocal, mm) are only ever touched by the owning
// pageFile while this partition is active; once superseded it is
// read-only and those fields are fixed.
type partition struct {
	id   partID
	path string

	mu   sync.Mutex // guards file growth (expand is not lock-free)
	file *os.File
	mm   *mmappkg.Map

	numPages  atomic.Uint64 // pages currently backed by the mmap/file
	nextLocal atomic.Uint64 // next local id to hand out (CAS-allocated)
	readOnly  bool
}

func partitionPath(prefix string, id partID) string {
	return fmt.Sprintf("%s.%03x.ptnk", prefix, id)
}

// page returns a view over local page index local. Caller must ensure
// local < numPages (growPartition has already run).
func (pt *partition) page(local uint64) page {
	off := int64(local) * PageSize
	return page{buf: pt.mm.Data()[off : off+PageSize]}
}

// pageFile is the partitioned, append-only, memory-mapped page store.
// It hands out pages by pgid, allocates new ones via a
// CAS fast path, and syncs committed ranges to disk.
type pageFile struct {
	prefix string
	opts   uint
	mode   os.FileMode

	mu         sync.Mutex // serializes partition creation / rollover only
	partitions atomic.Pointer[[]*partition]
	active     atomic.Pointer[partition]
}

// openPageFile scans for existing `<prefix>.*.ptnk` files, opens the
// highest-numbered as active (read-write) and the rest read-only, or
// creates partition 0 if none exist.
func openPageFile(prefix string, opts uint, mode os.FileMode) (*pageFile, error) {
	pf := &pageFile{prefix: prefix, opts: opts, mode: mode}

	ids, err := scanPartitionIDs(prefix)
	if err != nil {
		return nil, WrapError(KindIO, "scan partitions", err)
	}

	// The partitions slice is indexed by partID; dropped partitions
	// leave nil holes so surviving pgids keep resolving.
	var parts []*partition
	if len(ids) == 0 {
		if opts&Create == 0 {
			return nil, NewError(KindConfig, "no partitions found and Create not set")
		}
		p, err := createPartition(prefix, 0, mode)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	} else {
		parts = make([]*partition, ids[len(ids)-1]+1)
		for i, id := range ids {
			readOnly := i != len(ids)-1 || opts&Writer == 0
			p, err := openPartition(prefix, id, readOnly)
			if err != nil {
				return nil, err
			}
			parts[id] = p
		}
	}

	pf.partitions.Store(&parts)
	active := parts[len(parts)-1]
	if err := recoverPartitionAlloc(active); err != nil {
		return nil, err
	}
	pf.active.Store(active)
	return pf, nil
}

func scanPartitionIDs(prefix string) ([]partID, error) {
	dir := filepath.Dir(prefix)
	base := filepath.Base(prefix)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []partID
	want := base + "."
	for _, ent := range entries {
		name := ent.Name()
		if !strings.HasPrefix(name, want) || !strings.HasSuffix(name, ".ptnk") {
			continue
		}
		hexPart := strings.TrimSuffix(strings.TrimPrefix(name, want), ".ptnk")
		if len(hexPart) != 3 {
			continue
		}
		v, err := strconv.ParseUint(hexPart, 16, 32)
		if err != nil {
			continue
		}
		ids = append(ids, partID(v))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// recoverPartitionAlloc scans backward from the high-water mark for
// the last valid page, then sets nextLocal just past it.
func recoverPartitionAlloc(pt *partition) error {
	n := pt.numPages.Load()
	for local := n; local > 0; local-- {
		p := pt.page(local - 1)
		if p.isValid() {
			pt.nextLocal.Store(local)
			return nil
		}
	}
	pt.nextLocal.Store(0)
	return nil
}

// newPage allocates a writable page in the active partition, rolling
// over to a new partition when full.
func (pf *pageFile) newPage(typ pageType) (page, error) {
	for {
		active := pf.active.Load()
		local := active.nextLocal.Load()
		if local >= maxPagesPerPartition {
			if err := pf.rollover(active); err != nil {
				return page{}, err
			}
			continue
		}
		if !active.nextLocal.CompareAndSwap(local, local+1) {
			continue
		}
		if err := pf.growIfNeeded(active, local+1); err != nil {
			return page{}, err
		}
		id := newPgid(active.id, local)
		return initPage(active.page(local).buf, id, typ), nil
	}
}

// growIfNeeded extends the partition's file to cover at least upto
// pages, coalescing the growth under the partition's mutex. The
// mapping already spans the whole partition and is not touched.
func (pf *pageFile) growIfNeeded(pt *partition, upto uint64) error {
	if pt.numPages.Load() >= upto {
		return nil
	}
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if pt.numPages.Load() >= upto {
		return nil
	}
	// Grow geometrically to amortize file-extension cost, capped at
	// the partition's page ceiling.
	target := upto * 2
	if target > maxPagesPerPartition {
		target = maxPagesPerPartition
	}
	if target < upto {
		target = upto
	}
	if err := growPartitionFile(pt, target); err != nil {
		return err
	}
	pt.numPages.Store(target)
	return nil
}

// rollover creates and activates a new partition once cur is full.
func (pf *pageFile) rollover(cur *partition) error {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if pf.active.Load() != cur {
		return nil // another goroutine already rolled over
	}
	cur.readOnly = true
	if cur.id >= PartIDMax {
		return ErrOutOfSpace
	}
	next, err := createPartition(pf.prefix, cur.id+1, pf.mode)
	if err != nil {
		return err
	}
	old := *pf.partitions.Load()
	updated := append(append([]*partition{}, old...), next)
	pf.partitions.Store(&updated)
	pf.active.Store(next)
	return nil
}

// forceRollover starts a fresh partition regardless of how full the
// active one is.
func (pf *pageFile) forceRollover() error {
	return pf.rollover(pf.active.Load())
}

// resolve maps a pgid to its backing partition and page. The
// partitions slice is indexed by partID, with nil holes for dropped
// partitions.
func (pf *pageFile) resolve(id pgid) (page, error) {
	parts := *pf.partitions.Load()
	idx := int(id.part())
	if idx < 0 || idx >= len(parts) || parts[idx] == nil {
		return page{}, WrapError(KindCorrupt, "pgid references unknown partition", nil)
	}
	pt := parts[idx]
	local := id.local()
	if local >= pt.numPages.Load() {
		return page{}, WrapError(KindCorrupt, "pgid beyond partition high-water mark", nil)
	}
	return pt.page(local), nil
}

// sync flushes the byte range covering pgids [lo, hi] (inclusive,
// same partition) to stable storage, via the platform's preferred
// primitive chain.
func (pf *pageFile) sync(lo, hi pgid) error {
	parts := *pf.partitions.Load()
	pt := parts[lo.part()]
	if pt == nil {
		return WrapError(KindCorrupt, "sync on dropped partition", nil)
	}
	off := int64(lo.local()) * PageSize
	length := int64(hi.local()-lo.local()+1) * PageSize
	return syncPartitionRange(pt, off, length)
}

// activePartID reports the id of the partition new pages currently
// land in.
func (pf *pageFile) activePartID() partID {
	return pf.active.Load().id
}

// dropPartitionsBefore unmaps, closes, and unlinks every partition
// with id < limit, leaving nil holes in the partitions slice. The
// active partition is never dropped.
func (pf *pageFile) dropPartitionsBefore(limit partID) error {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	old := *pf.partitions.Load()
	updated := append([]*partition{}, old...)
	var firstErr error
	for i, pt := range updated {
		if pt == nil || pt.id >= limit || pt == pf.active.Load() {
			continue
		}
		if pt.mm != nil {
			if err := pt.mm.Close(); err != nil && firstErr == nil {
				firstErr = WrapError(KindIO, "unmap partition", err)
			}
		}
		if err := pt.file.Close(); err != nil && firstErr == nil {
			firstErr = WrapError(KindIO, "close partition", err)
		}
		if err := os.Remove(pt.path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = WrapError(KindIO, "unlink partition", err)
		}
		updated[i] = nil
	}
	pf.partitions.Store(&updated)
	return firstErr
}

// dropPageFile unlinks every partition file for prefix.
func dropPageFile(prefix string) error {
	ids, err := scanPartitionIDs(prefix)
	if err != nil {
		return WrapError(KindIO, "scan partitions for drop", err)
	}
	for _, id := range ids {
		if err := os.Remove(partitionPath(prefix, id)); err != nil && !os.IsNotExist(err) {
			return WrapError(KindIO, "unlink partition", err)
		}
	}
	return nil
}

// close unmaps and closes every partition.
func (pf *pageFile) close() error {
	parts := *pf.partitions.Load()
	var firstErr error
	for _, pt := range parts {
		if pt == nil {
			continue
		}
		if pt.mm != nil {
			if err := pt.mm.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if pt.file != nil {
			if err := pt.file.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
