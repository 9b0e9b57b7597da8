package ptnk

// Overview page body layout:
//
//	verLayout(u64) (szId(u16) id-bytes rootPgid(u64))* 0xFFFF
//
// The directory is a flat, terminated sequence of (table id, root
// page id) entries; lookups are linear scans (tables are expected to
// number in the tens, not thousands).
const overviewHeaderSize = 8

func overviewVerLayout(body []byte) uint64 {
	return getUint64LE(body[0:8])
}

func overviewSetVerLayout(body []byte, v uint64) {
	putUint64LE(body[0:8], v)
}

// overviewEntry describes one table directory entry and the byte
// offset (within body) at which its szId field begins.
type overviewEntry struct {
	off      int
	id       []byte
	rootPgid pgid
}

// overviewEntries walks the directory, stopping at the 0xFFFF
// terminator or the end of the body.
func overviewEntries(body []byte) []overviewEntry {
	var entries []overviewEntry
	off := overviewHeaderSize
	for off+2 <= len(body) {
		szId := getUint16LE(body[off:])
		if szId == NullTag {
			break
		}
		idStart := off + 2
		idEnd := idStart + int(szId)
		root := pgid(getUint64LE(body[idEnd:]))
		entries = append(entries, overviewEntry{off: off, id: body[idStart:idEnd], rootPgid: root})
		off = idEnd + 8
	}
	return entries
}

// overviewGetTableRoot linear-scans for id, returning PgidInvalid if
// absent.
func overviewGetTableRoot(body []byte, id []byte) pgid {
	for _, e := range overviewEntries(body) {
		if compareKeys(e.id, id) == 0 {
			return e.rootPgid
		}
	}
	return PgidInvalid
}

// overviewGetDefaultTableRoot returns the first directory entry's
// root, or PgidInvalid if the directory is empty.
func overviewGetDefaultTableRoot(body []byte) pgid {
	entries := overviewEntries(body)
	if len(entries) == 0 {
		return PgidInvalid
	}
	return entries[0].rootPgid
}

// overviewEntriesEnd returns the body offset of the terminator word.
func overviewEntriesEnd(body []byte) int {
	off := overviewHeaderSize
	for {
		szId := getUint16LE(body[off:])
		if szId == NullTag {
			return off
		}
		off += 2 + int(szId) + 8
	}
}

// overviewSetTableRoot overwrites id's entry if present, else appends
// a new one and bumps verLayout. Returns false if the directory has no
// room to append.
func overviewSetTableRoot(body []byte, id []byte, root pgid) bool {
	for _, e := range overviewEntries(body) {
		if compareKeys(e.id, id) == 0 {
			putUint64LE(body[e.off+2+len(e.id):], uint64(root))
			return true
		}
	}
	end := overviewEntriesEnd(body)
	need := 2 + len(id) + 8 + 2 // entry + new terminator
	if end+need > len(body) {
		return false
	}
	putUint16LE(body[end:], uint16(len(id)))
	copy(body[end+2:], id)
	putUint64LE(body[end+2+len(id):], uint64(root))
	putUint16LE(body[end+2+len(id)+8:], NullTag)
	overviewSetVerLayout(body, overviewVerLayout(body)+1)
	return true
}

// overviewDropTable removes id's entry, compacting the tail over it,
// and bumps verLayout. Reports whether id was present.
func overviewDropTable(body []byte, id []byte) bool {
	entries := overviewEntries(body)
	for i, e := range entries {
		if compareKeys(e.id, id) != 0 {
			continue
		}
		entryLen := 2 + len(e.id) + 8
		end := overviewEntriesEnd(body)
		copy(body[e.off:], body[e.off+entryLen:end+2])
		_ = i
		overviewSetVerLayout(body, overviewVerLayout(body)+1)
		return true
	}
	return false
}

// tableOffCache caches the byte offset of a table id's rootPgid field
// together with the verLayout observed at cache time; it is
// invalidated whenever the directory's layout version changes.
type tableOffCache struct {
	id           []byte
	rootFieldOff int
	verLayout    uint64
	valid        bool
}

func (c *tableOffCache) lookup(body []byte, id []byte) (pgid, bool) {
	if !c.valid || overviewVerLayout(body) != c.verLayout || compareKeys(c.id, id) != 0 {
		return PgidInvalid, false
	}
	return pgid(getUint64LE(body[c.rootFieldOff:])), true
}

func (c *tableOffCache) fill(body []byte, id []byte) {
	for _, e := range overviewEntries(body) {
		if compareKeys(e.id, id) == 0 {
			c.id = append(c.id[:0], id...)
			c.rootFieldOff = e.off + 2 + len(e.id)
			c.verLayout = overviewVerLayout(body)
			c.valid = true
			return
		}
	}
	c.valid = false
}
