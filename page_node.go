package ptnk

// Node (branch) page body layout:
//
//	[ptrNeg1: pgid, 8 bytes][offset table][free space][entries][footer]
//
// Entries are packed backward from the footer, each
// `(ptr pgid(8), szKey u16, key[...])`; szKey == NullTag marks a null
// separator key. The footer {numKeys u16, sizeFree u16} sits at the
// end of the body.
const (
	nodePtrNeg1Size = 8
	nodeFooterSize  = 4
)

func nodePtrNeg1(body []byte) pgid       { return pgid(getUint64LE(body[0:8])) }
func nodeSetPtrNeg1(body []byte, p pgid) { putUint64LE(body[0:8], uint64(p)) }

func nodeNumKeys(body []byte) int {
	return int(getUint16LE(body[len(body)-nodeFooterSize:]))
}

func nodeSetNumKeys(body []byte, n int) {
	putUint16LE(body[len(body)-nodeFooterSize:], uint16(n))
}

func nodeSizeFree(body []byte) int {
	return int(getUint16LE(body[len(body)-nodeFooterSize+2:]))
}

func nodeSetSizeFree(body []byte, n int) {
	putUint16LE(body[len(body)-nodeFooterSize+2:], uint16(n))
}

func nodeTableStart() int { return nodePtrNeg1Size }

func nodeTableEntry(body []byte, i int) int {
	return int(getUint16LE(body[nodeTableStart()+i*2:]))
}

func nodeSetTableEntry(body []byte, i, off int) {
	putUint16LE(body[nodeTableStart()+i*2:], uint16(off))
}

func nodeTableEnd(n int) int { return nodeTableStart() + n*2 }

// nodeDecodeEntry reads the (ptr, key) pair at byte offset off.
func nodeDecodeEntry(body []byte, off int) (ptr pgid, key []byte, keyNull bool, recSize int) {
	ptr = pgid(getUint64LE(body[off:]))
	szKey := getUint16LE(body[off+8:])
	p := off + 10
	if szKey == NullTag {
		return ptr, nil, true, p - off
	}
	return ptr, body[p : p+int(szKey)], false, p + int(szKey) - off
}

func nodeEntrySize(keyLen int, keyNull bool) int {
	if keyNull {
		return 10
	}
	return 10 + keyLen
}

// nodeEncodeEntry writes (ptr, key) as a new entry ending at end,
// returning its start offset.
func nodeEncodeEntry(body []byte, end int, ptr pgid, key []byte, keyNull bool) int {
	recSize := nodeEntrySize(len(key), keyNull)
	start := end - recSize
	putUint64LE(body[start:], uint64(ptr))
	if keyNull {
		putUint16LE(body[start+8:], NullTag)
	} else {
		putUint16LE(body[start+8:], uint16(len(key)))
		copy(body[start+10:], key)
	}
	return start
}

// nodeSearch finds the index of the entry to descend through for key:
// the last entry whose key is <= the queried key (lower-bound descent
// via ptrNeg1 when key is smaller than every entry's key).
func nodeSearch(body []byte, key []byte, keyNull bool) (idx int) {
	n := nodeNumKeys(body)
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		off := nodeTableEntry(body, mid)
		_, k, kn, _ := nodeDecodeEntry(body, off)
		if compareNullable(k, kn, key, keyNull) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo - 1
}

// nodeChildAt returns the child pointer for descent index idx, where
// idx == -1 selects ptrNeg1.
func nodeChildAt(body []byte, idx int) pgid {
	if idx < 0 {
		return nodePtrNeg1(body)
	}
	off := nodeTableEntry(body, idx)
	ptr, _, _, _ := nodeDecodeEntry(body, off)
	return ptr
}
