package ptnk

// Leaf page body layout:
//
//	[offset table][free space][records][footer]
//
// The offset table grows forward from the start of the body, one
// uint16 per record. Records are packed backward from the footer.
// Each table entry's low 12 bits give the record's byte offset within
// the body; bit 15 marks the record "full" (carries its own key) as
// opposed to "value-only" (a duplicate continuation that inherits the
// nearest full record to its left).
//
// Record encoding:
//
//	full:       szKey(u16) szValue(u16) key[...] value[...]
//	value-only: szValue(u16) value[...]
//
// szKey/szValue == NullTag (0xFFFF) marks a null key/value (zero bytes
// follow). The 6-byte footer {numKVs u16, sizeFree u16, _pad u16} sits
// at the very end of the body.
const (
	leafFooterSize   = 6
	leafEntryFullBit = uint16(1) << 15
	leafEntryOffMask = uint16(1)<<12 - 1
)

func leafNumKVs(body []byte) int {
	return int(getUint16LE(body[len(body)-leafFooterSize:]))
}

func leafSetNumKVs(body []byte, n int) {
	putUint16LE(body[len(body)-leafFooterSize:], uint16(n))
}

func leafSizeFree(body []byte) int {
	return int(getUint16LE(body[len(body)-leafFooterSize+2:]))
}

func leafSetSizeFree(body []byte, n int) {
	putUint16LE(body[len(body)-leafFooterSize+2:], uint16(n))
}

func leafTableEntry(body []byte, i int) (off int, full bool) {
	e := getUint16LE(body[i*2:])
	return int(e & leafEntryOffMask), e&leafEntryFullBit != 0
}

func leafSetTableEntry(body []byte, i, off int, full bool) {
	e := uint16(off) & leafEntryOffMask
	if full {
		e |= leafEntryFullBit
	}
	putUint16LE(body[i*2:], e)
}

func leafTableEnd(n int) int { return n * 2 }

func leafFooterStart(body []byte) int { return len(body) - leafFooterSize }

// leafDecodeFull decodes a full record at byte offset off.
func leafDecodeFull(body []byte, off int) (key, value []byte, keyNull, valNull bool, recSize int) {
	szKey := getUint16LE(body[off:])
	szValue := getUint16LE(body[off+2:])
	p := off + 4
	if szKey == NullTag {
		keyNull = true
	} else {
		key = body[p : p+int(szKey)]
		p += int(szKey)
	}
	if szValue == NullTag {
		valNull = true
	} else {
		value = body[p : p+int(szValue)]
		p += int(szValue)
	}
	return key, value, keyNull, valNull, p - off
}

// leafDecodeValueOnly decodes a value-only (dup continuation) record.
func leafDecodeValueOnly(body []byte, off int) (value []byte, valNull bool, recSize int) {
	szValue := getUint16LE(body[off:])
	p := off + 2
	if szValue == NullTag {
		return nil, true, p - off
	}
	return body[p : p+int(szValue)], false, p - off
}

func leafFullRecSize(keyLen, valLen int, keyNull, valNull bool) int {
	sz := 4
	if !keyNull {
		sz += keyLen
	}
	if !valNull {
		sz += valLen
	}
	return sz
}

func leafValueOnlyRecSize(valLen int, valNull bool) int {
	sz := 2
	if !valNull {
		sz += valLen
	}
	return sz
}

// leafEncodeFull writes a full record ending at byte offset end
// (records are packed backward), returning the record's start offset.
func leafEncodeFull(body []byte, end int, key, value []byte, keyNull, valNull bool) int {
	recSize := leafFullRecSize(len(key), len(value), keyNull, valNull)
	start := end - recSize
	p := start
	if keyNull {
		putUint16LE(body[p:], NullTag)
	} else {
		putUint16LE(body[p:], uint16(len(key)))
	}
	if valNull {
		putUint16LE(body[p+2:], NullTag)
	} else {
		putUint16LE(body[p+2:], uint16(len(value)))
	}
	p += 4
	if !keyNull {
		copy(body[p:], key)
		p += len(key)
	}
	if !valNull {
		copy(body[p:], value)
	}
	return start
}

func leafEncodeValueOnly(body []byte, end int, value []byte, valNull bool) int {
	recSize := leafValueOnlyRecSize(len(value), valNull)
	start := end - recSize
	if valNull {
		putUint16LE(body[start:], NullTag)
	} else {
		putUint16LE(body[start:], uint16(len(value)))
		copy(body[start+2:], value)
	}
	return start
}

// leafRecordAt resolves the logical (key, value) at record index i,
// scanning left through value-only continuations to find the owning
// key when necessary.
func leafRecordAt(body []byte, i int) (key, value []byte, keyNull, valNull bool) {
	off, full := leafTableEntry(body, i)
	if full {
		key, value, keyNull, valNull, _ = leafDecodeFull(body, off)
		return
	}
	value, valNull, _ = leafDecodeValueOnly(body, off)
	for j := i - 1; j >= 0; j-- {
		off2, full2 := leafTableEntry(body, j)
		if full2 {
			key, _, keyNull, _, _ = leafDecodeFull(body, off2)
			return
		}
	}
	return
}

// leafSearch returns the index of the first record whose key is >=
// the queried key (upper_bound-style lower bound over full records
// only; value-only continuations compare equal to their owner).
func leafSearch(body []byte, key []byte, keyNull bool) (idx int, exact bool) {
	n := leafNumKVs(body)
	lastKey := func(i int) ([]byte, bool) {
		for j := i; j >= 0; j-- {
			off, full := leafTableEntry(body, j)
			if full {
				k, _, kn, _, _ := leafDecodeFull(body, off)
				return k, kn
			}
		}
		return nil, false
	}
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		k, kn := lastKey(mid)
		c := compareNullable(k, kn, key, keyNull)
		if c < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < n {
		k, kn := lastKey(lo)
		exact = compareNullable(k, kn, key, keyNull) == 0
	}
	return lo, exact
}

func compareNullable(a []byte, aNull bool, b []byte, bNull bool) int {
	switch {
	case aNull && bNull:
		return 0
	case aNull:
		return -1
	case bNull:
		return 1
	default:
		return compareKeys(a, b)
	}
}
