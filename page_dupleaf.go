package ptnk

// DupKeyLeaf body layout: a single shared key stored
// once at the page tail, with values appended head-first.
//
//	[values...][0xFFFF terminator][free space][key bytes][footer]
//
// Each value entry is `szValue(u16) value[...]` (szValue == NullTag
// marks a null value). The value region ends with a bare NullTag
// terminator word, distinguishing "end of values" from free space. The
// footer {numVs u16, szKey u16, sizeFree u16} is fixed at the body's
// last 6 bytes; the key sits immediately before it.
const dupLeafFooterSize = 6

func dupLeafNumVs(body []byte) int {
	return int(getUint16LE(body[len(body)-dupLeafFooterSize:]))
}

func dupLeafSetNumVs(body []byte, n int) {
	putUint16LE(body[len(body)-dupLeafFooterSize:], uint16(n))
}

func dupLeafSzKey(body []byte) int {
	return int(getUint16LE(body[len(body)-dupLeafFooterSize+2:]))
}

func dupLeafSetSzKey(body []byte, n int) {
	putUint16LE(body[len(body)-dupLeafFooterSize+2:], uint16(n))
}

func dupLeafSizeFree(body []byte) int {
	return int(getUint16LE(body[len(body)-dupLeafFooterSize+4:]))
}

func dupLeafSetSizeFree(body []byte, n int) {
	putUint16LE(body[len(body)-dupLeafFooterSize+4:], uint16(n))
}

func dupLeafKey(body []byte) []byte {
	szKey := dupLeafSzKey(body)
	end := len(body) - dupLeafFooterSize
	return body[end-szKey : end]
}

func dupLeafKeyRegionStart(body []byte) int {
	return len(body) - dupLeafFooterSize - dupLeafSzKey(body)
}

// dupLeafValues decodes every value in order, honoring the NullTag
// terminator.
func dupLeafValues(body []byte) []Buffer {
	n := dupLeafNumVs(body)
	vals := make([]Buffer, 0, n)
	off := 0
	for i := 0; i < n; i++ {
		sz := getUint16LE(body[off:])
		off += 2
		if sz == NullTag {
			vals = append(vals, NullBuffer())
			continue
		}
		vals = append(vals, ValidBuffer(body[off:off+int(sz)]))
		off += int(sz)
	}
	return vals
}

// dupLeafValuesEnd returns the byte offset just past the terminator
// word, i.e. the start of free space.
func dupLeafValuesEnd(body []byte) int {
	off := 0
	for i := 0; i < dupLeafNumVs(body); i++ {
		sz := getUint16LE(body[off:])
		off += 2
		if sz != NullTag {
			off += int(sz)
		}
	}
	return off + 2 // terminator word
}

// dupLeafRebuild repacks body from scratch given key and an ordered
// value list, returning false if it would not fit.
func dupLeafRebuild(body []byte, key []byte, values []Buffer) bool {
	need := 0
	for _, v := range values {
		if v.IsNull() {
			need += 2
		} else {
			need += 2 + v.Len()
		}
	}
	need += 2 // terminator
	need += len(key)
	need += dupLeafFooterSize
	if need > len(body) {
		return false
	}
	off := 0
	for _, v := range values {
		if v.IsNull() {
			putUint16LE(body[off:], NullTag)
			off += 2
		} else {
			putUint16LE(body[off:], uint16(v.Len()))
			off += 2
			copy(body[off:], v.Bytes())
			off += v.Len()
		}
	}
	putUint16LE(body[off:], NullTag) // terminator
	off += 2

	keyStart := len(body) - dupLeafFooterSize - len(key)
	copy(body[keyStart:], key)

	dupLeafSetNumVs(body, len(values))
	dupLeafSetSzKey(body, len(key))
	dupLeafSetSizeFree(body, keyStart-off)
	return true
}
