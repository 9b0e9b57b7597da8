package ptnk

// DupKeyNode body layout: fan-out over a same-key
// subtree.
//
//	header: szKey(u16) nPtr(u16) nPtrMax(u16) lvl(u8) _pad(u8)
//	[key bytes, only when szKey > 0; root node only]
//	entries: (ptr pgid(8), sizeFree u16) * nPtrMax
//
// Non-root DupKeyNodes carry szKey == 0 and omit the key entirely,
// saving space.
const dupNodeHeaderSize = 8
const dupNodeEntrySize = 10

func dupNodeSzKey(body []byte) int   { return int(getUint16LE(body[0:2])) }
func dupNodeNPtr(body []byte) int    { return int(getUint16LE(body[2:4])) }
func dupNodeNPtrMax(body []byte) int { return int(getUint16LE(body[4:6])) }
func dupNodeLvl(body []byte) uint8   { return body[6] }

func dupNodeSetSzKey(body []byte, n int)   { putUint16LE(body[0:2], uint16(n)) }
func dupNodeSetNPtr(body []byte, n int)    { putUint16LE(body[2:4], uint16(n)) }
func dupNodeSetNPtrMax(body []byte, n int) { putUint16LE(body[4:6], uint16(n)) }
func dupNodeSetLvl(body []byte, v uint8)   { body[6] = v }

func dupNodeKey(body []byte) []byte {
	sz := dupNodeSzKey(body)
	if sz == 0 {
		return nil
	}
	return body[dupNodeHeaderSize : dupNodeHeaderSize+sz]
}

func dupNodeSetKey(body []byte, key []byte) {
	dupNodeSetSzKey(body, len(key))
	copy(body[dupNodeHeaderSize:], key)
}

func dupNodeEntriesStart(body []byte) int {
	return dupNodeHeaderSize + dupNodeSzKey(body)
}

func dupNodeEntry(body []byte, i int) (ptr pgid, sizeFree int) {
	off := dupNodeEntriesStart(body) + i*dupNodeEntrySize
	return pgid(getUint64LE(body[off:])), int(getUint16LE(body[off+8:]))
}

func dupNodeSetEntry(body []byte, i int, ptr pgid, sizeFree int) {
	off := dupNodeEntriesStart(body) + i*dupNodeEntrySize
	putUint64LE(body[off:], uint64(ptr))
	putUint16LE(body[off+8:], uint16(sizeFree))
}

// dupNodeMostFree returns the index of the child with the most
// reported free space (the MOSTFREE insertion target).
func dupNodeMostFree(body []byte) int {
	best, bestFree := 0, -1
	for i := 0; i < dupNodeNPtr(body); i++ {
		_, free := dupNodeEntry(body, i)
		if free > bestFree {
			best, bestFree = i, free
		}
	}
	return best
}

func dupNodeCapacity(bodyLen, szKey int) int {
	return (bodyLen - dupNodeHeaderSize - szKey) / dupNodeEntrySize
}
