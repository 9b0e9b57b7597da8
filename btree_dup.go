package ptnk

// Duplicate-key subtree support. When a single key's
// combined duplicate-value payload would exceed dupKeyThreshold of a
// leaf body, it is represented not as a run of value-only records in
// a regular Leaf but as its own subtree: a DupKeyLeaf holding every
// value for that one key, promoted to a DupKeyNode fan-out if it ever
// overflows a single page.

// buildDupNode overwrites np with a DupKeyNode fanning out to freshly
// allocated DupKeyLeaf children, each holding a contiguous slice of
// values. Only the root node stores the key;
// children drop it to save space.
func buildDupNode(tx *txSession, np page, key []byte, values []Buffer) {
	var children []page
	for len(values) > 0 {
		child, _ := tx.newPage(ptDupKeyLeaf)
		lo, hi := 0, len(values)
		for lo < hi {
			mid := (lo + hi + 1) / 2
			if dupLeafRebuild(child.body(), nil, values[:mid]) {
				lo = mid
			} else {
				hi = mid - 1
			}
		}
		dupLeafRebuild(child.body(), nil, values[:lo])
		children = append(children, child)
		values = values[lo:]
	}

	np.setType(ptDupKeyNode)
	body := np.body()
	for i := range body {
		body[i] = 0
	}
	dupNodeSetKey(body, key)
	dupNodeSetLvl(body, 0)
	dupNodeSetNPtrMax(body, dupNodeCapacity(len(body), len(key)))
	dupNodeSetNPtr(body, len(children))
	for i, c := range children {
		dupNodeSetEntry(body, i, c.id(), dupLeafSizeFree(c.body()))
	}
}

// dupTreeValues returns every value stored under the dup subtree
// rooted at id, in logical order.
func dupTreeValues(tx *txSession, id pgid) ([]Buffer, error) {
	p, _, err := tx.readPage(id)
	if err != nil {
		return nil, err
	}
	switch p.typ() {
	case ptDupKeyLeaf:
		return dupLeafValues(p.body()), nil
	case ptDupKeyNode:
		var out []Buffer
		n := dupNodeNPtr(p.body())
		for i := 0; i < n; i++ {
			child, _ := dupNodeEntry(p.body(), i)
			vals, err := dupTreeValues(tx, child)
			if err != nil {
				return nil, err
			}
			out = append(out, vals...)
		}
		return out, nil
	default:
		return nil, NewError(KindInvariant, "dupTreeValues on non-dup page: "+p.typ().String())
	}
}

// dupSubtreeKey returns the key shared by every record under the
// subtree rooted at p (a DupKeyLeaf, or the root DupKeyNode which is
// the only one that carries the key).
func dupSubtreeKey(p page) []byte {
	switch p.typ() {
	case ptDupKeyLeaf:
		return dupLeafKey(p.body())
	case ptDupKeyNode:
		return dupNodeKey(p.body())
	default:
		return nil
	}
}

// insertViaDupOrSibling handles an insert descending onto a dup
// subtree's root pgid. If key matches the subtree's
// shared key, the value is added within the subtree (no split is ever
// reported upward: all subtree growth is internal). Otherwise a new
// plain Leaf sibling is created to hold the new record, positioned
// before or after the subtree by key order.
func insertViaDupOrSibling(tx *txSession, p page, mutable bool, key []byte, keyNull bool, value []byte, valNull bool, mode PutMode) (pgid, splitResult, error) {
	subKey := dupSubtreeKey(p)
	cmp := compareNullable(subKey, false, key, keyNull)
	if cmp == 0 {
		if mode == PutLeaveExisting {
			return PgidInvalid, splitResult{}, ErrDuplicateKey
		}
		newID, err := dupTreeInsert(tx, p, mutable, value, valNull)
		return newID, splitResult{}, err
	}

	right, err := tx.newPage(ptLeaf)
	if err != nil {
		return PgidInvalid, splitResult{}, err
	}
	packLeaf(right, []leafRec{{key, keyNull, value, valNull}}, 0)

	if cmp > 0 {
		// subKey > key: the new record sorts first, the subtree moves
		// right.
		return right.id(), splitResult{splits: []splitEntry{{sepKey: subKey, pgid: p.id()}}}, nil
	}
	return p.id(), splitResult{splits: []splitEntry{{sepKey: key, sepNull: keyNull, pgid: right.id()}}}, nil
}

// dupTreeInsert adds value to the dup subtree rooted at p (already
// resolved+read by the caller), returning the subtree's root pgid
// (unchanged unless a DupKeyLeaf had to be cloned at a new pgid or
// promoted to a DupKeyNode).
func dupTreeInsert(tx *txSession, p page, mutable bool, value []byte, valNull bool) (pgid, error) {
	switch p.typ() {
	case ptDupKeyLeaf:
		return dupLeafInsert(tx, p, mutable, value, valNull)
	case ptDupKeyNode:
		return dupNodeInsert(tx, p, mutable, value, valNull)
	default:
		return PgidInvalid, NewError(KindInvariant, "dupTreeInsert on non-dup page: "+p.typ().String())
	}
}

// dupLeafInsert appends value to p's value list, rebuilding in place
// if it fits or promoting to a DupKeyNode if it doesn't.
func dupLeafInsert(tx *txSession, p page, mutable bool, value []byte, valNull bool) (pgid, error) {
	np, err := tx.modifyPage(p, mutable)
	if err != nil {
		return PgidInvalid, err
	}
	key := append([]byte(nil), dupLeafKey(np.body())...)
	values := append(dupLeafValues(np.body()), newBufferFor(value, valNull))
	if dupLeafRebuild(np.body(), key, values) {
		return np.id(), nil
	}
	buildDupNode(tx, np, key, values)
	return np.id(), nil
}

func newBufferFor(value []byte, valNull bool) Buffer {
	if valNull {
		return NullBuffer()
	}
	return ValidBuffer(value)
}

func cloneBuffers(values []Buffer) []Buffer {
	out := make([]Buffer, len(values))
	for i, v := range values {
		if v.IsValid() {
			out[i] = ValidBuffer(append([]byte(nil), v.Bytes()...))
		} else {
			out[i] = v
		}
	}
	return out
}

// dupNodeInsert adds value under the child with the most reported
// free space (the MOSTFREE insertion target), splitting that child
// into a new sibling page on overflow and growing the node's own
// entry table.
func dupNodeInsert(tx *txSession, p page, mutable bool, value []byte, valNull bool) (pgid, error) {
	np, err := tx.modifyPage(p, mutable)
	if err != nil {
		return PgidInvalid, err
	}
	body := np.body()
	ci := dupNodeMostFree(body)
	childID, _ := dupNodeEntry(body, ci)

	child, childMutable, err := tx.readPage(childID)
	if err != nil {
		return PgidInvalid, err
	}
	cnp, err := tx.modifyPage(child, childMutable)
	if err != nil {
		return PgidInvalid, err
	}
	values := append(dupLeafValues(cnp.body()), newBufferFor(value, valNull))
	if dupLeafRebuild(cnp.body(), nil, values) {
		dupNodeSetEntry(body, ci, cnp.id(), dupLeafSizeFree(cnp.body()))
		tx.notifyPageWOldLink(np.id())
		return np.id(), nil
	}

	// Child overflowed: split its values across itself and a new
	// sibling, then add the sibling as a new entry if there is room.
	// The tail must be copied out first: rebuilding the prefix stamps
	// its terminator over the tail's first size word in place.
	mid := len(values) / 2
	tail := cloneBuffers(values[mid:])
	dupLeafRebuild(cnp.body(), nil, values[:mid])
	sibling, err := tx.newPage(ptDupKeyLeaf)
	if err != nil {
		return PgidInvalid, err
	}
	dupLeafRebuild(sibling.body(), nil, tail)

	nPtr := dupNodeNPtr(body)
	dupNodeSetEntry(body, ci, cnp.id(), dupLeafSizeFree(cnp.body()))
	if nPtr < dupNodeNPtrMax(body) {
		// Keep subtree order: the sibling holds the tail of ci's values
		// so it slots in right after ci.
		for i := nPtr; i > ci+1; i-- {
			ptr, free := dupNodeEntry(body, i-1)
			dupNodeSetEntry(body, i, ptr, free)
		}
		dupNodeSetEntry(body, ci+1, sibling.id(), dupLeafSizeFree(sibling.body()))
		dupNodeSetNPtr(body, nPtr+1)
		tx.notifyPageWOldLink(np.id())
		return np.id(), nil
	}
	// The node's entry table is full; fold the sibling's values back
	// into the last child rather than growing another level.
	last := nPtr - 1
	lastID, _ := dupNodeEntry(body, last)
	lastPage, lastMutable, err := tx.readPage(lastID)
	if err != nil {
		return PgidInvalid, err
	}
	lastNp, err := tx.modifyPage(lastPage, lastMutable)
	if err != nil {
		return PgidInvalid, err
	}
	merged := append(dupLeafValues(lastNp.body()), dupLeafValues(sibling.body())...)
	dupLeafRebuild(lastNp.body(), nil, merged)
	dupNodeSetEntry(body, last, lastNp.id(), dupLeafSizeFree(lastNp.body()))
	tx.notifyPageWOldLink(np.id())
	return np.id(), nil
}
