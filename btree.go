package ptnk

// The B+-tree is an ordered map over one table's root pgid, built
// copy-on-write atop txSession. Every structural change
// starts with readPage + modifyPage, so a node is only ever cloned
// once per transaction no matter how many times it is touched.

// query describes a cursor-resolution request.
type query struct {
	key     []byte
	keyNull bool
	typ     QueryType
}

// btreeGet performs a read-only EXACT lookup, returning Invalid if
// absent.
func btreeGet(tx *txSession, root pgid, key []byte, keyNull bool) (Buffer, error) {
	leafID, idx, exact, err := btreeDescend(tx, root, key, keyNull)
	if err != nil {
		return Buffer{}, err
	}
	if !exact {
		return InvalidBuffer(), nil
	}
	p, _, err := tx.readPage(leafID)
	if err != nil {
		return Buffer{}, err
	}
	if p.typ() == ptDupKeyLeaf || p.typ() == ptDupKeyNode {
		vals, err := dupTreeValues(tx, leafID)
		if err != nil || len(vals) == 0 {
			return InvalidBuffer(), err
		}
		return vals[0], nil
	}
	_, value, _, valNull := leafRecordAt(p.body(), idx)
	if valNull {
		return NullBuffer(), nil
	}
	return ValidBuffer(value), nil
}

// btreeDescend walks from root to the leaf that should contain key,
// returning the leaf's pgid, the index within it, and whether the key
// matched exactly. A dup subtree root counts as a single position.
func btreeDescend(tx *txSession, root pgid, key []byte, keyNull bool) (leafID pgid, idx int, exact bool, err error) {
	id := root
	for {
		p, _, err := tx.readPage(id)
		if err != nil {
			return PgidInvalid, 0, false, err
		}
		switch p.typ() {
		case ptNode:
			body := p.body()
			ci := nodeSearch(body, key, keyNull)
			id = nodeChildAt(body, ci)
		case ptDupKeyNode:
			k := dupNodeKey(p.body())
			return id, 0, compareNullable(k, false, key, keyNull) == 0, nil
		case ptLeaf:
			body := p.body()
			i, ex := leafSearch(body, key, keyNull)
			return id, i, ex, nil
		case ptDupKeyLeaf:
			k := dupLeafKey(p.body())
			return id, 0, compareNullable(k, false, key, keyNull) == 0, nil
		default:
			return PgidInvalid, 0, false, NewError(KindInvariant, "unexpected page type during descent: "+p.typ().String())
		}
	}
}

// splitEntry is one new right sibling a lower level reports upward:
// sepKey is the first key reachable through pgid.
type splitEntry struct {
	sepKey  []byte
	sepNull bool
	pgid    pgid
}

// splitResult is what insert reports upward when a page had to split.
// A leaf overflowing into several siblings (or carving out a dup
// subtree mid-run) can produce more than one entry at once.
type splitResult struct {
	splits []splitEntry
}

// nodeEnt is a decoded Node entry, used to rebuild a page's packed
// entry list when inserting or splitting.
type nodeEnt struct {
	ptr     pgid
	key     []byte
	keyNull bool
}

func decodeNodeEnts(body []byte) []nodeEnt {
	n := nodeNumKeys(body)
	ents := make([]nodeEnt, n)
	for i := 0; i < n; i++ {
		ptr, k, kn, _ := nodeDecodeEntry(body, nodeTableEntry(body, i))
		ents[i] = nodeEnt{ptr, append([]byte(nil), k...), kn}
	}
	return ents
}

func nodeEntsSize(ents []nodeEnt) int {
	total := 0
	for _, e := range ents {
		total += nodeEntrySize(len(e.key), e.keyNull) + 2
	}
	return total
}

func nodeBodyCapacity(body []byte) int {
	return len(body) - nodePtrNeg1Size - nodeFooterSize
}

// packNodeEnts packs a prefix of ents into p (whose ptrNeg1 must
// already be set), stopping once free space would drop below thres,
// and returns how many entries were consumed.
func packNodeEnts(p page, ents []nodeEnt, thres int) int {
	body := p.body()
	end := len(body) - nodeFooterSize
	i := 0
	for i < len(ents) {
		sz := nodeEntrySize(len(ents[i].key), ents[i].keyNull)
		free := end - sz - nodeTableEnd(i+1)
		if free < 0 {
			break
		}
		if free < thres && i > 0 {
			break
		}
		end = nodeEncodeEntry(body, end, ents[i].ptr, ents[i].key, ents[i].keyNull)
		nodeSetTableEntry(body, i, end)
		i++
	}
	nodeSetNumKeys(body, i)
	nodeSetSizeFree(body, end-nodeTableEnd(i))
	return i
}

// repackNode rewrites p's entry list in full; the caller guarantees
// the entries fit (used by the shrink-only delete paths).
func repackNode(p page, ents []nodeEnt) {
	if packNodeEnts(p, ents, 0) != len(ents) {
		panic("ptnk: repackNode overflow")
	}
}

// packNodesAcross packs ents into first and as many new sibling Nodes
// as needed. Each sibling's separator is the entry between the two
// pages: its ptr becomes the sibling's ptrNeg1 and its key travels
// upward.
func packNodesAcross(tx *txSession, first page, ents []nodeEnt) ([]splitEntry, error) {
	consumed := packNodeEnts(first, ents, thresSplitDefault)
	rem := ents[consumed:]
	var splits []splitEntry
	for len(rem) > 0 {
		sep := rem[0]
		rem = rem[1:]
		right, err := tx.newPage(ptNode)
		if err != nil {
			return nil, err
		}
		nodeSetPtrNeg1(right.body(), sep.ptr)
		c := packNodeEnts(right, rem, thresSplitDefault)
		if c == 0 && len(rem) > 0 {
			return nil, NewError(KindInvariant, "node entry too large to pack")
		}
		rem = rem[c:]
		splits = append(splits, splitEntry{sepKey: sep.key, sepNull: sep.keyNull, pgid: right.id()})
	}
	return splits, nil
}

// btreeInsert inserts (key, value) under root per mode, returning the
// (possibly new) root pgid.
func btreeInsert(tx *txSession, root pgid, key []byte, keyNull bool, value []byte, valNull bool, mode PutMode) (pgid, error) {
	newRoot, sr, err := insertDescend(tx, root, key, keyNull, value, valNull, mode)
	if err != nil {
		return PgidInvalid, err
	}
	// Root split: grow the tree upward until one node holds the whole
	// level.
	for len(sr.splits) > 0 {
		np, err := tx.newPage(ptNode)
		if err != nil {
			return PgidInvalid, err
		}
		nodeSetPtrNeg1(np.body(), newRoot)
		ents := make([]nodeEnt, len(sr.splits))
		for i, s := range sr.splits {
			ents[i] = nodeEnt{ptr: s.pgid, key: s.sepKey, keyNull: s.sepNull}
		}
		splits, err := packNodesAcross(tx, np, ents)
		if err != nil {
			return PgidInvalid, err
		}
		newRoot = np.id()
		sr.splits = splits
	}
	return newRoot, nil
}

func insertDescend(tx *txSession, id pgid, key []byte, keyNull bool, value []byte, valNull bool, mode PutMode) (newID pgid, sr splitResult, err error) {
	p, mutable, err := tx.readPage(id)
	if err != nil {
		return PgidInvalid, sr, err
	}
	switch p.typ() {
	case ptNode:
		return insertViaNode(tx, p, mutable, key, keyNull, value, valNull, mode)
	case ptLeaf:
		return insertViaLeaf(tx, p, mutable, key, keyNull, value, valNull, mode)
	case ptDupKeyLeaf, ptDupKeyNode:
		return insertViaDupOrSibling(tx, p, mutable, key, keyNull, value, valNull, mode)
	default:
		return PgidInvalid, sr, NewError(KindInvariant, "unexpected page type on insert: "+p.typ().String())
	}
}

func insertViaNode(tx *txSession, p page, mutable bool, key []byte, keyNull bool, value []byte, valNull bool, mode PutMode) (pgid, splitResult, error) {
	body := p.body()
	ci := nodeSearch(body, key, keyNull)
	child := nodeChildAt(body, ci)

	newChild, csr, err := insertDescend(tx, child, key, keyNull, value, valNull, mode)
	if err != nil {
		return PgidInvalid, splitResult{}, err
	}
	if newChild == child && len(csr.splits) == 0 {
		return p.id(), splitResult{}, nil
	}

	np, err := tx.modifyPage(p, mutable)
	if err != nil {
		return PgidInvalid, splitResult{}, err
	}
	nbody := np.body()
	if newChild != child {
		if ci < 0 {
			nodeSetPtrNeg1(nbody, newChild)
		} else {
			off := nodeTableEntry(nbody, ci)
			putUint64LE(nbody[off:], uint64(newChild))
		}
		tx.notifyPageWOldLink(np.id())
	}
	if len(csr.splits) == 0 {
		return np.id(), splitResult{}, nil
	}

	ents := decodeNodeEnts(nbody)
	ins := make([]nodeEnt, len(csr.splits))
	for i, s := range csr.splits {
		ins[i] = nodeEnt{ptr: s.pgid, key: s.sepKey, keyNull: s.sepNull}
	}
	at := ci + 1
	merged := make([]nodeEnt, 0, len(ents)+len(ins))
	merged = append(merged, ents[:at]...)
	merged = append(merged, ins...)
	merged = append(merged, ents[at:]...)

	if nodeEntsSize(merged) <= nodeBodyCapacity(nbody) {
		repackNode(np, merged)
		return np.id(), splitResult{}, nil
	}
	splits, err := packNodesAcross(tx, np, merged)
	if err != nil {
		return PgidInvalid, splitResult{}, err
	}
	return np.id(), splitResult{splits: splits}, nil
}
