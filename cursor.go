package ptnk

// Cursor traversal is implemented as an explicit stack of ancestor
// Node frames, the pgid of the current Leaf/DupKeyLeaf/DupKeyNode,
// and, when that leaf is a dup subtree, a second flat level of
// bookkeeping for the value currently selected within it.

// cursorFrame records one Node descended through: id is the node's
// pgid, idx is the child-table index taken (-1 selects ptrNeg1).
type cursorFrame struct {
	id  pgid
	idx int
}

// Cursor provides ordered, positioned access over one table's
// B+-tree.
type Cursor struct {
	txn    *Txn
	table  []byte
	closed bool

	frames []cursorFrame // ancestors above the current leaf position
	leafID pgid
	idx    int // index within a regular Leaf; unused when isDup

	isDup       bool
	dupChildIdx int  // index within the DupKeyNode fan-out (0 if leafID is itself a DupKeyLeaf)
	dupLeafID   pgid // the specific DupKeyLeaf currently selected
	dupValIdx   int

	valid bool // false once iteration has run off either end
}

func (c *Cursor) sess() *txSession { return c.txn.sess }

// curFront positions c at the first record in key order.
func (c *Cursor) curFront() error {
	root, err := c.txn.tableRoot(c.table)
	if err != nil {
		return err
	}
	frames, leafID, err := descendExtreme(c.sess(), nil, root, +1)
	if err != nil {
		return err
	}
	return c.settleAt(frames, leafID, 0, true)
}

// curBack positions c at the last record in key order.
func (c *Cursor) curBack() error {
	root, err := c.txn.tableRoot(c.table)
	if err != nil {
		return err
	}
	frames, leafID, err := descendExtreme(c.sess(), nil, root, -1)
	if err != nil {
		return err
	}
	p, _, err := c.sess().readPage(leafID)
	if err != nil {
		return err
	}
	idx := lastIdxOfLeaf(p)
	return c.settleAt(frames, leafID, idx, false)
}

// curQuery positions c per q.
func (c *Cursor) curQuery(q query) error {
	switch q.typ {
	case QueryFront:
		return c.curFront()
	case QueryBack:
		return c.curBack()
	}

	root, err := c.txn.tableRoot(c.table)
	if err != nil {
		return err
	}
	frames, leafID, idx, exact, err := cursorSearchPath(c.sess(), root, q.key, q.keyNull)
	if err != nil {
		return err
	}
	if leafID == PgidInvalid {
		c.valid = false
		return nil
	}

	p, _, err := c.sess().readPage(leafID)
	if err != nil {
		return err
	}
	if p.typ() == ptDupKeyLeaf || p.typ() == ptDupKeyNode {
		// A dup subtree root collapses to a single logical position at
		// this level; recompute the same (idx, exact) lower-bound
		// convention leafSearch would give a regular leaf so the rest
		// of the resolution logic (queryNear) applies unchanged.
		subKey := dupSubtreeKey(p)
		cmp := compareNullable(subKey, false, q.key, q.keyNull)
		dupIdx, dupExact := 0, cmp == 0
		if cmp < 0 {
			dupIdx = 1
		}
		return c.queryNear(frames, leafID, q, dupIdx, dupExact)
	}

	return c.queryNear(frames, leafID, q, idx, exact)
}

// queryNear resolves BEFORE/AFTER/OR_PREV/OR_NEXT/EXACT against a
// regular leaf's lower-bound position (idx, exact), stepping to an
// adjacent leaf when the resolved position falls off either end.
func (c *Cursor) queryNear(frames []cursorFrame, leafID pgid, q query, idx int, exact bool) error {
	switch q.typ {
	case QueryExact:
		if !exact {
			c.valid = false
			return nil
		}
		return c.settleAt(frames, leafID, idx, true)
	case QueryOrNext, QueryAfter:
		if q.typ == QueryAfter && exact {
			idx++
		}
		return c.settleForward(frames, leafID, idx)
	case QueryOrPrev, QueryBefore:
		if exact && q.typ == QueryOrPrev {
			return c.settleAt(frames, leafID, idx, true)
		}
		return c.settleBackward(frames, leafID, idx-1)
	default:
		return NewError(KindInvariant, "unsupported query type")
	}
}

// settleForward positions at leaf index idx, or the first record of
// the next leaf if idx runs past the end. leafID may be a regular
// Leaf or a dup subtree root, which counts as a single logical
// position at this level.
func (c *Cursor) settleForward(frames []cursorFrame, leafID pgid, idx int) error {
	count, err := c.leafElemCount(leafID)
	if err != nil {
		return err
	}
	if idx < count {
		return c.settleAt(frames, leafID, idx, true)
	}
	nf, nl, err := adjacentLeaf(c.sess(), frames, +1)
	if err != nil {
		return err
	}
	if nl == PgidInvalid {
		c.valid = false
		return nil
	}
	return c.settleAt(nf, nl, 0, true)
}

// leafElemCount reports how many logical positions id holds at the
// main-tree level: a regular Leaf's record count, or 1 for a dup
// subtree root (which collapses to a single element here).
func (c *Cursor) leafElemCount(id pgid) (int, error) {
	p, _, err := c.sess().readPage(id)
	if err != nil {
		return 0, err
	}
	if p.typ() == ptLeaf {
		return leafNumKVs(p.body()), nil
	}
	return 1, nil
}

// settleBackward positions at leaf index idx, or the last record of
// the previous leaf if idx runs before the start.
func (c *Cursor) settleBackward(frames []cursorFrame, leafID pgid, idx int) error {
	if idx >= 0 {
		return c.settleAt(frames, leafID, idx, true)
	}
	nf, nl, err := adjacentLeaf(c.sess(), frames, -1)
	if err != nil {
		return err
	}
	if nl == PgidInvalid {
		c.valid = false
		return nil
	}
	p, _, err := c.sess().readPage(nl)
	if err != nil {
		return err
	}
	return c.settleAt(nf, nl, lastIdxOfLeaf(p), false)
}

// settleAt finalizes the cursor's position at (frames, leafID, idx),
// entering dup-subtree mode if the resolved leaf is a DupKeyLeaf or
// DupKeyNode. front selects the first or last value when entering a
// dup subtree (true = first).
func (c *Cursor) settleAt(frames []cursorFrame, leafID pgid, idx int, front bool) error {
	c.frames = frames
	c.leafID = leafID
	p, _, err := c.sess().readPage(leafID)
	if err != nil {
		return err
	}
	switch p.typ() {
	case ptLeaf:
		c.isDup = false
		c.idx = idx
		c.valid = leafNumKVs(p.body()) > 0
	case ptDupKeyLeaf:
		c.isDup = true
		c.dupChildIdx = 0
		c.dupLeafID = leafID
		if front {
			c.dupValIdx = 0
		} else {
			c.dupValIdx = dupLeafNumVs(p.body()) - 1
		}
		c.valid = dupLeafNumVs(p.body()) > 0
	case ptDupKeyNode:
		c.isDup = true
		n := dupNodeNPtr(p.body())
		if front {
			c.dupChildIdx = 0
		} else {
			c.dupChildIdx = n - 1
		}
		childID, _ := dupNodeEntry(p.body(), c.dupChildIdx)
		c.dupLeafID = childID
		cp, _, err := c.sess().readPage(childID)
		if err != nil {
			return err
		}
		if front {
			c.dupValIdx = 0
		} else {
			c.dupValIdx = dupLeafNumVs(cp.body()) - 1
		}
		c.valid = n > 0
	default:
		return NewError(KindInvariant, "cursor settled on non-leaf page: "+p.typ().String())
	}
	return nil
}

func lastIdxOfLeaf(p page) int { return leafNumKVs(p.body()) - 1 }

// curGet returns the (key, value) pair at the cursor's current
// position.
func (c *Cursor) curGet() (Buffer, Buffer, error) {
	if !c.valid {
		return Buffer{}, Buffer{}, NewError(KindInvariant, "cursor not positioned")
	}
	if c.isDup {
		p, _, err := c.sess().readPage(c.leafID)
		if err != nil {
			return Buffer{}, Buffer{}, err
		}
		key := dupSubtreeKey(p)
		dp, _, err := c.sess().readPage(c.dupLeafID)
		if err != nil {
			return Buffer{}, Buffer{}, err
		}
		vals := dupLeafValues(dp.body())
		return ValidBuffer(key), vals[c.dupValIdx], nil
	}
	p, _, err := c.sess().readPage(c.leafID)
	if err != nil {
		return Buffer{}, Buffer{}, err
	}
	key, value, keyNull, valNull := leafRecordAt(p.body(), c.idx)
	kb, vb := ValidBuffer(key), ValidBuffer(value)
	if keyNull {
		kb = NullBuffer()
	}
	if valNull {
		vb = NullBuffer()
	}
	return kb, vb, nil
}

// curNext advances to the next record in key order.
func (c *Cursor) curNext() error {
	if !c.valid {
		return NewError(KindInvariant, "cursor not positioned")
	}
	if c.isDup {
		dp, _, err := c.sess().readPage(c.dupLeafID)
		if err != nil {
			return err
		}
		if c.dupValIdx+1 < dupLeafNumVs(dp.body()) {
			c.dupValIdx++
			return nil
		}
		np, _, err := c.sess().readPage(c.leafID)
		if err != nil {
			return err
		}
		if np.typ() == ptDupKeyNode && c.dupChildIdx+1 < dupNodeNPtr(np.body()) {
			c.dupChildIdx++
			childID, _ := dupNodeEntry(np.body(), c.dupChildIdx)
			c.dupLeafID = childID
			c.dupValIdx = 0
			return nil
		}
		return c.advanceMainLeaf(+1)
	}
	p, _, err := c.sess().readPage(c.leafID)
	if err != nil {
		return err
	}
	if c.idx+1 < leafNumKVs(p.body()) {
		c.idx++
		return nil
	}
	return c.advanceMainLeaf(+1)
}

// curPrev moves to the previous record in key order.
func (c *Cursor) curPrev() error {
	if !c.valid {
		return NewError(KindInvariant, "cursor not positioned")
	}
	if c.isDup {
		if c.dupValIdx > 0 {
			c.dupValIdx--
			return nil
		}
		if c.dupChildIdx > 0 {
			np, _, err := c.sess().readPage(c.leafID)
			if err != nil {
				return err
			}
			c.dupChildIdx--
			childID, _ := dupNodeEntry(np.body(), c.dupChildIdx)
			c.dupLeafID = childID
			cp, _, err := c.sess().readPage(childID)
			if err != nil {
				return err
			}
			c.dupValIdx = dupLeafNumVs(cp.body()) - 1
			return nil
		}
		return c.advanceMainLeaf(-1)
	}
	if c.idx > 0 {
		c.idx--
		return nil
	}
	return c.advanceMainLeaf(-1)
}

// advanceMainLeaf moves the cursor to the adjacent leaf in direction
// dir (+1 next, -1 prev), settling at its near edge.
func (c *Cursor) advanceMainLeaf(dir int) error {
	nf, nl, err := adjacentLeaf(c.sess(), c.frames, dir)
	if err != nil {
		return err
	}
	if nl == PgidInvalid {
		c.valid = false
		return nil
	}
	front := dir > 0
	idx := 0
	if !front {
		p, _, err := c.sess().readPage(nl)
		if err != nil {
			return err
		}
		idx = lastIdxOfLeaf(p)
	}
	return c.settleAt(nf, nl, idx, front)
}

// curPut overwrites the value at the cursor's current key. The
// position is re-resolved afterward since insertion may
// have cloned or split pages.
func (c *Cursor) curPut(value Buffer) error {
	key, _, err := c.curGet()
	if err != nil {
		return err
	}
	root, err := c.txn.tableRoot(c.table)
	if err != nil {
		return err
	}
	newRoot, err := btreeInsert(c.sess(), root, key.Bytes(), key.IsNull(), value.Bytes(), value.IsNull(), PutUpdate)
	if err != nil {
		return err
	}
	if err := c.txn.setTableRoot(c.table, newRoot); err != nil {
		return err
	}
	return c.curQuery(query{key: key.Bytes(), keyNull: key.IsNull(), typ: QueryExact})
}

// curDelete removes the record at the cursor's current position and
// advances to the next live record.
func (c *Cursor) curDelete() error {
	// Capture the next record's key (if any) on a snapshot of the
	// cursor before mutating, so the position can be re-resolved
	// robustly regardless of how deletion reshaped the tree.
	peek := *c
	peek.frames = append([]cursorFrame(nil), c.frames...)
	var nextKey Buffer
	hasNext := peek.curNext() == nil && peek.valid
	if hasNext {
		var err error
		nextKey, _, err = peek.curGet()
		if err != nil {
			return err
		}
	}

	if c.isDup {
		if err := c.deleteDupValue(); err != nil {
			return err
		}
	} else {
		if err := c.deleteLeafRecord(); err != nil {
			return err
		}
	}

	if !hasNext {
		c.valid = false
		return nil
	}
	return c.curQuery(query{key: nextKey.Bytes(), keyNull: nextKey.IsNull(), typ: QueryOrNext})
}

func (c *Cursor) deleteLeafRecord() error {
	tx := c.sess()
	p, mutable, err := tx.readPage(c.leafID)
	if err != nil {
		return err
	}
	np, err := tx.modifyPage(p, mutable)
	if err != nil {
		return err
	}
	recs := decodeLeafRecs(np.body())
	if c.idx >= len(recs) {
		return NewError(KindInvariant, "cursor index out of range")
	}
	recs = append(append([]leafRec(nil), recs[:c.idx]...), recs[c.idx+1:]...)
	if len(recs) > 0 {
		packLeaf(np, recs, 0)
		return propagateChildPointerUpdate(tx, c.frames, p.id(), np.id())
	}
	return removeChildFromTree(tx, c.txn, c.table, c.frames, p.id())
}

func (c *Cursor) deleteDupValue() error {
	tx := c.sess()
	dp, dMutable, err := tx.readPage(c.dupLeafID)
	if err != nil {
		return err
	}
	dnp, err := tx.modifyPage(dp, dMutable)
	if err != nil {
		return err
	}
	values := dupLeafValues(dnp.body())
	values = append(append([]Buffer(nil), values[:c.dupValIdx]...), values[c.dupValIdx+1:]...)

	rootPage, rootMutable, err := tx.readPage(c.leafID)
	if err != nil {
		return err
	}

	if rootPage.typ() == ptDupKeyLeaf {
		if len(values) == 0 {
			return removeChildFromTree(tx, c.txn, c.table, c.frames, rootPage.id())
		}
		key := append([]byte(nil), dupLeafKey(dnp.body())...)
		dupLeafRebuild(dnp.body(), key, values)
		return propagateChildPointerUpdate(tx, c.frames, rootPage.id(), dnp.id())
	}

	// rootPage is a DupKeyNode: update or remove its entry for this child.
	rnp, err := tx.modifyPage(rootPage, rootMutable)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		n := dupNodeNPtr(rnp.body())
		for i := c.dupChildIdx; i < n-1; i++ {
			ptr, free := dupNodeEntry(rnp.body(), i+1)
			dupNodeSetEntry(rnp.body(), i, ptr, free)
		}
		dupNodeSetNPtr(rnp.body(), n-1)
		if n-1 == 0 {
			return removeChildFromTree(tx, c.txn, c.table, c.frames, rootPage.id())
		}
		return propagateChildPointerUpdate(tx, c.frames, rootPage.id(), rnp.id())
	}
	dupLeafRebuild(dnp.body(), nil, values)
	dupNodeSetEntry(rnp.body(), c.dupChildIdx, dnp.id(), dupLeafSizeFree(dnp.body()))
	return propagateChildPointerUpdate(tx, c.frames, rootPage.id(), rnp.id())
}

// curClose invalidates the cursor.
func (c *Cursor) curClose() {
	c.closed = true
	c.valid = false
}

// descendExtreme descends from id to a leaf, always taking the
// leftmost child (dir > 0) or rightmost child (dir < 0), appending a
// frame at every Node visited. A DupKeyNode is a settle target, not a
// descent level: the cursor's dup-subtree bookkeeping takes over
// below it.
func descendExtreme(tx *txSession, frames []cursorFrame, id pgid, dir int) ([]cursorFrame, pgid, error) {
	for {
		p, _, err := tx.readPage(id)
		if err != nil {
			return nil, PgidInvalid, err
		}
		if p.typ() != ptNode {
			return frames, id, nil
		}
		body := p.body()
		var childIdx int
		if dir > 0 {
			childIdx = -1
		} else {
			childIdx = nodeNumKeys(body) - 1
		}
		frames = append(frames, cursorFrame{id: id, idx: childIdx})
		id = nodeChildAt(body, childIdx)
	}
}

// cursorSearchPath descends from root toward key, recording frames,
// and returns the leaf-level lower-bound position: the first index
// whose key is >= key.
func cursorSearchPath(tx *txSession, root pgid, key []byte, keyNull bool) (frames []cursorFrame, leafID pgid, idx int, exact bool, err error) {
	id := root
	for {
		p, _, err := tx.readPage(id)
		if err != nil {
			return nil, PgidInvalid, 0, false, err
		}
		if p.typ() == ptNode {
			body := p.body()
			ci := nodeSearch(body, key, keyNull)
			frames = append(frames, cursorFrame{id: id, idx: ci})
			id = nodeChildAt(body, ci)
			continue
		}
		if p.typ() == ptLeaf {
			i, ex := leafSearch(p.body(), key, keyNull)
			return frames, id, i, ex, nil
		}
		// DupKeyLeaf / DupKeyNode: caller resolves exactness against
		// the subtree's shared key.
		return frames, id, 0, false, nil
	}
}

// adjacentLeaf returns the frames+leafID of the leaf immediately
// before (dir<0) or after (dir>0) the one described by frames, or
// (nil, PgidInvalid, nil) if there is none.
func adjacentLeaf(tx *txSession, frames []cursorFrame, dir int) ([]cursorFrame, pgid, error) {
	for i := len(frames) - 1; i >= 0; i-- {
		fr := frames[i]
		p, _, err := tx.readPage(fr.id)
		if err != nil {
			return nil, PgidInvalid, err
		}
		body := p.body()
		n := nodeNumKeys(body)
		if dir > 0 {
			if fr.idx >= n-1 {
				continue
			}
			newIdx := fr.idx + 1
			child := nodeChildAt(body, newIdx)
			base := append(append([]cursorFrame(nil), frames[:i]...), cursorFrame{id: fr.id, idx: newIdx})
			return descendExtreme(tx, base, child, +1)
		}
		if fr.idx <= -1 {
			continue
		}
		newIdx := fr.idx - 1
		child := nodeChildAt(body, newIdx)
		base := append(append([]cursorFrame(nil), frames[:i]...), cursorFrame{id: fr.id, idx: newIdx})
		return descendExtreme(tx, base, child, -1)
	}
	return nil, PgidInvalid, nil
}

// propagateChildPointerUpdate rewrites frames' chain of ancestor
// pointers so that the deepest frame points to newChild instead of
// oldChild, recursing upward since modifyPage may itself reclone each
// ancestor in turn.
func propagateChildPointerUpdate(tx *txSession, frames []cursorFrame, oldChild, newChild pgid) error {
	if oldChild == newChild || len(frames) == 0 {
		return nil
	}
	top := frames[len(frames)-1]
	p, mutable, err := tx.readPage(top.id)
	if err != nil {
		return err
	}
	np, err := tx.modifyPage(p, mutable)
	if err != nil {
		return err
	}
	body := np.body()
	if top.idx < 0 {
		nodeSetPtrNeg1(body, newChild)
	} else {
		off := nodeTableEntry(body, top.idx)
		putUint64LE(body[off:], uint64(newChild))
	}
	tx.notifyPageWOldLink(np.id())
	return propagateChildPointerUpdate(tx, frames[:len(frames)-1], top.id, np.id())
}

// removeChildFromTree deletes the entry pointing at childID from its
// parent (the deepest frame), collapsing ancestor nodes that become
// only-ptrNeg1 and shrinking the tree to a fresh empty root if the
// whole table empties out.
func removeChildFromTree(tx *txSession, txn *Txn, table []byte, frames []cursorFrame, childID pgid) error {
	if len(frames) == 0 {
		np, err := tx.newPage(ptLeaf)
		if err != nil {
			return err
		}
		body := np.body()
		leafSetNumKVs(body, 0)
		leafSetSizeFree(body, len(body)-leafFooterSize)
		return txn.setTableRoot(table, np.id())
	}

	top := frames[len(frames)-1]
	p, mutable, err := tx.readPage(top.id)
	if err != nil {
		return err
	}
	np, err := tx.modifyPage(p, mutable)
	if err != nil {
		return err
	}
	body := np.body()
	ents := decodeNodeEnts(body)

	if top.idx < 0 {
		if len(ents) == 0 {
			return removeChildFromTree(tx, txn, table, frames[:len(frames)-1], np.id())
		}
		newPtrNeg1 := ents[0].ptr
		repackNode(np, ents[1:])
		nodeSetPtrNeg1(np.body(), newPtrNeg1)
		return propagateChildPointerUpdate(tx, frames[:len(frames)-1], top.id, np.id())
	}

	rest := append(append([]nodeEnt(nil), ents[:top.idx]...), ents[top.idx+1:]...)
	repackNode(np, rest)
	if len(rest) == 0 {
		return propagateChildPointerUpdate(tx, frames[:len(frames)-1], top.id, nodePtrNeg1(np.body()))
	}
	return propagateChildPointerUpdate(tx, frames[:len(frames)-1], top.id, np.id())
}
