package ptnk

// Txn is one transaction over the store. It wraps a
// txSession with the table directory operations and cursor
// constructors. A Txn is single-owner: it must not be shared across
// goroutines, though any number of Txns may run concurrently.
type Txn struct {
	db   *DB
	sess *txSession

	offCache tableOffCache

	done bool
}

// overviewRead resolves the transaction's table directory page.
func (t *Txn) overviewRead() (page, bool, error) {
	return t.sess.readPage(t.sess.pgidStartPage())
}

// resolveTable locates table's directory entry. A nil table selects
// the default table (the directory's first entry).
func (t *Txn) resolveTable(table []byte) (id []byte, root pgid, err error) {
	ov, _, err := t.overviewRead()
	if err != nil {
		return nil, PgidInvalid, err
	}
	body := ov.body()
	if table == nil {
		root = overviewGetDefaultTableRoot(body)
		if root == PgidInvalid {
			return nil, PgidInvalid, ErrTableNotFound
		}
		return overviewEntries(body)[0].id, root, nil
	}
	if cached, ok := t.offCache.lookup(body, table); ok {
		return table, cached, nil
	}
	t.offCache.fill(body, table)
	root = overviewGetTableRoot(body, table)
	if root == PgidInvalid {
		return nil, PgidInvalid, ErrTableNotFound
	}
	return table, root, nil
}

// tableRoot returns the root pgid of table (nil = default table).
func (t *Txn) tableRoot(table []byte) (pgid, error) {
	_, root, err := t.resolveTable(table)
	return root, err
}

// setTableRoot records a new root pgid for table in the directory.
func (t *Txn) setTableRoot(table []byte, root pgid) error {
	id := table
	if id == nil {
		ov, _, err := t.overviewRead()
		if err != nil {
			return err
		}
		entries := overviewEntries(ov.body())
		if len(entries) == 0 {
			return ErrTableNotFound
		}
		id = append([]byte(nil), entries[0].id...)
	}
	ov, mutable, err := t.overviewRead()
	if err != nil {
		return err
	}
	nov, err := t.sess.modifyPage(ov, mutable)
	if err != nil {
		return err
	}
	if !overviewSetTableRoot(nov.body(), id, root) {
		return NewError(KindOutOfSpace, "table directory full")
	}
	t.sess.notifyPageWOldLink(nov.id())
	return nil
}

// checkOpen guards every operation against use after Commit/Abort.
func (t *Txn) checkOpen() error {
	if t.done {
		return NewError(KindInvariant, "transaction used after commit or abort")
	}
	return nil
}

func checkKey(key Buffer) error {
	if key.IsInvalid() {
		return NewError(KindInvariant, "invalid buffer used as key")
	}
	if key.Len() > maxKeySize {
		return NewError(KindInvariant, "key too large")
	}
	return nil
}

// Get returns the value stored under key in table (nil table =
// default table): a valid buffer, NullBuffer for a stored null, or
// InvalidBuffer when no record exists.
func (t *Txn) Get(table []byte, key Buffer) (Buffer, error) {
	if err := t.checkOpen(); err != nil {
		return Buffer{}, err
	}
	if err := checkKey(key); err != nil {
		return Buffer{}, err
	}
	root, err := t.tableRoot(table)
	if err != nil {
		return Buffer{}, err
	}
	return btreeGet(t.sess, root, key.Bytes(), key.IsNull())
}

// Put stores (key, value) in table under mode.
func (t *Txn) Put(table []byte, key, value Buffer, mode PutMode) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if err := checkKey(key); err != nil {
		return err
	}
	if value.IsInvalid() {
		return NewError(KindInvariant, "invalid buffer used as value")
	}
	if value.Len() > maxValueSize {
		return NewError(KindInvariant, "value too large")
	}
	root, err := t.tableRoot(table)
	if err != nil {
		return err
	}
	newRoot, err := btreeInsert(t.sess, root, key.Bytes(), key.IsNull(), value.Bytes(), value.IsNull(), mode)
	if err != nil {
		return err
	}
	if newRoot != root {
		return t.setTableRoot(table, newRoot)
	}
	return nil
}

// Delete removes every record stored under key in table. It is a
// no-op (not an error) when no record exists.
func (t *Txn) Delete(table []byte, key Buffer) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if err := checkKey(key); err != nil {
		return err
	}
	for {
		cur, err := t.CurQuery(table, key, QueryExact)
		if err != nil {
			return err
		}
		if !cur.valid {
			cur.curClose()
			return nil
		}
		if err := cur.curDelete(); err != nil {
			cur.curClose()
			return err
		}
		cur.curClose()
	}
}

// TableCreate adds a new, empty table named id to the directory.
func (t *Txn) TableCreate(id []byte) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if len(id) == 0 {
		return NewError(KindConfig, "empty table id")
	}
	ov, _, err := t.overviewRead()
	if err != nil {
		return err
	}
	if overviewGetTableRoot(ov.body(), id) != PgidInvalid {
		return ErrDuplicateKey
	}
	leaf, err := t.sess.newPage(ptLeaf)
	if err != nil {
		return err
	}
	initEmptyLeaf(leaf)
	return t.setTableRoot(id, leaf.id())
}

// TableDrop removes table id and its root from the directory. The
// table's pages become unreachable and are reclaimed by the next
// rebase + compaction cycle.
func (t *Txn) TableDrop(id []byte) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	ov, mutable, err := t.overviewRead()
	if err != nil {
		return err
	}
	if overviewGetTableRoot(ov.body(), id) == PgidInvalid {
		return ErrTableNotFound
	}
	nov, err := t.sess.modifyPage(ov, mutable)
	if err != nil {
		return err
	}
	if !overviewDropTable(nov.body(), id) {
		return ErrTableNotFound
	}
	t.sess.notifyPageWOldLink(nov.id())
	return nil
}

// TableGetName returns the id of the i-th table in the directory.
func (t *Txn) TableGetName(i int) ([]byte, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	ov, _, err := t.overviewRead()
	if err != nil {
		return nil, err
	}
	entries := overviewEntries(ov.body())
	if i < 0 || i >= len(entries) {
		return nil, ErrTableNotFound
	}
	return append([]byte(nil), entries[i].id...), nil
}

// CurFront opens a cursor at table's first record in key order.
func (t *Txn) CurFront(table []byte) (*Cursor, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	c := &Cursor{txn: t, table: table}
	if err := c.curFront(); err != nil {
		return nil, err
	}
	return c, nil
}

// CurBack opens a cursor at table's last record in key order.
func (t *Txn) CurBack(table []byte) (*Cursor, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	c := &Cursor{txn: t, table: table}
	if err := c.curBack(); err != nil {
		return nil, err
	}
	return c, nil
}

// CurQuery opens a cursor positioned per (key, qt). The cursor may
// come back unpositioned (Valid() false) when no record satisfies
// the query.
func (t *Txn) CurQuery(table []byte, key Buffer, qt QueryType) (*Cursor, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	if err := checkKey(key); err != nil {
		return nil, err
	}
	c := &Cursor{txn: t, table: table}
	if err := c.curQuery(query{key: key.Bytes(), keyNull: key.IsNull(), typ: qt}); err != nil {
		return nil, err
	}
	return c, nil
}

// Commit makes the transaction's writes durable and globally visible.
// A KindTxConflict error means another
// transaction committed a conflicting write first; the caller should
// rebuild its work on a fresh transaction and retry.
func (t *Txn) Commit() error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	t.done = true
	if err := t.sess.commit(); err != nil {
		return err
	}
	t.db.noteCommitted(t.sess)
	return nil
}

// Abort drops the transaction without side effects. Pages it
// allocated become garbage until the next rebase + compaction
// cycle.
func (t *Txn) Abort() {
	if t.done {
		return
	}
	t.done = true
	t.sess.abort()
}

// Valid reports whether c is positioned on a record.
func (c *Cursor) Valid() bool { return c.valid && !c.closed }

// Get returns the (key, value) at the cursor's position.
func (c *Cursor) Get() (Buffer, Buffer, error) {
	if c.closed {
		return Buffer{}, Buffer{}, NewError(KindInvariant, "cursor used after close")
	}
	return c.curGet()
}

// Put overwrites the value at the cursor's current key.
func (c *Cursor) Put(value Buffer) error {
	if c.closed {
		return NewError(KindInvariant, "cursor used after close")
	}
	return c.curPut(value)
}

// Delete removes the record at the cursor and advances to the next
// one; Valid() reports false once the table is exhausted.
func (c *Cursor) Delete() error {
	if c.closed {
		return NewError(KindInvariant, "cursor used after close")
	}
	return c.curDelete()
}

// Next advances to the next record in key order.
func (c *Cursor) Next() error {
	if c.closed {
		return NewError(KindInvariant, "cursor used after close")
	}
	return c.curNext()
}

// Prev moves to the previous record in key order.
func (c *Cursor) Prev() error {
	if c.closed {
		return NewError(KindInvariant, "cursor used after close")
	}
	return c.curPrev()
}

// Close releases the cursor. Using it afterwards is an invariant
// error.
func (c *Cursor) Close() { c.curClose() }

func initEmptyLeaf(p page) {
	body := p.body()
	leafSetNumKVs(body, 0)
	leafSetSizeFree(body, len(body)-leafFooterSize)
}
