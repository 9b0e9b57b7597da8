package ptnk

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// DB is an open store: a partitioned page file plus the process-wide
// override chain and the maintenance machinery around them. All
// methods are safe for concurrent use.
type DB struct {
	prefix string
	opts   uint
	mode   os.FileMode

	pf *pageFile
	ao atomic.Pointer[activeOvr]

	// uniquePages is the running count of pages ever allocated,
	// carried through every commit's streak channel.
	uniquePages atomic.Uint64

	// pagesWOldLink accumulates, across commits, the pages whose
	// outgoing pointers changed; the next rebase consumes it.
	oldLinkMu     sync.Mutex
	pagesWOldLink map[pgid]bool

	// rebase gate: NewTransaction blocks while a rebase swaps the
	// override chain underneath it.
	rebaseMu     sync.Mutex
	rebaseCond   *sync.Cond
	duringRebase bool

	helperStop chan struct{}
	helperDone chan struct{}

	closed atomic.Bool
}

// Open opens (or creates) the store at prefix. opts is a
// bitmask of Writer, Create, Truncate, AutoSync, Partitioned and
// HelperThread; mode gives POSIX creation permissions for new
// partition files.
func Open(prefix string, opts uint, mode os.FileMode) (*DB, error) {
	if opts&Writer == 0 && opts&(Create|Truncate) != 0 {
		return nil, NewError(KindConfig, "Create/Truncate require Writer")
	}
	if prefix == "" || prefix[len(prefix)-1] == os.PathSeparator {
		return nil, NewError(KindConfig, "malformed path prefix")
	}
	if opts&Truncate != 0 {
		if err := Drop(prefix); err != nil {
			return nil, err
		}
	}
	if opts&Create != 0 {
		if err := os.MkdirAll(filepath.Dir(prefix), 0o755); err != nil {
			return nil, WrapError(KindIO, "create database directory", err)
		}
	}

	pf, err := openPageFile(prefix, opts, mode)
	if err != nil {
		return nil, err
	}

	db := &DB{
		prefix:        prefix,
		opts:          opts,
		mode:          mode,
		pf:            pf,
		pagesWOldLink: make(map[pgid]bool),
	}
	db.rebaseCond = sync.NewCond(&db.rebaseMu)

	found, err := db.recover()
	if err != nil {
		pf.close()
		return nil, err
	}
	if !found {
		if opts&Writer == 0 {
			pf.close()
			return nil, NewError(KindCorrupt, "empty database opened read-only")
		}
		if err := db.initNewDB(); err != nil {
			pf.close()
			return nil, err
		}
	}

	if opts&HelperThread != 0 {
		db.helperStop = make(chan struct{})
		db.helperDone = make(chan struct{})
		go db.helperLoop()
	}
	return db, nil
}

// initNewDB writes the initial table directory and an empty default
// table as the store's first, rebase-anchored commit.
func (db *DB) initNewDB() error {
	ao0 := newActiveOvr(0, PgidInvalid)
	tx := newTxSession(db.pf, ao0)
	tx.isRebase = true
	tx.autoSync = db.opts&AutoSync != 0

	ov, err := tx.newPage(ptOverview)
	if err != nil {
		return err
	}
	overviewSetVerLayout(ov.body(), 0)
	putUint16LE(ov.body()[overviewHeaderSize:], NullTag)

	leaf, err := tx.newPage(ptLeaf)
	if err != nil {
		return err
	}
	initEmptyLeaf(leaf)
	if !overviewSetTableRoot(ov.body(), nil, leaf.id()) {
		return NewError(KindInvariant, "fresh overview cannot hold default table")
	}
	tx.setPgidStartPage(ov.id())

	if err := tx.commit(); err != nil {
		return err
	}
	db.uniquePages.Store(tx.uniquePages)
	db.ao.Store(newActiveOvr(tx.lo.verWrite, ov.id()))
	return nil
}

// Close releases the store. Outstanding transactions must not be
// used afterwards.
func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}
	if db.helperStop != nil {
		close(db.helperStop)
		<-db.helperDone
	}
	return db.pf.close()
}

// Drop unlinks every partition file belonging to the store at prefix.
func Drop(prefix string) error {
	return dropPageFile(prefix)
}

// NewTransaction begins a transaction with a consistent snapshot of
// the store. It may block while a rebase is in progress.
func (db *DB) NewTransaction() (*Txn, error) {
	if db.closed.Load() {
		return nil, NewError(KindInvariant, "database closed")
	}
	db.rebaseMu.Lock()
	for db.duringRebase {
		db.rebaseCond.Wait()
	}
	ao := db.ao.Load()
	db.rebaseMu.Unlock()

	sess := newTxSession(db.pf, ao)
	sess.uniqueBase = db.uniquePages.Load()
	sess.autoSync = db.opts&AutoSync != 0
	return &Txn{db: db, sess: sess}, nil
}

// noteCommitted folds a successfully committed session's bookkeeping
// into the database-wide state, and kicks an automatic rebase when
// the override chain has grown past its threshold.
func (db *DB) noteCommitted(sess *txSession) {
	db.uniquePages.Add(sess.uniquePages)
	if len(sess.pagesWOldLink) > 0 {
		db.oldLinkMu.Lock()
		for id := range sess.pagesWOldLink {
			db.pagesWOldLink[id] = true
		}
		db.oldLinkMu.Unlock()
	}
	if db.helperStop == nil && db.ao.Load().countOvr() >= rebaseOverrideThreshold {
		// Best effort; a failed automatic rebase surfaces on the next
		// explicit Rebase or Compact call.
		_ = db.Rebase(false)
	}
}

// Get returns the value under key in the default table, running an
// implicit read-only transaction.
func (db *DB) Get(key []byte) (Buffer, error) {
	txn, err := db.NewTransaction()
	if err != nil {
		return Buffer{}, err
	}
	defer txn.Abort()
	return txn.Get(nil, ValidBuffer(key))
}

// Put stores (key, value) in the default table in an implicit
// transaction, retrying internally on commit conflicts.
func (db *DB) Put(key, value []byte, mode PutMode) error {
	for {
		txn, err := db.NewTransaction()
		if err != nil {
			return err
		}
		if err := txn.Put(nil, ValidBuffer(key), ValidBuffer(value), mode); err != nil {
			txn.Abort()
			return err
		}
		err = txn.Commit()
		if err == nil {
			return nil
		}
		if !IsTxConflict(err) {
			return err
		}
	}
}

// Delete removes every record under key in the default table in an
// implicit transaction, retrying on commit conflicts.
func (db *DB) Delete(key []byte) error {
	for {
		txn, err := db.NewTransaction()
		if err != nil {
			return err
		}
		if err := txn.Delete(nil, ValidBuffer(key)); err != nil {
			txn.Abort()
			return err
		}
		err = txn.Commit()
		if err == nil {
			return nil
		}
		if !IsTxConflict(err) {
			return err
		}
	}
}

// Sync flushes the active partition to stable storage; only needed
// when the store was opened without AutoSync.
func (db *DB) Sync() error {
	active := db.pf.active.Load()
	n := active.nextLocal.Load()
	if n == 0 {
		return nil
	}
	return syncPartitionRange(active, 0, int64(n)*PageSize)
}

// NewPart rolls the page file over to a fresh partition, optionally
// rebasing first so the old partition stops accumulating overrides.
func (db *DB) NewPart(doRebase bool) error {
	if db.opts&Writer == 0 {
		return NewError(KindConfig, "NewPart on read-only store")
	}
	if doRebase {
		if err := db.Rebase(true); err != nil {
			return err
		}
	}
	return db.pf.forceRollover()
}

// helperLoop is the optional background maintenance goroutine
// (HelperThread option): it watches the override chain and rebases
// once the threshold is crossed.
func (db *DB) helperLoop() {
	defer close(db.helperDone)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-db.helperStop:
			return
		case <-ticker.C:
			if db.ao.Load().countOvr() >= rebaseOverrideThreshold {
				_ = db.Rebase(false)
			}
		}
	}
}
