// Package ptnk is an embedded, transactional, ordered key/value store
// with multi-table support, snapshot isolation via multi-version
// concurrency control, and append-only copy-on-write persistence on
// memory-mapped partitioned files.
//
// Key features:
//   - Copy-on-write B+-tree indexed through a lock-free override table
//   - Snapshot isolation: every transaction reads a consistent view of
//     the store as of the moment it began
//   - Any number of concurrent readers and writers, with optimistic
//     write-write conflict detection at commit
//   - Crash recovery by replaying committed pages from an append-only,
//     partitioned page file
//
// Basic usage:
//
//	db, err := ptnk.Open("/path/to/db", ptnk.Create|ptnk.Writer|ptnk.AutoSync, 0644)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Put([]byte("key"), []byte("value"), ptnk.PutUpdate); err != nil {
//	    log.Fatal(err)
//	}
//
//	val, err := db.Get([]byte("key"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Transactional usage:
//
//	txn, err := db.NewTransaction()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	key := ptnk.ValidBuffer([]byte("key"))
//	if err := txn.Put(nil, key, ptnk.ValidBuffer([]byte("value")), ptnk.PutUpdate); err != nil {
//	    txn.Abort()
//	    log.Fatal(err)
//	}
//	if err := txn.Commit(); err != nil {
//	    // ptnk.IsTxConflict(err) means the caller should retry
//	    log.Fatal(err)
//	}
package ptnk
