package ptnk

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test"), DefaultOpenOpts|Truncate, 0o644)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustGet(t *testing.T, db *DB, key, want string) {
	t.Helper()
	v, err := db.Get([]byte(key))
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", key, err)
	}
	if !v.IsValid() || string(v.Bytes()) != want {
		t.Fatalf("Get(%q) = %v %q, want %q", key, v.state, v.Bytes(), want)
	}
}

func mustAbsent(t *testing.T, db *DB, key string) {
	t.Helper()
	v, err := db.Get([]byte(key))
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", key, err)
	}
	if !v.IsInvalid() {
		t.Fatalf("Get(%q) = %q, want absent", key, v.Bytes())
	}
}

func TestOpenRejectsBadOptions(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "x"), Create, 0o644)
	if err == nil || KindOf(err) != KindConfig {
		t.Fatalf("Create without Writer: err = %v", err)
	}
	_, err = Open(filepath.Join(t.TempDir(), "y"), Writer, 0o644)
	if err == nil || KindOf(err) != KindConfig {
		t.Fatalf("open of missing store without Create: err = %v", err)
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	db := openTestDB(t)

	if err := db.Put([]byte("k"), []byte("v1"), PutInsert); err != nil {
		t.Fatalf("Put: %v", err)
	}
	mustGet(t, db, "k", "v1")

	// Update overwrites the first matching record.
	if err := db.Put([]byte("k"), []byte("v2"), PutUpdate); err != nil {
		t.Fatalf("Put update: %v", err)
	}
	mustGet(t, db, "k", "v2")

	mustAbsent(t, db, "missing")
}

func TestLeaveExisting(t *testing.T) {
	db := openTestDB(t)
	if err := db.Put([]byte("k"), []byte("v"), PutInsert); err != nil {
		t.Fatal(err)
	}
	err := db.Put([]byte("k"), []byte("w"), PutLeaveExisting)
	if !IsDuplicateKey(err) {
		t.Fatalf("LeaveExisting on present key: err = %v", err)
	}
	mustGet(t, db, "k", "v")

	if err := db.Put([]byte("k2"), []byte("w"), PutLeaveExisting); err != nil {
		t.Fatalf("LeaveExisting on absent key: %v", err)
	}
	mustGet(t, db, "k2", "w")
}

func TestPersistAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s1")
	db, err := Open(path, DefaultOpenOpts|Truncate, 0o644)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for k, v := range map[string]string{"1": "one", "2": "two", "3": "three"} {
		if err := db.Put([]byte(k), []byte(v), PutInsert); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open(path, DefaultOpenOpts, 0o644)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()
	mustGet(t, db2, "1", "one")
	mustGet(t, db2, "2", "two")
	mustGet(t, db2, "3", "three")
}

func TestSnapshotIsolation(t *testing.T) {
	db := openTestDB(t)

	tx1, err := db.NewTransaction()
	if err != nil {
		t.Fatal(err)
	}
	if err := tx1.Put(nil, ValidBuffer([]byte("1")), ValidBuffer([]byte("A")), PutInsert); err != nil {
		t.Fatal(err)
	}

	// A concurrent transaction must not see uncommitted writes.
	tx2, err := db.NewTransaction()
	if err != nil {
		t.Fatal(err)
	}
	v, err := tx2.Get(nil, ValidBuffer([]byte("1")))
	if err != nil {
		t.Fatal(err)
	}
	if !v.IsInvalid() {
		t.Fatalf("tx2 sees uncommitted write: %q", v.Bytes())
	}

	if err := tx1.Commit(); err != nil {
		t.Fatalf("tx1 commit: %v", err)
	}

	// tx2's snapshot predates the commit and must stay stable.
	v, err = tx2.Get(nil, ValidBuffer([]byte("1")))
	if err != nil {
		t.Fatal(err)
	}
	if !v.IsInvalid() {
		t.Fatal("tx2 snapshot moved after tx1 commit")
	}
	tx2.Abort()

	tx3, err := db.NewTransaction()
	if err != nil {
		t.Fatal(err)
	}
	defer tx3.Abort()
	v, err = tx3.Get(nil, ValidBuffer([]byte("1")))
	if err != nil {
		t.Fatal(err)
	}
	if !v.IsValid() || string(v.Bytes()) != "A" {
		t.Fatalf("tx3 missed committed write: %v", v)
	}
}

func TestWriteWriteConflict(t *testing.T) {
	db := openTestDB(t)

	txA, err := db.NewTransaction()
	if err != nil {
		t.Fatal(err)
	}
	txB, err := db.NewTransaction()
	if err != nil {
		t.Fatal(err)
	}
	if err := txA.Put(nil, ValidBuffer([]byte("k")), ValidBuffer([]byte("a")), PutInsert); err != nil {
		t.Fatal(err)
	}
	if err := txB.Put(nil, ValidBuffer([]byte("k")), ValidBuffer([]byte("b")), PutInsert); err != nil {
		t.Fatal(err)
	}
	if err := txA.Commit(); err != nil {
		t.Fatalf("txA commit: %v", err)
	}
	err = txB.Commit()
	if !IsTxConflict(err) {
		t.Fatalf("txB commit: err = %v, want conflict", err)
	}
	mustGet(t, db, "k", "a")
}

func TestEmptyCommit(t *testing.T) {
	db := openTestDB(t)
	txn, err := db.NewTransaction()
	if err != nil {
		t.Fatal(err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("empty commit: %v", err)
	}
}

func TestUseAfterDone(t *testing.T) {
	db := openTestDB(t)
	txn, err := db.NewTransaction()
	if err != nil {
		t.Fatal(err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatal(err)
	}
	if _, err := txn.Get(nil, ValidBuffer([]byte("k"))); KindOf(err) != KindInvariant {
		t.Fatalf("use after commit: err = %v", err)
	}
	if err := txn.Commit(); KindOf(err) != KindInvariant {
		t.Fatalf("double commit: err = %v", err)
	}
}

func TestMultiTable(t *testing.T) {
	db := openTestDB(t)

	txn, err := db.NewTransaction()
	if err != nil {
		t.Fatal(err)
	}
	if err := txn.TableCreate([]byte("T")); err != nil {
		t.Fatalf("TableCreate: %v", err)
	}
	if err := txn.Put(nil, ValidBuffer([]byte("a")), ValidBuffer([]byte("D")), PutInsert); err != nil {
		t.Fatal(err)
	}
	if err := txn.Put([]byte("T"), ValidBuffer([]byte("a")), ValidBuffer([]byte("T1")), PutInsert); err != nil {
		t.Fatal(err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatal(err)
	}

	txn2, err := db.NewTransaction()
	if err != nil {
		t.Fatal(err)
	}
	v, err := txn2.Get(nil, ValidBuffer([]byte("a")))
	if err != nil || string(v.Bytes()) != "D" {
		t.Fatalf("default table read: %v %q", err, v.Bytes())
	}
	v, err = txn2.Get([]byte("T"), ValidBuffer([]byte("a")))
	if err != nil || string(v.Bytes()) != "T1" {
		t.Fatalf("table T read: %v %q", err, v.Bytes())
	}
	name, err := txn2.TableGetName(1)
	if err != nil || !bytes.Equal(name, []byte("T")) {
		t.Fatalf("TableGetName(1) = %q, %v", name, err)
	}
	if err := txn2.TableDrop([]byte("T")); err != nil {
		t.Fatalf("TableDrop: %v", err)
	}
	if err := txn2.Commit(); err != nil {
		t.Fatal(err)
	}

	txn3, err := db.NewTransaction()
	if err != nil {
		t.Fatal(err)
	}
	defer txn3.Abort()
	_, err = txn3.Get([]byte("T"), ValidBuffer([]byte("a")))
	if KindOf(err) != KindTableNotFound {
		t.Fatalf("read of dropped table: err = %v", err)
	}
}

func TestTableCreateDuplicate(t *testing.T) {
	db := openTestDB(t)
	txn, _ := db.NewTransaction()
	if err := txn.TableCreate([]byte("T")); err != nil {
		t.Fatal(err)
	}
	if err := txn.TableCreate([]byte("T")); !IsDuplicateKey(err) {
		t.Fatalf("duplicate TableCreate: err = %v", err)
	}
	txn.Abort()
}

func TestNullAndEmptyRoundTrip(t *testing.T) {
	db := openTestDB(t)
	txn, err := db.NewTransaction()
	if err != nil {
		t.Fatal(err)
	}
	if err := txn.Put(nil, ValidBuffer([]byte{}), ValidBuffer([]byte("empty")), PutInsert); err != nil {
		t.Fatalf("empty key: %v", err)
	}
	if err := txn.Put(nil, NullBuffer(), ValidBuffer([]byte("null")), PutInsert); err != nil {
		t.Fatalf("null key: %v", err)
	}
	if err := txn.Put(nil, ValidBuffer([]byte("nv")), NullBuffer(), PutInsert); err != nil {
		t.Fatalf("null value: %v", err)
	}
	if err := txn.Put(nil, ValidBuffer([]byte("ev")), ValidBuffer([]byte{}), PutInsert); err != nil {
		t.Fatalf("empty value: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatal(err)
	}

	txn2, err := db.NewTransaction()
	if err != nil {
		t.Fatal(err)
	}
	defer txn2.Abort()

	v, _ := txn2.Get(nil, ValidBuffer([]byte{}))
	if !v.IsValid() || string(v.Bytes()) != "empty" {
		t.Fatalf("empty key read: %v", v)
	}
	v, _ = txn2.Get(nil, NullBuffer())
	if !v.IsValid() || string(v.Bytes()) != "null" {
		t.Fatalf("null key read: %v", v)
	}
	v, _ = txn2.Get(nil, ValidBuffer([]byte("nv")))
	if !v.IsNull() {
		t.Fatalf("null value read: %v", v)
	}
	v, _ = txn2.Get(nil, ValidBuffer([]byte("ev")))
	if !v.IsValid() || v.Len() != 0 {
		t.Fatalf("empty value read: %v", v)
	}
}

func TestKeySizeLimits(t *testing.T) {
	db := openTestDB(t)
	txn, err := db.NewTransaction()
	if err != nil {
		t.Fatal(err)
	}
	defer txn.Abort()

	big := make([]byte, maxKeySize)
	for i := range big {
		big[i] = byte(i)
	}
	if err := txn.Put(nil, ValidBuffer(big), ValidBuffer([]byte("x")), PutInsert); err != nil {
		t.Fatalf("max-size key rejected: %v", err)
	}
	v, err := txn.Get(nil, ValidBuffer(big))
	if err != nil || string(v.Bytes()) != "x" {
		t.Fatalf("max-size key read: %v %v", err, v)
	}

	tooBig := make([]byte, maxKeySize+1)
	if err := txn.Put(nil, ValidBuffer(tooBig), ValidBuffer([]byte("x")), PutInsert); KindOf(err) != KindInvariant {
		t.Fatalf("oversized key: err = %v", err)
	}
}

func TestDeleteAllWithKey(t *testing.T) {
	db := openTestDB(t)
	for _, k := range []string{"a", "b", "c"} {
		if err := db.Put([]byte(k), []byte("v"+k), PutInsert); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.Delete([]byte("b")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	mustAbsent(t, db, "b")
	mustGet(t, db, "a", "va")
	mustGet(t, db, "c", "vc")

	// Deleting every duplicate of a key in one call.
	for i := 0; i < 10; i++ {
		if err := db.Put([]byte("dup"), []byte(fmt.Sprintf("%d", i)), PutInsert); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.Delete([]byte("dup")); err != nil {
		t.Fatalf("Delete dup: %v", err)
	}
	mustAbsent(t, db, "dup")

	// Deleting a missing key is a no-op.
	if err := db.Delete([]byte("nothing")); err != nil {
		t.Fatalf("Delete missing: %v", err)
	}
}

func TestDropRemovesFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d")
	db, err := Open(path, DefaultOpenOpts|Truncate, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	db.Put([]byte("k"), []byte("v"), PutInsert)
	db.Close()

	if err := Drop(path); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	ids, err := scanPartitionIDs(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Fatalf("partitions survive Drop: %v", ids)
	}
}
