package ptnk

import (
	"fmt"
	"math/rand"
	"testing"
)

func TestManyKeysSequential(t *testing.T) {
	db := openTestDB(t)
	const n = 2000

	txn, err := db.NewTransaction()
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("key%05d", i)
		v := fmt.Sprintf("val%05d", i)
		if err := txn.Put(nil, ValidBuffer([]byte(k)), ValidBuffer([]byte(v)), PutInsert); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	if err := txn.Commit(); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < n; i++ {
		mustGet(t, db, fmt.Sprintf("key%05d", i), fmt.Sprintf("val%05d", i))
	}

	// A front-to-back walk visits every key in sorted order.
	txn2, err := db.NewTransaction()
	if err != nil {
		t.Fatal(err)
	}
	defer txn2.Abort()
	cur, err := txn2.CurFront(nil)
	if err != nil {
		t.Fatal(err)
	}
	keys, _ := collectForward(t, cur)
	cur.Close()
	if len(keys) != n {
		t.Fatalf("walk visited %d keys, want %d", len(keys), n)
	}
	for i, k := range keys {
		if k != fmt.Sprintf("key%05d", i) {
			t.Fatalf("walk position %d = %q", i, k)
		}
	}
}

func TestManyKeysRandomOrder(t *testing.T) {
	db := openTestDB(t)
	const n = 1000
	rng := rand.New(rand.NewSource(7))
	perm := rng.Perm(n)

	for _, i := range perm {
		k := fmt.Sprintf("r%04d", i)
		if err := db.Put([]byte(k), []byte(fmt.Sprintf("v%04d", i)), PutInsert); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	for i := 0; i < n; i++ {
		mustGet(t, db, fmt.Sprintf("r%04d", i), fmt.Sprintf("v%04d", i))
	}
}

func TestUpdateAcrossSplits(t *testing.T) {
	db := openTestDB(t)
	const n = 600
	txn, err := db.NewTransaction()
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("u%04d", i)
		if err := txn.Put(nil, ValidBuffer([]byte(k)), ValidBuffer([]byte("first")), PutInsert); err != nil {
			t.Fatal(err)
		}
	}
	if err := txn.Commit(); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < n; i += 7 {
		k := fmt.Sprintf("u%04d", i)
		if err := db.Put([]byte(k), []byte("second"), PutUpdate); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("u%04d", i)
		want := "first"
		if i%7 == 0 {
			want = "second"
		}
		mustGet(t, db, k, want)
	}
}

func TestDeleteAcrossSplits(t *testing.T) {
	db := openTestDB(t)
	const n = 600
	txn, err := db.NewTransaction()
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("x%04d", i)
		if err := txn.Put(nil, ValidBuffer([]byte(k)), ValidBuffer([]byte("v")), PutInsert); err != nil {
			t.Fatal(err)
		}
	}
	if err := txn.Commit(); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < n; i += 3 {
		if err := db.Delete([]byte(fmt.Sprintf("x%04d", i))); err != nil {
			t.Fatalf("delete %d: %v", i, err)
		}
	}
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("x%04d", i)
		if i%3 == 0 {
			mustAbsent(t, db, k)
		} else {
			mustGet(t, db, k, "v")
		}
	}
}

func TestDupSubtreePromotion(t *testing.T) {
	db := openTestDB(t)
	// Values big enough that a run of them crosses the dup-subtree
	// threshold well before filling a leaf with records.
	val := make([]byte, 100)
	for i := range val {
		val[i] = 'v'
	}

	txn, err := db.NewTransaction()
	if err != nil {
		t.Fatal(err)
	}
	const n = 120
	for i := 0; i < n; i++ {
		if err := txn.Put(nil, ValidBuffer([]byte("e")), ValidBuffer(val), PutInsert); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	// A neighbor key before and after the run.
	if err := txn.Put(nil, ValidBuffer([]byte("a")), ValidBuffer([]byte("A")), PutInsert); err != nil {
		t.Fatal(err)
	}
	if err := txn.Put(nil, ValidBuffer([]byte("z")), ValidBuffer([]byte("Z")), PutInsert); err != nil {
		t.Fatal(err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatal(err)
	}

	// The run must have been carved into a dup subtree spanning
	// multiple pages (120 * ~102 bytes >> one page body).
	txn2, err := db.NewTransaction()
	if err != nil {
		t.Fatal(err)
	}
	defer txn2.Abort()

	v, err := txn2.Get(nil, ValidBuffer([]byte("e")))
	if err != nil || !v.IsValid() || v.Len() != len(val) {
		t.Fatalf("dup get: %v %v", err, v)
	}

	cur, err := txn2.CurFront(nil)
	if err != nil {
		t.Fatal(err)
	}
	counts := make(map[string]int)
	for cur.Valid() {
		k, _, err := cur.Get()
		if err != nil {
			t.Fatal(err)
		}
		counts[string(k.Bytes())]++
		if err := cur.Next(); err != nil {
			t.Fatal(err)
		}
	}
	cur.Close()
	if counts["e"] != n {
		t.Fatalf("dup count = %d, want %d", counts["e"], n)
	}
	if counts["a"] != 1 || counts["z"] != 1 {
		t.Fatalf("neighbor keys: %v", counts)
	}

	// Deleting the whole run dissolves the subtree.
	if err := db.Delete([]byte("e")); err != nil {
		t.Fatalf("delete dup run: %v", err)
	}
	mustAbsent(t, db, "e")
	mustGet(t, db, "a", "A")
	mustGet(t, db, "z", "Z")
}

func TestLeafRecordCap(t *testing.T) {
	// 256 tiny records of one key force a split at the 255-record cap
	// rather than a page overflow.
	db := openTestDB(t)
	txn, err := db.NewTransaction()
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < MaxLeafRecords+1; i++ {
		if err := txn.Put(nil, ValidBuffer([]byte("k")), ValidBuffer([]byte{byte(i)}), PutInsert); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	if err := txn.Commit(); err != nil {
		t.Fatal(err)
	}

	txn2, err := db.NewTransaction()
	if err != nil {
		t.Fatal(err)
	}
	defer txn2.Abort()
	root, err := txn2.tableRoot(nil)
	if err != nil {
		t.Fatal(err)
	}
	p, _, err := txn2.sess.readPage(root)
	if err != nil {
		t.Fatal(err)
	}
	if p.typ() != ptNode {
		t.Fatalf("root type = %v, want Node after cap split", p.typ())
	}
	cur, err := txn2.CurFront(nil)
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for cur.Valid() {
		count++
		if err := cur.Next(); err != nil {
			t.Fatal(err)
		}
	}
	cur.Close()
	if count != MaxLeafRecords+1 {
		t.Fatalf("record count = %d", count)
	}
}
