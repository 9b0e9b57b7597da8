package ptnk

import (
	"fmt"
	"testing"
)

func collectForward(t *testing.T, c *Cursor) (keys, values []string) {
	t.Helper()
	for c.Valid() {
		k, v, err := c.Get()
		if err != nil {
			t.Fatalf("cursor Get: %v", err)
		}
		keys = append(keys, string(k.Bytes()))
		values = append(values, string(v.Bytes()))
		if err := c.Next(); err != nil {
			t.Fatalf("cursor Next: %v", err)
		}
	}
	return keys, values
}

func TestCursorIterationOrder(t *testing.T) {
	db := openTestDB(t)
	for _, k := range []string{"d", "b", "f", "a", "e", "c"} {
		if err := db.Put([]byte(k), []byte("v"+k), PutInsert); err != nil {
			t.Fatal(err)
		}
	}

	txn, err := db.NewTransaction()
	if err != nil {
		t.Fatal(err)
	}
	defer txn.Abort()

	cur, err := txn.CurFront(nil)
	if err != nil {
		t.Fatal(err)
	}
	keys, values := collectForward(t, cur)
	cur.Close()

	want := []string{"a", "b", "c", "d", "e", "f"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v", keys)
	}
	for i, k := range want {
		if keys[i] != k || values[i] != "v"+k {
			t.Fatalf("position %d: (%q, %q)", i, keys[i], values[i])
		}
	}

	// Walk backward from the back.
	cur, err = txn.CurBack(nil)
	if err != nil {
		t.Fatal(err)
	}
	var rev []string
	for cur.Valid() {
		k, _, err := cur.Get()
		if err != nil {
			t.Fatal(err)
		}
		rev = append(rev, string(k.Bytes()))
		if err := cur.Prev(); err != nil {
			t.Fatal(err)
		}
	}
	cur.Close()
	for i := range want {
		if rev[len(rev)-1-i] != want[i] {
			t.Fatalf("reverse walk = %v", rev)
		}
	}
}

func TestCursorQueryTypes(t *testing.T) {
	db := openTestDB(t)
	for _, k := range []string{"b", "d", "f"} {
		if err := db.Put([]byte(k), []byte("v"+k), PutInsert); err != nil {
			t.Fatal(err)
		}
	}
	txn, err := db.NewTransaction()
	if err != nil {
		t.Fatal(err)
	}
	defer txn.Abort()

	cases := []struct {
		key  string
		typ  QueryType
		want string // "" = expect unpositioned
	}{
		{"d", QueryExact, "d"},
		{"c", QueryExact, ""},
		{"d", QueryOrNext, "d"},
		{"c", QueryOrNext, "d"},
		{"g", QueryOrNext, ""},
		{"d", QueryOrPrev, "d"},
		{"c", QueryOrPrev, "b"},
		{"a", QueryOrPrev, ""},
		{"d", QueryBefore, "b"},
		{"b", QueryBefore, ""},
		{"d", QueryAfter, "f"},
		{"f", QueryAfter, ""},
		{"", QueryFront, "b"},
		{"", QueryBack, "f"},
	}
	for _, tc := range cases {
		cur, err := txn.CurQuery(nil, ValidBuffer([]byte(tc.key)), tc.typ)
		if err != nil {
			t.Fatalf("query %q/%v: %v", tc.key, tc.typ, err)
		}
		if tc.want == "" {
			if cur.Valid() {
				k, _, _ := cur.Get()
				t.Fatalf("query %q/%v landed on %q, want unpositioned", tc.key, tc.typ, k.Bytes())
			}
		} else {
			if !cur.Valid() {
				t.Fatalf("query %q/%v unpositioned, want %q", tc.key, tc.typ, tc.want)
			}
			k, _, err := cur.Get()
			if err != nil {
				t.Fatal(err)
			}
			if string(k.Bytes()) != tc.want {
				t.Fatalf("query %q/%v = %q, want %q", tc.key, tc.typ, k.Bytes(), tc.want)
			}
		}
		cur.Close()
	}
}

func TestCursorDuplicateRun(t *testing.T) {
	db := openTestDB(t)
	txn, err := db.NewTransaction()
	if err != nil {
		t.Fatal(err)
	}
	const n = 400
	// Non-monotonic values distinguish insertion order from value order.
	for i := 0; i < n; i++ {
		v := fmt.Sprintf("%03d", i*37%n)
		if err := txn.Put(nil, ValidBuffer([]byte("d")), ValidBuffer([]byte(v)), PutInsert); err != nil {
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
	cur, err := txn2.CurFront(nil)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for cur.Valid() {
		k, v, err := cur.Get()
		if err != nil {
			t.Fatal(err)
		}
		if string(k.Bytes()) != "d" {
			break
		}
		got = append(got, string(v.Bytes()))
		if err := cur.Next(); err != nil {
			t.Fatal(err)
		}
	}
	cur.Close()

	if len(got) != n {
		t.Fatalf("collected %d duplicates, want %d", len(got), n)
	}
	for i, v := range got {
		if v != fmt.Sprintf("%03d", i*37%n) {
			t.Fatalf("duplicate %d = %q, want insertion order", i, v)
		}
	}
}

func TestCursorPut(t *testing.T) {
	db := openTestDB(t)
	for _, k := range []string{"a", "b", "c"} {
		if err := db.Put([]byte(k), []byte("old"), PutInsert); err != nil {
			t.Fatal(err)
		}
	}
	txn, err := db.NewTransaction()
	if err != nil {
		t.Fatal(err)
	}
	cur, err := txn.CurQuery(nil, ValidBuffer([]byte("b")), QueryExact)
	if err != nil {
		t.Fatal(err)
	}
	if err := cur.Put(ValidBuffer([]byte("new"))); err != nil {
		t.Fatalf("cursor Put: %v", err)
	}
	k, v, err := cur.Get()
	if err != nil {
		t.Fatal(err)
	}
	if string(k.Bytes()) != "b" || string(v.Bytes()) != "new" {
		t.Fatalf("cursor after Put at (%q, %q)", k.Bytes(), v.Bytes())
	}
	cur.Close()
	if err := txn.Commit(); err != nil {
		t.Fatal(err)
	}
	mustGet(t, db, "b", "new")
	mustGet(t, db, "a", "old")
}

func TestCursorDeleteAdvances(t *testing.T) {
	db := openTestDB(t)
	for _, k := range []string{"a", "b", "c"} {
		if err := db.Put([]byte(k), []byte("v"+k), PutInsert); err != nil {
			t.Fatal(err)
		}
	}
	txn, err := db.NewTransaction()
	if err != nil {
		t.Fatal(err)
	}
	cur, err := txn.CurQuery(nil, ValidBuffer([]byte("a")), QueryExact)
	if err != nil {
		t.Fatal(err)
	}
	if err := cur.Delete(); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !cur.Valid() {
		t.Fatal("cursor must advance to the next record")
	}
	k, _, err := cur.Get()
	if err != nil {
		t.Fatal(err)
	}
	if string(k.Bytes()) != "b" {
		t.Fatalf("cursor after delete at %q, want b", k.Bytes())
	}

	// Deleting the final record leaves the cursor unpositioned.
	if err := cur.Delete(); err != nil {
		t.Fatal(err)
	}
	if err := cur.Delete(); err != nil {
		t.Fatal(err)
	}
	if cur.Valid() {
		t.Fatal("cursor still positioned after table emptied")
	}
	cur.Close()
	if err := txn.Commit(); err != nil {
		t.Fatal(err)
	}
	mustAbsent(t, db, "a")
	mustAbsent(t, db, "b")
	mustAbsent(t, db, "c")
}

func TestCursorUseAfterClose(t *testing.T) {
	db := openTestDB(t)
	db.Put([]byte("a"), []byte("v"), PutInsert)
	txn, _ := db.NewTransaction()
	defer txn.Abort()
	cur, err := txn.CurFront(nil)
	if err != nil {
		t.Fatal(err)
	}
	cur.Close()
	if _, _, err := cur.Get(); KindOf(err) != KindInvariant {
		t.Fatalf("Get after Close: err = %v", err)
	}
	if err := cur.Next(); KindOf(err) != KindInvariant {
		t.Fatalf("Next after Close: err = %v", err)
	}
}
