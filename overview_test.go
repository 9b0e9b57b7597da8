package ptnk

import "testing"

func newOverviewBody() []byte {
	body := make([]byte, PageBodySize)
	overviewSetVerLayout(body, 0)
	putUint16LE(body[overviewHeaderSize:], NullTag)
	return body
}

func TestOverviewDirectory(t *testing.T) {
	body := newOverviewBody()

	if overviewGetTableRoot(body, []byte("a")) != PgidInvalid {
		t.Fatal("empty directory must miss")
	}
	if overviewGetDefaultTableRoot(body) != PgidInvalid {
		t.Fatal("empty directory has no default root")
	}

	if !overviewSetTableRoot(body, []byte("a"), 5) {
		t.Fatal("set a failed")
	}
	if !overviewSetTableRoot(body, []byte("bb"), 7) {
		t.Fatal("set bb failed")
	}
	if overviewVerLayout(body) != 2 {
		t.Fatalf("verLayout = %d after two appends", overviewVerLayout(body))
	}
	if overviewGetTableRoot(body, []byte("a")) != 5 {
		t.Fatal("get a wrong")
	}
	if overviewGetDefaultTableRoot(body) != 5 {
		t.Fatal("default root must be the first entry")
	}

	// Overwriting an existing entry must not bump the layout version.
	if !overviewSetTableRoot(body, []byte("a"), 9) {
		t.Fatal("overwrite a failed")
	}
	if overviewVerLayout(body) != 2 {
		t.Fatal("overwrite must not bump verLayout")
	}
	if overviewGetTableRoot(body, []byte("a")) != 9 {
		t.Fatal("overwritten root wrong")
	}

	if !overviewDropTable(body, []byte("a")) {
		t.Fatal("drop a failed")
	}
	if overviewVerLayout(body) != 3 {
		t.Fatal("drop must bump verLayout")
	}
	if overviewGetTableRoot(body, []byte("a")) != PgidInvalid {
		t.Fatal("a still present after drop")
	}
	if overviewGetTableRoot(body, []byte("bb")) != 7 {
		t.Fatal("bb lost by drop of a")
	}
	if overviewDropTable(body, []byte("zz")) {
		t.Fatal("drop of missing table must report false")
	}
}

func TestTableOffCache(t *testing.T) {
	body := newOverviewBody()
	overviewSetTableRoot(body, []byte("t1"), 11)
	overviewSetTableRoot(body, []byte("t2"), 22)

	var cache tableOffCache
	if _, ok := cache.lookup(body, []byte("t2")); ok {
		t.Fatal("cold cache must miss")
	}
	cache.fill(body, []byte("t2"))
	got, ok := cache.lookup(body, []byte("t2"))
	if !ok || got != 22 {
		t.Fatalf("cache lookup = %v, %v", got, ok)
	}

	// In-place root updates keep the cached offset valid.
	overviewSetTableRoot(body, []byte("t2"), 33)
	got, ok = cache.lookup(body, []byte("t2"))
	if !ok || got != 33 {
		t.Fatal("cache must track in-place root updates")
	}

	// A layout change invalidates the cache.
	overviewSetTableRoot(body, []byte("t3"), 44)
	if _, ok := cache.lookup(body, []byte("t2")); ok {
		t.Fatal("cache must invalidate on layout change")
	}
	cache.fill(body, []byte("t2"))
	if got, ok := cache.lookup(body, []byte("t2")); !ok || got != 33 {
		t.Fatal("refilled cache wrong")
	}
}
