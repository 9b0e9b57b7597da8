package ptnk

import (
	"path/filepath"
	"testing"
)

func TestStreakPayloadRoundTrip(t *testing.T) {
	tx := &txSession{
		uniqueBase:    5,
		uniquePages:   3,
		pagesWOldLink: map[pgid]bool{9: true, 4: true, 200: true},
	}
	buf := encodeStreakPayload(tx)

	uniq, links, err := decodeStreakPayload(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if uniq != 8 {
		t.Fatalf("uniquePages = %d, want 8", uniq)
	}
	want := []pgid{4, 9, 200}
	if len(links) != len(want) {
		t.Fatalf("links = %v", links)
	}
	for i, id := range want {
		if links[i] != id {
			t.Fatalf("links[%d] = %v, want %v (ascending)", i, links[i], id)
		}
	}
}

func TestStreakPayloadTruncated(t *testing.T) {
	if _, _, err := decodeStreakPayload(make([]byte, 8)); !IsCorrupt(err) {
		t.Fatalf("short payload: err = %v", err)
	}
	buf := make([]byte, 16)
	putUint64LE(buf[8:], 10) // claims 10 pgids, carries none
	if _, _, err := decodeStreakPayload(buf); !IsCorrupt(err) {
		t.Fatalf("truncated link set: err = %v", err)
	}
}

func TestStreakOverflowPages(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "sk")
	pf, err := openPageFile(prefix, Writer|Create, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer pf.close()

	ao := newActiveOvr(0, PgidInvalid)
	tx := newTxSession(pf, ao)
	p, err := tx.newPage(ptDebug)
	if err != nil {
		t.Fatal(err)
	}
	// One 40-byte tail cannot hold 16 + 10*8 payload bytes; the writer
	// must chain an OverflowStreak page.
	for i := 0; i < 10; i++ {
		tx.notifyPageWOldLink(pgid(100 + i))
	}
	if err := writeStreak(tx); err != nil {
		t.Fatalf("writeStreak: %v", err)
	}
	if len(tx.modified) != 2 {
		t.Fatalf("modified pages = %d, want page + overflow", len(tx.modified))
	}

	op, err := pf.resolve(tx.modified[1])
	if err != nil {
		t.Fatal(err)
	}
	if op.typ() != ptOverflowStreak {
		t.Fatalf("second page type = %v", op.typ())
	}

	buf, err := readStreak(pf, []pgid{p.id()}, []pgid{op.id()})
	if err != nil {
		t.Fatal(err)
	}
	uniq, links, err := decodeStreakPayload(buf)
	if err != nil {
		t.Fatal(err)
	}
	// The payload is encoded before the overflow page is allocated,
	// so it counts only the pages known at that point.
	if uniq != 1 {
		t.Fatalf("uniquePages = %d", uniq)
	}
	if len(links) != 10 || links[0] != 100 || links[9] != 109 {
		t.Fatalf("links = %v", links)
	}
}
