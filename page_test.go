package ptnk

import "testing"

func TestPageHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, PageSize)
	p := initPage(buf, newPgid(2, 77), ptLeaf)

	if p.id() != newPgid(2, 77) {
		t.Fatalf("id = %v", p.id())
	}
	if p.idOvrTgt() != PgidInvalid {
		t.Fatal("fresh page must have invalid override target")
	}
	if p.typ() != ptLeaf {
		t.Fatalf("type = %v", p.typ())
	}
	if p.isValid() {
		t.Fatal("fresh page must not be valid")
	}

	p.setTxid(9)
	p.addFlags(flagValid | flagEndTx)
	if !p.isValid() || !p.isEndTx() || p.isTxRebase() {
		t.Fatal("flag accessors wrong")
	}
	if len(p.body()) != PageBodySize {
		t.Fatalf("body size = %d, want %d", len(p.body()), PageBodySize)
	}
	if len(p.streakTail()) != StreakTailSize {
		t.Fatalf("streak tail size = %d", len(p.streakTail()))
	}
}

func TestCloneInto(t *testing.T) {
	src := initPage(make([]byte, PageSize), newPgid(0, 5), ptNode)
	src.setTxid(3)
	src.addFlags(flagValid)
	src.body()[0] = 0xAB

	dst := initPage(make([]byte, PageSize), newPgid(0, 9), ptNode)
	cloneInto(dst, src, newPgid(0, 9))

	if dst.id() != newPgid(0, 9) {
		t.Fatalf("clone id = %v", dst.id())
	}
	if dst.idOvrTgt() != newPgid(0, 5) {
		t.Fatalf("clone override target = %v", dst.idOvrTgt())
	}
	if dst.flags() != 0 {
		t.Fatal("clone must start unstamped")
	}
	if dst.body()[0] != 0xAB {
		t.Fatal("clone body not copied")
	}
}

func TestDumpHelpers(t *testing.T) {
	p := initPage(make([]byte, PageSize), newPgid(0, 3), ptNode)
	body := p.body()
	nodeSetPtrNeg1(body, newPgid(0, 1))
	nodeSetNumKeys(body, 0)
	nodeSetSizeFree(body, len(body)-nodePtrNeg1Size-nodeFooterSize)

	s := dump(p)
	if len(s) == 0 || s[:4] != "Node" {
		t.Fatalf("dump = %q", s)
	}

	out := dumpGraph(p, nil)
	if len(out) != 1 || out[0] != newPgid(0, 1) {
		t.Fatalf("dumpGraph = %v", out)
	}
}

func TestPgidEncoding(t *testing.T) {
	id := newPgid(0xAB, 12345)
	if id.part() != 0xAB || id.local() != 12345 {
		t.Fatalf("part/local = %v/%v", id.part(), id.local())
	}
	if !id.valid() || PgidInvalid.valid() {
		t.Fatal("validity checks wrong")
	}
}
