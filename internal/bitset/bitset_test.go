package bitset

import "testing"

func TestMarkClearQuery(t *testing.T) {
	s := New(130)
	if s.Len() != 130 || s.Count() != 0 {
		t.Fatalf("fresh set: len=%d count=%d", s.Len(), s.Count())
	}
	s.Mark(0)
	s.Mark(64)
	s.Mark(129)
	if !s.IsMarked(0) || !s.IsMarked(64) || !s.IsMarked(129) {
		t.Fatal("marked bits not set")
	}
	if s.IsMarked(1) || s.IsMarked(128) {
		t.Fatal("unmarked bits set")
	}
	if s.Count() != 3 {
		t.Fatalf("count = %d", s.Count())
	}
	s.Clear(64)
	if s.IsMarked(64) || s.Count() != 2 {
		t.Fatal("clear failed")
	}
}

func TestOutOfRangeIgnored(t *testing.T) {
	s := New(10)
	s.Mark(10)
	s.Mark(1000)
	if s.Count() != 0 {
		t.Fatal("out-of-range marks must be ignored")
	}
	if s.IsMarked(1000) {
		t.Fatal("out-of-range query must be false")
	}
}

func TestGrowPreservesBits(t *testing.T) {
	s := New(10)
	s.Mark(3)
	s.Grow(5)
	if s.Len() != 10 {
		t.Fatal("grow must never shrink")
	}
	s.Grow(300)
	if s.Len() != 300 || !s.IsMarked(3) {
		t.Fatal("grow lost state")
	}
	s.Mark(299)
	if !s.IsMarked(299) || s.Count() != 2 {
		t.Fatal("post-grow marks broken")
	}
}

func TestReset(t *testing.T) {
	s := New(100)
	for i := uint32(0); i < 100; i += 3 {
		s.Mark(i)
	}
	s.Reset()
	if s.Count() != 0 || s.Len() != 100 {
		t.Fatal("reset failed")
	}
}
