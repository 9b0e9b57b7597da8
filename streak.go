package ptnk

import "sort"

// The streak channel carries small per-commit side bytes striped
// across the tx's modified pages' 40-byte tail regions, overflowing
// into OverflowStreak pages when exhausted. Payload, in
// order:
//
//  1. Running count of unique (newly allocated) pages in the
//     database so far (8 bytes).
//  2. The "pages with old links" set accumulated this tx: a count
//     followed by that many pgids (8 bytes each).
//
// On recovery the streak is reassembled by visiting modified pages in
// ascending pgid order, mirroring write order.

// writeStreak serializes tx's streak payload and stripes it across
// tx.modified pages' tail regions, allocating OverflowStreak pages via
// tx.newPage as needed.
func writeStreak(tx *txSession) error {
	payload := encodeStreakPayload(tx)

	w := &streakWriter{tx: tx}
	for _, id := range tx.modified {
		p, err := tx.pf.resolve(id)
		if err != nil {
			return err
		}
		w.tails = append(w.tails, p.streakTail())
	}

	return w.write(payload)
}

func encodeStreakPayload(tx *txSession) []byte {
	buf := make([]byte, 8, 8+8+len(tx.pagesWOldLink)*8)
	putUint64LE(buf[0:8], tx.uniqueBase+tx.uniquePages)

	ids := make([]pgid, 0, len(tx.pagesWOldLink))
	for id := range tx.pagesWOldLink {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	countBuf := make([]byte, 8)
	putUint64LE(countBuf, uint64(len(ids)))
	buf = append(buf, countBuf...)
	for _, id := range ids {
		idBuf := make([]byte, 8)
		putUint64LE(idBuf, uint64(id))
		buf = append(buf, idBuf...)
	}
	return buf
}

// decodeStreakPayload is the read-side counterpart, used by recovery.
func decodeStreakPayload(buf []byte) (uniquePages uint64, pagesWOldLink []pgid, err error) {
	if len(buf) < 16 {
		return 0, nil, NewError(KindCorrupt, "streak payload truncated")
	}
	uniquePages = getUint64LE(buf[0:8])
	n := getUint64LE(buf[8:16])
	off := 16
	if uint64(len(buf)-off) < n*8 {
		return 0, nil, NewError(KindCorrupt, "streak old-link set truncated")
	}
	pagesWOldLink = make([]pgid, n)
	for i := uint64(0); i < n; i++ {
		pagesWOldLink[i] = pgid(getUint64LE(buf[off:]))
		off += 8
	}
	return uniquePages, pagesWOldLink, nil
}

// streakWriter stripes a byte payload across a sequence of fixed-size
// tail regions, spilling into OverflowStreak pages once they run out.
type streakWriter struct {
	tx    *txSession
	tails [][]byte
}

func (w *streakWriter) write(payload []byte) error {
	ti := 0
	for len(payload) > 0 && ti < len(w.tails) {
		n := copy(w.tails[ti], payload)
		payload = payload[n:]
		ti++
	}
	for len(payload) > 0 {
		op, err := w.tx.newPage(ptOverflowStreak)
		if err != nil {
			return err
		}
		body := op.body()
		n := overflowStreakCapacity(body)
		if n > len(payload) {
			n = len(payload)
		}
		overflowStreakSetData(body, payload[:n])
		payload = payload[n:]
	}
	return nil
}

// readStreak reassembles a commit's streak payload by visiting the
// tails of ids (ascending, same commit), then the bodies of the
// OverflowStreak pages in overflowIDs, mirroring write order.
func readStreak(pf *pageFile, ids []pgid, overflowIDs []pgid) ([]byte, error) {
	var buf []byte
	for _, id := range ids {
		p, err := pf.resolve(id)
		if err != nil {
			return nil, err
		}
		buf = append(buf, p.streakTail()...)
	}
	for _, id := range overflowIDs {
		p, err := pf.resolve(id)
		if err != nil {
			return nil, err
		}
		buf = append(buf, overflowStreakData(p.body())...)
	}
	return buf, nil
}
