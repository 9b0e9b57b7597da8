package ptnk

// leafRec is a decoded logical record: a key (possibly inherited from
// an earlier value-only encoding) paired with one value.
type leafRec struct {
	key     []byte
	keyNull bool
	value   []byte
	valNull bool
}

func decodeLeafRecs(body []byte) []leafRec {
	n := leafNumKVs(body)
	recs := make([]leafRec, n)
	var curKey []byte
	var curKeyNull bool
	for i := 0; i < n; i++ {
		off, full := leafTableEntry(body, i)
		if full {
			k, v, kn, vn, _ := leafDecodeFull(body, off)
			curKey, curKeyNull = append([]byte(nil), k...), kn
			recs[i] = leafRec{curKey, kn, append([]byte(nil), v...), vn}
		} else {
			v, vn, _ := leafDecodeValueOnly(body, off)
			recs[i] = leafRec{curKey, curKeyNull, append([]byte(nil), v...), vn}
		}
	}
	return recs
}

// packLeaf packs a prefix of recs (sorted, duplicates grouped) into p
// until free space would drop below thresSplit or the record cap is
// reached, returning how many records were consumed.
func packLeaf(p page, recs []leafRec, thresSplit int) (consumed int) {
	body := p.body()
	end := len(body) - leafFooterSize
	tableBytes := 0
	i := 0
	for i < len(recs) && i < MaxLeafRecords {
		full := i == 0 || !sameKey(recs[i], recs[i-1])
		var recSize int
		if full {
			recSize = leafFullRecSize(len(recs[i].key), len(recs[i].value), recs[i].keyNull, recs[i].valNull)
		} else {
			recSize = leafValueOnlyRecSize(len(recs[i].value), recs[i].valNull)
		}
		free := end - tableBytes - 2 - recSize
		if free < 0 {
			break
		}
		if free < thresSplit && i > 0 {
			break
		}
		if full {
			end = leafEncodeFull(body, end, recs[i].key, recs[i].value, recs[i].keyNull, recs[i].valNull)
		} else {
			end = leafEncodeValueOnly(body, end, recs[i].value, recs[i].valNull)
		}
		leafSetTableEntry(body, i, end, full)
		tableBytes += 2
		i++
	}
	leafSetNumKVs(body, i)
	leafSetSizeFree(body, end-leafTableEnd(i))
	return i
}

func sameKey(a, b leafRec) bool {
	return compareNullable(a.key, a.keyNull, b.key, b.keyNull) == 0
}

// spliceLeafRec inserts newRec into the ordered logical record list
// decoded from body at the position dictated by key order and mode.
// Returns the updated list, or an error for a LeaveExisting collision.
func spliceLeafRec(body []byte, newRec leafRec, mode PutMode) ([]leafRec, error) {
	recs := decodeLeafRecs(body)
	lo, hi := 0, len(recs)
	for lo < hi {
		mid := (lo + hi) / 2
		if compareNullable(recs[mid].key, recs[mid].keyNull, newRec.key, newRec.keyNull) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	// lo is the first record with key >= newRec.key.
	hasExact := lo < len(recs) && sameKey(recs[lo], newRec)
	switch mode {
	case PutLeaveExisting:
		if hasExact {
			return nil, ErrDuplicateKey
		}
		return insertAt(recs, lo, newRec), nil
	case PutUpdate:
		if hasExact {
			recs[lo].value, recs[lo].valNull = newRec.value, newRec.valNull
			return recs, nil
		}
		return insertAt(recs, lo, newRec), nil
	default: // PutInsert: always append a new logical duplicate
		// place after the last existing record with the same key, to
		// preserve insertion order among duplicates.
		j := lo
		for j < len(recs) && sameKey(recs[j], newRec) {
			j++
		}
		return insertAt(recs, j, newRec), nil
	}
}

func insertAt(recs []leafRec, at int, r leafRec) []leafRec {
	out := make([]leafRec, 0, len(recs)+1)
	out = append(out, recs[:at]...)
	out = append(out, r)
	out = append(out, recs[at:]...)
	return out
}

// recSegment is a maximal run of records that must land on the same
// kind of page: dup segments hold one key whose combined packed size
// crossed the dup threshold and get their own DupKeyLeaf subtree;
// everything between them packs into regular leaves.
type recSegment struct {
	dup  bool
	recs []leafRec
}

func segmentRecs(recs []leafRec) []recSegment {
	var segs []recSegment
	i := 0
	for i < len(recs) {
		j := i + 1
		for j < len(recs) && sameKey(recs[j], recs[i]) {
			j++
		}
		run := recs[i:j]
		if !recs[i].keyNull && packedRunSize(run) >= dupKeyThreshold() {
			segs = append(segs, recSegment{dup: true, recs: run})
		} else if len(segs) > 0 && !segs[len(segs)-1].dup {
			segs[len(segs)-1].recs = append(segs[len(segs)-1].recs, run...)
		} else {
			segs = append(segs, recSegment{recs: append([]leafRec(nil), run...)})
		}
		i = j
	}
	return segs
}

// packedRunSize is a key run's cost in leaf bytes: one full record
// followed by value-only continuations.
func packedRunSize(run []leafRec) int {
	total := leafFullRecSize(len(run[0].key), len(run[0].value), run[0].keyNull, run[0].valNull)
	for _, r := range run[1:] {
		total += leafValueOnlyRecSize(len(r.value), r.valNull)
	}
	return total
}

func runValues(run []leafRec) []Buffer {
	values := make([]Buffer, len(run))
	for i, r := range run {
		if r.valNull {
			values[i] = NullBuffer()
		} else {
			values[i] = ValidBuffer(r.value)
		}
	}
	return values
}

// insertViaLeaf handles an insert landing on a regular Leaf page:
// splice the record in, then repack the record list across
// the page, sibling leaves, and dup subtrees as its size demands.
func insertViaLeaf(tx *txSession, p page, mutable bool, key []byte, keyNull bool, value []byte, valNull bool, mode PutMode) (pgid, splitResult, error) {
	// Bulk-append detection: inserting at or past the current tail
	// packs leaves full instead of split-ready.
	thres := thresSplitDefault
	if n := leafNumKVs(p.body()); n > 0 {
		lastKey, lastNull := leafRecordKeyAt(p.body(), n-1)
		if compareNullable(key, keyNull, lastKey, lastNull) >= 0 {
			thres = 0
		}
	}

	recs, err := spliceLeafRec(p.body(), leafRec{key, keyNull, value, valNull}, mode)
	if err != nil {
		return PgidInvalid, splitResult{}, err
	}

	np, err := tx.modifyPage(p, mutable)
	if err != nil {
		return PgidInvalid, splitResult{}, err
	}

	type outPage struct {
		key     []byte
		keyNull bool
		id      pgid
	}
	var outs []outPage
	usedFirst := false
	nextPage := func(typ pageType) (page, error) {
		if !usedFirst {
			usedFirst = true
			np.setType(typ)
			return np, nil
		}
		return tx.newPage(typ)
	}

	for _, seg := range segmentRecs(recs) {
		if seg.dup {
			dp, err := nextPage(ptDupKeyLeaf)
			if err != nil {
				return PgidInvalid, splitResult{}, err
			}
			k := seg.recs[0].key
			values := runValues(seg.recs)
			if !dupLeafRebuild(dp.body(), k, values) {
				buildDupNode(tx, dp, k, values)
			}
			outs = append(outs, outPage{k, false, dp.id()})
			continue
		}
		rem := seg.recs
		for len(rem) > 0 {
			lp, err := nextPage(ptLeaf)
			if err != nil {
				return PgidInvalid, splitResult{}, err
			}
			consumed := packLeaf(lp, rem, thres)
			if consumed == 0 {
				return PgidInvalid, splitResult{}, NewError(KindInvariant, "record too large for a leaf page")
			}
			outs = append(outs, outPage{rem[0].key, rem[0].keyNull, lp.id()})
			rem = rem[consumed:]
		}
	}
	if len(outs) == 0 {
		initEmptyLeaf(np)
		return np.id(), splitResult{}, nil
	}

	var sr splitResult
	for _, o := range outs[1:] {
		sr.splits = append(sr.splits, splitEntry{sepKey: o.key, sepNull: o.keyNull, pgid: o.id})
	}
	return np.id(), sr, nil
}

// leafRecordKeyAt resolves just the owning key of record i.
func leafRecordKeyAt(body []byte, i int) ([]byte, bool) {
	for j := i; j >= 0; j-- {
		off, full := leafTableEntry(body, j)
		if full {
			k, _, kn, _, _ := leafDecodeFull(body, off)
			return k, kn
		}
	}
	return nil, false
}
