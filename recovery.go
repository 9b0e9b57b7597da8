package ptnk

import "sort"

// Recovery: after the page file is opened, the page
// space is scanned for the most recent rebase anchor (TX_REBASE),
// which fixes verBase; every complete commit after it is replayed, in
// verWrite order, to reconstruct the override index; the most recent
// valid overview page becomes the table-directory root. A commit is
// complete only when its final (END_TX) page is fully on disk;
// pages of a commit interrupted mid-sync are ignored.

// recCommit collects the on-disk evidence of one commit during the
// recovery scan.
type recCommit struct {
	ver      ver
	pages    []pgid // every valid page stamped with this ver
	overflow []pgid // the subset that is OverflowStreak pages
	hasEnd   bool
	isRebase bool
}

// recover scans the page space and rebuilds the in-memory state. It
// reports found=false (and no error) when no valid page exists at
// all, in which case the caller initializes a fresh store.
func (db *DB) recover() (found bool, err error) {
	commits := make(map[ver]*recCommit)
	var verBase ver
	haveBase := false
	var startPgid pgid = PgidInvalid
	var startVer ver

	for _, pt := range *db.pf.partitions.Load() {
		if pt == nil {
			continue
		}
		n := pt.numPages.Load()
		for local := uint64(0); local < n; local++ {
			p := pt.page(local)
			if !p.isValid() {
				continue
			}
			v := p.txid()
			c := commits[v]
			if c == nil {
				c = &recCommit{ver: v}
				commits[v] = c
			}
			id := newPgid(pt.id, local)
			c.pages = append(c.pages, id)
			if p.typ() == ptOverflowStreak {
				c.overflow = append(c.overflow, id)
			}
			if p.isEndTx() {
				c.hasEnd = true
			}
			if p.isTxRebase() {
				c.isRebase = true
				if !haveBase || v > verBase {
					verBase = v
					haveBase = true
				}
			}
		}
	}
	if len(commits) == 0 {
		return false, nil
	}
	if !haveBase {
		return false, NewError(KindCorrupt, "no rebase anchor found")
	}

	var complete []*recCommit
	for _, c := range commits {
		if !c.hasEnd {
			continue
		}
		sort.Slice(c.pages, func(i, j int) bool { return c.pages[i] < c.pages[j] })
		sort.Slice(c.overflow, func(i, j int) bool { return c.overflow[i] < c.overflow[j] })
		complete = append(complete, c)
	}
	sort.Slice(complete, func(i, j int) bool { return complete[i].ver < complete[j].ver })

	// Most recent valid overview among complete commits fixes the
	// table-directory root.
	for _, c := range complete {
		for _, id := range c.pages {
			p, err := db.pf.resolve(id)
			if err != nil {
				return false, err
			}
			if p.typ() != ptOverview {
				continue
			}
			if startPgid == PgidInvalid || c.ver > startVer || (c.ver == startVer && id > startPgid) {
				startPgid, startVer = id, c.ver
			}
		}
	}
	if startPgid == PgidInvalid {
		return false, NewError(KindCorrupt, "no valid overview page found")
	}

	ao := newActiveOvr(verBase, startPgid)

	// Replay commits after the anchor, in verWrite order, restoring
	// override entries and the accumulated streak bookkeeping.
	var latest *recCommit
	for _, c := range complete {
		if c.ver < verBase {
			continue
		}
		latest = c
		if c.ver == verBase {
			continue // the anchor's overrides are already folded into the base
		}
		lo := newLocalOvr(0, PgidInvalid)
		for _, id := range c.pages {
			p, err := db.pf.resolve(id)
			if err != nil {
				return false, err
			}
			if tgt := p.idOvrTgt(); tgt.valid() {
				lo.addOvr(tgt, id)
			}
		}
		if err := ao.tryCommit(lo, commitReplay, c.ver); err != nil {
			return false, err
		}
		uniq, oldLinks, err := readCommitStreak(db.pf, c)
		if err != nil {
			return false, err
		}
		db.uniquePages.Store(uniq)
		for _, id := range oldLinks {
			db.pagesWOldLink[id] = true
		}
	}
	if latest != nil && latest.ver == verBase {
		uniq, _, err := readCommitStreak(db.pf, latest)
		if err != nil {
			return false, err
		}
		db.uniquePages.Store(uniq)
	}

	db.ao.Store(ao)
	return true, nil
}

// readCommitStreak reassembles one commit's streak payload: modified
// pages' tails in ascending pgid order, then overflow page bodies.
func readCommitStreak(pf *pageFile, c *recCommit) (uint64, []pgid, error) {
	overflow := make(map[pgid]bool, len(c.overflow))
	for _, id := range c.overflow {
		overflow[id] = true
	}
	var tails []pgid
	for _, id := range c.pages {
		if !overflow[id] {
			tails = append(tails, id)
		}
	}
	buf, err := readStreak(pf, tails, c.overflow)
	if err != nil {
		return 0, nil, err
	}
	// decodeStreakPayload reads a prefix; the unused tail bytes of the
	// final page are ignored.
	return decodeStreakPayload(buf)
}
