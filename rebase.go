package ptnk

import (
	"github.com/nyaxt/ptnk-sub000/internal/bitset"
)

// Rebase folds every live override back into a new base image: the
// override chain is terminated, pages holding stale links
// are rewritten through the chain, and a fresh chain rooted at the
// rebase commit's verWrite replaces the old one. With force false the
// rebase only runs once the chain has grown past its threshold.
func (db *DB) Rebase(force bool) error {
	if db.opts&Writer == 0 {
		return NewError(KindConfig, "Rebase on read-only store")
	}
	db.rebaseMu.Lock()
	if db.duringRebase {
		for db.duringRebase {
			db.rebaseCond.Wait()
		}
		db.rebaseMu.Unlock()
		return nil
	}
	ao := db.ao.Load()
	if !force && ao.countOvr() < rebaseOverrideThreshold {
		db.rebaseMu.Unlock()
		return nil
	}
	db.duringRebase = true
	db.rebaseMu.Unlock()

	err := db.doRebase(ao)

	db.rebaseMu.Lock()
	db.duringRebase = false
	db.rebaseCond.Broadcast()
	db.rebaseMu.Unlock()
	return err
}

func (db *DB) doRebase(ao *activeOvr) error {
	last := ao.terminate()
	verWrite := ao.verBase + 1
	if last != nil {
		verWrite = last.verWrite + 1
	}

	sess := newTxSession(db.pf, ao)
	sess.isRebase = true
	sess.autoSync = db.opts&AutoSync != 0

	db.oldLinkMu.Lock()
	oldLinks := db.pagesWOldLink
	db.pagesWOldLink = make(map[pgid]bool)
	db.oldLinkMu.Unlock()

	r := &rebaser{sess: sess, oldLinks: oldLinks, memo: make(map[pgid]pgid)}
	sess.updater = r.fold

	// The directory page is always rewritten, so the commit carries a
	// TX_REBASE anchor and the new chain starts at a tight root.
	ov, mutable, err := sess.readPage(sess.pgidStartPage())
	if err != nil {
		return err
	}
	nov, err := sess.modifyPage(ov, mutable)
	if err != nil {
		return err
	}
	updateLinks(nov, sess.updateLink)
	if r.err != nil {
		return r.err
	}

	if err := sess.stampAndSync(verWrite); err != nil {
		return err
	}
	db.uniquePages.Add(sess.uniquePages)
	db.ao.Store(newActiveOvr(verWrite, nov.id()))
	return nil
}

// rebaser folds the override chain into page links: fold resolves a
// pointer through the chain and, when the page behind it still holds
// stale outgoing links, rewrites it via the page-type dispatch.
type rebaser struct {
	sess     *txSession
	oldLinks map[pgid]bool
	memo     map[pgid]pgid
	err      error
}

func (r *rebaser) fold(old pgid) pgid {
	if r.err != nil || !old.valid() {
		return old
	}
	resolved, _ := r.sess.resolveOvr(old)
	if out, ok := r.memo[resolved]; ok {
		return out
	}
	p, err := r.sess.pf.resolve(resolved)
	if err != nil {
		r.err = err
		return resolved
	}
	if !isInternalLike(p.typ()) && p.typ() != ptOverview {
		r.memo[resolved] = resolved
		return resolved
	}

	children := dumpGraph(p, nil)
	folded := make(map[pgid]pgid, len(children))
	changed := false
	for _, ch := range children {
		if _, ok := folded[ch]; ok {
			continue
		}
		f := r.fold(ch)
		folded[ch] = f
		if f != ch {
			changed = true
		}
	}
	if r.err != nil {
		return resolved
	}

	out := resolved
	if changed || r.oldLinks[resolved] {
		np, err := r.sess.modifyPage(p, false)
		if err != nil {
			r.err = err
			return resolved
		}
		updateLinks(np, func(o pgid) pgid {
			if f, ok := folded[o]; ok {
				return f
			}
			return o
		})
		out = np.id()
	}
	r.memo[resolved] = out
	return out
}

// refreshBelow walks every table's tree and forces leaves whose pgid
// is below threshold to be re-overridden at fresh pgids, committing
// in REFRESH mode so concurrent writers are never aborted by it.
func (db *DB) refreshBelow(threshold pgid) error {
	db.rebaseMu.Lock()
	for db.duringRebase {
		db.rebaseCond.Wait()
	}
	ao := db.ao.Load()
	db.rebaseMu.Unlock()

	sess := newTxSession(db.pf, ao)
	sess.isRefresh = true
	sess.autoSync = db.opts&AutoSync != 0

	ov, mutable, err := sess.readPage(sess.pgidStartPage())
	if err != nil {
		return err
	}
	entries := overviewEntries(ov.body())
	type rootChange struct {
		id   []byte
		root pgid
	}
	var changes []rootChange
	for _, e := range entries {
		newRoot, err := refreshAllLeafPages(sess, e.rootPgid, threshold)
		if err != nil {
			return err
		}
		if newRoot != e.rootPgid {
			changes = append(changes, rootChange{append([]byte(nil), e.id...), newRoot})
		}
	}
	if len(changes) > 0 {
		nov, err := sess.modifyPage(ov, mutable)
		if err != nil {
			return err
		}
		for _, ch := range changes {
			if !overviewSetTableRoot(nov.body(), ch.id, ch.root) {
				return NewError(KindOutOfSpace, "table directory full")
			}
		}
		sess.notifyPageWOldLink(nov.id())
	}

	if err := sess.commit(); err != nil {
		return err
	}
	db.uniquePages.Add(sess.uniquePages)
	db.oldLinkMu.Lock()
	for id := range sess.pagesWOldLink {
		db.pagesWOldLink[id] = true
	}
	db.oldLinkMu.Unlock()
	return nil
}

// refreshAllLeafPages resumably visits every leaf below id and
// re-overrides those whose pgid is under threshold, returning the
// (possibly new) pgid for id. DupKeyNode subtrees
// are descended the same way Nodes are, visiting each DupKeyLeaf
// child.
func refreshAllLeafPages(sess *txSession, id pgid, threshold pgid) (pgid, error) {
	p, mutable, err := sess.readPage(id)
	if err != nil {
		return PgidInvalid, err
	}
	cur := p.id()

	switch p.typ() {
	case ptLeaf, ptDupKeyLeaf:
		if cur >= threshold {
			return cur, nil
		}
		np, err := sess.modifyPage(p, mutable)
		if err != nil {
			return PgidInvalid, err
		}
		return np.id(), nil

	case ptNode, ptDupKeyNode:
		children := dumpGraph(p, nil)
		folded := make(map[pgid]pgid, len(children))
		changed := false
		for _, ch := range children {
			if _, ok := folded[ch]; ok {
				continue
			}
			nc, err := refreshAllLeafPages(sess, ch, threshold)
			if err != nil {
				return PgidInvalid, err
			}
			folded[ch] = nc
			if nc != ch {
				changed = true
			}
		}
		if !changed && cur >= threshold {
			return cur, nil
		}
		np, err := sess.modifyPage(p, mutable)
		if err != nil {
			return PgidInvalid, err
		}
		updateLinks(np, func(o pgid) pgid {
			if f, ok := folded[o]; ok {
				return f
			}
			return o
		})
		sess.notifyPageWOldLink(np.id())
		return np.id(), nil

	default:
		return PgidInvalid, NewError(KindInvariant, "refresh on unexpected page type: "+p.typ().String())
	}
}

// Compact reclaims partitions holding only stale pages: refresh
// every leaf below the active partition,
// rebase to fold the chain, then drop every partition below the first
// one that still holds a reachable page. A partition with no
// reachable page that lies above such a partition is kept.
func (db *DB) Compact() error {
	if db.opts&Writer == 0 {
		return NewError(KindConfig, "Compact on read-only store")
	}
	threshold := newPgid(db.pf.activePartID(), 0)
	if err := db.refreshBelow(threshold); err != nil {
		return err
	}
	if err := db.Rebase(true); err != nil {
		return err
	}

	reach, err := db.markReachable()
	if err != nil {
		return err
	}
	limit := db.pf.activePartID()
	for part := partID(0); part < limit; part++ {
		if bm, ok := reach[part]; ok && bm.Count() > 0 {
			limit = part
			break
		}
	}
	if limit == 0 {
		return nil
	}
	return db.pf.dropPartitionsBefore(limit)
}

// markReachable walks the live tree from the current directory root,
// building a per-partition bitmap of reachable local page ids, the
// compaction map deciding which partitions still hold live pages.
func (db *DB) markReachable() (map[partID]*bitset.Set, error) {
	ao := db.ao.Load()
	reach := make(map[partID]*bitset.Set)
	mark := func(id pgid) bool {
		bm := reach[id.part()]
		if bm == nil {
			bm = bitset.New(maxPagesPerPartition)
			reach[id.part()] = bm
		}
		if bm.IsMarked(uint32(id.local())) {
			return false
		}
		bm.Mark(uint32(id.local()))
		return true
	}

	stack := []pgid{*ao.pgidStartPage.Load()}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !id.valid() || !mark(id) {
			continue
		}
		p, err := db.pf.resolve(id)
		if err != nil {
			return nil, err
		}
		stack = dumpGraph(p, stack)
	}
	return reach, nil
}
