package ptnk

import "sort"

// txSession is the per-transaction handle mediating all page access.
// It owns a LocalOvr for snapshot isolation plus the
// bookkeeping commit needs: the set of pages modified this tx, the
// set of pages whose outgoing pointers changed (for rebase), and a
// running count of newly allocated pages.
type txSession struct {
	pf *pageFile
	ao *activeOvr
	lo *localOvr

	modified      []pgid // pages touched this tx, first-modification order
	modifiedSet   map[pgid]bool
	pagesWOldLink map[pgid]bool
	uniquePages   uint64 // count of pages newPage'd this tx
	uniqueBase    uint64 // database-wide unique-page count at tx start

	isRebase  bool
	isRefresh bool
	autoSync  bool
	updater   linkUpdater // set only for the rebase tx; updateLink uses it

	closed bool
}

func newTxSession(pf *pageFile, ao *activeOvr) *txSession {
	return &txSession{
		pf:            pf,
		ao:            ao,
		lo:            ao.newTx(),
		modifiedSet:   make(map[pgid]bool),
		pagesWOldLink: make(map[pgid]bool),
		autoSync:      true,
	}
}

func (tx *txSession) pgidStartPage() pgid { return tx.lo.pgidStartPage }

func (tx *txSession) setPgidStartPage(id pgid) { tx.lo.pgidStartPage = id }

// newPage allocates a fresh mutable page of the given type and marks
// it modified.
func (tx *txSession) newPage(typ pageType) (page, error) {
	p, err := tx.pf.newPage(typ)
	if err != nil {
		return page{}, err
	}
	tx.uniquePages++
	tx.markModified(p.id())
	return p, nil
}

// readPage resolves id through the local then global override index
// and returns the resulting page. The returned
// page is mutable only if it is this tx's own local override of id
// (i.e. was produced by a prior modifyPage/newPage in this tx).
func (tx *txSession) readPage(id pgid) (p page, isMutable bool, err error) {
	resolved, status := tx.resolveOvr(id)
	p, err = tx.pf.resolve(resolved)
	if err != nil {
		return page{}, false, err
	}
	// A page is mutable when the final override hop is this tx's own,
	// or when the id resolves to a page this tx itself allocated.
	return p, status == ovrLocal || tx.modifiedSet[resolved], nil
}

// resolveOvr maps id through the local then global override index to
// a fixpoint: each committed clone is keyed by the page it replaced,
// so a page overridden across several commits forms a chain
// (O → O1 → O2) that must be walked hop by hop, each hop filtered by
// this tx's verRead.
func (tx *txSession) resolveOvr(id pgid) (pgid, ovrStatus) {
	cur, status := id, ovrNone
	for cur.valid() {
		next, s := tx.lo.searchOvr(cur)
		if s == ovrNone {
			next, s = tx.ao.searchOvr(cur, tx.lo.verRead)
		}
		if s == ovrNone || next == cur {
			break
		}
		cur, status = next, s
	}
	return cur, status
}

// modifyPage returns a mutable clone of p, reusing p in place if it
// is already mutable.
func (tx *txSession) modifyPage(p page, alreadyMutable bool) (page, error) {
	if alreadyMutable {
		return p, nil
	}
	np, err := tx.pf.newPage(p.typ())
	if err != nil {
		return page{}, err
	}
	orig := p.id()
	cloneInto(np, p, np.id())
	tx.lo.addOvr(orig, np.id())
	tx.markModified(np.id())
	return np, nil
}

// discardPage records id as deleted in this tx's local override.
func (tx *txSession) discardPage(id pgid) {
	tx.lo.addOvr(id, PgidInvalid)
}

func (tx *txSession) markModified(id pgid) {
	if tx.modifiedSet[id] {
		return
	}
	tx.modifiedSet[id] = true
	tx.modified = append(tx.modified, id)
}

// notifyPageWOldLink records that pgid contains a pointer which was
// updated this tx; accumulated across txs to drive the next rebase.
func (tx *txSession) notifyPageWOldLink(id pgid) {
	tx.pagesWOldLink[id] = true
}

// updateLink is only meaningful on the rebase tx: it resolves old to
// its current override target, folding the chain.
func (tx *txSession) updateLink(old pgid) pgid {
	if !tx.isRebase {
		panic("ptnk: updateLink called outside a rebase transaction")
	}
	return tx.updater(old)
}

// commit runs the full commit sequence for this session: tryCommit
// against the override index, then streak-write and header-stamp
// every modified page, then sync.
func (tx *txSession) commit() error {
	if tx.closed {
		return NewError(KindInvariant, "commit called on closed transaction")
	}
	tx.closed = true

	if len(tx.modified) == 0 {
		return nil
	}

	mode := commitNormal
	if tx.isRefresh {
		mode = commitRefresh
	}
	if err := tx.ao.tryCommit(tx.lo, mode, 0); err != nil {
		return err
	}
	if tx.isRefresh {
		tx.pruneFiltered()
		if len(tx.modified) == 0 {
			return nil
		}
	}

	return tx.stampAndSync(tx.lo.verWrite)
}

// pruneFiltered drops modified pages whose override entries were
// filtered out by a REFRESH-mode conflict:
// they must never be stamped valid, or recovery would replay them
// over the conflicting writer's pages.
func (tx *txSession) pruneFiltered() {
	keep := make(map[pgid]bool, len(tx.modified))
	for h := 0; h < tpioNHash; h++ {
		for e := tx.lo.hash[h]; e != nil; e = e.prev.Load() {
			keep[e.pgidOvr] = true
		}
	}
	kept := tx.modified[:0]
	for _, id := range tx.modified {
		if keep[id] {
			kept = append(kept, id)
		}
	}
	tx.modified = kept
}

// stampAndSync performs the durable half of commit: sort modified
// pages, stripe the streak channel, stamp headers and
// END_TX/TX_REBASE flags, then sync the written ranges. Rebase calls
// it directly with a verWrite it assigned itself.
func (tx *txSession) stampAndSync(verWrite ver) error {
	sort.Slice(tx.modified, func(i, j int) bool { return tx.modified[i] < tx.modified[j] })

	if err := writeStreak(tx); err != nil {
		return err
	}
	// writeStreak may have appended overflow pages to tx.modified.
	sort.Slice(tx.modified, func(i, j int) bool { return tx.modified[i] < tx.modified[j] })

	for i, id := range tx.modified {
		p, err := tx.pf.resolve(id)
		if err != nil {
			return err
		}
		p.setTxid(verWrite)
		p.addFlags(flagValid)
		if i == len(tx.modified)-1 {
			p.addFlags(flagEndTx)
			if tx.isRebase {
				p.addFlags(flagTxRebase)
			}
		}
	}

	if !tx.autoSync {
		return nil // delayed durability: the caller syncs explicitly
	}

	lo, hi := tx.modified[0], tx.modified[len(tx.modified)-1]
	if lo.part() == hi.part() {
		return tx.pf.sync(lo, hi)
	}
	// Spans a partition rollover: sync each partition's contiguous run
	// separately.
	runStart := 0
	for i := 1; i <= len(tx.modified); i++ {
		if i == len(tx.modified) || tx.modified[i].part() != tx.modified[runStart].part() {
			if err := tx.pf.sync(tx.modified[runStart], tx.modified[i-1]); err != nil {
				return err
			}
			runStart = i
		}
	}
	return nil
}

// abort simply drops the session; allocated mutable pages become
// unreachable garbage until the next rebase+compaction cycle.
func (tx *txSession) abort() {
	tx.closed = true
}
