package ptnk

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/nyaxt/ptnk-sub000/internal/bloom"
)

// tpioNHash is the number of hash buckets in every override index
// (local and active).
const tpioNHash = 64

// tagTxVerLocal marks an OvrEntry as belonging to a not-yet-committed
// LocalOvr rather than the process-wide chain.
const tagTxVerLocal ver = 0

func pgidHash(id pgid) int { return int(uint64(id) % tpioNHash) }

// ovrEntry is one override-chain node: pgidOrig now resolves to
// pgidOvr for any reader whose verRead >= version. prev links toward
// older entries in the same bucket. Entries are never freed while
// their enclosing activeOvr lives; a rebase drops the whole index at
// once.
type ovrEntry struct {
	pgidOrig pgid
	pgidOvr  pgid
	version  ver
	prev     atomic.Pointer[ovrEntry]
}

// ovrStatus reports where searchOvr found a match.
type ovrStatus int

const (
	ovrNone ovrStatus = iota
	ovrGlobal
	ovrLocal
)

// tx decision states, published after the post-install conflict check.
const (
	txUndecided int32 = iota
	txCommitted
	txAborted
)

// localOvr accumulates one transaction's page remappings before
// commit. The accumulating side is
// single-owner; once installed at the chain tip its buckets are read
// (and, on merge, spliced) by other committers.
type localOvr struct {
	hash [tpioNHash]*ovrEntry
	bf   bloom.Filter

	pgidStartPageOrig pgid
	pgidStartPage     pgid

	verRead  ver
	verWrite ver

	prev         atomic.Pointer[localOvr]
	status       atomic.Int32
	mergeOngoing atomic.Bool
	merged       atomic.Bool

	terminator bool
}

func newLocalOvr(verRead ver, pgidStartPage pgid) *localOvr {
	return &localOvr{verRead: verRead, pgidStartPage: pgidStartPage, pgidStartPageOrig: pgidStartPage}
}

func (lo *localOvr) aborted() bool { return lo.status.Load() == txAborted }

// searchOvr resolves pgid against this LocalOvr's own entries only.
func (lo *localOvr) searchOvr(id pgid) (pgid, ovrStatus) {
	for e := lo.hash[pgidHash(id)]; e != nil; e = e.prev.Load() {
		if e.version != tagTxVerLocal && e.version > lo.verRead {
			continue
		}
		if e.pgidOrig == id {
			if e.version == tagTxVerLocal {
				return e.pgidOvr, ovrLocal
			}
			return e.pgidOvr, ovrGlobal
		}
	}
	return id, ovrNone
}

// addOvr records a new local override (pgidOrig → pgidOvr).
func (lo *localOvr) addOvr(pgidOrig, pgidOvr pgid) {
	h := pgidHash(pgidOrig)
	e := &ovrEntry{pgidOrig: pgidOrig, pgidOvr: pgidOvr, version: tagTxVerLocal}
	e.prev.Store(lo.hash[h])
	lo.hash[h] = e
	lo.bf.Add(uint64(pgidOrig))
}

func (lo *localOvr) hasOrig(id pgid) bool {
	if !lo.bf.MayContain(uint64(id)) {
		return false
	}
	for e := lo.hash[pgidHash(id)]; e != nil; e = e.prev.Load() {
		if e.pgidOrig == id {
			return true
		}
	}
	return false
}

// checkConflict reports whether lo's local overrides touch any pgid
// committed also overrode, using the Bloom filters as a fast pre-check
// before the exact bucket scan.
func (lo *localOvr) checkConflict(committed *localOvr) bool {
	if !lo.bf.MayOverlap(&committed.bf) {
		return false
	}
	for h := 0; h < tpioNHash; h++ {
		for e := lo.hash[h]; e != nil; e = e.prev.Load() {
			if committed.hasOrig(e.pgidOrig) {
				return true
			}
		}
	}
	return false
}

// filterConflict drops lo's own entries that collide with committed,
// in place, for REFRESH-mode commits: a
// refresh never blocks or aborts concurrent writers, it cedes the
// contested pages instead.
func (lo *localOvr) filterConflict(committed *localOvr) {
	for h := 0; h < tpioNHash; h++ {
		var kept *ovrEntry
		for e := lo.hash[h]; e != nil; e = e.prev.Load() {
			if committed.hasOrig(e.pgidOrig) {
				continue
			}
			ne := &ovrEntry{pgidOrig: e.pgidOrig, pgidOvr: e.pgidOvr, version: e.version}
			ne.prev.Store(kept)
			kept = ne
		}
		// rebuilding reversed the bucket twice, restoring original order
		lo.hash[h] = reverseBucket(kept)
	}
}

func reverseBucket(head *ovrEntry) *ovrEntry {
	var out *ovrEntry
	for e := head; e != nil; {
		next := e.prev.Load()
		e.prev.Store(out)
		out = e
		e = next
	}
	return out
}

// commitMode selects tryCommit's conflict-handling behavior.
type commitMode int

const (
	commitNormal commitMode = iota
	commitRefresh
	commitReplay
)

// activeOvr is the process-wide, lock-free override chain.
// newTx/tryCommit are safe for concurrent use.
type activeOvr struct {
	// hash holds the folded-in entries of merged txs. Buckets are
	// published with a single atomic head store per bucket.
	hash [tpioNHash]atomic.Pointer[ovrEntry]

	verBase       ver
	pgidStartPage atomic.Pointer[pgid]

	tip     atomic.Pointer[localOvr] // most recently installed tx
	mergeMu sync.Mutex               // serializes bucket splicing across txs
}

func newActiveOvr(verBase ver, pgidStartPage pgid) *activeOvr {
	ao := &activeOvr{verBase: verBase}
	ao.pgidStartPage.Store(&pgidStartPage)
	return ao
}

// newTx starts a new LocalOvr reading at the newest stable committed
// version: the chain is walked past aborted txs, and a committed but
// not-yet-merged tip is waited out so the snapshot can never observe
// a half-merged bucket state.
func (ao *activeOvr) newTx() *localOvr {
	tip := ao.tip.Load()
	for tip != nil && !tip.terminator {
		st := tip.status.Load()
		if st == txAborted {
			tip = tip.prev.Load()
			continue
		}
		if st == txUndecided {
			runtime.Gosched()
			continue
		}
		for !tip.merged.Load() {
			runtime.Gosched()
		}
		break
	}
	verRead := ao.verBase
	if tip != nil {
		verRead = tip.verWrite
	}
	return newLocalOvr(verRead, *ao.pgidStartPage.Load())
}

// lastCommitted returns the newest committed tx on the chain, skipping
// the terminator and aborted or undecided entries; nil if none.
func (ao *activeOvr) lastCommitted() *localOvr {
	p := ao.tip.Load()
	for p != nil && (p.terminator || p.status.Load() != txCommitted) {
		p = p.prev.Load()
	}
	return p
}

// tryCommit attempts to install lo at the chain tip. On success
// lo.verWrite is set and its entries
// are merged into the global hash. A terminated chain is reported
// before lo is installed; on a conflict the stray tip entry is left
// installed, marked aborted, and skipped by everyone downstream.
func (ao *activeOvr) tryCommit(lo *localOvr, mode commitMode, replayVer ver) error {
	for {
		prevTip := ao.tip.Load()
		if prevTip != nil && prevTip.terminator {
			return WrapError(KindTxConflict, "override chain terminated", nil)
		}

		verWrite := ao.verBase + 1
		if prevTip != nil {
			verWrite = prevTip.verWrite + 1
		}
		if mode == commitReplay {
			verWrite = replayVer
		}
		lo.prev.Store(prevTip)
		lo.verWrite = verWrite

		if !ao.tip.CompareAndSwap(prevTip, lo) {
			continue // lost the race, retry against the new tip
		}

		if mode != commitReplay {
			if err := ao.checkConflicts(lo, prevTip, mode); err != nil {
				lo.status.Store(txAborted)
				return err
			}
		}
		lo.status.Store(txCommitted)

		ao.mergeUpto(lo)
		return nil
	}
}

// checkConflicts walks backward from prevTip over every tx this lo's
// snapshot did not already observe, aborting (or filtering lo's own
// entries, in REFRESH mode) on overlap.
func (ao *activeOvr) checkConflicts(lo *localOvr, prevTip *localOvr, mode commitMode) error {
	for other := prevTip; other != nil && other.verWrite > lo.verRead; other = other.prev.Load() {
		if other.terminator {
			return WrapError(KindTxConflict, "override chain terminated", nil)
		}
		// An installed-but-undecided predecessor must resolve before
		// overlap against it can be judged.
		for other.status.Load() == txUndecided {
			runtime.Gosched()
		}
		if other.aborted() {
			continue
		}
		if !lo.checkConflict(other) {
			continue
		}
		if mode == commitRefresh {
			lo.filterConflict(other)
			continue
		}
		return ErrTxConflict
	}
	return nil
}

// mergeUpto merges every not-yet-merged committed predecessor of lo,
// oldest first, then lo itself. Merging oldest
// first keeps each global bucket ordered newest-first by verWrite,
// which searchOvr's skip-then-match walk relies on.
func (ao *activeOvr) mergeUpto(lo *localOvr) {
	var pending []*localOvr
	for p := lo; p != nil && !p.terminator && !p.merged.Load(); p = p.prev.Load() {
		pending = append(pending, p)
	}
	for i := len(pending) - 1; i >= 0; i-- {
		p := pending[i]
		for p.status.Load() == txUndecided {
			runtime.Gosched()
		}
		if p.aborted() {
			continue
		}
		ao.merge(p)
	}
}

// merge folds lo's per-bucket entries into the global hash, stamping
// their version to verWrite, then marks lo merged.
// Concurrent merges are serialized per-chain by mergeMu; the per-tx
// mergeOngoing CAS additionally makes merge idempotent so mergeUpto
// racers don't double-splice.
func (ao *activeOvr) merge(lo *localOvr) {
	if !lo.mergeOngoing.CompareAndSwap(false, true) {
		for !lo.merged.Load() {
			runtime.Gosched()
		}
		return
	}
	ao.mergeMu.Lock()
	for h := 0; h < tpioNHash; h++ {
		head := lo.hash[h]
		if head == nil {
			continue
		}
		// stamp every local entry to verWrite, then splice the run onto
		// the global bucket: the oldest local entry's prev is pointed at
		// the current global head before the new head is published.
		tail := head
		for e := head; e != nil; e = e.prev.Load() {
			e.version = lo.verWrite
			tail = e
		}
		tail.prev.Store(ao.hash[h].Load())
		ao.hash[h].Store(head)
	}
	if lo.pgidStartPage != lo.pgidStartPageOrig {
		p := lo.pgidStartPage
		ao.pgidStartPage.Store(&p)
	}
	ao.mergeMu.Unlock()
	lo.merged.Store(true)
}

// searchOvr resolves pgid against the global chain as of verRead,
// used by a tx session to fall through once its own LocalOvr misses.
func (ao *activeOvr) searchOvr(id pgid, verRead ver) (pgid, ovrStatus) {
	for e := ao.hash[pgidHash(id)].Load(); e != nil; e = e.prev.Load() {
		if e.version > verRead {
			continue
		}
		if e.pgidOrig == id {
			return e.pgidOvr, ovrGlobal
		}
	}
	return id, ovrNone
}

// countOvr reports the number of live entries on the global chain,
// used to decide when an automatic rebase is due.
func (ao *activeOvr) countOvr() int {
	n := 0
	for h := 0; h < tpioNHash; h++ {
		for e := ao.hash[h].Load(); e != nil; e = e.prev.Load() {
			n++
		}
	}
	return n
}

// terminate installs a sentinel at the chain tip so that subsequent
// commits fail; used to freeze the chain during rebase. In-flight
// predecessors are settled (decided and
// merged) before terminate returns, so the frozen chain is complete.
// Returns the newest committed tx, or nil if nothing ever committed.
func (ao *activeOvr) terminate() *localOvr {
	sentinel := &localOvr{terminator: true}
	sentinel.status.Store(txCommitted)
	for {
		prevTip := ao.tip.Load()
		if prevTip != nil && prevTip.terminator {
			return ao.settleChain(prevTip.prev.Load())
		}
		sentinel.prev.Store(prevTip)
		sentinel.verRead = ao.verBase
		sentinel.verWrite = sentinel.verRead
		if prevTip != nil {
			sentinel.verWrite = prevTip.verWrite
		}
		if ao.tip.CompareAndSwap(prevTip, sentinel) {
			return ao.settleChain(prevTip)
		}
	}
}

func (ao *activeOvr) settleChain(from *localOvr) *localOvr {
	for p := from; p != nil; p = p.prev.Load() {
		for p.status.Load() == txUndecided {
			runtime.Gosched()
		}
		if !p.terminator && !p.aborted() && !p.merged.Load() {
			ao.merge(p)
		}
	}
	for from != nil && (from.terminator || from.aborted()) {
		from = from.prev.Load()
	}
	return from
}
