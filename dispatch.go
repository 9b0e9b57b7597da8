package ptnk

import "fmt"

// linkUpdater resolves an old child pgid to its current override
// target, folding the override chain. Rebase
// supplies one backed by the override index; refresh supplies one
// mapping re-overridden children to their new pgids.
type linkUpdater func(old pgid) pgid

// updateLinks rewrites every outgoing pointer on p through update,
// mutating p's body in place. p must already be a mutable page (the
// caller is responsible for calling modifyPage beforehand).
func updateLinks(p page, update linkUpdater) {
	body := p.body()
	switch p.typ() {
	case ptNode:
		nodeSetPtrNeg1(body, update(nodePtrNeg1(body)))
		n := nodeNumKeys(body)
		for i := 0; i < n; i++ {
			off := nodeTableEntry(body, i)
			ptr, key, keyNull, _ := nodeDecodeEntry(body, off)
			newPtr := update(ptr)
			if newPtr != ptr {
				putUint64LE(body[off:], uint64(newPtr))
			}
			_ = key
			_ = keyNull
		}
	case ptLeaf:
		// Leaf pages carry values, never page pointers; nothing to do.
	case ptDupKeyLeaf:
		// Same: DupKeyLeaf values are inline bytes.
	case ptDupKeyNode:
		nPtr := dupNodeNPtr(body)
		for i := 0; i < nPtr; i++ {
			ptr, free := dupNodeEntry(body, i)
			newPtr := update(ptr)
			if newPtr != ptr {
				dupNodeSetEntry(body, i, newPtr, free)
			}
		}
	case ptOverview:
		for _, e := range overviewEntries(body) {
			newRoot := update(e.rootPgid)
			if newRoot != e.rootPgid {
				putUint64LE(body[e.off+2+len(e.id):], uint64(newRoot))
			}
		}
	case ptOverflowStreak, ptDebug:
		// No outgoing pointers.
	}
}

// dump renders a one-line human summary of p, used by diagnostics
// and tests.
func dump(p page) string {
	return fmt.Sprintf("%s id=%s ovrTgt=%s txid=%d flags=%02x",
		p.typ(), p.id(), p.idOvrTgt(), p.txid(), p.flags())
}

// dumpGraph appends p's outgoing pgids to out, for building a
// reachability graph (used by refreshAllLeafPages and compaction
// analysis, and by tests asserting tree shape).
func dumpGraph(p page, out []pgid) []pgid {
	body := p.body()
	switch p.typ() {
	case ptNode:
		out = append(out, nodePtrNeg1(body))
		for i := 0; i < nodeNumKeys(body); i++ {
			ptr, _, _, _ := nodeDecodeEntry(body, nodeTableEntry(body, i))
			out = append(out, ptr)
		}
	case ptDupKeyNode:
		for i := 0; i < dupNodeNPtr(body); i++ {
			ptr, _ := dupNodeEntry(body, i)
			out = append(out, ptr)
		}
	case ptOverview:
		for _, e := range overviewEntries(body) {
			out = append(out, e.rootPgid)
		}
	}
	return out
}

// isLeafLike reports whether p is a page kind that refreshAllLeafPages
// should consider a visitable leaf; a DupKeyNode is handled like a
// Node, descending to its DupKeyLeaf children.
func isLeafLike(t pageType) bool {
	return t == ptLeaf || t == ptDupKeyLeaf
}

func isInternalLike(t pageType) bool {
	return t == ptNode || t == ptDupKeyNode
}
