package ptnk

// page is a thin view over one PageSize-byte slab, whichever page file
// or mmap region it came from. Mutable pages point directly into the
// active partition's writable mmap; a page handle carries no copy of
// the data. Mutability is reported out of band by readPage rather
// than carried in the handle itself.
//
// Header layout, little-endian:
//
//	offset  size  field
//	0       8     id
//	8       8     idOvrTgt
//	16      8     txid
//	24      1     type
//	25      1     flags
type page struct {
	buf []byte // exactly PageSize bytes
}

func (p page) id() pgid         { return pgid(getUint64LE(p.buf[0:8])) }
func (p page) idOvrTgt() pgid   { return pgid(getUint64LE(p.buf[8:16])) }
func (p page) txid() ver        { return ver(getUint64LE(p.buf[16:24])) }
func (p page) typ() pageType    { return pageType(p.buf[24]) }
func (p page) flags() pageFlags { return pageFlags(p.buf[25]) }

func (p page) setID(id pgid)        { putUint64LE(p.buf[0:8], uint64(id)) }
func (p page) setOvrTgt(id pgid)    { putUint64LE(p.buf[8:16], uint64(id)) }
func (p page) setTxid(v ver)        { putUint64LE(p.buf[16:24], uint64(v)) }
func (p page) setType(t pageType)   { p.buf[24] = byte(t) }
func (p page) setFlags(f pageFlags) { p.buf[25] = byte(f) }
func (p page) addFlags(f pageFlags) { p.buf[25] |= byte(f) }

func (p page) isValid() bool    { return p.flags()&flagValid != 0 && p.txid() != ver(^uint64(0)) }
func (p page) isEndTx() bool    { return p.flags()&flagEndTx != 0 }
func (p page) isTxRebase() bool { return p.flags()&flagTxRebase != 0 }

// body returns the type-specific payload region, excluding the header
// and the trailing streak tail.
func (p page) body() []byte {
	return p.buf[PageHeaderSize : PageSize-StreakTailSize]
}

// streakTail returns the fixed 40-byte region reserved at the page's
// end for the per-commit streak channel.
func (p page) streakTail() []byte {
	return p.buf[PageSize-StreakTailSize:]
}

// initPage zeroes and stamps a freshly allocated page's header.
func initPage(buf []byte, id pgid, typ pageType) page {
	for i := range buf {
		buf[i] = 0
	}
	p := page{buf: buf}
	p.setID(id)
	p.setOvrTgt(PgidInvalid)
	p.setType(typ)
	return p
}

// cloneInto copies a page's full content (header + body +
// streak tail) into dst, then rewrites dst's header to mark it as an
// override of src.
func cloneInto(dst, src page, newID pgid) page {
	copy(dst.buf, src.buf)
	dst.setID(newID)
	dst.setOvrTgt(src.id())
	dst.setFlags(0)
	return dst
}
