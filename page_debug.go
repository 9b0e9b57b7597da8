package ptnk

// Debug page body layout: a single byte, used by tests to
// exercise the page dispatch and page-file plumbing without pulling
// in B+-tree semantics.
func debugByte(body []byte) byte       { return body[0] }
func debugSetByte(body []byte, b byte) { body[0] = b }
