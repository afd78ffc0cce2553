// Package protocol owns the dG request/response wire contract.
//
// Ownership boundary:
// - request framing and parsing (text in)
// - response encoding (fixed 4-byte float32 out)
// - protocol sentinel errors
//
// Framing is mandatory. The parser drops the first two and the last
// character of every request without looking at them, so a peer must wrap
// its body as b'<sequence>[,<temperature>]' (EncodeRequest does this).
// Unframed peers are not supported and are misparsed rather than
// rejected: "ATGC,37.5" reads as sequence "GC" at 37 degrees, and "ATGC"
// as sequence "G".
package protocol
