// Package posting implements the compressed representation of sorted
// locator lists.
//
// The first item is stored verbatim (container uint32, slot uint16, little
// endian). Every following item is the uvarint of the gap between the
// numeric forms of consecutive locators. When attached values are stored
// the gap is shifted left by one and its low bit says whether a zig-zag
// varint value follows:
//
//	first: [container 4][slot 2] (+ [present 1][value varint?])
//	next:  uvarint(gap) | uvarint(gap<<1 | present) [value varint?]
//
// A gap never exceeds 48 bits, so a gap needs at most 7 bytes.
//
// Encoding takes a byte budget and reports how many items it consumed, so
// a long list can be chained across pages. A jump index of up to
// MaxLandmarks (previous locator, offset, ordinal) triples lets a reader
// seek into an encoded run without decoding its prefix.
package posting
