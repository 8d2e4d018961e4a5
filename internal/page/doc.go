// Package page defines the fixed-size page layout shared by the entry tree,
// the posting trees and the meta page.
//
// Every page starts with a header:
//
//	[checksum 4][flags 2][cycle 2][left 4][right 4][level 2][count 2][deleteXid 8][lsn 8]
//
// followed by a kind-specific body. Page 0 is the meta page and page 1 the
// entry tree root. Pages are decoded into Page values; an installed Page is
// never modified in place, writers work on Clone copies.
package page
