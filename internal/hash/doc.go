// Package hash provides the CRC32-Castagnoli checksums that protect page
// images, redo records and spill runs.
//
// Page images store the checksum of everything after the checksum field:
//
//	sum := hash.CRC32C(image[4:])
//
// Records that are written in pieces use the streaming form:
//
//	h := hash.NewCRC32C()
//	h.Write(header)
//	h.Write(payload)
//	sum := h.Sum32()
package hash
