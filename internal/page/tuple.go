package page

import (
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/rumgo/internal/hash"
	"github.com/hupe1980/rumgo/internal/posting"
	"github.com/hupe1980/rumgo/model"
)

func crc32c(b []byte) uint32 { return hash.CRC32C(b) }

// fixed meta body without the free list
const metaFixedSize = 4 + 1 + 4*4 + 8 + 4

// KeySize returns the serialized size of a key.
func KeySize(k model.Key) int {
	return 2 + 1 + uvarintLen(uint64(len(k.Value))) + len(k.Value)
}

// EntrySize returns the serialized size of an entry tuple.
func EntrySize(e *Entry) int {
	return KeySize(e.Key) + 4 + uvarintLen(uint64(e.NItems)) + uvarintLen(uint64(len(e.Data))) + len(e.Data)
}

// BoundSize returns the serialized size of a bound.
func BoundSize(b Bound, data bool) int {
	if data {
		return 1 + 6
	}
	if b.Inf {
		return 1
	}
	return 1 + KeySize(b.Key)
}

// DownlinkSize returns the serialized size of a downlink.
func DownlinkSize(d Downlink, data bool) int {
	return BoundSize(d.High, data) + 4
}

// MaxKeySize is the largest key an entry may carry.
func MaxKeySize(pageSize int) int {
	return (pageSize - HeaderSize) / 8
}

// MaxTupleSize bounds entry tuples and downlinks so that any three of them
// fit on one page next to the largest high key.
func MaxTupleSize(pageSize int) int {
	maxBound := 1 + 2 + 1 + 3 + MaxKeySize(pageSize)
	return (pageSize - HeaderSize - maxBound) / 3
}

// EntryCapacity is the body space of an entry page with high bound b.
func EntryCapacity(pageSize int, b Bound) int {
	return pageSize - HeaderSize - BoundSize(b, false)
}

// InlineCeiling is the largest inline posting list for key.
func InlineCeiling(pageSize int, key model.Key) int {
	overhead := KeySize(key) + 4 + 3 + 3
	return MaxTupleSize(pageSize) - overhead
}

// PostingCapacity is the data budget of a posting leaf.
func PostingCapacity(pageSize int) int {
	return pageSize - HeaderSize - BoundSize(InfBound, true) - 3 - 1 - posting.MaxLandmarks*posting.LandmarkSize - 3
}

// MaxFree is the free list capacity of the meta page.
func MaxFree(pageSize int) int {
	return (pageSize - HeaderSize - metaFixedSize) / 4
}

func uvarintLen(v uint64) int {
	var b [binary.MaxVarintLen64]byte
	return binary.PutUvarint(b[:], v)
}

func appendKey(buf []byte, k model.Key) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, k.Attr)
	buf = append(buf, byte(k.Category))
	buf = binary.AppendUvarint(buf, uint64(len(k.Value)))
	return append(buf, k.Value...)
}

func appendLocator(buf []byte, l model.Locator) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, l.Container)
	return binary.LittleEndian.AppendUint16(buf, l.Slot)
}

func appendBound(buf []byte, b Bound, data bool) []byte {
	if b.Inf {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	if data {
		return appendLocator(buf, b.Loc)
	}
	if b.Inf {
		return buf
	}
	return appendKey(buf, b.Key)
}

func appendEntry(buf []byte, e *Entry) []byte {
	buf = appendKey(buf, e.Key)
	buf = binary.LittleEndian.AppendUint32(buf, e.Root)
	buf = binary.AppendUvarint(buf, uint64(e.NItems))
	buf = binary.AppendUvarint(buf, uint64(len(e.Data)))
	return append(buf, e.Data...)
}

func appendMeta(buf []byte, m *Meta) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, m.Version)
	var flags byte
	if m.AddInfo {
		flags |= 1
	}
	if m.Complete {
		flags |= 2
	}
	buf = append(buf, flags)
	buf = binary.LittleEndian.AppendUint32(buf, m.TotalPages)
	buf = binary.LittleEndian.AppendUint32(buf, m.EntryPages)
	buf = binary.LittleEndian.AppendUint32(buf, m.DataPages)
	buf = binary.LittleEndian.AppendUint64(buf, m.Entries)
	buf = binary.LittleEndian.AppendUint32(buf, m.PostingTrees)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(m.Free)))
	for _, id := range m.Free {
		buf = binary.LittleEndian.AppendUint32(buf, id)
	}
	return buf
}

type reader struct {
	buf []byte
	off int
	id  uint32
	err error
}

func (r *reader) fail(msg string) {
	if r.err == nil {
		r.err = &CorruptError{ID: r.id, Reason: fmt.Sprintf("%s at offset %d", msg, r.off)}
	}
}

func (r *reader) raw(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.fail("truncated")
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() byte {
	b := r.raw(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.raw(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.raw(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.raw(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf[r.off:])
	if n <= 0 {
		r.fail("bad varint")
		return 0
	}
	r.off += n
	return v
}

func (r *reader) locator() model.Locator {
	c := r.u32()
	return model.Locator{Container: c, Slot: r.u16()}
}

func (r *reader) key() model.Key {
	attr := r.u16()
	cat := model.Category(int8(r.u8()))
	val := r.raw(int(r.uvarint()))
	k := model.Key{Attr: attr, Category: cat}
	if len(val) > 0 {
		k.Value = append([]byte(nil), val...)
	}
	return k
}

func (r *reader) bound(data bool) Bound {
	inf := r.u8() == 1
	if data {
		b := Bound{Loc: r.locator(), Inf: inf}
		return b
	}
	if inf {
		return InfBound
	}
	return Bound{Key: r.key()}
}

func (r *reader) entry() Entry {
	e := Entry{Key: r.key(), Root: r.u32(), NItems: int(r.uvarint())}
	if data := r.raw(int(r.uvarint())); len(data) > 0 {
		e.Data = append([]byte(nil), data...)
	}
	return e
}

func (r *reader) meta() *Meta {
	m := &Meta{Version: r.u32()}
	flags := r.u8()
	m.AddInfo = flags&1 != 0
	m.Complete = flags&2 != 0
	m.TotalPages = r.u32()
	m.EntryPages = r.u32()
	m.DataPages = r.u32()
	m.Entries = r.u64()
	m.PostingTrees = r.u32()
	n := int(r.u32())
	if n > len(r.buf)/4 {
		r.fail("free list too large")
		return m
	}
	for i := 0; i < n && r.err == nil; i++ {
		m.Free = append(m.Free, r.u32())
	}
	if r.err == nil && m.Version != Version {
		r.err = fmt.Errorf("%w: unsupported version %#x", ErrCorrupt, m.Version)
	}
	return m
}
