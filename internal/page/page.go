package page

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"github.com/hupe1980/rumgo/internal/posting"
	"github.com/hupe1980/rumgo/model"
)

const (
	// InvalidID is the null page reference.
	InvalidID uint32 = 0xFFFFFFFF
	// MetaID is the meta page.
	MetaID uint32 = 0
	// EntryRootID is the root of the entry tree.
	EntryRootID uint32 = 1

	// HeaderSize is the size of the common page header.
	HeaderSize = 36

	// Version tags the on-disk format.
	Version uint32 = 0xC0DE0002

	DefaultSize = 8192
	MinSize     = 512
	MaxSize     = 32768
)

var (
	// ErrCorrupt reports a malformed page or a checksum mismatch.
	ErrCorrupt = errors.New("page: corrupt")
	// ErrOverflow reports a page whose content exceeds the page size.
	ErrOverflow = errors.New("page: content exceeds page size")
	// ErrZero reports a never-written page.
	ErrZero = errors.New("page: zero page")
)

// Flags describe the page kind and its structural state.
type Flags uint16

const (
	FlagData            Flags = 1
	FlagLeaf            Flags = 2
	FlagDeleted         Flags = 4
	FlagMeta            Flags = 8
	FlagDeadRows        Flags = 16
	FlagFree            Flags = 32
	FlagHalfDead        Flags = 64
	FlagIncompleteSplit Flags = 128
)

// Bound is the inclusive upper bound of a page or downlink. Entry pages use
// Key and posting pages use Loc. Inf marks the rightmost page of a level.
type Bound struct {
	Key model.Key
	Loc model.Locator
	Inf bool
}

// KeyBound returns a bound at k.
func KeyBound(k model.Key) Bound { return Bound{Key: k} }

// LocBound returns a bound at l.
func LocBound(l model.Locator) Bound { return Bound{Loc: l} }

// InfBound is the bound of the rightmost page of a level.
var InfBound = Bound{Inf: true, Loc: model.MaxLocator}

// Entry is one entry tree leaf tuple. Root != InvalidID means the postings
// live in a posting tree; otherwise Data holds NItems encoded items.
type Entry struct {
	Key    model.Key
	Root   uint32
	NItems int
	Data   []byte
}

// HasTree reports whether the postings live in a posting tree.
func (e *Entry) HasTree() bool { return e.Root != InvalidID }

// Downlink points from an internal page to a child covering keys up to High.
type Downlink struct {
	High  Bound
	Child uint32
}

// Meta holds the index-wide counters of page 0.
type Meta struct {
	Version      uint32
	AddInfo      bool
	Complete     bool
	TotalPages   uint32
	EntryPages   uint32
	DataPages    uint32
	Entries      uint64
	PostingTrees uint32
	Free         []uint32
}

// Page is the decoded content of one page.
type Page struct {
	ID        uint32
	Flags     Flags
	CycleID   uint16
	Left      uint32
	Right     uint32
	Level     uint16
	DeleteXID uint64
	LSN       uint64

	High Bound

	Entries   []Entry
	Downlinks []Downlink

	NItems int
	Data   []byte
	Index  []posting.Landmark

	Meta *Meta
}

// New returns an empty page with the given flags, unlinked and unbounded.
func New(id uint32, flags Flags, level uint16) *Page {
	return &Page{ID: id, Flags: flags, Level: level, Left: InvalidID, Right: InvalidID, High: InfBound}
}

// NewMeta returns an initialized meta page.
func NewMeta(addInfo bool) *Page {
	return &Page{
		ID: MetaID, Flags: FlagMeta, Left: InvalidID, Right: InvalidID,
		Meta: &Meta{Version: Version, AddInfo: addInfo},
	}
}

func (p *Page) Has(f Flags) bool { return p.Flags&f != 0 }
func (p *Page) Set(f Flags)      { p.Flags |= f }
func (p *Page) Clear(f Flags)    { p.Flags &^= f }

func (p *Page) IsLeaf() bool         { return p.Has(FlagLeaf) }
func (p *Page) IsData() bool         { return p.Has(FlagData) }
func (p *Page) IsMeta() bool         { return p.Has(FlagMeta) }
func (p *Page) IsDeleted() bool      { return p.Has(FlagDeleted) }
func (p *Page) IsHalfDead() bool     { return p.Has(FlagHalfDead) }
func (p *Page) IsFree() bool         { return p.Has(FlagFree) }
func (p *Page) IsIncomplete() bool   { return p.Has(FlagIncompleteSplit) }
func (p *Page) IsLeftmost() bool     { return p.Left == InvalidID }
func (p *Page) IsRightmost() bool    { return p.Right == InvalidID }
func (p *Page) IsDeadOrDying() bool  { return p.Has(FlagDeleted | FlagHalfDead | FlagFree) }

// Count returns the number of tuples or items on the page.
func (p *Page) Count() int {
	switch {
	case p.IsMeta():
		return 0
	case !p.IsLeaf():
		return len(p.Downlinks)
	case p.IsData():
		return p.NItems
	default:
		return len(p.Entries)
	}
}

// Clone returns a copy whose slices can be modified without touching p.
func (p *Page) Clone() *Page {
	c := *p
	c.Entries = slices.Clone(p.Entries)
	c.Downlinks = slices.Clone(p.Downlinks)
	c.Index = slices.Clone(p.Index)
	if p.Meta != nil {
		m := *p.Meta
		m.Free = slices.Clone(p.Meta.Free)
		c.Meta = &m
	}
	return &c
}

// Items decodes the items of a posting leaf.
func (p *Page) Items(withAddInfo, strict bool) ([]model.Item, error) {
	items, err := posting.Decode(p.Data, p.NItems, withAddInfo, strict)
	if err != nil {
		return nil, &CorruptError{ID: p.ID, Reason: err.Error()}
	}
	return items, nil
}

// SetItems encodes items into a posting leaf and rebuilds its jump index.
// It returns how many items fit into budget.
func (p *Page) SetItems(items []model.Item, budget int, withAddInfo bool) int {
	data, n := posting.Encode(nil, items, budget, withAddInfo)
	p.Data = data
	p.NItems = n
	p.Index, _ = posting.BuildIndex(data, n, withAddInfo)
	return n
}

// Size returns the serialized size of p.
func (p *Page) Size() int {
	return len(p.appendBody(nil))
}

// Fits reports whether p serializes into pageSize bytes.
func (p *Page) Fits(pageSize int) bool {
	return HeaderSize+p.Size() <= pageSize
}

// Encode serializes p into a pageSize image with a checksum.
func Encode(p *Page, pageSize int) ([]byte, error) {
	buf := make([]byte, HeaderSize, pageSize)
	binary.LittleEndian.PutUint16(buf[4:], uint16(p.Flags))
	binary.LittleEndian.PutUint16(buf[6:], p.CycleID)
	binary.LittleEndian.PutUint32(buf[8:], p.Left)
	binary.LittleEndian.PutUint32(buf[12:], p.Right)
	binary.LittleEndian.PutUint16(buf[16:], p.Level)
	binary.LittleEndian.PutUint16(buf[18:], uint16(p.Count()))
	binary.LittleEndian.PutUint64(buf[20:], p.DeleteXID)
	binary.LittleEndian.PutUint64(buf[28:], p.LSN)

	buf = p.appendBody(buf)
	if len(buf) > pageSize {
		return nil, fmt.Errorf("%w: page %d needs %d bytes", ErrOverflow, p.ID, len(buf))
	}
	buf = buf[:pageSize]
	binary.LittleEndian.PutUint32(buf[0:], checksum(buf))
	return buf, nil
}

func (p *Page) appendBody(buf []byte) []byte {
	if p.IsMeta() {
		return appendMeta(buf, p.Meta)
	}
	if p.IsFree() {
		return buf
	}

	data := p.IsData()
	buf = appendBound(buf, p.High, data)
	switch {
	case !p.IsLeaf():
		for _, d := range p.Downlinks {
			buf = appendBound(buf, d.High, data)
			buf = binary.LittleEndian.AppendUint32(buf, d.Child)
		}
	case data:
		buf = binary.AppendUvarint(buf, uint64(p.NItems))
		buf = append(buf, byte(len(p.Index)))
		for _, lm := range p.Index {
			buf = appendLocator(buf, lm.Prev)
			buf = binary.LittleEndian.AppendUint16(buf, lm.Offset)
			buf = binary.LittleEndian.AppendUint16(buf, lm.Index)
		}
		buf = binary.AppendUvarint(buf, uint64(len(p.Data)))
		buf = append(buf, p.Data...)
	default:
		for i := range p.Entries {
			buf = appendEntry(buf, &p.Entries[i])
		}
	}
	return buf
}

// CorruptError reports a corrupt page. It matches ErrCorrupt.
type CorruptError struct {
	ID     uint32
	Reason string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("%v: page %d: %s", ErrCorrupt, e.ID, e.Reason)
}

// Is reports whether target is ErrCorrupt.
func (e *CorruptError) Is(target error) bool { return target == ErrCorrupt }

// Decode parses a page image and verifies its checksum.
func Decode(id uint32, buf []byte) (*Page, error) {
	if len(buf) < HeaderSize {
		return nil, &CorruptError{ID: id, Reason: "short image"}
	}
	if isZero(buf) {
		return nil, ErrZero
	}
	if binary.LittleEndian.Uint32(buf[0:]) != checksum(buf) {
		return nil, &CorruptError{ID: id, Reason: "checksum mismatch"}
	}

	p := &Page{
		ID:        id,
		Flags:     Flags(binary.LittleEndian.Uint16(buf[4:])),
		CycleID:   binary.LittleEndian.Uint16(buf[6:]),
		Left:      binary.LittleEndian.Uint32(buf[8:]),
		Right:     binary.LittleEndian.Uint32(buf[12:]),
		Level:     binary.LittleEndian.Uint16(buf[16:]),
		DeleteXID: binary.LittleEndian.Uint64(buf[20:]),
		LSN:       binary.LittleEndian.Uint64(buf[28:]),
	}
	count := int(binary.LittleEndian.Uint16(buf[18:]))

	r := &reader{buf: buf, off: HeaderSize, id: id}
	switch {
	case p.IsMeta():
		p.Meta = r.meta()
	case p.IsFree():
	default:
		data := p.IsData()
		p.High = r.bound(data)
		switch {
		case !p.IsLeaf():
			p.Downlinks = make([]Downlink, 0, count)
			for i := 0; i < count && r.err == nil; i++ {
				high := r.bound(data)
				p.Downlinks = append(p.Downlinks, Downlink{High: high, Child: r.u32()})
			}
		case data:
			p.NItems = int(r.uvarint())
			n := int(r.u8())
			if n > posting.MaxLandmarks {
				r.fail("jump index too large")
			}
			for i := 0; i < n && r.err == nil; i++ {
				prev := r.locator()
				off := r.u16()
				p.Index = append(p.Index, posting.Landmark{Prev: prev, Offset: off, Index: r.u16()})
			}
			p.Data = bytes.Clone(r.raw(int(r.uvarint())))
		default:
			p.Entries = make([]Entry, 0, count)
			for i := 0; i < count && r.err == nil; i++ {
				p.Entries = append(p.Entries, r.entry())
			}
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return p, nil
}

func checksum(buf []byte) uint32 {
	return crc32c(buf[4:])
}

func isZero(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}
