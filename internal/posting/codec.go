package posting

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hupe1980/rumgo/model"
)

// ErrCorrupt is returned for encoded data that cannot be decoded.
var ErrCorrupt = errors.New("posting: corrupt data")

const (
	// FirstSize is the size of the verbatim first locator.
	FirstSize = 6
	// MaxGapBytes bounds one encoded gap.
	MaxGapBytes = 7

	maxLocatorValue = 1<<48 - 1
)

// ItemSize returns the encoded size of it following prev.
// A zero prev (MinLocator) with first set encodes it verbatim.
func ItemSize(prev model.Locator, it model.Item, first, withAddInfo bool) int {
	var scratch [binary.MaxVarintLen64 * 2]byte
	return len(appendItem(scratch[:0], prev, it, first, withAddInfo))
}

func appendItem(dst []byte, prev model.Locator, it model.Item, first, withAddInfo bool) []byte {
	if first {
		dst = binary.LittleEndian.AppendUint32(dst, it.Locator.Container)
		dst = binary.LittleEndian.AppendUint16(dst, it.Locator.Slot)
		if withAddInfo {
			if it.AddInfo.Valid {
				dst = append(dst, 1)
				dst = binary.AppendVarint(dst, it.AddInfo.Value)
			} else {
				dst = append(dst, 0)
			}
		}
		return dst
	}

	gap := it.Locator.Uint64() - prev.Uint64()
	if !withAddInfo {
		return binary.AppendUvarint(dst, gap)
	}
	v := gap << 1
	if it.AddInfo.Valid {
		v |= 1
	}
	dst = binary.AppendUvarint(dst, v)
	if it.AddInfo.Valid {
		dst = binary.AppendVarint(dst, it.AddInfo.Value)
	}
	return dst
}

// Encode appends items to dst until len(dst) would exceed budget and
// returns the extended buffer and the number of items consumed. A budget
// <= 0 encodes everything. Items must be strictly increasing; Encode
// panics otherwise.
func Encode(dst []byte, items []model.Item, budget int, withAddInfo bool) ([]byte, int) {
	var prev model.Locator
	for i, it := range items {
		if i > 0 && !prev.Less(it.Locator) {
			panic(fmt.Sprintf("posting: locator %s at item %d does not follow %s", it.Locator, i, prev))
		}
		next := appendItem(dst, prev, it, i == 0, withAddInfo)
		if budget > 0 && len(next) > budget {
			return dst, i
		}
		dst = next
		prev = it.Locator
	}
	return dst, len(items)
}

// EncodedSize returns the size of the full encoding of items.
func EncodedSize(items []model.Item, withAddInfo bool) int {
	n := 0
	var prev model.Locator
	for i, it := range items {
		n += ItemSize(prev, it, i == 0, withAddInfo)
		prev = it.Locator
	}
	return n
}

// Decode decodes n items from data. strict turns invalid slots into
// ErrCorrupt; otherwise they are returned as read.
func Decode(data []byte, n int, withAddInfo, strict bool) ([]model.Item, error) {
	d := NewDecoder(data, n, withAddInfo, strict)
	out := make([]model.Item, 0, n)
	for {
		it, ok, err := d.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, it)
	}
}

// Decoder iterates an encoded run.
type Decoder struct {
	data        []byte
	off         int
	prev        model.Locator
	index       int
	n           int
	withAddInfo bool
	strict      bool
}

// NewDecoder returns a decoder over the n items encoded in data.
func NewDecoder(data []byte, n int, withAddInfo, strict bool) *Decoder {
	return &Decoder{data: data, n: n, withAddInfo: withAddInfo, strict: strict}
}

// Index returns the ordinal of the next item.
func (d *Decoder) Index() int { return d.index }

// Offset returns the byte offset of the next item.
func (d *Decoder) Offset() int { return d.off }

// Prev returns the last decoded locator.
func (d *Decoder) Prev() model.Locator { return d.prev }

// Remaining returns the number of undecoded items.
func (d *Decoder) Remaining() int { return d.n - d.index }

// Jump positions the decoder at a landmark.
func (d *Decoder) Jump(lm Landmark) {
	d.off = int(lm.Offset)
	d.prev = lm.Prev
	d.index = int(lm.Index)
}

// Next decodes the next item. ok is false at the end of the run.
func (d *Decoder) Next() (model.Item, bool, error) {
	if d.index >= d.n {
		return model.Item{}, false, nil
	}

	var it model.Item
	if d.index == 0 {
		if len(d.data) < d.off+FirstSize {
			return it, false, fmt.Errorf("%w: truncated first item", ErrCorrupt)
		}
		it.Locator = model.Locator{
			Container: binary.LittleEndian.Uint32(d.data[d.off:]),
			Slot:      binary.LittleEndian.Uint16(d.data[d.off+4:]),
		}
		d.off += FirstSize
		if d.withAddInfo {
			if len(d.data) <= d.off {
				return it, false, fmt.Errorf("%w: truncated first item", ErrCorrupt)
			}
			present := d.data[d.off]
			d.off++
			if present == 1 {
				v, err := d.varint()
				if err != nil {
					return it, false, err
				}
				it.AddInfo = model.Some(v)
			}
		}
	} else {
		v, n := binary.Uvarint(d.data[d.off:])
		if n <= 0 || n > MaxGapBytes {
			return it, false, fmt.Errorf("%w: bad gap at offset %d", ErrCorrupt, d.off)
		}
		d.off += n
		gap := v
		present := false
		if d.withAddInfo {
			gap = v >> 1
			present = v&1 == 1
		}
		if gap == 0 {
			return it, false, fmt.Errorf("%w: locators not increasing at item %d", ErrCorrupt, d.index)
		}
		if gap > maxLocatorValue-d.prev.Uint64() {
			return it, false, fmt.Errorf("%w: gap overflows locator at item %d", ErrCorrupt, d.index)
		}
		it.Locator = model.LocatorFromUint64(d.prev.Uint64() + gap)
		if present {
			val, err := d.varint()
			if err != nil {
				return it, false, err
			}
			it.AddInfo = model.Some(val)
		}
	}

	if d.strict && !it.Locator.IsValid() {
		return it, false, fmt.Errorf("%w: invalid locator %s", ErrCorrupt, it.Locator)
	}

	d.prev = it.Locator
	d.index++
	return it, true, nil
}

func (d *Decoder) varint() (int64, error) {
	v, n := binary.Varint(d.data[d.off:])
	if n <= 0 {
		return 0, fmt.Errorf("%w: bad value at offset %d", ErrCorrupt, d.off)
	}
	d.off += n
	return v, nil
}
