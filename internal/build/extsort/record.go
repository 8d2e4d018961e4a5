package extsort

import (
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/rumgo/internal/posting"
	"github.com/hupe1980/rumgo/model"
)

// Record is a sorted, deduplicated run of items for one key.
type Record struct {
	Key   model.Key
	Items []model.Item
}

// First returns the first locator of the run.
func (r Record) First() model.Locator {
	if len(r.Items) == 0 {
		return model.MinLocator
	}
	return r.Items[0].Locator
}

func (r Record) size() int64 {
	return int64(len(r.Key.Value) + 16*len(r.Items) + 48)
}

func appendRecord(dst []byte, r Record, addInfo bool) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, r.Key.Attr)
	dst = append(dst, byte(r.Key.Category))
	dst = binary.AppendUvarint(dst, uint64(len(r.Key.Value)))
	dst = append(dst, r.Key.Value...)
	data, n := posting.Encode(nil, r.Items, posting.EncodedSize(r.Items, addInfo), addInfo)
	dst = binary.AppendUvarint(dst, uint64(n))
	dst = binary.AppendUvarint(dst, uint64(len(data)))
	return append(dst, data...)
}

// readRecord decodes one record from b and returns the rest.
func readRecord(b []byte, addInfo bool) (Record, []byte, error) {
	var r Record
	if len(b) < 3 {
		return r, nil, fmt.Errorf("%w: short record", ErrBlock)
	}
	r.Key.Attr = binary.LittleEndian.Uint16(b)
	r.Key.Category = model.Category(int8(b[2]))
	b = b[3:]

	vlen, k := binary.Uvarint(b)
	if k <= 0 || uint64(len(b)-k) < vlen {
		return r, nil, fmt.Errorf("%w: key length", ErrBlock)
	}
	if vlen > 0 {
		r.Key.Value = append([]byte(nil), b[k:k+int(vlen)]...)
	}
	b = b[k+int(vlen):]

	n, k := binary.Uvarint(b)
	if k <= 0 {
		return r, nil, fmt.Errorf("%w: item count", ErrBlock)
	}
	b = b[k:]
	dlen, k := binary.Uvarint(b)
	if k <= 0 || uint64(len(b)-k) < dlen {
		return r, nil, fmt.Errorf("%w: data length", ErrBlock)
	}
	items, err := posting.Decode(b[k:k+int(dlen)], int(n), addInfo, true)
	if err != nil {
		return r, nil, fmt.Errorf("%w: %v", ErrBlock, err)
	}
	r.Items = items
	return r, b[k+int(dlen):], nil
}
