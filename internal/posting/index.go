package posting

import (
	"sort"

	"github.com/hupe1980/rumgo/model"
)

// MaxLandmarks is the jump index capacity of one run.
const MaxLandmarks = 32

// LandmarkSize is the serialized size of one landmark.
const LandmarkSize = 6 + 2 + 2

// Landmark marks the position of item Index, which starts at byte Offset
// and follows locator Prev.
type Landmark struct {
	Prev   model.Locator
	Offset uint16
	Index  uint16
}

// BuildIndex computes up to MaxLandmarks evenly spaced landmarks for the n
// items in data.
func BuildIndex(data []byte, n int, withAddInfo bool) ([]Landmark, error) {
	if n <= 1 {
		return nil, nil
	}
	step := (n + MaxLandmarks) / (MaxLandmarks + 1)
	if step < 1 {
		step = 1
	}

	var out []Landmark
	d := NewDecoder(data, n, withAddInfo, false)
	for {
		if i := d.Index(); i > 0 && i%step == 0 && len(out) < MaxLandmarks {
			out = append(out, Landmark{Prev: d.Prev(), Offset: uint16(d.Offset()), Index: uint16(i)})
		}
		_, ok, err := d.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
	}
}

// Seek returns a decoder whose next item is the first item >= target.
func Seek(data []byte, n int, index []Landmark, target model.Locator, withAddInfo, strict bool) (*Decoder, error) {
	d := NewDecoder(data, n, withAddInfo, strict)

	// Last landmark whose predecessor sorts before target.
	i := sort.Search(len(index), func(i int) bool { return !index[i].Prev.Less(target) })
	if i > 0 {
		d.Jump(index[i-1])
	}

	for d.Remaining() > 0 {
		save := *d
		it, ok, err := d.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if !it.Locator.Less(target) {
			*d = save
			break
		}
	}
	return d, nil
}
