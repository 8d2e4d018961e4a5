package testutil

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/hupe1980/rumgo/model"
	"github.com/hupe1980/rumgo/opclass"
)

// RNG wraps a seeded random source. It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG with the given seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset rewinds the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 { return r.seed }

// Intn returns a pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Zipf returns a Zipfian-distributed value in [0, n): P(k) ∝ 1/k^s.
func (r *RNG) Zipf(n int, s float64) int {
	z := newZipf(n, s)
	r.mu.Lock()
	defer r.mu.Unlock()
	return z.draw(r.rand)
}

// zipf samples by inverse transform over a cumulative table.
type zipf struct{ cum []float64 }

func newZipf(n int, s float64) zipf {
	cum := make([]float64, max(n, 1))
	var total float64
	for k := range cum {
		total += 1 / math.Pow(float64(k+1), s)
		cum[k] = total
	}
	return zipf{cum: cum}
}

func (z zipf) draw(rnd *rand.Rand) int {
	u := rnd.Float64() * z.cum[len(z.cum)-1]
	return min(sort.SearchFloat64s(z.cum, u), len(z.cum)-1)
}

// Word returns the i-th vocabulary word.
func Word(i int) string { return fmt.Sprintf("w%04d", i) }

// Documents returns n documents of up to maxWords words drawn from a
// vocabulary of vocab words with Zipf skew 1.1. About one document in 50
// is empty.
func (r *RNG) Documents(n, vocab, maxWords int) [][]string {
	z := newZipf(vocab, 1.1)
	r.mu.Lock()
	defer r.mu.Unlock()

	docs := make([][]string, n)
	for i := range docs {
		if r.rand.Intn(50) == 0 {
			continue
		}
		words := make([]string, 1+r.rand.Intn(maxWords))
		for j := range words {
			words[j] = Word(z.draw(r.rand))
		}
		docs[i] = words
	}
	return docs
}

// Rows converts documents into table rows.
func Rows(docs [][]string) []any {
	rows := make([]any, len(docs))
	for i, d := range docs {
		rows[i] = d
	}
	return rows
}

// Table is an in-memory base table. Row i lives in container
// i/PerContainer at slot i%PerContainer+1.
type Table struct {
	Rows         []any
	PerContainer int
}

// NewTable creates a table over rows.
func NewTable(rows []any, perContainer int) *Table {
	if perContainer <= 0 {
		perContainer = 100
	}
	return &Table{Rows: rows, PerContainer: perContainer}
}

// Loc returns the locator of row i.
func (t *Table) Loc(i int) model.Locator { return Loc(i, t.PerContainer) }

// Loc returns the locator of row i in a table with perContainer rows per
// container.
func Loc(i, perContainer int) model.Locator {
	return model.Locator{Container: uint32(i / perContainer), Slot: uint16(i%perContainer + 1)}
}

// Row returns the row index of loc.
func (t *Table) Row(loc model.Locator) int {
	return int(loc.Container)*t.PerContainer + int(loc.Slot) - 1
}

// Containers implements the build table interface.
func (t *Table) Containers() uint32 {
	return uint32((len(t.Rows) + t.PerContainer - 1) / t.PerContainer)
}

// ScanContainer implements the build table interface.
func (t *Table) ScanContainer(ctx context.Context, c uint32, fn func(model.Locator, any) error) error {
	for slot := range t.PerContainer {
		i := int(c)*t.PerContainer + slot
		if i >= len(t.Rows) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(model.Locator{Container: c, Slot: uint16(slot + 1)}, t.Rows[i]); err != nil {
			return err
		}
	}
	return nil
}

// WordExtractor indexes []string rows on attribute 0: one posting per
// distinct word, and an empty-item posting for rows without words. With
// addInfo every posting carries the number of words of the row.
func WordExtractor(addInfo bool) opclass.Extractor {
	return opclass.ExtractorFunc(func(loc model.Locator, row any) ([]model.Posting, error) {
		words, ok := row.([]string)
		if !ok {
			return nil, fmt.Errorf("testutil: row %s is %T, want []string", loc, row)
		}
		item := model.Item{Locator: loc}
		if addInfo {
			item.AddInfo = model.Some(int64(len(words)))
		}
		if len(words) == 0 {
			return []model.Posting{{Key: model.Key{Category: model.CategoryEmptyItem}, Item: item}}, nil
		}
		seen := make(map[string]bool, len(words))
		out := make([]model.Posting, 0, len(words))
		for _, w := range words {
			if seen[w] {
				continue
			}
			seen[w] = true
			out = append(out, model.Posting{Key: model.Key{Value: []byte(w)}, Item: item})
		}
		return out, nil
	})
}

// Predicate selects documents.
type Predicate func(words []string) bool

// AnyOf matches documents holding at least one of words.
func AnyOf(words ...string) Predicate {
	return func(doc []string) bool {
		for _, w := range words {
			if contains(doc, w) {
				return true
			}
		}
		return false
	}
}

// AllOf matches documents holding every one of words.
func AllOf(words ...string) Predicate {
	return func(doc []string) bool {
		for _, w := range words {
			if !contains(doc, w) {
				return false
			}
		}
		return true
	}
}

// Empty matches documents without words.
func Empty() Predicate {
	return func(doc []string) bool { return len(doc) == 0 }
}

func contains(doc []string, w string) bool {
	for _, d := range doc {
		if d == w {
			return true
		}
	}
	return false
}

// Matching returns the locators of the documents matching pred, in
// locator order.
func Matching(docs [][]string, perContainer int, pred Predicate) []model.Locator {
	var out []model.Locator
	for i, d := range docs {
		if pred(d) {
			out = append(out, Loc(i, perContainer))
		}
	}
	return out
}
