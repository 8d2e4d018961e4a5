package rumgo

import (
	"context"
	"errors"
	"iter"

	"github.com/hupe1980/rumgo/opclass"
)

// ErrNoMatch is returned by First when nothing matches.
var ErrNoMatch = errors.New("rumgo: no match")

// Query creates a fluent query builder over the given filter keys.
//
// Example:
//
//	results, err := idx.Query(key).
//	    OrderBy(rank).
//	    Limit(10).
//	    Execute(ctx)
//
//	// Or with streaming:
//	for r, err := range idx.Query(key).Stream(ctx) {
//	    if err != nil { break }
//	    process(r.Locator)
//	}
func (i *Index) Query(keys ...*opclass.ScanKey) *QueryBuilder {
	return &QueryBuilder{idx: i, keys: keys}
}

// QueryBuilder is a fluent builder for constructing scans.
type QueryBuilder struct {
	idx   *Index
	keys  []*opclass.ScanKey
	order []*opclass.ScanKey
	opts  ScanOptions
}

// OrderBy adds order-by keys. Results are scored by them.
func (qb *QueryBuilder) OrderBy(keys ...*opclass.ScanKey) *QueryBuilder {
	qb.order = append(qb.order, keys...)
	return qb
}

// Limit bounds the number of results. With order-by keys, the results are
// the best-scored ones.
func (qb *QueryBuilder) Limit(n int) *QueryBuilder {
	qb.opts.Limit = n
	return qb
}

// IndexOrder asks for results in key order of the scanned attribute.
func (qb *QueryBuilder) IndexOrder() *QueryBuilder {
	qb.opts.IndexOrder = true
	return qb
}

// Reverse asks for results in descending key order.
func (qb *QueryBuilder) Reverse() *QueryBuilder {
	qb.opts.IndexOrder = true
	qb.opts.Reverse = true
	return qb
}

// Execute runs the query and returns every result.
func (qb *QueryBuilder) Execute(ctx context.Context) ([]ScanResult, error) {
	var results []ScanResult
	for r, err := range qb.Stream(ctx) {
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

// MustExecute runs the query, panicking on error.
// Use this only in tests or when you're certain the query is valid.
func (qb *QueryBuilder) MustExecute(ctx context.Context) []ScanResult {
	results, err := qb.Execute(ctx)
	if err != nil {
		panic(err)
	}
	return results
}

// Stream returns an iterator over the results. Breaking from the loop
// closes the scan. A limit without order-by keys stops the stream after
// that many results.
func (qb *QueryBuilder) Stream(ctx context.Context) iter.Seq2[ScanResult, error] {
	return func(yield func(ScanResult, error) bool) {
		s, err := qb.idx.BeginScan(qb.keys, qb.order, qb.opts)
		if err != nil {
			yield(ScanResult{}, err)
			return
		}
		defer s.Close()

		n := 0
		for {
			r, ok, err := s.Next(ctx)
			if err != nil {
				yield(ScanResult{}, err)
				return
			}
			if !ok {
				return
			}
			if !yield(r, nil) {
				return
			}
			n++
			if qb.opts.Limit > 0 && n >= qb.opts.Limit {
				return
			}
		}
	}
}

// First returns the first result, or ErrNoMatch.
func (qb *QueryBuilder) First(ctx context.Context) (ScanResult, error) {
	for r, err := range qb.Stream(ctx) {
		return r, err
	}
	return ScanResult{}, ErrNoMatch
}

// Count runs the query and returns the number of results.
func (qb *QueryBuilder) Count(ctx context.Context) (int, error) {
	n := 0
	for _, err := range qb.Stream(ctx) {
		if err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

// Exists reports whether at least one row matches.
func (qb *QueryBuilder) Exists(ctx context.Context) (bool, error) {
	_, err := qb.First(ctx)
	if errors.Is(err, ErrNoMatch) {
		return false, nil
	}
	return err == nil, err
}
