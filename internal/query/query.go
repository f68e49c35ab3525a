// Package query provides a small fluent layer over range scans:
// bounds, predicates, ordering, and a result limit.
package query

import (
	"flintdb/internal/btree"
)

// Scanner is the surface the builder needs from a storage engine.
type Scanner interface {
	RangeScan(low, high []byte) ([]btree.Pair, error)
}

// Predicate filters a key/value pair; pairs it rejects are left out of
// the result.
type Predicate func(key, value []byte) bool

// Query accumulates bounds, filters, ordering, and a limit, and runs
// them against a Scanner on Execute.
type Query struct {
	db         Scanner
	start      []byte
	end        []byte
	limit      int
	descending bool
	filters    []Predicate
}

// New starts a query over the default bounds ["", "\xff"]. A key that
// begins with 0xff and has further bytes sorts above "\xff" and is
// outside these bounds.
func New(db Scanner) *Query {
	return &Query{
		db:    db,
		start: []byte(""),
		end:   []byte("\xff"),
		limit: -1,
	}
}

// Range restricts the scan to [start, end], both inclusive.
func (q *Query) Range(start, end []byte) *Query {
	q.start = start
	q.end = end
	return q
}

// Where adds a predicate; all predicates must match for a pair to be
// kept.
func (q *Query) Where(p Predicate) *Query {
	q.filters = append(q.filters, p)
	return q
}

// Limit caps the number of results. Negative means no limit.
func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

// Desc reverses the result order. The scan itself is always ascending;
// only the returned slice is reversed.
func (q *Query) Desc() *Query {
	q.descending = true
	return q
}

// Execute runs the scan and applies filters, ordering, and the limit,
// in that order.
func (q *Query) Execute() ([]btree.Pair, error) {
	results, err := q.db.RangeScan(q.start, q.end)
	if err != nil {
		return nil, err
	}

	if len(q.filters) > 0 {
		filtered := results[:0]
		for _, pair := range results {
			match := true
			for _, f := range q.filters {
				if !f(pair.Key, pair.Value) {
					match = false
					break
				}
			}
			if match {
				filtered = append(filtered, pair)
			}
		}
		results = filtered
	}

	if q.descending {
		for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
			results[i], results[j] = results[j], results[i]
		}
	}

	if q.limit >= 0 && q.limit < len(results) {
		results = results[:q.limit]
	}

	return results, nil
}
