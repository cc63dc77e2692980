// Package grouper partitions parsed transactions into calendar-month buckets.
package grouper

import (
	"iter"
	"slices"

	"budget/internal/core"
)

// Result holds the buckets oldest-first and the number of transactions consumed.
type Result struct {
	Months []*core.MonthBucket
	Total  int
}

// Find returns the bucket for key, if present.
func (r Result) Find(key core.MonthKey) (*core.MonthBucket, bool) {
	for _, b := range r.Months {
		if b.Key() == key {
			return b, true
		}
	}
	return nil, false
}

// Keys lists the detected months oldest-first.
func (r Result) Keys() []core.MonthKey {
	keys := make([]core.MonthKey, len(r.Months))
	for i, b := range r.Months {
		keys[i] = b.Key()
	}
	return keys
}

// Group buckets a slice of transactions. Buckets are ordered chronologically; members keep input order.
func Group(txs []core.ParsedTransaction) Result {
	res, _ := GroupSeq(func(yield func(core.ParsedTransaction, error) bool) {
		for _, t := range txs {
			if !yield(t, nil) {
				return
			}
		}
	})
	return res
}

// GroupSeq consumes a transaction sequence such as parser.Reader.All. The first error aborts grouping.
func GroupSeq(seq iter.Seq2[core.ParsedTransaction, error]) (Result, error) {
	byKey := make(map[core.MonthKey]*core.MonthBucket)
	var order []*core.MonthBucket
	total := 0

	for t, err := range seq {
		if err != nil {
			return Result{}, err
		}
		key := t.Key()
		b, ok := byKey[key]
		if !ok {
			b = core.NewMonthBucket(key)
			byKey[key] = b
			order = append(order, b)
		}
		if err := b.Add(t); err != nil {
			return Result{}, err
		}
		total++
	}

	slices.SortStableFunc(order, func(a, b *core.MonthBucket) int {
		return a.Key().Compare(b.Key())
	})
	if order == nil {
		order = []*core.MonthBucket{}
	}
	return Result{Months: order, Total: total}, nil
}
