package pps

import (
	radix "github.com/armon/go-radix"
)

// Thin wrapper over the radix tree so the typed tries in this package stay
// free of type assertions at their call sites.
type radixTree struct {
	t *radix.Tree
}

func newRadixTree() *radixTree {
	return &radixTree{t: radix.New()}
}

func (r *radixTree) insert(s string, v interface{}) {
	r.t.Insert(s, v)
}

func (r *radixTree) longestPrefix(s string) (interface{}, bool) {
	_, v, has := r.t.LongestPrefix(s)
	return v, has
}
