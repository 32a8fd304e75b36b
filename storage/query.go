package storage

import (
	"cmp"
	"strings"
)

// Filter reports whether a record matches.
type Filter[T any] func(T) bool

// Order compares two records in the style of cmp.Compare.
type Order[T any] func(a, b T) int

// Query selects, orders and pages records of a Collection.
// A zero Limit means no limit.
type Query[T any] struct {
	Where  []Filter[T]
	Order  Order[T]
	Offset int
	Limit  int
}

func (q Query[T]) matches(v T) bool {
	for _, f := range q.Where {
		if f != nil && !f(v) {
			return false
		}
	}
	return true
}

// Eq matches records whose field equals want.
func Eq[T any, V comparable](field func(T) V, want V) Filter[T] {
	return func(v T) bool { return field(v) == want }
}

// Contains matches records whose field contains sub, ignoring case.
func Contains[T any](field func(T) string, sub string) Filter[T] {
	sub = strings.ToLower(sub)
	return func(v T) bool { return strings.Contains(strings.ToLower(field(v)), sub) }
}

// AnyOf matches records accepted by at least one of fs.
func AnyOf[T any](fs ...Filter[T]) Filter[T] {
	return func(v T) bool {
		for _, f := range fs {
			if f(v) {
				return true
			}
		}
		return false
	}
}

// Not inverts f.
func Not[T any](f Filter[T]) Filter[T] {
	return func(v T) bool { return !f(v) }
}

// Between matches records whose field lies within [lo, hi]. A nil bound
// is open.
func Between[T any, V cmp.Ordered](field func(T) V, lo, hi *V) Filter[T] {
	return func(v T) bool {
		x := field(v)
		if lo != nil && x < *lo {
			return false
		}
		if hi != nil && x > *hi {
			return false
		}
		return true
	}
}

// By orders records by field, descending when desc is set.
func By[T any, V cmp.Ordered](field func(T) V, desc bool) Order[T] {
	return func(a, b T) int {
		c := cmp.Compare(field(a), field(b))
		if desc {
			return -c
		}
		return c
	}
}

// Then breaks ties in o with next.
func (o Order[T]) Then(next Order[T]) Order[T] {
	return func(a, b T) int {
		if c := o(a, b); c != 0 {
			return c
		}
		return next(a, b)
	}
}
