// Package extract holds the building blocks field extractors are composed
// from: a found/not-found result, a first-match-wins combinator and the
// numeric cleaning rules for counters scraped from visible text.
package extract

// Result is the outcome of one extraction strategy.
type Result[T any] struct {
	Value T
	Found bool
}

// Found wraps a successfully extracted value.
func Found[T any](v T) Result[T] {
	return Result[T]{Value: v, Found: true}
}

// NotFound reports that a strategy produced nothing.
func NotFound[T any]() Result[T] {
	return Result[T]{}
}

// Or returns the wrapped value, or fallback when nothing was found.
func (r Result[T]) Or(fallback T) T {
	if r.Found {
		return r.Value
	}
	return fallback
}

// Strategy extracts a single field from some source S.
type Strategy[S, T any] func(S) Result[T]

// FirstOf runs strategies in priority order and returns the first hit.
func FirstOf[S, T any](src S, strategies ...Strategy[S, T]) Result[T] {
	for _, strategy := range strategies {
		if strategy == nil {
			continue
		}
		if res := strategy(src); res.Found {
			return res
		}
	}
	return NotFound[T]()
}

// AnyOf reports whether at least one signal fires. Used for boolean flags
// where absence of every signal means false.
func AnyOf[S any](src S, signals ...func(S) bool) bool {
	for _, signal := range signals {
		if signal != nil && signal(src) {
			return true
		}
	}
	return false
}
