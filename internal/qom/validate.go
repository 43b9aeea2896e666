package qom

import "fmt"

// ValidationResult contains portability analysis of a query.
//
// The portable fragment is the subset of the QOM that every execution path
// supports: the JCR-SQL2 backend, the SQLite backend and client-side
// evaluation. Queries outside it still compile to JCR-SQL2 but may fail with
// UnsupportedOperation elsewhere.
type ValidationResult struct {
	// IsPortable indicates if the query uses only portable fragment features.
	IsPortable bool

	// Warnings lists non-portable features used in the query.
	// Empty when IsPortable is true.
	Warnings []string
}

// Validate checks whether a query stays inside the portable fragment:
//  1. a single selector, since client-side evaluation does not join
//  2. no full-text search, since no built-in backend indexes text
//  3. no SCORE(), which is constant without full-text search
//
// Warnings come in tree order.
func Validate(q *QueryObjectModel) ValidationResult {
	warnings := []string{}
	warn := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	if q == nil {
		warn("nil query - portable fragment requires a query")
	}
	Walk(q, func(node any) bool {
		switch n := node.(type) {
		case *Join:
			warn("%s join of %v - client-side evaluation supports a single selector", n.joinType, n.SelectorNames())
			return false
		case *FullTextSearch:
			warn("full-text search on selector '%s' - not portable", n.selector)
		case *FullTextSearchScore:
			warn("SCORE(%s) - scores are only meaningful with full-text search", n.selector)
		}
		return true
	})

	return ValidationResult{IsPortable: len(warnings) == 0, Warnings: warnings}
}
