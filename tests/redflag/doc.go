// Package redflag contains tests that must fail if the core's concurrency
// and dispatch invariants are violated: they exercise Executive, the
// chunk-set iterator, and the chunk resource manager together rather than
// in isolation, proving the quantified invariants actually hold across
// package boundaries.
//
// This package is organized by invariant:
// - dispatch_test.go: retry cap, squash idempotence, exactly-once completion
// - coverage_test.go: chunk-set iteration coverage
// - resource_test.go: refcount non-negativity under concurrent acquire/release
package redflag
