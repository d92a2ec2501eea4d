// Package testing provides standardised tests and benchmarks for
// keyspace implementations that satisfy the db.Keyspace interface.
//
// The package contains:
//   - testing: A conformance suite for the Keyspace contract (objects,
//     wall-clock expiration, snapshots, concurrent use)
//   - benchmark: Throughput tests for common keyspace operations
//   - ManualClock: A deterministic clock that implementations receive through
//     the factory, so expiration can be tested without sleeping
//
// Example usage:
//
//	// Creating a factory function for your implementation
//	factory := func(clock func() int64) db.Keyspace {
//		return NewMyKeyspace(clock)
//	}
//
//	// Running the standard test suite
//	dbtesting.RunKeyspaceTests(t, "MyKeyspace", factory)
//
//	// Running performance benchmarks
//	dbtesting.RunKeyspaceBenchmarks(b, "MyKeyspace", factory)
package testing
