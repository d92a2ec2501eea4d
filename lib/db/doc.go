// Package db provides the in-memory object model and the Keyspace interface
// of the idkv server.
//
// Key Components:
//
//   - Object: A value held in memory. Implementations are String, List, Set,
//     Hash and ZSet. Objects are moved between components by Clone, so every
//     holder owns an independent copy.
//
//   - Keyspace Interface: The in-memory dictionary of a single database. It
//     stores objects by key together with an expiration index (unix
//     milliseconds) and an access-recency marker used for ageing.
//
//   - Feature Flags: The Feature type defines capability flags that
//     implementations advertise through SupportsFeature.
//
// Note on Expiration:
//   - A key whose expiration timestamp is <= now is logically absent.
//     Get and Has never report such a key, even if it has not been
//     collected yet.
//   - Implementations may collect expired keys lazily on access and/or
//     actively in the background.
//
// Related Packages:
//
// The engines/maple package provides a sharded, concurrent implementation of
// the Keyspace interface. The testing package provides a conformance suite
// (RunKeyspaceTests) for any implementation.
package db
