// Package disk defines the contract between the disk tier and the on-disk
// key/value engine that holds flushed records.
//
// A Store maps a store key (a namespaced logical key, see idb.NameFor) to a
// main record plus any number of named side fields. The disk tier uses the
// main record for the encoded value and the side field codec.TypeField for
// the record's TypeMarker.
//
// Keys are hierarchical: ListSubkeys treats "/" as the path separator and
// enumerates the names below a prefix, hiding names that start with ".".
//
// Implementations:
//
//   - pebblestore: persistent engine on top of cockroachdb/pebble with a
//     bloom filter that answers negative Exists queries from memory.
//   - memstore: ordered in-memory engine on top of a skip list, used for
//     deployments without persistence and as a test double.
//
// All implementations must be safe for concurrent use: the flush worker
// writes while the foreground reads.
package disk
