// Package maple implements the in-memory keyspace of the idkv server. It
// provides an implementation of the db.Keyspace interface with a focus on
// thread safety and low contention.
//
// The package focuses on:
//   - Concurrent access through sharding and lock-free maps (xsync.MapOf)
//   - Wall-clock expiration in unix milliseconds, collected lazily on access
//     and actively in the background
//   - Snapshots that reuse the disk tier record encoding (lib/codec)
//
// Key Components:
//
//   - mapleImpl: The central structure implementing db.Keyspace. It manages
//     shards, runs the active expiration and provides the public API.
//
//   - Shard: A partition of the keyspace. Keys are distributed across shards
//     by hashing them with a per-instance seed (util.HashString) and using the
//     higher bits of the hash (util.ShardIndex).
//
//   - Entry: The stored object together with its expiration timestamp and
//     access-recency marker.
//
// Internal Mechanisms:
//
//   - Expiration: A key whose expiration timestamp is <= now is logically
//     absent. Get, Has and ExpireAt remove such a key when they see it. In
//     addition every shard runs a goroutine that periodically removes up to a
//     fixed number of expired keys per cycle. Removal always re-checks the
//     entry under the map lock, so a key that was overwritten after it was
//     found expired is kept.
//
//   - Clock: The current time is read through an injectable function
//     (Options.Clock). Tests use a manual clock to make expiration
//     deterministic.
//
//   - Snapshot Format:
//
//     magic "IDKVSNAP" | version uint8 | count uint64 |
//     count x (keyLen uint32 | key | recordLen uint32 | codec record)
//
//     All integers are little endian. Records that expired between Save and
//     Load are skipped, corrupt records abort the load without modifying the
//     keyspace.
//
// Thread-safety:
//
// All methods except Load can be called concurrently. Objects returned by Get
// and passed to Range are shared with the keyspace and must be treated as
// read-only. Update is the way to modify an object in place.
//
// Usage Example:
//
//	ks := maple.NewMapleKeyspace(nil)
//	defer ks.Close()
//
//	ks.Set("greeting", db.String("hello"))
//	ks.SetExpireAt("greeting", util.NowMillis()+60_000)
//
//	if obj, ok := ks.Get("greeting"); ok {
//		fmt.Println(string(obj.(db.String)))
//	}
package maple
