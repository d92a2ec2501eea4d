// Package lstore implements store.IStore on top of the in-memory keyspaces of
// this process and the disk tier of package idb.
//
// Every database has its own keyspace. Commands run under one mutex, in the
// order they arrive, and persist their result through the tier:
//
//   - Writes update the keyspace and record the key with idb.Tier.SetKey, which
//     writes through to disk in sync mode and buffers the key otherwise.
//   - Reads that miss the keyspace fall back to idb.Tier.Lookup, which loads the
//     key from the dirty buffers or the disk store and installs it in memory.
//   - Deletes remove the key from memory and from the tier.
//
// The store can write snapshots of all keyspaces (Save) and restores them on
// startup. Close writes the remaining dirty keys to disk.
//
// Usage Example:
//
//	factory := func(int) db.Keyspace { return maple.NewMapleKeyspace(nil) }
//	cfg := idb.DefaultConfig()
//	s, err := lstore.NewLocalStore(factory, lstore.Options{Tier: cfg, Disk: diskStore})
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//
//	err = s.SetE(0, "session/123", sessionData, 300_000)
//	value, exists, err := s.Get(0, "session/123")
package lstore
