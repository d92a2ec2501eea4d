package internal

import (
	"github.com/ValentinKolb/idkv/lib/db"
	"github.com/ValentinKolb/idkv/lib/db/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Entry Type (object with metadata)
// --------------------------------------------------------------------------

// Entry stores an object with its expiration and access-recency metadata
type Entry struct {
	Obj        db.Object // Stored object (owned by the keyspace)
	ExpireAt   int64     // Expiration timestamp in unix ms (db.NoExpire = none)
	LastAccess int64     // Access-recency marker in unix ms
}

// Expired reports whether the entry is logically absent at the given time
func (e Entry) Expired(nowMs int64) bool {
	return e.ExpireAt != db.NoExpire && e.ExpireAt <= nowMs
}

// --------------------------------------------------------------------------
// Shard Type (partition of the keyspace)
// --------------------------------------------------------------------------

// Shard represents a partition of the keyspace.
// Each shard has its own map and its own active expiration cycle.
type Shard struct {
	Data *xsync.MapOf[string, Entry]
}

// NewShard creates a new empty shard
func NewShard() *Shard {
	return &Shard{
		Data: xsync.NewMapOf[string, Entry](),
	}
}

// GetShard returns the appropriate shard for a given key hash
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func GetShard[T any](hash uint64, shards []*T) *T {
	return shards[util.ShardIndex(hash, len(shards))]
}
