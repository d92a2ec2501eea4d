package idb

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/idkv/lib/codec"
	"github.com/ValentinKolb/idkv/lib/db"
	"github.com/ValentinKolb/idkv/lib/disk"
)

// expireFunc returns the live expiration of a key and whether the key is still in memory
type expireFunc func(key string) (expireAt int64, live bool)

// keyspaceExpire reads the expiration index of a keyspace at flush time
func keyspaceExpire(ks db.Keyspace) expireFunc {
	return func(key string) (int64, bool) {
		// ExpireAt first: a key that expires in between is then reported as not live
		expireAt := ks.ExpireAt(key)
		return expireAt, ks.Has(key)
	}
}

// writeRecord stores the encoded record and its TypeMarker under storeKey
func writeRecord(store disk.Store, storeKey []byte, obj db.Object, expireAt int64) error {
	if err := store.Put(storeKey, codec.Encode(obj, expireAt), ""); err != nil {
		return err
	}
	return store.Put(storeKey, []byte(codec.MarkerNativeName), codec.TypeField)
}

// flushBuffer writes all entries of buf to the store and returns the number of
// processed entries.
//
// Tombstones become store deletes whose errors are logged and ignored. Values are
// encoded with the expiration read from expireOf at flush time and skipped (and
// removed from the store) if that expiration already passed. The first write error
// aborts the flush, entries written before it stay durable. Cancellation of ctx is
// checked before every entry and reported with its cause.
func flushBuffer(ctx context.Context, store disk.Store, dbIndex int, buf DirtyBuffer, expireOf expireFunc, now int64) (int, error) {
	written := 0

	for key, e := range buf {
		if ctx.Err() != nil {
			return written, context.Cause(ctx)
		}

		storeKey := NameFor(dbIndex, []byte(key))

		if e.Tombstone() {
			if err := store.Delete(storeKey); err != nil {
				log.Warningf("db %d: failed to delete key %q from disk: %v", dbIndex, key, err)
			}
			written++
			continue
		}

		expireAt := e.ExpireAt
		if live, ok := expireOf(key); ok {
			expireAt = live
		}

		if expireAt != db.NoExpire && expireAt < now {
			// already expired, a stale disk record must not outlive it
			if err := store.Delete(storeKey); err != nil {
				log.Warningf("db %d: failed to delete expired key %q from disk: %v", dbIndex, key, err)
			}
			written++
			continue
		}

		if err := writeRecord(store, storeKey, e.Obj, expireAt); err != nil {
			return written, fmt.Errorf("db %d: write key %q: %w", dbIndex, key, err)
		}
		written++
	}

	return written, nil
}

// flushBuffers runs flushBuffer over the buffers of all databases, index ascending
func flushBuffers(ctx context.Context, store disk.Store, buffers []DirtyBuffer, expireOf []expireFunc, clock func() int64) (int, error) {
	total := 0
	for i, buf := range buffers {
		if len(buf) == 0 {
			continue
		}
		n, err := flushBuffer(ctx, store, i, buf, expireOf[i], clock())
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
