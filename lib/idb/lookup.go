package idb

import (
	"errors"

	"github.com/ValentinKolb/idkv/lib/codec"
	"github.com/ValentinKolb/idkv/lib/db"
)

// Lookup loads a key that is missing from the keyspace of dbIndex.
//
// In buffered mode the dirty buffers are consulted first: a tombstone is a
// definitive miss, a buffered value is installed into the keyspace. Otherwise
// the record is read from the disk store. Raw string records ("str" marker) are
// installed as strings, native records are decoded. Expired records are queued
// for deletion, corrupt records are logged. Both are misses and leave the
// keyspace untouched.
//
// The access-recency marker of an installed key is only refreshed while no
// persistence process is active.
func (t *Tier) Lookup(dbIndex int, key string) (db.Object, bool) {
	if !t.cfg.Enabled || t.checkDB(dbIndex) != nil {
		return nil, false
	}
	if dbIndex == 0 && IsReserved([]byte(key)) {
		return nil, false
	}

	ks := t.keyspaces[dbIndex]
	now := t.cfg.Clock()

	t.mu.Lock()
	syncMode := t.syncMode
	entry, buffered := t.buffers[dbIndex].Lookup(key)
	t.mu.Unlock()

	if !syncMode && buffered {
		if entry.Tombstone() {
			t.stats.bufferHits.Inc(1)
			return nil, false
		}
		if entry.ExpireAt != db.NoExpire && entry.ExpireAt <= now {
			t.stats.expired.Inc(1)
			return nil, false
		}
		t.stats.bufferHits.Inc(1)
		return t.install(ks, key, entry.Obj.Clone(), entry.ExpireAt), true
	}

	storeKey := NameFor(dbIndex, []byte(key))

	record, found, err := t.store.Get(storeKey, "")
	if err != nil {
		log.Warningf("db %d: failed to read key %q from disk: %v", dbIndex, key, err)
		t.stats.misses.Inc(1)
		return nil, false
	}
	if !found {
		t.stats.misses.Inc(1)
		return nil, false
	}

	marker, _, err := t.store.Get(storeKey, codec.TypeField)
	if err != nil {
		log.Warningf("db %d: failed to read type of key %q from disk: %v", dbIndex, key, err)
		t.stats.misses.Inc(1)
		return nil, false
	}

	if codec.ParseMarker(marker) == codec.MarkerString {
		t.stats.hits.Inc(1)
		return t.install(ks, key, db.String(record), db.NoExpire), true
	}

	obj, expireAt, err := codec.Decode(record, now)
	switch {
	case errors.Is(err, codec.ErrExpired):
		t.stats.expired.Inc(1)
		t.reaper.push(dbIndex, key)
		return nil, false
	case err != nil:
		t.stats.corrupt.Inc(1)
		log.Warningf("db %d: load value is invalid for key %q: %v", dbIndex, key, err)
		return nil, false
	}

	t.stats.hits.Inc(1)
	return t.install(ks, key, obj, expireAt), true
}

// reapExpired deletes the disk record of key if it is still expired. It runs
// under the tier lock, so neither a foreground write nor FlushAll can touch the
// key in between. A buffered key is left alone: its pending write replaces the
// record on the next flush, which is also the only way a running flush worker
// can write the key.
func (t *Tier) reapExpired(dbIndex int, key string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, buffered := t.buffers[dbIndex].Lookup(key); buffered {
		return false, nil
	}

	storeKey := NameFor(dbIndex, []byte(key))
	record, found, err := t.store.Get(storeKey, "")
	if err != nil || !found {
		return false, err
	}
	if _, _, err := codec.Decode(record, t.cfg.Clock()); !errors.Is(err, codec.ErrExpired) {
		return false, nil // rewritten since it was queued
	}
	return true, t.store.Delete(storeKey)
}

// install adds a loaded object to the keyspace. If the key appeared in the
// meantime the keyspace version is kept and returned.
func (t *Tier) install(ks db.Keyspace, key string, obj db.Object, expireAt int64) db.Object {
	if !ks.Add(key, obj) {
		if existing, ok := ks.Get(key); ok {
			return existing
		}
		ks.Set(key, obj)
	}
	if expireAt != db.NoExpire {
		ks.SetExpireAt(key, expireAt)
	}
	if !t.PersistenceActive() {
		ks.Touch(key)
	}
	return obj
}
