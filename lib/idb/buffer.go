package idb

import "github.com/ValentinKolb/idkv/lib/db"

// --------------------------------------------------------------------------
// Buffered Entries
// --------------------------------------------------------------------------

// Entry is a pending write of one key. A nil Obj is a tombstone: the key must be
// deleted from the disk store on the next flush.
//
// ExpireAt is the expiration at the time the write was recorded. The flush
// prefers the live expiration of the keyspace and only falls back to this one
// when the key is no longer in memory.
type Entry struct {
	Obj      db.Object
	ExpireAt int64
}

// Tombstone reports whether the entry records a deletion
func (e Entry) Tombstone() bool {
	return e.Obj == nil
}

// DirtyBuffer maps logical keys to pending writes
type DirtyBuffer map[string]Entry

// --------------------------------------------------------------------------
// Buffer Pair
// --------------------------------------------------------------------------

// BufferPair holds the two dirty buffers of one database.
//
// Only active receives foreground writes. shadow is either empty or holds the
// frozen buffer a running flush works on. The roles are exchanged by Swap when a
// flush starts, the shadow is dropped by DiscardShadow after a successful flush
// and merged back by Restore after a failed one.
//
// Thread-safety: BufferPair is not thread-safe, the tier guards it with its mutex.
// A frozen shadow is never modified while a flush runs, so the flush worker may
// read it without locking.
type BufferPair struct {
	active DirtyBuffer
	shadow DirtyBuffer
}

// NewBufferPair creates a pair of empty buffers
func NewBufferPair() *BufferPair {
	return &BufferPair{
		active: make(DirtyBuffer),
		shadow: make(DirtyBuffer),
	}
}

// RecordWrite stores a copy of obj in the active buffer. The buffer owns the copy,
// a previously buffered value for the key is dropped.
func (p *BufferPair) RecordWrite(key string, obj db.Object, expireAt int64) {
	p.active[key] = Entry{Obj: obj.Clone(), ExpireAt: expireAt}
}

// RecordTombstone records the deletion of key in the active buffer
func (p *BufferPair) RecordTombstone(key string) {
	p.active[key] = Entry{ExpireAt: db.NoExpire}
}

// Forget removes key from both buffers and reports whether it was buffered.
// It must only be used while no flush is running.
func (p *BufferPair) Forget(key string) bool {
	_, inActive := p.active[key]
	_, inShadow := p.shadow[key]
	delete(p.active, key)
	delete(p.shadow, key)
	return inActive || inShadow
}

// Lookup returns the pending write for key. The active buffer is checked first:
// a key written after a flush started must hide the stale copy in the shadow.
func (p *BufferPair) Lookup(key string) (Entry, bool) {
	if e, ok := p.active[key]; ok {
		return e, true
	}
	e, ok := p.shadow[key]
	return e, ok
}

// Swap exchanges the roles of the buffers and returns the new shadow, which is
// frozen until DiscardShadow or Restore is called. The new active buffer is empty.
func (p *BufferPair) Swap() DirtyBuffer {
	p.active, p.shadow = p.shadow, p.active
	if len(p.active) > 0 {
		// leftovers of an unreconciled cycle must not be lost
		for key, e := range p.active {
			if _, ok := p.shadow[key]; !ok {
				p.shadow[key] = e
			}
		}
		p.active = make(DirtyBuffer)
	}
	return p.shadow
}

// DiscardShadow drops the shadow buffer after its content became durable.
// The shadow is replaced by a fresh map, the frozen one is never cleared in place.
func (p *BufferPair) DiscardShadow() {
	p.shadow = make(DirtyBuffer)
}

// Restore merges the shadow back into the active buffer and empties the shadow.
// It returns the number of active entries that were overwritten by older shadow
// entries (only possible with ReconcileLegacy).
func (p *BufferPair) Restore(policy ReconcilePolicy) (reverted int) {
	for key, e := range p.shadow {
		if _, exists := p.active[key]; exists {
			if policy != ReconcileLegacy {
				continue // the active entry is newer
			}
			reverted++
		}
		p.active[key] = e
	}
	p.shadow = make(DirtyBuffer)
	return reverted
}

// Len returns the number of entries in the active and the shadow buffer
func (p *BufferPair) Len() (active, shadow int) {
	return len(p.active), len(p.shadow)
}
