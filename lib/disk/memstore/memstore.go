// Package memstore implements disk.Store as an ordered in-memory map.
//
// Records are kept in a skip list ordered by key, so ListSubkeys can walk the
// keys below a prefix without scanning the whole store. The store counts the
// calls per operation (Stats), which the disk tier tests use to observe store
// traffic.
package memstore

import (
	"strings"
	"sync"

	"github.com/ValentinKolb/idkv/lib/disk"
	"github.com/huandu/skiplist"
)

// record is the value of one key: the main record and its side fields
type record struct {
	value  []byte
	fields map[string][]byte
}

// Stats counts the calls per operation
type Stats struct {
	Puts    int
	Gets    int
	Deletes int
	Exists  int
	Lists   int
}

// Total returns the number of calls of all operations
func (s Stats) Total() int {
	return s.Puts + s.Gets + s.Deletes + s.Exists + s.Lists
}

// memStore is a mutex guarded skip list of records
type memStore struct {
	mu     sync.RWMutex
	list   *skiplist.SkipList
	stats  Stats
	closed bool
}

// Store is a disk.Store that additionally reports call statistics
type Store interface {
	disk.Store
	Stats() Stats
	Len() int
}

// New creates an empty in-memory store
func New() Store {
	return &memStore{
		list: skiplist.New(skiplist.String),
	}
}

// --------------------------------------------------------------------------
// disk.Store Interface Methods
// --------------------------------------------------------------------------

func (m *memStore) Put(key, value []byte, field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Puts++

	if m.closed {
		return disk.ErrClosed
	}

	valueCopy := append([]byte{}, value...)

	var rec *record
	if elem := m.list.Get(string(key)); elem != nil {
		rec = elem.Value.(*record)
	} else {
		rec = &record{}
		m.list.Set(string(key), rec)
	}

	if field == "" {
		rec.value = valueCopy
		return nil
	}
	if rec.fields == nil {
		rec.fields = make(map[string][]byte)
	}
	rec.fields[field] = valueCopy
	return nil
}

func (m *memStore) Get(key []byte, field string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Gets++

	if m.closed {
		return nil, false, disk.ErrClosed
	}

	elem := m.list.Get(string(key))
	if elem == nil {
		return nil, false, nil
	}
	rec := elem.Value.(*record)

	var (
		value []byte
		ok    bool
	)
	if field == "" {
		value, ok = rec.value, rec.value != nil
	} else {
		value, ok = rec.fields[field]
	}
	if !ok {
		return nil, false, nil
	}
	return append([]byte{}, value...), true, nil
}

func (m *memStore) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Deletes++

	if m.closed {
		return disk.ErrClosed
	}

	m.list.Remove(string(key))
	return nil
}

func (m *memStore) Exists(key []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Exists++

	if m.closed {
		return false, disk.ErrClosed
	}

	elem := m.list.Get(string(key))
	return elem != nil && elem.Value.(*record).value != nil, nil
}

func (m *memStore) ListSubkeys(prefix []byte, pattern string, skip, count int, mode disk.ListMode) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Lists++

	if m.closed {
		return nil, disk.ErrClosed
	}

	listPrefix := string(disk.ListPrefix(prefix))
	lister := disk.NewLister(prefix, pattern, skip, count, mode)

	// Find returns the first element >= the prefix
	for elem := m.list.Find(listPrefix); elem != nil; elem = elem.Next() {
		key := elem.Key().(string)
		if !strings.HasPrefix(key, listPrefix) {
			break
		}
		if elem.Value.(*record).value == nil {
			continue // fields without a main record are not listed
		}
		if !lister.Add(key[len(listPrefix):]) {
			break
		}
	}

	return lister.Names(), nil
}

func (m *memStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.list.Init()
	return nil
}

// --------------------------------------------------------------------------
// Statistics
// --------------------------------------------------------------------------

// Stats returns a copy of the call counters
func (m *memStore) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// Len returns the number of stored keys
func (m *memStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.list.Len()
}
