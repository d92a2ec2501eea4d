package idb

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/idkv/lib/codec"
	"github.com/ValentinKolb/idkv/lib/db"
	"github.com/ValentinKolb/idkv/lib/db/engines/maple"
	dbtesting "github.com/ValentinKolb/idkv/lib/db/testing"
	"github.com/ValentinKolb/idkv/lib/disk/memstore"
)

const testNow = int64(1_700_000_000_000)

var errInjected = errors.New("injected write error")

// testStore wraps a memstore and can fail or block main record writes
type testStore struct {
	memstore.Store

	mu      sync.Mutex
	failPut func(key []byte) bool
	gate    chan struct{}

	entered chan struct{} // signaled when a write waits at the gate

	deleteGate    chan struct{}
	deleteEntered chan struct{} // signaled when a delete waits at the delete gate
}

func newTestStore() *testStore {
	return &testStore{
		Store:         memstore.New(),
		entered:       make(chan struct{}, 1),
		deleteEntered: make(chan struct{}, 1),
	}
}

func (s *testStore) Delete(key []byte) error {
	s.mu.Lock()
	gate := s.deleteGate
	s.mu.Unlock()

	if gate != nil {
		select {
		case s.deleteEntered <- struct{}{}:
		default:
		}
		<-gate
	}
	return s.Store.Delete(key)
}

// closeDeleteGate blocks all following deletes until the returned function is called
func (s *testStore) closeDeleteGate() (open func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.deleteGate = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.deleteGate = nil
			s.mu.Unlock()
			close(gate)
		})
	}
}

// waitDeleteEntered waits until a delete blocks at the delete gate
func (s *testStore) waitDeleteEntered(t *testing.T) {
	t.Helper()
	select {
	case <-s.deleteEntered:
	case <-time.After(5 * time.Second):
		t.Fatal("no delete reached the store")
	}
}

func (s *testStore) Put(key, value []byte, field string) error {
	s.mu.Lock()
	gate, fail := s.gate, s.failPut
	s.mu.Unlock()

	if gate != nil && field == "" {
		select {
		case s.entered <- struct{}{}:
		default:
		}
		<-gate
	}
	if fail != nil && fail(key) {
		return errInjected
	}
	return s.Store.Put(key, value, field)
}

// closeGate blocks all following main record writes until the returned function is called
func (s *testStore) closeGate() (open func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.gate = nil
			s.mu.Unlock()
			close(gate)
		})
	}
}

// failOn makes writes of the given store keys fail (no keys = no failures)
func (s *testStore) failOn(keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(keys) == 0 {
		s.failPut = nil
		return
	}
	s.failPut = func(key []byte) bool {
		for _, k := range keys {
			if string(key) == k {
				return true
			}
		}
		return false
	}
}

// waitEntered waits until the flush worker blocks at the gate
func (s *testStore) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-s.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("flush worker did not reach the store")
	}
}

type testEnv struct {
	tier      *Tier
	store     *testStore
	keyspaces []db.Keyspace
	clock     *dbtesting.ManualClock
}

// newTestEnv creates a tier with maple keyspaces on a test store
func newTestEnv(t *testing.T, databases int, configure func(cfg *Config)) *testEnv {
	t.Helper()

	clock := dbtesting.NewManualClock(testNow)
	keyspaces := make([]db.Keyspace, databases)
	for i := range keyspaces {
		keyspaces[i] = maple.NewMapleKeyspace(&maple.Options{
			NumShards:  2,
			GCInterval: -1,
			Clock:      clock.Now,
		})
	}

	cfg := DefaultConfig()
	cfg.Databases = databases
	cfg.Clock = clock.Now
	if configure != nil {
		configure(&cfg)
	}

	store := newTestStore()
	tier, err := New(cfg, store, keyspaces)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	t.Cleanup(func() {
		tier.Close()
		for _, ks := range keyspaces {
			_ = ks.Close()
		}
	})

	return &testEnv{tier: tier, store: store, keyspaces: keyspaces, clock: clock}
}

// write sets key in the keyspace and records the write in the tier
func (e *testEnv) write(t *testing.T, dbIndex int, key string, obj db.Object) {
	t.Helper()
	e.keyspaces[dbIndex].Set(key, obj)
	if err := e.tier.SetKey(dbIndex, key, obj); err != nil {
		t.Fatalf("SetKey(%d, %q) failed: %v", dbIndex, key, err)
	}
}

// flush runs a background flush and waits for its outcome
func (e *testEnv) flush(t *testing.T) FlushOutcome {
	t.Helper()
	job, err := e.tier.BackgroundFlush()
	if err != nil {
		t.Fatalf("BackgroundFlush failed: %v", err)
	}
	return job.Wait()
}

// buffered returns the pending entry of key in the tier buffers
func (e *testEnv) buffered(dbIndex int, key string) (Entry, bool) {
	e.tier.mu.Lock()
	defer e.tier.mu.Unlock()
	return e.tier.buffers[dbIndex].Lookup(key)
}

func (e *testEnv) bufferLen(dbIndex int) (active, shadow int) {
	e.tier.mu.Lock()
	defer e.tier.mu.Unlock()
	return e.tier.buffers[dbIndex].Len()
}

// putRecord writes an encoded record like a flush does
func (e *testEnv) putRecord(key string, obj db.Object, expireAt int64) {
	_ = e.store.Store.Put([]byte(key), codec.Encode(obj, expireAt), "")
	_ = e.store.Store.Put([]byte(key), []byte(codec.MarkerNativeName), codec.TypeField)
}

// diskString decodes the record of key as a string ("" if absent or unreadable)
func (e *testEnv) diskString(key string) string {
	record, found, err := e.store.Store.Get([]byte(key), "")
	if err != nil || !found {
		return ""
	}
	obj, _, err := codec.Decode(record, e.clock.Now())
	if err != nil {
		return ""
	}
	return stringOf(obj)
}

func stringOf(obj db.Object) string {
	if s, ok := obj.(db.String); ok {
		return string(s)
	}
	return ""
}
