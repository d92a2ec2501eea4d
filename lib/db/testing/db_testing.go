package testing

import (
	"bytes"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/idkv/lib/db"
)

// KeyspaceFactory creates a new Keyspace instance that reads the time from clock
type KeyspaceFactory func(clock func() int64) db.Keyspace

// --------------------------------------------------------------------------
// Manual Clock
// --------------------------------------------------------------------------

// ManualClock is a clock in unix milliseconds that only moves when told to.
// It is safe for concurrent use.
type ManualClock struct {
	now atomic.Int64
}

// NewManualClock creates a clock starting at the given unix ms timestamp
func NewManualClock(start int64) *ManualClock {
	c := &ManualClock{}
	c.now.Store(start)
	return c
}

// Now returns the current time of the clock
func (c *ManualClock) Now() int64 { return c.now.Load() }

// Advance moves the clock forward by d milliseconds
func (c *ManualClock) Advance(d int64) { c.now.Add(d) }

// Set moves the clock to the given timestamp
func (c *ManualClock) Set(ms int64) { c.now.Store(ms) }

// --------------------------------------------------------------------------
// Test Suite
// --------------------------------------------------------------------------

const clockStart = int64(1_700_000_000_000)

// RunKeyspaceTests runs a comprehensive test suite for a Keyspace implementation.
func RunKeyspaceTests(t *testing.T, name string, factory KeyspaceFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, factory)
		})

		t.Run("Add", func(t *testing.T) {
			testAdd(t, factory)
		})

		t.Run("Update", func(t *testing.T) {
			testUpdate(t, factory)
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory)
		})

		t.Run("KeyExpiry", func(t *testing.T) {
			testKeyExpiry(t, factory)
		})

		t.Run("Persist", func(t *testing.T) {
			testPersist(t, factory)
		})

		t.Run("Touch", func(t *testing.T) {
			testTouch(t, factory)
		})

		t.Run("Evict", func(t *testing.T) {
			testEvict(t, factory)
		})

		t.Run("Range", func(t *testing.T) {
			testRange(t, factory)
		})

		t.Run("ActiveExpiry", func(t *testing.T) {
			testActiveExpiry(t, factory)
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("LoadInvalid", func(t *testing.T) {
			testLoadInvalid(t, factory)
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory)
		})

		t.Run("RealisticUsage", func(t *testing.T) {
			testRealisticUsage(t, factory)
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the keyspace supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, keyspace db.Keyspace, feature db.Feature) {
	if !keyspace.SupportsFeature(feature) {
		t.Skip()
	}
}

func newKeyspace(t testing.TB, factory KeyspaceFactory) (db.Keyspace, *ManualClock) {
	clock := NewManualClock(clockStart)
	keyspace := factory(clock.Now)
	t.Cleanup(func() {
		keyspace.Close()
	})
	return keyspace, clock
}

func stringOf(t *testing.T, obj db.Object) []byte {
	t.Helper()
	s, ok := obj.(db.String)
	if !ok {
		t.Fatalf("Expected a string object, got %T", obj)
	}
	return s
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, factory KeyspaceFactory) {
	keyspace, _ := newKeyspace(t, factory)

	testKey := "test-key"
	testValue1 := []byte("test-value1")
	testValue2 := []byte("test-value2")

	keyspace.Set(testKey, db.String(testValue1))

	result, exists := keyspace.Get(testKey)
	if !exists {
		t.Fatalf("Expected key %s to exist after Set", testKey)
	}
	if !bytes.Equal(stringOf(t, result), testValue1) {
		t.Errorf("Expected value %s, got %s", testValue1, result)
	}

	keyspace.Set(testKey, db.String(testValue2))

	result, exists = keyspace.Get(testKey)
	if !exists {
		t.Fatalf("Expected key %s to exist after Set", testKey)
	}
	if !bytes.Equal(stringOf(t, result), testValue2) {
		t.Errorf("Expected value %s, got %s", testValue2, result)
	}

	if _, exists = keyspace.Get("nonexistent-key"); exists {
		t.Errorf("Expected nonexistent key to return exists=false")
	}

	// all object types are stored as given
	objects := map[string]db.Object{
		"list": db.List{[]byte("a"), []byte("b")},
		"set":  db.NewSet("a", "b"),
		"hash": db.Hash{"f": []byte("v")},
		"zset": db.ZSet{"m": 2.5},
	}
	for key, obj := range objects {
		keyspace.Set(key, obj)
	}
	for key, obj := range objects {
		result, exists := keyspace.Get(key)
		if !exists {
			t.Errorf("Expected key %s to exist", key)
			continue
		}
		if !reflect.DeepEqual(result, obj) {
			t.Errorf("Object mismatch for %s: got %v, want %v", key, result, obj)
		}
	}

	if keyspace.Len() != 5 {
		t.Errorf("Expected Len() = 5, got %d", keyspace.Len())
	}
}

func testAdd(t *testing.T, factory KeyspaceFactory) {
	keyspace, clock := newKeyspace(t, factory)

	if !keyspace.Add("k", db.String("v1")) {
		t.Errorf("Expected Add to insert an absent key")
	}
	if keyspace.Add("k", db.String("v2")) {
		t.Errorf("Expected Add to reject an existing key")
	}

	result, _ := keyspace.Get("k")
	if !bytes.Equal(stringOf(t, result), []byte("v1")) {
		t.Errorf("Expected the first value to be kept, got %s", result)
	}

	// an expired key counts as absent
	keyspace.SetExpireAt("k", clock.Now()+10)
	clock.Advance(10)
	if !keyspace.Add("k", db.String("v3")) {
		t.Errorf("Expected Add to replace an expired key")
	}
	if keyspace.ExpireAt("k") != db.NoExpire {
		t.Errorf("Expected the added key to have no expiration")
	}
}

func testUpdate(t *testing.T, factory KeyspaceFactory) {
	keyspace, clock := newKeyspace(t, factory)

	push := func(item string) func(db.Object, bool) db.Object {
		return func(old db.Object, loaded bool) db.Object {
			var list db.List
			if loaded {
				list = old.Clone().(db.List)
			}
			return append(list, []byte(item))
		}
	}

	keyspace.Update("list", push("a"))
	keyspace.Update("list", push("b"))

	result, _ := keyspace.Get("list")
	want := db.List{[]byte("a"), []byte("b")}
	if !reflect.DeepEqual(result, want) {
		t.Errorf("Expected %v, got %v", want, result)
	}

	// expiration is kept on update
	expireAt := clock.Now() + 1000
	keyspace.SetExpireAt("list", expireAt)
	keyspace.Update("list", push("c"))
	if got := keyspace.ExpireAt("list"); got != expireAt {
		t.Errorf("Expected expiration %d to be kept, got %d", expireAt, got)
	}

	// returning nil removes the key
	keyspace.Update("list", func(db.Object, bool) db.Object { return nil })
	if keyspace.Has("list") {
		t.Errorf("Expected key to be removed when update returns nil")
	}

	// nil on an absent key does not create it
	keyspace.Update("absent", func(_ db.Object, loaded bool) db.Object {
		if loaded {
			t.Errorf("Expected absent key to be reported as not loaded")
		}
		return nil
	})
	if keyspace.Has("absent") {
		t.Errorf("Expected absent key to stay absent")
	}
}

func testDelete(t *testing.T, factory KeyspaceFactory) {
	keyspace, _ := newKeyspace(t, factory)

	keyspace.Set("delete-test-key", db.String("v"))

	if !keyspace.Delete("delete-test-key") {
		t.Errorf("Expected Delete to report an existing key")
	}
	if keyspace.Has("delete-test-key") {
		t.Errorf("Expected key to not exist after Delete")
	}
	if keyspace.Delete("delete-test-key") {
		t.Errorf("Expected Delete to report false for an absent key")
	}
	if keyspace.ExpireAt("delete-test-key") != db.NoExpire {
		t.Errorf("Expected no expiration for a deleted key")
	}
}

func testKeyExpiry(t *testing.T, factory KeyspaceFactory) {
	keyspace, clock := newKeyspace(t, factory)
	requireFeature(t, keyspace, db.FeatureExpire)

	testKey := "expiring-key"
	keyspace.Set(testKey, db.String("expiring-value"))

	if !keyspace.SetExpireAt(testKey, clock.Now()+100) {
		t.Fatalf("Expected SetExpireAt to succeed on an existing key")
	}
	if keyspace.SetExpireAt("nonexistent-key", clock.Now()+100) {
		t.Errorf("Expected SetExpireAt to fail on an absent key")
	}

	clock.Advance(99)
	if !keyspace.Has(testKey) {
		t.Errorf("Key should still exist 1ms before its expiration")
	}
	if got := keyspace.ExpireAt(testKey); got != clockStart+100 {
		t.Errorf("Expected expiration %d, got %d", clockStart+100, got)
	}

	// the key is logically absent at its expiration timestamp
	clock.Advance(1)
	if _, exists := keyspace.Get(testKey); exists {
		t.Errorf("Key should have expired when now == expireAt")
	}
	if keyspace.Has(testKey) {
		t.Errorf("Has should not report an expired key")
	}

	// Set clears the expiration
	keyspace.Set(testKey, db.String("v"))
	keyspace.SetExpireAt(testKey, clock.Now()+10)
	keyspace.Set(testKey, db.String("v2"))
	clock.Advance(100)
	if !keyspace.Has(testKey) {
		t.Errorf("Set should have cleared the expiration")
	}

	// an expiration in the past removes the key
	keyspace.SetExpireAt(testKey, clock.Now()-1)
	if keyspace.Has(testKey) {
		t.Errorf("Expected key with past expiration to be absent")
	}

	// many keys with different expirations
	numKeys := 1000
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("expire-key-%d", i)
		keyspace.Set(key, db.String(key))
		keyspace.SetExpireAt(key, clock.Now()+int64(i%100)+1)
	}
	for offset := int64(0); offset <= 100; offset += 10 {
		now := clock.Now()
		for i := 0; i < numKeys; i++ {
			key := fmt.Sprintf("expire-key-%d", i)
			expired := int64(i%100)+1 <= offset
			if keyspace.Has(key) == expired {
				t.Fatalf("Key %s: expected expired=%v at offset %d", key, expired, offset)
			}
		}
		clock.Set(now + 10)
	}
}

func testPersist(t *testing.T, factory KeyspaceFactory) {
	keyspace, clock := newKeyspace(t, factory)
	requireFeature(t, keyspace, db.FeatureExpire)

	keyspace.Set("k", db.String("v"))
	keyspace.SetExpireAt("k", clock.Now()+10)

	if !keyspace.Persist("k") {
		t.Errorf("Expected Persist to succeed on an existing key")
	}
	if keyspace.ExpireAt("k") != db.NoExpire {
		t.Errorf("Expected no expiration after Persist")
	}

	clock.Advance(100)
	if !keyspace.Has("k") {
		t.Errorf("Expected persisted key to survive its former expiration")
	}
	if keyspace.Persist("absent") {
		t.Errorf("Expected Persist to fail on an absent key")
	}
}

func testTouch(t *testing.T, factory KeyspaceFactory) {
	keyspace, _ := newKeyspace(t, factory)
	requireFeature(t, keyspace, db.FeatureTouch)

	keyspace.Set("k", db.String("v"))
	keyspace.Touch("k")
	if !keyspace.Has("k") {
		t.Errorf("Expected Touch to keep the key")
	}

	keyspace.Touch("absent")
	if keyspace.Has("absent") {
		t.Errorf("Expected Touch to not create absent keys")
	}
}

func testEvict(t *testing.T, factory KeyspaceFactory) {
	keyspace, clock := newKeyspace(t, factory)
	requireFeature(t, keyspace, db.FeatureEvict)

	// fewer keys than one eviction sample, so the victims are exact
	for i := 0; i < 10; i++ {
		keyspace.Set(fmt.Sprintf("key-%d", i), db.String("v"))
		clock.Advance(1)
	}
	keyspace.Touch("key-0")

	if evicted := keyspace.Evict(3); evicted != 3 {
		t.Fatalf("Expected 3 evicted keys, got %d", evicted)
	}
	if keyspace.Len() != 7 {
		t.Errorf("Expected 7 keys after eviction, got %d", keyspace.Len())
	}
	if !keyspace.Has("key-0") {
		t.Errorf("Expected the touched key to survive")
	}
	for _, key := range []string{"key-1", "key-2", "key-3"} {
		if keyspace.Has(key) {
			t.Errorf("Expected %s to be evicted", key)
		}
	}

	// an expired key is either collected or evicted, never counted as live
	keyspace.SetExpireAt("key-9", clock.Now()+1)
	clock.Advance(2)
	keyspace.Evict(1)
	if keyspace.Has("key-9") {
		t.Errorf("Expected the expired key to be gone")
	}
	if keyspace.Len() > 6 {
		t.Errorf("Expected at most 6 keys, got %d", keyspace.Len())
	}

	keyspace.Evict(100)
	if keyspace.Len() != 0 {
		t.Errorf("Expected an empty keyspace, got %d keys", keyspace.Len())
	}
}

func testRange(t *testing.T, factory KeyspaceFactory) {
	keyspace, clock := newKeyspace(t, factory)

	for i := 0; i < 100; i++ {
		keyspace.Set(fmt.Sprintf("key-%d", i), db.String("v"))
	}
	keyspace.SetExpireAt("key-0", clock.Now()+5)
	keyspace.SetExpireAt("key-1", clock.Now()+50)
	clock.Advance(10)

	seen := make(map[string]int64)
	keyspace.Range(func(key string, obj db.Object, expireAt int64) bool {
		seen[key] = expireAt
		return true
	})

	if len(seen) != 99 {
		t.Errorf("Expected 99 keys in Range, got %d", len(seen))
	}
	if _, ok := seen["key-0"]; ok {
		t.Errorf("Range should not report expired keys")
	}
	if seen["key-1"] != clockStart+50 {
		t.Errorf("Expected expiration %d for key-1, got %d", clockStart+50, seen["key-1"])
	}

	count := 0
	keyspace.Range(func(string, db.Object, int64) bool {
		count++
		return count < 10
	})
	if count != 10 {
		t.Errorf("Expected Range to stop after 10 keys, got %d", count)
	}
}

func testActiveExpiry(t *testing.T, factory KeyspaceFactory) {
	keyspace, clock := newKeyspace(t, factory)
	requireFeature(t, keyspace, db.FeatureGarbageCollect)

	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("gc-key-%d", i)
		keyspace.Set(key, db.String("v"))
		keyspace.SetExpireAt(key, clock.Now()+1)
	}
	keyspace.Set("keep", db.String("v"))
	clock.Advance(1)

	// the keys are collected without being accessed
	deadline := time.Now().Add(5 * time.Second)
	for keyspace.Len() > 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if keyspace.Len() != 1 {
		t.Errorf("Expected expired keys to be collected, %d keys left", keyspace.Len())
	}
	if !keyspace.Has("keep") {
		t.Errorf("Expected non-expiring key to be kept")
	}
}

func testSaveLoad(t *testing.T, factory KeyspaceFactory) {
	keyspace, clock := newKeyspace(t, factory)
	keyspace2, clock2 := newKeyspace(t, factory)

	requireFeature(t, keyspace, db.FeatureSave|db.FeatureLoad)

	numEntries := 1000
	for i := 0; i < numEntries; i++ {
		key := fmt.Sprintf("save-load-test-key-%d", i)
		keyspace.Set(key, db.String(fmt.Sprintf("save-load-test-value-%d", i)))
	}
	keyspace.Set("hash", db.Hash{"f": []byte("v")})
	keyspace.Set("ttl", db.String("v"))
	keyspace.SetExpireAt("ttl", clock.Now()+1000)
	keyspace.Set("short-ttl", db.String("v"))
	keyspace.SetExpireAt("short-ttl", clock.Now()+10)

	var buf bytes.Buffer
	if err := keyspace.Save(&buf); err != nil {
		t.Fatalf("Unexpected error during Save: %v", err)
	}

	// the short ttl key expires between save and load
	clock2.Set(clock.Now() + 100)
	if err := keyspace2.Load(&buf); err != nil {
		t.Fatalf("Unexpected error during Load: %v", err)
	}

	for i := 0; i < numEntries; i++ {
		key := fmt.Sprintf("save-load-test-key-%d", i)
		expected := []byte(fmt.Sprintf("save-load-test-value-%d", i))

		actual, exists := keyspace2.Get(key)
		if !exists {
			t.Errorf("Key %s not found after Load", key)
			continue
		}
		if !bytes.Equal(stringOf(t, actual), expected) {
			t.Errorf("Value mismatch for key %s: expected %s, got %s", key, expected, actual)
		}
	}

	if obj, ok := keyspace2.Get("hash"); !ok || !reflect.DeepEqual(obj, db.Hash{"f": []byte("v")}) {
		t.Errorf("Expected hash to be restored, got %v", obj)
	}
	if got := keyspace2.ExpireAt("ttl"); got != clockStart+1000 {
		t.Errorf("Expected expiration %d to be restored, got %d", clockStart+1000, got)
	}
	if keyspace2.Has("short-ttl") {
		t.Errorf("Expected key expired before Load to be skipped")
	}

	// the original is not affected
	if keyspace.Len() != numEntries+3 {
		t.Errorf("Expected original keyspace to keep %d keys, got %d", numEntries+3, keyspace.Len())
	}
}

func testLoadInvalid(t *testing.T, factory KeyspaceFactory) {
	keyspace, _ := newKeyspace(t, factory)
	requireFeature(t, keyspace, db.FeatureLoad)

	keyspace.Set("k", db.String("v"))

	if err := keyspace.Load(bytes.NewReader([]byte("not a snapshot"))); err == nil {
		t.Errorf("Expected error for invalid snapshot")
	}
	if err := keyspace.Load(bytes.NewReader(nil)); err == nil {
		t.Errorf("Expected error for empty snapshot")
	}
	if !keyspace.Has("k") {
		t.Errorf("Expected failed Load to keep the existing content")
	}
}

func testEdgeCases(t *testing.T, factory KeyspaceFactory) {
	keyspace, _ := newKeyspace(t, factory)

	keyspace.Set("", db.String("value for empty key"))
	if result, exists := keyspace.Get(""); !exists {
		t.Errorf("Empty key not found after Set")
	} else if !bytes.Equal(stringOf(t, result), []byte("value for empty key")) {
		t.Errorf("Value mismatch for empty key")
	}

	keyspace.Set("nil-value-key", db.String(nil))
	if result, exists := keyspace.Get("nil-value-key"); !exists {
		t.Errorf("Key for nil value not found after Set")
	} else if len(stringOf(t, result)) != 0 {
		t.Errorf("Nil value resulted in non-empty value: %v", result)
	}

	largeKey := string(make([]byte, 1000))
	keyspace.Set(largeKey, db.String("value for large key"))
	if !keyspace.Has(largeKey) {
		t.Errorf("Large key not found after Set")
	}

	largeValue := make([]byte, 10*1024*1024)
	for i := range largeValue {
		largeValue[i] = byte(i % 256)
	}
	keyspace.Set("large-value-key", db.String(largeValue))
	if result, exists := keyspace.Get("large-value-key"); !exists {
		t.Errorf("Key for large value not found after Set")
	} else if !bytes.Equal(stringOf(t, result), largeValue) {
		t.Errorf("Large value mismatch")
	}
}

func testRealisticUsage(t *testing.T, factory KeyspaceFactory) {
	keyspace, clock := newKeyspace(t, factory)

	numWorkers := 8
	opsPerWorker := 2000

	var wg sync.WaitGroup
	wg.Add(numWorkers)

	for w := 0; w < numWorkers; w++ {
		go func(workerId int) {
			defer wg.Done()

			for i := 0; i < opsPerWorker; i++ {
				// hot keys are shared between workers, others are private
				key := fmt.Sprintf("key-%d-%d", workerId, i)
				if i%5 == 0 {
					key = fmt.Sprintf("hot-key-%d", i%50)
				}

				switch i % 10 {
				case 0, 1, 2, 3, 4:
					keyspace.Set(key, db.String(key))
				case 5:
					keyspace.Update(key, func(old db.Object, loaded bool) db.Object {
						var list db.List
						if loaded {
							if l, ok := old.(db.List); ok {
								list = l.Clone().(db.List)
							}
						}
						return append(list, []byte(key))
					})
				case 6, 7:
					keyspace.Get(key)
				case 8:
					keyspace.SetExpireAt(key, clock.Now()+int64(i%3))
				case 9:
					keyspace.Delete(key)
				}
			}
		}(w)
	}

	wg.Wait()

	// every key reported by Range must be readable
	keyspace.Range(func(key string, obj db.Object, _ int64) bool {
		got, ok := keyspace.Get(key)
		if !ok {
			t.Errorf("Consistency error: Key %s listed by Range but not found", key)
			return true
		}
		if got.Type() != obj.Type() {
			t.Errorf("Consistency error: Key %s changed type", key)
		}
		return true
	})
}
