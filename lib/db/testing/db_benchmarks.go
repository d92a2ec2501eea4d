package testing

import (
	"bytes"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/idkv/lib/db"
)

// RunKeyspaceBenchmarks runs all benchmarks for a Keyspace implementation
func RunKeyspaceBenchmarks(b *testing.B, name string, factory KeyspaceFactory) {

	b.Run("Set", func(b *testing.B) {
		benchmarkSet(b, factory)
	})

	b.Run("SetWithExpiry", func(b *testing.B) {
		benchmarkSetWithExpiry(b, factory)
	})

	b.Run("Get", func(b *testing.B) {
		benchmarkGet(b, factory)
	})

	b.Run("Has(not)", func(b *testing.B) {
		benchmarkHasNot(b, factory)
	})

	b.Run("Update", func(b *testing.B) {
		benchmarkUpdate(b, factory)
	})

	b.Run("SaveLoad", func(b *testing.B) {
		benchmarkSaveLoad(b, factory)
	})

	b.Run("MixedUsage", func(b *testing.B) {
		benchmarkMixedUsage(b, factory)
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// Benchmark for Set operation
func benchmarkSet(b *testing.B, factory KeyspaceFactory) {
	keyspace, _ := newKeyspace(b, factory)
	value := db.String("benchmark-value")

	var counter atomic.Uint64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			keyspace.Set(fmt.Sprintf("key-%d", counter.Add(1)), value)
		}
	})
}

// Benchmark for Set followed by SetExpireAt
func benchmarkSetWithExpiry(b *testing.B, factory KeyspaceFactory) {
	keyspace, clock := newKeyspace(b, factory)
	value := db.String("benchmark-value")

	var counter atomic.Uint64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			key := fmt.Sprintf("key-%d", counter.Add(1))
			keyspace.Set(key, value)
			keyspace.SetExpireAt(key, clock.Now()+60_000)
		}
	})
}

// Benchmark for Get operation on existing keys
func benchmarkGet(b *testing.B, factory KeyspaceFactory) {
	keyspace, _ := newKeyspace(b, factory)

	const numKeys = 10_000
	for i := 0; i < numKeys; i++ {
		keyspace.Set(fmt.Sprintf("key-%d", i), db.String("benchmark-value"))
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			keyspace.Get(fmt.Sprintf("key-%d", r.Intn(numKeys)))
		}
	})
}

// Benchmark for Has on absent keys
func benchmarkHasNot(b *testing.B, factory KeyspaceFactory) {
	keyspace, _ := newKeyspace(b, factory)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			keyspace.Has(fmt.Sprintf("absent-%d", r.Intn(1_000_000)))
		}
	})
}

// Benchmark for Update appending to a small set of lists
func benchmarkUpdate(b *testing.B, factory KeyspaceFactory) {
	keyspace, _ := newKeyspace(b, factory)
	item := []byte("item")

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			keyspace.Update(fmt.Sprintf("list-%d", r.Intn(1000)), func(old db.Object, loaded bool) db.Object {
				if !loaded || len(old.(db.List)) > 16 {
					return db.List{item}
				}
				return append(old.Clone().(db.List), item)
			})
		}
	})
}

// Benchmark for Save and Load of a keyspace with 100k keys
func benchmarkSaveLoad(b *testing.B, factory KeyspaceFactory) {
	keyspace, _ := newKeyspace(b, factory)
	for i := 0; i < 100_000; i++ {
		keyspace.Set(fmt.Sprintf("key-%d", i), db.String("benchmark-value"))
	}

	var snapshot bytes.Buffer
	if err := keyspace.Save(&snapshot); err != nil {
		b.Fatalf("Save failed: %v", err)
	}

	b.Run("Save", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			var buf bytes.Buffer
			if err := keyspace.Save(&buf); err != nil {
				b.Fatalf("Save failed: %v", err)
			}
		}
	})

	b.Run("Load", func(b *testing.B) {
		target, _ := newKeyspace(b, factory)
		for i := 0; i < b.N; i++ {
			if err := target.Load(bytes.NewReader(snapshot.Bytes())); err != nil {
				b.Fatalf("Load failed: %v", err)
			}
		}
	})
}

// Benchmark for a read heavy mix of operations
func benchmarkMixedUsage(b *testing.B, factory KeyspaceFactory) {
	keyspace, clock := newKeyspace(b, factory)

	const numKeys = 10_000
	for i := 0; i < numKeys; i++ {
		keyspace.Set(fmt.Sprintf("key-%d", i), db.String("benchmark-value"))
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			key := fmt.Sprintf("key-%d", r.Intn(numKeys))
			switch op := r.Intn(100); {
			case op < 70:
				keyspace.Get(key)
			case op < 90:
				keyspace.Set(key, db.String("benchmark-value"))
			case op < 95:
				keyspace.SetExpireAt(key, clock.Now()+60_000)
			default:
				keyspace.Delete(key)
			}
		}
	})
}
