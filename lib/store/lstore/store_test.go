package lstore

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/ValentinKolb/idkv/lib/db"
	"github.com/ValentinKolb/idkv/lib/db/engines/maple"
	dbtesting "github.com/ValentinKolb/idkv/lib/db/testing"
	"github.com/ValentinKolb/idkv/lib/disk/memstore"
	"github.com/ValentinKolb/idkv/lib/idb"
	"github.com/ValentinKolb/idkv/lib/store"
	"github.com/cockroachdb/pebble/vfs"
)

const testNow = int64(1_700_000_000_000)

type testSetup struct {
	store *LocalStore
	disk  memstore.Store
	clock *dbtesting.ManualClock
}

func newTestSetup(t *testing.T, configure func(opts *Options)) *testSetup {
	t.Helper()

	clock := dbtesting.NewManualClock(testNow)
	disk := memstore.New()

	cfg := idb.DefaultConfig()
	cfg.Databases = 4
	cfg.Clock = clock.Now
	opts := Options{Tier: cfg, Disk: disk}
	if configure != nil {
		configure(&opts)
	}

	factory := func(int) db.Keyspace {
		return maple.NewMapleKeyspace(&maple.Options{NumShards: 2, GCInterval: -1, Clock: clock.Now})
	}

	s, err := NewLocalStore(factory, opts)
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	return &testSetup{store: s, disk: disk, clock: clock}
}

func codeOf(err error) store.RetCode {
	var storeErr *store.Error
	if errors.As(err, &storeErr) {
		return storeErr.Code
	}
	return store.RetCSuccess
}

func TestSetGetDelete(t *testing.T) {
	s := newTestSetup(t, nil).store

	if err := s.Set(0, "k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	value, ok, err := s.Get(0, "k")
	if err != nil || !ok || string(value) != "v" {
		t.Fatalf("Get = %q, %v, %v", value, ok, err)
	}
	if _, ok, _ := s.Get(1, "k"); ok {
		t.Error("key visible in another database")
	}

	if ok, _ := s.Has(0, "k"); !ok {
		t.Error("Has missed the key")
	}
	if deleted, err := s.Delete(0, "k"); err != nil || !deleted {
		t.Errorf("Delete = %v, %v", deleted, err)
	}
	if deleted, _ := s.Delete(0, "k"); deleted {
		t.Error("second Delete reported a deletion")
	}
	if ok, _ := s.Has(0, "k"); ok {
		t.Error("deleted key still exists")
	}
}

func TestReadThrough(t *testing.T) {
	setup := newTestSetup(t, nil)
	s := setup.store

	_ = s.Set(2, "user/1", []byte("alice"))
	_, _ = s.RPush(2, "list", []byte("a"), []byte("b"))
	if n, err := s.FlushAll(); err != nil || n != 2 {
		t.Fatalf("FlushAll = %d, %v", n, err)
	}

	// evict from memory
	s.keyspaces[2].Delete("user/1")
	s.keyspaces[2].Delete("list")

	value, ok, err := s.Get(2, "user/1")
	if err != nil || !ok || string(value) != "alice" {
		t.Fatalf("Get after eviction = %q, %v, %v", value, ok, err)
	}
	if n, err := s.RPush(2, "list", []byte("c")); err != nil || n != 3 {
		t.Errorf("RPush on an evicted list = %d, %v", n, err)
	}
	if ok, _ := setup.disk.Exists([]byte(".db2/user/1")); !ok {
		t.Error("record not stored in the namespace of db 2")
	}
}

func TestDeleteEvictedKey(t *testing.T) {
	setup := newTestSetup(t, nil)
	s := setup.store

	_ = s.Set(0, "k", []byte("v"))
	_, _ = s.FlushAll()
	s.keyspaces[0].Delete("k")

	if deleted, err := s.Delete(0, "k"); err != nil || !deleted {
		t.Fatalf("Delete = %v, %v", deleted, err)
	}
	if _, ok, _ := s.Get(0, "k"); ok {
		t.Error("deleted key loaded from disk")
	}
	_, _ = s.FlushAll()
	if ok, _ := setup.disk.Exists([]byte("k")); ok {
		t.Error("record survived the flush of the delete")
	}
}

func TestExpiration(t *testing.T) {
	setup := newTestSetup(t, nil)
	s := setup.store

	_ = s.SetE(0, "short", []byte("v"), 100)
	_ = s.Set(0, "long", []byte("v"))
	if ok, err := s.Expire(0, "long", 10_000); err != nil || !ok {
		t.Fatalf("Expire = %v, %v", ok, err)
	}
	if ok, _ := s.Expire(0, "missing", 10); ok {
		t.Error("Expire on a missing key succeeded")
	}

	setup.clock.Advance(100)
	if _, ok, _ := s.Get(0, "short"); ok {
		t.Error("expired key returned")
	}
	if _, ok, _ := s.Get(0, "long"); !ok {
		t.Error("key expired too early")
	}

	// the expiration survives the disk round trip
	_, _ = s.FlushAll()
	s.keyspaces[0].Delete("long")
	if _, ok, _ := s.Get(0, "long"); !ok {
		t.Fatal("key not loaded from disk")
	}
	if exp := s.keyspaces[0].ExpireAt("long"); exp != testNow+10_000 {
		t.Errorf("expiration = %d, want %d", exp, testNow+10_000)
	}

	if ok, _ := s.Expire(0, "long", 0); !ok {
		t.Error("Expire 0 did not find the key")
	}
	if ok, _ := s.Has(0, "long"); ok {
		t.Error("Expire 0 did not delete the key")
	}
}

func TestTypes(t *testing.T) {
	s := newTestSetup(t, nil).store

	if n, err := s.RPush(0, "list", []byte("a")); err != nil || n != 1 {
		t.Fatalf("RPush = %d, %v", n, err)
	}
	if n, _ := s.RPush(0, "list", []byte("b"), []byte("c")); n != 3 {
		t.Errorf("RPush length = %d, want 3", n)
	}

	if created, err := s.HSet(0, "hash", "f", []byte("1")); err != nil || !created {
		t.Fatalf("HSet = %v, %v", created, err)
	}
	if created, _ := s.HSet(0, "hash", "f", []byte("2")); created {
		t.Error("HSet reported an existing field as new")
	}

	if _, _, err := s.Get(0, "list"); codeOf(err) != store.RetCWrongType {
		t.Errorf("Get on a list = %v, want RetCWrongType", err)
	}
	if _, err := s.RPush(0, "hash", []byte("x")); codeOf(err) != store.RetCWrongType {
		t.Errorf("RPush on a hash = %v, want RetCWrongType", err)
	}
	_ = s.Set(0, "str", []byte("v"))
	if _, err := s.HSet(0, "str", "f", []byte("x")); codeOf(err) != store.RetCWrongType {
		t.Errorf("HSet on a string = %v, want RetCWrongType", err)
	}
}

func TestInvalidArguments(t *testing.T) {
	s := newTestSetup(t, nil).store

	if err := s.Set(9, "k", []byte("v")); codeOf(err) != store.RetCInvalidArgument {
		t.Errorf("Set on db 9 = %v", err)
	}
	if err := s.Set(0, ".db1/k", []byte("v")); codeOf(err) != store.RetCInvalidArgument {
		t.Errorf("Set of a reserved key = %v", err)
	}
	if ok, _ := s.Has(0, ".db1/k"); ok {
		t.Error("rejected key was written to memory")
	}

	// an expiration beyond the int64 range must not wrap into the past
	if err := s.SetE(0, "huge", []byte("v"), math.MaxUint64); codeOf(err) != store.RetCInvalidArgument {
		t.Errorf("SetE with a huge expiration = %v", err)
	}
	if ok, _ := s.Has(0, "huge"); ok {
		t.Error("key with a rejected expiration was written")
	}
	if err := s.Set(0, "k", []byte("v")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := s.Expire(0, "k", math.MaxInt64); codeOf(err) != store.RetCInvalidArgument {
		t.Errorf("Expire with a huge expiration = %v", err)
	}
	if v, ok, _ := s.Get(0, "k"); !ok || string(v) != "v" {
		t.Errorf("Get after a rejected Expire = %q, %v", v, ok)
	}
}

func TestFlushCommands(t *testing.T) {
	s := newTestSetup(t, nil).store

	_ = s.Set(0, "a", []byte("1"))
	_ = s.Set(1, "b", []byte("2"))

	keys, err := s.BackgroundFlush()
	if err != nil || keys != 2 {
		t.Fatalf("BackgroundFlush = %d, %v", keys, err)
	}
	if job := s.Tier().CurrentJob(); job != nil {
		job.Wait()
	}

	if err := s.CancelFlush(); codeOf(err) != store.RetCInvalidOperation {
		t.Errorf("CancelFlush while idle = %v", err)
	}

	info, err := s.Info()
	if err != nil {
		t.Fatal(err)
	}
	if info.Tier.Dirty != 0 || info.Tier.LastStatus != "ok" || len(info.Databases) != 4 {
		t.Errorf("unexpected info: %+v", info)
	}

	names, err := s.Subkeys(0, "", "*", 0, 0)
	if err != nil || !reflect.DeepEqual(names, []string{"a"}) {
		t.Errorf("Subkeys = %v, %v", names, err)
	}
}

func TestDisabledTier(t *testing.T) {
	s := newTestSetup(t, func(opts *Options) {
		opts.Tier.Enabled = false
		opts.Disk = nil
	}).store

	if err := s.Set(0, ".db1/k", []byte("v")); err != nil {
		t.Errorf("memory only store rejected a key: %v", err)
	}
	if _, ok, _ := s.Get(0, ".db1/k"); !ok {
		t.Error("key missing")
	}

	_, err := s.BackgroundFlush()
	if codeOf(err) != store.RetCDisabled || !strings.Contains(err.Error(), "set disk-enabled to true") {
		t.Errorf("BackgroundFlush = %v", err)
	}
	if _, err := s.FlushAll(); codeOf(err) != store.RetCDisabled {
		t.Errorf("FlushAll = %v", err)
	}
	if err := s.CancelFlush(); codeOf(err) != store.RetCDisabled {
		t.Errorf("CancelFlush = %v", err)
	}
	if _, err := s.Subkeys(0, "", "", 0, 0); codeOf(err) != store.RetCDisabled {
		t.Errorf("Subkeys = %v", err)
	}
}

func TestSnapshots(t *testing.T) {
	fs := vfs.NewMem()
	configure := func(opts *Options) {
		opts.SnapshotDir = "snapshots"
		opts.SnapshotFS = fs
	}

	first := newTestSetup(t, configure).store
	_ = first.Set(0, "a", []byte("1"))
	_, _ = first.HSet(3, "h", "f", []byte("v"))
	if err := first.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	second := newTestSetup(t, configure).store
	if value, ok, _ := second.Get(0, "a"); !ok || string(value) != "1" {
		t.Errorf("restored a = %q, %v", value, ok)
	}
	if ok, _ := second.Has(3, "h"); !ok {
		t.Error("hash not restored")
	}

	noSnapshots := newTestSetup(t, nil).store
	if err := noSnapshots.Save(); codeOf(err) != store.RetCUnsupportedOperation {
		t.Errorf("Save without a directory = %v", err)
	}
}

func TestCloseFlushesDirtyKeys(t *testing.T) {
	setup := newTestSetup(t, nil)
	_ = setup.store.Set(0, "k", []byte("v"))

	if err := setup.store.Close(); err != nil {
		t.Fatal(err)
	}
	if ok, _ := setup.disk.Exists([]byte("k")); !ok {
		t.Error("dirty key not written on close")
	}
}

func TestEvictIdleKeys(t *testing.T) {
	t.Run("ReadThroughAfterEviction", func(t *testing.T) {
		setup := newTestSetup(t, func(opts *Options) { opts.MaxKeys = 2 })
		s := setup.store

		for i := 0; i < 5; i++ {
			setup.clock.Advance(1)
			if err := s.Set(1, fmt.Sprintf("k%d", i), []byte(fmt.Sprintf("v%d", i))); err != nil {
				t.Fatal(err)
			}
		}
		if n := s.keyspaces[1].Len(); n > 2 {
			t.Fatalf("keyspace holds %d keys, want at most 2", n)
		}

		// evicted keys are served from the buffers before the flush and from disk after it
		for round := 0; round < 2; round++ {
			for i := 0; i < 5; i++ {
				value, ok, err := s.Get(1, fmt.Sprintf("k%d", i))
				if err != nil || !ok || string(value) != fmt.Sprintf("v%d", i) {
					t.Errorf("round %d: Get(k%d) = %q, %v, %v", round, i, value, ok, err)
				}
			}
			if _, err := s.FlushAll(); err != nil {
				t.Fatal(err)
			}
		}
		if stats := s.Tier().Stats().Snapshot(); stats.Hits == 0 {
			t.Error("no lookup reached the disk tier")
		}
		if n := s.keyspaces[1].Len(); n > 2 {
			t.Errorf("keyspace holds %d keys after reads, want at most 2", n)
		}
	})

	t.Run("DeleteEvictedKey", func(t *testing.T) {
		setup := newTestSetup(t, func(opts *Options) { opts.MaxKeys = 1 })
		s := setup.store

		_ = s.Set(0, "a", []byte("1"))
		setup.clock.Advance(1)
		_ = s.Set(0, "b", []byte("2"))
		if s.keyspaces[0].Has("a") {
			t.Fatal("idle key was not evicted")
		}

		if deleted, err := s.Delete(0, "a"); err != nil || !deleted {
			t.Fatalf("Delete = %v, %v", deleted, err)
		}
		_, _ = s.FlushAll()
		if _, ok, _ := s.Get(0, "a"); ok {
			t.Error("deleted key came back from disk")
		}
	})

	t.Run("IgnoredWithoutTier", func(t *testing.T) {
		s := newTestSetup(t, func(opts *Options) {
			opts.Tier.Enabled = false
			opts.Disk = nil
			opts.MaxKeys = 1
		}).store

		_ = s.Set(0, "a", []byte("1"))
		_ = s.Set(0, "b", []byte("2"))
		if n := s.keyspaces[0].Len(); n != 2 {
			t.Errorf("memory only store evicted keys, %d left", n)
		}
	})
}
