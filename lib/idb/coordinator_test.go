package idb

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/idkv/lib/codec"
	"github.com/ValentinKolb/idkv/lib/db"
)

func TestEmptyFlushTouchesNoStore(t *testing.T) {
	env := newTestEnv(t, 4, nil)

	outcome := env.flush(t)
	if outcome.State != FlushSucceeded || outcome.Written != 0 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if calls := env.store.Stats().Total(); calls != 0 {
		t.Errorf("empty flush issued %d store calls", calls)
	}
}

func TestFlushCycleSuccess(t *testing.T) {
	env := newTestEnv(t, 1, nil)
	expireAt := testNow + 60_000

	env.write(t, 0, "a", db.String("1"))
	env.write(t, 0, "b", db.List{[]byte("x"), []byte("y")})
	env.keyspaces[0].Set("c", db.NewSet("m"))
	env.keyspaces[0].SetExpireAt("c", expireAt)
	if err := env.tier.SetKey(0, "c", db.NewSet("m")); err != nil {
		t.Fatal(err)
	}

	outcome := env.flush(t)
	if outcome.State != FlushSucceeded || outcome.Written != 3 || outcome.Err != nil {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	if active, shadow := env.bufferLen(0); active != 0 || shadow != 0 {
		t.Errorf("buffers not empty after success: %d/%d", active, shadow)
	}
	if dirty := env.tier.Dirty(); dirty != 0 {
		t.Errorf("dirty = %d, want 0", dirty)
	}
	if env.tier.LastStatus() != nil {
		t.Errorf("unexpected last status: %v", env.tier.LastStatus())
	}

	for key, want := range map[string]db.Object{"a": db.String("1"), "b": db.List{[]byte("x"), []byte("y")}, "c": db.NewSet("m")} {
		record, found, err := env.store.Get([]byte(key), "")
		if err != nil || !found {
			t.Fatalf("record %q missing: %v", key, err)
		}
		obj, gotExpire, err := codec.Decode(record, testNow)
		if err != nil {
			t.Fatalf("decode %q: %v", key, err)
		}
		if !bytes.Equal(codec.Encode(obj, gotExpire), codec.Encode(want, gotExpire)) {
			t.Errorf("record %q = %v, want %v", key, obj, want)
		}
		if key == "c" && gotExpire != expireAt {
			t.Errorf("expiration of c = %d, want %d", gotExpire, expireAt)
		}

		marker, found, _ := env.store.Get([]byte(key), codec.TypeField)
		if !found || string(marker) != codec.MarkerNativeName {
			t.Errorf("marker of %q = %q, want %q", key, marker, codec.MarkerNativeName)
		}
	}

	info := env.tier.Info()
	if info.LastStatus != "ok" || info.FlushInProgress || info.LastSave.IsZero() {
		t.Errorf("unexpected info: %+v", info)
	}
	if info.Stats.Flushes != 1 || info.Stats.FlushedKeys != 3 {
		t.Errorf("unexpected stats: %+v", info.Stats)
	}
}

func TestFlushFailureNewerWins(t *testing.T) {
	env := newTestEnv(t, 1, nil)

	env.write(t, 0, "a", db.String("a1"))
	env.write(t, 0, "b", db.String("b1"))
	env.store.failOn("b")

	open := env.store.closeGate()
	job, err := env.tier.BackgroundFlush()
	if err != nil {
		t.Fatal(err)
	}
	env.store.waitEntered(t)

	// foreground writes while the worker is blocked
	env.write(t, 0, "b", db.String("b2"))
	env.write(t, 0, "c", db.String("c1"))

	open()
	outcome := job.Wait()
	if outcome.State != FlushFailed || !errors.Is(outcome.Err, errInjected) {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if !errors.Is(env.tier.LastStatus(), errInjected) {
		t.Errorf("last status = %v, want the write error", env.tier.LastStatus())
	}

	// no entry lost, the newer write of b survives
	want := map[string]string{"a": "a1", "b": "b2", "c": "c1"}
	for key, value := range want {
		e, ok := env.buffered(0, key)
		if !ok || stringOf(e.Obj) != value {
			t.Errorf("buffered %q = %v (%v), want %q", key, e.Obj, ok, value)
		}
	}
	if _, shadow := env.bufferLen(0); shadow != 0 {
		t.Errorf("shadow not empty after restore: %d", shadow)
	}
	if dirty := env.tier.Dirty(); dirty != 4 {
		t.Errorf("dirty = %d, want 4", dirty)
	}

	// the next flush persists everything
	env.store.failOn()
	if outcome := env.flush(t); outcome.State != FlushSucceeded {
		t.Fatalf("retry failed: %+v", outcome)
	}
	for key, value := range want {
		record, _, _ := env.store.Get([]byte(key), "")
		obj, _, err := codec.Decode(record, testNow)
		if err != nil || stringOf(obj) != value {
			t.Errorf("store %q = %v (%v), want %q", key, obj, err, value)
		}
	}
}

func TestFlushFailureLegacyReconcile(t *testing.T) {
	env := newTestEnv(t, 1, func(cfg *Config) { cfg.Reconcile = ReconcileLegacy })

	env.write(t, 0, "k", db.String("v1"))
	env.store.failOn("k")

	open := env.store.closeGate()
	job, err := env.tier.BackgroundFlush()
	if err != nil {
		t.Fatal(err)
	}
	env.store.waitEntered(t)
	env.write(t, 0, "k", db.String("v2"))
	open()
	job.Wait()

	if e, _ := env.buffered(0, "k"); stringOf(e.Obj) != "v1" {
		t.Errorf("legacy reconcile kept %v, want the flushed value v1", e.Obj)
	}
}

func TestOverwriteDuringFlush(t *testing.T) {
	env := newTestEnv(t, 1, nil)
	env.write(t, 0, "k", db.String("v1"))

	open := env.store.closeGate()
	job, err := env.tier.BackgroundFlush()
	if err != nil {
		t.Fatal(err)
	}
	env.store.waitEntered(t)
	env.write(t, 0, "k", db.String("v2"))
	open()

	if outcome := job.Wait(); outcome.State != FlushSucceeded {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	record, _, _ := env.store.Get([]byte("k"), "")
	if obj, _, _ := codec.Decode(record, testNow); stringOf(obj) != "v1" {
		t.Errorf("store holds %v, want v1", obj)
	}
	if e, ok := env.buffered(0, "k"); !ok || stringOf(e.Obj) != "v2" {
		t.Errorf("active buffer holds %v, want v2", e.Obj)
	}
	if dirty := env.tier.Dirty(); dirty != 1 {
		t.Errorf("dirty = %d, want 1", dirty)
	}

	env.flush(t)
	record, _, _ = env.store.Get([]byte("k"), "")
	if obj, _, _ := codec.Decode(record, testNow); stringOf(obj) != "v2" {
		t.Errorf("store holds %v after the second flush, want v2", obj)
	}
}

func TestNonZeroDatabase(t *testing.T) {
	env := newTestEnv(t, 4, nil)
	env.write(t, 2, "x", db.String("two"))
	env.flush(t)

	if ok, _ := env.store.Exists([]byte(".db2/x")); !ok {
		t.Fatal("record .db2/x missing")
	}
	if ok, _ := env.store.Exists([]byte("x")); ok {
		t.Fatal("db 2 key leaked into db 0")
	}

	env.keyspaces[2].Delete("x")
	obj, ok := env.tier.Lookup(2, "x")
	if !ok || stringOf(obj) != "two" {
		t.Fatalf("Lookup(2, x) = %v, %v", obj, ok)
	}
	if _, ok := env.tier.Lookup(0, "x"); ok {
		t.Error("Lookup(0, x) found the db 2 record")
	}
	if got, _ := env.keyspaces[2].Get("x"); stringOf(got) != "two" {
		t.Error("loaded key not installed into the keyspace")
	}
}

func TestDeleteKey(t *testing.T) {
	t.Run("NeverWritten", func(t *testing.T) {
		env := newTestEnv(t, 1, nil)

		deleted, err := env.tier.DeleteKey(0, "ghost")
		if err != nil || deleted {
			t.Fatalf("DeleteKey = %v, %v", deleted, err)
		}
		stats := env.store.Stats()
		if stats.Puts != 0 || stats.Deletes != 0 {
			t.Errorf("delete of an absent key mutated the store: %+v", stats)
		}
		if active, _ := env.bufferLen(0); active != 0 {
			t.Errorf("tombstone recorded for an absent key")
		}
		env.flush(t)
		if stats := env.store.Stats(); stats.Deletes != 0 {
			t.Errorf("flush deleted an absent key")
		}
	})

	t.Run("OnlyBuffered", func(t *testing.T) {
		env := newTestEnv(t, 1, nil)
		env.write(t, 0, "k", db.String("v"))

		deleted, err := env.tier.DeleteKey(0, "k")
		if err != nil || !deleted {
			t.Fatalf("DeleteKey = %v, %v", deleted, err)
		}
		if _, ok := env.buffered(0, "k"); ok {
			t.Error("key still buffered")
		}
		env.flush(t)
		if env.store.Len() != 0 {
			t.Error("forgotten key was written")
		}
	})

	t.Run("OnDisk", func(t *testing.T) {
		env := newTestEnv(t, 1, nil)
		env.write(t, 0, "k", db.String("v"))
		env.flush(t)

		deleted, err := env.tier.DeleteKey(0, "k")
		if err != nil || !deleted {
			t.Fatalf("DeleteKey = %v, %v", deleted, err)
		}
		if e, ok := env.buffered(0, "k"); !ok || !e.Tombstone() {
			t.Fatal("expected a tombstone")
		}
		env.flush(t)
		if ok, _ := env.store.Exists([]byte("k")); ok {
			t.Error("record survived the flush of its tombstone")
		}
	})

	t.Run("DuringFlush", func(t *testing.T) {
		env := newTestEnv(t, 1, nil)
		env.write(t, 0, "other", db.String("v"))

		open := env.store.closeGate()
		job, _ := env.tier.BackgroundFlush()
		env.store.waitEntered(t)

		deleted, err := env.tier.DeleteKey(0, "never")
		if err != nil || !deleted {
			t.Errorf("DeleteKey during flush = %v, %v", deleted, err)
		}
		open()
		job.Wait()

		if e, ok := env.buffered(0, "never"); !ok || !e.Tombstone() {
			t.Error("expected an unconditional tombstone")
		}
	})

	t.Run("Sync", func(t *testing.T) {
		env := newTestEnv(t, 1, func(cfg *Config) { cfg.Sync = true })
		env.write(t, 0, "k", db.String("v"))

		if deleted, _ := env.tier.DeleteKey(0, "k"); !deleted {
			t.Error("DeleteKey did not find the written key")
		}
		if deleted, _ := env.tier.DeleteKey(0, "k"); deleted {
			t.Error("second DeleteKey reported a deletion")
		}
	})
}

func TestStopFlush(t *testing.T) {
	startBlocked := func(t *testing.T, env *testEnv) (*FlushJob, func()) {
		env.write(t, 0, "a", db.String("1"))
		env.write(t, 0, "b", db.String("2"))
		open := env.store.closeGate()
		job, err := env.tier.BackgroundFlush()
		if err != nil {
			t.Fatal(err)
		}
		env.store.waitEntered(t)
		return job, open
	}

	t.Run("BenignKeepsStatus", func(t *testing.T) {
		env := newTestEnv(t, 1, nil)

		// a failed flush sets the status first
		env.write(t, 0, "x", db.String("x"))
		env.store.failOn("x")
		env.flush(t)
		env.store.failOn()
		before := env.tier.LastStatus()
		if before == nil {
			t.Fatal("expected a failed status")
		}

		job, open := startBlocked(t, env)
		if err := env.tier.StopFlush(nil); err != nil {
			t.Fatal(err)
		}
		open()

		outcome := job.Wait()
		if outcome.State != FlushInterrupted || !errors.Is(outcome.Err, ErrFlushCanceled) {
			t.Fatalf("unexpected outcome: %+v", outcome)
		}
		if env.tier.LastStatus() != before {
			t.Errorf("benign cancel changed the status to %v", env.tier.LastStatus())
		}
		for _, key := range []string{"a", "b", "x"} {
			if _, ok := env.buffered(0, key); !ok {
				t.Errorf("%q lost by the canceled flush", key)
			}
		}
	})

	t.Run("BenignAfterSuccess", func(t *testing.T) {
		env := newTestEnv(t, 1, nil)
		job, open := startBlocked(t, env)
		_ = env.tier.StopFlush(nil)
		open()
		job.Wait()
		if env.tier.LastStatus() != nil {
			t.Errorf("benign cancel set the status %v", env.tier.LastStatus())
		}
	})

	t.Run("Killed", func(t *testing.T) {
		env := newTestEnv(t, 1, nil)
		job, open := startBlocked(t, env)
		_ = env.tier.StopFlush(ErrFlushKilled)
		open()

		if outcome := job.Wait(); outcome.State != FlushInterrupted {
			t.Fatalf("unexpected outcome: %+v", outcome)
		}
		if !errors.Is(env.tier.LastStatus(), ErrFlushKilled) {
			t.Errorf("last status = %v, want ErrFlushKilled", env.tier.LastStatus())
		}
	})

	t.Run("Idle", func(t *testing.T) {
		env := newTestEnv(t, 1, nil)
		if err := env.tier.StopFlush(nil); !errors.Is(err, ErrNoFlushRunning) {
			t.Errorf("StopFlush = %v, want ErrNoFlushRunning", err)
		}
	})
}

func TestConcurrentFlushRejected(t *testing.T) {
	env := newTestEnv(t, 1, nil)
	env.write(t, 0, "k", db.String("v"))

	open := env.store.closeGate()
	defer open()
	job, err := env.tier.BackgroundFlush()
	if err != nil {
		t.Fatal(err)
	}
	env.store.waitEntered(t)

	if _, err := env.tier.BackgroundFlush(); !errors.Is(err, ErrFlushInProgress) {
		t.Errorf("second BackgroundFlush = %v, want ErrFlushInProgress", err)
	}
	if _, err := env.tier.FlushAll(context.Background()); !errors.Is(err, ErrFlushInProgress) {
		t.Errorf("FlushAll = %v, want ErrFlushInProgress", err)
	}
	if !env.tier.PersistenceActive() {
		t.Error("persistence not reported active during a flush")
	}
	if info := env.tier.Info(); !info.FlushInProgress || info.JobID != job.ID {
		t.Errorf("unexpected info during flush: %+v", info)
	}

	open()
	job.Wait()
	if env.tier.CurrentJob() != nil {
		t.Error("job not cleared after reconciliation")
	}
}

func TestFlushSkipsExpiredKeys(t *testing.T) {
	env := newTestEnv(t, 1, nil)

	env.write(t, 0, "gone", db.String("v"))
	env.write(t, 0, "stays", db.String("v"))
	env.keyspaces[0].SetExpireAt("gone", testNow+10)
	// re-record so the buffered expiration is known
	if err := env.tier.SetKey(0, "gone", db.String("v")); err != nil {
		t.Fatal(err)
	}
	env.clock.Advance(20)

	if outcome := env.flush(t); outcome.State != FlushSucceeded {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if ok, _ := env.store.Exists([]byte("gone")); ok {
		t.Error("expired key was written")
	}
	if ok, _ := env.store.Exists([]byte("stays")); !ok {
		t.Error("live key missing")
	}
}

func TestFlushAll(t *testing.T) {
	env := newTestEnv(t, 2, nil)
	env.write(t, 0, "a", db.String("1"))
	env.write(t, 1, "b", db.String("2"))

	n, err := env.tier.FlushAll(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("FlushAll = %d, %v", n, err)
	}
	if env.tier.Dirty() != 0 {
		t.Error("dirty not reset")
	}
	for _, key := range []string{"a", ".db1/b"} {
		if ok, _ := env.store.Exists([]byte(key)); !ok {
			t.Errorf("%q missing", key)
		}
	}

	env.write(t, 0, "c", db.String("3"))
	env.store.failOn("c")
	if _, err := env.tier.FlushAll(context.Background()); !errors.Is(err, errInjected) {
		t.Errorf("FlushAll = %v, want the write error", err)
	}
	if _, ok := env.buffered(0, "c"); !ok {
		t.Error("failed FlushAll dropped the buffer")
	}
}

func TestSyncMode(t *testing.T) {
	env := newTestEnv(t, 1, nil)
	if err := env.tier.SetSync(true); err != nil {
		t.Fatalf("SetSync failed: %v", err)
	}

	env.write(t, 0, "k", db.String("v"))
	if ok, _ := env.store.Exists([]byte("k")); !ok {
		t.Fatal("sync write did not reach the store")
	}
	if env.tier.Dirty() != 0 {
		t.Error("sync write was buffered")
	}

	env.store.failOn("k")
	env.keyspaces[0].Set("k", db.String("v2"))
	if err := env.tier.SetKey(0, "k", db.String("v2")); !errors.Is(err, errInjected) {
		t.Errorf("SetKey = %v, want the write error", err)
	}
}

func TestReservedKey(t *testing.T) {
	env := newTestEnv(t, 2, nil)
	if err := env.tier.SetKey(0, ".db1/x", db.String("v")); !errors.Is(err, ErrReservedKey) {
		t.Errorf("SetKey = %v, want ErrReservedKey", err)
	}
	if err := env.tier.SetKey(5, "x", db.String("v")); !errors.Is(err, ErrInvalidDatabase) {
		t.Errorf("SetKey = %v, want ErrInvalidDatabase", err)
	}
}

func TestDisabledTier(t *testing.T) {
	ks := make([]db.Keyspace, 1)
	tier, err := New(Config{Enabled: false, Databases: 1}, nil, ks)
	if err != nil {
		t.Fatal(err)
	}
	defer tier.Close()

	if err := tier.SetKey(0, "k", db.String("v")); err != nil {
		t.Errorf("SetKey = %v", err)
	}
	if _, err := tier.BackgroundFlush(); !errors.Is(err, ErrDisabled) {
		t.Errorf("BackgroundFlush = %v", err)
	}
	if _, err := tier.FlushAll(context.Background()); !errors.Is(err, ErrDisabled) {
		t.Errorf("FlushAll = %v", err)
	}
	if err := tier.StopFlush(nil); !errors.Is(err, ErrDisabled) {
		t.Errorf("StopFlush = %v", err)
	}
	if _, err := tier.Subkeys(0, SubkeyQuery{}); !errors.Is(err, ErrDisabled) {
		t.Errorf("Subkeys = %v", err)
	}
	if _, ok := tier.Lookup(0, "k"); ok {
		t.Error("Lookup hit on a disabled tier")
	}
	if !strings.Contains(ErrDisabled.Error(), "disk-enabled") {
		t.Errorf("unexpected message: %v", ErrDisabled)
	}
}

func TestAutoFlush(t *testing.T) {
	env := newTestEnv(t, 1, nil)
	env.tier.StartAutoFlush(5*time.Millisecond, 2)

	env.write(t, 0, "a", db.String("1"))
	time.Sleep(30 * time.Millisecond)
	if env.tier.Dirty() != 1 {
		t.Fatal("auto flush ran below the dirty threshold")
	}

	env.write(t, 0, "b", db.String("2"))
	deadline := time.Now().Add(5 * time.Second)
	for env.tier.Dirty() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("auto flush did not run")
		}
		time.Sleep(5 * time.Millisecond)
	}

	env.tier.StopAutoFlush()
	env.tier.StopAutoFlush()
}

func TestPrometheusExport(t *testing.T) {
	env := newTestEnv(t, 1, nil)
	env.write(t, 0, "a", db.String("1"))

	var buf bytes.Buffer
	env.tier.Stats().WritePrometheus(&buf)
	out := buf.String()
	for _, want := range []string{"idb_dirty_keys 1", "idb_flush_in_progress 0", `idb_lookups_total{result="miss"} 0`} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output misses %q:\n%s", want, out)
		}
	}
}

func TestSetSyncFlushesBuffers(t *testing.T) {
	t.Run("NewerWriteSurvivesFlush", func(t *testing.T) {
		env := newTestEnv(t, 1, nil)
		env.write(t, 0, "k", db.String("old"))

		if err := env.tier.SetSync(true); err != nil {
			t.Fatalf("SetSync(true) failed: %v", err)
		}
		if active, shadow := env.bufferLen(0); active != 0 || shadow != 0 {
			t.Errorf("buffers after switch = %d/%d, want empty", active, shadow)
		}
		env.write(t, 0, "k", db.String("new"))

		if err := env.tier.SetSync(false); err != nil {
			t.Fatalf("SetSync(false) failed: %v", err)
		}
		if _, err := env.tier.FlushAll(context.Background()); err != nil {
			t.Fatalf("FlushAll failed: %v", err)
		}

		record, _, _ := env.store.Get([]byte("k"), "")
		obj, _, err := codec.Decode(record, testNow)
		if err != nil || stringOf(obj) != "new" {
			t.Errorf("disk value = %v (%v), want new", obj, err)
		}
	})

	t.Run("DeletedKeyStaysDeleted", func(t *testing.T) {
		env := newTestEnv(t, 1, nil)
		env.write(t, 0, "k", db.String("old"))
		if err := env.tier.SetSync(true); err != nil {
			t.Fatalf("SetSync(true) failed: %v", err)
		}

		env.keyspaces[0].Delete("k")
		if deleted, err := env.tier.DeleteKey(0, "k"); err != nil || !deleted {
			t.Fatalf("DeleteKey = %v, %v", deleted, err)
		}
		if obj, ok := env.tier.Lookup(0, "k"); ok {
			t.Errorf("deleted key came back as %v", obj)
		}

		_ = env.tier.SetSync(false)
		if _, err := env.tier.FlushAll(context.Background()); err != nil {
			t.Fatalf("FlushAll failed: %v", err)
		}
		if ok, _ := env.store.Exists([]byte("k")); ok {
			t.Error("flush restored the deleted key")
		}
	})

	t.Run("RejectedWhileFlushing", func(t *testing.T) {
		env := newTestEnv(t, 1, nil)
		env.write(t, 0, "k", db.String("v"))
		open := env.store.closeGate()
		defer open()

		job, err := env.tier.BackgroundFlush()
		if err != nil {
			t.Fatalf("BackgroundFlush failed: %v", err)
		}
		env.store.waitEntered(t)

		if err := env.tier.SetSync(true); !errors.Is(err, ErrFlushInProgress) {
			t.Errorf("SetSync = %v, want ErrFlushInProgress", err)
		}
		if env.tier.Sync() {
			t.Error("tier switched to sync mode during a flush")
		}

		open()
		job.Wait()
	})

	t.Run("FailedFlushKeepsBufferedMode", func(t *testing.T) {
		env := newTestEnv(t, 1, nil)
		env.write(t, 0, "k", db.String("v"))
		env.store.failOn("k")

		if err := env.tier.SetSync(true); !errors.Is(err, errInjected) {
			t.Errorf("SetSync = %v, want the write error", err)
		}
		if env.tier.Sync() {
			t.Error("tier switched to sync mode with unwritten buffers")
		}
		if _, ok := env.buffered(0, "k"); !ok {
			t.Error("failed switch dropped the buffered key")
		}
	})
}
