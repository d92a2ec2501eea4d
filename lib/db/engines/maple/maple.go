package maple

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/idkv/lib/codec"
	"github.com/ValentinKolb/idkv/lib/db"
	"github.com/ValentinKolb/idkv/lib/db/engines/maple/internal"
	"github.com/ValentinKolb/idkv/lib/db/util"
	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

// Constants for keyspace behavior and structure
const (
	magicNum          = "IDKVSNAP"             // Snapshot format identifier
	mapleVersion      = 1                      // Snapshot format version
	defaultGCInterval = 100 * time.Millisecond // Default interval between active expiration cycles
	maxExpirePerCycle = 1000                   // Upper bound of keys removed per shard and cycle
	maxSnapshotKeyLen = 1 << 30                // Sanity limit when reading snapshot lengths
	evictionSamples   = 16                     // Keys sampled to pick one eviction victim
)

var log = logger.GetLogger("keyspace")

// --------------------------------------------------------------------------
// Core Maple keyspace structure
// --------------------------------------------------------------------------

// mapleImpl implements a sharded in-memory keyspace with wall-clock expiration
type mapleImpl struct {
	numShards int               // Number of shards
	seed      uint64            // Seed for hash function
	shards    []*internal.Shard // Array of shards
	clock     func() int64      // Source of the current time in unix ms

	// active expiration
	gcInterval  time.Duration
	gcIsRunning atomic.Bool
	gcStop      chan struct{}
	gcDone      sync.WaitGroup
}

// Options configures the mapleImpl behavior during initialization
type Options struct {
	NumShards  int           // Number of shards (0 = number of CPUs)
	GCInterval time.Duration // Time between active expiration cycles (0 = default, <0 = disabled)
	Clock      func() int64  // Current time in unix ms (nil = wall clock)
}

// DefaultOptions returns the default mapleImpl options
func DefaultOptions() *Options {
	return &Options{
		NumShards:  runtime.NumCPU(),
		GCInterval: defaultGCInterval,
		Clock:      util.NowMillis,
	}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewMapleKeyspace creates a new keyspace with the specified options (optional)
//
// Thread-safety: This function is not thread-safe and should only be called once
// during initialization.
func NewMapleKeyspace(opts *Options) db.Keyspace {

	// Generate default options if not provided
	defaults := DefaultOptions()
	if opts == nil {
		opts = defaults
	}
	if opts.NumShards <= 0 {
		opts.NumShards = defaults.NumShards
	}
	if opts.GCInterval == 0 {
		opts.GCInterval = defaults.GCInterval
	}
	if opts.Clock == nil {
		opts.Clock = defaults.Clock
	}

	keyspace := &mapleImpl{
		numShards:  opts.NumShards,
		seed:       util.GenerateSeed(),
		shards:     newShards(opts.NumShards),
		clock:      opts.Clock,
		gcInterval: opts.GCInterval,
	}

	// start active expiration
	if keyspace.gcInterval > 0 {
		keyspace.startGC()
	}

	return keyspace
}

func newShards(n int) []*internal.Shard {
	shards := make([]*internal.Shard, n)
	for i := range shards {
		shards[i] = internal.NewShard()
	}
	return shards
}

// shardFor returns the shard responsible for key
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) shardFor(key string) *internal.Shard {
	return internal.GetShard(util.HashString(key, maple.seed), maple.shards)
}

// --------------------------------------------------------------------------
// Keyspace Interface Methods - Write Operations
// --------------------------------------------------------------------------

// Set inserts or overwrites the object for key. Any expiration is cleared.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Set(key string, obj db.Object) {
	maple.shardFor(key).Data.Store(key, internal.Entry{
		Obj:        obj,
		ExpireAt:   db.NoExpire,
		LastAccess: maple.clock(),
	})
}

// Add inserts the object only if the key is absent (or expired).
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Add(key string, obj db.Object) bool {
	now := maple.clock()
	added := false

	maple.shardFor(key).Data.Compute(key, func(old internal.Entry, loaded bool) (internal.Entry, bool) {
		if loaded && !old.Expired(now) {
			return old, false
		}
		added = true
		return internal.Entry{Obj: obj, ExpireAt: db.NoExpire, LastAccess: now}, false
	})

	return added
}

// Update atomically replaces the object for key with the result of fn.
// Expired entries are passed to fn as absent and lose their expiration.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Update(key string, fn func(old db.Object, loaded bool) db.Object) db.Object {
	now := maple.clock()
	var result db.Object

	maple.shardFor(key).Data.Compute(key, func(old internal.Entry, loaded bool) (internal.Entry, bool) {
		if loaded && old.Expired(now) {
			loaded = false
			old = internal.Entry{ExpireAt: db.NoExpire}
		}
		if !loaded {
			old.ExpireAt = db.NoExpire
		}

		result = fn(old.Obj, loaded)
		if result == nil {
			return old, true
		}

		return internal.Entry{Obj: result, ExpireAt: old.ExpireAt, LastAccess: now}, false
	})

	return result
}

// Delete removes the key and its expiration.
// It returns false if the key did not exist or was already expired.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Delete(key string) bool {
	entry, loaded := maple.shardFor(key).Data.LoadAndDelete(key)
	return loaded && !entry.Expired(maple.clock())
}

// SetExpireAt sets the expiration timestamp of an existing key.
// A timestamp in the past removes the key.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) SetExpireAt(key string, expireAt int64) bool {
	return maple.modifyExpire(key, expireAt)
}

// Persist removes the expiration of an existing key.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Persist(key string) bool {
	return maple.modifyExpire(key, db.NoExpire)
}

func (maple *mapleImpl) modifyExpire(key string, expireAt int64) bool {
	now := maple.clock()
	ok := false

	maple.shardFor(key).Data.Compute(key, func(e internal.Entry, loaded bool) (internal.Entry, bool) {
		if !loaded || e.Expired(now) {
			return e, true // delete expired keys and don't create absent ones
		}
		ok = true
		e.ExpireAt = expireAt
		return e, e.Expired(now)
	})

	return ok
}

// Touch refreshes the access-recency marker of a key
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Touch(key string) {
	now := maple.clock()
	maple.shardFor(key).Data.Compute(key, func(e internal.Entry, loaded bool) (internal.Entry, bool) {
		if !loaded {
			return e, true
		}
		e.LastAccess = now
		return e, false
	})
}

// Evict removes up to n keys. Each victim is the expired or least recently
// accessed key of a sample, so the order only approximates LRU.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Evict(n int) int {
	evicted := 0
	for evicted < n {
		key, ok := maple.evictionCandidate()
		if !ok {
			break
		}
		if _, loaded := maple.shardFor(key).Data.LoadAndDelete(key); loaded {
			evicted++
		}
	}
	return evicted
}

// evictionCandidate samples keys starting at a random shard and returns the
// first expired one or the one with the oldest access time
func (maple *mapleImpl) evictionCandidate() (string, bool) {
	now := maple.clock()
	start := rand.IntN(len(maple.shards))

	var (
		victim     string
		lastAccess int64
		found      bool
		sampled    int
	)
	for i := 0; i < len(maple.shards) && sampled < evictionSamples; i++ {
		maple.shards[(start+i)%len(maple.shards)].Data.Range(func(key string, e internal.Entry) bool {
			if e.Expired(now) {
				victim, found = key, true
				sampled = evictionSamples
				return false
			}
			if !found || e.LastAccess < lastAccess {
				victim, lastAccess, found = key, e.LastAccess, true
			}
			sampled++
			return sampled < evictionSamples
		})
	}
	return victim, found
}

// --------------------------------------------------------------------------
// Keyspace Interface Methods - Read Operations
// --------------------------------------------------------------------------

// Get retrieves the object for a key. Expired keys are removed on access.
// The returned object is shared with the keyspace and must not be modified.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Get(key string) (db.Object, bool) {
	entry, ok := maple.load(key)
	if !ok {
		return nil, false
	}
	return entry.Obj, true
}

// Has reports whether a non-expired key exists.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Has(key string) bool {
	_, ok := maple.load(key)
	return ok
}

// ExpireAt returns the expiration timestamp of key or db.NoExpire.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) ExpireAt(key string) int64 {
	entry, ok := maple.load(key)
	if !ok {
		return db.NoExpire
	}
	return entry.ExpireAt
}

// load returns the entry for key and collects it if it is expired
func (maple *mapleImpl) load(key string) (internal.Entry, bool) {
	shard := maple.shardFor(key)

	entry, ok := shard.Data.Load(key)
	if !ok {
		return internal.Entry{}, false
	}

	now := maple.clock()
	if entry.Expired(now) {
		// double-check under the map lock, the key could have been overwritten in the meantime
		shard.Data.Compute(key, func(e internal.Entry, loaded bool) (internal.Entry, bool) {
			return e, !loaded || e.Expired(now)
		})
		return internal.Entry{}, false
	}

	return entry, true
}

// Len returns the number of stored keys, including expired keys not yet collected.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Len() int {
	n := 0
	for _, shard := range maple.shards {
		n += shard.Data.Size()
	}
	return n
}

// Range calls fn for every non-expired key until fn returns false.
// The iteration is not a consistent snapshot: concurrent modifications may or may not be observed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Range(fn func(key string, obj db.Object, expireAt int64) bool) {
	now := maple.clock()
	for _, shard := range maple.shards {
		cont := true
		shard.Data.Range(func(key string, e internal.Entry) bool {
			if e.Expired(now) {
				return true
			}
			cont = fn(key, e.Obj, e.ExpireAt)
			return cont
		})
		if !cont {
			return
		}
	}
}

// --------------------------------------------------------------------------
// Active Expiration
// --------------------------------------------------------------------------

// startGC starts one active expiration goroutine per shard
// if the GC is already running, this function does nothing
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) startGC() {
	if !maple.gcIsRunning.CompareAndSwap(false, true) {
		return
	}

	maple.gcStop = make(chan struct{})
	shards := maple.shards

	maple.gcDone.Add(len(shards))
	for _, shard := range shards {
		go func(shard *internal.Shard, stop <-chan struct{}) {
			defer maple.gcDone.Done()

			ticker := time.NewTicker(maple.gcInterval)
			defer ticker.Stop()

			for {
				select {
				case <-stop:
					return
				case <-ticker.C:
					if n := maple.expireCycle(shard); n > 0 {
						log.Debugf("expired %d keys", n)
					}
				}
			}
		}(shard, maple.gcStop)
	}
}

// stopGC stops the active expiration and waits for all shard goroutines to exit.
// if the GC is not running, this function does nothing.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) stopGC() {
	if maple.gcIsRunning.CompareAndSwap(true, false) {
		close(maple.gcStop)
		maple.gcDone.Wait()
	}
}

// expireCycle removes up to maxExpirePerCycle expired keys from the shard
func (maple *mapleImpl) expireCycle(shard *internal.Shard) int {

	/*
		Note: We only read the clock once per cycle so that keys whose expiration
		passes while the cycle runs are handled in the next one.
	*/
	now := maple.clock()

	var expired []string
	shard.Data.Range(func(key string, e internal.Entry) bool {
		if e.Expired(now) {
			expired = append(expired, key)
		}
		return len(expired) < maxExpirePerCycle
	})

	removed := 0
	for _, key := range expired {
		// double-check the entry is still expired, it could have been overwritten in the meantime
		shard.Data.Compute(key, func(e internal.Entry, loaded bool) (internal.Entry, bool) {
			if loaded && e.Expired(now) {
				removed++
				return e, true
			}
			return e, !loaded
		})
	}

	return removed
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save writes a snapshot of all non-expired keys to the writer.
// Every entry is stored as a codec record, so the expiration travels with the value.
//
// Thread-safety: This function allows concurrent operations with all other functions
// except Load. Concurrent writes may or may not be part of the snapshot.
func (maple *mapleImpl) Save(w io.Writer) error {
	// Use a buffered writer for better performance
	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer

	type entryToSave struct {
		key    string
		record []byte
	}

	// Collect the records first to write an exact count in the header
	var entries []entryToSave
	maple.Range(func(key string, obj db.Object, expireAt int64) bool {
		entries = append(entries, entryToSave{key: key, record: codec.Encode(obj, expireAt)})
		return true
	})

	// Write file header
	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(mapleVersion)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(entries))); err != nil {
		return err
	}

	// Write entries
	for _, item := range entries {
		if err := writeChunk(bw, []byte(item.key)); err != nil {
			return err
		}
		if err := writeChunk(bw, item.record); err != nil {
			return err
		}
	}

	// Flush buffer to ensure all data is written
	return bw.Flush()
}

// Load replaces the keyspace content with a snapshot written by Save.
// Records that expired since the snapshot was taken are skipped.
//
// Thread-safety: This function is not thread-safe and should not be called concurrently
func (maple *mapleImpl) Load(r io.Reader) error {

	// stop active expiration during load
	restartGC := maple.gcIsRunning.Load()
	maple.stopGC()
	if restartGC {
		defer maple.startGC()
	}

	br := bufio.NewReaderSize(r, 1024*1024) // 1 MB buffer

	// Read and verify magic number
	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return err
	}
	if string(magicBytes) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}

	// Read and verify version
	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return err
	}
	if int(version) != mapleVersion {
		return fmt.Errorf("unsupported version: %d (expected %d)", version, mapleVersion)
	}

	var count uint64
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return err
	}

	// Fill fresh shards so a failed load leaves the old content untouched
	shards := newShards(maple.numShards)
	now := maple.clock()
	skipped := 0

	for i := uint64(0); i < count; i++ {
		key, err := readChunk(br)
		if err != nil {
			return err
		}
		record, err := readChunk(br)
		if err != nil {
			return err
		}

		obj, expireAt, err := codec.Decode(record, now)
		if errors.Is(err, codec.ErrExpired) {
			skipped++
			continue
		}
		if err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}

		internal.GetShard(util.HashString(string(key), maple.seed), shards).Data.Store(string(key), internal.Entry{
			Obj:        obj,
			ExpireAt:   expireAt,
			LastAccess: now,
		})
	}

	maple.shards = shards

	if skipped > 0 {
		log.Infof("skipped %d expired keys while loading snapshot", skipped)
	}

	return nil
}

func writeChunk(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readChunk(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if n > maxSnapshotKeyLen {
		return nil, fmt.Errorf("invalid chunk length %d", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// --------------------------------------------------------------------------
// Keyspace Interface Implementation - Features and Metadata
// --------------------------------------------------------------------------

// GetInfo returns statistics about the keyspace
func (maple *mapleImpl) GetInfo() db.DatabaseInfo {
	now := maple.clock()

	keys, expires, expiredBacklog := 0, 0, 0
	shardSizes := make([]int, len(maple.shards))

	for i, shard := range maple.shards {
		shard.Data.Range(func(_ string, e internal.Entry) bool {
			switch {
			case e.Expired(now):
				expiredBacklog++
			case e.ExpireAt != db.NoExpire:
				keys++
				expires++
			default:
				keys++
			}
			return true
		})
		shardSizes[i] = shard.Data.Size()
	}

	// Metadata for this specific keyspace implementation
	meta := &struct {
		ShardCount     int   `json:"shard_count"`
		ShardSizes     []int `json:"shard_sizes"`
		ExpiredBacklog int   `json:"expired_backlog"`
		ActiveExpiry   bool  `json:"active_expiry"`
	}{
		ShardCount:     len(maple.shards),
		ShardSizes:     shardSizes,
		ExpiredBacklog: expiredBacklog,
		ActiveExpiry:   maple.gcIsRunning.Load(),
	}

	return db.DatabaseInfo{
		Keys:    keys,
		Expires: expires,
		DbType:  db.ImplMaple,
		SupportedFeatures: []db.Feature{
			db.FeatureExpire, db.FeatureTouch,
			db.FeatureSave, db.FeatureLoad,
			db.FeatureGarbageCollect, db.FeatureEvict,
		},
		Metadata: meta,
	}
}

// SupportsFeature checks if this implementation supports a specific keyspace feature
func (maple *mapleImpl) SupportsFeature(feature db.Feature) bool {
	supportedFeatures := db.FeatureExpire |
		db.FeatureTouch |
		db.FeatureSave |
		db.FeatureLoad |
		db.FeatureGarbageCollect |
		db.FeatureEvict
	return supportedFeatures&feature == feature
}

// Close stops the active expiration
func (maple *mapleImpl) Close() error {
	maple.stopGC()
	return nil
}
