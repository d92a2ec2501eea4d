package lstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/idkv/lib/db"
	"github.com/ValentinKolb/idkv/lib/db/util"
	"github.com/ValentinKolb/idkv/lib/disk"
	"github.com/ValentinKolb/idkv/lib/idb"
	"github.com/ValentinKolb/idkv/lib/store"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("store")

// Options configures a LocalStore
type Options struct {
	Tier          idb.Config    // disk tier configuration, Tier.Databases is the number of databases
	Disk          disk.Store    // disk store of the tier (nil if the tier is disabled)
	FlushInterval time.Duration // interval of automatic flushes (0 = disabled)
	FlushMinDirty int64         // dirty keys required for an automatic flush
	MaxKeys       int           // keys per keyspace before idle keys are evicted (0 = unlimited, needs the tier)
	SnapshotDir   string        // directory of keyspace snapshots ("" = snapshots disabled)
	SnapshotFS    vfs.FS        // file system of the snapshots (nil = OS file system)
}

// LocalStore executes commands against the keyspaces of this process and
// persists them through the disk tier.
//
// Thread-safety: All commands are serialized by one mutex. The only work that
// runs in parallel to commands is the background flush of the tier and Save.
type LocalStore struct {
	mu        sync.Mutex
	keyspaces []db.Keyspace
	tier      *idb.Tier
	clock     func() int64
	maxKeys   int

	snapshotDir string
	snapshotFS  vfs.FS
	saving      atomic.Bool
}

// NewLocalStore creates the keyspaces with factory, restores their snapshots
// and sets up the disk tier.
func NewLocalStore(factory store.KeyspaceFactory, opts Options) (*LocalStore, error) {
	if opts.Tier.Databases <= 0 {
		return nil, fmt.Errorf("invalid number of databases: %d", opts.Tier.Databases)
	}
	if opts.Tier.Clock == nil {
		opts.Tier.Clock = util.NowMillis
	}
	if opts.SnapshotFS == nil {
		opts.SnapshotFS = vfs.Default
	}
	if opts.MaxKeys < 0 {
		return nil, fmt.Errorf("invalid max keys: %d", opts.MaxKeys)
	}

	keyspaces := make([]db.Keyspace, opts.Tier.Databases)
	for i := range keyspaces {
		keyspaces[i] = factory(i)
	}

	s := &LocalStore{
		keyspaces:   keyspaces,
		clock:       opts.Tier.Clock,
		maxKeys:     opts.MaxKeys,
		snapshotDir: opts.SnapshotDir,
		snapshotFS:  opts.SnapshotFS,
	}

	if err := s.loadSnapshots(); err != nil {
		s.closeKeyspaces()
		return nil, err
	}

	tier, err := idb.New(opts.Tier, opts.Disk, keyspaces)
	if err != nil {
		s.closeKeyspaces()
		return nil, err
	}
	s.tier = tier

	// lookups must not refresh access times while a snapshot is written
	tier.RegisterBusy(s.saving.Load)

	if s.maxKeys > 0 && !tier.Enabled() {
		log.Warningf("max keys %d ignored, eviction needs the disk tier", s.maxKeys)
		s.maxKeys = 0
	}

	if opts.FlushInterval > 0 {
		tier.StartAutoFlush(opts.FlushInterval, opts.FlushMinDirty)
	}

	return s, nil
}

// Tier returns the disk tier of the store
func (s *LocalStore) Tier() *idb.Tier {
	return s.tier
}

// keyspace returns the keyspace of a database
func (s *LocalStore) keyspace(dbIndex int) (db.Keyspace, error) {
	if dbIndex < 0 || dbIndex >= len(s.keyspaces) {
		return nil, store.NewError(store.RetCInvalidArgument, fmt.Sprintf("invalid database index %d (databases: %d)", dbIndex, len(s.keyspaces)))
	}
	return s.keyspaces[dbIndex], nil
}

// load returns the object of key from memory or, on a miss, from the disk tier
func (s *LocalStore) load(ks db.Keyspace, dbIndex int, key string) (db.Object, bool) {
	if obj, ok := ks.Get(key); ok {
		return obj, true
	}
	return s.tier.Lookup(dbIndex, key)
}

// evictIdle shrinks ks to the configured maximum. Every key that was written
// successfully is buffered in the tier or on disk, so an evicted key is loaded
// again by the next lookup.
func (s *LocalStore) evictIdle(ks db.Keyspace, dbIndex int) {
	if s.maxKeys == 0 {
		return
	}
	if excess := ks.Len() - s.maxKeys; excess > 0 {
		evicted := ks.Evict(excess)
		log.Debugf("db %d: evicted %d idle keys", dbIndex, evicted)
	}
}

// expireAt converts a relative expiration in ms into an absolute timestamp. It
// fails if the timestamp does not fit into an int64.
func (s *LocalStore) expireAt(expireIn uint64) (int64, error) {
	now := s.clock()
	if expireIn > uint64(math.MaxInt64-now) {
		return 0, store.NewError(store.RetCInvalidArgument, fmt.Sprintf("invalid expire time %d ms", expireIn))
	}
	return now + int64(expireIn), nil
}

// persist hands a written key to the tier and evicts idle keys once it is safe there
func (s *LocalStore) persist(ks db.Keyspace, dbIndex int, key string, obj db.Object) error {
	if err := s.tier.SetKey(dbIndex, key, obj); err != nil {
		return toStoreError(err)
	}
	s.evictIdle(ks, dbIndex)
	return nil
}

// checkKey rejects keys the disk tier can not persist before memory is changed
func (s *LocalStore) checkKey(dbIndex int, key string) error {
	if s.tier.Enabled() && dbIndex == 0 && idb.IsReserved([]byte(key)) {
		return store.NewError(store.RetCInvalidArgument, fmt.Sprintf("key %q lies in the reserved namespace of another database", key))
	}
	return nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *LocalStore) Set(dbIndex int, key string, value []byte) error {
	return s.SetE(dbIndex, key, value, 0)
}

func (s *LocalStore) SetE(dbIndex int, key string, value []byte, expireIn uint64) error {
	ks, err := s.keyspace(dbIndex)
	if err != nil {
		return err
	}
	if err := s.checkKey(dbIndex, key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expireAt := db.NoExpire
	if expireIn > 0 {
		if expireAt, err = s.expireAt(expireIn); err != nil {
			return err
		}
	}

	obj := db.String(append([]byte{}, value...))
	ks.Set(key, obj)
	if expireAt != db.NoExpire {
		ks.SetExpireAt(key, expireAt)
	}
	return s.persist(ks, dbIndex, key, obj)
}

func (s *LocalStore) Get(dbIndex int, key string) ([]byte, bool, error) {
	ks, err := s.keyspace(dbIndex)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.load(ks, dbIndex, key)
	if !ok {
		return nil, false, nil
	}
	defer s.evictIdle(ks, dbIndex)

	str, isString := obj.(db.String)
	if !isString {
		return nil, false, store.WrongType(key, obj.Type())
	}
	return append([]byte{}, str...), true, nil
}

func (s *LocalStore) Has(dbIndex int, key string) (bool, error) {
	ks, err := s.keyspace(dbIndex)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.load(ks, dbIndex, key)
	if ok {
		s.evictIdle(ks, dbIndex)
	}
	return ok, nil
}

func (s *LocalStore) Delete(dbIndex int, key string) (bool, error) {
	ks, err := s.keyspace(dbIndex)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.deleteLocked(ks, dbIndex, key)
}

func (s *LocalStore) deleteLocked(ks db.Keyspace, dbIndex int, key string) (bool, error) {
	inMemory := ks.Delete(key)
	onDisk, err := s.tier.DeleteKey(dbIndex, key)
	if err != nil {
		log.Warningf("db %d: failed to delete key %q from the disk tier: %v", dbIndex, key, err)
		return inMemory, toStoreError(err)
	}
	return inMemory || onDisk, nil
}

func (s *LocalStore) Expire(dbIndex int, key string, expireIn uint64) (bool, error) {
	ks, err := s.keyspace(dbIndex)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expireAt, err := s.expireAt(expireIn)
	if err != nil {
		return false, err
	}

	obj, ok := s.load(ks, dbIndex, key)
	if !ok {
		return false, nil
	}

	// an expiration in the past deletes the key
	if expireIn == 0 {
		_, err := s.deleteLocked(ks, dbIndex, key)
		return true, err
	}

	if !ks.SetExpireAt(key, expireAt) {
		return false, nil
	}
	return true, s.persist(ks, dbIndex, key, obj)
}

func (s *LocalStore) RPush(dbIndex int, key string, values ...[]byte) (int, error) {
	ks, err := s.keyspace(dbIndex)
	if err != nil {
		return 0, err
	}
	if err := s.checkKey(dbIndex, key); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.load(ks, dbIndex, key)

	var typeErr error
	obj := ks.Update(key, func(old db.Object, loaded bool) db.Object {
		if !loaded {
			old = db.List{}
		}
		list, ok := old.(db.List)
		if !ok {
			typeErr = store.WrongType(key, old.Type())
			return old
		}
		list = list.Clone().(db.List)
		for _, v := range values {
			list = append(list, append([]byte{}, v...))
		}
		return list
	})
	if typeErr != nil {
		return 0, typeErr
	}

	return len(obj.(db.List)), s.persist(ks, dbIndex, key, obj)
}

func (s *LocalStore) HSet(dbIndex int, key, field string, value []byte) (bool, error) {
	ks, err := s.keyspace(dbIndex)
	if err != nil {
		return false, err
	}
	if err := s.checkKey(dbIndex, key); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.load(ks, dbIndex, key)

	var (
		typeErr error
		created bool
	)
	obj := ks.Update(key, func(old db.Object, loaded bool) db.Object {
		if !loaded {
			old = db.Hash{}
		}
		hash, ok := old.(db.Hash)
		if !ok {
			typeErr = store.WrongType(key, old.Type())
			return old
		}
		hash = hash.Clone().(db.Hash)
		_, exists := hash[field]
		created = !exists
		hash[field] = append([]byte{}, value...)
		return hash
	})
	if typeErr != nil {
		return false, typeErr
	}

	return created, s.persist(ks, dbIndex, key, obj)
}

func (s *LocalStore) Subkeys(dbIndex int, keyPath, pattern string, count, skip int) ([]string, error) {
	if _, err := s.keyspace(dbIndex); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.tier.Subkeys(dbIndex, idb.SubkeyQuery{
		KeyPath: []byte(keyPath),
		Pattern: pattern,
		Count:   count,
		Skip:    skip,
	})
	return names, toStoreError(err)
}

func (s *LocalStore) BackgroundFlush() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.tier.BackgroundFlush()
	if err != nil {
		return 0, toStoreError(err)
	}
	return job.Keys, nil
}

func (s *LocalStore) FlushAll() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.tier.FlushAll(context.Background())
	return n, toStoreError(err)
}

func (s *LocalStore) CancelFlush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return toStoreError(s.tier.StopFlush(nil))
}

func (s *LocalStore) Info() (store.Info, error) {
	info := store.Info{
		Tier:      s.tier.Info(),
		Databases: make([]db.DatabaseInfo, len(s.keyspaces)),
	}
	for i, ks := range s.keyspaces {
		info.Databases[i] = ks.GetInfo()
	}
	return info, nil
}

// --------------------------------------------------------------------------
// Shutdown
// --------------------------------------------------------------------------

// Close waits for a running background flush, writes all remaining dirty keys
// to disk and closes the keyspaces. The disk store is not closed.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// waits for the running job and the pending deletes before the final writes
	s.tier.Close()

	var errs []error
	if s.tier.Enabled() {
		if n, err := s.tier.FlushAll(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("final flush: %w", err))
		} else {
			log.Infof("final flush wrote %d keys", n)
		}
	}

	s.closeKeyspaces()
	return errors.Join(errs...)
}

func (s *LocalStore) closeKeyspaces() {
	for i, ks := range s.keyspaces {
		if err := ks.Close(); err != nil {
			log.Warningf("db %d: failed to close keyspace: %v", i, err)
		}
	}
}

// --------------------------------------------------------------------------
// Error Mapping
// --------------------------------------------------------------------------

// toStoreError maps errors of the disk tier to store errors
func toStoreError(err error) error {
	if err == nil {
		return nil
	}
	var storeErr *store.Error
	if errors.As(err, &storeErr) {
		return storeErr
	}

	code := store.RetCInternalError
	switch {
	case errors.Is(err, idb.ErrDisabled):
		code = store.RetCDisabled
	case errors.Is(err, idb.ErrFlushInProgress):
		code = store.RetCFlushInProgress
	case errors.Is(err, idb.ErrNoFlushRunning):
		code = store.RetCInvalidOperation
	case errors.Is(err, idb.ErrInvalidDatabase), errors.Is(err, idb.ErrReservedKey):
		code = store.RetCInvalidArgument
	}
	return store.NewError(code, err.Error())
}
