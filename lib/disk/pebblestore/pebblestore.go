// Package pebblestore implements disk.Store on top of cockroachdb/pebble.
//
// Key layout inside pebble:
//
//	'k' + key                                 -> main record
//	'f' + uvarint(len(key)) + key + field     -> side field
//
// The length prefix keeps the fields of one key in a contiguous range that
// no other key can share, so Delete removes them with a single DeleteRange.
//
// A bloom filter over all record keys answers negative Exists queries without
// touching pebble. The filter is rebuilt on Open and only ever grows, deleted
// keys stay in it as false positives.
package pebblestore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ValentinKolb/idkv/lib/disk"
	"github.com/bits-and-blooms/bloom/v3"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("disk")

const (
	recordTag byte = 'k'
	fieldTag  byte = 'f'

	defaultBloomExpectedKeys = 1_000_000
	defaultBloomFPRate       = 0.01
)

// Options configures the pebble store
type Options struct {
	Dir               string  // Data directory
	FS                vfs.FS  // File system (nil = os file system), vfs.NewMem() for tests
	Sync              bool    // fsync every write
	BloomExpectedKeys uint    // Expected number of keys for sizing the bloom filter (0 = default)
	BloomFPRate       float64 // Target false positive rate of the bloom filter (0 = default)
}

// pebbleStore is a disk.Store backed by a pebble database
type pebbleStore struct {
	mu     sync.RWMutex // guards db against Close
	db     *pebble.DB
	wo     *pebble.WriteOptions
	closed bool

	bloomMu sync.Mutex
	bloom   *bloom.BloomFilter
}

// pebbleLogger routes pebble's log output to the disk logger
type pebbleLogger struct{}

func (pebbleLogger) Infof(format string, args ...interface{})  { log.Debugf(format, args...) }
func (pebbleLogger) Fatalf(format string, args ...interface{}) { log.Panicf(format, args...) }

// Open opens (or creates) a pebble store and rebuilds its bloom filter
func Open(opts Options) (disk.Store, error) {
	if opts.BloomExpectedKeys == 0 {
		opts.BloomExpectedKeys = defaultBloomExpectedKeys
	}
	if opts.BloomFPRate <= 0 || opts.BloomFPRate >= 1 {
		opts.BloomFPRate = defaultBloomFPRate
	}

	pOpts := &pebble.Options{
		FS:     opts.FS,
		Logger: pebbleLogger{},
	}
	db, err := pebble.Open(opts.Dir, pOpts)
	if err != nil {
		return nil, fmt.Errorf("open pebble store at %q: %w", opts.Dir, err)
	}

	wo := pebble.NoSync
	if opts.Sync {
		wo = pebble.Sync
	}

	s := &pebbleStore{
		db:    db,
		wo:    wo,
		bloom: bloom.NewWithEstimates(opts.BloomExpectedKeys, opts.BloomFPRate),
	}

	n, err := s.rebuildBloom()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Infof("opened pebble store at %q with %d records (sync=%v)", opts.Dir, n, opts.Sync)

	return s, nil
}

// rebuildBloom adds every record key to the bloom filter
func (s *pebbleStore) rebuildBloom() (int, error) {
	lower := []byte{recordTag}
	iter := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: prefixSuccessor(lower),
	})

	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		s.bloom.Add(iter.Key()[1:])
		n++
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("rebuild bloom filter: %w", err)
	}
	return n, nil
}

// --------------------------------------------------------------------------
// Key Encoding
// --------------------------------------------------------------------------

func recordKey(key []byte) []byte {
	k := make([]byte, 0, len(key)+1)
	k = append(k, recordTag)
	return append(k, key...)
}

// fieldPrefix is the common prefix of all side fields of key
func fieldPrefix(key []byte) []byte {
	k := make([]byte, 0, len(key)+1+binary.MaxVarintLen64)
	k = append(k, fieldTag)
	k = binary.AppendUvarint(k, uint64(len(key)))
	return append(k, key...)
}

func fieldKey(key []byte, field string) []byte {
	return append(fieldPrefix(key), field...)
}

// prefixSuccessor returns the smallest key greater than every key with the given prefix
func prefixSuccessor(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil // no upper bound
}

// --------------------------------------------------------------------------
// disk.Store Interface Methods
// --------------------------------------------------------------------------

func (s *pebbleStore) Put(key, value []byte, field string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return disk.ErrClosed
	}

	if field != "" {
		return s.db.Set(fieldKey(key, field), value, s.wo)
	}

	if err := s.db.Set(recordKey(key), value, s.wo); err != nil {
		return err
	}

	s.bloomMu.Lock()
	s.bloom.Add(key)
	s.bloomMu.Unlock()
	return nil
}

func (s *pebbleStore) Get(key []byte, field string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, disk.ErrClosed
	}

	k := recordKey(key)
	if field != "" {
		k = fieldKey(key, field)
	}

	value, closer, err := s.db.Get(k)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()

	// the value is only valid until the closer is closed
	return append([]byte{}, value...), true, nil
}

func (s *pebbleStore) Delete(key []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return disk.ErrClosed
	}

	prefix := fieldPrefix(key)

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Delete(recordKey(key), nil); err != nil {
		return err
	}
	if err := batch.DeleteRange(prefix, prefixSuccessor(prefix), nil); err != nil {
		return err
	}
	return batch.Commit(s.wo)
}

func (s *pebbleStore) Exists(key []byte) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, disk.ErrClosed
	}

	s.bloomMu.Lock()
	maybe := s.bloom.Test(key)
	s.bloomMu.Unlock()
	if !maybe {
		return false, nil
	}

	_, closer, err := s.db.Get(recordKey(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, closer.Close()
}

func (s *pebbleStore) ListSubkeys(prefix []byte, pattern string, skip, count int, mode disk.ListMode) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, disk.ErrClosed
	}

	lower := recordKey(disk.ListPrefix(prefix))
	iter := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: prefixSuccessor(lower),
	})

	lister := disk.NewLister(prefix, pattern, skip, count, mode)
	for iter.First(); iter.Valid(); iter.Next() {
		if !lister.Add(string(iter.Key()[len(lower):])) {
			break
		}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}

	return lister.Names(), nil
}

func (s *pebbleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
