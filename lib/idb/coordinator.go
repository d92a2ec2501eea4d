package idb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ValentinKolb/idkv/lib/db"
	"github.com/ValentinKolb/idkv/lib/disk"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("idb")

// --------------------------------------------------------------------------
// Flush Jobs
// --------------------------------------------------------------------------

// FlushState is the final state of a background flush
type FlushState uint8

const (
	FlushSucceeded   FlushState = iota // all shadow buffers were written
	FlushFailed                        // a store write failed
	FlushInterrupted                   // the flush was stopped by StopFlush
)

func (s FlushState) String() string {
	switch s {
	case FlushSucceeded:
		return "succeeded"
	case FlushFailed:
		return "failed"
	case FlushInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// FlushOutcome describes how a background flush ended
type FlushOutcome struct {
	State    FlushState
	Written  int           // entries processed before the flush ended
	Err      error         // write error or cancel cause (nil on success)
	Duration time.Duration // time from start to reconciliation
}

// FlushJob is the state of one background flush cycle. It lives from the buffer
// swap until the tier has reconciled the buffers with the worker's outcome.
type FlushJob struct {
	ID           string
	Started      time.Time
	DirtyAtStart int64 // dirty counter when the flush started
	Keys         int   // entries handed to the worker

	cancel  context.CancelCauseFunc
	done    chan struct{}
	outcome FlushOutcome
}

// Done is closed after the tier reconciled the buffers with the outcome of the job
func (j *FlushJob) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job is reconciled and returns its outcome
func (j *FlushJob) Wait() FlushOutcome {
	<-j.done
	return j.outcome
}

// --------------------------------------------------------------------------
// Tier
// --------------------------------------------------------------------------

// BusyFunc reports whether a persistence process other than the flush (e.g. a
// keyspace snapshot) is working on the in-memory data
type BusyFunc func() bool

// Tier is the disk tier of a set of keyspaces: it tracks dirty keys, flushes them
// to the disk store in the background and loads keys missing from memory.
//
// Thread-safety: All methods are thread-safe. The foreground is expected to
// serialize its commands, the only parallel actor is the flush worker, which
// works on frozen shadow buffers and never touches tier state until it reports
// its outcome.
type Tier struct {
	cfg       Config
	store     disk.Store
	keyspaces []db.Keyspace
	stats     *Stats
	reaper    *reaper

	mu           sync.Mutex
	syncMode     bool
	buffers      []*BufferPair
	dirty        int64
	job          *FlushJob
	lastSave     time.Time
	lastStatus   error
	lastDuration time.Duration
	busy         []BusyFunc

	auto *autoFlush
}

// New creates the disk tier for the given keyspaces (one per database).
// If cfg.Enabled is false, store may be nil and all tier operations are no-ops
// or return ErrDisabled.
func New(cfg Config, store disk.Store, keyspaces []db.Keyspace) (*Tier, error) {
	defaults := DefaultConfig()
	if cfg.Clock == nil {
		cfg.Clock = defaults.Clock
	}
	if cfg.Databases <= 0 {
		cfg.Databases = len(keyspaces)
	}
	if len(keyspaces) != cfg.Databases {
		return nil, fmt.Errorf("%w: got %d keyspaces for %d databases", ErrInvalidDatabase, len(keyspaces), cfg.Databases)
	}
	if cfg.Enabled && store == nil {
		return nil, errors.New("the disk tier is enabled but no disk store was given")
	}

	t := &Tier{
		cfg:       cfg,
		store:     store,
		keyspaces: keyspaces,
		syncMode:  cfg.Sync,
		buffers:   make([]*BufferPair, cfg.Databases),
	}
	for i := range t.buffers {
		t.buffers[i] = NewBufferPair()
	}
	t.stats = newStats(t)

	if cfg.Enabled {
		t.reaper = newReaper(t.reapExpired, t.stats)
		log.Infof("disk tier enabled (databases=%d, sync=%v, reconcile=%s)", cfg.Databases, cfg.Sync, cfg.Reconcile)
	} else {
		log.Infof("disk tier disabled")
	}

	return t, nil
}

// Enabled reports whether the disk tier is turned on
func (t *Tier) Enabled() bool {
	return t.cfg.Enabled
}

// Stats returns the statistics of the tier
func (t *Tier) Stats() *Stats {
	return t.stats
}

// SetSync switches between write through (true) and buffered (false) mode.
//
// Write through mode never leaves keys in the buffers: switching to it first
// writes all buffered keys to the disk store and fails with ErrFlushInProgress
// while a background flush runs. If that write fails the tier stays buffered.
func (t *Tier) SetSync(sync bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.syncMode == sync {
		return nil
	}
	if sync && t.cfg.Enabled {
		if t.job != nil {
			return ErrFlushInProgress
		}
		if _, err := t.flushAllLocked(context.Background()); err != nil {
			return fmt.Errorf("flush buffers before switching to sync mode: %w", err)
		}
	}

	log.Infof("disk tier sync mode set to %v", sync)
	t.syncMode = sync
	return nil
}

// Sync reports whether the tier writes through to the disk store
func (t *Tier) Sync() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.syncMode
}

// RegisterBusy registers a function that reports foreign persistence activity
func (t *Tier) RegisterBusy(fn BusyFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.busy = append(t.busy, fn)
}

// PersistenceActive reports whether a flush job or any registered persistence
// process is currently running
func (t *Tier) PersistenceActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.persistenceActiveLocked()
}

func (t *Tier) persistenceActiveLocked() bool {
	if t.job != nil {
		return true
	}
	for _, fn := range t.busy {
		if fn() {
			return true
		}
	}
	return false
}

func (t *Tier) checkDB(dbIndex int) error {
	if dbIndex < 0 || dbIndex >= len(t.buffers) {
		return fmt.Errorf("%w: %d (databases: %d)", ErrInvalidDatabase, dbIndex, len(t.buffers))
	}
	return nil
}

// --------------------------------------------------------------------------
// Foreground Writes
// --------------------------------------------------------------------------

// SetKey records that key was written in the keyspace of dbIndex. In sync mode the
// value is written to the disk store immediately, otherwise it is buffered for the
// next flush. The current expiration of the key is read from the keyspace.
func (t *Tier) SetKey(dbIndex int, key string, obj db.Object) error {
	if !t.cfg.Enabled {
		return nil
	}
	if err := t.checkDB(dbIndex); err != nil {
		return err
	}
	if dbIndex == 0 && IsReserved([]byte(key)) {
		return fmt.Errorf("%w: %q", ErrReservedKey, key)
	}

	expireAt := t.keyspaces[dbIndex].ExpireAt(key)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.syncMode {
		t.buffers[dbIndex].Forget(key)
		if err := writeRecord(t.store, NameFor(dbIndex, []byte(key)), obj, expireAt); err != nil {
			log.Warningf("db %d: write error saving key %q on disk: %v", dbIndex, key, err)
			return err
		}
		return nil
	}

	t.buffers[dbIndex].RecordWrite(key, obj, expireAt)
	t.dirty++
	return nil
}

// DeleteKey removes key from the disk tier and reports whether it existed there.
//
//   - sync mode: a buffered entry is dropped and the key is deleted from the
//     store if it exists.
//   - no flush running: a key on disk gets a tombstone, a key that is only
//     buffered is dropped from the buffers, otherwise the key is already absent
//     and nothing is recorded.
//   - flush running: a tombstone is recorded unconditionally, a disk check
//     would race the running flush.
func (t *Tier) DeleteKey(dbIndex int, key string) (bool, error) {
	if !t.cfg.Enabled {
		return false, nil
	}
	if err := t.checkDB(dbIndex); err != nil {
		return false, err
	}
	if dbIndex == 0 && IsReserved([]byte(key)) {
		return false, nil // never persisted
	}

	storeKey := NameFor(dbIndex, []byte(key))

	t.mu.Lock()
	defer t.mu.Unlock()

	buffers := t.buffers[dbIndex]

	if t.syncMode {
		buffers.Forget(key)
		exists, err := t.store.Exists(storeKey)
		if err != nil || !exists {
			return false, err
		}
		return true, t.store.Delete(storeKey)
	}

	if t.job != nil {
		buffers.RecordTombstone(key)
		t.dirty++
		return true, nil
	}

	exists, err := t.store.Exists(storeKey)
	if err != nil {
		return false, err
	}
	if exists {
		buffers.RecordTombstone(key)
		t.dirty++
		return true, nil
	}

	return buffers.Forget(key), nil
}

// --------------------------------------------------------------------------
// Background Snapshot Coordinator
// --------------------------------------------------------------------------

// BackgroundFlush swaps the buffers of all databases and starts a worker that
// writes the frozen shadows to the disk store. It fails with ErrFlushInProgress
// while another flush is running.
func (t *Tier) BackgroundFlush() (*FlushJob, error) {
	if !t.cfg.Enabled {
		return nil, ErrDisabled
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.job != nil {
		return nil, ErrFlushInProgress
	}

	shadows := make([]DirtyBuffer, len(t.buffers))
	expireOf := make([]expireFunc, len(t.buffers))
	keys := 0
	for i, pair := range t.buffers {
		shadows[i] = pair.Swap()
		expireOf[i] = keyspaceExpire(t.keyspaces[i])
		keys += len(shadows[i])
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	job := &FlushJob{
		ID:           uuid.Must(uuid.NewV7()).String(),
		Started:      time.Now(),
		DirtyAtStart: t.dirty,
		Keys:         keys,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	t.job = job

	log.Infof("background flush %s started with %d keys", job.ID, keys)

	// the worker only sees the frozen shadows, the store and the keyspace expiration index
	go func() {
		written, err := flushBuffers(ctx, t.store, shadows, expireOf, t.cfg.Clock)
		t.finishJob(ctx, job, written, err)
	}()

	return job, nil
}

// finishJob reconciles the buffers with the outcome of the worker
func (t *Tier) finishJob(ctx context.Context, job *FlushJob, written int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	outcome := FlushOutcome{Written: written, Duration: time.Since(job.Started)}

	switch {
	case err == nil:
		outcome.State = FlushSucceeded
		for _, pair := range t.buffers {
			pair.DiscardShadow()
		}
		t.dirty -= job.DirtyAtStart
		t.lastSave = time.Now()
		t.lastStatus = nil
		log.Infof("background flush %s terminated with success (%d keys in %v)", job.ID, written, outcome.Duration)

	case ctx.Err() != nil:
		outcome.State = FlushInterrupted
		outcome.Err = context.Cause(ctx)
		t.restoreLocked()
		if errors.Is(outcome.Err, ErrFlushCanceled) {
			log.Infof("background flush %s canceled after %d keys", job.ID, written)
		} else {
			t.lastStatus = outcome.Err
			log.Warningf("background flush %s terminated: %v", job.ID, outcome.Err)
		}

	default:
		outcome.State = FlushFailed
		outcome.Err = err
		t.restoreLocked()
		t.lastStatus = err
		log.Warningf("background flush %s failed: %v", job.ID, err)
	}

	t.lastDuration = outcome.Duration
	t.job = nil
	t.stats.recordFlush(outcome)

	job.cancel(nil)
	job.outcome = outcome
	close(job.done)
}

// restoreLocked merges every shadow back into its active buffer
func (t *Tier) restoreLocked() {
	for i, pair := range t.buffers {
		if reverted := pair.Restore(t.cfg.Reconcile); reverted > 0 {
			log.Warningf("db %d: legacy reconcile reverted %d newer writes to their flushed values", i, reverted)
		}
	}
}

// StopFlush cancels the running flush. A nil cause stops it with the benign
// ErrFlushCanceled, which leaves the last flush status unchanged. Any other cause
// marks the flush as failed. In both cases the shadow buffers are restored.
func (t *Tier) StopFlush(cause error) error {
	if !t.cfg.Enabled {
		return ErrDisabled
	}
	if cause == nil {
		cause = ErrFlushCanceled
	}

	t.mu.Lock()
	job := t.job
	t.mu.Unlock()

	if job == nil {
		return ErrNoFlushRunning
	}
	job.cancel(cause)
	return nil
}

// CurrentJob returns the running flush job or nil
func (t *Tier) CurrentJob() *FlushJob {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.job
}

// FlushAll synchronously writes the active and shadow buffers of all databases to
// the disk store. It is rejected while a background flush runs. On success the
// buffers are emptied and the dirty counter is reset. It returns the number of
// written entries.
func (t *Tier) FlushAll(ctx context.Context) (int, error) {
	if !t.cfg.Enabled {
		return 0, ErrDisabled
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.job != nil {
		return 0, ErrFlushInProgress
	}
	return t.flushAllLocked(ctx)
}

// flushAllLocked writes every buffer to the disk store, t.mu must be held and no
// job may be running
func (t *Tier) flushAllLocked(ctx context.Context) (int, error) {
	start := time.Now()
	total := 0
	for i, pair := range t.buffers {
		expireOf := keyspaceExpire(t.keyspaces[i])
		for _, buf := range []DirtyBuffer{pair.active, pair.shadow} {
			n, err := flushBuffer(ctx, t.store, i, buf, expireOf, t.cfg.Clock())
			total += n
			if err != nil {
				t.lastStatus = err
				log.Warningf("flush of all buffers failed after %d keys: %v", total, err)
				return total, err
			}
		}
		pair.active = make(DirtyBuffer)
		pair.shadow = make(DirtyBuffer)
	}

	t.dirty = 0
	t.lastSave = time.Now()
	t.lastStatus = nil
	t.lastDuration = time.Since(start)
	t.stats.flushedKeys.Inc(int64(total))

	log.Infof("saved %d keys on disk", total)
	return total, nil
}

// --------------------------------------------------------------------------
// Reporting
// --------------------------------------------------------------------------

// BufferInfo is the number of buffered entries of one database
type BufferInfo struct {
	DB     int `json:"db"`
	Active int `json:"active"`
	Shadow int `json:"shadow"`
}

// Info is the flush bookkeeping of the tier
type Info struct {
	Enabled         bool          `json:"enabled"`
	Sync            bool          `json:"sync"`
	FlushInProgress bool          `json:"flush_in_progress"`
	JobID           string        `json:"job_id,omitempty"`
	CurrentStart    time.Time     `json:"current_start,omitempty"`
	LastSave        time.Time     `json:"last_save"`
	LastStatus      string        `json:"last_status"`
	LastError       string        `json:"last_error,omitempty"`
	LastDuration    time.Duration `json:"last_duration"`
	Dirty           int64         `json:"dirty"`
	Buffers         []BufferInfo  `json:"buffers,omitempty"`
	Stats           StatsSnapshot `json:"stats"`
}

// Info returns a snapshot of the flush bookkeeping
func (t *Tier) Info() Info {
	t.mu.Lock()
	info := Info{
		Enabled:      t.cfg.Enabled,
		Sync:         t.syncMode,
		LastSave:     t.lastSave,
		LastStatus:   "ok",
		LastDuration: t.lastDuration,
		Dirty:        t.dirty,
	}
	if t.lastStatus != nil {
		info.LastStatus = "err"
		info.LastError = t.lastStatus.Error()
	}
	if t.job != nil {
		info.FlushInProgress = true
		info.JobID = t.job.ID
		info.CurrentStart = t.job.Started
	}
	for i, pair := range t.buffers {
		active, shadow := pair.Len()
		if active > 0 || shadow > 0 {
			info.Buffers = append(info.Buffers, BufferInfo{DB: i, Active: active, Shadow: shadow})
		}
	}
	t.mu.Unlock()

	info.Stats = t.stats.Snapshot()
	return info
}

// LastStatus returns the error of the last flush or nil if it succeeded
func (t *Tier) LastStatus() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastStatus
}

// Dirty returns the number of writes recorded since the last successful flush
func (t *Tier) Dirty() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dirty
}

// --------------------------------------------------------------------------
// Shutdown
// --------------------------------------------------------------------------

// Close stops the automatic flush, waits for a running flush job and drains the
// queue of pending deletes. It does not flush the buffers and does not close the
// disk store: FlushAll may still be called afterwards, the queued deletes are then
// already done and can not hit the final writes.
func (t *Tier) Close() {
	t.StopAutoFlush()

	if job := t.CurrentJob(); job != nil {
		outcome := job.Wait()
		log.Infof("waited for background flush %s (%s)", job.ID, outcome.State)
	}

	if t.reaper != nil {
		t.reaper.close()
	}
}
