package idb

import (
	"sync"
	"sync/atomic"
)

// reapNode is a single key waiting for deletion
type reapNode struct {
	dbIndex int
	key     string
	next    atomic.Pointer[reapNode]
}

// reapFunc deletes the record of key if it is still expired and reports whether
// it was deleted
type reapFunc func(dbIndex int, key string) (bool, error)

// reaper deletes expired records from the disk store in the background, so a
// lookup that finds an expired record never waits for the delete.
//
// Keys are pushed onto a lock-free multi-producer single-consumer list and
// consumed by one goroutine. Deletes are best effort: failures are counted and
// logged, the record will be found expired again on the next lookup. A queued
// key may be rewritten before it is consumed, so reap re-checks the record
// before it deletes anything.
type reaper struct {
	reap  reapFunc
	stats *Stats

	head atomic.Pointer[reapNode] // consumed sentinel, owned by the consumer
	tail atomic.Pointer[reapNode]

	wake    chan struct{}
	closed  atomic.Bool
	stopped sync.WaitGroup
}

func newReaper(reap reapFunc, stats *Stats) *reaper {
	sentinel := &reapNode{}
	r := &reaper{
		reap:  reap,
		stats: stats,
		wake:  make(chan struct{}, 1),
	}
	r.head.Store(sentinel)
	r.tail.Store(sentinel)

	r.stopped.Add(1)
	go r.consume()
	return r
}

// push queues a key for deletion. It returns false once the reaper is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (r *reaper) push(dbIndex int, key string) bool {
	if r == nil || r.closed.Load() {
		return false
	}

	n := &reapNode{dbIndex: dbIndex, key: key}
	for {
		tail := r.tail.Load()
		next := tail.next.Load()
		if next != nil {
			// another producer appended but did not move the tail yet, help it
			r.tail.CompareAndSwap(tail, next)
			continue
		}
		if tail.next.CompareAndSwap(nil, n) {
			r.tail.CompareAndSwap(tail, n)
			break
		}
	}

	// non-blocking wake up, one pending signal is enough
	select {
	case r.wake <- struct{}{}:
	default:
	}
	return true
}

// consume deletes queued keys until the reaper is closed and the list is drained
func (r *reaper) consume() {
	defer r.stopped.Done()

	for {
		for {
			head := r.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			r.head.Store(next)

			deleted, err := r.reap(next.dbIndex, next.key)
			switch {
			case err != nil:
				r.stats.reapFailures.Inc(1)
				log.Warningf("db %d: failed to delete expired key %q from disk: %v", next.dbIndex, next.key, err)
			case deleted:
				r.stats.reaped.Inc(1)
			}
			next.key = "" // help the go gc
		}

		if r.closed.Load() && r.head.Load().next.Load() == nil {
			return
		}
		<-r.wake
	}
}

// close stops accepting keys and waits until all queued keys are deleted
func (r *reaper) close() {
	if r.closed.CompareAndSwap(false, true) {
		select {
		case r.wake <- struct{}{}:
		default:
		}
	}
	r.stopped.Wait()
}
