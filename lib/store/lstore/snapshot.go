package lstore

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ValentinKolb/idkv/lib/store"
)

// snapshotName returns the file name of the snapshot of a database
func snapshotName(dbIndex int) string {
	return fmt.Sprintf("db-%02d.snap", dbIndex)
}

// Save writes a snapshot of every keyspace to the snapshot directory. Commands
// keep running while the snapshot is written, the disk tier sees the store as
// busy until Save returns.
func (s *LocalStore) Save() error {
	if s.snapshotDir == "" {
		return store.NewError(store.RetCUnsupportedOperation, "no snapshot directory configured")
	}
	if !s.saving.CompareAndSwap(false, true) {
		return store.NewError(store.RetCInvalidOperation, "a snapshot is already being written")
	}
	defer s.saving.Store(false)

	start := time.Now()
	if err := s.snapshotFS.MkdirAll(s.snapshotDir, 0o755); err != nil {
		return store.NewError(store.RetCInternalError, err.Error())
	}

	for i, ks := range s.keyspaces {
		if err := s.writeSnapshot(i, ks.Save); err != nil {
			log.Errorf("db %d: snapshot failed: %v", i, err)
			return store.NewError(store.RetCInternalError, err.Error())
		}
	}

	log.Infof("snapshot of %d databases written in %v", len(s.keyspaces), time.Since(start))
	return nil
}

// writeSnapshot writes a snapshot to a temporary file and renames it into place
func (s *LocalStore) writeSnapshot(dbIndex int, save func(w io.Writer) error) error {
	path := s.snapshotFS.PathJoin(s.snapshotDir, snapshotName(dbIndex))
	tmp := path + ".tmp"

	f, err := s.snapshotFS.Create(tmp)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(f)
	if err := save(w); err != nil {
		_ = f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return s.snapshotFS.Rename(tmp, path)
}

// loadSnapshots restores every keyspace that has a snapshot
func (s *LocalStore) loadSnapshots() error {
	if s.snapshotDir == "" {
		return nil
	}

	for i, ks := range s.keyspaces {
		path := s.snapshotFS.PathJoin(s.snapshotDir, snapshotName(i))
		f, err := s.snapshotFS.Open(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return err
		}

		err = ks.Load(bufio.NewReader(f))
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("db %d: load snapshot %s: %w", i, path, err)
		}
		log.Infof("db %d: restored %d keys from snapshot", i, ks.Len())
	}
	return nil
}
