// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/blinklabs-io/sangha/store"
)

const (
	backendName = "badger"

	DefaultGcInterval = 5 * time.Minute
)

var (
	snapshotPrefix = []byte("snapshot/")
	membersPrefix  = []byte("members/")
)

// SnapshotStoreBadger keeps snapshots in badger, keyed by the time they were
// taken. Data is not persisted when no data directory is set.
type SnapshotStoreBadger struct {
	promRegistry prometheus.Registerer
	db           *badger.DB
	logger       *slog.Logger
	metrics      *store.Metrics
	gcTicker     *time.Ticker
	gcStopCh     chan struct{}
	dataDir      string
	gcWg         sync.WaitGroup
	gcInterval   time.Duration
	retain       int
}

func init() {
	store.Register(backendName, func(cfg store.Config) (store.Store, error) {
		return New(
			WithLogger(cfg.Logger),
			WithPromRegistry(cfg.PromRegistry),
			WithDataDir(cfg.DataDir),
			WithRetain(cfg.Retain),
		)
	})
}

// New opens a badger snapshot store
func New(opts ...SnapshotStoreBadgerOptionFunc) (*SnapshotStoreBadger, error) {
	s := &SnapshotStoreBadger{
		retain:     store.DefaultRetain,
		gcInterval: DefaultGcInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	s.logger = s.logger.With("component", "store")
	if s.retain <= 0 {
		s.retain = store.DefaultRetain
	}

	var badgerOpts badger.Options
	if s.dataDir == "" {
		// No dataDir, use in-memory config
		badgerOpts = badger.DefaultOptions("").
			WithInMemory(true)
	} else {
		// Make sure that we can read data dir, and create if it doesn't exist
		if _, err := os.Stat(s.dataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		badgerOpts = badger.DefaultOptions(filepath.Join(s.dataDir, "snapshots")).
			WithCompression(options.Snappy)
	}
	badgerOpts = badgerOpts.
		WithLogger(NewBadgerLogger(s.logger)).
		// The default INFO logging is a bit verbose
		WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, err
	}
	s.db = db
	s.metrics = store.NewMetrics(s.promRegistry)
	// GC does not apply to in-memory databases
	if s.dataDir != "" && s.gcInterval > 0 {
		s.gcTicker = time.NewTicker(s.gcInterval)
		s.gcStopCh = make(chan struct{})
		s.gcWg.Add(1)
		go s.valueLogGc(s.gcTicker, s.gcStopCh)
	}
	return s, nil
}

func (s *SnapshotStoreBadger) valueLogGc(t *time.Ticker, stop <-chan struct{}) {
	defer s.gcWg.Done()
	for {
		select {
		case <-t.C:
			for {
				err := s.db.RunValueLogGC(0.5)
				if err == nil {
					// Run it again if it just ran successfully
					continue
				}
				if !errors.Is(err, badger.ErrNoRewrite) {
					s.logger.Warn("snapshot store GC failure", "error", err)
				}
				break
			}
		case <-stop:
			return
		}
	}
}

func snapshotKey(prefix []byte, t time.Time) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	// Stored times are after 1970, so big-endian order is time order
	binary.BigEndian.PutUint64(key[len(prefix):], uint64(t.UnixNano())) //nolint:gosec
	return key
}

// Save stores a record and drops the oldest ones beyond the retain limit
func (s *SnapshotStoreBadger) Save(_ context.Context, rec store.Record) error {
	start := time.Now()
	members, err := cbor.Marshal(rec.Members)
	if err != nil {
		return fmt.Errorf("encode member summaries: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(snapshotKey(snapshotPrefix, rec.TakenAt), rec.Data); err != nil {
			return err
		}
		if err := txn.Set(snapshotKey(membersPrefix, rec.TakenAt), members); err != nil {
			return err
		}
		return s.prune(txn)
	})
	if err != nil {
		s.metrics.Failed(backendName, "save")
		return fmt.Errorf("save snapshot: %w", err)
	}
	s.metrics.Saved(backendName, len(rec.Data), start)
	s.logger.Debug(
		"saved snapshot",
		"taken_at", rec.TakenAt,
		"bytes", len(rec.Data),
	)
	return nil
}

// prune deletes all but the newest retain snapshots inside txn
func (s *SnapshotStoreBadger) prune(txn *badger.Txn) error {
	it := txn.NewIterator(badger.IteratorOptions{
		Prefix:  snapshotPrefix,
		Reverse: true,
	})
	var stale [][]byte
	seen := 0
	// Reverse iteration needs to seek past the end of the prefix
	seekKey := append(append([]byte(nil), snapshotPrefix...), 0xff)
	for it.Seek(seekKey); it.ValidForPrefix(snapshotPrefix); it.Next() {
		seen++
		if seen > s.retain {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
	}
	it.Close()
	for _, key := range stale {
		if err := txn.Delete(key); err != nil {
			return err
		}
		membersKey := append(append([]byte(nil), membersPrefix...), key[len(snapshotPrefix):]...)
		if err := txn.Delete(membersKey); err != nil {
			return err
		}
	}
	return nil
}

// Latest returns the newest snapshot
func (s *SnapshotStoreBadger) Latest(_ context.Context) (store.Record, error) {
	var rec store.Record
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			Prefix:  snapshotPrefix,
			Reverse: true,
		})
		defer it.Close()
		seekKey := append(append([]byte(nil), snapshotPrefix...), 0xff)
		it.Seek(seekKey)
		if !it.ValidForPrefix(snapshotPrefix) {
			return store.ErrNotFound
		}
		item := it.Item()
		key := item.KeyCopy(nil)
		data, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		nanos := binary.BigEndian.Uint64(key[len(snapshotPrefix):])
		rec.TakenAt = time.Unix(0, int64(nanos)).UTC() //nolint:gosec
		rec.Data = data
		membersKey := append(append([]byte(nil), membersPrefix...), key[len(snapshotPrefix):]...)
		membersItem, err := txn.Get(membersKey)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		return membersItem.Value(func(val []byte) error {
			return cbor.Unmarshal(val, &rec.Members)
		})
	})
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.metrics.Failed(backendName, "load")
		}
		return store.Record{}, err
	}
	return rec, nil
}

// Close stops GC and closes the database
func (s *SnapshotStoreBadger) Close() error {
	if s.gcTicker != nil {
		s.gcTicker.Stop()
		close(s.gcStopCh)
		// Wait for GC goroutine to finish
		s.gcWg.Wait()
		s.gcTicker = nil
	}
	return s.db.Close()
}

// DB returns the database handle
func (s *SnapshotStoreBadger) DB() *badger.DB {
	return s.db
}
