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

package sqlite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/blinklabs-io/sangha/store"
)

const backendName = "sqlite"

// SnapshotStoreSqlite keeps snapshots and a queryable member summary of each
// one in SQLite
type SnapshotStoreSqlite struct {
	promRegistry prometheus.Registerer
	db           *gorm.DB
	logger       *slog.Logger
	metrics      *store.Metrics
	dataDir      string
	retain       int
}

func init() {
	store.Register(backendName, func(cfg store.Config) (store.Store, error) {
		return New(cfg.DataDir, cfg.Logger, cfg.PromRegistry, cfg.Retain)
	})
}

// New creates a SQLite snapshot store. Uses an in-memory database if dataDir
// is empty.
func New(
	dataDir string,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
	retain int,
) (*SnapshotStoreSqlite, error) {
	var dsn string
	if dataDir == "" {
		// Use in-memory database when no data directory is specified, useful for testing
		dsn = "file::memory:"
	} else {
		// Make sure that we can read data dir, and create if it doesn't exist
		if _, err := os.Stat(dataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(dataDir, fs.ModePerm); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		dsn = fmt.Sprintf(
			"file:%s?_pragma=journal_mode(WAL)",
			filepath.Join(dataDir, "snapshots.sqlite"),
		)
	}
	gormDb, err := gorm.Open(
		sqlite.Open(dsn),
		&gorm.Config{
			Logger: gormlogger.Discard,
		},
	)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		// Create logger to throw away logs
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if retain <= 0 {
		retain = store.DefaultRetain
	}
	s := &SnapshotStoreSqlite{
		db:           gormDb,
		logger:       logger.With("component", "store"),
		promRegistry: promRegistry,
		metrics:      store.NewMetrics(promRegistry),
		dataDir:      dataDir,
		retain:       retain,
	}
	if dataDir == "" {
		// Every connection to :memory: is a separate database
		sqlDb, err := gormDb.DB()
		if err != nil {
			return nil, err
		}
		sqlDb.SetMaxOpenConns(1)
	}
	// Configure tracing for GORM
	if err := s.db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}
	for _, model := range migrateModels {
		s.logger.Debug(fmt.Sprintf("creating table: %#v", model))
		if err := s.db.AutoMigrate(model); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Save stores a record with its member summaries and prunes old snapshots
func (s *SnapshotStoreSqlite) Save(ctx context.Context, rec store.Record) error {
	start := time.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		snap := Snapshot{
			TakenAt: rec.TakenAt,
			Data:    rec.Data,
			Size:    len(rec.Data),
		}
		if result := tx.Create(&snap); result.Error != nil {
			return result.Error
		}
		if len(rec.Members) > 0 {
			rows := make([]MemberSummary, 0, len(rec.Members))
			for _, m := range rec.Members {
				rows = append(rows, MemberSummary{
					SnapshotID:    snap.ID,
					Identity:      m.Identity,
					DisplayName:   m.DisplayName,
					Level:         m.Level,
					Consciousness: m.Consciousness,
					Karma:         m.Karma,
					Score:         m.Score,
					Violations:    m.Violations,
				})
			}
			if result := tx.Create(&rows); result.Error != nil {
				return result.Error
			}
		}
		return s.prune(tx)
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
		"members", len(rec.Members),
	)
	return nil
}

func (s *SnapshotStoreSqlite) prune(tx *gorm.DB) error {
	var keep []uint
	result := tx.Model(&Snapshot{}).
		Order("taken_at DESC, id DESC").
		Limit(s.retain).
		Pluck("id", &keep)
	if result.Error != nil {
		return result.Error
	}
	if len(keep) == 0 {
		return nil
	}
	if result := tx.Where("snapshot_id NOT IN ?", keep).Delete(&MemberSummary{}); result.Error != nil {
		return result.Error
	}
	if result := tx.Where("id NOT IN ?", keep).Delete(&Snapshot{}); result.Error != nil {
		return result.Error
	}
	return nil
}

func (s *SnapshotStoreSqlite) latest(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	result := s.db.WithContext(ctx).
		Order("taken_at DESC, id DESC").
		Limit(1).
		Find(&snap)
	if result.Error != nil {
		return Snapshot{}, result.Error
	}
	if result.RowsAffected == 0 {
		return Snapshot{}, store.ErrNotFound
	}
	return snap, nil
}

// Latest returns the newest snapshot
func (s *SnapshotStoreSqlite) Latest(ctx context.Context) (store.Record, error) {
	snap, err := s.latest(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.metrics.Failed(backendName, "load")
		}
		return store.Record{}, err
	}
	members, err := s.members(ctx, snap.ID)
	if err != nil {
		s.metrics.Failed(backendName, "load")
		return store.Record{}, err
	}
	return store.Record{
		TakenAt: snap.TakenAt.UTC(),
		Data:    snap.Data,
		Members: members,
	}, nil
}

// Members returns the member summaries of the newest snapshot, highest
// karma first
func (s *SnapshotStoreSqlite) Members(ctx context.Context) ([]store.MemberSummary, error) {
	snap, err := s.latest(ctx)
	if err != nil {
		return nil, err
	}
	return s.members(ctx, snap.ID)
}

func (s *SnapshotStoreSqlite) members(ctx context.Context, snapshotID uint) ([]store.MemberSummary, error) {
	var rows []MemberSummary
	result := s.db.WithContext(ctx).
		Where("snapshot_id = ?", snapshotID).
		Order("karma DESC, identity ASC").
		Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	if len(rows) == 0 {
		return nil, nil
	}
	ret := make([]store.MemberSummary, 0, len(rows))
	for _, row := range rows {
		ret = append(ret, store.MemberSummary{
			Identity:      row.Identity,
			DisplayName:   row.DisplayName,
			Level:         row.Level,
			Consciousness: row.Consciousness,
			Karma:         row.Karma,
			Score:         row.Score,
			Violations:    row.Violations,
		})
	}
	return ret, nil
}

// DB returns the database handle
func (s *SnapshotStoreSqlite) DB() *gorm.DB {
	return s.db
}

// Close closes the database connection
func (s *SnapshotStoreSqlite) Close() error {
	sqlDb, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDb.Close()
}
