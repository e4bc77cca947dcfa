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
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type SnapshotStoreBadgerOptionFunc func(*SnapshotStoreBadger)

// WithLogger specifies the logger object to use for logging messages
func WithLogger(logger *slog.Logger) SnapshotStoreBadgerOptionFunc {
	return func(s *SnapshotStoreBadger) {
		s.logger = logger
	}
}

// WithPromRegistry specifies the prometheus registry to use for metrics
func WithPromRegistry(
	registry prometheus.Registerer,
) SnapshotStoreBadgerOptionFunc {
	return func(s *SnapshotStoreBadger) {
		s.promRegistry = registry
	}
}

// WithDataDir specifies the data directory to use for storage. An empty
// directory keeps everything in memory.
func WithDataDir(dataDir string) SnapshotStoreBadgerOptionFunc {
	return func(s *SnapshotStoreBadger) {
		s.dataDir = dataDir
	}
}

// WithRetain specifies how many snapshots are kept
func WithRetain(retain int) SnapshotStoreBadgerOptionFunc {
	return func(s *SnapshotStoreBadger) {
		s.retain = retain
	}
}

// WithGcInterval specifies how often value log GC runs for disk-backed
// stores. Zero disables GC.
func WithGcInterval(interval time.Duration) SnapshotStoreBadgerOptionFunc {
	return func(s *SnapshotStoreBadger) {
		s.gcInterval = interval
	}
}
