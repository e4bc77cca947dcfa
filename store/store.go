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

// Package store defines where community snapshots are persisted. Backends
// live in subpackages and register themselves by name.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const DefaultRetain = 8

var (
	ErrNotFound       = errors.New("no snapshot stored")
	ErrUnknownBackend = errors.New("unknown store backend")
)

// MemberSummary is a flattened view of one member at snapshot time, kept by
// backends that can be queried
type MemberSummary struct {
	Identity      string  `json:"identity"`
	DisplayName   string  `json:"displayName"`
	Level         string  `json:"level"`
	Consciousness string  `json:"consciousness"`
	Karma         int64   `json:"karma"`
	Score         float64 `json:"score"`
	Violations    uint32  `json:"violations"`
}

// Record is one saved snapshot. Data holds the encoded snapshot.
type Record struct {
	TakenAt time.Time
	Data    []byte
	Members []MemberSummary
}

// Store persists snapshot records. Implementations keep at most their
// configured number of records, dropping the oldest.
type Store interface {
	Save(ctx context.Context, rec Record) error
	// Latest returns the most recent record, or ErrNotFound
	Latest(ctx context.Context) (Record, error)
	Close() error
}

type Config struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	// DataDir is the local directory for disk-backed stores. Empty means
	// in-memory where the backend supports it.
	DataDir         string
	Bucket          string
	CredentialsFile string
	Retain          int
}

type OpenFunc func(Config) (Store, error)

var (
	backends   = map[string]OpenFunc{}
	backendsMu sync.RWMutex
)

// Register makes a backend available to Open. It is called from the init
// function of each backend package.
func Register(name string, fn OpenFunc) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[name] = fn
}

// Backends returns the registered backend names, sorted
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	ret := make([]string, 0, len(backends))
	for name := range backends {
		ret = append(ret, name)
	}
	slices.Sort(ret)
	return ret
}

// Open opens the named backend
func Open(name string, cfg Config) (Store, error) {
	backendsMu.RLock()
	fn, ok := backends[name]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownBackend, name, Backends())
	}
	if cfg.Retain <= 0 {
		cfg.Retain = DefaultRetain
	}
	s, err := fn(cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", name, err)
	}
	return s, nil
}
