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

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/sangha/community"
	"github.com/blinklabs-io/sangha/internal/config"
	"github.com/blinklabs-io/sangha/store"
)

const script = `
kind: announce
identity: alice
displayName: Alice
---
kind: karma-update
identity: alice
delta: 400
reason: planted trees
---
kind: share-knowledge
identity: alice
text: compost needs air
---
kind: heartbeat
identity: ghost
`

func TestReplaySavesAndInspects(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "messages.yaml")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o644))

	cfg := config.DefaultConfig()
	cfg.StoreBackend = "sqlite"
	cfg.DataDir = filepath.Join(dir, "data")
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	replayFlags.save = true
	replayFlags.finalize = true
	t.Cleanup(func() {
		replayFlags.save = false
		replayFlags.finalize = false
	})
	require.NoError(t, replay(context.Background(), cfg, logger, path))

	s, err := openStore(cfg, logger, nil)
	require.NoError(t, err)
	rec, err := s.Latest(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.Len(t, rec.Members, 1)
	require.Equal(t, "alice", rec.Members[0].Identity)
	snap, err := community.DecodeSnapshot(rec.Data)
	require.NoError(t, err)
	require.Len(t, snap.Knowledge.Entries.Slots, 1)

	require.NoError(t, inspect(context.Background(), cfg, logger))
}

func TestInspectEmptyStore(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.StoreBackend = "sqlite"
	cfg.DataDir = t.TempDir()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	require.NoError(t, inspect(context.Background(), cfg, logger))
}

func TestReplayMissingScript(t *testing.T) {
	cfg := config.DefaultConfig()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	require.Error(t, replay(context.Background(), cfg, logger, filepath.Join(t.TempDir(), "nope.yaml")))
}

func TestBackendsRegistered(t *testing.T) {
	require.ElementsMatch(t, []string{"badger", "gcs", "sqlite"}, store.Backends())
	require.Contains(t, listBackends(), "sqlite")
}
