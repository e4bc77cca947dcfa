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
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blinklabs-io/sangha/internal/config"
	"github.com/blinklabs-io/sangha/store"
	// Store backends
	_ "github.com/blinklabs-io/sangha/store/badger"
	_ "github.com/blinklabs-io/sangha/store/gcs"
	_ "github.com/blinklabs-io/sangha/store/sqlite"
)

func openStore(
	cfg *config.Config,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) (store.Store, error) {
	dataDir := cfg.DataDir
	// A local data dir means nothing to a bucket store
	if cfg.StoreBackend == "gcs" && !strings.HasPrefix(dataDir, "gcs://") {
		dataDir = ""
	}
	return store.Open(
		cfg.StoreBackend,
		store.Config{
			Logger:          logger,
			PromRegistry:    promRegistry,
			DataDir:         dataDir,
			Bucket:          cfg.GcsBucket,
			CredentialsFile: cfg.GcsCredentialsFile,
			Retain:          cfg.SnapshotRetain,
		},
	)
}
