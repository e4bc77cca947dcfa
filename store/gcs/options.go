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

package gcs

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

type SnapshotStoreGCSOptionFunc func(*SnapshotStoreGCS)

// WithLogger specifies the logger object to use for logging messages
func WithLogger(logger *slog.Logger) SnapshotStoreGCSOptionFunc {
	return func(s *SnapshotStoreGCS) {
		s.logger = NewGcsLogger(logger)
	}
}

// WithPromRegistry specifies the prometheus registry to use for metrics
func WithPromRegistry(
	registry prometheus.Registerer,
) SnapshotStoreGCSOptionFunc {
	return func(s *SnapshotStoreGCS) {
		s.promRegistry = registry
	}
}

// WithBucket specifies the bucket name
func WithBucket(bucket string) SnapshotStoreGCSOptionFunc {
	return func(s *SnapshotStoreGCS) {
		s.bucketName = bucket
	}
}

// WithPrefix specifies the object name prefix snapshots are stored under
func WithPrefix(prefix string) SnapshotStoreGCSOptionFunc {
	return func(s *SnapshotStoreGCS) {
		s.prefix = prefix
	}
}

// WithCredentialsFile specifies a service account credentials file
func WithCredentialsFile(path string) SnapshotStoreGCSOptionFunc {
	return func(s *SnapshotStoreGCS) {
		s.credentialsFile = path
	}
}

// WithRetain specifies how many snapshots are kept
func WithRetain(retain int) SnapshotStoreGCSOptionFunc {
	return func(s *SnapshotStoreGCS) {
		s.retain = retain
	}
}
