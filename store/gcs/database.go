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
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/blinklabs-io/sangha/store"
)

const (
	backendName   = "gcs"
	DefaultPrefix = "sangha/snapshots/"

	snapshotSuffix = ".cbor"
	membersSuffix  = ".members"
)

// SnapshotStoreGCS keeps off-device snapshot backups in a Google Cloud
// Storage bucket
type SnapshotStoreGCS struct {
	promRegistry    prometheus.Registerer
	logger          *GcsLogger
	metrics         *store.Metrics
	client          *storage.Client
	bucket          *storage.BucketHandle
	bucketName      string
	prefix          string
	credentialsFile string
	retain          int
}

func init() {
	store.Register(backendName, func(cfg store.Config) (store.Store, error) {
		bucket := cfg.Bucket
		if after, ok := strings.CutPrefix(cfg.DataDir, "gcs://"); ok && bucket == "" {
			bucket = after
		}
		return New(
			context.Background(),
			WithBucket(bucket),
			WithCredentialsFile(cfg.CredentialsFile),
			WithLogger(cfg.Logger),
			WithPromRegistry(cfg.PromRegistry),
			WithRetain(cfg.Retain),
		)
	})
}

// ValidateCredentials checks that a credentials file, if given, exists
func ValidateCredentials(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("GCS credentials file does not exist: %s", path)
		}
		return fmt.Errorf("failed to read GCS credentials file: %w", err)
	}
	return nil
}

func newSnapshotStore(opts ...SnapshotStoreGCSOptionFunc) (*SnapshotStoreGCS, error) {
	s := &SnapshotStoreGCS{
		prefix: DefaultPrefix,
		retain: store.DefaultRetain,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = NewGcsLogger(nil)
	}
	if s.retain <= 0 {
		s.retain = store.DefaultRetain
	}
	if s.bucketName == "" {
		return nil, errors.New("gcs store: bucket not set")
	}
	if err := ValidateCredentials(s.credentialsFile); err != nil {
		return nil, err
	}
	return s, nil
}

// New connects to the bucket
func New(ctx context.Context, opts ...SnapshotStoreGCSOptionFunc) (*SnapshotStoreGCS, error) {
	s, err := newSnapshotStore(opts...)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	clientOpts := []option.ClientOption{storage.WithDisabledClientMetrics()}
	if s.credentialsFile != "" {
		clientOpts = append(
			clientOpts,
			option.WithCredentialsFile(s.credentialsFile),
		)
	}
	client, err := storage.NewGRPCClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf(
			"gcs store: failed in creating storage client: %w",
			err,
		)
	}
	s.client = client
	s.bucket = client.Bucket(s.bucketName)
	s.metrics = store.NewMetrics(s.promRegistry)
	return s, nil
}

// ObjectName returns the object a snapshot taken at t is stored under.
// Names sort in time order.
func (s *SnapshotStoreGCS) ObjectName(t time.Time) string {
	return fmt.Sprintf("%s%020d%s", s.prefix, t.UnixNano(), snapshotSuffix)
}

func (s *SnapshotStoreGCS) write(ctx context.Context, name string, data []byte) error {
	w := s.bucket.Object(name).NewWriter(ctx)
	w.ContentType = "application/cbor"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (s *SnapshotStoreGCS) read(ctx context.Context, name string) ([]byte, error) {
	r, err := s.bucket.Object(name).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Save uploads a record and deletes the oldest ones beyond the retain limit
func (s *SnapshotStoreGCS) Save(ctx context.Context, rec store.Record) error {
	start := time.Now()
	name := s.ObjectName(rec.TakenAt)
	members, err := cbor.Marshal(rec.Members)
	if err != nil {
		return fmt.Errorf("encode member summaries: %w", err)
	}
	if err := s.write(ctx, name, rec.Data); err != nil {
		s.metrics.Failed(backendName, "save")
		s.logger.Errorf("failed to write snapshot %s: %v", name, err)
		return err
	}
	if err := s.write(ctx, name+membersSuffix, members); err != nil {
		s.metrics.Failed(backendName, "save")
		s.logger.Errorf("failed to write member summaries %s: %v", name, err)
		return err
	}
	s.metrics.Saved(backendName, len(rec.Data), start)
	s.logger.Infof("snapshot %s written to GCS", name)
	if err := s.prune(ctx); err != nil {
		s.logger.Warningf("failed to prune old snapshots: %v", err)
	}
	return nil
}

// snapshots lists stored snapshot object names, newest first
func (s *SnapshotStoreGCS) snapshots(ctx context.Context) ([]string, error) {
	var names []string
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: s.prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		if strings.HasSuffix(attrs.Name, snapshotSuffix) {
			names = append(names, attrs.Name)
		}
	}
	slices.Sort(names)
	slices.Reverse(names)
	return names, nil
}

func (s *SnapshotStoreGCS) prune(ctx context.Context) error {
	names, err := s.snapshots(ctx)
	if err != nil {
		return err
	}
	if len(names) <= s.retain {
		return nil
	}
	for _, name := range names[s.retain:] {
		for _, obj := range []string{name, name + membersSuffix} {
			err := s.bucket.Object(obj).Delete(ctx)
			if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
				return err
			}
		}
	}
	return nil
}

// Latest downloads the newest snapshot
func (s *SnapshotStoreGCS) Latest(ctx context.Context) (store.Record, error) {
	names, err := s.snapshots(ctx)
	if err != nil {
		s.metrics.Failed(backendName, "load")
		return store.Record{}, err
	}
	if len(names) == 0 {
		return store.Record{}, store.ErrNotFound
	}
	name := names[0]
	data, err := s.read(ctx, name)
	if err != nil {
		s.metrics.Failed(backendName, "load")
		return store.Record{}, err
	}
	rec := store.Record{Data: data}
	if rec.TakenAt, err = s.takenAt(name); err != nil {
		return store.Record{}, err
	}
	members, err := s.read(ctx, name+membersSuffix)
	switch {
	case errors.Is(err, storage.ErrObjectNotExist):
	case err != nil:
		s.metrics.Failed(backendName, "load")
		return store.Record{}, err
	default:
		if err := cbor.Unmarshal(members, &rec.Members); err != nil {
			return store.Record{}, fmt.Errorf("decode member summaries: %w", err)
		}
	}
	return rec, nil
}

func (s *SnapshotStoreGCS) takenAt(name string) (time.Time, error) {
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, s.prefix), snapshotSuffix)
	nanos, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("unexpected snapshot object %q: %w", name, err)
	}
	return time.Unix(0, nanos).UTC(), nil
}

// Close closes the GCS client
func (s *SnapshotStoreGCS) Close() error {
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}
