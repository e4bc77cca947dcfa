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

package badger_test

import (
	"context"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/sangha/store"
	badgerstore "github.com/blinklabs-io/sangha/store/badger"
)

var testNow = time.Date(2025, 8, 12, 18, 0, 0, 0, time.UTC)

func record(i int) store.Record {
	return store.Record{
		TakenAt: testNow.Add(time.Duration(i) * time.Minute),
		Data:    []byte{byte(i), 0xca, 0xfe},
		Members: []store.MemberSummary{
			{Identity: "alice", Level: "member", Karma: int64(i)},
		},
	}
}

func TestInMemoryLatest(t *testing.T) {
	s, err := badgerstore.New()
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	_, err = s.Latest(ctx)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Save(ctx, record(2)))
	require.NoError(t, s.Save(ctx, record(1)))
	rec, err := s.Latest(ctx)
	require.NoError(t, err)
	require.Equal(t, record(2), rec)
}

func TestRetain(t *testing.T) {
	s, err := badgerstore.New(badgerstore.WithRetain(2))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()
	for i := range 5 {
		require.NoError(t, s.Save(ctx, record(i)))
	}
	count := 0
	err = s.DB().View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte("snapshot/")})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, count)
	rec, err := s.Latest(ctx)
	require.NoError(t, err)
	require.Equal(t, record(4), rec)
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s, err := store.Open("badger", store.Config{DataDir: dir})
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, record(7)))
	require.NoError(t, s.Close())

	s, err = store.Open("badger", store.Config{DataDir: dir})
	require.NoError(t, err)
	defer s.Close()
	rec, err := s.Latest(ctx)
	require.NoError(t, err)
	require.Equal(t, record(7), rec)
}
