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

package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/sangha/store"
	"github.com/blinklabs-io/sangha/store/sqlite"
)

var testNow = time.Date(2025, 8, 12, 18, 0, 0, 0, time.UTC)

func record(i int) store.Record {
	return store.Record{
		TakenAt: testNow.Add(time.Duration(i) * time.Minute),
		Data:    []byte{byte(i), 0xbe, 0xef},
		Members: []store.MemberSummary{
			{Identity: "bob", Level: "guest", Consciousness: "none", Karma: 1},
			{Identity: "alice", Level: "member", Consciousness: "awakening", Karma: int64(100 + i), Score: 0.5},
		},
	}
}

func requireRecord(t *testing.T, want, got store.Record) {
	t.Helper()
	require.True(t, want.TakenAt.Equal(got.TakenAt), "%s != %s", want.TakenAt, got.TakenAt)
	require.Equal(t, want.Data, got.Data)
	require.ElementsMatch(t, want.Members, got.Members)
}

func TestInMemoryLatest(t *testing.T) {
	s, err := sqlite.New("", nil, nil, 0)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	_, err = s.Latest(ctx)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Save(ctx, record(1)))
	require.NoError(t, s.Save(ctx, record(3)))
	require.NoError(t, s.Save(ctx, record(2)))
	rec, err := s.Latest(ctx)
	require.NoError(t, err)
	requireRecord(t, record(3), rec)

	members, err := s.Members(ctx)
	require.NoError(t, err)
	require.Len(t, members, 2)
	require.Equal(t, "alice", members[0].Identity)
	require.EqualValues(t, 103, members[0].Karma)
}

func TestRetainAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := sqlite.New(t.TempDir(), nil, reg, 2)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()
	for i := range 4 {
		require.NoError(t, s.Save(ctx, record(i)))
	}
	var snapshots, summaries int64
	require.NoError(t, s.DB().Model(&sqlite.Snapshot{}).Count(&snapshots).Error)
	require.NoError(t, s.DB().Model(&sqlite.MemberSummary{}).Count(&summaries).Error)
	require.EqualValues(t, 2, snapshots)
	require.EqualValues(t, 4, summaries)
	count, err := testutil.GatherAndCount(reg, "sangha_store_saves_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	rec, err := s.Latest(ctx)
	require.NoError(t, err)
	requireRecord(t, record(3), rec)
}

func TestOpenByName(t *testing.T) {
	s, err := store.Open("sqlite", store.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Save(context.Background(), record(5)))
	rec, err := s.Latest(context.Background())
	require.NoError(t, err)
	requireRecord(t, record(5), rec)

	_, err = store.Open("carrier-pigeon", store.Config{})
	require.ErrorIs(t, err, store.ErrUnknownBackend)
}
