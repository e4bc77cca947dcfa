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

package arena_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/sangha/arena"
)

func TestInsertGetRemove(t *testing.T) {
	a := arena.New[string](2)
	h1, err := a.Insert("one")
	require.NoError(t, err)
	h2, err := a.Insert("two")
	require.NoError(t, err)
	require.True(t, a.Full())

	_, err = a.Insert("three")
	require.ErrorIs(t, err, arena.ErrFull)

	v, ok := a.Get(h1)
	require.True(t, ok)
	require.Equal(t, "one", *v)

	removed, ok := a.Remove(h1)
	require.True(t, ok)
	require.Equal(t, "one", removed)
	require.Equal(t, 1, a.Len())

	// Stale handle must not resolve after the slot is reused
	h3, err := a.Insert("three")
	require.NoError(t, err)
	require.Equal(t, h1.Index, h3.Index)
	require.NotEqual(t, h1.Gen, h3.Gen)
	_, ok = a.Get(h1)
	require.False(t, ok)
	_, ok = a.Remove(h1)
	require.False(t, ok)

	v, ok = a.Get(h2)
	require.True(t, ok)
	require.Equal(t, "two", *v)
}

func TestZeroHandleNeverLive(t *testing.T) {
	a := arena.New[int](1)
	_, err := a.Insert(7)
	require.NoError(t, err)
	_, ok := a.Get(arena.Handle{})
	require.False(t, ok)
	require.True(t, arena.Handle{}.IsZero())
}

func TestVictimRankAndProtection(t *testing.T) {
	a := arena.New[int64](4)
	hA, _ := a.Insert(30)
	hB, _ := a.Insert(10)
	hC, _ := a.Insert(10)
	_, _ = a.Insert(20)
	rank := func(v *int64) int64 { return *v }

	h, ok := a.Victim(rank, nil)
	require.True(t, ok)
	// Tie between hB and hC goes to the earlier insertion
	require.Equal(t, hB, h)

	h, ok = a.Victim(rank, func(h arena.Handle, _ *int64) bool { return h == hB })
	require.True(t, ok)
	require.Equal(t, hC, h)

	_, ok = a.Victim(rank, func(arena.Handle, *int64) bool { return true })
	require.False(t, ok)

	_, _ = a.Remove(hB)
	_, _ = a.Remove(hC)
	h, ok = a.Victim(rank, nil)
	require.True(t, ok)
	require.NotEqual(t, hA, h)
}

func TestAllSlotOrder(t *testing.T) {
	a := arena.New[string](3)
	h1, _ := a.Insert("a")
	_, _ = a.Insert("b")
	_, _ = a.Insert("c")
	_, _ = a.Remove(h1)
	var got []string
	for _, v := range a.All() {
		got = append(got, *v)
	}
	require.Equal(t, []string{"b", "c"}, got)
}

func TestExportRestoreIssuesSameHandles(t *testing.T) {
	a := arena.New[string](3)
	h1, _ := a.Insert("a")
	_, _ = a.Insert("b")
	_, _ = a.Remove(h1)

	b, err := arena.Restore(a.Export())
	require.NoError(t, err)
	require.Equal(t, a.Len(), b.Len())
	require.Equal(t, a.Cap(), b.Cap())

	ha, err := a.Insert("c")
	require.NoError(t, err)
	hb, err := b.Insert("c")
	require.NoError(t, err)
	require.Equal(t, ha, hb)

	sa, _ := a.Seq(ha)
	sb, _ := b.Seq(hb)
	require.Equal(t, sa, sb)
}

func TestRestoreRejectsInconsistentState(t *testing.T) {
	testDefs := []struct {
		name  string
		state arena.State[int]
	}{
		{
			name:  "zero capacity",
			state: arena.State[int]{},
		},
		{
			name: "free slot out of range",
			state: arena.State[int]{
				Capacity: 1,
				Free:     []uint32{3},
			},
		},
		{
			name: "live slot marked free",
			state: arena.State[int]{
				Capacity: 1,
				NextSeq:  1,
				Slots:    []arena.SlotState[int]{{Live: true, Gen: 1, Seq: 1}},
				Free:     []uint32{0},
			},
		},
		{
			name: "too many live slots",
			state: arena.State[int]{
				Capacity: 1,
				NextSeq:  2,
				Slots: []arena.SlotState[int]{
					{Live: true, Gen: 1, Seq: 1},
					{Live: true, Gen: 1, Seq: 2},
				},
			},
		},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			_, err := arena.Restore(testDef.state)
			require.ErrorIs(t, err, arena.ErrInvalidState)
		})
	}
}

func TestParseHandle(t *testing.T) {
	h := arena.Handle{Index: 3, Gen: 7}
	parsed, err := arena.ParseHandle(h.String())
	require.NoError(t, err)
	require.Equal(t, h, parsed)

	for _, bad := range []string{"", "3", "3.", "x.1", "1.-2", "99999999999.1"} {
		_, err := arena.ParseHandle(bad)
		require.ErrorIs(t, err, arena.ErrInvalidHandle, bad)
	}
}
