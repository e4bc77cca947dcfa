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

package arena

import "fmt"

// SlotState is the exported form of one slot, live or free
type SlotState[T any] struct {
	Value T      `json:"value"`
	Seq   uint64 `json:"seq"`
	Gen   uint32 `json:"gen"`
	Live  bool   `json:"live"`
}

// State captures everything needed to rebuild an arena that issues the same
// handles in the same order as the original.
type State[T any] struct {
	Slots    []SlotState[T] `json:"slots"`
	Free     []uint32       `json:"free"`
	Capacity int            `json:"capacity"`
	NextSeq  uint64         `json:"nextSeq"`
}

// Export returns a deep copy of the arena state. Values are copied with a
// plain assignment, so T should not share mutable memory with the arena.
func (a *Arena[T]) Export() State[T] {
	st := State[T]{
		Slots:    make([]SlotState[T], len(a.slots)),
		Free:     append([]uint32(nil), a.free...),
		Capacity: a.capacity,
		NextSeq:  a.nextSeq,
	}
	for i, s := range a.slots {
		st.Slots[i] = SlotState[T]{
			Value: s.value,
			Seq:   s.seq,
			Gen:   s.gen,
			Live:  s.live,
		}
	}
	return st
}

// Restore rebuilds an arena from an exported state
func Restore[T any](st State[T]) (*Arena[T], error) {
	if st.Capacity < 1 {
		return nil, fmt.Errorf("%w: capacity %d", ErrInvalidState, st.Capacity)
	}
	a := &Arena[T]{
		capacity: st.Capacity,
		nextSeq:  st.NextSeq,
		slots:    make([]slot[T], len(st.Slots), max(len(st.Slots), st.Capacity)),
		free:     append([]uint32(nil), st.Free...),
	}
	freeSet := make(map[uint32]struct{}, len(st.Free))
	for _, idx := range st.Free {
		if int(idx) >= len(st.Slots) {
			return nil, fmt.Errorf("%w: free slot %d out of range", ErrInvalidState, idx)
		}
		if _, dup := freeSet[idx]; dup {
			return nil, fmt.Errorf("%w: free slot %d listed twice", ErrInvalidState, idx)
		}
		freeSet[idx] = struct{}{}
	}
	for i, s := range st.Slots {
		_, isFree := freeSet[uint32(i)] //nolint:gosec
		if s.Live == isFree {
			return nil, fmt.Errorf("%w: slot %d live=%t free=%t", ErrInvalidState, i, s.Live, isFree)
		}
		if s.Seq > st.NextSeq {
			return nil, fmt.Errorf("%w: slot %d sequence ahead of counter", ErrInvalidState, i)
		}
		a.slots[i] = slot[T]{value: s.Value, seq: s.Seq, gen: s.Gen, live: s.Live}
		if s.Live {
			a.live++
		}
	}
	if a.live > a.capacity {
		return nil, fmt.Errorf("%w: %d live entries exceed capacity %d", ErrInvalidState, a.live, a.capacity)
	}
	return a, nil
}
