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

// Package arena provides a bounded slot store addressed by generation-checked
// handles. Removing an entry bumps the slot generation, so handles held
// elsewhere for an evicted entry fail lookup instead of aliasing whatever
// takes the slot next.
package arena

import (
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
)

var (
	ErrFull          = errors.New("arena full")
	ErrInvalidState  = errors.New("invalid arena state")
	ErrInvalidHandle = errors.New("invalid handle")
)

// Handle identifies one entry. The zero Handle never refers to a live entry
// because generations start at 1.
type Handle struct {
	Index uint32 `json:"index"`
	Gen   uint32 `json:"gen"`
}

// IsZero reports whether h is the zero Handle
func (h Handle) IsZero() bool {
	return h.Gen == 0
}

func (h Handle) String() string {
	return fmt.Sprintf("%d.%d", h.Index, h.Gen)
}

// ParseHandle parses the "index.gen" form produced by Handle.String
func ParseHandle(s string) (Handle, error) {
	idxStr, genStr, ok := strings.Cut(s, ".")
	if !ok {
		return Handle{}, fmt.Errorf("%w: %q", ErrInvalidHandle, s)
	}
	idx, err := strconv.ParseUint(idxStr, 10, 32)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: %q: %w", ErrInvalidHandle, s, err)
	}
	gen, err := strconv.ParseUint(genStr, 10, 32)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: %q: %w", ErrInvalidHandle, s, err)
	}
	return Handle{Index: uint32(idx), Gen: uint32(gen)}, nil
}

type slot[T any] struct {
	value T
	seq   uint64
	gen   uint32
	live  bool
}

type Arena[T any] struct {
	slots    []slot[T]
	free     []uint32
	capacity int
	live     int
	nextSeq  uint64
}

// New returns an empty arena that holds at most capacity live entries
func New[T any](capacity int) *Arena[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Arena[T]{
		capacity: capacity,
		slots:    make([]slot[T], 0, capacity),
	}
}

func (a *Arena[T]) Len() int { return a.live }

func (a *Arena[T]) Cap() int { return a.capacity }

func (a *Arena[T]) Full() bool { return a.live >= a.capacity }

// Insert stores v and returns its handle. It fails with ErrFull when the arena
// is at capacity; callers pick a victim with Victim and Remove it first.
func (a *Arena[T]) Insert(v T) (Handle, error) {
	if a.Full() {
		return Handle{}, ErrFull
	}
	a.nextSeq++
	var idx uint32
	if n := len(a.free); n > 0 {
		// Reuse the most recently freed slot
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.slots)) //nolint:gosec // bounded by capacity
		a.slots = append(a.slots, slot[T]{})
	}
	s := &a.slots[idx]
	s.gen++
	s.live = true
	s.seq = a.nextSeq
	s.value = v
	a.live++
	return Handle{Index: idx, Gen: s.gen}, nil
}

func (a *Arena[T]) lookup(h Handle) *slot[T] {
	if int(h.Index) >= len(a.slots) {
		return nil
	}
	s := &a.slots[h.Index]
	if !s.live || s.gen != h.Gen {
		return nil
	}
	return s
}

// Get returns a pointer to the live entry for h. The pointer is only valid
// until the next Insert or Remove.
func (a *Arena[T]) Get(h Handle) (*T, bool) {
	s := a.lookup(h)
	if s == nil {
		return nil, false
	}
	return &s.value, true
}

// Seq returns the insertion sequence number of the entry for h
func (a *Arena[T]) Seq(h Handle) (uint64, bool) {
	s := a.lookup(h)
	if s == nil {
		return 0, false
	}
	return s.seq, true
}

// Remove deletes the entry for h and returns its value
func (a *Arena[T]) Remove(h Handle) (T, bool) {
	var zero T
	s := a.lookup(h)
	if s == nil {
		return zero, false
	}
	v := s.value
	s.value = zero
	s.live = false
	a.free = append(a.free, h.Index)
	a.live--
	return v, true
}

// All iterates live entries in slot order
func (a *Arena[T]) All() iter.Seq2[Handle, *T] {
	return func(yield func(Handle, *T) bool) {
		for i := range a.slots {
			s := &a.slots[i]
			if !s.live {
				continue
			}
			h := Handle{Index: uint32(i), Gen: s.gen} //nolint:gosec
			if !yield(h, &s.value) {
				return
			}
		}
	}
}

// Victim returns the live entry with the smallest rank for which protected
// returns false. Equal ranks resolve to the entry inserted first. A nil
// protected func protects nothing.
func (a *Arena[T]) Victim(
	rank func(*T) int64,
	protected func(Handle, *T) bool,
) (Handle, bool) {
	var (
		best     Handle
		bestRank int64
		bestSeq  uint64
		found    bool
	)
	for i := range a.slots {
		s := &a.slots[i]
		if !s.live {
			continue
		}
		h := Handle{Index: uint32(i), Gen: s.gen} //nolint:gosec
		if protected != nil && protected(h, &s.value) {
			continue
		}
		r := rank(&s.value)
		if !found || r < bestRank || (r == bestRank && s.seq < bestSeq) {
			best, bestRank, bestSeq, found = h, r, s.seq, true
		}
	}
	return best, found
}
