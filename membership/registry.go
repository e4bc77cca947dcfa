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

// Package membership tracks the members of a community, enforces the member
// limit with least-recently-seen eviction, and aggregates the collective
// consciousness of the members.
package membership

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"math"
	"time"

	"github.com/blinklabs-io/sangha/arena"
	"github.com/blinklabs-io/sangha/reputation"
)

const (
	DefaultCapacity      = 32
	DefaultMaxNameLength = 64
)

var (
	ErrCapacityExceeded = errors.New("member capacity exceeded")
	ErrTooLong          = errors.New("display name too long")
	ErrEmptyIdentity    = errors.New("empty identity")
	ErrDuplicate        = errors.New("duplicate identity")

	// ErrUnknownMember is shared with the reputation ledger so either
	// package's error matches
	ErrUnknownMember = reputation.ErrUnknownMember
)

// ProtectFunc reports whether a member must not be evicted
type ProtectFunc func(m *Member) bool

type Config struct {
	Logger        *slog.Logger
	Protect       ProtectFunc
	Capacity      int
	MaxNameLength int
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.MaxNameLength <= 0 {
		c.MaxNameLength = DefaultMaxNameLength
	}
	return c
}

// Registry holds the members of one community. It is not safe for concurrent
// use; the owning community serializes access.
type Registry struct {
	logger     *slog.Logger
	protect    ProtectFunc
	members    *arena.Arena[Member]
	index      map[Identity]MemberID
	config     Config
	collective reputation.ConsciousnessLevel
	cacheValid bool
}

func NewRegistry(cfg Config) *Registry {
	cfg = cfg.withDefaults()
	return &Registry{
		logger:  cfg.Logger.With("component", "membership"),
		protect: cfg.Protect,
		members: arena.New[Member](cfg.Capacity),
		index:   make(map[Identity]MemberID),
		config:  cfg,
	}
}

// SetProtector replaces the eviction protection check
func (r *Registry) SetProtector(fn ProtectFunc) {
	r.protect = fn
}

// Join adds a member for identity, or refreshes the display name and last
// seen time of an existing one. When the registry is full the least recently
// seen unprotected member is evicted and returned.
func (r *Registry) Join(
	identity Identity,
	displayName string,
	now time.Time,
) (MemberID, *Member, error) {
	if identity == "" {
		return MemberID{}, nil, ErrEmptyIdentity
	}
	if len(displayName) > r.config.MaxNameLength {
		return MemberID{}, nil, fmt.Errorf(
			"%w: %d bytes exceeds %d",
			ErrTooLong,
			len(displayName),
			r.config.MaxNameLength,
		)
	}
	if id, ok := r.index[identity]; ok {
		m, _ := r.members.Get(id)
		m.DisplayName = displayName
		m.LastSeen = now
		return id, nil, nil
	}
	var evicted *Member
	if r.members.Full() {
		victim, ok := r.members.Victim(
			func(m *Member) int64 { return m.LastSeen.UnixNano() },
			func(_ arena.Handle, m *Member) bool {
				return r.protect != nil && r.protect(m)
			},
		)
		if !ok {
			return MemberID{}, nil, fmt.Errorf(
				"%w: all %d members are protected",
				ErrCapacityExceeded,
				r.members.Cap(),
			)
		}
		old, _ := r.members.Remove(victim)
		delete(r.index, old.Identity)
		evicted = &old
		r.logger.Info(
			"evicted least recently seen member",
			"member", old.Identity.String(),
			"last_seen", old.LastSeen,
		)
	}
	id, err := r.members.Insert(Member{
		Identity:    identity,
		DisplayName: displayName,
		JoinedAt:    now,
		LastSeen:    now,
	})
	if err != nil {
		return MemberID{}, evicted, fmt.Errorf("%w: %w", ErrCapacityExceeded, err)
	}
	m, _ := r.members.Get(id)
	m.ID = id
	r.index[identity] = id
	r.invalidate()
	r.logger.Debug(
		"member joined",
		"member", identity.String(),
		"id", id.String(),
	)
	return id, evicted, nil
}

// Leave removes a member immediately and returns its final record
func (r *Registry) Leave(id MemberID) (Member, error) {
	m, ok := r.members.Remove(id)
	if !ok {
		return Member{}, fmt.Errorf("%w: %s", ErrUnknownMember, id)
	}
	delete(r.index, m.Identity)
	r.invalidate()
	return m, nil
}

// Touch records that a member was seen at now
func (r *Registry) Touch(id MemberID, now time.Time) error {
	m, ok := r.members.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMember, id)
	}
	if now.After(m.LastSeen) {
		m.LastSeen = now
	}
	return nil
}

// Lookup returns the ID for an identity
func (r *Registry) Lookup(identity Identity) (MemberID, bool) {
	id, ok := r.index[identity]
	return id, ok
}

// Get returns a copy of a member
func (r *Registry) Get(id MemberID) (Member, bool) {
	m, ok := r.members.Get(id)
	if !ok {
		return Member{}, false
	}
	return m.Clone(), true
}

// Members returns copies of all members in slot order
func (r *Registry) Members() []Member {
	ret := make([]Member, 0, r.members.Len())
	for _, m := range r.members.All() {
		ret = append(ret, m.Clone())
	}
	return ret
}

func (r *Registry) Len() int {
	return r.members.Len()
}

func (r *Registry) Cap() int {
	return r.members.Cap()
}

// Reputation returns the mutable reputation of a member. Callers may change
// it, so the collective consciousness cache is invalidated.
func (r *Registry) Reputation(id MemberID) (*reputation.Reputation, bool) {
	m, ok := r.members.Get(id)
	if !ok {
		return nil, false
	}
	r.invalidate()
	return &m.Reputation, true
}

// Reputations iterates the mutable reputation of every member
func (r *Registry) Reputations() iter.Seq2[MemberID, *reputation.Reputation] {
	return func(yield func(MemberID, *reputation.Reputation) bool) {
		r.invalidate()
		for id, m := range r.members.All() {
			if !yield(id, &m.Reputation) {
				return
			}
		}
	}
}

// CollectiveConsciousness returns the weighted average consciousness level of
// all members, rounded half up. Each member is weighted by
// max(1, karma) * (experience+1) * (helping+1). An empty registry has no
// consciousness.
func (r *Registry) CollectiveConsciousness() reputation.ConsciousnessLevel {
	if r.cacheValid {
		return r.collective
	}
	var weighted, total float64
	for _, m := range r.members.All() {
		w := m.Reputation.AggregationWeight()
		weighted += float64(m.Reputation.Consciousness) * w
		total += w
	}
	level := reputation.ConsciousnessNone
	if total > 0 {
		avg := math.Floor(weighted/total + 0.5)
		level = reputation.ConsciousnessLevel(
			min(max(avg, 0), float64(reputation.MaxConsciousness)),
		)
	}
	r.collective = level
	r.cacheValid = true
	return level
}

func (r *Registry) invalidate() {
	r.cacheValid = false
}
