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

// Package knowledge stores short knowledge entries shared by members
package knowledge

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/blinklabs-io/sangha/arena"
	"github.com/blinklabs-io/sangha/membership"
	"github.com/blinklabs-io/sangha/reputation"
	"github.com/blinklabs-io/sangha/trust"
)

const (
	DefaultCapacity    = 32
	DefaultMaxText     = 256
	DefaultShareReward = 15
)

var (
	ErrUnknownEntry = errors.New("unknown knowledge entry")
	ErrEmptyText    = errors.New("empty knowledge text")
	ErrTooLong      = errors.New("knowledge text too long")
)

type EntryID = arena.Handle

// Entry is immutable once shared, apart from its upvote counter
type Entry struct {
	CreatedAt      time.Time           `json:"createdAt"`
	AuthorIdentity membership.Identity `json:"authorIdentity"`
	Text           string              `json:"text"`
	Upvotes        uint64              `json:"upvotes"`
	ID             EntryID             `json:"id"`
	Author         membership.MemberID `json:"author"`
}

// Members resolves the author of a share
type Members interface {
	Get(id membership.MemberID) (membership.Member, bool)
}

// Evaluator decides whether the author may share
type Evaluator interface {
	Evaluate(rep *reputation.Reputation) trust.Assessment
}

// Ledger receives the author's reward
type Ledger interface {
	RecordAction(id arena.Handle, delta int64, reason string, now time.Time) (int64, error)
	RecordExperience(id arena.Handle, kind reputation.ExperienceKind, now time.Time) error
}

type Config struct {
	Logger      *slog.Logger
	Members     Members
	Evaluator   Evaluator
	Ledger      Ledger
	Capacity    int
	MaxText     int
	// ShareReward is the karma for sharing. Nil means DefaultShareReward,
	// zero means no reward.
	ShareReward *int64
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.MaxText <= 0 {
		c.MaxText = DefaultMaxText
	}
	if c.ShareReward == nil {
		reward := int64(DefaultShareReward)
		c.ShareReward = &reward
	}
	return c
}

// Store holds the most recent knowledge entries up to its capacity. When full,
// the oldest entry is dropped regardless of how popular it is.
type Store struct {
	logger  *slog.Logger
	entries *arena.Arena[Entry]
	config  Config
}

func NewStore(cfg Config) *Store {
	cfg = cfg.withDefaults()
	return &Store{
		logger:  cfg.Logger.With("component", "knowledge"),
		entries: arena.New[Entry](cfg.Capacity),
		config:  cfg,
	}
}

// Share stores a new entry from author and rewards the author. The evicted
// entry, if any, is returned.
func (s *Store) Share(
	author membership.MemberID,
	text string,
	now time.Time,
) (EntryID, *Entry, error) {
	m, ok := s.config.Members.Get(author)
	if !ok {
		return EntryID{}, nil, fmt.Errorf("%w: %s", membership.ErrUnknownMember, author)
	}
	if !s.config.Evaluator.Evaluate(&m.Reputation).Allows(trust.PrivilegeShareKnowledge) {
		return EntryID{}, nil, fmt.Errorf("%w: share knowledge", trust.ErrPermissionDenied)
	}
	if text == "" {
		return EntryID{}, nil, ErrEmptyText
	}
	if len(text) > s.config.MaxText {
		return EntryID{}, nil, fmt.Errorf(
			"%w: %d bytes exceeds %d",
			ErrTooLong,
			len(text),
			s.config.MaxText,
		)
	}
	var evicted *Entry
	if s.entries.Full() {
		victim, ok := s.entries.Victim(
			func(e *Entry) int64 { return e.CreatedAt.UnixNano() },
			nil,
		)
		if ok {
			old, _ := s.entries.Remove(victim)
			evicted = &old
			s.logger.Info(
				"evicted oldest knowledge entry",
				"entry", old.ID.String(),
				"upvotes", old.Upvotes,
			)
		}
	}
	id, err := s.entries.Insert(Entry{
		CreatedAt:      now,
		AuthorIdentity: m.Identity,
		Text:           text,
		Author:         author,
	})
	if err != nil {
		return EntryID{}, evicted, err
	}
	e, _ := s.entries.Get(id)
	e.ID = id
	if _, err := s.config.Ledger.RecordAction(
		author,
		*s.config.ShareReward,
		"shared knowledge "+id.String(),
		now,
	); err != nil {
		return id, evicted, err
	}
	if err := s.config.Ledger.RecordExperience(
		author,
		reputation.ExperienceGeneral,
		now,
	); err != nil {
		return id, evicted, err
	}
	return id, evicted, nil
}

// List returns up to limit entries, most recent first. A limit of zero or
// less returns every entry.
func (s *Store) List(limit int) []Entry {
	type item struct {
		entry Entry
		seq   uint64
	}
	items := make([]item, 0, s.entries.Len())
	for id, e := range s.entries.All() {
		seq, _ := s.entries.Seq(id)
		items = append(items, item{entry: *e, seq: seq})
	}
	slices.SortFunc(items, func(a, b item) int {
		if c := b.entry.CreatedAt.Compare(a.entry.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.seq, a.seq)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	ret := make([]Entry, len(items))
	for i, it := range items {
		ret[i] = it.entry
	}
	return ret
}

// Get returns a copy of an entry
func (s *Store) Get(id EntryID) (Entry, bool) {
	e, ok := s.entries.Get(id)
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Upvote increments the entry's upvote counter
func (s *Store) Upvote(id EntryID) (uint64, error) {
	e, ok := s.entries.Get(id)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownEntry, id)
	}
	if e.Upvotes < ^uint64(0) {
		e.Upvotes++
	}
	return e.Upvotes, nil
}

func (s *Store) Len() int {
	return s.entries.Len()
}

// State is the serialisable form of a store
type State struct {
	Entries arena.State[Entry] `json:"entries"`
}

func (s *Store) Export() State {
	return State{Entries: s.entries.Export()}
}

// Restore rebuilds a store from exported state. The capacity recorded in the
// state wins over cfg.Capacity.
func Restore(st State, cfg Config) (*Store, error) {
	a, err := arena.Restore(st.Entries)
	if err != nil {
		return nil, err
	}
	cfg.Capacity = a.Cap()
	s := NewStore(cfg)
	for id, e := range a.All() {
		if e.ID != id {
			return nil, fmt.Errorf(
				"%w: entry %s stored under %s",
				arena.ErrInvalidState,
				e.ID,
				id,
			)
		}
	}
	s.entries = a
	return s, nil
}
