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

package reputation

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/blinklabs-io/sangha/arena"
)

const (
	DefaultAuditCapacity = 128
	// EMA smoothing factor for peer attestations
	DefaultAttestationAlpha = 0.2

	day = 24 * time.Hour
)

var (
	ErrUnknownMember        = errors.New("unknown member")
	ErrMissingReason        = errors.New("missing audit reason")
	ErrInvalidConsciousness = errors.New("invalid consciousness level")
	ErrInvalidAttestation   = errors.New("invalid attestation score")
)

// Accounts gives the ledger access to member reputations. Reputation hands
// out a mutable pointer, so implementations must treat every call as a
// mutation of that member.
type Accounts interface {
	Reputation(id arena.Handle) (*Reputation, bool)
	Reputations() iter.Seq2[arena.Handle, *Reputation]
}

type AuditKind string

const (
	AuditKarma         AuditKind = "karma"
	AuditViolation     AuditKind = "violation"
	AuditAppeal        AuditKind = "appeal"
	AuditConsciousness AuditKind = "consciousness"
	AuditDecay         AuditKind = "decay"
)

// AuditEntry records one reputation change along with the caller's reason
type AuditEntry struct {
	Time       time.Time    `json:"time"`
	Kind       AuditKind    `json:"kind"`
	Reason     string       `json:"reason"`
	Member     arena.Handle `json:"member"`
	Delta      int64        `json:"delta"`
	Karma      int64        `json:"karma"`
	Violations uint32       `json:"violations"`
}

type LedgerConfig struct {
	Logger           *slog.Logger
	Accounts         Accounts
	Milestones       []Milestone
	Decay            DecayPolicy
	AuditCapacity    int
	AttestationAlpha float64
}

// Ledger applies karma, violation, experience and attestation updates to
// member reputations and keeps a bounded audit trail of them. It does not
// decide trust.
type Ledger struct {
	logger     *slog.Logger
	accounts   Accounts
	milestones []Milestone
	audit      []AuditEntry
	config     LedgerConfig
}

func NewLedger(cfg LedgerConfig) *Ledger {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.AuditCapacity <= 0 {
		cfg.AuditCapacity = DefaultAuditCapacity
	}
	if cfg.AttestationAlpha <= 0 || cfg.AttestationAlpha > 1 {
		cfg.AttestationAlpha = DefaultAttestationAlpha
	}
	if cfg.Milestones == nil {
		cfg.Milestones = DefaultMilestones()
	}
	milestones := slices.Clone(cfg.Milestones)
	slices.SortStableFunc(milestones, func(a, b Milestone) int {
		return int(a.Level) - int(b.Level)
	})
	return &Ledger{
		logger:     cfg.Logger.With("component", "reputation"),
		accounts:   cfg.Accounts,
		milestones: milestones,
		config:     cfg,
	}
}

func (l *Ledger) account(id arena.Handle) (*Reputation, error) {
	if l.accounts == nil {
		return nil, ErrUnknownMember
	}
	rep, ok := l.accounts.Reputation(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMember, id)
	}
	return rep, nil
}

// Lookup returns a copy of the member's reputation
func (l *Ledger) Lookup(id arena.Handle) (Reputation, error) {
	rep, err := l.account(id)
	if err != nil {
		return Reputation{}, err
	}
	return rep.Clone(), nil
}

// RecordAction applies karmaDelta to the member's karma and returns the new
// karma. Karma has no floor.
func (l *Ledger) RecordAction(
	id arena.Handle,
	karmaDelta int64,
	reason string,
	now time.Time,
) (int64, error) {
	if reason == "" {
		return 0, ErrMissingReason
	}
	rep, err := l.account(id)
	if err != nil {
		return 0, err
	}
	rep.Karma = addSaturating(rep.Karma, karmaDelta)
	l.appendAudit(AuditEntry{
		Time:       now,
		Kind:       AuditKarma,
		Reason:     reason,
		Member:     id,
		Delta:      karmaDelta,
		Karma:      rep.Karma,
		Violations: rep.Violations,
	})
	l.advance(id, rep, now)
	l.logger.Debug(
		"recorded karma action",
		"member", id.String(),
		"delta", karmaDelta,
		"karma", rep.Karma,
		"reason", reason,
	)
	return rep.Karma, nil
}

// RecordViolation increments the member's violation count and returns it
func (l *Ledger) RecordViolation(
	id arena.Handle,
	reason string,
	now time.Time,
) (uint32, error) {
	if reason == "" {
		return 0, ErrMissingReason
	}
	rep, err := l.account(id)
	if err != nil {
		return 0, err
	}
	if rep.Violations < ^uint32(0) {
		rep.Violations++
	}
	l.appendAudit(AuditEntry{
		Time:       now,
		Kind:       AuditViolation,
		Reason:     reason,
		Member:     id,
		Karma:      rep.Karma,
		Violations: rep.Violations,
	})
	l.logger.Info(
		"recorded violation",
		"member", id.String(),
		"violations", rep.Violations,
		"reason", reason,
	)
	return rep.Violations, nil
}

// RecordExperience bumps the experience counter, and the helping counter for
// helping actions
func (l *Ledger) RecordExperience(
	id arena.Handle,
	kind ExperienceKind,
	now time.Time,
) error {
	rep, err := l.account(id)
	if err != nil {
		return err
	}
	rep.Experience = incSaturating(rep.Experience)
	if kind == ExperienceHelping {
		rep.HelpingActions = incSaturating(rep.HelpingActions)
	}
	l.advance(id, rep, now)
	return nil
}

// Attest folds a peer attestation score in [0,1] into the member's peer
// reputation using an exponential moving average. The first attestation sets
// the value directly.
func (l *Ledger) Attest(id arena.Handle, score float64, now time.Time) (float64, error) {
	if score < 0 || score > 1 || math.IsNaN(score) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAttestation, score)
	}
	rep, err := l.account(id)
	if err != nil {
		return 0, err
	}
	if !rep.PeerReputationInit {
		rep.PeerReputation = score
		rep.PeerReputationInit = true
	} else {
		rep.PeerReputation = ema(rep.PeerReputation, score, l.config.AttestationAlpha)
	}
	rep.PeerReputation = clamp01(rep.PeerReputation)
	l.advance(id, rep, now)
	return rep.PeerReputation, nil
}

// SetConsciousness sets the consciousness level explicitly. This is the
// administrative path; normal growth happens through milestones.
func (l *Ledger) SetConsciousness(
	id arena.Handle,
	level ConsciousnessLevel,
	reason string,
	now time.Time,
) error {
	if !level.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidConsciousness, level)
	}
	if reason == "" {
		return ErrMissingReason
	}
	rep, err := l.account(id)
	if err != nil {
		return err
	}
	delta := int64(level) - int64(rep.Consciousness)
	rep.Consciousness = level
	l.appendAudit(AuditEntry{
		Time:       now,
		Kind:       AuditConsciousness,
		Reason:     reason,
		Member:     id,
		Delta:      delta,
		Karma:      rep.Karma,
		Violations: rep.Violations,
	})
	return nil
}

// RecentAppeals returns how many appeal attempts the member made within the
// window ending at now
func (l *Ledger) RecentAppeals(
	id arena.Handle,
	window time.Duration,
	now time.Time,
) (int, error) {
	rep, err := l.account(id)
	if err != nil {
		return 0, err
	}
	cutoff := now.Add(-window)
	count := 0
	for _, t := range rep.Appeals {
		if t.After(cutoff) {
			count++
		}
	}
	return count, nil
}

// RecordAppeal records an appeal attempt. A granted appeal clears the
// violation count. Attempts older than window are pruned.
func (l *Ledger) RecordAppeal(
	id arena.Handle,
	granted bool,
	reason string,
	window time.Duration,
	now time.Time,
) error {
	rep, err := l.account(id)
	if err != nil {
		return err
	}
	cutoff := now.Add(-window)
	rep.Appeals = slices.DeleteFunc(rep.Appeals, func(t time.Time) bool {
		return !t.After(cutoff)
	})
	rep.Appeals = append(rep.Appeals, now)
	var delta int64
	if granted {
		delta = -int64(rep.Violations)
		rep.Violations = 0
	}
	l.appendAudit(AuditEntry{
		Time:       now,
		Kind:       AuditAppeal,
		Reason:     reason,
		Member:     id,
		Delta:      delta,
		Karma:      rep.Karma,
		Violations: rep.Violations,
	})
	return nil
}

// Decay applies the configured decay policy to every member up to now
func (l *Ledger) Decay(now time.Time) int {
	if l.accounts == nil {
		return 0
	}
	decayed := 0
	for id, rep := range l.accounts.Reputations() {
		if rep.DecayedAt.IsZero() {
			rep.DecayedAt = now
			continue
		}
		days := int64(now.Sub(rep.DecayedAt) / day)
		if days <= 0 {
			continue
		}
		rep.DecayedAt = rep.DecayedAt.Add(time.Duration(days) * day)
		if !l.config.Decay.Enabled() || rep.Karma <= 0 {
			continue
		}
		dec := rep.Karma
		if days <= rep.Karma/l.config.Decay.KarmaPerDay {
			dec = days * l.config.Decay.KarmaPerDay
		}
		rep.Karma -= dec
		decayed++
		l.appendAudit(AuditEntry{
			Time:       now,
			Kind:       AuditDecay,
			Reason:     fmt.Sprintf("decay over %d days", days),
			Member:     id,
			Delta:      -dec,
			Karma:      rep.Karma,
			Violations: rep.Violations,
		})
	}
	if decayed > 0 {
		l.logger.Debug("applied karma decay", "members", decayed)
	}
	return decayed
}

// Audit returns a copy of the audit trail, oldest first
func (l *Ledger) Audit() []AuditEntry {
	return slices.Clone(l.audit)
}

// RestoreAudit replaces the audit trail, keeping the newest entries that fit
func (l *Ledger) RestoreAudit(entries []AuditEntry) {
	if len(entries) > l.config.AuditCapacity {
		entries = entries[len(entries)-l.config.AuditCapacity:]
	}
	l.audit = slices.Clone(entries)
}

func (l *Ledger) appendAudit(entry AuditEntry) {
	if len(l.audit) >= l.config.AuditCapacity {
		// Drop the oldest entry
		copy(l.audit, l.audit[1:])
		l.audit = l.audit[:len(l.audit)-1]
	}
	l.audit = append(l.audit, entry)
}

// advance raises consciousness to the highest milestone reached. It never
// lowers it.
func (l *Ledger) advance(id arena.Handle, rep *Reputation, now time.Time) {
	target := rep.Consciousness
	for _, m := range l.milestones {
		if m.Level > target && m.reachedBy(rep) {
			target = m.Level
		}
	}
	if target == rep.Consciousness {
		return
	}
	delta := int64(target) - int64(rep.Consciousness)
	rep.Consciousness = target
	l.appendAudit(AuditEntry{
		Time:       now,
		Kind:       AuditConsciousness,
		Reason:     "milestone reached: " + target.String(),
		Member:     id,
		Delta:      delta,
		Karma:      rep.Karma,
		Violations: rep.Violations,
	})
	l.logger.Info(
		"consciousness advanced",
		"member", id.String(),
		"level", target.String(),
	)
}

func addSaturating(a, b int64) int64 {
	sum := a + b
	// Overflow happens only when both operands share a sign the sum lacks
	if a > 0 && b > 0 && sum < 0 {
		return int64(^uint64(0) >> 1)
	}
	if a < 0 && b < 0 && sum >= 0 {
		return -int64(^uint64(0)>>1) - 1
	}
	return sum
}

func incSaturating(v uint64) uint64 {
	if v == ^uint64(0) {
		return v
	}
	return v + 1
}

func ema(prev, observed, alpha float64) float64 {
	return prev*(1.0-alpha) + observed*alpha
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
