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

// Package consensus runs proposals through voting to a weighted outcome.
// Votes are weighted by the voter's karma and consciousness at the time the
// ballot is cast.
package consensus

import (
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
	DefaultCapacity   = 16
	DefaultMaxText    = 256
	DefaultVoteReward = 5
)

var (
	ErrUnknownProposal  = errors.New("unknown proposal")
	ErrProposalClosed   = errors.New("proposal closed")
	ErrAlreadyVoted     = errors.New("already voted")
	ErrCapacityExceeded = errors.New("proposal capacity exceeded")
	ErrTooLong          = errors.New("proposal text too long")
	ErrEmptyText        = errors.New("empty proposal text")
	ErrInvalidChoice    = errors.New("invalid vote choice")
)

// Members resolves proposers and voters
type Members interface {
	Get(id membership.MemberID) (membership.Member, bool)
}

type Evaluator interface {
	Evaluate(rep *reputation.Reputation) trust.Assessment
}

// Ledger receives voter rewards
type Ledger interface {
	RecordAction(id arena.Handle, delta int64, reason string, now time.Time) (int64, error)
	RecordExperience(id arena.Handle, kind reputation.ExperienceKind, now time.Time) error
}

type Config struct {
	Logger     *slog.Logger
	Members    Members
	Evaluator  Evaluator
	Ledger     Ledger
	Capacity   int
	MaxText    int
	// VoteReward is the karma for voting. Nil means DefaultVoteReward, zero
	// means no reward.
	VoteReward *int64
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
	if c.VoteReward == nil {
		reward := int64(DefaultVoteReward)
		c.VoteReward = &reward
	}
	return c
}

// Engine holds the proposals of one community. It never finalizes on its
// own; the host decides when with a FinalizePolicy.
type Engine struct {
	logger    *slog.Logger
	proposals *arena.Arena[Proposal]
	config    Config
}

func NewEngine(cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		logger:    cfg.Logger.With("component", "consensus"),
		proposals: arena.New[Proposal](cfg.Capacity),
		config:    cfg,
	}
}

// Propose opens a new proposal. When the engine is full the oldest resolved
// proposal is dropped to make room; open proposals are never dropped.
func (e *Engine) Propose(
	proposer membership.MemberID,
	text string,
	now time.Time,
) (ProposalID, *Proposal, error) {
	m, ok := e.config.Members.Get(proposer)
	if !ok {
		return ProposalID{}, nil, fmt.Errorf("%w: %s", membership.ErrUnknownMember, proposer)
	}
	if !e.config.Evaluator.Evaluate(&m.Reputation).Allows(trust.PrivilegePropose) {
		return ProposalID{}, nil, fmt.Errorf("%w: propose", trust.ErrPermissionDenied)
	}
	if text == "" {
		return ProposalID{}, nil, ErrEmptyText
	}
	if len(text) > e.config.MaxText {
		return ProposalID{}, nil, fmt.Errorf(
			"%w: %d bytes exceeds %d",
			ErrTooLong,
			len(text),
			e.config.MaxText,
		)
	}
	var evicted *Proposal
	if e.proposals.Full() {
		victim, ok := e.proposals.Victim(
			func(p *Proposal) int64 { return p.CreatedAt.UnixNano() },
			func(_ arena.Handle, p *Proposal) bool { return p.State == StateOpen },
		)
		if !ok {
			return ProposalID{}, nil, fmt.Errorf(
				"%w: all %d proposals are open",
				ErrCapacityExceeded,
				e.proposals.Cap(),
			)
		}
		old, _ := e.proposals.Remove(victim)
		evicted = &old
		e.logger.Info(
			"evicted oldest resolved proposal",
			"proposal", old.ID.String(),
			"state", old.State.String(),
		)
	}
	id, err := e.proposals.Insert(Proposal{
		CreatedAt:        now,
		ProposerIdentity: m.Identity,
		Text:             text,
		Proposer:         proposer,
		State:            StateOpen,
	})
	if err != nil {
		return ProposalID{}, evicted, fmt.Errorf("%w: %w", ErrCapacityExceeded, err)
	}
	p, _ := e.proposals.Get(id)
	p.ID = id
	e.logger.Debug(
		"proposal opened",
		"proposal", id.String(),
		"proposer", m.Identity.String(),
	)
	return id, evicted, nil
}

// Vote casts a ballot. Errors are checked in a fixed order: unknown proposal,
// closed proposal, unknown member, missing privilege, duplicate vote. A
// member is identified by identity, so leaving and rejoining does not allow a
// second ballot.
func (e *Engine) Vote(
	proposal ProposalID,
	voter membership.MemberID,
	choice Choice,
	now time.Time,
) (Ballot, error) {
	if !choice.Valid() {
		return Ballot{}, fmt.Errorf("%w: %d", ErrInvalidChoice, choice)
	}
	p, ok := e.proposals.Get(proposal)
	if !ok {
		return Ballot{}, fmt.Errorf("%w: %s", ErrUnknownProposal, proposal)
	}
	if p.State != StateOpen {
		return Ballot{}, fmt.Errorf("%w: %s is %s", ErrProposalClosed, proposal, p.State)
	}
	m, ok := e.config.Members.Get(voter)
	if !ok {
		return Ballot{}, fmt.Errorf("%w: %s", membership.ErrUnknownMember, voter)
	}
	if !e.config.Evaluator.Evaluate(&m.Reputation).Allows(trust.PrivilegeVote) {
		return Ballot{}, fmt.Errorf("%w: vote", trust.ErrPermissionDenied)
	}
	if _, voted := p.BallotOf(m.Identity); voted {
		return Ballot{}, fmt.Errorf(
			"%w: %s on %s",
			ErrAlreadyVoted,
			m.Identity,
			proposal,
		)
	}
	ballot := Ballot{
		CastAt:              now,
		VoterIdentity:       m.Identity,
		KarmaWeight:         KarmaWeight(&m.Reputation),
		ConsciousnessWeight: ConsciousnessWeight(&m.Reputation),
		Voter:               voter,
		Choice:              choice,
	}
	p.Ballots = append(p.Ballots, ballot)
	p.Tally.add(ballot)
	e.logger.Debug(
		"vote recorded",
		"proposal", proposal.String(),
		"voter", m.Identity.String(),
		"choice", choice.String(),
	)
	if _, err := e.config.Ledger.RecordAction(
		voter,
		*e.config.VoteReward,
		"voted on proposal "+proposal.String(),
		now,
	); err != nil {
		return ballot, err
	}
	if err := e.config.Ledger.RecordExperience(
		voter,
		reputation.ExperienceGeneral,
		now,
	); err != nil {
		return ballot, err
	}
	return ballot, nil
}

// KarmaWeight is the karma a ballot carries. Negative karma counts as zero.
func KarmaWeight(rep *reputation.Reputation) float64 {
	return float64(max(rep.Karma, 0))
}

// ConsciousnessWeight is the consciousness a ballot carries: the voter's
// consciousness level scaled by its aggregation weight
func ConsciousnessWeight(rep *reputation.Reputation) float64 {
	return float64(rep.Consciousness) * rep.AggregationWeight()
}

// Finalize resolves an open proposal from its tally. Finalizing a resolved
// proposal returns the recorded outcome unchanged.
func (e *Engine) Finalize(proposal ProposalID, now time.Time) (Outcome, error) {
	p, ok := e.proposals.Get(proposal)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownProposal, proposal)
	}
	if p.State.Resolved() {
		return p.outcome(), nil
	}
	p.Score = p.Tally.Score()
	if p.Tally.Votes() > 0 && p.Score > PassThreshold {
		p.State = StatePassed
	} else {
		p.State = StateRejected
	}
	p.ResolvedAt = now
	e.logger.Info(
		"proposal resolved",
		"proposal", proposal.String(),
		"state", p.State.String(),
		"score", p.Score,
		"votes", p.Tally.Votes(),
	)
	return p.outcome(), nil
}

// Outcome returns the current state of a proposal
func (e *Engine) Outcome(proposal ProposalID) (Outcome, error) {
	p, ok := e.proposals.Get(proposal)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownProposal, proposal)
	}
	return p.outcome(), nil
}

// Get returns a copy of a proposal
func (e *Engine) Get(proposal ProposalID) (Proposal, bool) {
	p, ok := e.proposals.Get(proposal)
	if !ok {
		return Proposal{}, false
	}
	return p.Clone(), true
}

// Proposals returns copies of all proposals, oldest first
func (e *Engine) Proposals() []Proposal {
	ret := make([]Proposal, 0, e.proposals.Len())
	for _, p := range e.proposals.All() {
		ret = append(ret, p.Clone())
	}
	slices.SortStableFunc(ret, func(a, b Proposal) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return ret
}

func (e *Engine) Len() int {
	return e.proposals.Len()
}

// Protects reports whether identity holds a ballot on an open proposal
func (e *Engine) Protects(identity membership.Identity) bool {
	for _, p := range e.proposals.All() {
		if p.State != StateOpen {
			continue
		}
		if _, ok := p.BallotOf(identity); ok {
			return true
		}
	}
	return false
}

// Due returns the open proposals that policy says should be finalized now
func (e *Engine) Due(policy FinalizePolicy, members int, now time.Time) []ProposalID {
	var ret []ProposalID
	for id, p := range e.proposals.All() {
		if policy.Due(p, members, now) {
			ret = append(ret, id)
		}
	}
	return ret
}

// FinalizePolicy decides when the host finalizes a proposal. A proposal is
// due once it is MaxAge old, or once the share of current members that voted
// reaches Participation. Zero fields disable their condition.
type FinalizePolicy struct {
	MaxAge        time.Duration `yaml:"maxAge"`
	Participation float64       `yaml:"participation"`
}

func DefaultFinalizePolicy() FinalizePolicy {
	return FinalizePolicy{
		MaxAge:        24 * time.Hour,
		Participation: 0.5,
	}
}

func (f FinalizePolicy) Due(p *Proposal, members int, now time.Time) bool {
	if p.State != StateOpen {
		return false
	}
	if f.MaxAge > 0 && now.Sub(p.CreatedAt) >= f.MaxAge {
		return true
	}
	if f.Participation > 0 && members > 0 {
		return float64(len(p.Ballots))/float64(members) >= f.Participation
	}
	return false
}

// EngineState is the serialisable form of an engine
type EngineState struct {
	Proposals arena.State[Proposal] `json:"proposals"`
}

// Export returns a deep copy of the engine state
func (e *Engine) Export() EngineState {
	st := e.proposals.Export()
	for i := range st.Slots {
		st.Slots[i].Value = st.Slots[i].Value.Clone()
	}
	return EngineState{Proposals: st}
}

// Restore rebuilds an engine from exported state. The capacity recorded in
// the state wins over cfg.Capacity.
func Restore(st EngineState, cfg Config) (*Engine, error) {
	proposals := st.Proposals
	proposals.Slots = slices.Clone(proposals.Slots)
	for i := range proposals.Slots {
		proposals.Slots[i].Value = proposals.Slots[i].Value.Clone()
	}
	a, err := arena.Restore(proposals)
	if err != nil {
		return nil, err
	}
	for id, p := range a.All() {
		if p.ID != id {
			return nil, fmt.Errorf(
				"%w: proposal %s stored under %s",
				arena.ErrInvalidState,
				p.ID,
				id,
			)
		}
		var tally Tally
		seen := make(map[membership.Identity]struct{}, len(p.Ballots))
		for _, b := range p.Ballots {
			if _, dup := seen[b.VoterIdentity]; dup {
				return nil, fmt.Errorf("%w: %s on %s", ErrAlreadyVoted, b.VoterIdentity, id)
			}
			seen[b.VoterIdentity] = struct{}{}
			tally.add(b)
		}
		if tally != p.Tally {
			return nil, fmt.Errorf("%w: tally of %s does not match ballots", arena.ErrInvalidState, id)
		}
	}
	cfg.Capacity = a.Cap()
	e := NewEngine(cfg)
	e.proposals = a
	return e, nil
}
