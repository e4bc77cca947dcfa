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

package community

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/blinklabs-io/sangha/consensus"
	"github.com/blinklabs-io/sangha/event"
	"github.com/blinklabs-io/sangha/knowledge"
	"github.com/blinklabs-io/sangha/membership"
	"github.com/blinklabs-io/sangha/reputation"
	"github.com/blinklabs-io/sangha/trust"
)

const (
	tracerName = "github.com/blinklabs-io/sangha/community"

	// Bound on the identities tracked for repeated rejections
	maxStrikes = 1024
)

type strikeKey struct {
	identity membership.Identity
	reason   Reason
}

// Community owns the registry, ledger, evaluator, knowledge store and
// consensus engine of one device community. Handle is the only writer; every
// query returns copies.
type Community struct {
	mu        sync.RWMutex
	logger    *slog.Logger
	metrics   *communityMetrics
	tracer    trace.Tracer
	bus       *event.EventBus
	registry  *membership.Registry
	ledger    *reputation.Ledger
	evaluator *trust.Evaluator
	knowledge *knowledge.Store
	engine    *consensus.Engine
	strikes   map[strikeKey]int
	config    Config
}

// New returns an empty community
func New(cfg Config) *Community {
	cfg = cfg.withDefaults()
	c := newCommunity(cfg)
	c.registry = membership.NewRegistry(c.registryConfig())
	c.wire()
	c.knowledge = knowledge.NewStore(c.knowledgeConfig())
	c.engine = consensus.NewEngine(c.engineConfig())
	c.protect()
	return c
}

func newCommunity(cfg Config) *Community {
	return &Community{
		logger:  cfg.Logger.With("component", "community"),
		metrics: newCommunityMetrics(cfg.PromRegistry),
		tracer:  cfg.TracerProvider.Tracer(tracerName),
		bus:     cfg.EventBus,
		strikes: make(map[strikeKey]int),
		config:  cfg,
	}
}

func (c *Community) registryConfig() membership.Config {
	return membership.Config{
		Logger:        c.config.Logger,
		Capacity:      c.config.MemberCapacity,
		MaxNameLength: c.config.MaxNameLength,
	}
}

// wire builds the ledger and evaluator over the current registry
func (c *Community) wire() {
	c.ledger = reputation.NewLedger(reputation.LedgerConfig{
		Logger:        c.config.Logger,
		Accounts:      c.registry,
		Milestones:    c.config.Milestones,
		Decay:         c.config.Decay,
		AuditCapacity: c.config.AuditCapacity,
	})
	c.evaluator = trust.NewEvaluator(c.config.Trust)
}

func (c *Community) knowledgeConfig() knowledge.Config {
	return knowledge.Config{
		Logger:      c.config.Logger,
		Members:     c.registry,
		Evaluator:   c.evaluator,
		Ledger:      c.ledger,
		Capacity:    c.config.KnowledgeCapacity,
		MaxText:     c.config.MaxText,
		ShareReward: c.config.Rewards.Share,
	}
}

func (c *Community) engineConfig() consensus.Config {
	return consensus.Config{
		Logger:     c.config.Logger,
		Members:    c.registry,
		Evaluator:  c.evaluator,
		Ledger:     c.ledger,
		Capacity:   c.config.ProposalCapacity,
		MaxText:    c.config.MaxText,
		VoteReward: c.config.Rewards.Vote,
	}
}

// protect keeps members holding a ballot on an open proposal from eviction
func (c *Community) protect() {
	c.registry.SetProtector(func(m *membership.Member) bool {
		return c.engine.Protects(m.Identity)
	})
}

// Handle applies one inbound message. Accepted messages return the records
// to deliver. Rejected messages return a single rejection record addressed
// to the sender together with a *RejectionError.
func (c *Community) Handle(ctx context.Context, msg Message) ([]Outbound, error) {
	if msg == nil {
		return nil, &RejectionError{Err: ErrUnknownKind, Reason: ReasonInvalid}
	}
	_, span := c.tracer.Start(
		ctx,
		"community.Handle",
		trace.WithAttributes(
			attribute.String("message.kind", string(msg.Kind())),
			attribute.String("message.sender", msg.Sender().String()),
		),
	)
	defer span.End()

	c.mu.Lock()
	out, err := c.handle(msg)
	c.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(ReasonOf(err)))
	}
	span.SetAttributes(attribute.Int("outbound.count", len(out)))
	c.publish(out)
	return out, err
}

func (c *Community) handle(msg Message) ([]Outbound, error) {
	now := c.config.Clock()
	out, err := msg.apply(c, now)
	if err != nil {
		return c.reject(msg, err)
	}
	// A Leave removes the sender, so Lookup misses and there is nothing to
	// touch
	if id, ok := c.registry.Lookup(msg.Sender()); ok {
		if err := c.registry.Touch(id, now); err != nil {
			c.logger.Warn("failed to touch sender", "identity", msg.Sender().String(), "error", err)
		}
	}
	c.clearStrikes(msg.Sender())
	c.metrics.message(msg.Kind())
	c.updateGauges()
	return out, nil
}

func (c *Community) reject(msg Message, err error) ([]Outbound, error) {
	reason := ReasonOf(err)
	rejErr := &RejectionError{
		Err:    err,
		Sender: msg.Sender(),
		Kind:   msg.Kind(),
		Reason: reason,
	}
	c.logger.Debug(
		"rejected message",
		"kind", string(msg.Kind()),
		"sender", msg.Sender().String(),
		"reason", string(reason),
		"error", err,
	)
	c.metrics.rejection(msg.Kind(), reason)
	if reason == ReasonCapacityExceeded || reason == ReasonAppealDenied {
		c.strike(msg.Sender(), reason, err)
	}
	out := []Outbound{
		direct(msg.Sender(), OutboundRejection, Rejection{
			Kind:    msg.Kind(),
			Reason:  reason,
			Message: err.Error(),
		}),
	}
	return out, rejErr
}

func (c *Community) strike(identity membership.Identity, reason Reason, err error) {
	key := strikeKey{identity: identity, reason: reason}
	if _, ok := c.strikes[key]; !ok && len(c.strikes) >= maxStrikes {
		clear(c.strikes)
	}
	c.strikes[key]++
	if count := c.strikes[key]; count > 1 {
		c.logger.Warn(
			"repeated rejection",
			"sender", identity.String(),
			"reason", string(reason),
			"count", count,
			"error", err,
		)
		c.metrics.repeated(reason)
	}
}

func (c *Community) clearStrikes(identity membership.Identity) {
	delete(c.strikes, strikeKey{identity: identity, reason: ReasonCapacityExceeded})
	delete(c.strikes, strikeKey{identity: identity, reason: ReasonAppealDenied})
}

func (c *Community) updateGauges() {
	if c.metrics == nil {
		return
	}
	c.metrics.sizes(
		c.registry.Len(),
		c.engine.Len(),
		c.knowledge.Len(),
		float64(c.registry.CollectiveConsciousness()),
	)
}

func (c *Community) publish(out []Outbound) {
	if c.bus == nil {
		return
	}
	for _, o := range out {
		evtType := EventType(o.Kind)
		c.bus.Publish(evtType, event.NewEvent(evtType, o))
	}
}

// sender resolves an identity to a member allowed to use need. Untrusted
// members are refused whatever need is.
func (c *Community) sender(
	identity membership.Identity,
	need trust.Privilege,
) (membership.MemberID, trust.Assessment, error) {
	id, ok := c.registry.Lookup(identity)
	if !ok {
		return membership.MemberID{}, trust.Assessment{}, fmt.Errorf(
			"%w: %s",
			membership.ErrUnknownMember,
			identity,
		)
	}
	mem, _ := c.registry.Get(id)
	assessment := c.evaluator.Evaluate(&mem.Reputation)
	if assessment.Level == trust.LevelUntrusted || !assessment.Allows(need) {
		return id, assessment, fmt.Errorf(
			"%w: %s is %s, needs %s",
			trust.ErrPermissionDenied,
			identity,
			assessment.Level,
			need,
		)
	}
	return id, assessment, nil
}

func (c *Community) checkText(text string) error {
	if text == "" {
		return ErrEmptyText
	}
	if len(text) > c.config.MaxText {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLong, len(text), c.config.MaxText)
	}
	return nil
}

func (c *Community) checkTarget(sender, target membership.Identity) error {
	if sender == target {
		return ErrSelfTarget
	}
	if _, ok := c.registry.Lookup(target); !ok {
		return fmt.Errorf("%w: %s", membership.ErrUnknownMember, target)
	}
	return nil
}

// Trust returns the current assessment of a member
func (c *Community) Trust(identity membership.Identity) (trust.Assessment, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	mem, err := c.member(identity)
	if err != nil {
		return trust.Assessment{}, err
	}
	return c.evaluator.Evaluate(&mem.Reputation), nil
}

// Member returns a copy of a member
func (c *Community) Member(identity membership.Identity) (membership.Member, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.member(identity)
}

func (c *Community) member(identity membership.Identity) (membership.Member, error) {
	id, ok := c.registry.Lookup(identity)
	if !ok {
		return membership.Member{}, fmt.Errorf("%w: %s", membership.ErrUnknownMember, identity)
	}
	mem, _ := c.registry.Get(id)
	return mem, nil
}

func (c *Community) Members() []membership.Member {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registry.Members()
}

// CollectiveConsciousness returns the rounded mean consciousness level of
// the current members
func (c *Community) CollectiveConsciousness() reputation.ConsciousnessLevel {
	// The registry caches the value, so this needs the write lock
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.CollectiveConsciousness()
}

// ListKnowledge returns up to limit entries, most recent first
func (c *Community) ListKnowledge(limit int) []knowledge.Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.knowledge.List(limit)
}

func (c *Community) ProposalOutcome(id consensus.ProposalID) (consensus.Outcome, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.engine.Outcome(id)
}

func (c *Community) Proposal(id consensus.ProposalID) (consensus.Proposal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.engine.Get(id)
}

func (c *Community) Proposals() []consensus.Proposal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.engine.Proposals()
}

func (c *Community) Audit() []reputation.AuditEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ledger.Audit()
}

func (c *Community) Settings() Settings {
	return c.config.Settings.clone()
}

// Finalize resolves a proposal. A proposal-resolved record is returned only
// when this call changed its state.
func (c *Community) Finalize(
	ctx context.Context,
	id consensus.ProposalID,
) (consensus.Outcome, []Outbound, error) {
	_, span := c.tracer.Start(
		ctx,
		"community.Finalize",
		trace.WithAttributes(attribute.String("proposal", id.String())),
	)
	defer span.End()
	c.mu.Lock()
	outcome, out, err := c.finalize(id)
	c.mu.Unlock()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return outcome, nil, err
	}
	c.publish(out)
	return outcome, out, nil
}

func (c *Community) finalize(id consensus.ProposalID) (consensus.Outcome, []Outbound, error) {
	before, err := c.engine.Outcome(id)
	if err != nil {
		return consensus.Outcome{}, nil, err
	}
	outcome, err := c.engine.Finalize(id, c.config.Clock())
	if err != nil {
		return consensus.Outcome{}, nil, err
	}
	if before.State.Resolved() {
		return outcome, nil, nil
	}
	c.metrics.resolution(outcome.State.String())
	c.updateGauges()
	return outcome, []Outbound{
		broadcast(OutboundProposalResolved, ProposalResolved{Outcome: outcome}),
	}, nil
}

// FinalizeDue finalizes every open proposal that policy marks as due
func (c *Community) FinalizeDue(ctx context.Context, policy consensus.FinalizePolicy) []Outbound {
	_, span := c.tracer.Start(ctx, "community.FinalizeDue")
	defer span.End()
	c.mu.Lock()
	var out []Outbound
	for _, id := range c.engine.Due(policy, c.registry.Len(), c.config.Clock()) {
		_, recs, err := c.finalize(id)
		if err != nil {
			c.logger.Error("failed to finalize proposal", "proposal", id.String(), "error", err)
			continue
		}
		out = append(out, recs...)
	}
	c.mu.Unlock()
	span.SetAttributes(attribute.Int("resolved", len(out)))
	c.publish(out)
	return out
}

// Decay applies the karma decay policy and returns the number of members
// whose karma changed
func (c *Community) Decay(ctx context.Context) int {
	_, span := c.tracer.Start(ctx, "community.Decay")
	defer span.End()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.ledger.Decay(c.config.Clock())
	span.SetAttributes(attribute.Int("decayed", n))
	return n
}

// SetConsciousness is used by the host to assign a consciousness level
func (c *Community) SetConsciousness(
	identity membership.Identity,
	level reputation.ConsciousnessLevel,
	reason string,
) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.registry.Lookup(identity)
	if !ok {
		return fmt.Errorf("%w: %s", membership.ErrUnknownMember, identity)
	}
	if err := c.ledger.SetConsciousness(id, level, reason, c.config.Clock()); err != nil {
		return err
	}
	c.updateGauges()
	return nil
}

// RecordViolation is used by the host to report misbehaviour. It returns the
// member's new violation count.
func (c *Community) RecordViolation(identity membership.Identity, reason string) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.registry.Lookup(identity)
	if !ok {
		return 0, fmt.Errorf("%w: %s", membership.ErrUnknownMember, identity)
	}
	count, err := c.ledger.RecordViolation(id, reason, c.config.Clock())
	if err != nil {
		return 0, err
	}
	c.logger.Info(
		"violation recorded",
		"member", identity.String(),
		"violations", count,
		"reason", reason,
	)
	return count, nil
}
