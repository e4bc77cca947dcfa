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

package community_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/blinklabs-io/sangha/community"
	"github.com/blinklabs-io/sangha/consensus"
	"github.com/blinklabs-io/sangha/event"
	"github.com/blinklabs-io/sangha/knowledge"
	"github.com/blinklabs-io/sangha/membership"
	"github.com/blinklabs-io/sangha/reputation"
	"github.com/blinklabs-io/sangha/trust"
)

// testClock advances one second on every reading so that last-seen ordering
// follows message order
type testClock struct {
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 8, 12, 18, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestCommunity(t *testing.T, cfg community.Config) *community.Community {
	t.Helper()
	if cfg.Clock == nil {
		cfg.Clock = newTestClock().Now
	}
	return community.New(cfg)
}

func handle(t *testing.T, c *community.Community, msg community.Message) []community.Outbound {
	t.Helper()
	out, err := c.Handle(context.Background(), msg)
	require.NoError(t, err)
	return out
}

func rejected(
	t *testing.T,
	c *community.Community,
	msg community.Message,
	reason community.Reason,
) *community.RejectionError {
	t.Helper()
	out, err := c.Handle(context.Background(), msg)
	var rejErr *community.RejectionError
	require.ErrorAs(t, err, &rejErr)
	require.Equal(t, reason, rejErr.Reason, rejErr.Error())
	require.Len(t, out, 1)
	require.Equal(t, community.OutboundRejection, out[0].Kind)
	require.Equal(t, msg.Sender(), out[0].To)
	rej, ok := out[0].Payload.(community.Rejection)
	require.True(t, ok)
	require.Equal(t, reason, rej.Reason)
	require.Equal(t, msg.Kind(), rej.Kind)
	return rejErr
}

// join announces identity and raises its karma. Karma 500 makes a member.
func join(t *testing.T, c *community.Community, identity membership.Identity, karma int64) {
	t.Helper()
	handle(t, c, community.Announce{Identity: identity, DisplayName: string(identity)})
	if karma != 0 {
		handle(t, c, community.KarmaUpdate{Identity: identity, Delta: karma, Reason: "bootstrap"})
	}
}

// elder joins identity with enough karma and consciousness to be trusted
func elder(t *testing.T, c *community.Community, identity membership.Identity) {
	t.Helper()
	join(t, c, identity, 500)
	require.NoError(t, c.SetConsciousness(identity, reputation.ConsciousnessEnlightened, "elder"))
	a, err := c.Trust(identity)
	require.NoError(t, err)
	require.Equal(t, trust.LevelTrusted, a.Level)
}

func TestAnnounceWelcomesNewMembers(t *testing.T) {
	c := newTestCommunity(t, community.Config{})
	out := handle(t, c, community.Announce{Identity: "alice", DisplayName: "Alice"})
	require.Len(t, out, 1)
	require.Equal(t, community.OutboundWelcome, out[0].Kind)
	require.Equal(t, membership.Identity("alice"), out[0].To)
	welcome := out[0].Payload.(community.Welcome)
	require.Equal(t, 1, welcome.Members)
	require.Equal(t, trust.LevelGuest, welcome.Trust.Level)
	require.True(t, welcome.Trust.Allows(trust.PrivilegeSend))
	require.Equal(t, reputation.ConsciousnessNone, welcome.CollectiveConsciousness)

	// Refreshing only updates the display name
	out = handle(t, c, community.Announce{Identity: "alice", DisplayName: "Alice B"})
	require.Empty(t, out)
	m, err := c.Member("alice")
	require.NoError(t, err)
	require.Equal(t, "Alice B", m.DisplayName)
	require.Len(t, c.Members(), 1)
}

func TestRejectionReasons(t *testing.T) {
	c := newTestCommunity(t, community.Config{
		Settings: community.Settings{MaxNameLength: 8, MaxText: 16},
	})
	join(t, c, "guest", 0)
	testDefs := []struct {
		name   string
		msg    community.Message
		reason community.Reason
	}{
		{"unknown sender", community.Heartbeat{Identity: "ghost"}, community.ReasonUnknownMember},
		{
			"long display name",
			community.Announce{Identity: "bob", DisplayName: "much too long"},
			community.ReasonTooLong,
		},
		{"empty help text", community.HelpRequest{Identity: "guest"}, community.ReasonEmptyText},
		{
			"long help text",
			community.HelpRequest{Identity: "guest", Text: strings.Repeat("x", 17)},
			community.ReasonTooLong,
		},
		{
			"guest sharing",
			community.ShareKnowledge{Identity: "guest", Text: "hi"},
			community.ReasonPermissionDenied,
		},
		{
			"guest proposing",
			community.Propose{Identity: "guest", Text: "hi"},
			community.ReasonPermissionDenied,
		},
		{
			"guest offering help",
			community.HelpOffer{Identity: "guest", Target: "ghost"},
			community.ReasonPermissionDenied,
		},
		{
			"unknown proposal",
			community.Vote{Identity: "guest", Choice: consensus.ChoiceYes},
			community.ReasonUnknownProposal,
		},
		{
			"invalid choice",
			community.Vote{Identity: "guest"},
			community.ReasonInvalid,
		},
		{"unknown entry", community.Upvote{Identity: "guest"}, community.ReasonUnknownEntry},
		{"missing karma reason", community.KarmaUpdate{Identity: "guest", Delta: 1}, community.ReasonInvalid},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			rejected(t, c, testDef.msg, testDef.reason)
		})
	}
	// Rejections leave no trace
	m, err := c.Member("guest")
	require.NoError(t, err)
	require.Zero(t, m.Reputation.Karma)
	require.Empty(t, c.ListKnowledge(0))
	require.Empty(t, c.Proposals())
}

func TestNilMessageRejected(t *testing.T) {
	c := newTestCommunity(t, community.Config{})
	out, err := c.Handle(context.Background(), nil)
	require.ErrorIs(t, err, community.ErrUnknownKind)
	require.Empty(t, out)
}

func TestKnowledgeAndConsensusFlow(t *testing.T) {
	c := newTestCommunity(t, community.Config{})
	elder(t, c, "alice")
	join(t, c, "bob", 500)

	a, err := c.Trust("bob")
	require.NoError(t, err)
	require.Equal(t, trust.LevelMember, a.Level)

	out := handle(t, c, community.ShareKnowledge{Identity: "bob", Text: "water the garden at dawn"})
	require.Len(t, out, 1)
	require.Equal(t, community.OutboundKnowledgeShared, out[0].Kind)
	require.True(t, out[0].Broadcast())
	entry := out[0].Payload.(community.KnowledgeShared).Entry
	require.Equal(t, membership.Identity("bob"), entry.AuthorIdentity)

	handle(t, c, community.Upvote{Identity: "alice", Entry: entry.ID})
	entries := c.ListKnowledge(10)
	require.Len(t, entries, 1)
	require.EqualValues(t, 1, entries[0].Upvotes)

	rejected(t, c, community.Propose{Identity: "bob", Text: "plant trees"}, community.ReasonPermissionDenied)
	out = handle(t, c, community.Propose{Identity: "alice", Text: "plant trees"})
	require.Len(t, out, 1)
	require.Equal(t, community.OutboundProposalOpened, out[0].Kind)
	pid := out[0].Payload.(community.ProposalOpened).ID

	out = handle(t, c, community.Vote{Identity: "bob", Proposal: pid, Choice: consensus.ChoiceYes})
	require.Len(t, out, 1)
	require.Equal(t, community.OutboundVoteRecorded, out[0].Kind)
	rejected(
		t,
		c,
		community.Vote{Identity: "bob", Proposal: pid, Choice: consensus.ChoiceNo},
		community.ReasonAlreadyVoted,
	)

	bob, err := c.Member("bob")
	require.NoError(t, err)
	require.EqualValues(t, 500+15+5, bob.Reputation.Karma)

	outcome, out, err := c.Finalize(context.Background(), pid)
	require.NoError(t, err)
	require.Equal(t, consensus.StatePassed, outcome.State)
	require.Len(t, out, 1)
	require.Equal(t, community.OutboundProposalResolved, out[0].Kind)

	again, out, err := c.Finalize(context.Background(), pid)
	require.NoError(t, err)
	require.Empty(t, out)
	require.Equal(t, outcome, again)

	rejected(
		t,
		c,
		community.Vote{Identity: "alice", Proposal: pid, Choice: consensus.ChoiceNo},
		community.ReasonProposalClosed,
	)
	stored, err := c.ProposalOutcome(pid)
	require.NoError(t, err)
	require.Equal(t, outcome, stored)
}

func TestFinalizeDueResolvesOnlyDueProposals(t *testing.T) {
	clock := newTestClock()
	c := newTestCommunity(t, community.Config{Clock: clock.Now})
	elder(t, c, "alice")
	join(t, c, "bob", 0)
	join(t, c, "carol", 0)
	join(t, c, "dave", 0)

	out := handle(t, c, community.Propose{Identity: "alice", Text: "one"})
	pid := out[0].Payload.(community.ProposalOpened).ID

	policy := consensus.DefaultFinalizePolicy()
	require.Empty(t, c.FinalizeDue(context.Background(), policy))

	clock.now = clock.now.Add(policy.MaxAge)
	out = c.FinalizeDue(context.Background(), policy)
	require.Len(t, out, 1)
	// Nobody voted, so there is no quorum
	outcome := out[0].Payload.(community.ProposalResolved).Outcome
	require.Equal(t, pid, outcome.ID)
	require.Equal(t, consensus.StateRejected, outcome.State)
	require.Empty(t, c.FinalizeDue(context.Background(), policy))
}

func TestHelpRequestAndOffer(t *testing.T) {
	c := newTestCommunity(t, community.Config{})
	join(t, c, "alice", 0)
	join(t, c, "bob", 500)
	before, err := c.Member("alice")
	require.NoError(t, err)

	out := handle(t, c, community.HelpRequest{Identity: "alice", Text: "my battery is low"})
	require.Len(t, out, 1)
	require.Equal(t, community.OutboundHelpNeeded, out[0].Kind)
	require.True(t, out[0].Broadcast())
	alice, err := c.Member("alice")
	require.NoError(t, err)
	require.Equal(t, before.Reputation.Experience+1, alice.Reputation.Experience)
	require.Equal(t, before.Reputation.Karma, alice.Reputation.Karma)
	require.Zero(t, alice.Reputation.HelpingActions)

	out = handle(t, c, community.HelpOffer{Identity: "bob", Target: "alice"})
	require.Len(t, out, 1)
	require.Equal(t, community.OutboundHelpOffered, out[0].Kind)
	require.Equal(t, membership.Identity("alice"), out[0].To)

	bob, err := c.Member("bob")
	require.NoError(t, err)
	require.EqualValues(t, 510, bob.Reputation.Karma)
	require.EqualValues(t, 1, bob.Reputation.HelpingActions)

	rejErr := rejected(t, c, community.HelpOffer{Identity: "bob", Target: "bob"}, community.ReasonInvalid)
	require.ErrorIs(t, rejErr, community.ErrSelfTarget)
	rejected(t, c, community.HelpOffer{Identity: "bob", Target: "ghost"}, community.ReasonUnknownMember)
}

func TestAttest(t *testing.T) {
	c := newTestCommunity(t, community.Config{})
	join(t, c, "alice", 0)
	join(t, c, "bob", 500)

	rejected(t, c, community.Attest{Identity: "alice", Target: "bob", Score: 1}, community.ReasonPermissionDenied)
	rejErr := rejected(t, c, community.Attest{Identity: "bob", Target: "alice", Score: 2}, community.ReasonInvalid)
	require.ErrorIs(t, rejErr, community.ErrInvalidScore)

	handle(t, c, community.Attest{Identity: "bob", Target: "alice", Score: 1})
	alice, err := c.Member("alice")
	require.NoError(t, err)
	require.InDelta(t, 1.0, alice.Reputation.PeerReputation, 1e-12)
	a, err := c.Trust("alice")
	require.NoError(t, err)
	require.InDelta(t, 0.1, a.Score, 1e-12)
}

func TestUntrustedMembersMayOnlyAppeal(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := newTestCommunity(t, community.Config{PromRegistry: reg})
	join(t, c, "alice", 100)
	join(t, c, "bob", 10)
	for _, identity := range []membership.Identity{"alice", "bob"} {
		for range 3 {
			_, err := c.RecordViolation(identity, "spam")
			require.NoError(t, err)
		}
		a, err := c.Trust(identity)
		require.NoError(t, err)
		require.Equal(t, trust.LevelUntrusted, a.Level)
	}

	rejected(t, c, community.Heartbeat{Identity: "alice"}, community.ReasonPermissionDenied)
	rejected(t, c, community.Leave{Identity: "alice"}, community.ReasonPermissionDenied)
	rejected(t, c, community.Announce{Identity: "alice"}, community.ReasonPermissionDenied)

	out := handle(t, c, community.Appeal{Identity: "alice"})
	require.Len(t, out, 1)
	require.Equal(t, community.OutboundAppealGranted, out[0].Kind)
	a, err := c.Trust("alice")
	require.NoError(t, err)
	require.Equal(t, trust.LevelGuest, a.Level)
	handle(t, c, community.Heartbeat{Identity: "alice"})

	// Karma too low
	rejErr := rejected(t, c, community.Appeal{Identity: "bob"}, community.ReasonAppealDenied)
	var appealErr *trust.AppealError
	require.True(t, errors.As(rejErr, &appealErr))
	require.EqualValues(t, 1, appealErr.Attempts)
	rejected(t, c, community.Appeal{Identity: "bob"}, community.ReasonAppealDenied)

	expected := `
# HELP sangha_repeated_rejections_total rejections repeated by the same identity
# TYPE sangha_repeated_rejections_total counter
sangha_repeated_rejections_total{reason="appeal-denied"} 1
`
	require.NoError(t, testutil.GatherAndCompare(
		reg,
		strings.NewReader(expected),
		"sangha_repeated_rejections_total",
	))
}

func TestLeaveKeepsBallots(t *testing.T) {
	c := newTestCommunity(t, community.Config{})
	elder(t, c, "alice")
	join(t, c, "bob", 500)
	out := handle(t, c, community.Propose{Identity: "alice", Text: "paint the fence"})
	pid := out[0].Payload.(community.ProposalOpened).ID
	handle(t, c, community.Vote{Identity: "bob", Proposal: pid, Choice: consensus.ChoiceNo})

	handle(t, c, community.Leave{Identity: "bob"})
	_, err := c.Member("bob")
	require.ErrorIs(t, err, membership.ErrUnknownMember)
	p, ok := c.Proposal(pid)
	require.True(t, ok)
	require.Len(t, p.Ballots, 1)
	require.EqualValues(t, 1, p.Tally.NoVotes)
}

func TestEvictionProtectsOpenBallots(t *testing.T) {
	c := newTestCommunity(t, community.Config{
		Settings: community.Settings{MemberCapacity: 3},
	})
	elder(t, c, "alice")
	join(t, c, "bob", 500)
	out := handle(t, c, community.Propose{Identity: "alice", Text: "share solar power"})
	pid := out[0].Payload.(community.ProposalOpened).ID
	handle(t, c, community.Vote{Identity: "bob", Proposal: pid, Choice: consensus.ChoiceYes})
	join(t, c, "carol", 0)
	handle(t, c, community.Heartbeat{Identity: "alice"})
	handle(t, c, community.Heartbeat{Identity: "carol"})

	// bob is the least recently seen but holds a ballot on an open proposal
	out = handle(t, c, community.Announce{Identity: "dave"})
	require.Len(t, out, 2)
	require.Equal(t, community.OutboundMemberEvicted, out[0].Kind)
	require.Equal(t, membership.Identity("alice"), out[0].Payload.(community.MemberEvicted).Identity)
	require.Equal(t, community.OutboundWelcome, out[1].Kind)
	_, err := c.Member("bob")
	require.NoError(t, err)

	_, _, err = c.Finalize(context.Background(), pid)
	require.NoError(t, err)
	out = handle(t, c, community.Announce{Identity: "erin"})
	require.Equal(t, membership.Identity("bob"), out[0].Payload.(community.MemberEvicted).Identity)
}

func TestCapacityExceededWhenEveryoneProtected(t *testing.T) {
	c := newTestCommunity(t, community.Config{
		Settings: community.Settings{MemberCapacity: 2},
	})
	elder(t, c, "alice")
	join(t, c, "bob", 500)
	out := handle(t, c, community.Propose{Identity: "alice", Text: "stay"})
	pid := out[0].Payload.(community.ProposalOpened).ID
	handle(t, c, community.Vote{Identity: "bob", Proposal: pid, Choice: consensus.ChoiceYes})
	handle(t, c, community.Vote{Identity: "alice", Proposal: pid, Choice: consensus.ChoiceYes})

	rejected(t, c, community.Announce{Identity: "carol"}, community.ReasonCapacityExceeded)
	require.Len(t, c.Members(), 2)
}

func TestCollectiveConsciousness(t *testing.T) {
	c := newTestCommunity(t, community.Config{})
	require.Equal(t, reputation.ConsciousnessNone, c.CollectiveConsciousness())
	join(t, c, "alice", 0)
	join(t, c, "bob", 0)
	require.NoError(t, c.SetConsciousness("alice", reputation.ConsciousnessEnlightened, "test"))
	require.NoError(t, c.SetConsciousness("bob", reputation.ConsciousnessAwakening, "test"))
	// (4 + 1) / 2 rounds half up
	require.Equal(t, reputation.ConsciousnessCompassionate, c.CollectiveConsciousness())
	require.ErrorIs(
		t,
		c.SetConsciousness("ghost", reputation.ConsciousnessAware, "test"),
		membership.ErrUnknownMember,
	)
}

func TestDecay(t *testing.T) {
	clock := newTestClock()
	c := newTestCommunity(t, community.Config{
		Clock:    clock.Now,
		Settings: community.Settings{Decay: reputation.DecayPolicy{KarmaPerDay: 5}},
	})
	join(t, c, "alice", 20)
	require.Zero(t, c.Decay(context.Background()))
	clock.now = clock.now.Add(48 * time.Hour)
	require.Equal(t, 1, c.Decay(context.Background()))
	alice, err := c.Member("alice")
	require.NoError(t, err)
	require.EqualValues(t, 10, alice.Reputation.Karma)
}

func TestSnapshotRoundTrip(t *testing.T) {
	clock := newTestClock()
	c := newTestCommunity(t, community.Config{
		Clock:    clock.Now,
		Settings: community.Settings{MemberCapacity: 8, AuditCapacity: 16},
	})
	elder(t, c, "alice")
	join(t, c, "bob", 500)
	join(t, c, "carol", 42)
	handle(t, c, community.ShareKnowledge{Identity: "bob", Text: "compost"})
	out := handle(t, c, community.Propose{Identity: "alice", Text: "build a shed"})
	pid := out[0].Payload.(community.ProposalOpened).ID
	handle(t, c, community.Vote{Identity: "bob", Proposal: pid, Choice: consensus.ChoiceYes})
	handle(t, c, community.Attest{Identity: "bob", Target: "carol", Score: 0.3})
	_, err := c.RecordViolation("carol", "flooding")
	require.NoError(t, err)
	// Leave a freed slot behind so generations matter
	join(t, c, "dave", 0)
	handle(t, c, community.Leave{Identity: "dave"})

	snap := c.Snapshot()
	data, err := community.EncodeSnapshot(snap)
	require.NoError(t, err)
	decoded, err := community.DecodeSnapshot(data)
	require.NoError(t, err)

	restored, err := community.Restore(decoded, community.Config{Clock: clock.Now})
	require.NoError(t, err)
	require.Equal(t, c.Settings(), restored.Settings())
	for _, identity := range []membership.Identity{"alice", "bob", "carol"} {
		want, err := c.Trust(identity)
		require.NoError(t, err)
		got, err := restored.Trust(identity)
		require.NoError(t, err)
		require.Equal(t, want, got, identity)
	}
	require.Equal(t, c.Members(), restored.Members())
	require.Equal(t, c.Audit(), restored.Audit())
	require.Equal(t, c.ListKnowledge(0), restored.ListKnowledge(0))
	require.Equal(t, c.Proposals(), restored.Proposals())

	// Encoding is deterministic
	again, err := community.EncodeSnapshot(decoded)
	require.NoError(t, err)
	require.Equal(t, data, again)

	// Handles issued before the snapshot still work
	handle(t, restored, community.Vote{Identity: "alice", Proposal: pid, Choice: consensus.ChoiceNo})
	rejected(
		t,
		restored,
		community.Vote{Identity: "bob", Proposal: pid, Choice: consensus.ChoiceNo},
		community.ReasonAlreadyVoted,
	)
}

func TestSnapshotRoundTripBinaryIdentity(t *testing.T) {
	clock := newTestClock()
	c := newTestCommunity(t, community.Config{Clock: clock.Now})
	device := membership.Identity([]byte{0xde, 0xad, 0xbe, 0xef, 0xff})
	handle(t, c, community.Announce{Identity: device, DisplayName: "sensor\xff"})
	handle(t, c, community.KarmaUpdate{Identity: device, Delta: 500, Reason: "bootstrap"})
	handle(t, c, community.ShareKnowledge{Identity: device, Text: "soil is dry"})

	data, err := community.EncodeSnapshot(c.Snapshot())
	require.NoError(t, err)
	decoded, err := community.DecodeSnapshot(data)
	require.NoError(t, err)
	restored, err := community.Restore(decoded, community.Config{Clock: clock.Now})
	require.NoError(t, err)

	mem, err := restored.Member(device)
	require.NoError(t, err)
	require.Equal(t, device, mem.Identity)
	require.Equal(t, "sensor\xff", mem.DisplayName)
	want, err := c.Trust(device)
	require.NoError(t, err)
	got, err := restored.Trust(device)
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.Equal(t, c.ListKnowledge(0), restored.ListKnowledge(0))
}

func TestDecodeSnapshotRejectsGarbage(t *testing.T) {
	_, err := community.DecodeSnapshot([]byte{0xff, 0x00})
	require.Error(t, err)
	data, err := community.EncodeSnapshot(community.Snapshot{Version: 99})
	require.NoError(t, err)
	_, err = community.DecodeSnapshot(data)
	require.ErrorIs(t, err, community.ErrSnapshotVersion)
}

func TestOutboundPublishedOnEventBus(t *testing.T) {
	defer goleak.VerifyNone(t)
	bus := event.NewEventBus(nil, nil)
	defer bus.Stop()
	_, welcomeCh := bus.Subscribe(community.EventType(community.OutboundWelcome))
	_, rejectCh := bus.Subscribe(community.EventType(community.OutboundRejection))

	c := newTestCommunity(t, community.Config{EventBus: bus})
	handle(t, c, community.Announce{Identity: "alice"})
	rejected(t, c, community.Heartbeat{Identity: "ghost"}, community.ReasonUnknownMember)

	select {
	case evt := <-welcomeCh:
		require.Equal(t, community.EventType(community.OutboundWelcome), evt.Type)
		o := evt.Data.(community.Outbound)
		require.Equal(t, membership.Identity("alice"), o.To)
	case <-time.After(time.Second):
		t.Fatal("welcome not published")
	}
	select {
	case evt := <-rejectCh:
		o := evt.Data.(community.Outbound)
		require.Equal(t, membership.Identity("ghost"), o.To)
	case <-time.After(time.Second):
		t.Fatal("rejection not published")
	}
}

func TestMessagesCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := newTestCommunity(t, community.Config{PromRegistry: reg})
	join(t, c, "alice", 0)
	handle(t, c, community.Heartbeat{Identity: "alice"})
	rejected(t, c, community.Heartbeat{Identity: "ghost"}, community.ReasonUnknownMember)

	expected := `
# HELP sangha_members current number of members
# TYPE sangha_members gauge
sangha_members 1
# HELP sangha_rejections_total rejected inbound messages by kind and reason
# TYPE sangha_rejections_total counter
sangha_rejections_total{kind="heartbeat",reason="unknown-member"} 1
`
	require.NoError(t, testutil.GatherAndCompare(
		reg,
		strings.NewReader(expected),
		"sangha_members",
		"sangha_rejections_total",
	))
}

func TestHandleTouchesSender(t *testing.T) {
	var logs bytes.Buffer
	c := newTestCommunity(t, community.Config{
		Logger: slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
	})
	join(t, c, "alice", 0)
	before, err := c.Member("alice")
	require.NoError(t, err)
	handle(t, c, community.KarmaUpdate{Identity: "alice", Delta: 1, Reason: "chores"})
	after, err := c.Member("alice")
	require.NoError(t, err)
	require.True(t, after.LastSeen.After(before.LastSeen))

	// The sender is gone after a Leave and is not touched
	handle(t, c, community.Leave{Identity: "alice"})
	_, err = c.Member("alice")
	require.ErrorIs(t, err, membership.ErrUnknownMember)
	require.NotContains(t, logs.String(), "failed to touch sender")
}

func TestZeroRewardsAreKept(t *testing.T) {
	settings := community.DefaultSettings()
	settings.Rewards.Vote = community.Reward(0)
	settings.Rewards.HelpOffer = community.Reward(0)
	c := newTestCommunity(t, community.Config{Settings: settings})
	elder(t, c, "alice")
	join(t, c, "bob", 500)

	out := handle(t, c, community.Propose{Identity: "alice", Text: "dig a well"})
	pid := out[0].Payload.(community.ProposalOpened).ID
	handle(t, c, community.Vote{Identity: "alice", Proposal: pid, Choice: consensus.ChoiceYes})
	handle(t, c, community.HelpOffer{Identity: "bob", Target: "alice"})

	alice, err := c.Member("alice")
	require.NoError(t, err)
	require.EqualValues(t, 500, alice.Reputation.Karma)
	bob, err := c.Member("bob")
	require.NoError(t, err)
	require.EqualValues(t, 500, bob.Reputation.Karma)
	require.EqualValues(t, 1, bob.Reputation.HelpingActions)

	// Unset rewards still take their defaults
	got := newTestCommunity(t, community.Config{}).Settings().Rewards
	require.Equal(t, community.DefaultSettings().Rewards, got)
	require.EqualValues(t, 0, *c.Settings().Rewards.Vote)
	require.EqualValues(t, knowledge.DefaultShareReward, *c.Settings().Rewards.Share)
}
