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
	"fmt"
	"math"
	"time"

	"github.com/blinklabs-io/sangha/consensus"
	"github.com/blinklabs-io/sangha/knowledge"
	"github.com/blinklabs-io/sangha/membership"
	"github.com/blinklabs-io/sangha/reputation"
	"github.com/blinklabs-io/sangha/trust"
)

type MessageKind string

const (
	KindAnnounce       MessageKind = "announce"
	KindHeartbeat      MessageKind = "heartbeat"
	KindKarmaUpdate    MessageKind = "karma-update"
	KindShareKnowledge MessageKind = "share-knowledge"
	KindPropose        MessageKind = "propose"
	KindVote           MessageKind = "vote"
	KindHelpRequest    MessageKind = "help-request"
	KindHelpOffer      MessageKind = "help-offer"
	KindUpvote         MessageKind = "upvote"
	KindAttest         MessageKind = "attest"
	KindAppeal         MessageKind = "appeal"
	KindLeave          MessageKind = "leave"
)

// Message is a decoded inbound record. The set of implementations is closed.
type Message interface {
	Kind() MessageKind
	Sender() membership.Identity
	apply(c *Community, now time.Time) ([]Outbound, error)
}

// Announce introduces a device, or refreshes the display name of a known one
type Announce struct {
	Identity    membership.Identity
	DisplayName string
}

func (Announce) Kind() MessageKind { return KindAnnounce }
func (m Announce) Sender() membership.Identity { return m.Identity }

func (m Announce) apply(c *Community, now time.Time) ([]Outbound, error) {
	_, known := c.registry.Lookup(m.Identity)
	if known {
		// Refreshing is still an action, so untrusted members are refused
		if _, _, err := c.sender(m.Identity, trust.PrivilegeNone); err != nil {
			return nil, err
		}
	}
	id, evicted, err := c.registry.Join(m.Identity, m.DisplayName, now)
	if err != nil {
		return nil, err
	}
	var out []Outbound
	if evicted != nil {
		c.metrics.eviction("member")
		out = append(
			out,
			broadcast(OutboundMemberEvicted, MemberEvicted{Identity: evicted.Identity}),
		)
	}
	if !known {
		mem, _ := c.registry.Get(id)
		out = append(out, direct(m.Identity, OutboundWelcome, Welcome{
			ID:                      id,
			Trust:                   c.evaluator.Evaluate(&mem.Reputation),
			Members:                 c.registry.Len(),
			CollectiveConsciousness: c.registry.CollectiveConsciousness(),
		}))
	}
	return out, nil
}

// Heartbeat marks a member as seen
type Heartbeat struct {
	Identity membership.Identity
}

func (Heartbeat) Kind() MessageKind { return KindHeartbeat }
func (m Heartbeat) Sender() membership.Identity { return m.Identity }

func (m Heartbeat) apply(c *Community, _ time.Time) ([]Outbound, error) {
	_, _, err := c.sender(m.Identity, trust.PrivilegeSend)
	return nil, err
}

// KarmaUpdate applies a karma delta to the sender with an audit reason
type KarmaUpdate struct {
	Identity membership.Identity
	Reason   string
	Delta    int64
}

func (KarmaUpdate) Kind() MessageKind { return KindKarmaUpdate }
func (m KarmaUpdate) Sender() membership.Identity { return m.Identity }

func (m KarmaUpdate) apply(c *Community, now time.Time) ([]Outbound, error) {
	id, _, err := c.sender(m.Identity, trust.PrivilegeSend)
	if err != nil {
		return nil, err
	}
	_, err = c.ledger.RecordAction(id, m.Delta, m.Reason, now)
	return nil, err
}

type ShareKnowledge struct {
	Identity membership.Identity
	Text     string
}

func (ShareKnowledge) Kind() MessageKind { return KindShareKnowledge }
func (m ShareKnowledge) Sender() membership.Identity { return m.Identity }

func (m ShareKnowledge) apply(c *Community, now time.Time) ([]Outbound, error) {
	id, _, err := c.sender(m.Identity, trust.PrivilegeShareKnowledge)
	if err != nil {
		return nil, err
	}
	entryID, evicted, err := c.knowledge.Share(id, m.Text, now)
	if err != nil {
		return nil, err
	}
	if evicted != nil {
		c.metrics.eviction("knowledge")
	}
	entry, _ := c.knowledge.Get(entryID)
	return []Outbound{
		broadcast(OutboundKnowledgeShared, KnowledgeShared{Entry: entry}),
	}, nil
}

type Propose struct {
	Identity membership.Identity
	Text     string
}

func (Propose) Kind() MessageKind { return KindPropose }
func (m Propose) Sender() membership.Identity { return m.Identity }

func (m Propose) apply(c *Community, now time.Time) ([]Outbound, error) {
	id, _, err := c.sender(m.Identity, trust.PrivilegePropose)
	if err != nil {
		return nil, err
	}
	pid, evicted, err := c.engine.Propose(id, m.Text, now)
	if err != nil {
		return nil, err
	}
	if evicted != nil {
		c.metrics.eviction("proposal")
	}
	return []Outbound{
		broadcast(OutboundProposalOpened, ProposalOpened{
			ID:       pid,
			Proposer: m.Identity,
			Text:     m.Text,
		}),
	}, nil
}

type Vote struct {
	Identity membership.Identity
	Proposal consensus.ProposalID
	Choice   consensus.Choice
}

func (Vote) Kind() MessageKind { return KindVote }
func (m Vote) Sender() membership.Identity { return m.Identity }

func (m Vote) apply(c *Community, now time.Time) ([]Outbound, error) {
	// The engine owns the error order for votes, so an unknown sender is
	// passed through as a handle that never resolves
	id, _ := c.registry.Lookup(m.Identity)
	if _, err := c.engine.Vote(m.Proposal, id, m.Choice, now); err != nil {
		return nil, err
	}
	return []Outbound{
		broadcast(OutboundVoteRecorded, VoteRecorded{
			Proposal: m.Proposal,
			Voter:    m.Identity,
			Choice:   m.Choice,
		}),
	}, nil
}

type HelpRequest struct {
	Identity membership.Identity
	Text     string
}

func (HelpRequest) Kind() MessageKind { return KindHelpRequest }
func (m HelpRequest) Sender() membership.Identity { return m.Identity }

func (m HelpRequest) apply(c *Community, now time.Time) ([]Outbound, error) {
	id, _, err := c.sender(m.Identity, trust.PrivilegeSend)
	if err != nil {
		return nil, err
	}
	if err := c.checkText(m.Text); err != nil {
		return nil, err
	}
	// Asking counts as participation but earns no karma
	if err := c.ledger.RecordExperience(id, reputation.ExperienceGeneral, now); err != nil {
		return nil, err
	}
	return []Outbound{
		broadcast(OutboundHelpNeeded, HelpNeeded{From: m.Identity, Text: m.Text}),
	}, nil
}

// HelpOffer answers a help request. The offerer earns karma and a helping
// action.
type HelpOffer struct {
	Identity membership.Identity
	Target   membership.Identity
}

func (HelpOffer) Kind() MessageKind { return KindHelpOffer }
func (m HelpOffer) Sender() membership.Identity { return m.Identity }

func (m HelpOffer) apply(c *Community, now time.Time) ([]Outbound, error) {
	id, _, err := c.sender(m.Identity, trust.PrivilegeHelp)
	if err != nil {
		return nil, err
	}
	if err := c.checkTarget(m.Identity, m.Target); err != nil {
		return nil, err
	}
	if _, err := c.ledger.RecordAction(
		id,
		*c.config.Rewards.HelpOffer,
		"offered help to "+m.Target.String(),
		now,
	); err != nil {
		return nil, err
	}
	if err := c.ledger.RecordExperience(id, reputation.ExperienceHelping, now); err != nil {
		return nil, err
	}
	return []Outbound{
		direct(m.Target, OutboundHelpOffered, HelpOffered{From: m.Identity, Target: m.Target}),
	}, nil
}

type Upvote struct {
	Identity membership.Identity
	Entry    knowledge.EntryID
}

func (Upvote) Kind() MessageKind { return KindUpvote }
func (m Upvote) Sender() membership.Identity { return m.Identity }

func (m Upvote) apply(c *Community, _ time.Time) ([]Outbound, error) {
	if _, _, err := c.sender(m.Identity, trust.PrivilegeSend); err != nil {
		return nil, err
	}
	_, err := c.knowledge.Upvote(m.Entry)
	return nil, err
}

// Attest reports the sender's opinion of another member as a score in [0,1]
type Attest struct {
	Identity membership.Identity
	Target   membership.Identity
	Score    float64
}

func (Attest) Kind() MessageKind { return KindAttest }
func (m Attest) Sender() membership.Identity { return m.Identity }

func (m Attest) apply(c *Community, now time.Time) ([]Outbound, error) {
	if _, _, err := c.sender(m.Identity, trust.PrivilegeVote); err != nil {
		return nil, err
	}
	if m.Score < 0 || m.Score > 1 || math.IsNaN(m.Score) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScore, m.Score)
	}
	if err := c.checkTarget(m.Identity, m.Target); err != nil {
		return nil, err
	}
	target, _ := c.registry.Lookup(m.Target)
	_, err := c.ledger.Attest(target, m.Score, now)
	return nil, err
}

// Appeal asks for violations to be cleared. It is the only message an
// untrusted member may send.
type Appeal struct {
	Identity membership.Identity
}

func (Appeal) Kind() MessageKind { return KindAppeal }
func (m Appeal) Sender() membership.Identity { return m.Identity }

func (m Appeal) apply(c *Community, now time.Time) ([]Outbound, error) {
	id, ok := c.registry.Lookup(m.Identity)
	if !ok {
		return nil, fmt.Errorf("%w: %s", membership.ErrUnknownMember, m.Identity)
	}
	if err := c.evaluator.AttemptAppeal(c.ledger, id, now); err != nil {
		return nil, err
	}
	return []Outbound{
		direct(m.Identity, OutboundAppealGranted, AppealGranted{Identity: m.Identity}),
	}, nil
}

// Leave removes the sender. Ballots it already cast stay counted.
type Leave struct {
	Identity membership.Identity
}

func (Leave) Kind() MessageKind { return KindLeave }
func (m Leave) Sender() membership.Identity { return m.Identity }

func (m Leave) apply(c *Community, _ time.Time) ([]Outbound, error) {
	id, _, err := c.sender(m.Identity, trust.PrivilegeNone)
	if err != nil {
		return nil, err
	}
	_, err = c.registry.Leave(id)
	return nil, err
}
