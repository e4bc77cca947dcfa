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
	"github.com/blinklabs-io/sangha/consensus"
	"github.com/blinklabs-io/sangha/event"
	"github.com/blinklabs-io/sangha/knowledge"
	"github.com/blinklabs-io/sangha/membership"
	"github.com/blinklabs-io/sangha/reputation"
	"github.com/blinklabs-io/sangha/trust"
)

type OutboundKind string

const (
	OutboundWelcome          OutboundKind = "welcome"
	OutboundRejection        OutboundKind = "rejection"
	OutboundMemberEvicted    OutboundKind = "member-evicted"
	OutboundKnowledgeShared  OutboundKind = "knowledge-shared"
	OutboundProposalOpened   OutboundKind = "proposal-opened"
	OutboundVoteRecorded     OutboundKind = "vote-recorded"
	OutboundProposalResolved OutboundKind = "proposal-resolved"
	OutboundHelpNeeded       OutboundKind = "help-needed"
	OutboundHelpOffered      OutboundKind = "help-offered"
	OutboundAppealGranted    OutboundKind = "appeal-granted"
)

// OutboundKinds lists every outbound record kind
func OutboundKinds() []OutboundKind {
	return []OutboundKind{
		OutboundWelcome,
		OutboundRejection,
		OutboundMemberEvicted,
		OutboundKnowledgeShared,
		OutboundProposalOpened,
		OutboundVoteRecorded,
		OutboundProposalResolved,
		OutboundHelpNeeded,
		OutboundHelpOffered,
		OutboundAppealGranted,
	}
}

// EventType returns the event bus type outbound records of kind are
// published under
func EventType(kind OutboundKind) event.EventType {
	return event.EventType("community." + string(kind))
}

// Outbound is a record for the transport to deliver. An empty To means
// broadcast to every member.
type Outbound struct {
	Payload any                 `json:"payload"`
	Kind    OutboundKind        `json:"kind"`
	To      membership.Identity `json:"to,omitempty"`
}

// Broadcast reports whether the record is addressed to every member
func (o Outbound) Broadcast() bool {
	return o.To == ""
}

type Welcome struct {
	Trust                   trust.Assessment              `json:"trust"`
	ID                      membership.MemberID           `json:"id"`
	Members                 int                           `json:"members"`
	CollectiveConsciousness reputation.ConsciousnessLevel `json:"collectiveConsciousness"`
}

type Rejection struct {
	Kind    MessageKind `json:"kind"`
	Reason  Reason      `json:"reason"`
	Message string      `json:"message"`
}

type MemberEvicted struct {
	Identity membership.Identity `json:"identity"`
}

type KnowledgeShared struct {
	Entry knowledge.Entry `json:"entry"`
}

type ProposalOpened struct {
	Proposer membership.Identity  `json:"proposer"`
	Text     string               `json:"text"`
	ID       consensus.ProposalID `json:"id"`
}

type VoteRecorded struct {
	Voter    membership.Identity  `json:"voter"`
	Proposal consensus.ProposalID `json:"proposal"`
	Choice   consensus.Choice     `json:"choice"`
}

type ProposalResolved struct {
	Outcome consensus.Outcome `json:"outcome"`
}

type HelpNeeded struct {
	From membership.Identity `json:"from"`
	Text string              `json:"text"`
}

type HelpOffered struct {
	From   membership.Identity `json:"from"`
	Target membership.Identity `json:"target"`
}

type AppealGranted struct {
	Identity membership.Identity `json:"identity"`
}

func broadcast(kind OutboundKind, payload any) Outbound {
	return Outbound{Kind: kind, Payload: payload}
}

func direct(to membership.Identity, kind OutboundKind, payload any) Outbound {
	return Outbound{Kind: kind, To: to, Payload: payload}
}
