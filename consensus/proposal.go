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

package consensus

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/blinklabs-io/sangha/arena"
	"github.com/blinklabs-io/sangha/membership"
)

type ProposalID = arena.Handle

// State is the lifecycle state of a proposal. It only moves from Open to
// one of the terminal states.
type State uint8

const (
	StateOpen State = iota
	StatePassed
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StatePassed:
		return "passed"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Resolved reports whether the state is terminal
func (s State) Resolved() bool {
	return s == StatePassed || s == StateRejected
}

type Choice uint8

const (
	ChoiceYes Choice = iota + 1
	ChoiceNo
)

func (c Choice) String() string {
	switch c {
	case ChoiceYes:
		return "yes"
	case ChoiceNo:
		return "no"
	default:
		return "invalid"
	}
}

func (c Choice) Valid() bool {
	return c == ChoiceYes || c == ChoiceNo
}

// ParseChoice parses "yes" or "no", case insensitively
func ParseChoice(s string) (Choice, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y":
		return ChoiceYes, nil
	case "no", "n":
		return ChoiceNo, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidChoice, s)
	}
}

// Ballot is one member's vote. Weights are frozen when the ballot is cast.
type Ballot struct {
	CastAt              time.Time           `json:"castAt"`
	VoterIdentity       membership.Identity `json:"voterIdentity"`
	KarmaWeight         float64             `json:"karmaWeight"`
	ConsciousnessWeight float64             `json:"consciousnessWeight"`
	Voter               membership.MemberID `json:"voter"`
	Choice              Choice              `json:"choice"`
}

type Tally struct {
	YesKarma         float64 `json:"yesKarma"`
	NoKarma          float64 `json:"noKarma"`
	YesConsciousness float64 `json:"yesConsciousness"`
	NoConsciousness  float64 `json:"noConsciousness"`
	YesVotes         uint32  `json:"yesVotes"`
	NoVotes          uint32  `json:"noVotes"`
}

// Votes returns the number of ballots counted
func (t Tally) Votes() uint32 {
	return t.YesVotes + t.NoVotes
}

func (t *Tally) add(b Ballot) {
	switch b.Choice {
	case ChoiceYes:
		t.YesVotes++
		t.YesKarma += b.KarmaWeight
		t.YesConsciousness += b.ConsciousnessWeight
	case ChoiceNo:
		t.NoVotes++
		t.NoKarma += b.KarmaWeight
		t.NoConsciousness += b.ConsciousnessWeight
	}
}

// Outcome weights
//
// Weight distribution:
// - Karma-weighted share of yes: 30%
// - Consciousness-weighted share of yes: 40%
// - Head-count share of yes: 30%
const (
	karmaOutcomeWeight         = 0.30
	consciousnessOutcomeWeight = 0.40
	voteOutcomeWeight          = 0.30

	// PassThreshold is the yes score a proposal must exceed to pass
	PassThreshold = 0.5
)

// Score returns the weighted yes score of a tally in [0,1]. Each component
// contributes nothing when its total is zero, so a tally with no votes
// scores zero.
func (t Tally) Score() float64 {
	return karmaOutcomeWeight*ratio(t.YesKarma, t.YesKarma+t.NoKarma) +
		consciousnessOutcomeWeight*ratio(t.YesConsciousness, t.YesConsciousness+t.NoConsciousness) +
		voteOutcomeWeight*ratio(float64(t.YesVotes), float64(t.Votes()))
}

func ratio(part, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return part / total
}

type Proposal struct {
	CreatedAt        time.Time           `json:"createdAt"`
	ResolvedAt       time.Time           `json:"resolvedAt"`
	ProposerIdentity membership.Identity `json:"proposerIdentity"`
	Text             string              `json:"text"`
	Ballots          []Ballot            `json:"ballots"`
	Tally            Tally               `json:"tally"`
	Score            float64             `json:"score"`
	ID               ProposalID          `json:"id"`
	Proposer         membership.MemberID `json:"proposer"`
	State            State               `json:"state"`
}

// Clone returns a copy that does not share the ballot slice
func (p Proposal) Clone() Proposal {
	ret := p
	ret.Ballots = slices.Clone(p.Ballots)
	return ret
}

// BallotOf returns the ballot cast by identity, if any
func (p *Proposal) BallotOf(identity membership.Identity) (Ballot, bool) {
	for _, b := range p.Ballots {
		if b.VoterIdentity == identity {
			return b, true
		}
	}
	return Ballot{}, false
}

// Outcome is the externally visible result of a proposal. For open proposals
// Score is the provisional score of the current tally.
type Outcome struct {
	ResolvedAt time.Time  `json:"resolvedAt"`
	Tally      Tally      `json:"tally"`
	Score      float64    `json:"score"`
	ID         ProposalID `json:"id"`
	State      State      `json:"state"`
}

func (p *Proposal) outcome() Outcome {
	score := p.Score
	if p.State == StateOpen {
		score = p.Tally.Score()
	}
	return Outcome{
		ID:         p.ID,
		State:      p.State,
		Tally:      p.Tally,
		Score:      score,
		ResolvedAt: p.ResolvedAt,
	}
}
