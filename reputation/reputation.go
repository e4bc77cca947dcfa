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
	"time"
)

type ConsciousnessLevel uint8

const (
	ConsciousnessNone ConsciousnessLevel = iota
	ConsciousnessAwakening
	ConsciousnessAware
	ConsciousnessCompassionate
	ConsciousnessEnlightened
)

// MaxConsciousness is the highest valid consciousness ordinal
const MaxConsciousness = ConsciousnessEnlightened

// String returns a human-readable name for the consciousness level.
func (c ConsciousnessLevel) String() string {
	switch c {
	case ConsciousnessNone:
		return "none"
	case ConsciousnessAwakening:
		return "awakening"
	case ConsciousnessAware:
		return "aware"
	case ConsciousnessCompassionate:
		return "compassionate"
	case ConsciousnessEnlightened:
		return "enlightened"
	default:
		return "unknown"
	}
}

func (c ConsciousnessLevel) Valid() bool {
	return c <= MaxConsciousness
}

type ExperienceKind uint8

const (
	ExperienceGeneral ExperienceKind = iota
	ExperienceHelping
)

// Reputation is the ledger-owned part of a member record. Trust is never
// stored here; it is derived from these fields on demand.
type Reputation struct {
	DecayedAt          time.Time          `json:"decayedAt"`
	Appeals            []time.Time        `json:"appeals,omitempty"`
	Karma              int64              `json:"karma"`
	Experience         uint64             `json:"experience"`
	HelpingActions     uint64             `json:"helpingActions"`
	PeerReputation     float64            `json:"peerReputation"` // EMA of peer attestations, 0..1
	Violations         uint32             `json:"violations"`
	Consciousness      ConsciousnessLevel `json:"consciousness"`
	PeerReputationInit bool               `json:"peerReputationInit"`
}

// Clone returns a copy that does not share the appeal history slice
func (r Reputation) Clone() Reputation {
	ret := r
	if r.Appeals != nil {
		ret.Appeals = append([]time.Time(nil), r.Appeals...)
	}
	return ret
}

// AggregationWeight is the influence of a member in weighted aggregates:
// max(1, karma) * (experience+1) * (helping+1). Computed in float64 so large
// counters saturate instead of wrapping.
func (r *Reputation) AggregationWeight() float64 {
	karma := max(r.Karma, 1)
	return float64(karma) *
		(float64(r.Experience) + 1) *
		(float64(r.HelpingActions) + 1)
}

// Milestone is the minimum reputation needed to reach a consciousness level
type Milestone struct {
	Level         ConsciousnessLevel `yaml:"level"`
	MinKarma      int64              `yaml:"minKarma"`
	MinExperience uint64             `yaml:"minExperience"`
	MinHelping    uint64             `yaml:"minHelping"`
}

func (m Milestone) reachedBy(r *Reputation) bool {
	return r.Karma >= m.MinKarma &&
		r.Experience >= m.MinExperience &&
		r.HelpingActions >= m.MinHelping
}

// DefaultMilestones returns the default consciousness milestones
func DefaultMilestones() []Milestone {
	return []Milestone{
		{Level: ConsciousnessAwakening, MinKarma: 10},
		{Level: ConsciousnessAware, MinKarma: 100, MinExperience: 5},
		{Level: ConsciousnessCompassionate, MinKarma: 250, MinHelping: 10},
		{Level: ConsciousnessEnlightened, MinKarma: 500, MinHelping: 20},
	}
}

// DecayPolicy is a linear karma decay. Positive karma moves toward zero by
// KarmaPerDay for every whole day elapsed; negative karma is left alone so
// distrust does not expire on its own. Zero disables decay.
type DecayPolicy struct {
	KarmaPerDay int64 `yaml:"karmaPerDay"`
}

func (p DecayPolicy) Enabled() bool {
	return p.KarmaPerDay > 0
}
