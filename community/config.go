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
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/blinklabs-io/sangha/consensus"
	"github.com/blinklabs-io/sangha/event"
	"github.com/blinklabs-io/sangha/knowledge"
	"github.com/blinklabs-io/sangha/membership"
	"github.com/blinklabs-io/sangha/reputation"
	"github.com/blinklabs-io/sangha/trust"
)

const DefaultHelpOfferReward = 10

// Rewards are the karma granted for contributions. A nil reward takes its
// default and zero grants nothing.
type Rewards struct {
	Share     *int64 `yaml:"share"`
	Vote      *int64 `yaml:"vote"`
	HelpOffer *int64 `yaml:"helpOffer"`
}

// Reward returns a pointer for use in Rewards
func Reward(karma int64) *int64 {
	return &karma
}

func (r Rewards) clone() Rewards {
	ret := Rewards{}
	if r.Share != nil {
		ret.Share = Reward(*r.Share)
	}
	if r.Vote != nil {
		ret.Vote = Reward(*r.Vote)
	}
	if r.HelpOffer != nil {
		ret.HelpOffer = Reward(*r.HelpOffer)
	}
	return ret
}

// Settings is the part of the configuration that shapes community state. It
// is stored in snapshots so a restored community behaves identically.
type Settings struct {
	Milestones        []reputation.Milestone `yaml:"milestones"`
	Trust             trust.Config           `yaml:"trust"`
	Rewards           Rewards                `yaml:"rewards"`
	Decay             reputation.DecayPolicy `yaml:"decay"`
	MemberCapacity    int                    `yaml:"memberCapacity"`
	ProposalCapacity  int                    `yaml:"proposalCapacity"`
	KnowledgeCapacity int                    `yaml:"knowledgeCapacity"`
	MaxNameLength     int                    `yaml:"maxNameLength"`
	MaxText           int                    `yaml:"maxText"`
	AuditCapacity     int                    `yaml:"auditCapacity"`
}

// DefaultSettings returns the settings used for unset fields
func DefaultSettings() Settings {
	return Settings{
		Milestones:        reputation.DefaultMilestones(),
		Trust:             trust.DefaultConfig(),
		Rewards: Rewards{
			Share:     Reward(knowledge.DefaultShareReward),
			Vote:      Reward(consensus.DefaultVoteReward),
			HelpOffer: Reward(DefaultHelpOfferReward),
		},
		MemberCapacity:    membership.DefaultCapacity,
		ProposalCapacity:  consensus.DefaultCapacity,
		KnowledgeCapacity: knowledge.DefaultCapacity,
		MaxNameLength:     membership.DefaultMaxNameLength,
		MaxText:           knowledge.DefaultMaxText,
		AuditCapacity:     reputation.DefaultAuditCapacity,
	}
}

func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if s.Milestones == nil {
		s.Milestones = def.Milestones
	}
	s.Trust = trust.NewEvaluator(s.Trust).Config()
	s.Rewards = s.Rewards.clone()
	if s.Rewards.Share == nil {
		s.Rewards.Share = def.Rewards.Share
	}
	if s.Rewards.Vote == nil {
		s.Rewards.Vote = def.Rewards.Vote
	}
	if s.Rewards.HelpOffer == nil {
		s.Rewards.HelpOffer = def.Rewards.HelpOffer
	}
	if s.MemberCapacity <= 0 {
		s.MemberCapacity = def.MemberCapacity
	}
	if s.ProposalCapacity <= 0 {
		s.ProposalCapacity = def.ProposalCapacity
	}
	if s.KnowledgeCapacity <= 0 {
		s.KnowledgeCapacity = def.KnowledgeCapacity
	}
	if s.MaxNameLength <= 0 {
		s.MaxNameLength = def.MaxNameLength
	}
	if s.MaxText <= 0 {
		s.MaxText = def.MaxText
	}
	if s.AuditCapacity <= 0 {
		s.AuditCapacity = def.AuditCapacity
	}
	return s
}

func (s Settings) clone() Settings {
	ret := s
	if s.Milestones != nil {
		ret.Milestones = append([]reputation.Milestone(nil), s.Milestones...)
	}
	ret.Rewards = s.Rewards.clone()
	return ret
}

type Config struct {
	Logger         *slog.Logger
	PromRegistry   prometheus.Registerer
	EventBus       *event.EventBus
	TracerProvider trace.TracerProvider
	Clock          func() time.Time
	Settings
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if c.TracerProvider == nil {
		c.TracerProvider = otel.GetTracerProvider()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	c.Settings = c.Settings.withDefaults()
	return c
}
