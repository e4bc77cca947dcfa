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

package trust

import (
	"math"
	"time"

	"github.com/blinklabs-io/sangha/reputation"
)

// Score weights. Violations subtract rather than contribute, so the score can
// go negative.
//
// Weight distribution:
// - Karma: 40%
// - Consciousness: 30%
// - Helping actions: 20%
// - Peer reputation: 10%
// - Each violation: -10%
const (
	karmaWeight         = 0.40
	consciousnessWeight = 0.30
	helpingWeight       = 0.20
	peerWeight          = 0.10
	violationPenalty    = 0.10

	// Scores this close to a level threshold resolve to the lower level
	thresholdEpsilon = 1e-9
)

const (
	DefaultKarmaScale        = 500
	DefaultHelpingScale      = 20
	DefaultGuestThreshold    = 0.25
	DefaultMemberThreshold   = 0.55
	DefaultTrustedThreshold  = 0.85
	DefaultMaxViolations     = 3
	DefaultAppealMinKarma    = 50
	DefaultAppealMaxAttempts = 2
	DefaultAppealWindow      = 7 * 24 * time.Hour
)

// Config holds the tunable parts of trust evaluation. A zero Config means
// DefaultConfig. Otherwise AppealMinKarma is used as given and the remaining
// zero fields take their defaults. Start from DefaultConfig to change only
// some fields.
type Config struct {
	KarmaScale        float64       `yaml:"karmaScale"`
	HelpingScale      float64       `yaml:"helpingScale"`
	GuestThreshold    float64       `yaml:"guestThreshold"`
	MemberThreshold   float64       `yaml:"memberThreshold"`
	TrustedThreshold  float64       `yaml:"trustedThreshold"`
	AppealMinKarma    int64         `yaml:"appealMinKarma"`
	AppealWindow      time.Duration `yaml:"appealWindow"`
	AppealMaxAttempts int           `yaml:"appealMaxAttempts"`
	MaxViolations     uint32        `yaml:"maxViolations"`
}

func DefaultConfig() Config {
	return Config{
		KarmaScale:        DefaultKarmaScale,
		HelpingScale:      DefaultHelpingScale,
		GuestThreshold:    DefaultGuestThreshold,
		MemberThreshold:   DefaultMemberThreshold,
		TrustedThreshold:  DefaultTrustedThreshold,
		AppealMinKarma:    DefaultAppealMinKarma,
		AppealWindow:      DefaultAppealWindow,
		AppealMaxAttempts: DefaultAppealMaxAttempts,
		MaxViolations:     DefaultMaxViolations,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c == (Config{}) {
		return def
	}
	if c.KarmaScale <= 0 {
		c.KarmaScale = def.KarmaScale
	}
	if c.HelpingScale <= 0 {
		c.HelpingScale = def.HelpingScale
	}
	if c.GuestThreshold <= 0 {
		c.GuestThreshold = def.GuestThreshold
	}
	if c.MemberThreshold <= 0 {
		c.MemberThreshold = def.MemberThreshold
	}
	if c.TrustedThreshold <= 0 {
		c.TrustedThreshold = def.TrustedThreshold
	}
	if c.AppealWindow <= 0 {
		c.AppealWindow = def.AppealWindow
	}
	if c.AppealMaxAttempts <= 0 {
		c.AppealMaxAttempts = def.AppealMaxAttempts
	}
	if c.MaxViolations == 0 {
		c.MaxViolations = def.MaxViolations
	}
	return c
}

// Evaluator computes trust assessments. It holds no per-member state and is
// safe for concurrent use.
type Evaluator struct {
	config Config
}

func NewEvaluator(cfg Config) *Evaluator {
	return &Evaluator{config: cfg.withDefaults()}
}

// Config returns the effective configuration
func (e *Evaluator) Config() Config {
	return e.config
}

// Score returns the weighted trust score for a reputation
func (e *Evaluator) Score(rep *reputation.Reputation) float64 {
	consciousness := min(float64(rep.Consciousness), float64(reputation.MaxConsciousness))
	score := karmaWeight*normalize(float64(rep.Karma), e.config.KarmaScale) +
		consciousnessWeight*(consciousness/float64(reputation.MaxConsciousness)) +
		helpingWeight*normalize(float64(rep.HelpingActions), e.config.HelpingScale) +
		peerWeight*clamp01(rep.PeerReputation) -
		violationPenalty*float64(rep.Violations)
	// Keep the score stable (if NaN etc)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		score = 0.0
	}
	return score
}

// Level maps a score and violation count to a trust level
func (e *Evaluator) Level(score float64, violations uint32) Level {
	switch {
	case score < 0 || violations >= e.config.MaxViolations:
		return LevelUntrusted
	case score < e.config.GuestThreshold+thresholdEpsilon:
		return LevelGuest
	case score < e.config.MemberThreshold+thresholdEpsilon:
		return LevelMember
	case score < e.config.TrustedThreshold+thresholdEpsilon:
		return LevelTrusted
	default:
		return LevelEnlightened
	}
}

// Evaluate returns the full assessment for a reputation
func (e *Evaluator) Evaluate(rep *reputation.Reputation) Assessment {
	score := e.Score(rep)
	level := e.Level(score, rep.Violations)
	return Assessment{
		Score:      score,
		Level:      level,
		Privileges: PrivilegesFor(level),
	}
}

func normalize(x, scale float64) float64 {
	if scale <= 0 {
		return 0
	}
	return clamp01(x / scale)
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
