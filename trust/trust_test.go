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

package trust_test

import (
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/sangha/arena"
	"github.com/blinklabs-io/sangha/reputation"
	"github.com/blinklabs-io/sangha/trust"
)

func TestNewcomerIsGuest(t *testing.T) {
	e := trust.NewEvaluator(trust.Config{})
	a := e.Evaluate(&reputation.Reputation{})
	require.InDelta(t, 0.0, a.Score, 1e-12)
	require.Equal(t, trust.LevelGuest, a.Level)
	require.Equal(t, trust.PrivilegeSend, a.Privileges)
	require.True(t, a.Allows(trust.PrivilegeSend))
	require.False(t, a.Allows(trust.PrivilegeVote))
}

func TestEvaluateWeights(t *testing.T) {
	e := trust.NewEvaluator(trust.DefaultConfig())
	testDefs := []struct {
		name  string
		rep   reputation.Reputation
		score float64
		level trust.Level
	}{
		{
			name: "everything maxed",
			rep: reputation.Reputation{
				Karma:          500,
				Consciousness:  reputation.ConsciousnessEnlightened,
				HelpingActions: 20,
				PeerReputation: 1,
			},
			score: 1.0,
			level: trust.LevelEnlightened,
		},
		{
			name: "half way",
			rep: reputation.Reputation{
				Karma:          250,
				Consciousness:  reputation.ConsciousnessAware,
				HelpingActions: 10,
				PeerReputation: 0.5,
			},
			score: 0.5,
			level: trust.LevelMember,
		},
		{
			name: "karma beyond scale is capped",
			rep: reputation.Reputation{
				Karma: 100000,
			},
			score: 0.4,
			level: trust.LevelMember,
		},
		{
			name: "one violation",
			rep: reputation.Reputation{
				Karma:          500,
				Consciousness:  reputation.ConsciousnessEnlightened,
				HelpingActions: 20,
				PeerReputation: 1,
				Violations:     1,
			},
			score: 0.9,
			level: trust.LevelEnlightened,
		},
		{
			name: "three violations",
			rep: reputation.Reputation{
				Karma:          500,
				Consciousness:  reputation.ConsciousnessEnlightened,
				HelpingActions: 20,
				PeerReputation: 1,
				Violations:     3,
			},
			score: 0.7,
			level: trust.LevelUntrusted,
		},
		{
			name: "negative score",
			rep: reputation.Reputation{
				Violations: 1,
			},
			score: -0.1,
			level: trust.LevelUntrusted,
		},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			a := e.Evaluate(&testDef.rep)
			require.InDelta(t, testDef.score, a.Score, 1e-9)
			require.Equal(t, testDef.level, a.Level)
			require.Equal(t, trust.PrivilegesFor(testDef.level), a.Privileges)
		})
	}
}

func TestLevelThresholdTies(t *testing.T) {
	e := trust.NewEvaluator(trust.Config{})
	testDefs := []struct {
		score      float64
		violations uint32
		level      trust.Level
	}{
		{score: -0.0001, level: trust.LevelUntrusted},
		{score: 0, level: trust.LevelGuest},
		{score: 0.25, level: trust.LevelGuest},
		{score: 0.25 + 1e-12, level: trust.LevelGuest},
		{score: 0.2501, level: trust.LevelMember},
		{score: 0.55, level: trust.LevelMember},
		{score: 0.5501, level: trust.LevelTrusted},
		{score: 0.85, level: trust.LevelTrusted},
		{score: 0.8501, level: trust.LevelEnlightened},
		{score: 1.0, violations: 3, level: trust.LevelUntrusted},
		{score: 1.0, violations: 2, level: trust.LevelEnlightened},
	}
	for _, testDef := range testDefs {
		require.Equal(
			t,
			testDef.level,
			e.Level(testDef.score, testDef.violations),
			"score %v violations %d",
			testDef.score,
			testDef.violations,
		)
	}
}

func TestTrustMonotonicInKarma(t *testing.T) {
	e := trust.NewEvaluator(trust.Config{})
	for _, base := range []reputation.Reputation{
		{},
		{Consciousness: reputation.ConsciousnessAware, HelpingActions: 7},
		{PeerReputation: 0.6, Violations: 2},
	} {
		prev := trust.Assessment{Score: -1e18}
		for karma := int64(-1000); karma <= 1000; karma += 25 {
			rep := base
			rep.Karma = karma
			a := e.Evaluate(&rep)
			require.GreaterOrEqual(t, a.Score, prev.Score)
			require.GreaterOrEqual(t, int(a.Level), int(prev.Level))
			prev = a
		}
	}
}

func TestPrivilegesCumulative(t *testing.T) {
	levels := []trust.Level{
		trust.LevelUntrusted,
		trust.LevelGuest,
		trust.LevelMember,
		trust.LevelTrusted,
		trust.LevelEnlightened,
	}
	for i := range levels {
		for j := i; j < len(levels); j++ {
			require.True(
				t,
				trust.PrivilegesFor(levels[j]).Contains(trust.PrivilegesFor(levels[i])),
				"%s should include %s", levels[j], levels[i],
			)
		}
	}
	require.Equal(t, trust.PrivilegeNone, trust.PrivilegesFor(trust.LevelUntrusted))
	require.True(t, trust.PrivilegesFor(trust.LevelTrusted).Has(trust.PrivilegePropose|trust.PrivilegeRelay))
	require.False(t, trust.PrivilegesFor(trust.LevelTrusted).Has(trust.PrivilegeAdmin))
	require.Equal(t, "send", trust.PrivilegeSend.String())
	require.Equal(t, "none", trust.PrivilegeNone.String())
}

type testAccounts struct {
	reps *arena.Arena[reputation.Reputation]
}

func (a *testAccounts) Reputation(id arena.Handle) (*reputation.Reputation, bool) {
	return a.reps.Get(id)
}

func (a *testAccounts) Reputations() iter.Seq2[arena.Handle, *reputation.Reputation] {
	return a.reps.All()
}

func TestAttemptAppeal(t *testing.T) {
	accts := &testAccounts{reps: arena.New[reputation.Reputation](1)}
	id, err := accts.reps.Insert(reputation.Reputation{Karma: 50, Violations: 3})
	require.NoError(t, err)
	ledger := reputation.NewLedger(reputation.LedgerConfig{Accounts: accts})
	e := trust.NewEvaluator(trust.Config{})
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	// Karma must be strictly above the minimum
	err = e.AttemptAppeal(ledger, id, now)
	require.ErrorIs(t, err, trust.ErrAppealDenied)
	var appealErr *trust.AppealError
	require.True(t, errors.As(err, &appealErr))
	require.Equal(t, 1, appealErr.Attempts)
	rep, _ := accts.Reputation(id)
	require.Equal(t, uint32(3), rep.Violations)

	_, err = ledger.RecordAction(id, 1, "contribution", now)
	require.NoError(t, err)
	require.NoError(t, e.AttemptAppeal(ledger, id, now.Add(time.Hour)))
	require.Zero(t, rep.Violations)

	// Two attempts already inside the window
	err = e.AttemptAppeal(ledger, id, now.Add(2*time.Hour))
	require.ErrorIs(t, err, trust.ErrAppealDenied)

	// Once the window has passed the member may appeal again
	require.NoError(t, e.AttemptAppeal(ledger, id, now.Add(8*24*time.Hour)))
}

func TestAttemptAppealUnknownMember(t *testing.T) {
	accts := &testAccounts{reps: arena.New[reputation.Reputation](1)}
	ledger := reputation.NewLedger(reputation.LedgerConfig{Accounts: accts})
	e := trust.NewEvaluator(trust.Config{})
	err := e.AttemptAppeal(ledger, arena.Handle{Gen: 1}, time.Now())
	require.ErrorIs(t, err, reputation.ErrUnknownMember)
}

func TestZeroAppealMinKarmaIsKept(t *testing.T) {
	require.EqualValues(t, trust.DefaultAppealMinKarma, trust.NewEvaluator(trust.Config{}).Config().AppealMinKarma)

	cfg := trust.DefaultConfig()
	cfg.AppealMinKarma = 0
	e := trust.NewEvaluator(cfg)
	require.Zero(t, e.Config().AppealMinKarma)
	require.Equal(t, cfg, e.Config())

	accts := &testAccounts{reps: arena.New[reputation.Reputation](1)}
	id, err := accts.reps.Insert(reputation.Reputation{Karma: 1, Violations: 3})
	require.NoError(t, err)
	ledger := reputation.NewLedger(reputation.LedgerConfig{Accounts: accts})
	require.NoError(t, e.AttemptAppeal(ledger, id, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)))
}
