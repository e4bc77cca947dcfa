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
	"errors"
	"fmt"
	"time"

	"github.com/blinklabs-io/sangha/arena"
	"github.com/blinklabs-io/sangha/reputation"
)

var ErrAppealDenied = errors.New("appeal denied")

// AppealError describes why an appeal was denied
type AppealError struct {
	Member   arena.Handle
	Reason   string
	Karma    int64
	Attempts int
}

func (e *AppealError) Error() string {
	return fmt.Sprintf(
		"%s: member %s: %s (karma %d, %d recent attempts)",
		ErrAppealDenied,
		e.Member,
		e.Reason,
		e.Karma,
		e.Attempts,
	)
}

func (e *AppealError) Unwrap() error {
	return ErrAppealDenied
}

// AppealLedger is the part of the reputation ledger used by appeals
type AppealLedger interface {
	Lookup(id arena.Handle) (reputation.Reputation, error)
	RecentAppeals(id arena.Handle, window time.Duration, now time.Time) (int, error)
	RecordAppeal(id arena.Handle, granted bool, reason string, window time.Duration, now time.Time) error
}

// AttemptAppeal evaluates an appeal from a member. The appeal is granted when
// the member has more than AppealMinKarma karma and made fewer than
// AppealMaxAttempts attempts inside AppealWindow. A granted appeal clears the
// member's violations. Every attempt is recorded, so repeated denied appeals
// exhaust the window too.
func (e *Evaluator) AttemptAppeal(
	ledger AppealLedger,
	id arena.Handle,
	now time.Time,
) error {
	rep, err := ledger.Lookup(id)
	if err != nil {
		return err
	}
	attempts, err := ledger.RecentAppeals(id, e.config.AppealWindow, now)
	if err != nil {
		return err
	}
	var denial string
	switch {
	case rep.Karma <= e.config.AppealMinKarma:
		denial = fmt.Sprintf("karma must exceed %d", e.config.AppealMinKarma)
	case attempts >= e.config.AppealMaxAttempts:
		denial = fmt.Sprintf(
			"at most %d attempts per %s",
			e.config.AppealMaxAttempts,
			e.config.AppealWindow,
		)
	}
	granted := denial == ""
	reason := "appeal granted"
	if !granted {
		reason = "appeal denied: " + denial
	}
	if err := ledger.RecordAppeal(id, granted, reason, e.config.AppealWindow, now); err != nil {
		return err
	}
	if !granted {
		return &AppealError{
			Member:   id,
			Reason:   denial,
			Karma:    rep.Karma,
			Attempts: attempts + 1,
		}
	}
	return nil
}
