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
	"errors"
	"fmt"

	"github.com/blinklabs-io/sangha/consensus"
	"github.com/blinklabs-io/sangha/knowledge"
	"github.com/blinklabs-io/sangha/membership"
	"github.com/blinklabs-io/sangha/trust"
)

var (
	ErrTooLong      = errors.New("text too long")
	ErrEmptyText    = errors.New("empty text")
	ErrSelfTarget   = errors.New("member cannot target itself")
	ErrInvalidScore = errors.New("invalid attestation score")
	ErrUnknownKind  = errors.New("unknown message kind")
)

// Reason is the code carried by rejection records
type Reason string

const (
	ReasonUnknownMember    Reason = "unknown-member"
	ReasonPermissionDenied Reason = "permission-denied"
	ReasonCapacityExceeded Reason = "capacity-exceeded"
	ReasonAlreadyVoted     Reason = "already-voted"
	ReasonProposalClosed   Reason = "proposal-closed"
	ReasonUnknownProposal  Reason = "unknown-proposal"
	ReasonTooLong          Reason = "too-long"
	ReasonAppealDenied     Reason = "appeal-denied"
	ReasonUnknownEntry     Reason = "unknown-entry"
	ReasonEmptyText        Reason = "empty-text"
	ReasonInvalid          Reason = "invalid"
)

var reasonErrors = []struct {
	reason Reason
	errs   []error
}{
	{ReasonUnknownMember, []error{membership.ErrUnknownMember}},
	{ReasonPermissionDenied, []error{trust.ErrPermissionDenied}},
	{ReasonCapacityExceeded, []error{membership.ErrCapacityExceeded, consensus.ErrCapacityExceeded}},
	{ReasonAlreadyVoted, []error{consensus.ErrAlreadyVoted}},
	{ReasonProposalClosed, []error{consensus.ErrProposalClosed}},
	{ReasonUnknownProposal, []error{consensus.ErrUnknownProposal}},
	{ReasonTooLong, []error{ErrTooLong, membership.ErrTooLong, knowledge.ErrTooLong, consensus.ErrTooLong}},
	{ReasonAppealDenied, []error{trust.ErrAppealDenied}},
	{ReasonUnknownEntry, []error{knowledge.ErrUnknownEntry}},
	{ReasonEmptyText, []error{ErrEmptyText, knowledge.ErrEmptyText, consensus.ErrEmptyText}},
}

// ReasonOf maps an error from any component to a rejection reason. Errors
// that match no known condition map to ReasonInvalid, and nil maps to "".
func ReasonOf(err error) Reason {
	if err == nil {
		return ""
	}
	for _, re := range reasonErrors {
		for _, target := range re.errs {
			if errors.Is(err, target) {
				return re.reason
			}
		}
	}
	return ReasonInvalid
}

// RejectionError is returned by Handle when a message is rejected
type RejectionError struct {
	Err    error
	Sender membership.Identity
	Kind   MessageKind
	Reason Reason
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf(
		"%s from %s rejected (%s): %s",
		e.Kind,
		e.Sender,
		e.Reason,
		e.Err,
	)
}

func (e *RejectionError) Unwrap() error {
	return e.Err
}
