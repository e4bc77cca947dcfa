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
	"io"

	"gopkg.in/yaml.v3"

	"github.com/blinklabs-io/sangha/arena"
	"github.com/blinklabs-io/sangha/consensus"
	"github.com/blinklabs-io/sangha/membership"
)

// ErrMalformedStream is returned by MessageDecoder when the stream itself
// cannot be read. No further messages can be decoded after it.
var ErrMalformedStream = errors.New("malformed message stream")

// Envelope is the flat wire form of a message, as read from YAML message
// streams. Only the fields used by Kind are considered.
type Envelope struct {
	Kind        MessageKind `yaml:"kind"                  json:"kind"`
	Identity    string      `yaml:"identity"              json:"identity"`
	DisplayName string      `yaml:"displayName,omitempty" json:"displayName,omitempty"`
	Text        string      `yaml:"text,omitempty"        json:"text,omitempty"`
	Reason      string      `yaml:"reason,omitempty"      json:"reason,omitempty"`
	Target      string      `yaml:"target,omitempty"      json:"target,omitempty"`
	Proposal    string      `yaml:"proposal,omitempty"    json:"proposal,omitempty"`
	Entry       string      `yaml:"entry,omitempty"       json:"entry,omitempty"`
	Choice      string      `yaml:"choice,omitempty"      json:"choice,omitempty"`
	Delta       int64       `yaml:"delta,omitempty"       json:"delta,omitempty"`
	Score       float64     `yaml:"score,omitempty"       json:"score,omitempty"`
}

// Message converts the envelope into the message it describes
func (e Envelope) Message() (Message, error) {
	identity := membership.Identity(e.Identity)
	switch e.Kind {
	case KindAnnounce:
		return Announce{Identity: identity, DisplayName: e.DisplayName}, nil
	case KindHeartbeat:
		return Heartbeat{Identity: identity}, nil
	case KindKarmaUpdate:
		return KarmaUpdate{Identity: identity, Delta: e.Delta, Reason: e.Reason}, nil
	case KindShareKnowledge:
		return ShareKnowledge{Identity: identity, Text: e.Text}, nil
	case KindPropose:
		return Propose{Identity: identity, Text: e.Text}, nil
	case KindVote:
		pid, err := arena.ParseHandle(e.Proposal)
		if err != nil {
			return nil, fmt.Errorf("vote proposal: %w", err)
		}
		choice, err := consensus.ParseChoice(e.Choice)
		if err != nil {
			return nil, err
		}
		return Vote{Identity: identity, Proposal: pid, Choice: choice}, nil
	case KindHelpRequest:
		return HelpRequest{Identity: identity, Text: e.Text}, nil
	case KindHelpOffer:
		return HelpOffer{Identity: identity, Target: membership.Identity(e.Target)}, nil
	case KindUpvote:
		entry, err := arena.ParseHandle(e.Entry)
		if err != nil {
			return nil, fmt.Errorf("upvote entry: %w", err)
		}
		return Upvote{Identity: identity, Entry: entry}, nil
	case KindAttest:
		return Attest{
			Identity: identity,
			Target:   membership.Identity(e.Target),
			Score:    e.Score,
		}, nil
	case KindAppeal:
		return Appeal{Identity: identity}, nil
	case KindLeave:
		return Leave{Identity: identity}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
}

// MessageDecoder reads a stream of YAML documents, one envelope each
type MessageDecoder struct {
	dec *yaml.Decoder
}

func NewMessageDecoder(r io.Reader) *MessageDecoder {
	return &MessageDecoder{dec: yaml.NewDecoder(r)}
}

// Next returns the next message, or io.EOF at the end of the stream
func (d *MessageDecoder) Next() (Message, error) {
	var env Envelope
	if err := d.dec.Decode(&env); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: %w", ErrMalformedStream, err)
	}
	return env.Message()
}

// DecodeMessages reads every message in a YAML stream
func DecodeMessages(r io.Reader) ([]Message, error) {
	dec := NewMessageDecoder(r)
	var ret []Message
	for {
		msg, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return ret, nil
		}
		if err != nil {
			return ret, err
		}
		ret = append(ret, msg)
	}
}
