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

package membership

import (
	"encoding/hex"
	"time"
	"unicode/utf8"

	"github.com/fxamacker/cbor/v2"

	"github.com/blinklabs-io/sangha/arena"
	"github.com/blinklabs-io/sangha/reputation"
)

// Identity is the opaque device identity announced by a member. It is
// compared byte for byte.
type Identity string

// String returns the identity as text when it is printable and as hex
// otherwise
func (i Identity) String() string {
	if utf8.ValidString(string(i)) {
		return string(i)
	}
	return hex.EncodeToString([]byte(i))
}

// MarshalCBOR encodes the identity as a byte string. Identities are raw
// device bytes and need not be valid UTF-8.
func (i Identity) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]byte(i))
}

func (i *Identity) UnmarshalCBOR(data []byte) error {
	var raw []byte
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return err
	}
	*i = Identity(raw)
	return nil
}

// MemberID addresses a member inside one registry. IDs of removed members
// never resolve again.
type MemberID = arena.Handle

type Member struct {
	JoinedAt    time.Time             `json:"joinedAt"`
	LastSeen    time.Time             `json:"lastSeen"`
	Identity    Identity              `json:"identity"`
	DisplayName string                `json:"displayName"`
	Reputation  reputation.Reputation `json:"reputation"`
	ID          MemberID              `json:"id"`
}

// Clone returns a deep copy of the member
func (m Member) Clone() Member {
	ret := m
	ret.Reputation = m.Reputation.Clone()
	return ret
}
