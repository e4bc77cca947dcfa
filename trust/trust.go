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

// Package trust derives trust levels and privileges from member reputation.
// Nothing in this package is stored; every assessment is recomputed from the
// current reputation record.
package trust

import (
	"errors"
	"strings"
)

// ErrPermissionDenied is returned by components when a member's trust level
// does not grant the privilege an action needs
var ErrPermissionDenied = errors.New("permission denied")

type Level uint8

const (
	LevelUntrusted Level = iota
	LevelGuest
	LevelMember
	LevelTrusted
	LevelEnlightened
)

func (l Level) String() string {
	switch l {
	case LevelUntrusted:
		return "untrusted"
	case LevelGuest:
		return "guest"
	case LevelMember:
		return "member"
	case LevelTrusted:
		return "trusted"
	case LevelEnlightened:
		return "enlightened"
	default:
		return "unknown"
	}
}

// Privilege is a set of permitted actions
type Privilege uint16

const (
	PrivilegeSend Privilege = 1 << iota
	PrivilegeVote
	PrivilegeShareKnowledge
	PrivilegeJoinGroup
	PrivilegeHelp
	PrivilegePropose
	PrivilegeRelay
	PrivilegeAdmin

	PrivilegeNone Privilege = 0
)

var privilegeNames = []struct {
	p    Privilege
	name string
}{
	{PrivilegeSend, "send"},
	{PrivilegeVote, "vote"},
	{PrivilegeShareKnowledge, "share-knowledge"},
	{PrivilegeJoinGroup, "join-group-activity"},
	{PrivilegeHelp, "help"},
	{PrivilegePropose, "propose"},
	{PrivilegeRelay, "relay"},
	{PrivilegeAdmin, "admin"},
}

// Has reports whether every privilege in want is present
func (p Privilege) Has(want Privilege) bool {
	return p&want == want
}

// Contains reports whether p grants everything other grants
func (p Privilege) Contains(other Privilege) bool {
	return p.Has(other)
}

func (p Privilege) String() string {
	if p == PrivilegeNone {
		return "none"
	}
	var parts []string
	for _, pn := range privilegeNames {
		if p.Has(pn.p) {
			parts = append(parts, pn.name)
		}
	}
	return strings.Join(parts, ",")
}

// PrivilegesFor returns the privileges granted at a trust level. Each level
// grants everything the level below it does.
func PrivilegesFor(level Level) Privilege {
	switch level {
	case LevelGuest:
		return PrivilegeSend
	case LevelMember:
		return PrivilegeSend |
			PrivilegeVote |
			PrivilegeShareKnowledge |
			PrivilegeJoinGroup |
			PrivilegeHelp
	case LevelTrusted:
		return PrivilegesFor(LevelMember) | PrivilegePropose | PrivilegeRelay
	case LevelEnlightened:
		return PrivilegesFor(LevelTrusted) | PrivilegeAdmin
	default:
		return PrivilegeNone
	}
}

// Assessment is the derived trust state of one member
type Assessment struct {
	Score      float64   `json:"score"`
	Level      Level     `json:"level"`
	Privileges Privilege `json:"privileges"`
}

// Allows reports whether the assessment grants the privilege
func (a Assessment) Allows(p Privilege) bool {
	return a.Privileges.Has(p)
}
