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

package sqlite

import "time"

type Snapshot struct {
	TakenAt time.Time `gorm:"index"`
	Data    []byte
	ID      uint `gorm:"primarykey"`
	Size    int
}

func (Snapshot) TableName() string {
	return "snapshot"
}

// MemberSummary holds the member view of one snapshot
type MemberSummary struct {
	Identity      string `gorm:"index"`
	DisplayName   string
	Level         string
	Consciousness string
	ID            uint `gorm:"primarykey"`
	SnapshotID    uint `gorm:"index"`
	Karma         int64
	Score         float64
	Violations    uint32
}

func (MemberSummary) TableName() string {
	return "member_summary"
}

var migrateModels = []any{
	&Snapshot{},
	&MemberSummary{},
}
