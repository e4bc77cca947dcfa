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
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/blinklabs-io/sangha/consensus"
	"github.com/blinklabs-io/sangha/knowledge"
	"github.com/blinklabs-io/sangha/membership"
	"github.com/blinklabs-io/sangha/reputation"
)

const SnapshotVersion = 1

var ErrSnapshotVersion = errors.New("unsupported snapshot version")

// Snapshot is the complete serialisable state of a community. Arenas keep
// their generations, so handles issued before a snapshot stay valid after a
// restore.
type Snapshot struct {
	TakenAt   time.Time               `cbor:"1,keyasint" json:"takenAt"`
	Settings  Settings                `cbor:"2,keyasint" json:"settings"`
	Members   membership.State        `cbor:"3,keyasint" json:"members"`
	Knowledge knowledge.State         `cbor:"4,keyasint" json:"knowledge"`
	Proposals consensus.EngineState   `cbor:"5,keyasint" json:"proposals"`
	Audit     []reputation.AuditEntry `cbor:"6,keyasint" json:"audit"`
	Version   uint                    `cbor:"0,keyasint" json:"version"`
}

// Snapshot captures the current state. The returned value shares no memory
// with the community.
func (c *Community) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		Version:   SnapshotVersion,
		TakenAt:   c.config.Clock(),
		Settings:  c.config.Settings.clone(),
		Members:   c.registry.Export(),
		Knowledge: c.knowledge.Export(),
		Proposals: c.engine.Export(),
		Audit:     c.ledger.Audit(),
	}
}

// Restore rebuilds a community from a snapshot. The settings stored in the
// snapshot replace cfg.Settings so that trust evaluations after the restore
// match the ones before it.
func Restore(snap Snapshot, cfg Config) (*Community, error) {
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: %d", ErrSnapshotVersion, snap.Version)
	}
	cfg.Settings = snap.Settings
	cfg = cfg.withDefaults()
	c := newCommunity(cfg)
	registry, err := membership.Restore(snap.Members, c.registryConfig())
	if err != nil {
		return nil, fmt.Errorf("restore members: %w", err)
	}
	c.registry = registry
	c.wire()
	c.ledger.RestoreAudit(snap.Audit)
	store, err := knowledge.Restore(snap.Knowledge, c.knowledgeConfig())
	if err != nil {
		return nil, fmt.Errorf("restore knowledge: %w", err)
	}
	c.knowledge = store
	engine, err := consensus.Restore(snap.Proposals, c.engineConfig())
	if err != nil {
		return nil, fmt.Errorf("restore proposals: %w", err)
	}
	c.engine = engine
	c.protect()
	c.updateGauges()
	c.logger.Info(
		"restored community",
		"members", c.registry.Len(),
		"proposals", c.engine.Len(),
		"knowledge", c.knowledge.Len(),
		"taken_at", snap.TakenAt,
	)
	return c, nil
}

var snapshotEncMode = sync.OnceValues(func() (cbor.EncMode, error) {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	return opts.EncMode()
})

// Free text such as display names is stored as sent, so decoding accepts
// strings that are not valid UTF-8.
var snapshotDecMode = sync.OnceValues(func() (cbor.DecMode, error) {
	return cbor.DecOptions{UTF8: cbor.UTF8DecodeInvalid}.DecMode()
})

// EncodeSnapshot encodes a snapshot as deterministic CBOR. Equal snapshots
// always encode to the same bytes.
func EncodeSnapshot(snap Snapshot) ([]byte, error) {
	em, err := snapshotEncMode()
	if err != nil {
		return nil, err
	}
	return em.Marshal(snap)
}

func DecodeSnapshot(data []byte) (Snapshot, error) {
	dm, err := snapshotDecMode()
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := dm.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != SnapshotVersion {
		return Snapshot{}, fmt.Errorf("%w: %d", ErrSnapshotVersion, snap.Version)
	}
	return snap, nil
}
