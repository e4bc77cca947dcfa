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
	"fmt"

	"github.com/blinklabs-io/sangha/arena"
)

// State is the serialisable form of a registry
type State struct {
	Members arena.State[Member] `json:"members"`
}

// Export returns a deep copy of the registry state
func (r *Registry) Export() State {
	st := r.members.Export()
	for i := range st.Slots {
		st.Slots[i].Value = st.Slots[i].Value.Clone()
	}
	return State{Members: st}
}

// Restore rebuilds a registry from exported state. The capacity recorded in
// the state wins over cfg.Capacity so that restored handles stay valid.
func Restore(st State, cfg Config) (*Registry, error) {
	members := st.Members
	members.Slots = append([]arena.SlotState[Member](nil), members.Slots...)
	for i := range members.Slots {
		members.Slots[i].Value = members.Slots[i].Value.Clone()
	}
	a, err := arena.Restore(members)
	if err != nil {
		return nil, err
	}
	cfg.Capacity = a.Cap()
	r := NewRegistry(cfg)
	r.members = a
	for id, m := range a.All() {
		if m.ID != id {
			return nil, fmt.Errorf(
				"%w: member %s stored under %s",
				arena.ErrInvalidState,
				m.ID,
				id,
			)
		}
		if _, dup := r.index[m.Identity]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, m.Identity)
		}
		r.index[m.Identity] = id
	}
	return r, nil
}
