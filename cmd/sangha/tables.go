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

package main

import (
	"fmt"

	"github.com/pterm/pterm"

	"github.com/blinklabs-io/sangha"
	"github.com/blinklabs-io/sangha/community"
)

const knowledgeListLimit = 20

func renderCommunity(c *community.Community) error {
	pterm.DefaultSection.Println("Members")
	members := pterm.TableData{
		{"Identity", "Name", "Level", "Score", "Karma", "Consciousness", "Violations"},
	}
	for _, m := range sangha.Summarize(c) {
		members = append(members, []string{
			m.Identity,
			m.DisplayName,
			m.Level,
			fmt.Sprintf("%.3f", m.Score),
			fmt.Sprintf("%d", m.Karma),
			m.Consciousness,
			fmt.Sprintf("%d", m.Violations),
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(members).Render(); err != nil {
		return err
	}
	pterm.Info.Printfln(
		"Collective consciousness: %s",
		c.CollectiveConsciousness(),
	)

	pterm.DefaultSection.Println("Proposals")
	proposals := pterm.TableData{
		{"ID", "Proposer", "State", "Ballots", "Score", "Text"},
	}
	for _, p := range c.Proposals() {
		proposals = append(proposals, []string{
			p.ID.String(),
			string(p.ProposerIdentity),
			p.State.String(),
			fmt.Sprintf("%d", len(p.Ballots)),
			fmt.Sprintf("%.3f", p.Score),
			p.Text,
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(proposals).Render(); err != nil {
		return err
	}

	pterm.DefaultSection.Println("Knowledge")
	entries := pterm.TableData{
		{"ID", "Author", "Upvotes", "Text"},
	}
	for _, e := range c.ListKnowledge(knowledgeListLimit) {
		entries = append(entries, []string{
			e.ID.String(),
			string(e.AuthorIdentity),
			fmt.Sprintf("%d", e.Upvotes),
			e.Text,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(entries).Render()
}
