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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/blinklabs-io/sangha"
	"github.com/blinklabs-io/sangha/community"
	"github.com/blinklabs-io/sangha/internal/config"
	"github.com/blinklabs-io/sangha/store"
)

var replayFlags = struct {
	save     bool
	finalize bool
}{}

// replay applies a YAML message script and shows the resulting community.
// With --save the script is applied on top of the latest stored snapshot and
// the result is stored.
func replay(ctx context.Context, cfg *config.Config, logger *slog.Logger, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	msgs, err := community.DecodeMessages(f)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	opts := []sangha.ConfigOptionFunc{
		sangha.WithLogger(logger),
		sangha.WithSettings(cfg.Community),
		sangha.WithFinalizePolicy(cfg.FinalizePolicy()),
	}
	var s store.Store
	if replayFlags.save {
		s, err = openStore(cfg, logger, nil)
		if err != nil {
			return fmt.Errorf("failed to open %s store: %w", cfg.StoreBackend, err)
		}
		opts = append(opts, sangha.WithStore(s))
	}
	n, err := sangha.New(sangha.NewConfig(opts...))
	if err != nil {
		if s != nil {
			_ = s.Close()
		}
		return err
	}
	c := n.Community()

	results := pterm.TableData{{"#", "Kind", "Sender", "Result", "Outbound"}}
	for i, msg := range msgs {
		out, err := c.Handle(ctx, msg)
		result := "ok"
		if err != nil {
			result = string(community.ReasonOf(err))
		}
		results = append(results, []string{
			fmt.Sprintf("%d", i+1),
			string(msg.Kind()),
			string(msg.Sender()),
			result,
			fmt.Sprintf("%d", len(out)),
		})
	}
	if replayFlags.finalize {
		for _, p := range c.Proposals() {
			if _, _, err := c.Finalize(ctx, p.ID); err != nil {
				return errors.Join(err, n.Stop())
			}
		}
	}

	pterm.DefaultSection.Println("Messages")
	if err := pterm.DefaultTable.WithHasHeader().WithData(results).Render(); err != nil {
		return errors.Join(err, n.Stop())
	}
	if err := renderCommunity(c); err != nil {
		return errors.Join(err, n.Stop())
	}
	// Stopping saves the final snapshot when a store is configured
	return n.Stop()
}

func replayCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <messages.yaml>",
		Short: "Apply a YAML message script and show the resulting community",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.FromContext(cmd.Context())
			if cfg == nil {
				slog.Error("no config found in context")
				os.Exit(1)
			}
			logger := commonRun()
			if err := replay(cmd.Context(), cfg, logger, args[0]); err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
		},
	}
	cmd.Flags().BoolVar(&replayFlags.save, "save", false, "apply on top of the stored snapshot and store the result")
	cmd.Flags().BoolVar(&replayFlags.finalize, "finalize", false, "finalize every open proposal after the script")
	return cmd
}
