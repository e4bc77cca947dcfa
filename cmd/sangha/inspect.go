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

	"github.com/blinklabs-io/sangha/community"
	"github.com/blinklabs-io/sangha/internal/config"
	"github.com/blinklabs-io/sangha/store"
)

// inspect shows the latest stored snapshot
func inspect(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	s, err := openStore(cfg, logger, nil)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.StoreBackend, err)
	}
	defer s.Close()
	rec, err := s.Latest(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			pterm.Warning.Println("no snapshot stored")
			return nil
		}
		return err
	}
	snap, err := community.DecodeSnapshot(rec.Data)
	if err != nil {
		return err
	}
	c, err := community.Restore(snap, community.Config{Logger: logger})
	if err != nil {
		return err
	}
	pterm.Info.Printfln(
		"Snapshot taken at %s (%d bytes, %d audit entries)",
		rec.TakenAt.Format("2006-01-02 15:04:05 MST"),
		len(rec.Data),
		len(snap.Audit),
	)
	return renderCommunity(c)
}

func inspectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the latest stored snapshot",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.FromContext(cmd.Context())
			if cfg == nil {
				slog.Error("no config found in context")
				os.Exit(1)
			}
			if err := inspect(cmd.Context(), cfg, commonRun()); err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
		},
	}
	return cmd
}
