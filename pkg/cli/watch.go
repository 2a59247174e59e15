// Zaparoo Drives
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo Drives.
//
// Zaparoo Drives is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo Drives is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo Drives.  If not, see <http://www.gnu.org/licenses/>.

package cli

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/settle"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newWatchCmd(a *app) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow devices being attached and detached until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.watch(cmd.Context(), cmd.OutOrStdout(), interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "how often the drive list is compared")
	return cmd
}

// watch feeds the monitors to the registry and prints every drive whose
// state changed.
func (a *app) watch(ctx context.Context, w io.Writer, interval time.Duration) error {
	monitors := a.deps.monitors(a.cfg)
	if len(monitors) == 0 {
		return errors.New("no device monitors enabled")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.reg.Watch(gctx, monitors...)
	})
	g.Go(func() error {
		seen := make(map[string]string)
		for {
			a.printChanges(w, seen)
			if err := settle.Sleep(gctx, a.deps.Clock, interval); err != nil {
				return nil
			}
		}
	})
	return g.Wait()
}

func (a *app) printChanges(w io.Writer, seen map[string]string) {
	rows := driveRows(a.reg.Drives())
	current := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		current[r.Name] = struct{}{}
		state := driveState(r)
		if seen[r.Name] == state {
			continue
		}
		seen[r.Name] = state
		writeLine(w, "%s %s {%s} %s", state, r.Name, r.UniqueID, r.Label)
	}
	for name := range seen {
		if _, ok := current[name]; !ok {
			delete(seen, name)
			writeLine(w, "removed %s", name)
		}
	}
}
