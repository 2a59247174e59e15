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
	"fmt"

	"github.com/ZaparooProject/zaparoo-drives/pkg/drives"
	"github.com/spf13/cobra"
)

func newCpCmd(a *app) *cobra.Command {
	var async bool
	cmd := &cobra.Command{
		Use:   "cp <file> <dest-folder>",
		Short: "Copy a file into a folder, replacing a file of the same name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := a.reg.ParseFile(args[0])
			if err != nil {
				return err
			}
			dest, err := a.reg.ParseFolder(args[1])
			if err != nil {
				return err
			}
			if async {
				if err := a.reg.CopyAsync(src, dest); err != nil {
					return err
				}
				writeLine(cmd.OutOrStdout(), "copying %s to %s", src.FullPath(), dest.FullPath())
				return nil
			}
			out, err := a.reg.CopySync(cmd.Context(), src, dest)
			if err != nil {
				return err
			}
			writeLine(cmd.OutOrStdout(), "%s", out.FullPath())
			return nil
		},
	}
	cmd.Flags().BoolVar(&async, "async", false, "return once the copy was started")
	return cmd
}

func newBulkCpCmd(a *app) *cobra.Command {
	var async, detached bool
	cmd := &cobra.Command{
		Use:   "bulk-cp <dest-folder> <file-or-folder>...",
		Short: "Copy many files into one folder, creating it",
		Long: `Copy files into one destination folder. A folder argument stands for
the files directly inside it. Files sharing a source folder are handed to
the device in a single request where possible.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := collectFiles(a.reg, args[1:])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			progress := func(p drives.Progress) {
				writeLine(w, "[%d/%d] %s (%s)", p.Index+1, p.Total, p.Name, formatSize(p.Size))
			}

			switch {
			case detached:
				if err := a.reg.BulkCopyDetached(cmd.Context(), files, args[0]); err != nil {
					return err
				}
				writeLine(w, "copying %d files to %s", len(files), args[0])
				return nil
			case async:
				t, err := a.reg.BulkCopyAsync(cmd.Context(), files, args[0], progress)
				if err != nil {
					return err
				}
				writeLine(w, "issued %d files", len(files))
				return t.Wait()
			default:
				return a.reg.BulkCopySync(cmd.Context(), files, args[0], progress)
			}
		},
	}
	cmd.Flags().BoolVar(&async, "async", false, "issue every copy before verifying any")
	cmd.Flags().BoolVar(&detached, "detached", false, "return without waiting for the copies")
	cmd.MarkFlagsMutuallyExclusive("async", "detached")
	return cmd
}

func collectFiles(reg *drives.Registry, paths []string) ([]drives.File, error) {
	var files []drives.File
	for _, p := range paths {
		entry, err := resolveEntry(reg, p)
		if err != nil {
			return nil, err
		}
		switch e := entry.(type) {
		case drives.File:
			files = append(files, e)
		case drives.Folder:
			inside, err := e.Files()
			if err != nil {
				return nil, fmt.Errorf("failed to list %s: %w", e.FullPath(), err)
			}
			files = append(files, inside...)
		}
	}
	return files, nil
}
