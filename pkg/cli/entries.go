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
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ZaparooProject/zaparoo-drives/pkg/drives"
	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/pathspec"
	"github.com/rodaine/table"
	"github.com/spf13/cobra"
)

func newLsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ls <folder>",
		Short: "List the contents of a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			folder, err := a.reg.ParseFolder(args[0])
			if err != nil {
				return err
			}
			folders, err := folder.Folders()
			if err != nil {
				return err
			}
			files, err := folder.Files()
			if err != nil {
				return err
			}

			tbl := table.New("NAME", "SIZE", "MODIFIED").WithWriter(cmd.OutOrStdout()).WithPadding(2)
			for _, f := range folders {
				tbl.AddRow(f.Name()+pathspec.Separator, "-", "-")
			}
			for _, f := range files {
				tbl.AddRow(f.Name(), formatSize(f.Size()), formatTime(f.LastWriteTime()))
			}
			tbl.Print()
			return nil
		},
	}
}

func formatSize(n int64) string {
	if n < 0 {
		return "?"
	}
	return strconv.FormatInt(n, 10)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func newTreeCmd(a *app) *cobra.Command {
	var depth int
	cmd := &cobra.Command{
		Use:   "tree <folder>",
		Short: "Print a folder and its sub-folders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := a.reg.ParseFolder(args[0])
			if err != nil {
				return err
			}
			return printTree(cmd, root, depth)
		},
	}
	cmd.Flags().IntVarP(&depth, "depth", "d", -1, "levels below the folder to show, -1 for all")
	return cmd
}

func printTree(cmd *cobra.Command, root drives.Folder, depth int) error {
	w := cmd.OutOrStdout()
	rootPath := root.FullPath()
	return drives.Walk(cmd.Context(), root, depth, func(folder drives.Folder, files []drives.File, err error) error {
		level := treeLevel(rootPath, folder.FullPath())
		indent := strings.Repeat("  ", level)
		label := rootPath
		if level > 0 {
			label = indent + folder.Name() + pathspec.Separator
		}
		if err != nil {
			writeLine(w, "%s [%s]", label, treeError(err))
		} else {
			writeLine(w, "%s", label)
		}
		for _, f := range files {
			writeLine(w, "%s  %s (%s)", indent, f.Name(), formatSize(f.Size()))
		}
		return nil
	})
}

func treeLevel(rootPath, p string) int {
	rel := strings.TrimPrefix(strings.TrimPrefix(p, rootPath), pathspec.Separator)
	if rel == "" {
		return 0
	}
	return strings.Count(rel, pathspec.Separator) + 1
}

func treeError(err error) string {
	switch {
	case errors.Is(err, drives.ErrAccessDenied):
		return "access denied"
	case errors.Is(err, drives.ErrNotFound):
		return "gone"
	default:
		return err.Error()
	}
}

func newMkdirCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <folder>",
		Short: "Create a folder and any missing parents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			folder, err := a.reg.CreateFolderPath(args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), folder.FullPath())
			return nil
		},
	}
}

func newRmCmd(a *app) *cobra.Command {
	var async bool
	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file or a folder with everything in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, err := resolveEntry(a.reg, args[0])
			if err != nil {
				return err
			}
			if async {
				return a.reg.DeleteAsync(entry)
			}
			if err := a.reg.DeleteSync(cmd.Context(), entry); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", entry.FullPath())
			return nil
		},
	}
	cmd.Flags().BoolVar(&async, "async", false, "return once the delete was started")
	return cmd
}

// resolveEntry returns the file at path, or the folder when no file is
// there.
func resolveEntry(reg *drives.Registry, path string) (drives.Entry, error) {
	if f := reg.TryParseFile(path); f != nil {
		return f, nil
	}
	folder, err := reg.ParseFolder(path)
	if err != nil {
		return nil, err
	}
	return folder, nil
}

func writeLine(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format+"\n", args...)
}
