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

package drives

import (
	"context"
	"errors"
	"fmt"
)

// ErrSkipFolder returned from a WalkFunc skips the sub-folders of the
// folder just visited.
var ErrSkipFolder = errors.New("skip this folder")

// WalkFunc is called exactly once per visited folder with its files. When
// listing the folder failed, err says why and files holds what could be
// listed, if anything. Returning nil then moves on to the next sibling.
type WalkFunc func(folder Folder, files []File, err error) error

// Walk visits root and its sub-folders depth first, going at most depth
// levels below root. A negative depth means no limit. An error returned by
// fn other than ErrSkipFolder stops the walk.
func Walk(ctx context.Context, root Folder, depth int, fn WalkFunc) error {
	return walk(ctx, root, depth, fn)
}

func walk(ctx context.Context, folder Folder, depth int, fn WalkFunc) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("walk interrupted: %w", err)
	}

	files, err := folder.Files()
	var children []Folder
	if err == nil && depth != 0 {
		children, err = folder.Folders()
	}
	if fnErr := fn(folder, files, err); fnErr != nil {
		return skipped(fnErr)
	}
	if err != nil {
		return nil
	}
	for _, child := range children {
		if err := walk(ctx, child, depth-1, fn); err != nil {
			return err
		}
	}
	return nil
}

func skipped(err error) error {
	if errors.Is(err, ErrSkipFolder) {
		return nil
	}
	return err
}
