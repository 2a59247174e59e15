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
	"errors"
	"fmt"
	"io/fs"

	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/pathspec"
	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/settle"
	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/shell"
)

var (
	// ErrNotFound means a selector or path does not resolve to a live
	// drive, folder or file.
	ErrNotFound = errors.New("not found")
	// ErrAccessDenied means enumerating a folder hit a permission fault.
	ErrAccessDenied = errors.New("access denied")
	// ErrTransferIncomplete means a copy or move was not observed to
	// finish within its retry budget.
	ErrTransferIncomplete = settle.ErrIncomplete
	// ErrDeviceUnreachable means a copy or delete targeted a portable
	// drive that is not connected.
	ErrDeviceUnreachable = errors.New("device unreachable")
	// ErrMalformedPath means a path breaks the grammar or a `*` segment
	// cannot be resolved.
	ErrMalformedPath = pathspec.ErrMalformedPath

	// ErrDuplicateName means two files of one bulk copy share a name and
	// would land on the same destination file.
	ErrDuplicateName = errors.New("duplicate file name in batch")

	ErrLocalEnumeration    = errors.New("failed to enumerate local drives")
	ErrPortableEnumeration = errors.New("failed to enumerate portable drives")
)

// Stage names the step of a transfer that failed.
type Stage string

const (
	StageResolve Stage = "resolve"
	StageIssue   Stage = "issue"
	StageVerify  Stage = "verify"
	StageDelete  Stage = "delete"
	StageMove    Stage = "move"
)

// TransferError reports which file and which stage of a copy or delete
// failed.
type TransferError struct {
	Err   error
	Path  string
	Stage Stage
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Path, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

func transferErr(stage Stage, path string, err error) error {
	var te *TransferError
	if errors.As(err, &te) {
		return err
	}
	return &TransferError{Path: path, Stage: stage, Err: err}
}

// classify maps collaborator errors onto the package error kinds.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrAccessDenied):
		return err
	case errors.Is(err, shell.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %w", ErrAccessDenied, err)
	default:
		return err
	}
}
