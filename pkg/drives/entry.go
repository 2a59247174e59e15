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
	"time"

	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/shell"
)

// Kind tells which backing store a drive or entry lives on. Entries of the
// two kinds are the only implementations of Folder and File.
type Kind int

const (
	KindLocal Kind = iota
	KindPortable
	kindCount
)

func (k Kind) String() string {
	if k == KindPortable {
		return "portable"
	}
	return "local"
}

// locator is the tagged reference every entry carries. Exactly one of host
// or item is meaningful, depending on kind.
type locator struct {
	item  shell.Item
	drive *PortableDrive
	host  string
	kind  Kind
}

// Drive is one addressable drive, either a *LocalDrive or a *PortableDrive.
type Drive interface {
	Kind() Kind
	Class() Class
	// RootName is the stable addressing string of the drive.
	RootName() string
	// UniqueID stays the same across reconnects of the same device.
	UniqueID() string
	FriendlyName() string
	IsConnected() bool
	IsAvailable() bool
	// Root returns the top folder of the drive.
	Root() Folder
	// TryParseFolder resolves a path relative to the drive root. It
	// returns nil when the folder does not exist.
	TryParseFolder(rest string) Folder
	ParseFolder(rest string) (Folder, error)
	TryParseFile(rest string) File
	ParseFile(rest string) (File, error)
	// CreateFolder creates every missing folder along rest.
	CreateFolder(rest string) (Folder, error)

	sealed()
}

// Entry is what files and folders have in common.
type Entry interface {
	Kind() Kind
	Name() string
	// FullPath is the canonical drive-qualified path. Parsing it again
	// yields an equivalent entry.
	FullPath() string
	Drive() Drive
	// Exists never fails; an unreachable drive counts as missing.
	Exists() bool

	locate() locator
}

// Folder is a folder on a drive.
type Folder interface {
	Entry
	// Parent returns nil for the root folder of a drive.
	Parent() Folder
	// Files lists the files of the folder. Portable folders list their
	// children once and return that snapshot until Invalidate.
	Files() ([]File, error)
	// Folders lists the child folders, with the same caching as Files.
	Folders() ([]Folder, error)
	// Invalidate drops a cached listing. It does nothing for local folders.
	Invalidate()
}

// File is a file on a drive.
type File interface {
	Entry
	Folder() Folder
	// Size is the size in bytes, -1 when unknown.
	Size() int64
	// LastWriteTime is the zero time when unknown.
	LastWriteTime() time.Time
}
