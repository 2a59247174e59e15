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

// Package shell defines the item tree primitive portable devices are driven
// through. Implementations wrap whatever the host offers for MTP-class
// devices. Copies and moves are fire-and-forget: a nil error only means the
// request was accepted.
package shell

import (
	"context"
	"errors"
	"strconv"
)

// ErrNotFound is returned when a named child or path does not exist.
var ErrNotFound = errors.New("shell item not found")

// ErrNotSupported is returned for verbs or properties an implementation
// does not provide.
var ErrNotSupported = errors.New("not supported by shell")

// Extended property names.
const (
	PropertySize  = "size"
	PropertyWrite = "write"
)

// Detail columns of a folder listing.
const (
	DetailName     = 0
	DetailSize     = 2
	DetailModified = 3
)

// FormatSize renders a size the way the DetailSize column shows it, e.g.
// "3.34 KB". Sizes read back from that column are only this precise.
func FormatSize(size int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case size >= gb:
		return strconv.FormatFloat(float64(size)/gb, 'f', 2, 64) + " GB"
	case size >= mb:
		return strconv.FormatFloat(float64(size)/mb, 'f', 2, 64) + " MB"
	case size >= kb:
		return strconv.FormatFloat(float64(size)/kb, 'f', 2, 64) + " KB"
	default:
		return strconv.FormatInt(size, 10) + " bytes"
	}
}

// VerbDelete is the native delete verb. Some hosts confirm it with a dialog
// that cannot be suppressed.
const VerbDelete = "delete"

// AllFiles is the filter spec matching every file of a folder.
const AllFiles = "*.*"

// Item is one node of a device or local tree.
type Item interface {
	Name() string
	// Path is the parsing path of the item, unique within its shell.
	Path() string
	IsFolder() bool
	IsLink() bool
}

// Device is one portable device visible to the shell.
type Device struct {
	Root Item
	// Name is the friendly name, e.g. "Galaxy S21".
	Name string
	// Path is the root parsing path, stable while the device stays
	// connected.
	Path string
	// VidPid is the USB vendor/product pairing when the shell knows it.
	VidPid string
}

// Shell is the item tree primitive.
type Shell interface {
	// Devices lists the portable devices currently visible.
	Devices(ctx context.Context) ([]Device, error)
	// Children lists the immediate children of a folder.
	Children(folder Item) ([]Item, error)
	// Lookup finds a child by name, ignoring case.
	Lookup(folder Item, name string) (Item, error)
	// Parent returns the folder holding item.
	Parent(item Item) (Item, error)
	// ExtendedProperty returns PropertySize as int64 and PropertyWrite as
	// time.Time.
	ExtendedProperty(item Item, name string) (any, error)
	// DetailsOf returns a detail column as displayed, e.g. "3.34 KB".
	DetailsOf(item Item, column int) (string, error)
	// NewFolder creates a child folder. It succeeds if the folder exists.
	NewFolder(parent Item, name string) error
	// LocalItem wraps a host filesystem path as an item.
	LocalItem(path string) (Item, error)
	// Filter returns the files of folder matching spec, either AllFiles or
	// names joined with ";". Hosts that ignore filtering return every file.
	Filter(folder Item, spec string) ([]Item, error)
	// CopyHere starts copying items into dest.
	CopyHere(dest Item, items ...Item) error
	// MoveHere starts moving items into dest.
	MoveHere(dest Item, items ...Item) error
	// InvokeVerb runs a native verb such as VerbDelete on item.
	InvokeVerb(item Item, verb string) error
}
