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

// Package pathspec parses and formats drive-qualified paths such as
// `D:\photos\img.jpg`, `[a0]:/*/dcim/camera` and `{05ac-12a8-serial}:\dcim`.
//
// Both `/` and `\` are accepted on input. Canonical output always uses `\`.
// Nothing in this package touches a filesystem.
package pathspec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

const (
	// Separator is the canonical path separator.
	Separator = `\`
	// Terminator ends the drive selector part of a path.
	Terminator = `:\`
	// Wildcard as the first relative segment stands for the sole top-level
	// folder of a portable device.
	Wildcard = "*"
)

// ErrMalformedPath is returned when a path or selector breaks the grammar.
var ErrMalformedPath = errors.New("malformed drive path")

// Kind tells how a Selector names its drive.
type Kind int

const (
	// ByName matches the drive root name, e.g. `C:\`.
	ByName Kind = iota
	// ByUniqueID matches the drive unique id, e.g. `{05ac-12a8}:\`.
	ByUniqueID
	// ByOrdinal picks the N-th drive of a class, e.g. `[a0]:\`.
	ByOrdinal
)

func (k Kind) String() string {
	switch k {
	case ByName:
		return "name"
	case ByUniqueID:
		return "unique_id"
	case ByOrdinal:
		return "ordinal"
	default:
		return "unknown"
	}
}

// Class is the drive class an ordinal selector counts within.
type Class byte

const (
	AllDrives      Class = 'd'
	AndroidDrives  Class = 'a'
	IOSDrives      Class = 'i'
	PortableDrives Class = 'p'
)

// Selector is the parsed drive part of a path. It is never persisted and is
// resolved against the live drive list on every lookup.
type Selector struct {
	Name  string
	Kind  Kind
	Class Class
	Index int
}

// String returns the canonical drive prefix for the selector, terminator
// included.
func (s Selector) String() string {
	switch s.Kind {
	case ByUniqueID:
		return "{" + s.Name + "}" + Terminator
	case ByOrdinal:
		return "[" + string(rune(s.Class)) + strconv.Itoa(s.Index) + "]" + Terminator
	default:
		return s.Name + Terminator
	}
}

// Path is a split and parsed drive-qualified path.
type Path struct {
	// Drive is the normalized drive prefix as written, terminator included.
	Drive string
	// Rest is the normalized relative part without leading or trailing
	// separators.
	Rest     string
	Selector Selector
}

// Segments returns the non-empty segments of the relative part.
func (p Path) Segments() []string {
	return Segments(p.Rest)
}

// String returns the path in canonical form.
func (p Path) String() string {
	return Join(p.Drive, p.Segments()...)
}

// Normalize converts every `/` into the canonical separator.
func Normalize(p string) string {
	return strings.ReplaceAll(p, "/", Separator)
}

// Split cuts a path at the first drive terminator. The returned drive keeps
// the terminator, the rest has no leading or trailing separators.
func Split(p string) (drive, rest string, err error) {
	p = Normalize(p)
	idx := strings.Index(p, Terminator)
	if idx <= 0 {
		return "", "", fmt.Errorf("%w: %q has no drive terminator", ErrMalformedPath, p)
	}
	end := idx + len(Terminator)
	return p[:end], strings.Trim(p[end:], Separator), nil
}

// ParseSelector parses a drive prefix. The terminator is optional, so `C:\`,
// `C:` and `C` all name the same drive.
func ParseSelector(drive string) (Selector, error) {
	name := strings.TrimSuffix(Normalize(drive), Separator)
	name = strings.TrimSuffix(name, ":")
	if name == "" {
		return Selector{}, fmt.Errorf("%w: empty drive selector", ErrMalformedPath)
	}

	switch {
	case strings.HasPrefix(name, "{"):
		if len(name) < 3 || !strings.HasSuffix(name, "}") {
			return Selector{}, fmt.Errorf("%w: bad unique id selector %q", ErrMalformedPath, drive)
		}
		return Selector{Kind: ByUniqueID, Name: name[1 : len(name)-1]}, nil
	case strings.HasPrefix(name, "["):
		return parseOrdinal(name)
	default:
		return Selector{Kind: ByName, Name: name}, nil
	}
}

// "[a12]" -> AndroidDrives, 12
func parseOrdinal(name string) (Selector, error) {
	if len(name) < 4 || !strings.HasSuffix(name, "]") {
		return Selector{}, fmt.Errorf("%w: bad ordinal selector %q", ErrMalformedPath, name)
	}
	body := name[1 : len(name)-1]

	letter := body[0]
	if letter >= 'A' && letter <= 'Z' {
		letter += 'a' - 'A'
	}
	class := Class(letter)
	switch class {
	case AllDrives, AndroidDrives, IOSDrives, PortableDrives:
	default:
		return Selector{}, fmt.Errorf("%w: unknown drive class in %q", ErrMalformedPath, name)
	}

	digits := body[1:]
	for _, r := range digits {
		if r < '0' || r > '9' {
			return Selector{}, fmt.Errorf("%w: bad drive index in %q", ErrMalformedPath, name)
		}
	}
	idx, err := strconv.Atoi(digits)
	if err != nil {
		return Selector{}, fmt.Errorf("%w: bad drive index in %q: %w", ErrMalformedPath, name, err)
	}

	return Selector{Kind: ByOrdinal, Class: class, Index: idx}, nil
}

// Parse splits a path and parses its drive selector.
func Parse(p string) (Path, error) {
	drive, rest, err := Split(p)
	if err != nil {
		return Path{}, err
	}
	sel, err := ParseSelector(drive)
	if err != nil {
		return Path{}, err
	}
	return Path{Drive: drive, Rest: rest, Selector: sel}, nil
}

// Segments splits a relative path, dropping empty segments.
func Segments(rest string) []string {
	parts := strings.Split(Normalize(rest), Separator)
	segs := make([]string, 0, len(parts))
	for _, s := range parts {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// Join builds a canonical path from a drive prefix and relative segments. A
// drive prefix without its terminator gets one.
func Join(drive string, segs ...string) string {
	drive = Normalize(drive)
	if !strings.HasSuffix(drive, Terminator) {
		drive = strings.TrimSuffix(drive, ":") + Terminator
	}
	return drive + strings.Join(segs, Separator)
}

// CheckSegment rejects segments that would escape their folder when mapped
// onto a host directory.
func CheckSegment(seg string) error {
	switch seg {
	case "", ".", "..":
		return fmt.Errorf("%w: invalid path segment %q", ErrMalformedPath, seg)
	}
	if strings.ContainsAny(seg, `/\`) {
		return fmt.Errorf("%w: separator inside segment %q", ErrMalformedPath, seg)
	}
	return nil
}

// Fold returns the case-folded form used for case-insensitive matching of
// selectors and entry names.
func Fold(s string) string {
	// Casers keep state, so one is made per call.
	return cases.Fold().String(s)
}

// EqualFold reports whether a and b are equal under Unicode case folding.
func EqualFold(a, b string) bool {
	return Fold(a) == Fold(b)
}
