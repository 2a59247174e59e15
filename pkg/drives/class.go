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
	"fmt"
	"strings"

	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/pathspec"
	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/shell"
	"github.com/rs/zerolog/log"
)

// Class is the kind of device a drive is.
type Class int

const (
	ClassPortable Class = iota
	ClassAndroidUnknown
	ClassAndroidPhone
	ClassAndroidTablet
	ClassIOSUnknown
	ClassIPhone
	ClassIPad
	ClassSDCard
	ClassExternalHDD
	ClassInternalHDD
	ClassCDROM
)

var classNames = [...]string{
	ClassPortable:       "portable",
	ClassAndroidUnknown: "android_unknown",
	ClassAndroidPhone:   "android_phone",
	ClassAndroidTablet:  "android_tablet",
	ClassIOSUnknown:     "ios_unknown",
	ClassIPhone:         "iphone",
	ClassIPad:           "ipad",
	ClassSDCard:         "sd_card",
	ClassExternalHDD:    "external_hdd",
	ClassInternalHDD:    "internal_hdd",
	ClassCDROM:          "cdrom",
}

// ClassNames lists every class name in declaration order.
func ClassNames() []string {
	return append([]string(nil), classNames[:]...)
}

func (c Class) String() string {
	if c < 0 || int(c) >= len(classNames) {
		return fmt.Sprintf("Class(%d)", int(c))
	}
	return classNames[c]
}

// ParseClass returns the class with the given name.
func ParseClass(name string) (Class, error) {
	for i, n := range classNames {
		if strings.EqualFold(n, name) {
			return Class(i), nil
		}
	}
	return 0, fmt.Errorf("unknown drive class %q", name)
}

func (c Class) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Class) UnmarshalText(text []byte) error {
	parsed, err := ParseClass(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// IsPortable reports whether the class is an MTP-class device.
func (c Class) IsPortable() bool {
	return c <= ClassIPad
}

func (c Class) IsAndroid() bool {
	return c == ClassAndroidUnknown || c == ClassAndroidPhone || c == ClassAndroidTablet
}

func (c Class) IsIOS() bool {
	return c == ClassIOSUnknown || c == ClassIPhone || c == ClassIPad
}

// matches reports whether the class counts for an ordinal selector class.
func (c Class) matches(sel pathspec.Class) bool {
	switch sel {
	case pathspec.AllDrives:
		return true
	case pathspec.AndroidDrives:
		return c.IsAndroid()
	case pathspec.IOSDrives:
		return c.IsIOS()
	case pathspec.PortableDrives:
		return c.IsPortable()
	default:
		return false
	}
}

// detectClass guesses the class of a portable device from its friendly name
// and the shape of its root: a single "Phone" or "Tablet" storage folder,
// with an "android" folder inside for Android devices.
func detectClass(sh shell.Shell, root shell.Item, friendlyName string) Class {
	name := strings.ToLower(friendlyName)
	isApple := strings.HasPrefix(name, "apple")
	isIPhone := strings.Contains(name, " iphone")

	var isPhone, isTablet, isAndroid bool
	if root.IsFolder() {
		children, err := sh.Children(root)
		if err != nil {
			log.Debug().Err(err).Str("device", root.Path()).Msg("could not inspect device root")
		} else if len(children) == 1 && children[0].IsFolder() {
			child := children[0]
			switch child.Name() {
			case "Phone":
				isPhone = true
			case "Tablet":
				isTablet = true
			}
			if _, err := sh.Lookup(child, "android"); err == nil {
				isAndroid = true
			}
		}
	}

	class := ClassPortable
	switch {
	case isPhone && isAndroid:
		class = ClassAndroidPhone
	case isPhone:
		class = ClassIPhone
	case isTablet && isAndroid:
		class = ClassAndroidTablet
	case isTablet:
		class = ClassIPad
	case isAndroid:
		class = ClassAndroidUnknown
	}
	if isApple {
		class = ClassIOSUnknown
		if isIPhone {
			class = ClassIPhone
		}
	}
	return class
}
