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

// Package monitor provides device change feeds. Events carry a loose
// property map; consumers must tolerate missing or malformed properties.
package monitor

import (
	"fmt"
	"maps"
	"slices"
)

// Property keys found in event property maps.
const (
	// PropPNPDeviceID holds a hub style id, `USB\VID_xxxx&PID_yyyy\serial`.
	PropPNPDeviceID = "PNPDeviceID"
	// PropDependent holds a controller style device reference.
	PropDependent = "Dependent"
	// PropMountPath holds the directory a device appeared or vanished at.
	PropMountPath = "MountPath"
	// PropSysPath holds the sysfs directory of a USB device.
	PropSysPath = "SysPath"
)

// EventType tells whether a device came or went.
type EventType int

const (
	DeviceAdded EventType = iota
	DeviceRemoved
)

func (t EventType) String() string {
	switch t {
	case DeviceAdded:
		return "added"
	case DeviceRemoved:
		return "removed"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is one device change notification.
type Event struct {
	Properties map[string]string
	Type       EventType
}

// Monitor is a device change feed. Events is closed after Stop returns.
type Monitor interface {
	Events() <-chan Event
	Start() error
	Stop()
}

// eventBuffer is the capacity of every event channel.
const eventBuffer = 10

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
