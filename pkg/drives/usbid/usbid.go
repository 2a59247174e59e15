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

// Package usbid extracts USB device identity from the strings device
// monitors and shells hand out. All returned values are lower case.
package usbid

import (
	"strings"
)

// wpdInterfaceGUID is GUID_DEVINTERFACE_WPD, appended to portable device
// root paths.
const wpdInterfaceGUID = "6ac27878-a6fa-4155-ba85-f98f491d4f33"

// minUniqueIDLen is the length a unique id taken from a root path must
// exceed to be trusted.
const minUniqueIDLen = 4

// Identity is the transient vendor/product pairing of a USB device plus the
// serial-like id it reported.
type Identity struct {
	VidPid   string
	UniqueID string
}

// FromPNPDeviceID parses a hub device id such as
// `USB\VID_05AC&PID_12A8\4ACD729ACDCE2322`.
//
// Composite interfaces (`VID_x&PID_y&MI_00`) are rejected, they belong to
// the extra removable drive some devices expose for drivers.
func FromPNPDeviceID(deviceID string) (Identity, bool) {
	deviceID = strings.ToLower(deviceID)
	valid := strings.HasPrefix(deviceID, `usb\`) &&
		strings.Contains(deviceID, "vid") &&
		strings.Contains(deviceID, "pid") &&
		strings.Count(deviceID, `\`) >= 2
	if !valid {
		return Identity{}, false
	}

	deviceID = deviceID[len(`usb\`):]
	idx := strings.Index(deviceID, `\`)
	id := Identity{
		VidPid:   deviceID[:idx],
		UniqueID: strings.TrimSpace(deviceID[idx+1:]),
	}
	if strings.Count(id.VidPid, "&") > 1 {
		return Identity{}, false
	}
	return id, true
}

// FromDependent parses a controller device reference such as
// `\\HOST\root\cimv2:Win32_PnPEntity.DeviceID="USB\\VID_05AC&PID_12A8\\4ACD"`.
func FromDependent(dependent string) (Identity, bool) {
	dependent = strings.ToLower(dependent)
	const marker = `deviceid="`
	if idx := strings.Index(dependent, marker); idx >= 0 {
		dependent = dependent[idx+len(marker):]
	}
	for strings.Contains(dependent, `\\`) {
		dependent = strings.ReplaceAll(dependent, `\\`, `\`)
	}
	dependent = strings.TrimRight(dependent, `\"`)
	return FromPNPDeviceID(dependent)
}

// VidPidFromPath finds the `vid_xxxx&pid_yyyy` part of a portable device
// root path.
func VidPidFromPath(p string) (string, bool) {
	p = strings.ToLower(p)
	vid := strings.Index(p, "vid_")
	if vid < 0 {
		return "", false
	}
	pid := strings.Index(p[vid:], "pid_")
	if pid < 0 {
		return "", false
	}
	end := vid + pid + len("pid_")
	for end < len(p) && isHexDigit(p[end]) {
		end++
	}
	return p[vid:end], true
}

// UniqueIDFromRootPath derives a unique id from a portable device root path
// for devices whose vendor/product pairing cannot be matched to a serial.
// It returns an empty string when nothing trustworthy is found.
func UniqueIDFromRootPath(root string) string {
	root = strings.ToLower(root)
	vid := strings.Index(root, "vid_")
	pid := strings.Index(root, "pid_")
	activeSync := strings.Index(root, "activesync")
	umb := strings.Index(root, "umb")

	if idx := strings.Index(root, wpdInterfaceGUID); idx > 0 {
		root = root[:idx-1]
	}

	var result string
	switch {
	case vid > 0 || pid > 0:
		start := max(vid, pid) + len("pid_")
		if start > len(root) {
			return ""
		}
		root = root[start:]
		// the rest of the product id comes first
		_, skip := hexRun(root)
		result = firstHexRun(root[skip:])
	case activeSync > 0:
		// Windows CE devices
		start := max(activeSync+len("activesync"), umb+len("umb"))
		if start > len(root) {
			return ""
		}
		root = root[start:]
		end := len(root)
		if i := strings.Index(root, "windows"); i >= 0 {
			end = i
		}
		if i := strings.Index(root, "mobile"); i >= 0 && i < end {
			end = i
		}
		root = root[:end]
		if i := strings.LastIndexAny(root, "&#"); i >= 0 {
			result = root[i+1:]
		}
	default:
		result = firstHexRun(root)
	}

	if len(result) > minUniqueIDLen {
		return result
	}
	return ""
}

// FormatPNPDeviceID builds the hub device id form understood by
// FromPNPDeviceID.
func FormatPNPDeviceID(vid, pid, serial string) string {
	return `USB\VID_` + strings.ToUpper(vid) + "&PID_" + strings.ToUpper(pid) + `\` + serial
}

// firstHexRun returns the first run of hex digits in s.
func firstHexRun(s string) string {
	start, end := hexRun(s)
	return s[start:end]
}

// hexRun returns the bounds of the first run of hex digits in s, or an
// empty range at the end of s.
func hexRun(s string) (start, end int) {
	for start < len(s) && !isHexDigit(s[start]) {
		start++
	}
	end = start
	for end < len(s) && isHexDigit(s[end]) {
		end++
	}
	return start, end
}

func isHexDigit(ch byte) bool {
	return (ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')
}
