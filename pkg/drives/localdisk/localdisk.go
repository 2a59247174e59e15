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

// Package localdisk lists the local volumes a registry exposes as local
// drives.
package localdisk

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/disk"
)

// Class names, matching the drive class names of the registry.
const (
	ClassInternal = "internal_hdd"
	ClassExternal = "external_hdd"
	ClassSDCard   = "sd_card"
	ClassCDROM    = "cdrom"
)

// Volume is one local volume. Name is the drive name used before the
// drive terminator, Root the host directory it maps to.
type Volume struct {
	Name   string
	Root   string
	Label  string
	Class  string
	FsType string
}

// Source lists local volumes.
type Source interface {
	Volumes(ctx context.Context) ([]Volume, error)
}

// PartitionFunc lists mounted partitions, like disk.PartitionsWithContext.
type PartitionFunc func(ctx context.Context, all bool) ([]disk.PartitionStat, error)

// Enumerator lists mounted partitions with gopsutil, followed by any
// static volumes.
type Enumerator struct {
	Partitions PartitionFunc
	Static     []Volume
	// GOOS overrides runtime.GOOS for naming.
	GOOS string
	// Disabled skips partition enumeration, leaving only Static.
	Disabled bool
}

var _ Source = (*Enumerator)(nil)

func NewEnumerator(static []Volume, enumerate bool) *Enumerator {
	return &Enumerator{
		Partitions: disk.PartitionsWithContext,
		Static:     static,
		Disabled:   !enumerate,
	}
}

var pseudoFs = map[string]struct{}{
	"tmpfs": {}, "devtmpfs": {}, "overlay": {}, "squashfs": {}, "proc": {},
	"sysfs": {}, "cgroup": {}, "cgroup2": {}, "autofs": {}, "fuse.portal": {},
	"fuse.gvfsd-fuse": {}, "fuse.jmtpfs": {}, "nsfs": {}, "efivarfs": {},
}

func (e *Enumerator) Volumes(ctx context.Context) ([]Volume, error) {
	goos := e.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}

	var vols []Volume
	if !e.Disabled && e.Partitions != nil {
		parts, err := e.Partitions(ctx, false)
		if err != nil {
			return nil, fmt.Errorf("failed to list partitions: %w", err)
		}
		for _, p := range parts {
			if _, skip := pseudoFs[strings.ToLower(p.Fstype)]; skip {
				continue
			}
			if p.Mountpoint == "" {
				continue
			}
			name := VolumeName(goos, p.Mountpoint)
			vols = append(vols, Volume{
				Name:   name,
				Root:   p.Mountpoint,
				Label:  name,
				Class:  Classify(goos, p),
				FsType: p.Fstype,
			})
		}
	}

	for _, v := range e.Static {
		if v.Class == "" {
			v.Class = ClassInternal
		}
		vols = append(vols, v)
	}

	vols = dedupe(vols)
	log.Debug().Int("count", len(vols)).Msg("enumerated local volumes")
	return vols, nil
}

// VolumeName returns the drive name for a mount point: the drive letter on
// Windows, "root" for "/" and the sanitized base name otherwise.
func VolumeName(goos, mountpoint string) string {
	if goos == "windows" {
		if len(mountpoint) >= 2 && mountpoint[1] == ':' {
			return strings.ToUpper(mountpoint[:1])
		}
	}
	trimmed := strings.TrimRight(mountpoint, `/\`)
	if trimmed == "" {
		return "root"
	}
	return sanitize(filepath.Base(trimmed))
}

// Classify guesses a drive class from the filesystem type and mount location.
func Classify(goos string, p disk.PartitionStat) string {
	fstype := strings.ToLower(p.Fstype)
	switch fstype {
	case "iso9660", "udf", "cdfs":
		return ClassCDROM
	}

	device := strings.ToLower(p.Device)
	if strings.Contains(device, "mmcblk") {
		return ClassSDCard
	}

	mount := p.Mountpoint
	removable := strings.HasPrefix(mount, "/media/") ||
		strings.HasPrefix(mount, "/run/media/") ||
		strings.HasPrefix(mount, "/Volumes/")
	if goos == "windows" {
		removable = !strings.EqualFold(mount, `C:\`) && !strings.EqualFold(mount, "C:")
	}
	if !removable {
		return ClassInternal
	}
	if fstype == "vfat" || fstype == "exfat" || fstype == "fat32" || fstype == "msdos" {
		if strings.Contains(strings.ToLower(filepath.Base(mount)), "sd") {
			return ClassSDCard
		}
	}
	return ClassExternal
}

func sanitize(name string) string {
	r := strings.NewReplacer(":", "_", `\`, "_", "/", "_", "{", "_", "}", "_", "[", "_", "]", "_")
	return r.Replace(name)
}

// dedupe suffixes repeated names with -2, -3 and so on.
func dedupe(vols []Volume) []Volume {
	seen := make(map[string]int, len(vols))
	for i := range vols {
		key := strings.ToLower(vols[i].Name)
		seen[key]++
		if n := seen[key]; n > 1 {
			vols[i].Name = vols[i].Name + "-" + strconv.Itoa(n)
		}
	}
	return vols
}
