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

package config

import (
	"time"

	"github.com/ZaparooProject/zaparoo-drives/pkg/drives"
	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/localdisk"
	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/monitor"
	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/scratch"
	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/settle"
	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/shell/fsshell"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
)

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// Timings converts the polling settings into registry timings.
func (c *Instance) Timings() drives.Timings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, h := c.vals.Transfer, c.vals.Hotplug
	return drives.Timings{
		Copy: settle.Options{
			Interval:  ms(t.PollIntervalMs),
			FirstWait: t.FirstWait,
			RetryWait: t.RetryWait,
		},
		Bulk: settle.Options{
			Interval:  ms(t.PollIntervalMs),
			FirstWait: t.BulkFirstWait,
			RetryWait: t.BulkRetryWait,
		},
		Move: settle.MoveOptions{
			Interval: ms(t.MoveIntervalMs),
			Samples:  t.MoveSamples,
			Rounds:   t.MoveRounds,
		},
		HotplugFirstDelay: ms(h.FirstDelayMs),
		HotplugInterval:   ms(h.RetryIntervalMs),
		HotplugRetries:    h.MaxRetries,
	}
}

// LocalVolumes returns the configured static local drives.
func (c *Instance) LocalVolumes() []localdisk.Volume {
	c.mu.RLock()
	defer c.mu.RUnlock()
	vols := make([]localdisk.Volume, 0, len(c.vals.Local.Drives))
	for _, d := range c.vals.Local.Drives {
		vols = append(vols, localdisk.Volume{Name: d.Name, Root: d.Root, Label: d.Label, Class: d.Class})
	}
	return vols
}

// RegistryOptions builds the drive registry options for fs, which is the
// host filesystem outside of tests.
func (c *Instance) RegistryOptions(fs afero.Fs, clock clockwork.Clock) []drives.Option {
	c.mu.RLock()
	enumerate := c.vals.Local.Enumerate
	scr := scratch.Options{Base: c.vals.Scratch.Dir, Lock: c.vals.Scratch.Lock}
	c.mu.RUnlock()

	opts := []drives.Option{
		drives.WithFs(fs),
		drives.WithClock(clock),
		drives.WithTimings(c.Timings()),
		drives.WithLocalSource(localdisk.NewEnumerator(c.LocalVolumes(), enumerate)),
		drives.WithScratch(scr),
		drives.WithIdentities(c.Identities()...),
	}

	p := c.Portable()
	if len(p.MountRoots) > 0 {
		opts = append(opts, drives.WithShell(fsshell.New(fs, fsshell.Options{
			Clock:       clock,
			MountRoots:  p.MountRoots,
			ChunkSize:   p.ChunkSize,
			HonorFilter: p.HonorFilter,
		})))
	}
	return opts
}

// Monitors returns the enabled device change monitors.
func (c *Instance) Monitors(fs afero.Fs, clock clockwork.Clock) []monitor.Monitor {
	m := c.Monitor()
	var mons []monitor.Monitor
	if m.Sysfs {
		mons = append(mons, monitor.NewSysfsMonitor(fs, monitor.SysfsOptions{
			Clock:    clock,
			Root:     m.SysfsRoot,
			Interval: ms(m.PollIntervalMs),
		}))
	}
	if roots := c.Portable().MountRoots; m.WatchMounts && len(roots) > 0 {
		mons = append(mons, monitor.NewMountWatcher(clock, monitor.DefaultDebounce, roots...))
	}
	return mons
}
