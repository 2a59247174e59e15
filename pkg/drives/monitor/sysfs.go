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

package monitor

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/usbid"
	"github.com/ZaparooProject/zaparoo-drives/pkg/helpers/syncutil"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const (
	DefaultSysfsRoot     = "/sys/bus/usb/devices"
	DefaultSysfsInterval = time.Second
)

// usbTopologyPattern matches USB device directories like "1-2", "1-2.3".
// Root hubs ("usb1") and interfaces ("1-2:1.0") are skipped.
var usbTopologyPattern = regexp.MustCompile(`^\d+-[\d.]+$`)

// SysfsOptions configures a SysfsMonitor.
type SysfsOptions struct {
	Clock clockwork.Clock
	// Root is the sysfs USB device directory.
	Root string
	// Interval between two rescans.
	Interval time.Duration
}

// SysfsMonitor polls the Linux sysfs USB device list and reports devices
// appearing and vanishing as hub style events.
type SysfsMonitor struct {
	fs       afero.Fs
	clock    clockwork.Clock
	events   chan Event
	stopChan chan struct{}
	known    map[string]string
	root     string
	interval time.Duration
	wg       sync.WaitGroup
	mu       syncutil.Mutex
	stopOnce sync.Once
}

var _ Monitor = (*SysfsMonitor)(nil)

// NewSysfsMonitor creates a monitor reading sysfs through fs.
func NewSysfsMonitor(fs afero.Fs, opts SysfsOptions) *SysfsMonitor {
	if opts.Root == "" {
		opts.Root = DefaultSysfsRoot
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultSysfsInterval
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &SysfsMonitor{
		fs:       fs,
		clock:    opts.Clock,
		root:     opts.Root,
		interval: opts.Interval,
		events:   make(chan Event, eventBuffer),
		stopChan: make(chan struct{}),
		known:    make(map[string]string),
	}
}

func (m *SysfsMonitor) Events() <-chan Event {
	return m.events
}

// Snapshot returns the property maps of every USB device present now, in
// the form HandleDeviceAdded style consumers expect.
func (m *SysfsMonitor) Snapshot() ([]map[string]string, error) {
	current, err := m.scan()
	if err != nil {
		return nil, err
	}
	props := make([]map[string]string, 0, len(current))
	for _, dir := range sortedKeys(current) {
		props = append(props, deviceProps(dir, current[dir]))
	}
	return props, nil
}

// Start records the devices present now and begins polling for changes.
func (m *SysfsMonitor) Start() error {
	current, err := m.scan()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.known = current
	m.mu.Unlock()

	log.Debug().
		Str("root", m.root).
		Int("devices", len(current)).
		Dur("interval", m.interval).
		Msg("sysfs usb monitor started")

	m.wg.Add(1)
	go m.poll()
	return nil
}

func (m *SysfsMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
		m.wg.Wait()
		close(m.events)
	})
}

func (m *SysfsMonitor) poll() {
	defer m.wg.Done()

	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.Chan():
			current, err := m.scan()
			if err != nil {
				log.Warn().Err(err).Str("root", m.root).Msg("sysfs usb rescan failed")
				continue
			}
			for _, ev := range m.diff(current) {
				select {
				case m.events <- ev:
				case <-m.stopChan:
					return
				}
			}
		}
	}
}

// diff swaps in the new device set and returns the changes, removals first.
func (m *SysfsMonitor) diff(current map[string]string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	var events []Event
	for _, dir := range sortedKeys(m.known) {
		if _, ok := current[dir]; !ok {
			log.Debug().Str("device", m.known[dir]).Msg("usb device removed")
			events = append(events, Event{Type: DeviceRemoved, Properties: deviceProps(dir, m.known[dir])})
		}
	}
	for _, dir := range sortedKeys(current) {
		if prev, ok := m.known[dir]; !ok || prev != current[dir] {
			log.Debug().Str("device", current[dir]).Msg("usb device added")
			events = append(events, Event{Type: DeviceAdded, Properties: deviceProps(dir, current[dir])})
		}
	}
	m.known = current
	return events
}

// scan maps every USB device directory to its hub style device id.
func (m *SysfsMonitor) scan() (map[string]string, error) {
	entries, err := afero.ReadDir(m.fs, m.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", m.root, err)
	}

	devices := make(map[string]string)
	for _, entry := range entries {
		name := entry.Name()
		if !usbTopologyPattern.MatchString(name) {
			continue
		}
		dir := filepath.Join(m.root, name)
		vid, err := m.readAttr(dir, "idVendor")
		if err != nil {
			log.Debug().Err(err).Str("path", dir).Msg("skipping usb entry")
			continue
		}
		pid, err := m.readAttr(dir, "idProduct")
		if err != nil {
			log.Debug().Err(err).Str("path", dir).Msg("skipping usb entry")
			continue
		}
		// Devices without a serial are tracked by port, like instance ids.
		serial, err := m.readAttr(dir, "serial")
		if err != nil || serial == "" {
			serial = name
		}
		devices[dir] = usbid.FormatPNPDeviceID(vid, pid, serial)
	}
	return devices, nil
}

func (m *SysfsMonitor) readAttr(dir, attr string) (string, error) {
	data, err := afero.ReadFile(m.fs, filepath.Join(dir, attr))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("no %s attribute: %w", attr, err)
	} else if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", attr, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func deviceProps(dir, pnpID string) map[string]string {
	return map[string]string{
		PropPNPDeviceID: pnpID,
		PropSysPath:     dir,
	}
}
