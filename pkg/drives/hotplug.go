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
	"context"
	"errors"
	"fmt"

	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/monitor"
	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/settle"
	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/usbid"
	"github.com/go-viper/mapstructure/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var errEmptyEvent = errors.New("event names no device")

// deviceEvent is the decoded property bag of a monitor event.
type deviceEvent struct {
	PNPDeviceID string `mapstructure:"PNPDeviceID"`
	Dependent   string `mapstructure:"Dependent"`
	MountPath   string `mapstructure:"MountPath"`
	SysPath     string `mapstructure:"SysPath"`
}

func decodeEvent(props map[string]string) (deviceEvent, error) {
	var ev deviceEvent
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &ev,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return ev, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(props); err != nil {
		return ev, fmt.Errorf("failed to decode device event: %w", err)
	}
	if ev.PNPDeviceID == "" && ev.Dependent == "" && ev.MountPath == "" {
		return ev, errEmptyEvent
	}
	return ev, nil
}

func (e deviceEvent) identity() (usbid.Identity, bool) {
	if id, ok := usbid.FromPNPDeviceID(e.PNPDeviceID); ok {
		return id, true
	}
	return usbid.FromDependent(e.Dependent)
}

// HandleDeviceAdded processes a device arrival. An arrival carrying a USB
// id teaches the registry the unique id of that vendor/product pairing and
// reconnects the matching drive, or starts looking for the new device in
// the background. A bare mount arrival just refreshes.
func (r *Registry) HandleDeviceAdded(props map[string]string) {
	ev, err := decodeEvent(props)
	if err != nil {
		log.Debug().Err(err).Any("props", props).Msg("ignoring device arrival")
		return
	}
	id, ok := ev.identity()
	if !ok {
		if ev.MountPath == "" {
			log.Debug().Any("props", props).Msg("ignoring non-portable device arrival")
			return
		}
		r.refreshLogged(r.ctx)
		return
	}
	log.Info().Str("vidpid", id.VidPid).Str("id", id.UniqueID).Msg("portable device attached")
	r.onNewDevice(id)
}

func (r *Registry) onNewDevice(id usbid.Identity) {
	uniqueID := id.UniqueID
	r.mu.Lock()
	if uniqueID != "" {
		r.identities[id.VidPid] = uniqueID
		r.applyIdentitiesLocked()
	} else {
		uniqueID = id.VidPid
	}
	var found *PortableDrive
	for _, d := range r.drives {
		if pd, ok := d.(*PortableDrive); ok && pd.UniqueID() == uniqueID {
			found = pd
			break
		}
	}
	r.mu.Unlock()

	if found != nil {
		found.setConnected(true)
		log.Debug().Str("id", uniqueID).Msg("portable drive reconnected")
		return
	}
	if r.sh == nil {
		return
	}
	r.goBackground(func(ctx context.Context) {
		r.monitorForDrive(ctx, id.VidPid)
	})
}

// monitorForDrive waits for the shell to list a device with vidPid, then
// refreshes. Devices take a moment to show up after the USB arrival.
func (r *Registry) monitorForDrive(ctx context.Context, vidPid string) {
	if err := settle.Sleep(ctx, r.clock, r.timings.HotplugFirstDelay); err != nil {
		return
	}
	for attempt := 0; attempt < r.timings.HotplugRetries; attempt++ {
		if r.shellHasDevice(ctx, vidPid) {
			r.refreshLogged(ctx)
			return
		}
		if err := settle.Sleep(ctx, r.clock, r.timings.HotplugInterval); err != nil {
			return
		}
	}
	log.Warn().Str("vidpid", vidPid).Int("attempts", r.timings.HotplugRetries).
		Msg("attached device never showed up as a portable drive")
}

func (r *Registry) shellHasDevice(ctx context.Context, vidPid string) bool {
	devices, err := r.sh.Devices(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("failed to list devices while waiting for attach")
		return false
	}
	for _, dev := range devices {
		devVidPid := dev.VidPid
		if devVidPid == "" {
			devVidPid, _ = usbid.VidPidFromPath(dev.Path)
		}
		if devVidPid != "" && devVidPid == vidPid {
			return true
		}
	}
	return false
}

// HandleDeviceRemoved processes a device removal, marking the matching
// drive disconnected before refreshing.
func (r *Registry) HandleDeviceRemoved(props map[string]string) {
	ev, err := decodeEvent(props)
	if err != nil {
		log.Debug().Err(err).Any("props", props).Msg("ignoring device removal")
		return
	}
	if id, ok := ev.identity(); ok {
		uniqueID := id.UniqueID
		if uniqueID == "" {
			uniqueID = id.VidPid
		}
		for _, d := range r.Drives() {
			if pd, ok := d.(*PortableDrive); ok && pd.UniqueID() == uniqueID {
				pd.setConnected(false)
				log.Info().Str("name", pd.FriendlyName()).Str("id", uniqueID).Msg("portable device detached")
			}
		}
	} else if ev.MountPath == "" {
		log.Debug().Any("props", props).Msg("ignoring non-portable device removal")
		return
	}
	r.refreshLogged(r.ctx)
}

func (r *Registry) refreshLogged(ctx context.Context) {
	if err := r.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("refresh after device change failed")
	}
}

func (r *Registry) dispatch(ev monitor.Event) {
	switch ev.Type {
	case monitor.DeviceAdded:
		r.HandleDeviceAdded(ev.Properties)
	case monitor.DeviceRemoved:
		r.HandleDeviceRemoved(ev.Properties)
	default:
		log.Debug().Stringer("type", ev.Type).Msg("ignoring unknown device event")
	}
}

// Watch starts the monitors and feeds their events to the registry until
// ctx is done, then stops them. A monitor that fails to start stops the
// ones already started.
func (r *Registry) Watch(ctx context.Context, monitors ...monitor.Monitor) error {
	started := make([]monitor.Monitor, 0, len(monitors))
	defer func() {
		for _, m := range started {
			m.Stop()
		}
	}()
	for _, m := range monitors {
		if err := m.Start(); err != nil {
			return fmt.Errorf("failed to start device monitor: %w", err)
		}
		started = append(started, m)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range started {
		events := m.Events()
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case ev, ok := <-events:
					if !ok {
						return nil
					}
					r.dispatch(ev)
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("device watch failed: %w", err)
	}
	return nil
}
