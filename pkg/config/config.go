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
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/usbid"
	"github.com/ZaparooProject/zaparoo-drives/pkg/helpers/syncutil"
	"github.com/adrg/xdg"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	SchemaVersion = 1
	CfgEnv        = "ZAPAROO_DRIVES_CFG"
	CfgFile       = "drives.toml"
)

var ErrSchemaMismatch = errors.New("schema version mismatch")

type Values struct {
	Local        Local      `toml:"local"`
	Scratch      Scratch    `toml:"scratch"`
	Portable     Portable   `toml:"portable"`
	Identities   []Identity `toml:"identity,omitempty" validate:"dive"`
	Monitor      Monitor    `toml:"monitor"`
	Transfer     Transfer   `toml:"transfer"`
	Hotplug      Hotplug    `toml:"hotplug"`
	ConfigSchema int        `toml:"config_schema"`
	DebugLogging bool       `toml:"debug_logging"`
}

// Transfer holds the completion polling timings. Waits count polls.
type Transfer struct {
	PollIntervalMs int `toml:"poll_interval_ms" validate:"min=1"`
	FirstWait      int `toml:"first_wait" validate:"min=1"`
	RetryWait      int `toml:"retry_wait" validate:"min=1"`
	BulkFirstWait  int `toml:"bulk_first_wait" validate:"min=1"`
	BulkRetryWait  int `toml:"bulk_retry_wait" validate:"min=1"`
	MoveIntervalMs int `toml:"move_interval_ms" validate:"min=1"`
	MoveSamples    int `toml:"move_samples" validate:"min=1"`
	MoveRounds     int `toml:"move_rounds" validate:"min=1"`
}

type Hotplug struct {
	FirstDelayMs    int `toml:"first_delay_ms" validate:"min=0"`
	RetryIntervalMs int `toml:"retry_interval_ms" validate:"min=1"`
	MaxRetries      int `toml:"max_retries" validate:"min=1"`
}

type Scratch struct {
	// Dir is the parent of the per-run scratch directories. Empty means the
	// user cache directory.
	Dir  string `toml:"dir,omitempty"`
	Lock bool   `toml:"lock"`
}

type Local struct {
	Drives    []LocalDrive `toml:"drive,omitempty" validate:"dive"`
	Enumerate bool         `toml:"enumerate"`
}

// LocalDrive is a directory exposed as a local drive under Name.
type LocalDrive struct {
	Name  string `toml:"name" validate:"required,drivename"`
	Root  string `toml:"root" validate:"required"`
	Label string `toml:"label,omitempty"`
	Class string `toml:"class,omitempty" validate:"omitempty,localclass"`
}

type Portable struct {
	MountRoots  []string `toml:"mount_roots,omitempty,multiline" validate:"dive,required"`
	ChunkSize   int      `toml:"chunk_size" validate:"min=1"`
	HonorFilter bool     `toml:"honor_filter"`
}

type Monitor struct {
	SysfsRoot      string `toml:"sysfs_root" validate:"required_if=Sysfs true"`
	PollIntervalMs int    `toml:"poll_interval_ms" validate:"min=1"`
	Sysfs          bool   `toml:"sysfs"`
	WatchMounts    bool   `toml:"watch_mounts"`
}

// Identity is a remembered vendor/product pairing and the serial of the
// device last seen with it.
type Identity struct {
	VidPid   string `toml:"vid_pid" validate:"required,vidpid"`
	UniqueID string `toml:"unique_id" validate:"required"`
}

var BaseDefaults = Values{
	ConfigSchema: SchemaVersion,
	Transfer: Transfer{
		PollIntervalMs: 50,
		FirstWait:      100,
		RetryWait:      25,
		BulkFirstWait:  500,
		BulkRetryWait:  75,
		MoveIntervalMs: 100,
		MoveSamples:    4,
		MoveRounds:     20,
	},
	Hotplug: Hotplug{
		FirstDelayMs:    50,
		RetryIntervalMs: 100,
		MaxRetries:      10,
	},
	Scratch: Scratch{
		Lock: true,
	},
	Local: Local{
		Enumerate: true,
	},
	Portable: Portable{
		MountRoots: []string{filepath.Join(xdg.RuntimeDir, "gvfs")},
		ChunkSize:  1 << 20,
	},
	Monitor: Monitor{
		Sysfs:          true,
		SysfsRoot:      "/sys/bus/usb/devices",
		PollIntervalMs: 1000,
		WatchMounts:    true,
	},
}

type Instance struct {
	cfgPath  string
	vals     Values
	defaults Values
	mu       syncutil.RWMutex
}

// NewConfig loads the config file from $ZAPAROO_DRIVES_CFG or configDir,
// writing the defaults to disk when it does not exist yet.
//
//nolint:gocritic // config struct copied for immutability
func NewConfig(configDir string, defaults Values) (*Instance, error) {
	cfgPath := os.Getenv(CfgEnv)
	log.Debug().Msgf("env config path: %s", cfgPath)

	if cfgPath == "" {
		cfgPath = filepath.Join(configDir, CfgFile)
	}
	return Open(cfgPath, defaults)
}

// Open loads the config file at cfgPath, creating it from defaults when
// missing.
//
//nolint:gocritic // config struct copied for immutability
func Open(cfgPath string, defaults Values) (*Instance, error) {
	cfg := Instance{
		cfgPath:  cfgPath,
		vals:     defaults,
		defaults: defaults,
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		log.Info().Str("path", cfgPath).Msg("saving new default config to disk")

		err := os.MkdirAll(filepath.Dir(cfgPath), 0o750)
		if err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}

		err = cfg.Save()
		if err != nil {
			return nil, err
		}
	}

	err := cfg.Load()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Instance) Path() string {
	return c.cfgPath
}

func (c *Instance) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	data, err := os.ReadFile(c.cfgPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Fields missing from the file keep their default values.
	newVals := c.defaults
	err = toml.Unmarshal(data, &newVals)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if newVals.ConfigSchema != SchemaVersion {
		log.Error().Msgf(
			"schema version mismatch: got %d, expecting %d",
			newVals.ConfigSchema,
			SchemaVersion,
		)
		return ErrSchemaMismatch
	}

	if err := Validate(&newVals); err != nil {
		return fmt.Errorf("invalid config %s: %w", c.cfgPath, err)
	}

	c.vals = newVals
	return nil
}

func (c *Instance) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	c.vals.ConfigSchema = SchemaVersion

	data, err := toml.Marshal(&c.vals)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.cfgPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Instance) DebugLogging() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.DebugLogging
}

func (c *Instance) SetDebugLogging(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.DebugLogging = enabled
	if enabled {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func (c *Instance) Transfer() Transfer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Transfer
}

func (c *Instance) Hotplug() Hotplug {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Hotplug
}

func (c *Instance) Portable() Portable {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p := c.vals.Portable
	p.MountRoots = append([]string(nil), p.MountRoots...)
	return p
}

func (c *Instance) Monitor() Monitor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Monitor
}

// Identities returns the remembered device identities.
func (c *Instance) Identities() []usbid.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]usbid.Identity, 0, len(c.vals.Identities))
	for _, id := range c.vals.Identities {
		ids = append(ids, usbid.Identity{VidPid: id.VidPid, UniqueID: id.UniqueID})
	}
	return ids
}

// RememberIdentities merges ids into the remembered identities, replacing
// the serial of a known vendor/product pairing. It reports whether
// anything changed. Call Save to persist.
func (c *Instance) RememberIdentities(ids []usbid.Identity) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := false
	for _, id := range ids {
		if id.VidPid == "" || id.UniqueID == "" {
			continue
		}
		found := false
		for i := range c.vals.Identities {
			if c.vals.Identities[i].VidPid != id.VidPid {
				continue
			}
			found = true
			if c.vals.Identities[i].UniqueID != id.UniqueID {
				c.vals.Identities[i].UniqueID = id.UniqueID
				changed = true
			}
			break
		}
		if !found {
			c.vals.Identities = append(c.vals.Identities, Identity{VidPid: id.VidPid, UniqueID: id.UniqueID})
			changed = true
		}
	}
	return changed
}
