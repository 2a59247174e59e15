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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/usbid"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), CfgFile)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestOpenWritesDefaults(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "nested", CfgFile)
	cfg, err := Open(p, BaseDefaults)
	require.NoError(t, err)
	assert.FileExists(t, p)
	assert.Equal(t, BaseDefaults.Transfer, cfg.Transfer())

	again, err := Open(p, BaseDefaults)
	require.NoError(t, err)
	assert.Equal(t, cfg.Portable(), again.Portable())
	assert.Equal(t, cfg.Monitor(), again.Monitor())
}

func TestLoadOverlaysDefaults(t *testing.T) {
	t.Parallel()

	p := writeConfig(t, `
config_schema = 1
debug_logging = true

[transfer]
first_wait = 7

[portable]
mount_roots = ["/media/mtp"]
honor_filter = true

[[local.drive]]
name = "games"
root = "/srv/games"
class = "external_hdd"

[[identity]]
vid_pid = "vid_04e8&pid_6860"
unique_id = "a1b2c3d4e5f6"
`)
	cfg, err := Open(p, BaseDefaults)
	require.NoError(t, err)

	assert.True(t, cfg.DebugLogging())
	tr := cfg.Transfer()
	assert.Equal(t, 7, tr.FirstWait)
	assert.Equal(t, BaseDefaults.Transfer.RetryWait, tr.RetryWait)
	assert.Equal(t, []string{"/media/mtp"}, cfg.Portable().MountRoots)
	assert.True(t, cfg.Portable().HonorFilter)
	assert.True(t, cfg.Monitor().Sysfs)

	vols := cfg.LocalVolumes()
	require.Len(t, vols, 1)
	assert.Equal(t, "games", vols[0].Name)
	assert.Equal(t, "external_hdd", vols[0].Class)
	assert.Equal(t, []usbid.Identity{{VidPid: "vid_04e8&pid_6860", UniqueID: "a1b2c3d4e5f6"}}, cfg.Identities())
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		wantErr string
		schema  bool
	}{
		{name: "schema mismatch", body: "config_schema = 2\n", schema: true},
		{name: "bad toml", body: "config_schema = \n", wantErr: "unmarshal"},
		{
			name:    "zero interval",
			body:    "config_schema = 1\n[transfer]\npoll_interval_ms = 0\n",
			wantErr: "Transfer.PollIntervalMs must be at least 1",
		},
		{
			name:    "bad drive name",
			body:    "config_schema = 1\n[[local.drive]]\nname = \"a:b\"\nroot = \"/x\"\n",
			wantErr: "Local.Drives[0].Name must be a single path segment",
		},
		{
			name:    "missing root",
			body:    "config_schema = 1\n[[local.drive]]\nname = \"x\"\n",
			wantErr: "Local.Drives[0].Root is required",
		},
		{
			name:    "unknown class",
			body:    "config_schema = 1\n[[local.drive]]\nname = \"x\"\nroot = \"/x\"\nclass = \"iphone\"\n",
			wantErr: "Local.Drives[0].Class must be one of",
		},
		{
			name:    "bad vidpid",
			body:    "config_schema = 1\n[[identity]]\nvid_pid = \"04e8\"\nunique_id = \"x\"\n",
			wantErr: "Identities[0].VidPid must look like",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Open(writeConfig(t, tt.body), BaseDefaults)
			require.Error(t, err)
			if tt.schema {
				require.ErrorIs(t, err, ErrSchemaMismatch)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidationErrorFields(t *testing.T) {
	t.Parallel()

	vals := BaseDefaults
	vals.Hotplug.MaxRetries = 0
	vals.Monitor.SysfsRoot = ""
	err := Validate(&vals)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	tags := make(map[string]string)
	for _, f := range ve.Fields {
		tags[f.Field] = f.Tag
	}
	assert.Equal(t, map[string]string{
		"Values.Hotplug.MaxRetries": "min",
		"Values.Monitor.SysfsRoot":  "required_if",
	}, tags)
}

func TestRememberIdentities(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), CfgFile)
	cfg, err := Open(p, BaseDefaults)
	require.NoError(t, err)

	ids := []usbid.Identity{
		{VidPid: "vid_04e8&pid_6860", UniqueID: "one"},
		{VidPid: "vid_18d1&pid_4ee1", UniqueID: "two"},
		{VidPid: "vid_0000&pid_0000"},
	}
	assert.True(t, cfg.RememberIdentities(ids))
	assert.False(t, cfg.RememberIdentities(ids[:2]))
	assert.True(t, cfg.RememberIdentities([]usbid.Identity{{VidPid: "vid_04e8&pid_6860", UniqueID: "three"}}))
	require.NoError(t, cfg.Save())

	reloaded, err := Open(p, BaseDefaults)
	require.NoError(t, err)
	assert.Equal(t, []usbid.Identity{
		{VidPid: "vid_04e8&pid_6860", UniqueID: "three"},
		{VidPid: "vid_18d1&pid_4ee1", UniqueID: "two"},
	}, reloaded.Identities())
}

func TestTimings(t *testing.T) {
	t.Parallel()

	cfg, err := Open(filepath.Join(t.TempDir(), CfgFile), BaseDefaults)
	require.NoError(t, err)
	tm := cfg.Timings()

	assert.Equal(t, 50*time.Millisecond, tm.Copy.Interval)
	assert.Equal(t, 100, tm.Copy.FirstWait)
	assert.Equal(t, 25, tm.Copy.RetryWait)
	assert.Equal(t, 500, tm.Bulk.FirstWait)
	assert.Equal(t, 75, tm.Bulk.RetryWait)
	assert.Equal(t, 100*time.Millisecond, tm.Move.Interval)
	assert.Equal(t, 4, tm.Move.Samples)
	assert.Equal(t, 20, tm.Move.Rounds)
	assert.Equal(t, 10, tm.HotplugRetries)
}

func TestRegistryOptionsAndMonitors(t *testing.T) {
	t.Parallel()

	vals := BaseDefaults
	vals.Portable.MountRoots = nil
	vals.Monitor.Sysfs = false
	cfg, err := Open(filepath.Join(t.TempDir(), CfgFile), vals)
	require.NoError(t, err)

	fs := afero.NewMemMapFs()
	clock := clockwork.NewFakeClock()
	withShell := len(cfg.RegistryOptions(fs, clock))
	assert.Empty(t, cfg.Monitors(fs, clock))

	vals = BaseDefaults
	vals.Portable.MountRoots = []string{"/run/mtp"}
	cfg, err = Open(filepath.Join(t.TempDir(), CfgFile), vals)
	require.NoError(t, err)
	assert.Equal(t, withShell+1, len(cfg.RegistryOptions(fs, clock)))
	assert.Len(t, cfg.Monitors(fs, clock), 2)
}

func TestSetDebugLogging(t *testing.T) {
	t.Parallel()

	cfg, err := Open(filepath.Join(t.TempDir(), CfgFile), BaseDefaults)
	require.NoError(t, err)
	cfg.SetDebugLogging(true)
	assert.True(t, cfg.DebugLogging())
	cfg.SetDebugLogging(false)
	assert.False(t, cfg.DebugLogging())
}
