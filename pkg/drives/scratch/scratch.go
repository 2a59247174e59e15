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

// Package scratch manages the local directory portable items are moved
// into before they are deleted.
//
// Every process gets its own run directory named by a random uuid. With
// locking enabled the run holds an flock on "<run>.lock" so a later process
// can tell abandoned runs from live ones and sweep only the former.
package scratch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZaparooProject/zaparoo-drives/pkg/helpers/syncutil"
	"github.com/adrg/xdg"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const lockSuffix = ".lock"

var ErrClosed = errors.New("scratch area closed")

// Options configures an Area.
type Options struct {
	// Base is the parent of all run directories. Empty means the user
	// cache directory.
	Base string
	// Lock guards the run with an flock. Requires Base on the host
	// filesystem.
	Lock bool
}

// DefaultBase returns the scratch parent under the user cache directory.
func DefaultBase() string {
	return filepath.Join(xdg.CacheHome, "zaparoo-drives", "scratch")
}

// Area is one run directory plus its lock.
type Area struct {
	fs     afero.Fs
	lock   *flock.Flock
	base   string
	dir    string
	mu     syncutil.Mutex
	closed bool
}

// Open creates a new run directory under opts.Base and sweeps runs left
// behind by processes that are gone.
func Open(fs afero.Fs, opts Options) (*Area, error) {
	base := opts.Base
	if base == "" {
		base = DefaultBase()
	}
	if err := fs.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scratch base %s: %w", base, err)
	}

	id := uuid.New().String()
	a := &Area{
		fs:   fs,
		base: base,
		dir:  filepath.Join(base, id),
	}

	if opts.Lock {
		a.lock = flock.New(a.dir + lockSuffix)
		locked, err := a.lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("failed to lock scratch run: %w", err)
		}
		if !locked {
			return nil, fmt.Errorf("scratch run %s already locked", id)
		}
	}

	if err := fs.MkdirAll(a.dir, 0o755); err != nil {
		a.unlock()
		return nil, fmt.Errorf("failed to create scratch run %s: %w", a.dir, err)
	}

	swept := a.sweep(id)
	log.Debug().Str("dir", a.dir).Int("swept", swept).Msg("opened scratch area")
	return a, nil
}

// Dir returns the run directory.
func (a *Area) Dir() string {
	return a.dir
}

// Slot creates a fresh empty directory inside the run, used as the move
// target for one delete.
func (a *Area) Slot() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return "", ErrClosed
	}
	slot := filepath.Join(a.dir, uuid.New().String())
	if err := a.fs.MkdirAll(slot, 0o755); err != nil {
		return "", fmt.Errorf("failed to create scratch slot: %w", err)
	}
	return slot, nil
}

// Release removes a slot and everything moved into it.
func (a *Area) Release(slot string) error {
	rel, err := filepath.Rel(a.dir, slot)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("%s is not a slot of %s", slot, a.dir)
	}
	if err := a.fs.RemoveAll(slot); err != nil {
		return fmt.Errorf("failed to release scratch slot %s: %w", slot, err)
	}
	return nil
}

// Entries lists what is currently inside the run directory.
func (a *Area) Entries() ([]string, error) {
	infos, err := afero.ReadDir(a.fs, a.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scratch run: %w", err)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, nil
}

// Close removes the run directory and drops the lock.
func (a *Area) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true

	err := a.fs.RemoveAll(a.dir)
	a.unlock()
	if a.lock != nil {
		_ = os.Remove(a.lock.Path())
	}
	if err != nil {
		return fmt.Errorf("failed to remove scratch run %s: %w", a.dir, err)
	}
	return nil
}

func (a *Area) unlock() {
	if a.lock == nil {
		return
	}
	if err := a.lock.Unlock(); err != nil {
		log.Warn().Err(err).Str("path", a.lock.Path()).Msg("failed to unlock scratch run")
	}
}

// sweep removes other run directories under base whose owner is gone.
// Without locking, every other run is treated as abandoned.
func (a *Area) sweep(self string) int {
	infos, err := afero.ReadDir(a.fs, a.base)
	if err != nil {
		log.Warn().Err(err).Str("base", a.base).Msg("failed to list scratch runs")
		return 0
	}

	swept := 0
	for _, info := range infos {
		name := info.Name()
		if !info.IsDir() || name == self {
			continue
		}
		if _, err := uuid.Parse(name); err != nil {
			continue
		}
		run := filepath.Join(a.base, name)

		if a.lock != nil {
			other := flock.New(run + lockSuffix)
			locked, err := other.TryLock()
			if err != nil || !locked {
				log.Debug().Str("run", run).Msg("scratch run still in use")
				continue
			}
			_ = other.Unlock()
			_ = os.Remove(other.Path())
		}

		if err := a.fs.RemoveAll(run); err != nil {
			log.Warn().Err(err).Str("run", run).Msg("failed to sweep scratch run")
			continue
		}
		swept++
	}
	return swept
}
