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
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ZaparooProject/zaparoo-drives/pkg/helpers/syncutil"
	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// DefaultDebounce is how long a mount root must be quiet before pending
// entries are checked.
const DefaultDebounce = 100 * time.Millisecond

var ErrNoMountRoots = errors.New("no mount roots could be watched")

// MountWatcher reports directories appearing and vanishing directly under
// a set of mount roots, such as the per device folders of an MTP daemon.
type MountWatcher struct {
	clock    clockwork.Clock
	watcher  *fsnotify.Watcher
	events   chan Event
	stopChan chan struct{}
	roots    map[string]struct{}
	present  map[string]struct{}
	debounce time.Duration
	wg       sync.WaitGroup
	mu       syncutil.RWMutex
	stopOnce sync.Once
}

var _ Monitor = (*MountWatcher)(nil)

func NewMountWatcher(clock clockwork.Clock, debounce time.Duration, roots ...string) *MountWatcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	rs := make(map[string]struct{}, len(roots))
	for _, r := range roots {
		rs[filepath.Clean(r)] = struct{}{}
	}
	return &MountWatcher{
		clock:    clock,
		debounce: debounce,
		roots:    rs,
		events:   make(chan Event, eventBuffer),
		stopChan: make(chan struct{}),
		present:  make(map[string]struct{}),
	}
}

func (w *MountWatcher) Events() <-chan Event {
	return w.events
}

func (w *MountWatcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	w.watcher = watcher

	watched := 0
	w.mu.Lock()
	for _, root := range sortedKeys(w.roots) {
		if err := watcher.Add(root); err != nil {
			log.Debug().Err(err).Str("root", root).Msg("skipping mount root")
			continue
		}
		watched++
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				w.present[filepath.Join(root, e.Name())] = struct{}{}
			}
		}
	}
	w.mu.Unlock()

	if watched == 0 {
		_ = watcher.Close()
		return ErrNoMountRoots
	}

	w.wg.Add(1)
	go w.loop()

	log.Debug().Int("roots", watched).Msg("started watching mount roots")
	return nil
}

func (w *MountWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		if w.watcher != nil {
			_ = w.watcher.Close()
		}
		w.wg.Wait()
		close(w.events)
	})
}

func (w *MountWatcher) loop() {
	defer w.wg.Done()

	debounce := w.clock.NewTimer(w.debounce)
	debounce.Stop()
	defer debounce.Stop()
	pending := make(map[string]struct{})

	for {
		select {
		case <-w.stopChan:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if _, ok := w.roots[filepath.Dir(ev.Name)]; !ok {
				continue
			}
			pending[ev.Name] = struct{}{}
			debounce.Reset(w.debounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("fsnotify error")

		case <-debounce.Chan():
			for _, p := range sortedKeys(pending) {
				ev, changed := w.check(p)
				if !changed {
					continue
				}
				select {
				case w.events <- ev:
				case <-w.stopChan:
					return
				}
			}
			pending = make(map[string]struct{})
		}
	}
}

// check compares the current state of path with what was last reported.
func (w *MountWatcher) check(path string) (Event, bool) {
	info, err := os.Stat(path)
	exists := err == nil && info.IsDir()

	w.mu.Lock()
	defer w.mu.Unlock()

	_, known := w.present[path]
	switch {
	case exists && !known:
		w.present[path] = struct{}{}
		log.Info().Str("path", path).Msg("device mount appeared")
		return Event{Type: DeviceAdded, Properties: map[string]string{PropMountPath: path}}, true
	case !exists && known:
		delete(w.present, path)
		log.Info().Str("path", path).Msg("device mount vanished")
		return Event{Type: DeviceRemoved, Properties: map[string]string{PropMountPath: path}}, true
	default:
		return Event{}, false
	}
}

// Present lists the mount directories currently known.
func (w *MountWatcher) Present() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return sortedKeys(w.present)
}
