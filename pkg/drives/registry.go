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

// Package drives gives one addressing scheme and one set of file
// operations over local volumes and MTP-class portable devices.
//
// Every drive is reached through a path of the form `<selector>:\a\b`, where
// the selector is a volume name (`data:\`), a device unique id
// (`{a1b2c3d4e5f6}:\`) or a class ordinal (`[a0]:\` for the first Android
// device). Selectors are resolved against the live drive list on every
// lookup, so a path stays valid across device reconnects.
package drives

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/localdisk"
	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/pathspec"
	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/scratch"
	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/settle"
	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/shell"
	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/usbid"
	"github.com/ZaparooProject/zaparoo-drives/pkg/helpers/syncutil"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultHotplugFirstDelay = 50 * time.Millisecond
	DefaultHotplugInterval   = 100 * time.Millisecond
	DefaultHotplugRetries    = 10
)

// Timings bounds every wait the registry performs.
type Timings struct {
	// Copy applies to single file copies, Bulk to each file of a bulk copy.
	Copy settle.Options
	Bulk settle.Options
	// Move applies to the delete-by-move of portable entries.
	Move settle.MoveOptions
	// HotplugFirstDelay is the pause before a newly attached device is
	// first looked for.
	HotplugFirstDelay time.Duration
	HotplugInterval   time.Duration
	HotplugRetries    int
}

func DefaultTimings() Timings {
	return Timings{
		Copy:              settle.DefaultOptions(),
		Bulk:              settle.BulkOptions(),
		Move:              settle.DefaultMoveOptions(),
		HotplugFirstDelay: DefaultHotplugFirstDelay,
		HotplugInterval:   DefaultHotplugInterval,
		HotplugRetries:    DefaultHotplugRetries,
	}
}

// Option configures a Registry.
type Option func(*Registry)

// WithFs sets the filesystem local drives live on. It defaults to the host
// filesystem.
func WithFs(fs afero.Fs) Option {
	return func(r *Registry) {
		r.fs = fs
	}
}

// WithShell sets the shell portable devices are reached through. Without
// one the registry only knows local drives.
func WithShell(sh shell.Shell) Option {
	return func(r *Registry) {
		r.sh = sh
	}
}

// WithLocalSource sets where local volumes come from.
func WithLocalSource(src localdisk.Source) Option {
	return func(r *Registry) {
		r.local = src
	}
}

// WithIdentities seeds known vid/pid to unique id pairings, as AddIdentities
// does.
func WithIdentities(ids ...usbid.Identity) Option {
	return func(r *Registry) {
		for _, id := range ids {
			vidPid := strings.ToLower(id.VidPid)
			if _, ok := r.identities[vidPid]; vidPid != "" && id.UniqueID != "" && !ok {
				r.identities[vidPid] = id.UniqueID
			}
		}
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(r *Registry) {
		r.clock = clock
	}
}

func WithTimings(t Timings) Option {
	return func(r *Registry) {
		r.timings = t
	}
}

// WithScratch sets where portable entries are moved before deletion.
func WithScratch(opts scratch.Options) Option {
	return func(r *Registry) {
		r.scratchOpts = &opts
	}
}

// Registry is the live drive list. All methods are safe for concurrent use;
// lookups always see a complete snapshot.
type Registry struct {
	fs          afero.Fs
	sh          shell.Shell
	local       localdisk.Source
	clock       clockwork.Clock
	ctx         context.Context
	scratchOpts *scratch.Options
	scratch     *scratch.Area
	identities  map[string]string
	cancel      context.CancelFunc
	drives      []Drive
	timings     Timings
	bg          sync.WaitGroup
	refreshMu   syncutil.Mutex
	scratchMu   syncutil.Mutex
	mu          syncutil.RWMutex
}

// New returns an empty registry. Call Refresh to populate it.
func New(opts ...Option) *Registry {
	r := &Registry{
		fs:         afero.NewOsFs(),
		clock:      clockwork.NewRealClock(),
		timings:    DefaultTimings(),
		identities: make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.local == nil {
		r.local = localdisk.NewEnumerator(nil, true)
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return r
}

// Scratch returns the scratch area, opening it on first use.
func (r *Registry) Scratch() (*scratch.Area, error) {
	r.scratchMu.Lock()
	defer r.scratchMu.Unlock()
	if r.scratch != nil {
		return r.scratch, nil
	}
	var opts scratch.Options
	if r.scratchOpts != nil {
		opts = *r.scratchOpts
	} else {
		_, onHost := r.fs.(*afero.OsFs)
		opts.Lock = onHost
	}
	area, err := scratch.Open(r.fs, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open scratch area: %w", err)
	}
	r.scratch = area
	return area, nil
}

// Refresh re-enumerates local volumes and portable devices. Portable
// drives still visible under the same root path are kept as they are. When
// one half fails, the drives of that kind from the previous snapshot stay
// and the error is returned alongside the updated list.
func (r *Registry) Refresh(ctx context.Context) error {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	old := r.Drives()

	var locals, portables []Drive
	var localErr, portableErr error
	var g errgroup.Group
	g.Go(func() error {
		locals, localErr = r.enumerateLocal(ctx)
		return nil
	})
	g.Go(func() error {
		portables, portableErr = r.enumeratePortable(ctx, old)
		return nil
	})
	_ = g.Wait()

	if localErr != nil {
		log.Error().Err(localErr).Msg("failed to enumerate local drives, keeping previous")
		locals = ofKind(old, KindLocal)
		localErr = fmt.Errorf("%w: %w", ErrLocalEnumeration, localErr)
	}
	if portableErr != nil {
		log.Error().Err(portableErr).Msg("failed to enumerate portable drives, keeping previous")
		portables = ofKind(old, KindPortable)
		portableErr = fmt.Errorf("%w: %w", ErrPortableEnumeration, portableErr)
	}

	next := make([]Drive, 0, len(locals)+len(portables))
	next = append(next, locals...)
	next = append(next, portables...)

	r.mu.Lock()
	r.drives = next
	r.applyIdentitiesLocked()
	r.mu.Unlock()

	log.Debug().Int("local", len(locals)).Int("portable", len(portables)).Msg("drives refreshed")
	return errors.Join(localErr, portableErr)
}

func ofKind(drives []Drive, kind Kind) []Drive {
	var out []Drive
	for _, d := range drives {
		if d.Kind() == kind {
			out = append(out, d)
		}
	}
	return out
}

func (r *Registry) enumerateLocal(ctx context.Context) ([]Drive, error) {
	vols, err := r.local.Volumes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list volumes: %w", err)
	}
	drives := make([]Drive, 0, len(vols))
	for _, vol := range vols {
		drives = append(drives, newLocalDrive(r.fs, vol))
	}
	return drives, nil
}

func (r *Registry) enumeratePortable(ctx context.Context, old []Drive) ([]Drive, error) {
	if r.sh == nil {
		return nil, nil
	}
	devices, err := r.sh.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	known := make(map[string]*PortableDrive)
	for _, d := range old {
		if pd, ok := d.(*PortableDrive); ok {
			known[pd.RootName()] = pd
		}
	}

	drives := make([]Drive, 0, len(devices))
	for _, dev := range devices {
		if pd, ok := known[dev.Path]; ok {
			drives = append(drives, pd)
			continue
		}
		pd := newPortableDrive(r, r.sh, dev)
		log.Info().
			Str("name", pd.FriendlyName()).
			Str("id", pd.UniqueID()).
			Stringer("class", pd.Class()).
			Msg("portable drive found")
		drives = append(drives, pd)
	}
	return drives, nil
}

// applyIdentitiesLocked gives portable drives the unique id learned for
// their vendor/product pairing. r.mu must be held.
func (r *Registry) applyIdentitiesLocked() {
	for _, d := range r.drives {
		pd, ok := d.(*PortableDrive)
		if !ok || pd.VidPid() == "" {
			continue
		}
		if id, ok := r.identities[pd.VidPid()]; ok && id != pd.UniqueID() {
			log.Debug().Str("vidpid", pd.VidPid()).Str("id", id).Msg("portable drive identity updated")
			pd.setUniqueID(id)
		}
	}
}

// SeedIdentities learns unique ids from a listing of devices already
// attached, one property bag per device in the same form as hot-plug
// events. The first record of a vid/pid pairing wins.
func (r *Registry) SeedIdentities(records []map[string]string) {
	ids := make([]usbid.Identity, 0, len(records))
	for _, rec := range records {
		ev, err := decodeEvent(rec)
		if err != nil {
			continue
		}
		if id, ok := ev.identity(); ok {
			ids = append(ids, id)
		}
	}
	r.AddIdentities(ids...)
}

// AddIdentities records known vid/pid to unique id pairings, such as those
// persisted from an earlier run. Pairings already known are kept.
func (r *Registry) AddIdentities(ids ...usbid.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		vidPid := strings.ToLower(id.VidPid)
		if vidPid == "" || id.UniqueID == "" {
			continue
		}
		if _, ok := r.identities[vidPid]; !ok {
			r.identities[vidPid] = id.UniqueID
		}
	}
	r.applyIdentitiesLocked()
}

// Identities returns the known vid/pid to unique id pairings.
func (r *Registry) Identities() []usbid.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]usbid.Identity, 0, len(r.identities))
	for vidPid, id := range r.identities {
		ids = append(ids, usbid.Identity{VidPid: vidPid, UniqueID: id})
	}
	return ids
}

// Drives returns the current snapshot, local drives first.
func (r *Registry) Drives() []Drive {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Drive(nil), r.drives...)
}

// TryGetDrive resolves a drive selector such as `C:\`, `{id}` or `[a0]`.
// Names and unique ids compare ignoring case. It returns nil when nothing
// matches.
func (r *Registry) TryGetDrive(selector string) Drive {
	sel, err := pathspec.ParseSelector(selector)
	if err != nil {
		log.Debug().Err(err).Str("selector", selector).Msg("bad drive selector")
		return nil
	}
	return r.lookup(sel)
}

func (r *Registry) lookup(sel pathspec.Selector) Drive {
	snapshot := r.Drives()
	switch sel.Kind {
	case pathspec.ByName:
		prefix := sel.String()
		for _, d := range snapshot {
			if pathspec.EqualFold(d.RootName(), prefix) || pathspec.EqualFold(d.RootName(), sel.Name) {
				return d
			}
		}
	case pathspec.ByUniqueID:
		for _, d := range snapshot {
			if pathspec.EqualFold(d.UniqueID(), sel.Name) {
				return d
			}
		}
	case pathspec.ByOrdinal:
		idx := 0
		for _, d := range snapshot {
			if !d.Class().matches(sel.Class) {
				continue
			}
			if idx == sel.Index {
				return d
			}
			idx++
		}
	}
	return nil
}

// GetDrive is TryGetDrive returning ErrNotFound instead of nil. Ordinal
// selectors index the current snapshot, so the drive behind [a0] can change
// after a refresh.
func (r *Registry) GetDrive(selector string) (Drive, error) {
	sel, err := pathspec.ParseSelector(selector)
	if err != nil {
		return nil, err
	}
	d := r.lookup(sel)
	if d == nil {
		return nil, fmt.Errorf("%w: drive %s", ErrNotFound, sel)
	}
	return d, nil
}

// ResolvePath splits path and finds its drive, returning the drive and the
// relative part.
func (r *Registry) ResolvePath(path string) (Drive, string, error) {
	p, err := pathspec.Parse(path)
	if err != nil {
		return nil, "", err
	}
	d := r.lookup(p.Selector)
	if d == nil {
		return nil, "", fmt.Errorf("%w: drive %s", ErrNotFound, p.Drive)
	}
	return d, p.Rest, nil
}

func (r *Registry) ParseFolder(path string) (Folder, error) {
	d, rest, err := r.ResolvePath(path)
	if err != nil {
		return nil, err
	}
	return d.ParseFolder(rest)
}

func (r *Registry) TryParseFolder(path string) Folder {
	f, err := r.ParseFolder(path)
	if err != nil {
		log.Debug().Err(err).Str("path", path).Msg("folder not resolved")
		return nil
	}
	return f
}

func (r *Registry) ParseFile(path string) (File, error) {
	d, rest, err := r.ResolvePath(path)
	if err != nil {
		return nil, err
	}
	return d.ParseFile(rest)
}

func (r *Registry) TryParseFile(path string) File {
	f, err := r.ParseFile(path)
	if err != nil {
		log.Debug().Err(err).Str("path", path).Msg("file not resolved")
		return nil
	}
	return f
}

// CreateFolderPath creates every missing folder along path and returns the
// last one. Creating an existing path is not an error.
func (r *Registry) CreateFolderPath(path string) (Folder, error) {
	d, rest, err := r.ResolvePath(path)
	if err != nil {
		return nil, err
	}
	f, err := d.CreateFolder(rest)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return f, nil
}

// goBackground runs fn on a goroutine tracked by Close.
func (r *Registry) goBackground(fn func(ctx context.Context)) {
	r.bg.Add(1)
	go func() {
		defer r.bg.Done()
		fn(r.ctx)
	}()
}

// Close waits for background transfers and hot-plug lookups until ctx is
// done, then cancels whatever is left and releases the scratch area.
func (r *Registry) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.bg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("background work still running: %w", ctx.Err())
		r.cancel()
		<-done
	}
	r.cancel()

	r.scratchMu.Lock()
	defer r.scratchMu.Unlock()
	if r.scratch != nil {
		if closeErr := r.scratch.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close scratch area: %w", closeErr))
		}
	}
	return err
}
