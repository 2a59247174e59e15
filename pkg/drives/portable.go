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
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/pathspec"
	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/shell"
	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/usbid"
	"github.com/ZaparooProject/zaparoo-drives/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
)

// PortableDrive is an MTP-class device reached through the shell. The
// registry keeps reusing the same instance while the device stays visible,
// so its cached listing and connection flag survive a refresh.
type PortableDrive struct {
	reg      *Registry
	sh       shell.Shell
	root     shell.Item
	listing  *listing
	rootPath string
	friendly string
	vidPid   string
	class    Class

	mu        syncutil.RWMutex
	uniqueID  string
	connected bool
}

var _ Drive = (*PortableDrive)(nil)

func newPortableDrive(reg *Registry, sh shell.Shell, dev shell.Device) *PortableDrive {
	vidPid := strings.ToLower(dev.VidPid)
	if vidPid == "" {
		vidPid, _ = usbid.VidPidFromPath(dev.Path)
	}
	uniqueID := vidPid
	// Some devices (iPhones) never report a serial that can be matched
	// to their vid/pid, the root path is the best source then.
	if fromPath := usbid.UniqueIDFromRootPath(dev.Path); fromPath != "" {
		uniqueID = fromPath
	}
	if uniqueID == "" {
		uniqueID = filepath.Base(dev.Path)
	}

	d := &PortableDrive{
		reg:       reg,
		sh:        sh,
		root:      dev.Root,
		listing:   &listing{},
		rootPath:  dev.Path,
		friendly:  dev.Name,
		vidPid:    vidPid,
		uniqueID:  uniqueID,
		connected: true,
	}
	d.class = detectClass(sh, dev.Root, dev.Name)
	return d
}

func (*PortableDrive) sealed() {}
func (*PortableDrive) Kind() Kind { return KindPortable }
func (d *PortableDrive) Class() Class { return d.class }
func (d *PortableDrive) RootName() string { return d.rootPath }

func (d *PortableDrive) FriendlyName() string {
	return d.friendly
}

// VidPid is the USB vendor/product pairing, e.g. "vid_04e8&pid_6860".
func (d *PortableDrive) VidPid() string {
	return d.vidPid
}

func (d *PortableDrive) UniqueID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.uniqueID
}

func (d *PortableDrive) setUniqueID(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.uniqueID = id
}

// IsConnected reports the USB reachability flag maintained by hot-plug
// events.
func (d *PortableDrive) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

func (d *PortableDrive) setConnected(connected bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = connected
}

// IsAvailable reports whether the device content can be browsed. An iOS
// device shows an empty storage until the computer is trusted, so it also
// needs a DCIM folder.
func (d *PortableDrive) IsAvailable() bool {
	if !d.IsConnected() {
		return false
	}
	children, err := d.sh.Children(d.root)
	if err != nil || len(children) == 0 {
		return false
	}
	if !d.class.IsIOS() {
		return true
	}
	return d.TryParseFolder(pathspec.Wildcard+pathspec.Separator+"dcim") != nil
}

func (d *PortableDrive) prefix() string {
	return pathspec.Selector{Kind: pathspec.ByUniqueID, Name: d.UniqueID()}.String()
}

// live returns the drive currently registered under this drive's unique
// id, which differs from d after the device reconnected.
func (d *PortableDrive) live() *PortableDrive {
	if d.reg == nil {
		return d
	}
	if cur, ok := d.reg.TryGetDrive(d.prefix()).(*PortableDrive); ok {
		return cur
	}
	return d
}

func (d *PortableDrive) Root() Folder {
	return &portableFolder{drive: d, item: d.root, cache: d.listing}
}

// resolve walks segs from the device root and returns the actual names
// found. A leading `*` steps into the sole top-level folder.
func (d *PortableDrive) resolve(segs []string) ([]string, shell.Item, error) {
	cur := d.root
	actual := make([]string, 0, len(segs))
	for i, seg := range segs {
		if !cur.IsFolder() {
			return nil, nil, fmt.Errorf("%w: %s is a file", ErrNotFound, cur.Name())
		}
		if i == 0 && seg == pathspec.Wildcard {
			child, err := d.soleChild(cur)
			if err != nil {
				return nil, nil, err
			}
			cur = child
		} else {
			if err := pathspec.CheckSegment(seg); err != nil {
				return nil, nil, err
			}
			next, err := d.sh.Lookup(cur, seg)
			if err != nil {
				return nil, nil, classify(err)
			}
			cur = next
		}
		actual = append(actual, cur.Name())
	}
	return actual, cur, nil
}

func (d *PortableDrive) soleChild(folder shell.Item) (shell.Item, error) {
	children, err := d.sh.Children(folder)
	if err != nil {
		return nil, classify(err)
	}
	if len(children) != 1 || !children[0].IsFolder() {
		return nil, fmt.Errorf("%w: %s does not hold a single root folder", ErrMalformedPath, d.friendly)
	}
	return children[0], nil
}

func (d *PortableDrive) ParseFolder(rest string) (Folder, error) {
	segs, item, err := d.resolve(pathspec.Segments(rest))
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		return d.Root(), nil
	}
	if !item.IsFolder() {
		return nil, fmt.Errorf("%w: %s is not a folder", ErrNotFound, pathspec.Join(d.prefix(), segs...))
	}
	return &portableFolder{drive: d, item: item, segs: segs, cache: &listing{}}, nil
}

func (d *PortableDrive) TryParseFolder(rest string) Folder {
	f, err := d.ParseFolder(rest)
	if err != nil {
		log.Debug().Err(err).Str("drive", d.friendly).Str("path", rest).Msg("folder not resolved")
		return nil
	}
	return f
}

func (d *PortableDrive) ParseFile(rest string) (File, error) {
	segs, item, err := d.resolve(pathspec.Segments(rest))
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 || item.IsFolder() {
		return nil, fmt.Errorf("%w: %s is not a file", ErrNotFound, pathspec.Join(d.prefix(), segs...))
	}
	return &portableFile{drive: d, item: item, segs: segs}, nil
}

func (d *PortableDrive) TryParseFile(rest string) File {
	f, err := d.ParseFile(rest)
	if err != nil {
		log.Debug().Err(err).Str("drive", d.friendly).Str("path", rest).Msg("file not resolved")
		return nil
	}
	return f
}

func (d *PortableDrive) CreateFolder(rest string) (Folder, error) {
	cur := d.root
	var actual []string
	for i, seg := range pathspec.Segments(rest) {
		if i == 0 && seg == pathspec.Wildcard {
			child, err := d.soleChild(cur)
			if err != nil {
				return nil, err
			}
			cur = child
			actual = append(actual, cur.Name())
			continue
		}
		if err := pathspec.CheckSegment(seg); err != nil {
			return nil, err
		}

		sub, err := d.sh.Lookup(cur, seg)
		if errors.Is(err, shell.ErrNotFound) {
			if err := d.sh.NewFolder(cur, seg); err != nil {
				return nil, fmt.Errorf("could not create part of path %s: %w", rest, err)
			}
			sub, err = d.sh.Lookup(cur, seg)
		}
		if err != nil {
			return nil, fmt.Errorf("could not create part of path %s: %w", rest, classify(err))
		}
		if !sub.IsFolder() {
			return nil, fmt.Errorf("part of path %s is a file: %s", rest, sub.Name())
		}
		cur = sub
		actual = append(actual, cur.Name())
	}
	if len(actual) == 0 {
		return d.Root(), nil
	}
	return &portableFolder{drive: d, item: cur, segs: actual, cache: &listing{}}, nil
}

// listing is the once-populated child list of a portable folder.
type listing struct {
	folders []Folder
	files   []File
	mu      syncutil.Mutex
	done    bool
}

func (l *listing) get(load func() ([]Folder, []File, error)) ([]Folder, []File, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return l.folders, l.files, nil
	}
	folders, files, err := load()
	if err != nil {
		return nil, nil, err
	}
	l.folders, l.files, l.done = folders, files, true
	return folders, files, nil
}

func (l *listing) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.folders, l.files, l.done = nil, nil, false
}

type portableFolder struct {
	drive *PortableDrive
	cache *listing
	// item is nil until resolved when the folder was derived from a child
	// and its shell item could not be looked up. Guarded by itemMu.
	item   shell.Item
	segs   []string
	itemMu syncutil.Mutex
}

var _ Folder = (*portableFolder)(nil)

func (*portableFolder) Kind() Kind { return KindPortable }
func (f *portableFolder) Drive() Drive { return f.drive }
func (f *portableFolder) Invalidate() { f.cache.reset() }

func (f *portableFolder) Name() string {
	if len(f.segs) == 0 {
		return f.drive.friendly
	}
	return f.segs[len(f.segs)-1]
}

func (f *portableFolder) FullPath() string {
	return pathspec.Join(f.drive.prefix(), f.segs...)
}

func (f *portableFolder) Exists() bool {
	d := f.drive.live()
	return d.IsAvailable() && d.TryParseFolder(strings.Join(f.segs, pathspec.Separator)) != nil
}

func (f *portableFolder) Parent() Folder {
	f.itemMu.Lock()
	item := f.item
	f.itemMu.Unlock()
	return f.drive.folderAt(item, f.segs, len(f.segs)-1)
}

func (f *portableFolder) shellItem() (shell.Item, error) {
	f.itemMu.Lock()
	defer f.itemMu.Unlock()
	if f.item != nil {
		return f.item, nil
	}
	_, item, err := f.drive.resolve(f.segs)
	if err != nil {
		return nil, err
	}
	f.item = item
	return item, nil
}

func (f *portableFolder) locate() locator {
	item, _ := f.shellItem()
	return locator{kind: KindPortable, drive: f.drive, item: item}
}

func (f *portableFolder) load() ([]Folder, []File, error) {
	item, err := f.shellItem()
	if err != nil {
		return nil, nil, err
	}
	children, err := f.drive.sh.Children(item)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list %s: %w", f.FullPath(), classify(err))
	}

	var folders []Folder
	var files []File
	for _, child := range children {
		segs := make([]string, len(f.segs), len(f.segs)+1)
		copy(segs, f.segs)
		segs = append(segs, child.Name())
		switch {
		case child.IsLink():
			log.Debug().Str("path", child.Path()).Msg("skipping shortcut on portable device")
		case child.IsFolder():
			folders = append(folders, &portableFolder{drive: f.drive, item: child, segs: segs, cache: &listing{}})
		default:
			files = append(files, &portableFile{drive: f.drive, item: child, segs: segs})
		}
	}
	return folders, files, nil
}

func (f *portableFolder) Files() ([]File, error) {
	_, files, err := f.cache.get(f.load)
	return files, err
}

func (f *portableFolder) Folders() ([]Folder, error) {
	folders, _, err := f.cache.get(f.load)
	return folders, err
}

// folderAt returns the ancestor holding the first n segments of segs,
// where item is the entry at segs.
func (d *PortableDrive) folderAt(item shell.Item, segs []string, n int) Folder {
	switch {
	case n < 0:
		return nil
	case n == 0:
		return d.Root()
	}
	var parent shell.Item
	if item != nil && n == len(segs)-1 {
		if p, err := d.sh.Parent(item); err == nil {
			parent = p
		}
	}
	return &portableFolder{drive: d, item: parent, segs: segs[:n:n], cache: &listing{}}
}

type portableFile struct {
	drive *PortableDrive
	item  shell.Item
	// segs ends with the file name.
	segs []string
}

var _ File = (*portableFile)(nil)

func (*portableFile) Kind() Kind { return KindPortable }
func (f *portableFile) Drive() Drive { return f.drive }
func (f *portableFile) Name() string { return f.item.Name() }

func (f *portableFile) FullPath() string {
	return pathspec.Join(f.drive.prefix(), f.segs...)
}

func (f *portableFile) Folder() Folder {
	return f.drive.folderAt(f.item, f.segs, len(f.segs)-1)
}

func (f *portableFile) Exists() bool {
	d := f.drive.live()
	return d.IsAvailable() && d.TryParseFile(strings.Join(f.segs, pathspec.Separator)) != nil
}

func (f *portableFile) locate() locator {
	return locator{kind: KindPortable, drive: f.drive, item: f.item}
}

// Size reads the "size" property, falling back to the size column as
// displayed, e.g. "3.34 KB".
func (f *portableFile) Size() int64 {
	return itemSize(f.drive.sh, f.item)
}

func itemSize(sh shell.Shell, item shell.Item) int64 {
	size, _ := readItemSize(sh, item)
	return size
}

// readItemSize is itemSize also reporting whether the size is exact. Sizes
// parsed from the size column are rounded to what it displays.
func readItemSize(sh shell.Shell, item shell.Item) (size int64, exact bool) {
	v, err := sh.ExtendedProperty(item, shell.PropertySize)
	if err == nil {
		switch n := v.(type) {
		case int64:
			return n, true
		case uint64:
			return int64(n), true //nolint:gosec // sizes fit
		case int:
			return int64(n), true
		}
	}
	detail, err := sh.DetailsOf(item, shell.DetailSize)
	if err != nil {
		return -1, false
	}
	size, ok := ParseDisplaySize(detail)
	if !ok {
		log.Debug().Str("path", item.Path()).Str("size", detail).Msg("unreadable size column")
		return -1, false
	}
	return size, false
}

func (f *portableFile) LastWriteTime() time.Time {
	if v, err := f.drive.sh.ExtendedProperty(f.item, shell.PropertyWrite); err == nil {
		if t, ok := v.(time.Time); ok {
			return t
		}
	}
	detail, err := f.drive.sh.DetailsOf(f.item, shell.DetailModified)
	if err != nil {
		return time.Time{}
	}
	return ParseDisplayTime(detail)
}

var sizeUnits = []struct {
	suffix string
	mult   float64
}{
	{"bytes", 1},
	{"byte", 1},
	{"kb", 1 << 10},
	{"mb", 1 << 20},
	{"gb", 1 << 30},
	{"b", 1},
}

// ParseDisplaySize parses a size column such as "3.34 KB" or "512 bytes".
func ParseDisplaySize(s string) (int64, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	mult := 1.0
	for _, u := range sizeUnits {
		if strings.HasSuffix(s, u.suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			mult = u.mult
			break
		}
	}
	s = strings.ReplaceAll(s, ",", "")
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return int64(n * mult), true
}

var displayTimeLayouts = []string{
	"1/2/2006 15:04",
	"1/2/2006 3:04 PM",
	time.DateTime,
	"2006-01-02 15:04",
}

// ParseDisplayTime parses a modified column such as "5/11/2017 08:29",
// returning the zero time when no layout fits.
func ParseDisplayTime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range displayTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t
		}
	}
	return time.Time{}
}
