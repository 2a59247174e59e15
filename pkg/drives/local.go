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
	"io/fs"
	"path/filepath"
	"time"

	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/localdisk"
	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/pathspec"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// LocalDrive is a volume of the host filesystem. Its root name is the
// volume name followed by the drive terminator, e.g. `C:\` or `data:\`.
type LocalDrive struct {
	fs    afero.Fs
	name  string
	root  string
	label string
	class Class
}

var _ Drive = (*LocalDrive)(nil)

func newLocalDrive(afs afero.Fs, vol localdisk.Volume) *LocalDrive {
	class, err := ParseClass(vol.Class)
	if err != nil {
		class = ClassInternalHDD
	}
	return &LocalDrive{
		fs:    afs,
		name:  vol.Name,
		root:  vol.Root,
		label: vol.Label,
		class: class,
	}
}

func (*LocalDrive) sealed() {}
func (*LocalDrive) Kind() Kind { return KindLocal }
func (d *LocalDrive) Class() Class { return d.class }

func (d *LocalDrive) RootName() string {
	return d.name + pathspec.Terminator
}

func (d *LocalDrive) UniqueID() string {
	return d.RootName()
}

func (d *LocalDrive) FriendlyName() string {
	if d.label != "" {
		return d.label
	}
	return d.RootName()
}

// HostRoot returns the host directory the drive maps to.
func (d *LocalDrive) HostRoot() string {
	return d.root
}

func (*LocalDrive) IsConnected() bool {
	return true
}

func (d *LocalDrive) IsAvailable() bool {
	ok, err := afero.DirExists(d.fs, d.root)
	return err == nil && ok
}

func (d *LocalDrive) Root() Folder {
	return &localFolder{drive: d}
}

func (d *LocalDrive) host(segs []string) string {
	return filepath.Join(append([]string{d.root}, segs...)...)
}

// lookup finds name inside dir, exactly first and then ignoring case.
func (d *LocalDrive) lookup(dir, name string) (string, fs.FileInfo, error) {
	if info, err := d.fs.Stat(filepath.Join(dir, name)); err == nil {
		return name, info, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", nil, classify(err)
	}
	infos, err := afero.ReadDir(d.fs, dir)
	if err != nil {
		return "", nil, classify(err)
	}
	for _, info := range infos {
		if pathspec.EqualFold(info.Name(), name) {
			return info.Name(), info, nil
		}
	}
	return "", nil, fmt.Errorf("%w: %s", ErrNotFound, filepath.Join(dir, name))
}

// soleChild resolves the wildcard segment inside dir.
func (d *LocalDrive) soleChild(dir string) (string, error) {
	infos, err := afero.ReadDir(d.fs, dir)
	if err != nil {
		return "", classify(err)
	}
	if len(infos) != 1 || !infos[0].IsDir() {
		return "", fmt.Errorf("%w: %s does not hold a single root folder", ErrMalformedPath, dir)
	}
	return infos[0].Name(), nil
}

// resolve walks segs from the root and returns the actual names found.
func (d *LocalDrive) resolve(segs []string) ([]string, fs.FileInfo, error) {
	dir := d.root
	actual := make([]string, 0, len(segs))
	info, err := d.fs.Stat(dir)
	if err != nil {
		return nil, nil, classify(err)
	}
	for i, seg := range segs {
		if !info.IsDir() {
			return nil, nil, fmt.Errorf("%w: %s is a file", ErrNotFound, dir)
		}
		if i == 0 && seg == pathspec.Wildcard {
			if seg, err = d.soleChild(dir); err != nil {
				return nil, nil, err
			}
		} else if err := pathspec.CheckSegment(seg); err != nil {
			return nil, nil, err
		}
		var name string
		name, info, err = d.lookup(dir, seg)
		if err != nil {
			return nil, nil, err
		}
		actual = append(actual, name)
		dir = filepath.Join(dir, name)
	}
	return actual, info, nil
}

func (d *LocalDrive) ParseFolder(rest string) (Folder, error) {
	segs, info, err := d.resolve(pathspec.Segments(rest))
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a folder", ErrNotFound, pathspec.Join(d.RootName(), segs...))
	}
	return &localFolder{drive: d, segs: segs}, nil
}

func (d *LocalDrive) TryParseFolder(rest string) Folder {
	f, err := d.ParseFolder(rest)
	if err != nil {
		log.Debug().Err(err).Str("drive", d.RootName()).Str("path", rest).Msg("folder not resolved")
		return nil
	}
	return f
}

func (d *LocalDrive) ParseFile(rest string) (File, error) {
	segs, info, err := d.resolve(pathspec.Segments(rest))
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 || info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a file", ErrNotFound, pathspec.Join(d.RootName(), segs...))
	}
	return &localFile{drive: d, segs: segs}, nil
}

func (d *LocalDrive) TryParseFile(rest string) File {
	f, err := d.ParseFile(rest)
	if err != nil {
		log.Debug().Err(err).Str("drive", d.RootName()).Str("path", rest).Msg("file not resolved")
		return nil
	}
	return f
}

func (d *LocalDrive) CreateFolder(rest string) (Folder, error) {
	dir := d.root
	var actual []string
	for i, seg := range pathspec.Segments(rest) {
		if i == 0 && seg == pathspec.Wildcard {
			var err error
			if seg, err = d.soleChild(dir); err != nil {
				return nil, err
			}
		} else if err := pathspec.CheckSegment(seg); err != nil {
			return nil, err
		}

		name, info, err := d.lookup(dir, seg)
		switch {
		case errors.Is(err, ErrNotFound):
			name = seg
			if err := d.fs.Mkdir(filepath.Join(dir, name), 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
				return nil, fmt.Errorf("could not create part of path %s: %w", rest, err)
			}
		case err != nil:
			return nil, err
		case !info.IsDir():
			return nil, fmt.Errorf("part of path %s is a file: %s", rest, name)
		}
		actual = append(actual, name)
		dir = filepath.Join(dir, name)
	}
	return &localFolder{drive: d, segs: actual}, nil
}

type localFolder struct {
	drive *LocalDrive
	segs  []string
}

var _ Folder = (*localFolder)(nil)

func (*localFolder) Kind() Kind { return KindLocal }
func (f *localFolder) Drive() Drive { return f.drive }
func (f *localFolder) Invalidate() {}
func (f *localFolder) hostPath() string { return f.drive.host(f.segs) }

func (f *localFolder) Name() string {
	if len(f.segs) == 0 {
		return f.drive.RootName()
	}
	return f.segs[len(f.segs)-1]
}

func (f *localFolder) FullPath() string {
	return pathspec.Join(f.drive.RootName(), f.segs...)
}

func (f *localFolder) Exists() bool {
	ok, err := afero.DirExists(f.drive.fs, f.hostPath())
	return err == nil && ok
}

func (f *localFolder) Parent() Folder {
	if len(f.segs) == 0 {
		return nil
	}
	return &localFolder{drive: f.drive, segs: f.segs[:len(f.segs)-1]}
}

func (f *localFolder) locate() locator {
	return locator{kind: KindLocal, host: f.hostPath()}
}

func (f *localFolder) read() ([]fs.FileInfo, error) {
	infos, err := afero.ReadDir(f.drive.fs, f.hostPath())
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", f.FullPath(), classify(err))
	}
	return infos, nil
}

func (f *localFolder) child(name string) []string {
	segs := make([]string, len(f.segs), len(f.segs)+1)
	copy(segs, f.segs)
	return append(segs, name)
}

func (f *localFolder) Files() ([]File, error) {
	infos, err := f.read()
	if err != nil {
		return nil, err
	}
	var files []File
	for _, info := range infos {
		if !info.IsDir() {
			files = append(files, &localFile{drive: f.drive, segs: f.child(info.Name())})
		}
	}
	return files, nil
}

func (f *localFolder) Folders() ([]Folder, error) {
	infos, err := f.read()
	if err != nil {
		return nil, err
	}
	var folders []Folder
	for _, info := range infos {
		if info.IsDir() {
			folders = append(folders, &localFolder{drive: f.drive, segs: f.child(info.Name())})
		}
	}
	return folders, nil
}

type localFile struct {
	drive *LocalDrive
	// segs ends with the file name.
	segs []string
}

var _ File = (*localFile)(nil)

func (*localFile) Kind() Kind { return KindLocal }
func (f *localFile) Drive() Drive { return f.drive }
func (f *localFile) Name() string { return f.segs[len(f.segs)-1] }
func (f *localFile) hostPath() string { return f.drive.host(f.segs) }

func (f *localFile) FullPath() string {
	return pathspec.Join(f.drive.RootName(), f.segs...)
}

func (f *localFile) Folder() Folder {
	return &localFolder{drive: f.drive, segs: f.segs[:len(f.segs)-1]}
}

func (f *localFile) Exists() bool {
	info, err := f.drive.fs.Stat(f.hostPath())
	return err == nil && !info.IsDir()
}

func (f *localFile) Size() int64 {
	info, err := f.drive.fs.Stat(f.hostPath())
	if err != nil {
		return -1
	}
	return info.Size()
}

func (f *localFile) LastWriteTime() time.Time {
	info, err := f.drive.fs.Stat(f.hostPath())
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func (f *localFile) locate() locator {
	return locator{kind: KindLocal, host: f.hostPath()}
}
