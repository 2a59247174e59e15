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

// Package fsshell implements shell.Shell over a filesystem where every
// directory under a mount root is one portable device, the layout gvfs,
// jmtpfs and go-mtpfs produce for MTP devices.
//
// Copies and moves run in the background and write in chunks, so callers
// see the destination grow the same way they would on a real device.
package fsshell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/pathspec"
	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/shell"
	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/usbid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const DefaultChunkSize = 1 << 20

// Options configures a Shell.
type Options struct {
	Clock clockwork.Clock
	// MountRoots are the directories whose sub-directories are devices.
	MountRoots []string
	// ChunkSize is the number of bytes written per step of a copy.
	ChunkSize int
	// ChunkDelay is the pause between two chunks.
	ChunkDelay time.Duration
	// HonorFilter makes Filter return only the named files. MTP sources
	// usually ignore the filter and return the whole folder.
	HonorFilter bool
	// DetailsOnly makes ExtendedProperty fail, leaving DetailsOf as the only
	// way to read sizes and dates.
	DetailsOnly bool
}

// Shell is a filesystem backed shell.Shell.
type Shell struct {
	fs    afero.Fs
	clock clockwork.Clock
	opts  Options
	wg    sync.WaitGroup
}

var _ shell.Shell = (*Shell)(nil)

// New returns a shell over fs.
func New(fs afero.Fs, opts Options) *Shell {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Shell{fs: fs, clock: clock, opts: opts}
}

// Wait blocks until every copy and move started so far has finished.
func (s *Shell) Wait() {
	s.wg.Wait()
}

type item struct {
	path   string
	name   string
	folder bool
	link   bool
}

func (i item) Name() string   { return i.name }
func (i item) Path() string   { return i.path }
func (i item) IsFolder() bool { return i.folder }
func (i item) IsLink() bool   { return i.link }

func newItem(p string, info fs.FileInfo) item {
	return item{
		path:   p,
		name:   info.Name(),
		folder: info.IsDir(),
		link:   info.Mode()&os.ModeSymlink != 0,
	}
}

func (s *Shell) stat(p string) (item, error) {
	info, err := s.fs.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return item{}, fmt.Errorf("%w: %s", shell.ErrNotFound, p)
	} else if err != nil {
		return item{}, fmt.Errorf("failed to stat %s: %w", p, err)
	}
	return newItem(p, info), nil
}

func (s *Shell) Devices(ctx context.Context) ([]shell.Device, error) {
	var devices []shell.Device
	for _, root := range s.opts.MountRoots {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("device scan interrupted: %w", err)
		}
		entries, err := afero.ReadDir(s.fs, root)
		if errors.Is(err, fs.ErrNotExist) {
			log.Debug().Str("root", root).Msg("portable mount root missing")
			continue
		} else if err != nil {
			return nil, fmt.Errorf("failed to read mount root %s: %w", root, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			p := filepath.Join(root, entry.Name())
			vidPid, _ := usbid.VidPidFromPath(entry.Name())
			devices = append(devices, shell.Device{
				Root:   newItem(p, entry),
				Name:   FriendlyName(entry.Name()),
				Path:   p,
				VidPid: vidPid,
			})
		}
	}
	return devices, nil
}

// FriendlyName turns a mount directory name such as
// "gphoto2:host=Apple_Inc._iPhone_0123" into "Apple Inc. iPhone 0123".
func FriendlyName(dir string) string {
	const hostKey = "host="
	idx := strings.Index(dir, hostKey)
	if idx < 0 {
		return dir
	}
	name := dir[idx+len(hostKey):]
	if unquoted, err := unescapeMountName(name); err == nil {
		name = unquoted
	}
	return strings.TrimSpace(strings.ReplaceAll(name, "_", " "))
}

// gvfs escapes reserved characters as %XX.
func unescapeMountName(s string) (string, error) {
	if !strings.Contains(s, "%") {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '%' || i+2 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		v, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
		if err != nil {
			return "", fmt.Errorf("bad escape in %q: %w", s, err)
		}
		b.WriteByte(byte(v))
		i += 2
	}
	return b.String(), nil
}

func (s *Shell) Children(folder shell.Item) ([]shell.Item, error) {
	entries, err := afero.ReadDir(s.fs, folder.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", shell.ErrNotFound, folder.Path())
	} else if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", folder.Path(), err)
	}
	items := make([]shell.Item, 0, len(entries))
	for _, entry := range entries {
		items = append(items, newItem(filepath.Join(folder.Path(), entry.Name()), entry))
	}
	return items, nil
}

func (s *Shell) Lookup(folder shell.Item, name string) (shell.Item, error) {
	if err := pathspec.CheckSegment(name); err != nil {
		return nil, fmt.Errorf("%w: %w", shell.ErrNotFound, err)
	}
	if it, err := s.stat(filepath.Join(folder.Path(), name)); err == nil {
		return it, nil
	}
	children, err := s.Children(folder)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		if pathspec.EqualFold(child.Name(), name) {
			return child, nil
		}
	}
	return nil, fmt.Errorf("%w: %s in %s", shell.ErrNotFound, name, folder.Path())
}

func (s *Shell) Parent(it shell.Item) (shell.Item, error) {
	return s.stat(filepath.Dir(it.Path()))
}

func (s *Shell) ExtendedProperty(it shell.Item, name string) (any, error) {
	if s.opts.DetailsOnly {
		return nil, fmt.Errorf("%w: extended property %s", shell.ErrNotSupported, name)
	}
	info, err := s.fs.Stat(it.Path())
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", it.Path(), err)
	}
	switch name {
	case shell.PropertySize:
		return info.Size(), nil
	case shell.PropertyWrite:
		return info.ModTime(), nil
	default:
		return nil, fmt.Errorf("%w: extended property %s", shell.ErrNotSupported, name)
	}
}

// DetailsLayout is the date layout of the DetailModified column.
const DetailsLayout = "1/2/2006 15:04"

func (s *Shell) DetailsOf(it shell.Item, column int) (string, error) {
	info, err := s.fs.Stat(it.Path())
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", it.Path(), err)
	}
	switch column {
	case shell.DetailName:
		return info.Name(), nil
	case shell.DetailSize:
		if info.IsDir() {
			return "", nil
		}
		return shell.FormatSize(info.Size()), nil
	case shell.DetailModified:
		return info.ModTime().Format(DetailsLayout), nil
	default:
		return "", fmt.Errorf("%w: detail column %d", shell.ErrNotSupported, column)
	}
}

func (s *Shell) NewFolder(parent shell.Item, name string) error {
	if err := pathspec.CheckSegment(name); err != nil {
		return err
	}
	p := filepath.Join(parent.Path(), name)
	if err := s.fs.Mkdir(p, 0o750); err != nil {
		if info, statErr := s.fs.Stat(p); statErr == nil && info.IsDir() {
			return nil
		}
		return fmt.Errorf("failed to create folder %s: %w", p, err)
	}
	return nil
}

func (s *Shell) LocalItem(p string) (shell.Item, error) {
	return s.stat(filepath.Clean(p))
}

func (s *Shell) Filter(folder shell.Item, spec string) ([]shell.Item, error) {
	children, err := s.Children(folder)
	if err != nil {
		return nil, err
	}
	matchAll := !s.opts.HonorFilter || spec == shell.AllFiles
	var patterns []string
	if !matchAll {
		for _, p := range strings.Split(spec, ";") {
			if p = strings.TrimSpace(p); p != "" {
				patterns = append(patterns, pathspec.Fold(p))
			}
		}
	}

	var files []shell.Item
	for _, child := range children {
		if child.IsFolder() {
			continue
		}
		if matchAll || matchesAny(patterns, pathspec.Fold(child.Name())) {
			files = append(files, child)
		}
	}
	return files, nil
}

func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := filepath.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

func (s *Shell) CopyHere(dest shell.Item, items ...shell.Item) error {
	return s.transfer(dest, items, false)
}

func (s *Shell) MoveHere(dest shell.Item, items ...shell.Item) error {
	return s.transfer(dest, items, true)
}

func (s *Shell) transfer(dest shell.Item, items []shell.Item, move bool) error {
	target, err := s.stat(dest.Path())
	if err != nil {
		return err
	}
	if !target.folder {
		return fmt.Errorf("copy destination %s is not a folder", dest.Path())
	}

	// Sources are captured now, the caller may lose track of them once the
	// transfer is running.
	sources := make([]string, 0, len(items))
	for _, it := range items {
		sources = append(sources, it.Path())
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for _, src := range sources {
			dst := filepath.Join(target.path, filepath.Base(src))
			if err := s.copyTree(src, dst); err != nil {
				log.Error().Err(err).Str("src", src).Str("dest", dst).Msg("shell transfer failed")
				continue
			}
			if move {
				if err := s.fs.RemoveAll(src); err != nil {
					log.Error().Err(err).Str("src", src).Msg("failed to remove moved item")
				}
			}
		}
	}()
	return nil
}

func (s *Shell) copyTree(src, dst string) error {
	info, err := s.fs.Stat(src)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}
	if !info.IsDir() {
		return s.copyFile(src, dst, info.Mode().Perm())
	}

	if err := s.fs.MkdirAll(dst, 0o750); err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	entries, err := afero.ReadDir(s.fs, src)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", src, err)
	}
	for _, entry := range entries {
		if err := s.copyTree(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (s *Shell) copyFile(src, dst string, perm fs.FileMode) error {
	in, err := s.fs.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer func() {
		if closeErr := in.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Str("path", src).Msg("failed to close copy source")
		}
	}()

	out, err := s.fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	buf := make([]byte, s.opts.ChunkSize)
	for {
		n, readErr := in.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				_ = out.Close()
				return fmt.Errorf("failed to write %s: %w", dst, err)
			}
			if s.opts.ChunkDelay > 0 {
				s.clock.Sleep(s.opts.ChunkDelay)
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		} else if readErr != nil {
			_ = out.Close()
			return fmt.Errorf("failed to read %s: %w", src, readErr)
		}
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", dst, err)
	}
	return nil
}

func (s *Shell) InvokeVerb(it shell.Item, verb string) error {
	if verb != shell.VerbDelete {
		return fmt.Errorf("%w: verb %s", shell.ErrNotSupported, verb)
	}
	if err := s.fs.RemoveAll(it.Path()); err != nil {
		return fmt.Errorf("failed to delete %s: %w", it.Path(), err)
	}
	return nil
}
