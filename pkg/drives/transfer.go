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
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/pathspec"
	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/settle"
	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/shell"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

var errNoShell = errors.New("no shell configured for portable transfers")

// copyJob is one file copy with everything captured before it starts.
type copyJob struct {
	dest     Folder
	srcLoc   locator
	destLoc  locator
	name     string
	expected int64
	opts     settle.Options
	// exact is false when expected was read from the size column.
	exact bool
}

type copyFunc func(r *Registry, ctx context.Context, job copyJob) error

// copyFuncs is indexed by source kind, then destination kind.
var copyFuncs = [kindCount][kindCount]copyFunc{
	KindLocal: {
		KindLocal:    (*Registry).copyLocalToLocal,
		KindPortable: (*Registry).copyThroughShell,
	},
	KindPortable: {
		KindLocal:    (*Registry).copyThroughShell,
		KindPortable: (*Registry).copyThroughShell,
	},
}

type deleteFunc func(r *Registry, ctx context.Context, e Entry, loc locator) error

var deleteFuncs = [kindCount]deleteFunc{
	KindLocal:    (*Registry).deleteLocal,
	KindPortable: (*Registry).deletePortable,
}

// reachable fails for entries on a portable drive that is not connected.
func reachable(loc locator) error {
	if loc.kind == KindPortable && !loc.drive.live().IsConnected() {
		return fmt.Errorf("%w: %s", ErrDeviceUnreachable, loc.drive.FriendlyName())
	}
	return nil
}

func (r *Registry) prepareCopy(src File, dest Folder, opts settle.Options) (copyJob, error) {
	job := copyJob{
		dest:    dest,
		srcLoc:  src.locate(),
		destLoc: dest.locate(),
		name:    src.Name(),
		opts:    opts,
	}
	for _, loc := range []locator{job.srcLoc, job.destLoc} {
		if err := reachable(loc); err != nil {
			return job, transferErr(StageResolve, src.FullPath(), err)
		}
	}
	if !src.Exists() {
		return job, transferErr(StageResolve, src.FullPath(), ErrNotFound)
	}
	if !dest.Exists() {
		return job, transferErr(StageResolve, dest.FullPath(), ErrNotFound)
	}
	// An unknown size still has to show up at the destination.
	size, exact := fileSize(src)
	job.expected = max(size, 0)
	job.exact = exact
	return job, nil
}

// fileSize is Size also reporting whether the size is exact.
func fileSize(f File) (int64, bool) {
	if pf, ok := f.(*portableFile); ok {
		return readItemSize(pf.drive.sh, pf.item)
	}
	return f.Size(), true
}

func (r *Registry) runCopy(ctx context.Context, job copyJob) (File, error) {
	fn := copyFuncs[job.srcLoc.kind][job.destLoc.kind]
	if err := fn(r, ctx, job); err != nil {
		return nil, err
	}
	job.dest.Invalidate()
	f, err := childFile(job.dest, job.name)
	if err != nil {
		return nil, transferErr(StageVerify, childPath(job.dest, job.name), err)
	}
	return f, nil
}

// CopySync copies src into dest and returns once the destination was seen
// at the full source size.
func (r *Registry) CopySync(ctx context.Context, src File, dest Folder) (File, error) {
	job, err := r.prepareCopy(src, dest, r.timings.Copy)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("src", src.FullPath()).Str("dest", dest.FullPath()).Msg("copying file")
	return r.runCopy(ctx, job)
}

// CopyAsync checks src and dest, then copies in the background. Failures of
// the copy itself are only logged. Close waits for it.
func (r *Registry) CopyAsync(src File, dest Folder) error {
	job, err := r.prepareCopy(src, dest, r.timings.Copy)
	if err != nil {
		return err
	}
	srcPath := src.FullPath()
	r.goBackground(func(ctx context.Context) {
		if _, err := r.runCopy(ctx, job); err != nil {
			log.Error().Err(err).Str("src", srcPath).Str("dest", job.dest.FullPath()).Msg("background copy failed")
		}
	})
	return nil
}

func (r *Registry) copyLocalToLocal(_ context.Context, job copyJob) error {
	return r.copyHostFile(job.srcLoc.host, job.destLoc.host)
}

// copyHostFile copies a local file into a local folder, overwriting a file
// of the same name.
func (r *Registry) copyHostFile(src, destDir string) error {
	dst := filepath.Join(destDir, filepath.Base(src))
	in, err := r.fs.Open(src)
	if err != nil {
		return transferErr(StageIssue, src, classify(err))
	}
	defer func() {
		if closeErr := in.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Str("path", src).Msg("failed to close copy source")
		}
	}()
	info, err := in.Stat()
	if err != nil {
		return transferErr(StageIssue, src, classify(err))
	}

	out, err := r.fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm()|0o200)
	if err != nil {
		return transferErr(StageIssue, dst, classify(err))
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return transferErr(StageIssue, dst, err)
	}
	if err := out.Close(); err != nil {
		return transferErr(StageIssue, dst, err)
	}
	if err := r.fs.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		log.Debug().Err(err).Str("path", dst).Msg("could not keep modification time")
	}
	return nil
}

func (r *Registry) shellItem(loc locator) (shell.Item, error) {
	if r.sh == nil {
		return nil, errNoShell
	}
	if loc.kind == KindPortable {
		if loc.item == nil {
			return nil, fmt.Errorf("%w: portable entry no longer resolves", ErrNotFound)
		}
		return loc.item, nil
	}
	it, err := r.sh.LocalItem(loc.host)
	if err != nil {
		return nil, classify(err)
	}
	return it, nil
}

// copyThroughShell covers every pairing with a portable side.
func (r *Registry) copyThroughShell(ctx context.Context, job copyJob) error {
	dstPath := childPath(job.dest, job.name)
	srcItem, err := r.shellItem(job.srcLoc)
	if err != nil {
		return transferErr(StageResolve, job.name, err)
	}
	destItem, err := r.shellItem(job.destLoc)
	if err != nil {
		return transferErr(StageResolve, dstPath, err)
	}

	if err := r.removeExisting(ctx, job.destLoc, destItem, job.name, dstPath); err != nil {
		return transferErr(StageIssue, dstPath, err)
	}
	if err := r.sh.CopyHere(destItem, srcItem); err != nil {
		return transferErr(StageIssue, dstPath, err)
	}
	probe := r.sizeProbe(job.destLoc, destItem, job.name, job.expected, job.exact)
	if err := settle.WaitForSize(ctx, r.clock, job.opts, job.expected, probe); err != nil {
		return transferErr(StageVerify, dstPath, err)
	}
	if job.destLoc.kind == KindPortable {
		job.destLoc.drive.listing.reset()
	}
	return nil
}

// removeExisting deletes a file called name inside the destination folder
// so a copy does not end up next to it or wait on the old size.
func (r *Registry) removeExisting(ctx context.Context, dest locator, destItem shell.Item, name, fullPath string) error {
	if dest.kind == KindLocal {
		err := r.fs.Remove(filepath.Join(dest.host, name))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to replace %s: %w", name, classify(err))
		}
		return nil
	}
	existing, err := r.sh.Lookup(destItem, name)
	if errors.Is(err, shell.ErrNotFound) {
		return nil
	} else if err != nil {
		return classify(err)
	}
	log.Debug().Str("name", name).Msg("replacing file on portable drive")
	return r.removePortableItem(ctx, dest.drive, destItem, existing, fullPath)
}

// sizeReader reports a size, whether it is exact and whether it could be
// observed at all.
type sizeReader func() (size int64, exact, ok bool)

func (r *Registry) sizeProbe(
	dest locator,
	destItem shell.Item,
	name string,
	expected int64,
	exact bool,
) settle.SizeProbe {
	if dest.kind == KindLocal {
		return towards(hostSize(r.fs, filepath.Join(dest.host, name)), expected, exact)
	}
	return towards(func() (int64, bool, bool) {
		it, err := r.sh.Lookup(destItem, name)
		if err != nil {
			return 0, false, false
		}
		size, sizeExact := readItemSize(r.sh, it)
		return size, sizeExact, size >= 0
	}, expected, exact)
}

func hostSize(afs afero.Fs, path string) sizeReader {
	return func() (int64, bool, bool) {
		info, err := afs.Stat(path)
		if err != nil {
			return 0, false, false
		}
		return info.Size(), true, true
	}
}

// towards turns read into a probe for expected. When either side is only
// known as the device displays it, a size displaying the same as expected
// counts as expected.
func towards(read sizeReader, expected int64, exact bool) settle.SizeProbe {
	shown := displayedSize(expected)
	return func() (int64, bool) {
		size, sizeExact, ok := read()
		if !ok {
			return 0, false
		}
		if size < expected && (!exact || !sizeExact) && displayedSize(size) >= shown {
			return expected, true
		}
		return size, true
	}
}

// displayedSize is size as read back from the size column.
func displayedSize(size int64) int64 {
	n, _ := ParseDisplaySize(shell.FormatSize(size))
	return n
}

// treeSize adds up every file size under path.
func treeSize(afs afero.Fs, path string) int64 {
	var total int64
	_ = afero.Walk(afs, path, func(_ string, info fs.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total
}

// DeleteSync removes a file or folder and returns once it is gone.
// Portable entries are moved into the scratch area and removed from there,
// with the native delete verb as a fallback.
func (r *Registry) DeleteSync(ctx context.Context, e Entry) error {
	loc := e.locate()
	if err := reachable(loc); err != nil {
		return transferErr(StageResolve, e.FullPath(), err)
	}
	log.Debug().Str("path", e.FullPath()).Msg("deleting entry")
	return deleteFuncs[loc.kind](r, ctx, e, loc)
}

// DeleteAsync checks the entry, then deletes it in the background.
func (r *Registry) DeleteAsync(e Entry) error {
	loc := e.locate()
	if err := reachable(loc); err != nil {
		return transferErr(StageResolve, e.FullPath(), err)
	}
	path := e.FullPath()
	r.goBackground(func(ctx context.Context) {
		if err := deleteFuncs[loc.kind](r, ctx, e, loc); err != nil {
			log.Error().Err(err).Str("path", path).Msg("background delete failed")
		}
	})
	return nil
}

func (r *Registry) deleteLocal(_ context.Context, e Entry, loc locator) error {
	info, err := r.fs.Stat(loc.host)
	if err != nil {
		return transferErr(StageResolve, e.FullPath(), classify(err))
	}
	if info.IsDir() {
		err = r.fs.RemoveAll(loc.host)
	} else {
		err = r.fs.Remove(loc.host)
	}
	if err != nil {
		return transferErr(StageDelete, e.FullPath(), classify(err))
	}
	return nil
}

func (r *Registry) deletePortable(ctx context.Context, e Entry, loc locator) error {
	if r.sh == nil {
		return transferErr(StageResolve, e.FullPath(), errNoShell)
	}
	if loc.item == nil {
		return transferErr(StageResolve, e.FullPath(), ErrNotFound)
	}
	parent, err := r.sh.Parent(loc.item)
	if err != nil {
		return transferErr(StageResolve, e.FullPath(), classify(err))
	}
	if _, err := r.sh.Lookup(parent, loc.item.Name()); err != nil {
		return transferErr(StageResolve, e.FullPath(), classify(err))
	}
	if err := r.removePortableItem(ctx, loc.drive, parent, loc.item, e.FullPath()); err != nil {
		return transferErr(StageDelete, e.FullPath(), err)
	}
	return nil
}

// removePortableItem deletes item by moving it into a scratch slot, falling
// back to the delete verb. The failure is reported at StageMove unless the
// delete verb was tried and failed too.
func (r *Registry) removePortableItem(
	ctx context.Context,
	d *PortableDrive,
	parent, item shell.Item,
	fullPath string,
) error {
	defer d.listing.reset()
	moveErr := r.deleteByMove(ctx, parent, item)
	if moveErr == nil {
		return nil
	}
	if ctx.Err() != nil {
		return transferErr(StageMove, fullPath, moveErr)
	}
	log.Warn().Err(moveErr).Str("path", item.Path()).Msg("delete by move failed, using delete verb")
	err := r.sh.InvokeVerb(item, shell.VerbDelete)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, shell.ErrNotSupported):
		return transferErr(StageMove, fullPath, moveErr)
	default:
		return errors.Join(moveErr, fmt.Errorf("delete verb failed: %w", err))
	}
}

func (r *Registry) deleteByMove(ctx context.Context, parent, item shell.Item) error {
	area, err := r.Scratch()
	if err != nil {
		return err
	}
	slot, err := area.Slot()
	if err != nil {
		return fmt.Errorf("failed to get scratch slot: %w", err)
	}
	defer func() {
		if err := area.Release(slot); err != nil {
			log.Warn().Err(err).Str("slot", slot).Msg("failed to release scratch slot")
		}
	}()
	slotItem, err := r.sh.LocalItem(slot)
	if err != nil {
		return fmt.Errorf("failed to open scratch slot: %w", err)
	}

	name := item.Name()
	var expected int64
	exact := true
	if !item.IsFolder() {
		var size int64
		size, exact = readItemSize(r.sh, item)
		expected = max(size, 0)
	}
	if err := r.sh.MoveHere(slotItem, item); err != nil {
		return fmt.Errorf("failed to start move: %w", err)
	}

	moved := filepath.Join(slot, name)
	if !item.IsFolder() {
		probe := towards(hostSize(r.fs, moved), expected, exact)
		if err := settle.WaitForSize(ctx, r.clock, r.timings.Copy, expected, probe); err != nil {
			return err
		}
	}
	sourceGone := func() bool {
		_, err := r.sh.Lookup(parent, name)
		return errors.Is(err, shell.ErrNotFound)
	}
	total := func() int64 { return treeSize(r.fs, moved) }
	if err := settle.WaitForMove(ctx, r.clock, r.timings.Move, total, sourceGone); err != nil {
		return fmt.Errorf("%w: %s", err, name)
	}
	return nil
}

// childPath is the full path of name inside folder.
func childPath(folder Folder, name string) string {
	p := folder.FullPath()
	if !strings.HasSuffix(p, pathspec.Separator) {
		p += pathspec.Separator
	}
	return p + name
}

// childFile resolves name inside folder on the folder's drive.
func childFile(folder Folder, name string) (File, error) {
	parsed, err := pathspec.Parse(childPath(folder, name))
	if err != nil {
		return nil, err
	}
	return folder.Drive().ParseFile(parsed.Rest)
}
