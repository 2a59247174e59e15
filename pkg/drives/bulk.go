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
	"strings"

	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/pathspec"
	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/settle"
	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/shell"
	"github.com/rs/zerolog/log"
)

// Progress describes one file of a bulk copy confirmed at its destination.
// Index counts across the whole batch.
type Progress struct {
	Name  string
	Index int
	Total int
	Size  int64
}

// ProgressFunc is called once per verified file, in batch order.
type ProgressFunc func(Progress)

// Transfer is a bulk copy running in the background.
type Transfer struct {
	err  error
	done chan struct{}
}

// Wait blocks until the transfer finished and returns its error.
func (t *Transfer) Wait() error {
	<-t.done
	return t.err
}

// Done is closed once the transfer finished.
func (t *Transfer) Done() <-chan struct{} {
	return t.done
}

type bulkItem struct {
	loc   locator
	name  string
	size  int64
	exact bool
}

// bulkGroup is every file of the batch drawn from one source folder.
type bulkGroup struct {
	parent Folder
	items  []bulkItem
	// base is the batch index of the first item.
	base int
}

type bulkPlan struct {
	dest    Folder
	destLoc locator
	groups  []*bulkGroup
	total   int
	local   bool
}

// planBulk creates the destination and snapshots every source name and
// size before anything is copied, since properties of a source being
// copied can block or lie.
func (r *Registry) planBulk(files []File, destPath string) (*bulkPlan, error) {
	dest, err := r.CreateFolderPath(destPath)
	if err != nil {
		return nil, transferErr(StageResolve, destPath, err)
	}
	plan := &bulkPlan{dest: dest, destLoc: dest.locate(), total: len(files)}
	if err := reachable(plan.destLoc); err != nil {
		return nil, transferErr(StageResolve, dest.FullPath(), err)
	}
	plan.local = plan.destLoc.kind == KindLocal

	byParent := make(map[string]*bulkGroup)
	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		name := pathspec.Fold(f.Name())
		if _, dup := seen[name]; dup {
			return nil, transferErr(StageResolve, f.FullPath(), ErrDuplicateName)
		}
		seen[name] = struct{}{}

		loc := f.locate()
		if err := reachable(loc); err != nil {
			return nil, transferErr(StageResolve, f.FullPath(), err)
		}
		if !f.Exists() {
			return nil, transferErr(StageResolve, f.FullPath(), ErrNotFound)
		}
		if loc.kind != KindLocal {
			plan.local = false
		}

		parent := f.Folder()
		key := pathspec.Fold(parent.FullPath())
		g, ok := byParent[key]
		if !ok {
			g = &bulkGroup{parent: parent}
			byParent[key] = g
			plan.groups = append(plan.groups, g)
		}
		size, exact := fileSize(f)
		g.items = append(g.items, bulkItem{loc: loc, name: f.Name(), size: max(size, 0), exact: exact})
	}

	base := 0
	for _, g := range plan.groups {
		g.base = base
		base += len(g.items)
	}
	return plan, nil
}

// BulkCopySync copies files into the folder at destPath, creating it, and
// returns once every file was verified. Files sharing a source folder are
// copied with a single shell call where the shell allows it. A batch in
// which two files share a name is rejected with ErrDuplicateName before
// anything is copied.
func (r *Registry) BulkCopySync(ctx context.Context, files []File, destPath string, progress ProgressFunc) error {
	plan, err := r.planBulk(files, destPath)
	if err != nil {
		return err
	}
	log.Info().Int("files", plan.total).Int("folders", len(plan.groups)).Str("dest", plan.dest.FullPath()).
		Msg("bulk copy started")
	if plan.local {
		return r.bulkLocal(plan, progress)
	}
	for _, g := range plan.groups {
		if err := r.issueGroup(ctx, plan, g); err != nil {
			return err
		}
		if err := r.verifyGroup(ctx, plan, g, progress); err != nil {
			return err
		}
	}
	plan.dest.Invalidate()
	return nil
}

// BulkCopyAsync issues every copy before returning and verifies them in the
// background. The returned Transfer reports the outcome. Since every group
// is issued up front, batches with duplicate names are rejected as in
// BulkCopySync.
func (r *Registry) BulkCopyAsync(
	ctx context.Context,
	files []File,
	destPath string,
	progress ProgressFunc,
) (*Transfer, error) {
	plan, err := r.planBulk(files, destPath)
	if err != nil {
		return nil, err
	}
	if !plan.local {
		for _, g := range plan.groups {
			if err := r.issueGroup(ctx, plan, g); err != nil {
				return nil, err
			}
		}
	}

	bctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(r.ctx, cancel)
	t := &Transfer{done: make(chan struct{})}
	r.goBackground(func(context.Context) {
		defer close(t.done)
		defer stop()
		defer cancel()
		if plan.local {
			t.err = r.bulkLocal(plan, progress)
			return
		}
		for _, g := range plan.groups {
			if t.err = r.verifyGroup(bctx, plan, g, progress); t.err != nil {
				return
			}
		}
		plan.dest.Invalidate()
	})
	return t, nil
}

// BulkCopyDetached starts a bulk copy nobody waits for. Failures are only
// logged.
func (r *Registry) BulkCopyDetached(ctx context.Context, files []File, destPath string) error {
	t, err := r.BulkCopyAsync(ctx, files, destPath, nil)
	if err != nil {
		return err
	}
	r.goBackground(func(context.Context) {
		if err := t.Wait(); err != nil {
			log.Error().Err(err).Str("dest", destPath).Msg("detached bulk copy failed")
		}
	})
	return nil
}

// BulkCopyFolderSync copies every file directly inside src.
func (r *Registry) BulkCopyFolderSync(ctx context.Context, src Folder, destPath string, progress ProgressFunc) error {
	files, err := src.Files()
	if err != nil {
		return transferErr(StageResolve, src.FullPath(), err)
	}
	return r.BulkCopySync(ctx, files, destPath, progress)
}

func (r *Registry) BulkCopyFolderAsync(
	ctx context.Context,
	src Folder,
	destPath string,
	progress ProgressFunc,
) (*Transfer, error) {
	files, err := src.Files()
	if err != nil {
		return nil, transferErr(StageResolve, src.FullPath(), err)
	}
	return r.BulkCopyAsync(ctx, files, destPath, progress)
}

func notify(progress ProgressFunc, p Progress) {
	if progress != nil {
		progress(p)
	}
}

// bulkLocal copies host files directly, used when no side is portable.
func (r *Registry) bulkLocal(plan *bulkPlan, progress ProgressFunc) error {
	for _, g := range plan.groups {
		for j, it := range g.items {
			if err := r.copyHostFile(it.loc.host, plan.destLoc.host); err != nil {
				return err
			}
			notify(progress, Progress{Name: it.name, Index: g.base + j, Total: plan.total, Size: it.size})
		}
	}
	return nil
}

// issueGroup starts the copies of one group. The whole folder is requested
// when the group is all of it, otherwise a name filter is used. A shell
// that ignores the filter gets one copy call per file.
func (r *Registry) issueGroup(ctx context.Context, plan *bulkPlan, g *bulkGroup) error {
	srcItem, err := r.shellItem(g.parent.locate())
	if err != nil {
		return transferErr(StageResolve, g.parent.FullPath(), err)
	}
	destItem, err := r.shellItem(plan.destLoc)
	if err != nil {
		return transferErr(StageResolve, plan.dest.FullPath(), err)
	}
	for _, it := range g.items {
		dstPath := childPath(plan.dest, it.name)
		if err := r.removeExisting(ctx, plan.destLoc, destItem, it.name, dstPath); err != nil {
			return transferErr(StageIssue, dstPath, err)
		}
	}

	spec := shell.AllFiles
	g.parent.Invalidate()
	siblings, err := g.parent.Files()
	if err != nil || len(siblings) != len(g.items) {
		names := make([]string, 0, len(g.items))
		for _, it := range g.items {
			names = append(names, it.name)
		}
		spec = strings.Join(names, ";")
	}

	filtered, err := r.sh.Filter(srcItem, spec)
	if err == nil && sameNames(filtered, g.items) {
		if err := r.sh.CopyHere(destItem, filtered...); err != nil {
			return transferErr(StageIssue, g.parent.FullPath(), err)
		}
		return nil
	}
	log.Debug().Str("folder", g.parent.FullPath()).Int("files", len(g.items)).
		Msg("filter not honored, copying files one by one")
	for _, it := range g.items {
		item, err := r.shellItem(it.loc)
		if err != nil {
			return transferErr(StageResolve, it.name, err)
		}
		if err := r.sh.CopyHere(destItem, item); err != nil {
			return transferErr(StageIssue, childPath(plan.dest, it.name), err)
		}
	}
	return nil
}

func sameNames(items []shell.Item, want []bulkItem) bool {
	if len(items) != len(want) {
		return false
	}
	names := make(map[string]struct{}, len(want))
	for _, it := range want {
		names[pathspec.Fold(it.name)] = struct{}{}
	}
	for _, it := range items {
		if _, ok := names[pathspec.Fold(it.Name())]; !ok {
			return false
		}
	}
	return true
}

// verifyGroup waits for every file of g in order.
func (r *Registry) verifyGroup(ctx context.Context, plan *bulkPlan, g *bulkGroup, progress ProgressFunc) error {
	destItem, err := r.shellItem(plan.destLoc)
	if err != nil {
		return transferErr(StageResolve, plan.dest.FullPath(), err)
	}
	for j, it := range g.items {
		probe := r.sizeProbe(plan.destLoc, destItem, it.name, it.size, it.exact)
		if err := settle.WaitForSize(ctx, r.clock, r.timings.Bulk, it.size, probe); err != nil {
			return transferErr(StageVerify, childPath(plan.dest, it.name), err)
		}
		notify(progress, Progress{Name: it.name, Index: g.base + j, Total: plan.total, Size: it.size})
	}
	if plan.destLoc.kind == KindPortable {
		plan.destLoc.drive.listing.reset()
	}
	return nil
}
