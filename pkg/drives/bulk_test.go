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
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/settle"
	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/shell"
	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/shell/fsshell"
	testhelpers "github.com/ZaparooProject/zaparoo-drives/pkg/testing/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bulkTree() map[string]any {
	return map[string]any{
		"A": map[string]any{
			"a1.bin": strings.Repeat("1", 1500),
			"a2.bin": strings.Repeat("2", 10),
			"a3.bin": "",
		},
		"B": map[string]any{
			"b1.bin":   strings.Repeat("3", 2048),
			"b2.bin":   strings.Repeat("4", 700),
			"skip.bin": strings.Repeat("5", 99),
		},
	}
}

func bulkEnv(t *testing.T, stub *stubShell, honor bool) *testEnv {
	t.Helper()
	return newEnv(t,
		withShellOptions(fsshell.Options{ChunkSize: 512, HonorFilter: honor}),
		withDevice(androidDir, testhelpers.AndroidPhone(bulkTree())),
		withLocal(bulkTree()),
		stubbed(stub),
	)
}

// batch picks every file of A and two of B, interleaved.
func batch(t *testing.T, env *testEnv, prefix string) ([]File, int64) {
	t.Helper()
	var files []File
	var total int64
	for _, rel := range []string{`A\a1.bin`, `B\b1.bin`, `A\a2.bin`, `B\b2.bin`, `A\a3.bin`} {
		f := env.file(t, prefix+rel)
		files = append(files, f)
		total += f.Size()
	}
	return files, total
}

type progressLog struct {
	events []Progress
}

func (p *progressLog) record(ev Progress) {
	p.events = append(p.events, ev)
}

func (p *progressLog) check(t *testing.T, n int, total int64) {
	t.Helper()
	require.Len(t, p.events, n)
	var bytes int64
	for i, ev := range p.events {
		assert.Equal(t, i, ev.Index)
		assert.Equal(t, n, ev.Total)
		bytes += ev.Size
	}
	assert.Equal(t, total, bytes)
}

// TestBulkCopyBatch verifies a batch drawn from two folders lands complete
// with one progress call per file and a whole-folder copy for A.
func TestBulkCopyBatch(t *testing.T) {
	t.Parallel()

	stub := &stubShell{}
	env := bulkEnv(t, stub, false)
	files, total := batch(t, env, `[a0]:\Phone\`)

	var progress progressLog
	require.NoError(t, env.reg.BulkCopySync(context.Background(), files, `data:\out\`, progress.record))
	progress.check(t, 5, total)

	var order []string
	for _, ev := range progress.events {
		order = append(order, ev.Name)
	}
	assert.Equal(t, []string{"a1.bin", "a2.bin", "a3.bin", "b1.bin", "b2.bin"}, order)

	sizes, err := env.h.Walk(filepath.Join(testhelpers.LocalRoot, "out"))
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{
		"a1.bin": 1500, "a2.bin": 10, "a3.bin": 0, "b1.bin": 2048, "b2.bin": 700,
	}, sizes)

	// A is copied whole, B's filter is ignored so its files go one by one.
	assert.Equal(t, []int{3, 1, 1}, stub.calls())
}

func TestBulkCopyHonoredFilter(t *testing.T) {
	t.Parallel()

	stub := &stubShell{}
	env := bulkEnv(t, stub, true)
	files, total := batch(t, env, `[a0]:\*\`)

	var progress progressLog
	require.NoError(t, env.reg.BulkCopySync(context.Background(), files, `[a0]:\*\Backup`, progress.record))
	progress.check(t, 5, total)
	assert.Equal(t, []int{3, 2}, stub.calls())

	out := env.folder(t, `[a0]:\Phone\Backup`)
	copied, err := out.Files()
	require.NoError(t, err)
	assert.Len(t, copied, 5)
}

func TestBulkCopyLocalFastPath(t *testing.T) {
	t.Parallel()

	stub := &stubShell{}
	env := bulkEnv(t, stub, false)
	files, total := batch(t, env, `data:\`)
	require.NoError(t, env.h.WriteFile(filepath.Join(testhelpers.LocalRoot, "out", "a1.bin"), []byte("stale")))

	var progress progressLog
	require.NoError(t, env.reg.BulkCopySync(context.Background(), files, `data:\out`, progress.record))
	progress.check(t, 5, total)
	assert.Empty(t, stub.calls())

	data, err := env.h.ReadFile(filepath.Join(testhelpers.LocalRoot, "out", "a1.bin"))
	require.NoError(t, err)
	assert.Len(t, data, 1500)
}

func TestBulkCopyLocalToPortable(t *testing.T) {
	t.Parallel()

	stub := &stubShell{}
	env := bulkEnv(t, stub, false)
	files, total := batch(t, env, `data:\`)

	var progress progressLog
	require.NoError(t, env.reg.BulkCopySync(context.Background(), files, `[a0]:\Phone\In`, progress.record))
	progress.check(t, 5, total)

	sizes, err := env.h.Walk(filepath.Join(testhelpers.MountRoot, androidDir, "Phone", "In"))
	require.NoError(t, err)
	assert.Len(t, sizes, 5)
}

func TestBulkCopyAsync(t *testing.T) {
	t.Parallel()

	stub := &stubShell{}
	env := bulkEnv(t, stub, false)
	files, total := batch(t, env, `[a0]:\Phone\`)

	var progress progressLog
	tr, err := env.reg.BulkCopyAsync(context.Background(), files, `data:\async`, progress.record)
	require.NoError(t, err)
	require.NoError(t, tr.Wait())
	progress.check(t, 5, total)

	select {
	case <-tr.Done():
	default:
		t.Fatal("transfer not done after Wait")
	}
}

func TestBulkCopyFolder(t *testing.T) {
	t.Parallel()

	stub := &stubShell{}
	env := bulkEnv(t, stub, false)
	src := env.folder(t, `[a0]:\Phone\B`)

	var progress progressLog
	require.NoError(t, env.reg.BulkCopyFolderSync(context.Background(), src, `data:\whole`, progress.record))
	progress.check(t, 3, 2048+700+99)
	assert.Equal(t, []int{3}, stub.calls())

	tr, err := env.reg.BulkCopyFolderAsync(context.Background(), env.folder(t, `data:\A`), `[a0]:\Phone\whole`, nil)
	require.NoError(t, err)
	require.NoError(t, tr.Wait())
	assert.Len(t, names(mustFiles(t, env.folder(t, `[a0]:\Phone\whole`))), 3)
}

func TestBulkCopyDetached(t *testing.T) {
	t.Parallel()

	stub := &stubShell{}
	env := bulkEnv(t, stub, false)
	files, _ := batch(t, env, `data:\`)

	require.NoError(t, env.reg.BulkCopyDetached(context.Background(), files, `[a0]:\Phone\detached`))
	require.Eventually(t, func() bool {
		f := env.reg.TryParseFolder(`[a0]:\Phone\detached`)
		if f == nil {
			return false
		}
		f.Invalidate()
		files, err := f.Files()
		return err == nil && len(files) == 5
	}, 5*time.Second, 5*time.Millisecond)
}

// TestBulkCopyStallMidBatch verifies a file that stops growing ends the
// batch with its path while files confirmed before it stay in place.
func TestBulkCopyStallMidBatch(t *testing.T) {
	t.Parallel()

	var env *testEnv
	stub := &stubShell{}
	stub.copyHere = func(dest shell.Item, items ...shell.Item) error {
		if len(items) == 1 && items[0].Name() == "b1.bin" {
			return env.h.WriteFile(filepath.Join(dest.Path(), "b1.bin"), make([]byte, 1024))
		}
		return stub.Shell.CopyHere(dest, items...)
	}
	env = bulkEnv(t, stub, false)
	files, _ := batch(t, env, `[a0]:\Phone\`)

	var progress progressLog
	err := env.reg.BulkCopySync(context.Background(), files, `data:\out`, progress.record)
	require.ErrorIs(t, err, ErrTransferIncomplete)
	require.ErrorIs(t, err, settle.ErrStalled)
	var te *TransferError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StageVerify, te.Stage)
	assert.Equal(t, `data:\out\b1.bin`, te.Path)

	var done []string
	for _, ev := range progress.events {
		done = append(done, ev.Name)
	}
	assert.Equal(t, []string{"a1.bin", "a2.bin", "a3.bin"}, done)

	sizes, err := env.h.Walk(filepath.Join(testhelpers.LocalRoot, "out"))
	require.NoError(t, err)
	assert.Equal(t, int64(1500), sizes["a1.bin"])
	assert.Equal(t, int64(10), sizes["a2.bin"])
	assert.Contains(t, sizes, "a3.bin")
	assert.Equal(t, int64(1024), sizes["b1.bin"])
}

func TestBulkCopyDuplicateNames(t *testing.T) {
	t.Parallel()

	stub := &stubShell{}
	env := newEnv(t,
		withShellOptions(fsshell.Options{ChunkSize: 512}),
		withDevice(androidDir, testhelpers.AndroidPhone(map[string]any{
			"A": map[string]any{"same.bin": "aaaa"},
			"B": map[string]any{"SAME.bin": "bb"},
		})),
		stubbed(stub),
	)
	files := []File{env.file(t, `[a0]:\Phone\A\same.bin`), env.file(t, `[a0]:\Phone\B\SAME.bin`)}

	_, err := env.reg.BulkCopyAsync(context.Background(), files, `data:\out`, nil)
	require.ErrorIs(t, err, ErrDuplicateName)
	var te *TransferError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StageResolve, te.Stage)
	assert.Equal(t, `{`+androidID+`}:\Phone\B\SAME.bin`, te.Path)

	err = env.reg.BulkCopySync(context.Background(), files, `data:\out`, nil)
	require.ErrorIs(t, err, ErrDuplicateName)
	assert.Empty(t, stub.calls())
}

func TestBulkCopyMissingSource(t *testing.T) {
	t.Parallel()

	stub := &stubShell{}
	env := bulkEnv(t, stub, false)
	files, _ := batch(t, env, `[a0]:\Phone\`)
	require.NoError(t, env.h.Fs.Remove(filepath.Join(testhelpers.MountRoot, androidDir, "Phone", "B", "b2.bin")))

	err := env.reg.BulkCopySync(context.Background(), files, `data:\out`, nil)
	require.ErrorIs(t, err, ErrNotFound)
	var te *TransferError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StageResolve, te.Stage)
	assert.Equal(t, `{`+androidID+`}:\Phone\B\b2.bin`, te.Path)
	assert.Empty(t, stub.calls())
}

func TestBulkCopyEmpty(t *testing.T) {
	t.Parallel()

	env := bulkEnv(t, &stubShell{}, false)
	require.NoError(t, env.reg.BulkCopySync(context.Background(), nil, `data:\empty\dir`, nil))
	assert.NotNil(t, env.reg.TryParseFolder(`data:\empty\dir`))
}

func mustFiles(t *testing.T, f Folder) []File {
	t.Helper()
	files, err := f.Files()
	require.NoError(t, err)
	return files
}
