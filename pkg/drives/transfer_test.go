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
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/shell"
	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/shell/fsshell"
	testhelpers "github.com/ZaparooProject/zaparoo-drives/pkg/testing/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	localData = strings.Repeat("L", 5000)
	phoneData = strings.Repeat("P", 7000)
)

func transferEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	base := []envOption{
		withShellOptions(fsshell.Options{ChunkSize: 1024}),
		withLocal(map[string]any{
			"src":  map[string]any{"local.bin": localData},
			"dest": map[string]any{},
		}),
		withDevice(androidDir, testhelpers.AndroidPhone(map[string]any{
			"src":  map[string]any{"phone.bin": phoneData, "Album": map[string]any{"x.jpg": "xx", "y.jpg": "yyy"}},
			"dest": map[string]any{},
		})),
	}
	return newEnv(t, append(base, opts...)...)
}

// TestCopyPairings verifies that after CopySync the destination file
// resolves with the source size, for every source and destination kind.
func TestCopyPairings(t *testing.T) {
	t.Parallel()

	env := transferEnv(t)
	tests := []struct {
		name string
		src  string
		dest string
		want string
	}{
		{name: "local to local", src: `data:\src\local.bin`, dest: `data:\dest\ll`, want: localData},
		{name: "local to portable", src: `data:\src\local.bin`, dest: `[a0]:\Phone\dest\lp`, want: localData},
		{name: "portable to local", src: `[a0]:\Phone\src\phone.bin`, dest: `data:\dest\pl`, want: phoneData},
		{name: "portable to portable", src: `[a0]:\*\src\phone.bin`, dest: `[a0]:\*\dest\pp`, want: phoneData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := env.file(t, tt.src)
			dest, err := env.reg.CreateFolderPath(tt.dest)
			require.NoError(t, err)

			got, err := env.reg.CopySync(context.Background(), src, dest)
			require.NoError(t, err)
			assert.Equal(t, src.Size(), got.Size())
			assert.Equal(t, src.Name(), got.Name())

			again := env.file(t, childPath(dest, src.Name()))
			assert.Equal(t, int64(len(tt.want)), again.Size())
			assert.Equal(t, again.FullPath(), got.FullPath())
		})
	}
}

// TestCopyDisplayedSizes covers devices that only report sizes rounded as
// displayed, e.g. 3421 bytes shown as "3.34 KB".
func TestCopyDisplayedSizes(t *testing.T) {
	t.Parallel()

	odd := strings.Repeat("O", 3421)
	stub := &stubShell{}
	env := transferEnv(t, withShellOptions(fsshell.Options{ChunkSize: 1024, DetailsOnly: true}), stubbed(stub))
	require.NoError(t, env.h.WriteFile(filepath.Join(testhelpers.LocalRoot, "src", "odd.bin"), []byte(odd)))
	ctx := context.Background()

	t.Run("local to portable", func(t *testing.T) {
		got, err := env.reg.CopySync(ctx, env.file(t, `data:\src\odd.bin`), env.folder(t, `[a0]:\*\dest`))
		require.NoError(t, err)
		shown, ok := ParseDisplaySize("3.34 KB")
		require.True(t, ok)
		assert.Equal(t, shown, got.Size())

		data, err := env.h.ReadFile(filepath.Join(testhelpers.MountRoot, androidDir, "Phone", "dest", "odd.bin"))
		require.NoError(t, err)
		assert.Len(t, data, len(odd))
	})

	t.Run("portable to local", func(t *testing.T) {
		src := env.file(t, `[a0]:\Phone\src\phone.bin`)
		assert.NotEqual(t, int64(len(phoneData)), src.Size())

		got, err := env.reg.CopySync(ctx, src, env.folder(t, `data:\dest`))
		require.NoError(t, err)
		assert.Equal(t, int64(len(phoneData)), got.Size())
	})

	t.Run("delete by move", func(t *testing.T) {
		require.NoError(t, env.reg.DeleteSync(ctx, env.file(t, `[a0]:\Phone\dest\odd.bin`)))
		assert.Nil(t, env.reg.TryParseFile(`[a0]:\Phone\dest\odd.bin`))
		assert.Zero(t, stub.verbs())
	})
}

func TestCopyReplacesExisting(t *testing.T) {
	t.Parallel()

	env := transferEnv(t)
	devDest := filepath.Join(testhelpers.MountRoot, androidDir, "Phone", "dest")
	require.NoError(t, env.h.WriteFile(filepath.Join(devDest, "local.bin"), []byte(strings.Repeat("old", 4000))))
	require.NoError(t, env.h.WriteFile(filepath.Join(testhelpers.LocalRoot, "dest", "phone.bin"), []byte("old")))

	got, err := env.reg.CopySync(context.Background(), env.file(t, `data:\src\local.bin`), env.folder(t, `[a0]:\Phone\dest`))
	require.NoError(t, err)
	assert.Equal(t, int64(len(localData)), got.Size())

	got, err = env.reg.CopySync(context.Background(), env.file(t, `[a0]:\Phone\src\phone.bin`), env.folder(t, `data:\dest`))
	require.NoError(t, err)
	assert.Equal(t, int64(len(phoneData)), got.Size())

	data, err := env.h.ReadFile(filepath.Join(testhelpers.LocalRoot, "dest", "phone.bin"))
	require.NoError(t, err)
	assert.Equal(t, phoneData, string(data))

	entries, err := env.h.ListFiles(devDest)
	require.NoError(t, err)
	assert.Equal(t, []string{"local.bin"}, entries)
}

func TestCopyAsync(t *testing.T) {
	t.Parallel()

	env := transferEnv(t)
	require.NoError(t, env.reg.CopyAsync(env.file(t, `data:\src\local.bin`), env.folder(t, `[a0]:\Phone\dest`)))

	require.Eventually(t, func() bool {
		f := env.reg.TryParseFile(`[a0]:\Phone\dest\local.bin`)
		return f != nil && f.Size() == int64(len(localData))
	}, 5*time.Second, 5*time.Millisecond)
}

func TestCopyMissingSource(t *testing.T) {
	t.Parallel()

	env := transferEnv(t)
	src := env.file(t, `data:\src\local.bin`)
	require.NoError(t, env.h.Fs.Remove(filepath.Join(testhelpers.LocalRoot, "src", "local.bin")))

	_, err := env.reg.CopySync(context.Background(), src, env.folder(t, `data:\dest`))
	require.ErrorIs(t, err, ErrNotFound)
	var te *TransferError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StageResolve, te.Stage)
	assert.Equal(t, `data:\src\local.bin`, te.Path)
}

func TestCopyUnreachable(t *testing.T) {
	t.Parallel()

	env := transferEnv(t)
	src := env.file(t, `[a0]:\Phone\src\phone.bin`)
	dest := env.folder(t, `data:\dest`)
	pd, ok := src.Drive().(*PortableDrive)
	require.True(t, ok)
	pd.setConnected(false)

	assert.False(t, src.Exists())
	_, err := env.reg.CopySync(context.Background(), src, dest)
	require.ErrorIs(t, err, ErrDeviceUnreachable)
	require.ErrorIs(t, env.reg.CopyAsync(src, dest), ErrDeviceUnreachable)
	require.ErrorIs(t, env.reg.DeleteSync(context.Background(), src), ErrDeviceUnreachable)
	assert.True(t, env.h.FileExists(filepath.Join(testhelpers.MountRoot, androidDir, "Phone", "src", "phone.bin")))
}

func TestCopyNeverStarts(t *testing.T) {
	t.Parallel()

	timings := fastTimings()
	timings.Copy.FirstWait = 5
	stub := &stubShell{copyHere: func(shell.Item, ...shell.Item) error { return nil }}
	env := transferEnv(t, withTimings(timings), stubbed(stub))

	_, err := env.reg.CopySync(context.Background(), env.file(t, `data:\src\local.bin`), env.folder(t, `[a0]:\Phone\dest`))
	require.ErrorIs(t, err, ErrTransferIncomplete)
	var te *TransferError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StageVerify, te.Stage)
	assert.Equal(t, `{`+androidID+`}:\Phone\dest\local.bin`, te.Path)
}

func TestCopyCancelled(t *testing.T) {
	t.Parallel()

	stub := &stubShell{copyHere: func(shell.Item, ...shell.Item) error { return nil }}
	env := transferEnv(t, stubbed(stub))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := env.reg.CopySync(ctx, env.file(t, `[a0]:\Phone\src\phone.bin`), env.folder(t, `data:\dest`))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestDeleteViaMove verifies a deleted portable entry no longer resolves
// and nothing is left in the scratch area.
func TestDeleteViaMove(t *testing.T) {
	t.Parallel()

	env := transferEnv(t)
	ctx := context.Background()

	file := env.file(t, `[a0]:\Phone\src\phone.bin`)
	require.NoError(t, env.reg.DeleteSync(ctx, file))
	_, err := env.reg.ParseFile(`[a0]:\Phone\src\phone.bin`)
	require.ErrorIs(t, err, ErrNotFound)
	assert.False(t, file.Exists())

	album := env.folder(t, `[a0]:\Phone\src\Album`)
	require.NoError(t, env.reg.DeleteSync(ctx, album))
	assert.Nil(t, env.reg.TryParseFolder(`[a0]:\Phone\src\Album`))
	assert.False(t, album.Exists())

	area, err := env.reg.Scratch()
	require.NoError(t, err)
	entries, err := area.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)

	src := env.folder(t, `[a0]:\Phone\src`)
	files, err := src.Files()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestDeleteFallsBackToVerb(t *testing.T) {
	t.Parallel()

	stub := &stubShell{moveHere: func(shell.Item, ...shell.Item) error {
		return errors.New("move refused")
	}}
	env := transferEnv(t, stubbed(stub))

	require.NoError(t, env.reg.DeleteSync(context.Background(), env.file(t, `[a0]:\Phone\src\phone.bin`)))
	assert.Nil(t, env.reg.TryParseFile(`[a0]:\Phone\src\phone.bin`))
	assert.Equal(t, 1, stub.verbs())

	area, err := env.reg.Scratch()
	require.NoError(t, err)
	entries, err := area.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDeleteStage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		verbErr error
		name    string
		want    Stage
	}{
		{name: "no delete verb", verbErr: shell.ErrNotSupported, want: StageMove},
		{name: "delete verb fails", verbErr: errors.New("device busy"), want: StageDelete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			stub := &stubShell{
				moveHere:   func(shell.Item, ...shell.Item) error { return errors.New("move refused") },
				invokeVerb: func(shell.Item, string) error { return tt.verbErr },
			}
			env := transferEnv(t, stubbed(stub))

			err := env.reg.DeleteSync(context.Background(), env.file(t, `[a0]:\Phone\src\phone.bin`))
			var te *TransferError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.want, te.Stage)
			assert.Equal(t, `{`+androidID+`}:\Phone\src\phone.bin`, te.Path)
			assert.NotNil(t, env.reg.TryParseFile(`[a0]:\Phone\src\phone.bin`))
		})
	}
}

func TestDeleteLocal(t *testing.T) {
	t.Parallel()

	env := transferEnv(t)
	ctx := context.Background()

	require.NoError(t, env.reg.DeleteSync(ctx, env.file(t, `data:\src\local.bin`)))
	assert.False(t, env.h.FileExists(filepath.Join(testhelpers.LocalRoot, "src", "local.bin")))

	src := env.folder(t, `data:\src`)
	require.NoError(t, env.reg.DeleteSync(ctx, src))
	assert.False(t, src.Exists())

	err := env.reg.DeleteSync(ctx, src)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteAsync(t *testing.T) {
	t.Parallel()

	env := transferEnv(t)
	file := env.file(t, `[a0]:\Phone\src\phone.bin`)
	require.NoError(t, env.reg.DeleteAsync(file))
	require.Eventually(t, func() bool {
		return env.reg.TryParseFile(`[a0]:\Phone\src\phone.bin`) == nil
	}, 5*time.Second, 5*time.Millisecond)
}
