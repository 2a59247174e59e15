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
	"testing"

	testhelpers "github.com/ZaparooProject/zaparoo-drives/pkg/testing/helpers"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func walkTree() map[string]any {
	return map[string]any{
		"locked": map[string]any{"secret.txt": "x"},
		"music": map[string]any{
			"a.mp3": "a",
			"rock": map[string]any{
				"b.mp3": "bb",
				"deep":  map[string]any{"c.mp3": "ccc"},
			},
		},
		"zeta": map[string]any{"z.txt": "z"},
	}
}

type visit struct {
	err   error
	path  string
	files []string
}

func collect(t *testing.T, root Folder, depth int, fn func(Folder) error) ([]visit, error) {
	t.Helper()
	var visits []visit
	err := Walk(context.Background(), root, depth, func(folder Folder, files []File, err error) error {
		visits = append(visits, visit{path: folder.FullPath(), files: names(files), err: err})
		if err != nil || fn == nil {
			return nil
		}
		return fn(folder)
	})
	return visits, err
}

func paths(visits []visit) []string {
	out := make([]string, 0, len(visits))
	for _, v := range visits {
		out = append(out, v.path)
	}
	return out
}

func TestWalkDepth(t *testing.T) {
	t.Parallel()

	env := newEnv(t, withLocal(walkTree()))
	root := env.folder(t, `data:\`)

	tests := []struct {
		name  string
		want  []string
		depth int
	}{
		{name: "root only", depth: 0, want: []string{`data:\`}},
		{name: "one level", depth: 1, want: []string{`data:\`, `data:\locked`, `data:\music`, `data:\zeta`}},
		{
			name:  "unlimited",
			depth: -1,
			want: []string{
				`data:\`, `data:\locked`, `data:\music`, `data:\music\rock`,
				`data:\music\rock\deep`, `data:\zeta`,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			visits, err := collect(t, root, tt.depth, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, paths(visits))
		})
	}
}

func TestWalkFilesPerFolder(t *testing.T) {
	t.Parallel()

	env := newEnv(t, withLocal(walkTree()))
	visits, err := collect(t, env.folder(t, `data:\music`), -1, nil)
	require.NoError(t, err)
	require.Len(t, visits, 3)
	assert.Equal(t, []string{"a.mp3"}, visits[0].files)
	assert.Equal(t, []string{"b.mp3"}, visits[1].files)
	assert.Equal(t, []string{"c.mp3"}, visits[2].files)
}

func TestWalkSkipFolder(t *testing.T) {
	t.Parallel()

	env := newEnv(t, withLocal(walkTree()))
	visits, err := collect(t, env.folder(t, `data:\`), -1, func(f Folder) error {
		if f.Name() == "music" {
			return ErrSkipFolder
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{`data:\`, `data:\locked`, `data:\music`, `data:\zeta`}, paths(visits))
}

func TestWalkStopsOnError(t *testing.T) {
	t.Parallel()

	errStop := errors.New("enough")
	env := newEnv(t, withLocal(walkTree()))
	visits, err := collect(t, env.folder(t, `data:\`), -1, func(f Folder) error {
		if f.Name() == "rock" {
			return errStop
		}
		return nil
	})
	require.ErrorIs(t, err, errStop)
	assert.Equal(t, `data:\music\rock`, visits[len(visits)-1].path)
}

func TestWalkAccessDenied(t *testing.T) {
	t.Parallel()

	env := newEnv(t,
		withFs(&deniedFs{Fs: afero.NewMemMapFs(), denied: testhelpers.LocalRoot + "/locked"}),
		withLocal(walkTree()),
	)
	visits, err := collect(t, env.folder(t, `data:\`), -1, nil)
	require.NoError(t, err)

	require.Len(t, visits, 6)
	locked := visits[1]
	assert.Equal(t, `data:\locked`, locked.path)
	require.ErrorIs(t, locked.err, ErrAccessDenied)
	assert.Empty(t, locked.files)
	assert.Equal(t, `data:\zeta`, visits[5].path)
}

// unlistableFolders lists files but fails to list sub-folders.
type unlistableFolders struct {
	Folder
}

func (unlistableFolders) Folders() ([]Folder, error) {
	return nil, ErrAccessDenied
}

func TestWalkFoldersFailAfterFiles(t *testing.T) {
	t.Parallel()

	env := newEnv(t, withLocal(walkTree()))
	visits, err := collect(t, unlistableFolders{env.folder(t, `data:\music`)}, -1, nil)
	require.NoError(t, err)

	require.Len(t, visits, 1)
	assert.Equal(t, `data:\music`, visits[0].path)
	assert.Equal(t, []string{"a.mp3"}, visits[0].files)
	require.ErrorIs(t, visits[0].err, ErrAccessDenied)
}

func TestWalkCancelled(t *testing.T) {
	t.Parallel()

	env := newEnv(t, withLocal(walkTree()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Walk(ctx, env.folder(t, `data:\`), -1, func(Folder, []File, error) error {
		t.Fatal("visited after cancel")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestWalkPortable(t *testing.T) {
	t.Parallel()

	env := newEnv(t, withDevice(androidDir, androidTree()))
	var found []string
	err := Walk(context.Background(), env.folder(t, `[a0]:\`), -1, func(_ Folder, files []File, err error) error {
		require.NoError(t, err)
		for _, f := range files {
			found = append(found, f.FullPath())
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{`{` + androidID + `}:\Phone\DCIM\Camera\a.jpg`}, found)
}
