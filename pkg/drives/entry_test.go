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
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/pathspec"
	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/shell/fsshell"
	testhelpers "github.com/ZaparooProject/zaparoo-drives/pkg/testing/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func segmentGen() *rapid.Generator[string] {
	return rapid.StringMatching(`[A-Za-z0-9_][A-Za-z0-9_\-]{0,8}`)
}

// TestPropertyPathRoundTrip verifies that parsing the FullPath of any
// created folder or file gives back the same FullPath, for both kinds.
func TestPropertyPathRoundTrip(t *testing.T) {
	t.Parallel()

	env := newEnv(t, withDevice(androidDir, testhelpers.AndroidPhone(nil)))
	devRoot := filepath.Join(testhelpers.MountRoot, androidDir)

	run := 0
	rapid.Check(t, func(rt *rapid.T) {
		run++
		segs := rapid.SliceOfN(segmentGen(), 1, 4).Draw(rt, "segs")
		// Names are unique per run so no earlier file differs only in case.
		name := fmt.Sprintf("%s_%d.bin", segmentGen().Draw(rt, "name"), run)
		content := rapid.SliceOfN(rapid.Byte(), 0, 64).Draw(rt, "content")
		portable := rapid.Bool().Draw(rt, "portable")

		prefix, hostRoot := `data:\`, testhelpers.LocalRoot
		if portable {
			prefix = `{` + androidID + `}:\`
			hostRoot = filepath.Join(devRoot, "Phone")
			segs = append([]string{"Phone"}, segs...)
		}
		requested := pathspec.Join(prefix, segs...)

		folder, err := env.reg.CreateFolderPath(requested)
		if err != nil {
			rt.Fatalf("CreateFolderPath(%q): %v", requested, err)
		}
		if !pathspec.EqualFold(folder.FullPath(), requested) {
			rt.Fatalf("created %q for %q", folder.FullPath(), requested)
		}
		again, err := env.reg.ParseFolder(folder.FullPath())
		if err != nil {
			rt.Fatalf("ParseFolder(%q): %v", folder.FullPath(), err)
		}
		if again.FullPath() != folder.FullPath() {
			rt.Fatalf("folder round trip %q != %q", again.FullPath(), folder.FullPath())
		}

		// Write the file below the actual (possibly differently cased) folder.
		actual := pathspec.Segments(strings.TrimPrefix(folder.FullPath(), prefix))
		if portable {
			actual = actual[1:]
		}
		host := filepath.Join(append([]string{hostRoot}, append(actual, name)...)...)
		if err := env.h.WriteFile(host, content); err != nil {
			rt.Fatalf("write %s: %v", host, err)
		}

		filePath := childPath(folder, name)
		file, err := env.reg.ParseFile(filePath)
		if err != nil {
			rt.Fatalf("ParseFile(%q): %v", filePath, err)
		}
		if file.FullPath() != filePath {
			rt.Fatalf("file round trip %q != %q", file.FullPath(), filePath)
		}
		if file.Size() != int64(len(content)) {
			rt.Fatalf("size %d, want %d", file.Size(), len(content))
		}
		if file.Folder().FullPath() != folder.FullPath() {
			rt.Fatalf("parent %q != %q", file.Folder().FullPath(), folder.FullPath())
		}
	})
}

func TestOrdinalPathsCanonicalize(t *testing.T) {
	t.Parallel()

	env := newEnv(t, twoPhones()...)
	f := env.file(t, `[a0]:/phone/dcim/CAMERA/A.JPG`)
	assert.Equal(t, `{`+androidID+`}:\Phone\DCIM\Camera\a.jpg`, f.FullPath())
	assert.Equal(t, "a.jpg", f.Name())
	assert.Equal(t, KindPortable, f.Kind())
	assert.True(t, f.Exists())
}

func TestWildcardSegment(t *testing.T) {
	t.Parallel()

	env := newEnv(t,
		withDevice(androidDir, testhelpers.AndroidPhone(map[string]any{
			"DCIM": map[string]any{"Camera": map[string]any{"a.jpg": "aaaa"}},
		})),
		withDevice("usb#vid_2717&pid_ff40#cafe00112233", map[string]any{
			"Internal shared storage": nil,
			"SD card":                 nil,
		}),
		withLocal(map[string]any{"only": map[string]any{"x.txt": "x"}}),
	)

	f := env.file(t, `{`+androidID+`}:\*\DCIM\Camera\a.jpg`)
	assert.Equal(t, `{`+androidID+`}:\Phone\DCIM\Camera\a.jpg`, f.FullPath())

	root := env.folder(t, `[a0]:\*`)
	assert.Equal(t, "Phone", root.Name())
	require.NotNil(t, root.Parent())
	assert.Nil(t, root.Parent().Parent())

	local := env.file(t, `data:\*\x.txt`)
	assert.Equal(t, `data:\only\x.txt`, local.FullPath())

	_, err := env.reg.ParseFolder(`{cafe00112233}:\*`)
	require.ErrorIs(t, err, ErrMalformedPath)

	_, err = env.reg.ParseFolder(`{`+androidID+`}:\Phone\*`)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMalformedSegments(t *testing.T) {
	t.Parallel()

	env := newEnv(t, withLocal(map[string]any{"a": map[string]any{"b": nil}}))
	for _, p := range []string{`data:\a\..\b`, `data:\.\a`} {
		_, err := env.reg.ParseFolder(p)
		require.ErrorIs(t, err, ErrMalformedPath, p)
	}
	_, err := env.reg.ParseFile(`data:\a`)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = env.reg.ParseFile(`data:\`)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPortableSizeFallback(t *testing.T) {
	t.Parallel()

	env := newEnv(t,
		withShellOptions(fsshell.Options{DetailsOnly: true}),
		withDevice(androidDir, testhelpers.AndroidPhone(map[string]any{
			"small.bin": strings.Repeat("s", 512),
			"big.bin":   strings.Repeat("b", 3420),
		})),
	)

	small := env.file(t, `[a0]:\Phone\small.bin`)
	assert.Equal(t, int64(512), small.Size())

	big := env.file(t, `[a0]:\Phone\big.bin`)
	assert.InDelta(t, 3420, big.Size(), 12)

	info, err := env.h.Fs.Stat(filepath.Join(testhelpers.MountRoot, androidDir, "Phone", "big.bin"))
	require.NoError(t, err)
	assert.WithinDuration(t, info.ModTime(), big.LastWriteTime(), time.Minute)
}

func TestPortableProperties(t *testing.T) {
	t.Parallel()

	env := newEnv(t, withDevice(androidDir, testhelpers.AndroidPhone(map[string]any{
		"song.mp3": strings.Repeat("m", 3420),
	})))
	f := env.file(t, `[a0]:\Phone\song.mp3`)
	assert.Equal(t, int64(3420), f.Size())
	assert.False(t, f.LastWriteTime().IsZero())
}

func TestParseDisplaySize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{in: "512 bytes", want: 512, ok: true},
		{in: "1 byte", want: 1, ok: true},
		{in: "3.34 KB", want: 3420, ok: true},
		{in: "2 MB", want: 2 << 20, ok: true},
		{in: "1.5 GB", want: 3 << 29, ok: true},
		{in: "1,024 B", want: 1024, ok: true},
		{in: "", ok: false},
		{in: "n/a", ok: false},
		{in: "-3 KB", ok: false},
	}
	for _, tt := range tests {
		got, ok := ParseDisplaySize(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseDisplayTime(t *testing.T) {
	t.Parallel()

	want := time.Date(2017, 5, 11, 8, 29, 0, 0, time.Local)
	assert.True(t, want.Equal(ParseDisplayTime("5/11/2017 08:29")))
	assert.True(t, want.Equal(ParseDisplayTime("5/11/2017 8:29 AM")))
	assert.True(t, want.Equal(ParseDisplayTime("2017-05-11 08:29:00")))
	assert.True(t, ParseDisplayTime("yesterday").IsZero())
}

func TestPortableListingCache(t *testing.T) {
	t.Parallel()

	env := newEnv(t,
		withDevice(androidDir, testhelpers.AndroidPhone(map[string]any{
			"Music": map[string]any{"a.mp3": "a"},
		})),
		withLocal(map[string]any{"Music": map[string]any{"a.mp3": "a"}}),
	)
	devMusic := filepath.Join(testhelpers.MountRoot, androidDir, "Phone", "Music")

	portable := env.folder(t, `[a0]:\Phone\Music`)
	files, err := portable.Files()
	require.NoError(t, err)
	require.Len(t, files, 1)

	require.NoError(t, env.h.WriteFile(filepath.Join(devMusic, "b.mp3"), []byte("b")))
	files, err = portable.Files()
	require.NoError(t, err)
	assert.Len(t, files, 1, "listing is cached")

	portable.Invalidate()
	files, err = portable.Files()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.mp3", "b.mp3"}, names(files))

	local := env.folder(t, `data:\Music`)
	require.NoError(t, env.h.WriteFile(filepath.Join(testhelpers.LocalRoot, "Music", "b.mp3"), []byte("b")))
	files, err = local.Files()
	require.NoError(t, err)
	assert.Len(t, files, 2, "local listings are always fresh")
}

func TestFoldersAndParents(t *testing.T) {
	t.Parallel()

	env := newEnv(t, twoPhones()...)
	d := env.reg.TryGetDrive(`[a0]`)
	require.NotNil(t, d)

	root := d.Root()
	assert.Nil(t, root.Parent())
	assert.Equal(t, d.FriendlyName(), root.Name())
	assert.Equal(t, `{`+androidID+`}:\`, root.FullPath())

	storages, err := root.Folders()
	require.NoError(t, err)
	assert.Equal(t, []string{"Phone"}, names(storages))

	sub, err := storages[0].Folders()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Android", "DCIM"}, names(sub))

	f := env.file(t, `[a0]:\Phone\DCIM\Camera\a.jpg`)
	assert.Equal(t, `{`+androidID+`}:\Phone\DCIM\Camera`, f.Folder().FullPath())
	assert.Equal(t, `{`+androidID+`}:\Phone\DCIM`, f.Folder().Parent().FullPath())
	camera, err := f.Folder().Files()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg"}, names(camera))
}

func TestCreateFolderPath(t *testing.T) {
	t.Parallel()

	env := newEnv(t,
		withDevice(androidDir, testhelpers.AndroidPhone(nil)),
		withLocal(map[string]any{"file.txt": "x"}),
	)
	for _, p := range []string{`data:\Backup\2026\Photos`, `[a0]:\*\Backup\Photos`} {
		first, err := env.reg.CreateFolderPath(p)
		require.NoError(t, err, p)
		assert.True(t, first.Exists())

		second, err := env.reg.CreateFolderPath(p)
		require.NoError(t, err, p)
		assert.Equal(t, first.FullPath(), second.FullPath())
	}
	assert.True(t, env.h.FileExists(filepath.Join(testhelpers.MountRoot, androidDir, "Phone", "Backup", "Photos")))

	got, err := env.reg.CreateFolderPath(`data:\BACKUP\2026`)
	require.NoError(t, err)
	assert.Equal(t, `data:\Backup\2026`, got.FullPath())

	_, err = env.reg.CreateFolderPath(`data:\file.txt\sub`)
	require.Error(t, err)
}

func TestPortableFolderLazyItemConcurrent(t *testing.T) {
	t.Parallel()

	env := newEnv(t, withDevice(androidDir, testhelpers.AndroidPhone(map[string]any{
		"Music": map[string]any{"a.mp3": "a"},
	})))
	pd, ok := env.folder(t, `[a0]:\`).Drive().(*PortableDrive)
	require.True(t, ok)
	folder := &portableFolder{drive: pd, segs: []string{"Phone", "Music"}, cache: &listing{}}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NotNil(t, folder.locate().item)
			assert.NotNil(t, folder.Parent())
			files, err := folder.Files()
			assert.NoError(t, err)
			assert.Len(t, files, 1)
		}()
	}
	wg.Wait()
}
