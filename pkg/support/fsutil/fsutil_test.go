// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fsutil

import (
	"io/fs"
	"os"
	"os/user"
	"path"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaceTildeInDir(t *testing.T) {
	usr, err := user.Current()
	require.NoError(t, err)

	got, err := ReplaceTildeInDir("~/tmp/celeba")
	require.NoError(t, err)
	assert.Equal(t, path.Join(usr.HomeDir, "tmp/celeba"), got)

	got, err = ReplaceTildeInDir("/abs/dir")
	require.NoError(t, err)
	assert.Equal(t, "/abs/dir", got)

	_, err = ReplaceTildeInDir("~no_such_user_really_42/x")
	assert.Error(t, err)
}

func TestEnsureDirAndExists(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "a", "b", "c")
	require.NoError(t, EnsureDir(dir))
	require.NoError(t, EnsureDir(dir)) // Idempotent.
	assert.True(t, MustFileExists(dir))

	require.NoError(t, EnsureParentDir(filepath.Join(base, "x", "y", "file.png")))
	assert.True(t, MustFileExists(filepath.Join(base, "x", "y")))
	assert.False(t, MustFileExists(filepath.Join(base, "x", "y", "file.png")))
}

func TestRelativeLink(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(base, "images", "000001.jpg")
	require.NoError(t, EnsureParentDir(src))
	require.NoError(t, os.WriteFile(src, []byte("jpeg"), 0644))
	linkDir := filepath.Join(base, "splits", "train")
	require.NoError(t, EnsureDir(linkDir))

	link := filepath.Join(linkDir, "000001.jpg")
	require.NoError(t, RelativeLink(src, link))
	target, err := os.Readlink(link)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("..", "..", "images", "000001.jpg"), target)
	contents, err := os.ReadFile(link)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(contents))

	err = RelativeLink(src, link)
	assert.True(t, errors.Is(err, fs.ErrExist))

	// Dangling links are visible to LinkExists but not to FileExists.
	require.NoError(t, os.Remove(src))
	exists, err := LinkExists(link)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.False(t, MustFileExists(link))
}
