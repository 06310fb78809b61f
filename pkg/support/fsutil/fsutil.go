// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fsutil contains utilities for working with the file system.
package fsutil

import (
	"io/fs"
	"os"
	"os/user"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// MustFileExists returns whether the file or directory exists.
// It panics on file system errors.
func MustFileExists(path string) bool {
	exists, err := FileExists(path)
	if err != nil {
		panic(err)
	}
	return exists
}

// FileExists returns whether the file or directory exists or an error if something went wrong in the filesystem.
//
// Symbolic links are followed, so a dangling link reports false. See LinkExists.
func FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, errors.Wrapf(err, "failed to FileExists(%q)", path)
}

// LinkExists returns whether there is a directory entry at path, without following symbolic links.
func LinkExists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, errors.Wrapf(err, "failed to LinkExists(%q)", path)
}

// EnsureDir creates dir and any missing parents. It is a no-op if dir already exists.
func EnsureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	err := os.MkdirAll(dir, 0777)
	if err != nil && !errors.Is(err, fs.ErrExist) {
		return errors.Wrapf(err, "failed to create directory %q", dir)
	}
	return nil
}

// EnsureParentDir creates the directory that will hold filePath, if it doesn't exist yet.
func EnsureParentDir(filePath string) error {
	return EnsureDir(filepath.Dir(filePath))
}

// RelativeLink creates a symbolic link at linkPath pointing to target, using a path relative to
// the link's directory, so the linked tree can be moved as a whole.
//
// If linkPath already exists the returned error satisfies errors.Is(err, fs.ErrExist).
func RelativeLink(target, linkPath string) error {
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return errors.Wrapf(err, "failed to resolve %q", target)
	}
	linkDir, err := filepath.Abs(filepath.Dir(linkPath))
	if err != nil {
		return errors.Wrapf(err, "failed to resolve directory of %q", linkPath)
	}
	rel, err := filepath.Rel(linkDir, absTarget)
	if err != nil {
		return errors.Wrapf(err, "failed to make %q relative to %q", absTarget, linkDir)
	}
	return os.Symlink(rel, linkPath)
}

// MustReplaceTildeInDir by the user's home directory. Returns dir if it doesn't start with "~".
//
// It may panic with an error if `dir` has an unknown user (e.g: `~unknown/...`)
func MustReplaceTildeInDir(dir string) string {
	dir, err := ReplaceTildeInDir(dir)
	if err != nil {
		panic(err)
	}
	return dir
}

// ReplaceTildeInDir by the user's home directory. Returns dir if it doesn't start with "~".
//
// It returns an error if `dir` has an unknown user or some other filesystem error (e.g: `~unknown/...`)
func ReplaceTildeInDir(dir string) (string, error) {
	if len(dir) == 0 || dir[0] != '~' {
		return dir, nil
	}
	var userName string
	if dir != "~" && !strings.HasPrefix(dir, "~/") {
		sepIdx := strings.IndexRune(dir, '/')
		if sepIdx == -1 {
			userName = dir[1:]
		} else {
			userName = dir[1:sepIdx]
		}
	}
	var usr *user.User
	var err error
	if userName == "" {
		usr, err = user.Current()
	} else {
		usr, err = user.Lookup(userName)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to lookup home directory for user in path %q", dir)
	}
	return path.Join(usr.HomeDir, dir[1+len(userName):]), nil
}
