// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package downloader

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/ganutils/pkg/support/fsutil"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ImagesSubdir is the canonical name of the directory holding the raw images of a dataset.
const ImagesSubdir = "images"

// ExtractError is returned when an archive can't be extracted: corrupt or unsupported archive,
// or failure writing its entries. Entries extracted before the failure are left on disk.
type ExtractError struct {
	Archive string
	Entry   string // Set if the failure is specific to one entry.
	Err     error
}

// Error implements error.
func (e *ExtractError) Error() string {
	if e.Entry != "" {
		return fmt.Sprintf("extracting %q from %q: %v", e.Entry, e.Archive, e.Err)
	}
	return fmt.Sprintf("extracting %q: %v", e.Archive, e.Err)
}

// Unwrap returns the underlying error.
func (e *ExtractError) Unwrap() error { return e.Err }

// Extract all entries of the archive under destDir. The format is chosen by the file suffix:
// ".zip", ".tar", ".tar.gz" or ".tgz".
//
// Entries that would be written outside destDir are rejected.
func Extract(archivePath, destDir string) error {
	if err := fsutil.EnsureDir(destDir); err != nil {
		return &ExtractError{Archive: archivePath, Err: err}
	}
	lower := strings.ToLower(archivePath)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return unzip(archivePath, destDir)
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return untar(archivePath, destDir, true)
	case strings.HasSuffix(lower, ".tar"):
		return untar(archivePath, destDir, false)
	}
	return &ExtractError{Archive: archivePath, Err: errors.New("unsupported archive format")}
}

// entryPath returns where an archive entry should be written, or an error if it escapes destDir.
func entryPath(destDir, name string) (string, error) {
	target := filepath.Join(destDir, filepath.FromSlash(name))
	rel, err := filepath.Rel(destDir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Errorf("entry path escapes destination directory %q", destDir)
	}
	return target, nil
}

func writeEntry(target string, mode os.FileMode, r io.Reader) error {
	if err := fsutil.EnsureParentDir(target); err != nil {
		return err
	}
	if mode.Perm() == 0 {
		mode = 0644
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return errors.Wrapf(err, "failed creating %q", target)
	}
	_, err = io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return errors.Wrapf(err, "failed writing %q", target)
}

func unzip(archivePath, destDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		if r != nil {
			_ = r.Close()
		}
		return &ExtractError{Archive: archivePath, Err: err}
	}
	defer func() { _ = r.Close() }()
	var total uint64
	for _, entry := range r.File {
		target, err := entryPath(destDir, entry.Name)
		if err != nil {
			return &ExtractError{Archive: archivePath, Entry: entry.Name, Err: err}
		}
		if entry.FileInfo().IsDir() {
			if err = fsutil.EnsureDir(target); err != nil {
				return &ExtractError{Archive: archivePath, Entry: entry.Name, Err: err}
			}
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return &ExtractError{Archive: archivePath, Entry: entry.Name, Err: err}
		}
		err = writeEntry(target, entry.Mode(), rc)
		_ = rc.Close()
		if err != nil {
			return &ExtractError{Archive: archivePath, Entry: entry.Name, Err: err}
		}
		total += entry.UncompressedSize64
	}
	klog.V(1).Infof("extracted %d entries (%s) from %q", len(r.File), humanize.IBytes(total), archivePath)
	return nil
}

func untar(archivePath, destDir string, gzipped bool) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return &ExtractError{Archive: archivePath, Err: err}
	}
	defer func() { _ = f.Close() }()
	var r io.Reader = f
	if gzipped {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return &ExtractError{Archive: archivePath, Err: err}
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}
	tr := tar.NewReader(r)
	var count int
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return &ExtractError{Archive: archivePath, Err: err}
		}
		target, err := entryPath(destDir, hdr.Name)
		if err != nil {
			return &ExtractError{Archive: archivePath, Entry: hdr.Name, Err: err}
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			err = fsutil.EnsureDir(target)
		case tar.TypeReg:
			err = writeEntry(target, hdr.FileInfo().Mode(), tr)
		default:
			klog.V(1).Infof("skipping %q in %q: unsupported tar entry type %q", hdr.Name, archivePath, hdr.Typeflag)
			continue
		}
		if err != nil {
			return &ExtractError{Archive: archivePath, Entry: hdr.Name, Err: err}
		}
		count++
	}
	klog.V(1).Infof("extracted %d entries from %q", count, archivePath)
	return nil
}

// DatasetLayout describes how an extracted archive is laid out in the canonical dataset directory.
type DatasetLayout struct {
	// Name of the dataset directory, created under the base directory.
	// Its existence marks the dataset as already downloaded.
	Name string

	// ExtractedDir is the top-level directory created by extracting the archive. It is
	// renamed to `<Name>/images`.
	ExtractedDir string

	// Partition, if not nil, is called with the dataset directory once the images are in place.
	Partition func(dataDir string) error
}

// FetchAndExtractArchive makes sure the dataset is present under `baseDir/<layout.Name>`:
//
//  1. If the dataset directory already exists, it does nothing.
//  2. If `baseDir/<archiveFilename>` doesn't exist, it is fetched with the remote id. An existing
//     archive (e.g. from a previous run interrupted during extraction) is reused as is.
//  3. The archive is extracted into baseDir, its top-level directory is moved to
//     `baseDir/<layout.Name>/images`, and the archive is removed.
//  4. layout.Partition is called with the dataset directory.
//
// Errors are returned as they happen, without cleaning up: a failed extraction leaves the
// entries written so far.
func (f *Fetcher) FetchAndExtractArchive(remoteID, archiveFilename, baseDir string, layout DatasetLayout) error {
	if layout.Name == "" || layout.ExtractedDir == "" {
		return errors.Errorf("dataset layout requires Name and ExtractedDir, got %+v", layout)
	}
	baseDir, err := fsutil.ReplaceTildeInDir(baseDir)
	if err != nil {
		return err
	}
	if err = fsutil.EnsureDir(baseDir); err != nil {
		return err
	}
	dataDir := filepath.Join(baseDir, layout.Name)
	exists, err := fsutil.FileExists(dataDir)
	if err != nil {
		return err
	}
	if exists {
		klog.Infof("found dataset %q in %q, skipping download", layout.Name, dataDir)
		return nil
	}

	archivePath := filepath.Join(baseDir, archiveFilename)
	exists, err = fsutil.FileExists(archivePath)
	if err != nil {
		return err
	}
	if exists {
		klog.Infof("archive %q already exists, skipping download", archivePath)
	} else {
		klog.Infof("downloading %q to %q", remoteID, archivePath)
		size, err := f.Fetch(remoteID, archivePath)
		if err != nil {
			return err
		}
		klog.Infof("downloaded %s to %q", humanize.IBytes(uint64(size)), archivePath)
	}

	if err = Extract(archivePath, baseDir); err != nil {
		return err
	}
	extractedDir := filepath.Join(baseDir, layout.ExtractedDir)
	exists, err = fsutil.FileExists(extractedDir)
	if err != nil {
		return err
	}
	if !exists {
		return &ExtractError{Archive: archivePath, Err: errors.Errorf(
			"archive didn't produce the expected directory %q", layout.ExtractedDir)}
	}
	if err = fsutil.EnsureDir(dataDir); err != nil {
		return err
	}
	imagesDir := filepath.Join(dataDir, ImagesSubdir)
	if err = os.Rename(extractedDir, imagesDir); err != nil {
		return errors.Wrapf(err, "failed to move %q to %q", extractedDir, imagesDir)
	}
	if err = os.Remove(archivePath); err != nil {
		return errors.Wrapf(err, "failed to remove archive %q after extraction", archivePath)
	}
	if layout.Partition != nil {
		if err = layout.Partition(dataDir); err != nil {
			return errors.WithMessagef(err, "partitioning dataset %q", layout.Name)
		}
	}
	return nil
}
