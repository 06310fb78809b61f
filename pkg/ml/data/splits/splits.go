// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package splits partitions a numbered image dataset into train, validation and test splits,
// materialized as directories of relative symbolic links to the original images.
package splits

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/gomlx/ganutils/internal/workerspool"
	"github.com/gomlx/ganutils/pkg/support/fsutil"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// Split identifies one of the three partitions of a dataset.
type Split int

const (
	Train Split = iota
	Valid
	Test
)

// AllSplits in the order they take the example ids.
var AllSplits = []Split{Train, Valid, Test}

// String returns the name of the split, also used as its directory name.
func (s Split) String() string {
	switch s {
	case Train:
		return "train"
	case Valid:
		return "valid"
	case Test:
		return "test"
	}
	return fmt.Sprintf("Split(%d)", int(s))
}

// ParseSplit converts a split name ("train", "valid" or "test") to a Split.
func ParseSplit(name string) (Split, error) {
	for _, s := range AllSplits {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, errors.Errorf("unknown split %q, valid values are \"train\", \"valid\" and \"test\"", name)
}

// Assignment partitions the example ids `[0, Total)` into three contiguous ranges:
// train is `[0, TrainStop)`, valid is `[TrainStop, ValidStop)` and test is `[ValidStop, Total)`.
type Assignment struct {
	Total, TrainStop, ValidStop int
}

// Validate checks that `0 <= TrainStop < ValidStop <= Total`.
func (a Assignment) Validate() error {
	if a.TrainStop < 0 || a.TrainStop >= a.ValidStop || a.ValidStop > a.Total {
		return errors.Errorf("invalid split assignment %+v: it requires 0 <= TrainStop < ValidStop <= Total", a)
	}
	return nil
}

// Range returns the `[start, end)` range of example ids of the split.
func (a Assignment) Range(s Split) (start, end int) {
	switch s {
	case Train:
		return 0, a.TrainStop
	case Valid:
		return a.TrainStop, a.ValidStop
	default:
		return a.ValidStop, a.Total
	}
}

// SplitOf returns the split the example id belongs to.
func (a Assignment) SplitOf(id int) (Split, error) {
	switch {
	case id < 0 || id >= a.Total:
		return 0, errors.Errorf("example id %d out of range [0, %d)", id, a.Total)
	case id < a.TrainStop:
		return Train, nil
	case id < a.ValidStop:
		return Valid, nil
	}
	return Test, nil
}

// FileName of the example id: the 1-based id zero-padded to 6 digits, e.g. "000001.jpg" for id 0.
func FileName(id int) string {
	return fmt.Sprintf("%06d.jpg", id+1)
}

// LinkExistsError is returned when the link for an example is already present in its split
// directory, typically because the partition was already run.
type LinkExistsError struct {
	ExampleID int
	Path      string
	Err       error
}

// Error implements error.
func (e *LinkExistsError) Error() string {
	return fmt.Sprintf("link for example %d (%s) already exists at %q", e.ExampleID, FileName(e.ExampleID), e.Path)
}

// Unwrap returns the underlying error from the filesystem.
func (e *LinkExistsError) Unwrap() error { return e.Err }

// Stats reports what a partition did, per split (indexed by Split).
type Stats struct {
	Linked, Skipped [3]int
}

// Partitioner links examples into their split directories. Create it with New and configure it with
// the cascaded With* methods.
type Partitioner struct {
	parallelism     int
	showProgressBar bool
}

// New returns a sequential Partitioner.
func New() *Partitioner {
	return &Partitioner{}
}

// WithParallelism creates the links with up to n concurrent workers. n <= 1 means sequential.
//
// With parallelism, collisions with existing links don't stop the other workers, and the error
// returned is the one for the lowest example id.
//
// It returns the Partitioner, so configuration calls can be cascaded.
func (p *Partitioner) WithParallelism(n int) *Partitioner {
	p.parallelism = n
	return p
}

// WithProgressBar displays a progress bar while linking.
//
// It returns the Partitioner, so configuration calls can be cascaded.
func (p *Partitioner) WithProgressBar(show bool) *Partitioner {
	p.showProgressBar = show
	return p
}

// Partition with a sequential Partitioner.
func Partition(a Assignment, sourceDir, targetRoot string) (Stats, error) {
	return New().Partition(a, sourceDir, targetRoot)
}

// Partition creates `targetRoot/{train,valid,test}` and, for every example id whose file
// (see FileName) exists in sourceDir, a relative symbolic link to it in the directory of its split.
//
// Files missing from sourceDir are skipped. If a link already exists a *LinkExistsError is returned,
// and links created so far are left in place.
func (p *Partitioner) Partition(a Assignment, sourceDir, targetRoot string) (stats Stats, err error) {
	if err = a.Validate(); err != nil {
		return
	}
	var splitDirs [3]string
	for _, s := range AllSplits {
		splitDirs[s] = filepath.Join(targetRoot, s.String())
		if err = fsutil.EnsureDir(splitDirs[s]); err != nil {
			return
		}
	}

	var bar *progressbar.ProgressBar
	if p.showProgressBar {
		bar = progressbar.NewOptions(a.Total,
			progressbar.OptionSetDescription("Linking splits"),
			progressbar.OptionUseANSICodes(true),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("images"),
			progressbar.OptionSetTheme(progressbar.ThemeUnicode),
		)
		defer func() {
			_ = bar.Finish()
			fmt.Println()
		}()
	}

	// linkExample returns whether the example was linked, and a non-nil error if the link could not be created.
	linkExample := func(split Split, id int) (linked bool, err error) {
		name := FileName(id)
		source := filepath.Join(sourceDir, name)
		exists, err := fsutil.FileExists(source)
		if err != nil || !exists {
			return false, err
		}
		link := filepath.Join(splitDirs[split], name)
		err = fsutil.RelativeLink(source, link)
		if errors.Is(err, fs.ErrExist) {
			return false, &LinkExistsError{ExampleID: id, Path: link, Err: err}
		}
		if err != nil {
			return false, errors.Wrapf(err, "failed to link example %d", id)
		}
		return true, nil
	}

	if p.parallelism <= 1 {
		for _, split := range AllSplits {
			start, end := a.Range(split)
			for id := start; id < end; id++ {
				var linked bool
				linked, err = linkExample(split, id)
				if err != nil {
					return
				}
				if linked {
					stats.Linked[split]++
				} else {
					stats.Skipped[split]++
				}
				if bar != nil {
					_ = bar.Add(1)
				}
			}
		}
	} else {
		stats, err = p.parallelPartition(a, linkExample, bar)
		if err != nil {
			return
		}
	}
	klog.V(1).Infof("partitioned %q into %q: linked %v, skipped %v", sourceDir, targetRoot, stats.Linked, stats.Skipped)
	return
}

// parallelPartition runs linkExample for every example id with a pool of workers.
func (p *Partitioner) parallelPartition(a Assignment, linkExample func(Split, int) (bool, error),
	bar *progressbar.ProgressBar) (stats Stats, err error) {
	pool := workerspool.New()
	pool.SetMaxParallelism(p.parallelism)
	var mu sync.Mutex
	err = pool.ForEachErr(a.Total, func(id int) error {
		split, _ := a.SplitOf(id)
		linked, linkErr := linkExample(split, id)
		mu.Lock()
		defer mu.Unlock()
		if bar != nil {
			_ = bar.Add(1)
		}
		switch {
		case linkErr != nil:
			return linkErr
		case linked:
			stats.Linked[split]++
		default:
			stats.Skipped[split]++
		}
		return nil
	})
	return
}

// checkSplitDir is used by ListLinks to make sure the split directory exists.
func checkSplitDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return errors.Wrapf(err, "split directory %q", dir)
	}
	if !info.IsDir() {
		return errors.Errorf("split path %q is not a directory", dir)
	}
	return nil
}

// ListLinks returns the sorted paths of the example files in the split directory under targetRoot.
func ListLinks(targetRoot string, split Split) ([]string, error) {
	dir := filepath.Join(targetRoot, split.String())
	if err := checkSplitDir(dir); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir) // Sorted by file name.
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list split directory %q", dir)
	}
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != ".jpg" {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	return paths, nil
}
