package template

import (
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/substratehq/playground/internal/infrastructure/logging"
)

// Diff captures the file set changes between two flattened trees. The three
// sets are pairwise disjoint and together cover every differing path.
type Diff struct {
	Added    []string `json:"added"`
	Removed  []string `json:"removed"`
	Modified []string `json:"modified"`
}

// Empty reports whether the diff carries no changes.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
}

// ComputeDiff compares two flattened file maps. A path present only in
// target is added, present only in current is removed, present in both with
// differing content is modified. Content is compared by exact equality;
// renames are not detected and show up as one removed plus one added.
func ComputeDiff(current, target map[string]string) Diff {
	var diff Diff
	for p, content := range target {
		existing, ok := current[p]
		switch {
		case !ok:
			diff.Added = append(diff.Added, p)
		case existing != content:
			diff.Modified = append(diff.Modified, p)
		}
	}
	for p := range current {
		if _, ok := target[p]; !ok {
			diff.Removed = append(diff.Removed, p)
		}
	}
	sort.Strings(diff.Added)
	sort.Strings(diff.Removed)
	sort.Strings(diff.Modified)
	return diff
}

// FS is the subset of sandbox filesystem operations diff application needs.
type FS interface {
	WriteFile(path string, content string) error
	MkdirAll(path string) error
	Remove(path string) error
	ReadDirNames(path string) ([]string, error)
}

// DefaultIgnoreGlobs names entries that never count against directory
// emptiness and are never pruned themselves: the dependency install cache
// and hidden entries.
var DefaultIgnoreGlobs = []string{"node_modules", ".*"}

// Applier mutates a mounted tree to match a target tree with minimal file
// operations.
type Applier struct {
	fs          FS
	ignoreGlobs []string
	logger      *logging.Logger
}

// NewApplier creates a diff applier. Nil ignoreGlobs selects
// DefaultIgnoreGlobs.
func NewApplier(fs FS, ignoreGlobs []string, logger *logging.Logger) *Applier {
	if ignoreGlobs == nil {
		ignoreGlobs = DefaultIgnoreGlobs
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Applier{fs: fs, ignoreGlobs: ignoreGlobs, logger: logger.Named("diff")}
}

// Apply executes the diff against the filesystem. Removals run before
// writes so a path that changes type between file and directory cannot
// collide with itself. Directories left empty by a removal are pruned;
// empty directories left behind mask later fresh-mount problems. Removal
// failures are logged and skipped since a leftover file is less damaging
// than aborting a switch; write failures are fatal to the apply.
func (a *Applier) Apply(diff Diff, target map[string]string) error {
	for _, p := range diff.Removed {
		if err := a.fs.Remove(p); err != nil {
			a.logger.Warn("failed to remove file during diff apply",
				zap.String("path", p), zap.Error(err))
			continue
		}
		a.pruneEmptyParents(path.Dir(p))
	}

	writes := make([]string, 0, len(diff.Added)+len(diff.Modified))
	writes = append(writes, diff.Added...)
	writes = append(writes, diff.Modified...)
	sort.Strings(writes)

	for _, p := range writes {
		if dir := path.Dir(p); dir != "/" {
			if err := a.fs.MkdirAll(dir); err != nil {
				return &PathError{Op: "mkdir", Path: dir, Err: err}
			}
		}
		if err := a.fs.WriteFile(p, target[p]); err != nil {
			return &PathError{Op: "write", Path: p, Err: err}
		}
	}
	return nil
}

// pruneEmptyParents removes dir and its ancestors while they are empty,
// stopping at the root or at the first non-empty or ignored directory.
func (a *Applier) pruneEmptyParents(dir string) {
	for dir != "/" && dir != "." && dir != "" {
		if a.ignored(path.Base(dir)) {
			return
		}
		names, err := a.fs.ReadDirNames(dir)
		if err != nil {
			return
		}
		if !a.prunable(names) {
			return
		}
		if err := a.fs.Remove(dir); err != nil {
			a.logger.Warn("failed to prune empty directory",
				zap.String("path", dir), zap.Error(err))
			return
		}
		dir = path.Dir(dir)
	}
}

// prunable reports whether the listing is empty once hidden stragglers
// are discounted. Only entries that are both ignored and hidden count as
// stragglers the recursive Remove may take with the directory; an ignored
// non-hidden entry (a nested install cache) keeps the directory alive so
// the entry itself is never pruned.
func (a *Applier) prunable(names []string) bool {
	for _, name := range names {
		if a.ignored(name) && strings.HasPrefix(name, ".") {
			continue
		}
		return false
	}
	return true
}

func (a *Applier) ignored(name string) bool {
	for _, glob := range a.ignoreGlobs {
		if ok, err := doublestar.Match(glob, name); err == nil && ok {
			return true
		}
	}
	return false
}

// PathError wraps a filesystem failure with the offending path.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return "diff " + e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *PathError) Unwrap() error {
	return e.Err
}
