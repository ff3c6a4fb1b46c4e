package template

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"testing"
)

// fakeFS is an in-memory filesystem for diff application tests.
type fakeFS struct {
	files map[string]string // path -> content
	dirs  map[string]bool
}

func newFakeFS(files map[string]string) *fakeFS {
	fs := &fakeFS{files: make(map[string]string), dirs: map[string]bool{"/": true}}
	for p, content := range files {
		fs.files[p] = content
		fs.trackDirs(p)
	}
	return fs
}

func (f *fakeFS) trackDirs(p string) {
	for dir := path.Dir(p); dir != "/" && dir != "."; dir = path.Dir(dir) {
		f.dirs[dir] = true
	}
}

func (f *fakeFS) WriteFile(p string, content string) error {
	f.files[p] = content
	f.trackDirs(p)
	return nil
}

func (f *fakeFS) MkdirAll(p string) error {
	f.dirs[p] = true
	f.trackDirs(p + "/x")
	return nil
}

func (f *fakeFS) Remove(p string) error {
	if _, ok := f.files[p]; ok {
		delete(f.files, p)
		return nil
	}
	if f.dirs[p] {
		delete(f.dirs, p)
		for child := range f.files {
			if strings.HasPrefix(child, p+"/") {
				delete(f.files, child)
			}
		}
		for child := range f.dirs {
			if strings.HasPrefix(child, p+"/") {
				delete(f.dirs, child)
			}
		}
		return nil
	}
	return fmt.Errorf("remove %s: no such file", p)
}

func (f *fakeFS) ReadDirNames(p string) ([]string, error) {
	if p != "/" && !f.dirs[p] {
		return nil, fmt.Errorf("readdir %s: no such directory", p)
	}
	seen := make(map[string]bool)
	prefix := p
	if prefix != "/" {
		prefix += "/"
	}
	for child := range f.files {
		if strings.HasPrefix(child, prefix) {
			rest := strings.TrimPrefix(child, prefix)
			seen[strings.SplitN(rest, "/", 2)[0]] = true
		}
	}
	for child := range f.dirs {
		if strings.HasPrefix(child, prefix) {
			rest := strings.TrimPrefix(child, prefix)
			seen[strings.SplitN(rest, "/", 2)[0]] = true
		}
	}
	var names []string
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func TestComputeDiffClassification(t *testing.T) {
	current := map[string]string{
		"/a.js":     "1",
		"/same.js":  "x",
		"/mod.js":   "old",
	}
	target := map[string]string{
		"/b.js":    "2",
		"/same.js": "x",
		"/mod.js":  "new",
	}

	diff := ComputeDiff(current, target)

	if len(diff.Added) != 1 || diff.Added[0] != "/b.js" {
		t.Errorf("Added = %v", diff.Added)
	}
	if len(diff.Removed) != 1 || diff.Removed[0] != "/a.js" {
		t.Errorf("Removed = %v", diff.Removed)
	}
	if len(diff.Modified) != 1 || diff.Modified[0] != "/mod.js" {
		t.Errorf("Modified = %v", diff.Modified)
	}
}

// The three sets partition the differing paths: pairwise disjoint, and with
// the unchanged paths they cover keys(current) union keys(target).
func TestComputeDiffPartition(t *testing.T) {
	current := map[string]string{"/a": "1", "/b": "2", "/c": "3", "/d": "4"}
	target := map[string]string{"/b": "2", "/c": "other", "/d": "4", "/e": "5"}

	diff := ComputeDiff(current, target)

	membership := make(map[string]int)
	for _, p := range diff.Added {
		membership[p]++
	}
	for _, p := range diff.Removed {
		membership[p]++
	}
	for _, p := range diff.Modified {
		membership[p]++
	}
	for p, count := range membership {
		if count > 1 {
			t.Errorf("path %s appears in %d sets", p, count)
		}
	}

	union := make(map[string]bool)
	for p := range current {
		union[p] = true
	}
	for p := range target {
		union[p] = true
	}
	for p := range union {
		_, inDiff := membership[p]
		unchanged := current[p] == target[p] && hasKey(current, p) && hasKey(target, p)
		if inDiff == unchanged {
			t.Errorf("path %s: inDiff=%v unchanged=%v", p, inDiff, unchanged)
		}
	}
}

func hasKey(m map[string]string, k string) bool {
	_, ok := m[k]
	return ok
}

func TestComputeDiffIdentical(t *testing.T) {
	files := map[string]string{"/a": "1", "/b/c": "2"}
	if diff := ComputeDiff(files, files); !diff.Empty() {
		t.Errorf("diff of identical maps should be empty: %+v", diff)
	}
}

func TestApplyDiffConverges(t *testing.T) {
	current := map[string]string{
		"/a.js":        "1",
		"/src/old.js":  "x",
		"/src/keep.js": "k",
	}
	target := map[string]string{
		"/b.js":        "2",
		"/src/keep.js": "k2",
		"/lib/new.js":  "n",
	}

	fs := newFakeFS(current)
	applier := NewApplier(fs, nil, nil)

	diff := ComputeDiff(current, target)
	if err := applier.Apply(diff, target); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	// The mounted state now equals target exactly.
	after := ComputeDiff(fs.files, target)
	if !after.Empty() {
		t.Errorf("post-apply diff not empty: %+v (files: %v)", after, fs.files)
	}
}

func TestApplyDiffPrunesEmptyDirs(t *testing.T) {
	current := map[string]string{"/deep/nested/only.js": "1"}
	target := map[string]string{"/top.js": "t"}

	fs := newFakeFS(current)
	applier := NewApplier(fs, nil, nil)

	if err := applier.Apply(ComputeDiff(current, target), target); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if fs.dirs["/deep/nested"] || fs.dirs["/deep"] {
		t.Errorf("emptied directories should be pruned: %v", fs.dirs)
	}
}

func TestApplyDiffKeepsInstallDir(t *testing.T) {
	current := map[string]string{
		"/a.js":                     "1",
		"/node_modules/react/x.js":  "lib",
	}
	target := map[string]string{"/b.js": "2"}

	fs := newFakeFS(current)
	applier := NewApplier(fs, nil, nil)

	// Diff is computed against the mounted template state, which never
	// includes the install cache; simulate that by diffing without it.
	mounted := map[string]string{"/a.js": "1"}
	if err := applier.Apply(ComputeDiff(mounted, target), target); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if _, ok := fs.files["/node_modules/react/x.js"]; !ok {
		t.Error("install cache must survive a switch")
	}
	if _, ok := fs.files["/b.js"]; !ok {
		t.Error("target file missing after apply")
	}
}

func TestApplyDiffNeverPrunesNestedInstallDir(t *testing.T) {
	current := map[string]string{"/pkg/main.js": "1"}
	target := map[string]string{"/top.js": "t"}

	fs := newFakeFS(current)
	// A nested install cache is the only other entry in /pkg.
	fs.files["/pkg/node_modules/dep/x.js"] = "lib"
	fs.trackDirs("/pkg/node_modules/dep/x.js")
	applier := NewApplier(fs, nil, nil)

	if err := applier.Apply(ComputeDiff(current, target), target); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if !fs.dirs["/pkg"] {
		t.Error("directory holding an install cache must not be pruned")
	}
	if _, ok := fs.files["/pkg/node_modules/dep/x.js"]; !ok {
		t.Error("nested install cache must survive pruning")
	}
}

func TestApplyDiffPrunesDirWithHiddenStragglers(t *testing.T) {
	current := map[string]string{"/pkg/main.js": "1"}
	target := map[string]string{"/top.js": "t"}

	fs := newFakeFS(current)
	fs.files["/pkg/.gitkeep"] = ""
	applier := NewApplier(fs, nil, nil)

	if err := applier.Apply(ComputeDiff(current, target), target); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if fs.dirs["/pkg"] {
		t.Error("directory holding only hidden stragglers should be pruned")
	}
}

func TestApplyDiffRemoveFailureIsSkipped(t *testing.T) {
	current := map[string]string{"/a.js": "1", "/b.js": "2"}
	target := map[string]string{"/c.js": "3"}

	fs := newFakeFS(current)
	delete(fs.files, "/a.js") // removal of /a.js will now fail
	applier := NewApplier(fs, nil, nil)

	if err := applier.Apply(ComputeDiff(current, target), target); err != nil {
		t.Fatalf("Apply should tolerate removal failure: %v", err)
	}
	if _, ok := fs.files["/c.js"]; !ok {
		t.Error("apply should continue past removal failure")
	}
}
