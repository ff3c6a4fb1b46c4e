package fscache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/substratehq/playground/internal/events"
	"github.com/substratehq/playground/internal/sandbox"
)

// countingFS wraps an in-memory tree and counts reads per path.
type countingFS struct {
	mu    sync.Mutex
	files map[string]string
	dirs  map[string][]sandbox.DirEntry
	reads map[string]int
}

func newCountingFS(files map[string]string) *countingFS {
	return &countingFS{
		files: files,
		dirs:  make(map[string][]sandbox.DirEntry),
		reads: make(map[string]int),
	}
}

func (f *countingFS) ReadFile(path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads[path]++
	content, ok := f.files[path]
	if !ok {
		return "", fmt.Errorf("read %s: no such file", path)
	}
	return content, nil
}

func (f *countingFS) WriteFile(path, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = content
	return nil
}

func (f *countingFS) ReadDir(path string) ([]sandbox.DirEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, ok := f.dirs[path]
	if !ok {
		return nil, fmt.Errorf("readdir %s: no such directory", path)
	}
	return entries, nil
}

func (f *countingFS) ReadDirNames(path string) ([]string, error) {
	entries, err := f.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names, nil
}

func (f *countingFS) Remove(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, path)
	return nil
}

func (f *countingFS) MkdirAll(path string) error { return nil }

func (f *countingFS) Exists(path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[path]
	return ok, nil
}

func (f *countingFS) readCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads[path]
}

func TestReadThrough(t *testing.T) {
	fs := newCountingFS(map[string]string{"/a.js": "1"})
	cache := New(fs, nil, time.Millisecond, nil)

	for i := 0; i < 3; i++ {
		content, err := cache.ReadFile("/a.js")
		if err != nil {
			t.Fatalf("ReadFile failed: %v", err)
		}
		if content != "1" {
			t.Errorf("content = %q", content)
		}
	}

	if n := fs.readCount("/a.js"); n != 1 {
		t.Errorf("sandbox read %d times, want 1 (cache miss only)", n)
	}
}

func TestWriteInvalidates(t *testing.T) {
	fs := newCountingFS(map[string]string{"/a.js": "old"})
	cache := New(fs, nil, time.Millisecond, nil)
	defer cache.Close()

	if _, err := cache.ReadFile("/a.js"); err != nil {
		t.Fatal(err)
	}
	if err := cache.WriteFile("/a.js", "new"); err != nil {
		t.Fatal(err)
	}

	content, err := cache.ReadFile("/a.js")
	if err != nil {
		t.Fatal(err)
	}
	if content != "new" {
		t.Errorf("stale read after write: %q", content)
	}
	// The post-write read must have gone back to the sandbox.
	if n := fs.readCount("/a.js"); n != 2 {
		t.Errorf("sandbox read %d times, want 2", n)
	}
}

func TestDebouncedChangeNotification(t *testing.T) {
	fs := newCountingFS(map[string]string{})
	bus := events.NewBus(nil)
	cache := New(fs, bus, 20*time.Millisecond, nil)
	defer cache.Close()

	var mu sync.Mutex
	var changes []events.FileChangePayload
	bus.On(events.FileChange, func(payload interface{}) {
		mu.Lock()
		changes = append(changes, payload.(events.FileChangePayload))
		mu.Unlock()
	})

	// Three rapid writes to one path collapse into one notification
	// carrying the final content.
	for _, content := range []string{"a", "ab", "abc"} {
		if err := cache.WriteFile("/doc.txt", content); err != nil {
			t.Fatal(err)
		}
	}

	time.Sleep(80 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 1 {
		t.Fatalf("got %d notifications, want 1: %v", len(changes), changes)
	}
	if changes[0].Path != "/doc.txt" || changes[0].Content != "abc" {
		t.Errorf("notification = %+v", changes[0])
	}
}

func TestInvalidateAll(t *testing.T) {
	fs := newCountingFS(map[string]string{"/a.js": "1", "/b.js": "2"})
	cache := New(fs, nil, time.Millisecond, nil)

	cache.ReadFile("/a.js")
	cache.ReadFile("/b.js")
	cache.InvalidateAll()
	cache.ReadFile("/a.js")

	if n := fs.readCount("/a.js"); n != 2 {
		t.Errorf("read count after InvalidateAll = %d, want 2", n)
	}
}

func TestBuildTreeOrdering(t *testing.T) {
	fs := newCountingFS(map[string]string{})
	fs.dirs["/"] = []sandbox.DirEntry{
		{Name: "zeta.js", IsDir: false},
		{Name: "src", IsDir: true},
		{Name: "alpha.js", IsDir: false},
		{Name: "lib", IsDir: true},
	}
	fs.dirs["/src"] = nil
	fs.dirs["/lib"] = nil

	cache := New(fs, nil, time.Millisecond, nil)
	tree, err := cache.BuildTree("/", TreeOptions{})
	if err != nil {
		t.Fatalf("BuildTree failed: %v", err)
	}

	var names []string
	for _, child := range tree.Children {
		names = append(names, child.Name)
	}
	want := []string{"lib", "src", "alpha.js", "zeta.js"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestBuildTreeDepthCap(t *testing.T) {
	fs := newCountingFS(map[string]string{})
	// A self-referencing listing simulates a pathological tree.
	fs.dirs["/"] = []sandbox.DirEntry{{Name: "loop", IsDir: true}}
	fs.dirs["/loop"] = []sandbox.DirEntry{{Name: "loop", IsDir: true}}
	fs.dirs["/loop/loop"] = []sandbox.DirEntry{{Name: "loop", IsDir: true}}
	fs.dirs["/loop/loop/loop"] = []sandbox.DirEntry{{Name: "loop", IsDir: true}}

	cache := New(fs, nil, time.Millisecond, nil)
	tree, err := cache.BuildTree("/", TreeOptions{MaxDepth: 2})
	if err != nil {
		t.Fatalf("BuildTree failed: %v", err)
	}

	node := tree
	depth := 0
	for len(node.Children) > 0 {
		node = node.Children[0]
		depth++
	}
	if depth > 2 {
		t.Errorf("tree depth %d exceeds cap", depth)
	}
	if !node.Truncated {
		t.Error("deepest node should be marked truncated")
	}
}

func TestBuildTreeIgnores(t *testing.T) {
	fs := newCountingFS(map[string]string{})
	fs.dirs["/"] = []sandbox.DirEntry{
		{Name: "node_modules", IsDir: true},
		{Name: ".git", IsDir: true},
		{Name: "src", IsDir: true},
	}
	fs.dirs["/src"] = nil

	cache := New(fs, nil, time.Millisecond, nil)
	tree, err := cache.BuildTree("/", TreeOptions{IgnoreGlobs: []string{"node_modules", ".*"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(tree.Children) != 1 || tree.Children[0].Name != "src" {
		t.Errorf("children = %+v", tree.Children)
	}
}

func TestIsBinary(t *testing.T) {
	if IsBinary("plain text content\n") {
		t.Error("text misclassified as binary")
	}
	if !IsBinary("\x00\x01\x02\xff\xfe") {
		t.Error("binary misclassified as text")
	}
}
