package template

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// Template declares a project's initial file tree, dependencies, and run
// command. Templates are immutable once constructed and identified by ID;
// two templates are the same template iff their IDs match.
type Template struct {
	ID              string            `json:"id" yaml:"id"`
	Name            string            `json:"name" yaml:"name"`
	Files           *FileNode         `json:"files" yaml:"files"`
	Dependencies    map[string]string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	DevDependencies map[string]string `json:"devDependencies,omitempty" yaml:"devDependencies,omitempty"`
	RunCommand      string            `json:"runCommand" yaml:"runCommand"`
	EntryFile       string            `json:"entryFile,omitempty" yaml:"entryFile,omitempty"`
}

// FileNode is one node of a declarative file tree: a file with raw content,
// or a directory with named children.
type FileNode struct {
	Content  *string
	Children map[string]*FileNode
}

// IsDir reports whether the node is a directory.
func (n *FileNode) IsDir() bool {
	return n != nil && n.Content == nil
}

// File creates a file node.
func File(content string) *FileNode {
	return &FileNode{Content: &content}
}

// Dir creates a directory node.
func Dir(children map[string]*FileNode) *FileNode {
	if children == nil {
		children = make(map[string]*FileNode)
	}
	return &FileNode{Children: children}
}

// Flatten converts the template's file tree into its canonical flattened
// form: a map from absolute path (always "/"-rooted) to file content.
// Empty directories do not appear in the flattened form.
func (t *Template) Flatten() map[string]string {
	out := make(map[string]string)
	if t.Files == nil {
		return out
	}
	flattenInto(out, "/", t.Files)
	return out
}

func flattenInto(out map[string]string, prefix string, node *FileNode) {
	if !node.IsDir() {
		out[prefix] = *node.Content
		return
	}
	for name, child := range node.Children {
		flattenInto(out, path.Join(prefix, name), child)
	}
}

// TreeFromMap rebuilds a file tree from a flattened path->content map.
// Paths must be absolute.
func TreeFromMap(files map[string]string) (*FileNode, error) {
	root := Dir(nil)
	// Deterministic insertion so conflicts surface consistently.
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		if len(p) == 0 || p[0] != '/' {
			return nil, fmt.Errorf("path %q is not absolute", p)
		}
		if err := insert(root, p, files[p]); err != nil {
			return nil, err
		}
	}
	return root, nil
}

func insert(root *FileNode, p, content string) error {
	segments := splitPath(p)
	node := root
	for i, seg := range segments {
		if i == len(segments)-1 {
			if existing, ok := node.Children[seg]; ok && existing.IsDir() {
				return fmt.Errorf("path %q conflicts with existing directory", p)
			}
			node.Children[seg] = File(content)
			return nil
		}
		child, ok := node.Children[seg]
		if !ok {
			child = Dir(nil)
			node.Children[seg] = child
		} else if !child.IsDir() {
			return fmt.Errorf("path %q conflicts with existing file", p)
		}
		node = child
	}
	return nil
}

func splitPath(p string) []string {
	var segments []string
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	return segments
}
