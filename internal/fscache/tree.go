package fscache

import (
	"path"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

// DefaultTreeDepth caps tree recursion. The cap guards against cyclic or
// pathological trees; exceeding it truncates and warns instead of
// recursing unboundedly.
const DefaultTreeDepth = 12

// TreeNode is one entry in a directory tree listing.
type TreeNode struct {
	Name      string      `json:"name"`
	Path      string      `json:"path"`
	IsDir     bool        `json:"is_dir"`
	Truncated bool        `json:"truncated,omitempty"`
	Children  []*TreeNode `json:"children,omitempty"`
}

// TreeOptions control tree building.
type TreeOptions struct {
	// MaxDepth caps recursion; non-positive selects DefaultTreeDepth.
	MaxDepth int
	// IgnoreGlobs names entries omitted from the listing.
	IgnoreGlobs []string
}

// BuildTree lists the sandbox tree under root, directories before files
// and each group sorted by name. The tree is rebuilt from the sandbox on
// every call; file contents are not touched.
func (c *Cache) BuildTree(root string, opts TreeOptions) (*TreeNode, error) {
	depth := opts.MaxDepth
	if depth <= 0 {
		depth = DefaultTreeDepth
	}

	node := &TreeNode{Name: path.Base(root), Path: root, IsDir: true}
	if root == "/" {
		node.Name = "/"
	}
	if err := c.fillChildren(node, depth, opts.IgnoreGlobs); err != nil {
		return nil, err
	}
	return node, nil
}

func (c *Cache) fillChildren(node *TreeNode, remaining int, ignoreGlobs []string) error {
	if remaining <= 0 {
		node.Truncated = true
		c.logger.Warn("tree depth cap reached, truncating",
			zap.String("path", node.Path))
		return nil
	}

	entries, err := c.fs.ReadDir(node.Path)
	if err != nil {
		return err
	}

	// Directories first, then files, each sorted by name.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return entries[i].Name < entries[j].Name
	})

	for _, entry := range entries {
		if matchesAny(ignoreGlobs, entry.Name) {
			continue
		}
		child := &TreeNode{
			Name:  entry.Name,
			Path:  path.Join(node.Path, entry.Name),
			IsDir: entry.IsDir,
		}
		if entry.IsDir {
			if err := c.fillChildren(child, remaining-1, ignoreGlobs); err != nil {
				return err
			}
		}
		node.Children = append(node.Children, child)
	}
	return nil
}

func matchesAny(globs []string, name string) bool {
	for _, glob := range globs {
		if ok, err := doublestar.Match(glob, name); err == nil && ok {
			return true
		}
	}
	return false
}
