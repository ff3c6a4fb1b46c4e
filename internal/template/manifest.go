package template

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
)

// The wire form of a file tree maps names to either a string (file content)
// or a nested object (directory). FileNode implements the json and yaml
// codec interfaces so templates round-trip through both formats.

// MarshalJSON encodes a file as its content string and a directory as an
// object of children.
func (n *FileNode) MarshalJSON() ([]byte, error) {
	if !n.IsDir() {
		return json.Marshal(*n.Content)
	}
	return json.Marshal(n.Children)
}

// UnmarshalJSON decodes the wire form described above.
func (n *FileNode) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "\"") {
		var content string
		if err := json.Unmarshal(data, &content); err != nil {
			return err
		}
		n.Content = &content
		n.Children = nil
		return nil
	}

	var children map[string]*FileNode
	if err := json.Unmarshal(data, &children); err != nil {
		return fmt.Errorf("file tree node must be a string or an object: %w", err)
	}
	if children == nil {
		children = make(map[string]*FileNode)
	}
	n.Content = nil
	n.Children = children
	return nil
}

// MarshalYAML mirrors the JSON wire form.
func (n *FileNode) MarshalYAML() (interface{}, error) {
	if !n.IsDir() {
		return *n.Content, nil
	}
	return n.Children, nil
}

// UnmarshalYAML mirrors the JSON wire form.
func (n *FileNode) UnmarshalYAML(data []byte) error {
	var content string
	if err := yaml.Unmarshal(data, &content); err == nil {
		n.Content = &content
		n.Children = nil
		return nil
	}

	var children map[string]*FileNode
	if err := yaml.Unmarshal(data, &children); err != nil {
		return fmt.Errorf("file tree node must be a scalar or a mapping: %w", err)
	}
	if children == nil {
		children = make(map[string]*FileNode)
	}
	n.Content = nil
	n.Children = children
	return nil
}

// ParseJSON decodes a template from its JSON manifest.
func ParseJSON(data []byte) (*Template, error) {
	var tmpl Template
	if err := sonic.Unmarshal(data, &tmpl); err != nil {
		return nil, fmt.Errorf("failed to parse template manifest: %w", err)
	}
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}
	return &tmpl, nil
}

// ParseYAML decodes a template from its YAML manifest.
func ParseYAML(data []byte) (*Template, error) {
	var tmpl Template
	if err := yaml.Unmarshal(data, &tmpl); err != nil {
		return nil, fmt.Errorf("failed to parse template manifest: %w", err)
	}
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}
	return &tmpl, nil
}

// LoadFile reads a template manifest from disk, picking the codec from the
// file extension (.yaml/.yml or .json).
func LoadFile(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template manifest %s: %w", path, err)
	}
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		return ParseYAML(data)
	}
	return ParseJSON(data)
}

// Validate checks the fields a template cannot function without.
func (t *Template) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("template has empty id")
	}
	if t.RunCommand == "" {
		return fmt.Errorf("template %s has no run command", t.ID)
	}
	return nil
}
