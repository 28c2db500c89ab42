package qmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Collection is a named view over a filesystem subtree. The pair
// (Path, Mask) uniquely identifies a collection; Name is the stable
// logical namespace used throughout the index.
type Collection struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
	Mask string `yaml:"mask,omitempty"`
	// Update is an optional shell command run by `qmd update --allow-run`
	// before re-indexing (e.g. "git pull").
	Update string `yaml:"update,omitempty"`
}

// GlobMask returns the effective glob pattern for the collection.
func (c Collection) GlobMask() string {
	if c.Mask == "" {
		return "**/*.md"
	}
	return c.Mask
}

// IndexFile is the on-disk YAML document holding collections and contexts.
// Context keys are virtual path prefixes: "/" is global, "name" scopes a
// collection root, "name/sub/dir" an ancestor prefix, "name/sub/file.md"
// an exact path.
type IndexFile struct {
	Collections []Collection      `yaml:"collections"`
	Contexts    map[string]string `yaml:"contexts,omitempty"`
}

// LoadIndexFile reads the collections YAML. A missing file yields an
// empty IndexFile rather than an error.
func LoadIndexFile(path string) (*IndexFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &IndexFile{Contexts: map[string]string{}}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var f IndexFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrConfig, path, err)
	}
	if f.Contexts == nil {
		f.Contexts = map[string]string{}
	}
	return &f, nil
}

// Save writes the index file back to disk, creating the directory if needed.
func (f *IndexFile) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("encoding index file: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Collection returns the named collection, or ErrNotFound.
func (f *IndexFile) Collection(name string) (*Collection, error) {
	for i := range f.Collections {
		if f.Collections[i].Name == name {
			return &f.Collections[i], nil
		}
	}
	return nil, ErrNotFound
}

// AddCollection registers a collection, deriving a unique name from the
// directory basename when none is given.
func (f *IndexFile) AddCollection(c Collection) (*Collection, error) {
	for _, existing := range f.Collections {
		if existing.Path == c.Path && existing.GlobMask() == c.GlobMask() {
			return nil, fmt.Errorf("%w: %s already registered as %q", ErrConflict, c.Path, existing.Name)
		}
	}

	if c.Name == "" {
		c.Name = filepath.Base(c.Path)
	}
	base := c.Name
	for n := 2; ; n++ {
		if _, err := f.Collection(c.Name); err != nil {
			break
		}
		c.Name = fmt.Sprintf("%s-%d", base, n)
	}

	f.Collections = append(f.Collections, c)
	return &f.Collections[len(f.Collections)-1], nil
}

// RemoveCollection deletes a collection and its scoped contexts.
func (f *IndexFile) RemoveCollection(name string) error {
	for i := range f.Collections {
		if f.Collections[i].Name == name {
			f.Collections = append(f.Collections[:i], f.Collections[i+1:]...)
			for key := range f.Contexts {
				if key == name || strings.HasPrefix(key, name+"/") {
					delete(f.Contexts, key)
				}
			}
			return nil
		}
	}
	return ErrNotFound
}

// RenameCollection renames a collection and rewrites its context keys.
func (f *IndexFile) RenameCollection(from, to string) error {
	if _, err := f.Collection(to); err == nil {
		return fmt.Errorf("%w: collection %q", ErrConflict, to)
	}
	c, err := f.Collection(from)
	if err != nil {
		return err
	}
	c.Name = to

	for key, text := range f.Contexts {
		switch {
		case key == from:
			delete(f.Contexts, key)
			f.Contexts[to] = text
		case strings.HasPrefix(key, from+"/"):
			delete(f.Contexts, key)
			f.Contexts[to+strings.TrimPrefix(key, from)] = text
		}
	}
	return nil
}

// ResolveContext returns the most specific context for a document:
// exact path, then ancestor prefixes, then the collection root, then the
// global "/" context. Empty string means no context applies.
func (f *IndexFile) ResolveContext(collection, path string) string {
	key := collection + "/" + path
	if text, ok := f.Contexts[key]; ok {
		return text
	}
	for {
		i := strings.LastIndexByte(key, '/')
		if i < 0 {
			break
		}
		key = key[:i]
		if text, ok := f.Contexts[key]; ok {
			return text
		}
	}
	return f.Contexts["/"]
}

// ContextKeys returns all context keys in deterministic order.
func (f *IndexFile) ContextKeys() []string {
	keys := make([]string, 0, len(f.Contexts))
	for k := range f.Contexts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
