package ingest

import (
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// excludedDirs are path components that are never descended into.
var excludedDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	".cache":       true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
}

func excludedComponent(name string) bool {
	if excludedDirs[name] {
		return true
	}
	// Dotfiles and dot-directories are skipped wholesale.
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}

// candidate is a file selected by the walk, before content filters.
type candidate struct {
	absPath string
	relPath string // slash-separated, relative to the root
	size    int64
}

// walk collects the files under root matching the doublestar mask,
// skipping excluded directories. The mask is matched against the
// slash-normalized relative path.
func walk(root, mask string) ([]candidate, error) {
	var out []candidate
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && excludedComponent(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if excludedComponent(d.Name()) {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		ok, err := doublestar.Match(mask, rel)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, candidate{absPath: p, relPath: rel, size: info.Size()})
		return nil
	})
	return out, err
}
