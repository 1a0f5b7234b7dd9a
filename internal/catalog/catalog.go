package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	version "github.com/hashicorp/go-version"

	"github.com/open-edge-platform/formula-installer/internal/descriptor"
	"github.com/open-edge-platform/formula-installer/internal/utils/logger"
)

// Catalog is a directory of formula descriptors laid out as
// <root>/<name>/<version>.yml. Every version is its own immutable file.
type Catalog struct {
	root string
}

// Entry is one descriptor file in the catalog.
type Entry struct {
	Name    string
	Version string
	Path    string
	// parsed is nil for versions that are not dotted numbers, e.g. "HEAD".
	parsed *version.Version
}

// New returns a catalog rooted at root.
func New(root string) *Catalog {
	return &Catalog{root: root}
}

// Root returns the catalog directory.
func (c *Catalog) Root() string {
	return c.root
}

// Names lists the formulae in the catalog.
func (c *Catalog) Names() ([]string, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", c.root, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Versions returns the entries of a formula, oldest first. Versions that do
// not parse sort before all parsed ones, by name.
func (c *Catalog) Versions(name string) ([]*Entry, error) {
	dir := filepath.Join(c.root, name)
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("formula %q not found in catalog %s", name, c.root)
		}
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	seen := make(map[string]string)
	var out []*Entry
	for _, f := range files {
		ext := filepath.Ext(f.Name())
		if f.IsDir() || (ext != ".yml" && ext != ".yaml") {
			continue
		}
		raw := strings.TrimSuffix(f.Name(), ext)
		path := filepath.Join(dir, f.Name())
		if prev, dup := seen[raw]; dup {
			return nil, fmt.Errorf("formula %s version %s is declared twice: %s and %s", name, raw, prev, path)
		}
		seen[raw] = path

		entry := &Entry{Name: name, Version: raw, Path: path}
		if v, err := version.NewVersion(raw); err == nil {
			entry.parsed = v
		}
		out = append(out, entry)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("formula %q has no versions in %s", name, dir)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].parsed, out[j].parsed
		switch {
		case a == nil && b == nil:
			return out[i].Version < out[j].Version
		case a == nil:
			return true
		case b == nil:
			return false
		default:
			return a.LessThan(b)
		}
	})
	return out, nil
}

// Resolve turns a formula reference into a loaded descriptor. ref is either
// a path to a descriptor file, "name" (latest version), "name@1.2.3" (exact)
// or "name@>=1.0,<2" (highest version matching the constraint).
func (c *Catalog) Resolve(ref string) (*descriptor.PackageDescriptor, error) {
	log := logger.Logger()

	if isFileRef(ref) {
		log.Debugf("loading descriptor file %s", ref)
		return descriptor.LoadFile(ref)
	}

	name, want, _ := strings.Cut(ref, "@")
	entries, err := c.Versions(name)
	if err != nil {
		return nil, err
	}

	entry, err := pick(entries, want)
	if err != nil {
		return nil, fmt.Errorf("formula %s: %w", name, err)
	}
	log.Debugf("resolved %s to %s", ref, entry.Path)

	d, err := descriptor.LoadFile(entry.Path)
	if err != nil {
		return nil, err
	}
	if d.Name != entry.Name || d.Version != entry.Version {
		return nil, fmt.Errorf("descriptor %s declares %s, expected %s@%s", entry.Path, d.ID(), entry.Name, entry.Version)
	}
	return d, nil
}

func pick(entries []*Entry, want string) (*Entry, error) {
	if want == "" {
		for i := len(entries) - 1; i >= 0; i-- {
			if entries[i].parsed != nil {
				return entries[i], nil
			}
		}
		return entries[len(entries)-1], nil
	}

	for _, e := range entries {
		if e.Version == want {
			return e, nil
		}
	}
	if v, err := version.NewVersion(want); err == nil {
		for _, e := range entries {
			if e.parsed != nil && e.parsed.Equal(v) {
				return e, nil
			}
		}
		return nil, fmt.Errorf("version %s not found", want)
	}

	constraints, err := version.NewConstraint(want)
	if err != nil {
		return nil, fmt.Errorf("version %q not found and is not a valid constraint: %w", want, err)
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].parsed != nil && constraints.Check(entries[i].parsed) {
			return entries[i], nil
		}
	}
	return nil, fmt.Errorf("no version satisfies %s", want)
}

func isFileRef(ref string) bool {
	ext := filepath.Ext(ref)
	if ext != ".yml" && ext != ".yaml" {
		return false
	}
	_, err := os.Stat(ref)
	return err == nil
}
