package descriptor

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
	k8syaml "sigs.k8s.io/yaml"

	"github.com/open-edge-platform/formula-installer/internal/config/validate"
)

// LoadFile reads and validates the descriptor at path.
func LoadFile(path string) (*PackageDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading descriptor %s: %w", path, err)
	}
	d, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("descriptor %s: %w", path, err)
	}
	d.Path = path
	return d, nil
}

// Parse decodes a YAML descriptor, validates it against the descriptor
// schema and then checks the rules a schema cannot express.
func Parse(data []byte) (*PackageDescriptor, error) {
	jsonData, err := k8syaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("converting YAML to JSON: %w", err)
	}
	if err := validate.ValidateDescriptorJSON(jsonData); err != nil {
		return nil, err
	}

	var d PackageDescriptor
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	if err := Validate(&d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate checks the invariants of a decoded descriptor.
func Validate(d *PackageDescriptor) error {
	var errs []error

	if d.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if d.Version == "" {
		errs = append(errs, errors.New("version is required"))
	}
	if !d.HasSource() && d.Head == nil {
		errs = append(errs, errors.New("either url+sha256 or head must be declared"))
	}
	if d.URL != "" {
		if _, err := d.Checksum(); err != nil {
			errs = append(errs, fmt.Errorf("source: %w", err))
		}
	}

	seen := make(map[string]bool, len(d.Resources))
	for _, r := range d.Resources {
		if seen[r.Name] {
			errs = append(errs, fmt.Errorf("resource %q declared more than once", r.Name))
		}
		seen[r.Name] = true
		if _, err := r.Checksum(); err != nil {
			errs = append(errs, fmt.Errorf("resource %q: %w", r.Name, err))
		}
	}

	for _, f := range d.Install.Files {
		if err := checkRelative(f.From); err != nil {
			errs = append(errs, fmt.Errorf("install file from: %w", err))
		}
		if err := checkRelative(f.To); err != nil {
			errs = append(errs, fmt.Errorf("install file to: %w", err))
		}
		if _, err := f.FileMode(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, w := range d.Install.Wrappers {
		if strings.ContainsRune(w, '/') || w == "." || w == ".." {
			errs = append(errs, fmt.Errorf("wrapper %q must be a plain file name", w))
		}
	}
	for _, a := range d.Assets {
		if err := checkRelative(a.From); err != nil {
			errs = append(errs, fmt.Errorf("asset %s: %w", a.Kind, err))
		}
		if strings.ContainsRune(a.As, '/') {
			errs = append(errs, fmt.Errorf("asset %s: target name %q must not contain a path", a.Kind, a.As))
		}
	}
	return errors.Join(errs...)
}

// checkRelative rejects paths that could point outside the tree they are
// resolved against.
func checkRelative(p string) error {
	if p == "" {
		return errors.New("empty path")
	}
	cleaned := filepath.Clean(filepath.FromSlash(p))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %q must stay inside the tree", p)
	}
	return nil
}
