// Package descriptor defines formula descriptors: the pinned, declarative
// record of a package's source archive, its checksummed dependency resources
// and the steps that install it.
package descriptor

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	digest "github.com/opencontainers/go-digest"

	"github.com/open-edge-platform/formula-installer/internal/utils/checksum"
)

// AssetKind selects the fixed destination of an auxiliary asset.
type AssetKind string

const (
	AssetBashCompletion AssetKind = "bash-completion"
	AssetZshCompletion  AssetKind = "zsh-completion"
	AssetFishCompletion AssetKind = "fish-completion"
	AssetMan            AssetKind = "man"
	AssetDoc            AssetKind = "doc"
)

// PackageDescriptor is one version of one formula.
type PackageDescriptor struct {
	Name      string               `yaml:"name" json:"name"`
	Desc      string               `yaml:"desc,omitempty" json:"desc,omitempty"`
	Homepage  string               `yaml:"homepage,omitempty" json:"homepage,omitempty"`
	URL       string               `yaml:"url,omitempty" json:"url,omitempty"`
	Version   string               `yaml:"version" json:"version"`
	SHA256    string               `yaml:"sha256,omitempty" json:"sha256,omitempty"`
	License   string               `yaml:"license,omitempty" json:"license,omitempty"`
	Signature string               `yaml:"signature,omitempty" json:"signature,omitempty"`
	Head      *HeadRef             `yaml:"head,omitempty" json:"head,omitempty"`
	DependsOn []string             `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Resources []DependencyResource `yaml:"resources,omitempty" json:"resources,omitempty"`
	Install   InstallSpec          `yaml:"install,omitempty" json:"install,omitempty"`
	Assets    []Asset              `yaml:"assets,omitempty" json:"assets,omitempty"`
	Test      *TestSpec            `yaml:"test,omitempty" json:"test,omitempty"`

	// Path is the file the descriptor was loaded from, if any.
	Path string `yaml:"-" json:"-"`
}

// HeadRef points at a development branch that can be installed unpinned.
type HeadRef struct {
	URL    string `yaml:"url" json:"url"`
	Branch string `yaml:"branch,omitempty" json:"branch,omitempty"`
}

// DependencyResource is a pinned third-party archive staged into the
// isolated prefix.
type DependencyResource struct {
	Name   string `yaml:"name" json:"name"`
	URL    string `yaml:"url" json:"url"`
	SHA256 string `yaml:"sha256" json:"sha256"`
}

// InstallSpec lists the steps that turn the extracted source into an install.
type InstallSpec struct {
	// Env is exported to every command and written into wrapper scripts.
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	// ResourceCommands run inside every extracted resource.
	ResourceCommands []string `yaml:"resource_commands,omitempty" json:"resource_commands,omitempty"`
	// Commands run inside the extracted primary source.
	Commands []string      `yaml:"commands,omitempty" json:"commands,omitempty"`
	Files    []FileMapping `yaml:"files,omitempty" json:"files,omitempty"`
	// Wrappers names executables in libexec/bin that get an env shim in bin.
	Wrappers []string `yaml:"wrappers,omitempty" json:"wrappers,omitempty"`
}

// FileMapping copies one file from the source tree into the prefix.
type FileMapping struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
	Mode string `yaml:"mode,omitempty" json:"mode,omitempty"`
}

// Asset is an auxiliary file such as a completion script.
type Asset struct {
	Kind AssetKind `yaml:"kind" json:"kind"`
	From string    `yaml:"from" json:"from"`
	As   string    `yaml:"as,omitempty" json:"as,omitempty"`
}

// TestSpec is the post-install smoke test.
type TestSpec struct {
	Command string `yaml:"command" json:"command"`
}

// ID returns "name@version".
func (d *PackageDescriptor) ID() string {
	return d.Name + "@" + d.Version
}

// HasSource reports whether a pinned source archive is declared.
func (d *PackageDescriptor) HasSource() bool {
	return d.URL != "" && d.SHA256 != ""
}

// Checksum returns the declared source digest.
func (d *PackageDescriptor) Checksum() (digest.Digest, error) {
	return checksum.Parse(d.SHA256)
}

// SortedResources returns the resources ordered by name. Declaration order
// carries no meaning; sorting keeps staging deterministic.
func (d *PackageDescriptor) SortedResources() []DependencyResource {
	out := append([]DependencyResource(nil), d.Resources...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Checksum returns the declared resource digest.
func (r DependencyResource) Checksum() (digest.Digest, error) {
	return checksum.Parse(r.SHA256)
}

// FileMode parses the octal mode string, defaulting to 0644.
func (f FileMapping) FileMode() (os.FileMode, error) {
	if f.Mode == "" {
		return 0644, nil
	}
	m, err := strconv.ParseUint(f.Mode, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid file mode %q: %w", f.Mode, err)
	}
	return os.FileMode(m), nil
}

// TargetName returns the destination file name of an asset.
func (a Asset) TargetName(base string) string {
	if a.As != "" {
		return a.As
	}
	return base
}
