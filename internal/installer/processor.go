// Package installer turns a formula descriptor into an installed prefix:
// resolve the source, stage the pinned dependencies into the isolated vendor
// prefix, install the primary package, copy auxiliary assets and run the
// smoke test.
package installer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/kballard/go-shellquote"

	"github.com/open-edge-platform/formula-installer/internal/config"
	"github.com/open-edge-platform/formula-installer/internal/descriptor"
	"github.com/open-edge-platform/formula-installer/internal/installenv"
	"github.com/open-edge-platform/formula-installer/internal/pkgfetcher"
	"github.com/open-edge-platform/formula-installer/internal/provider"
	"github.com/open-edge-platform/formula-installer/internal/utils/archive"
	"github.com/open-edge-platform/formula-installer/internal/utils/logger"
	"github.com/open-edge-platform/formula-installer/internal/utils/shell"
)

// Processor runs the install procedure for descriptors.
type Processor struct {
	helpers *config.ConfigHelpers
	fetcher *pkgfetcher.Fetcher
}

// Source is a resolved primary source.
type Source struct {
	// Archive is the verified download. Empty for head checkouts.
	Archive string
	// Dir is the checkout of a head install. Empty for archives.
	Dir    string
	URL    string
	Digest string
	Commit string
	Signer string
}

// NewProcessor returns a processor using cfg for its cache, temp and prefix
// locations. keyring may be nil, which skips signature checks.
func NewProcessor(cfg *config.GlobalConfig, keyring openpgp.KeyRing) (*Processor, error) {
	helpers := config.NewConfigHelpers(cfg)
	downloads, err := helpers.DownloadsDir()
	if err != nil {
		return nil, fmt.Errorf("resolving download cache: %w", err)
	}
	return &Processor{
		helpers: helpers,
		fetcher: &pkgfetcher.Fetcher{
			CacheDir:     downloads,
			Workers:      helpers.Workers(),
			ShowProgress: helpers.ShowProgress(),
			Keyring:      keyring,
		},
	}, nil
}

func sourceArtifact(d *descriptor.PackageDescriptor) (pkgfetcher.Artifact, error) {
	sum, err := d.Checksum()
	if err != nil {
		return pkgfetcher.Artifact{}, &IntegrityError{Name: d.Name, URL: d.URL, Err: err}
	}
	return pkgfetcher.Artifact{Name: d.Name, URL: d.URL, Digest: sum, SignatureURL: d.Signature}, nil
}

func resourceArtifacts(resources []descriptor.DependencyResource) ([]pkgfetcher.Artifact, error) {
	artifacts := make([]pkgfetcher.Artifact, 0, len(resources))
	for _, r := range resources {
		sum, err := r.Checksum()
		if err != nil {
			return nil, &IntegrityError{Name: r.Name, URL: r.URL, Err: err}
		}
		artifacts = append(artifacts, pkgfetcher.Artifact{Name: r.Name, URL: r.URL, Digest: sum})
	}
	return artifacts, nil
}

// Resolve fetches the source archive of d and verifies it against the
// declared checksum. It fails with *FetchError when the bytes cannot be
// obtained and with *IntegrityError when they do not match.
func (p *Processor) Resolve(ctx context.Context, d *descriptor.PackageDescriptor) (*Source, error) {
	log := logger.Logger()

	if !d.HasSource() {
		return nil, &FetchError{Name: d.Name, Err: errors.New("descriptor declares no source archive, install from head instead")}
	}
	a, err := sourceArtifact(d)
	if err != nil {
		return nil, err
	}
	res, err := p.fetcher.Fetch(ctx, a)
	if err != nil {
		return nil, classifyFetch(a, err)
	}
	log.Infof("resolved %s: %s", d.ID(), res.Digest)
	return &Source{Archive: res.Path, URL: d.URL, Digest: res.Digest.String(), Signer: res.Signer}, nil
}

// ResolveHead clones the head branch of d into dest. Head sources carry no
// checksum; the checked-out commit is returned instead.
func (p *Processor) ResolveHead(ctx context.Context, d *descriptor.PackageDescriptor, dest string) (*Source, error) {
	if d.Head == nil {
		return nil, &FetchError{Name: d.Name, Err: errors.New("descriptor declares no head reference")}
	}
	prov, ok := provider.Get("git")
	if !ok {
		return nil, &FetchError{Name: d.Name, URL: d.Head.URL, Err: errors.New("git provider not registered")}
	}
	cloner, ok := prov.(provider.Cloner)
	if !ok {
		return nil, &FetchError{Name: d.Name, URL: d.Head.URL, Err: errors.New("git provider cannot clone")}
	}
	commit, err := cloner.Clone(ctx, d.Head.URL, d.Head.Branch, dest)
	if err != nil {
		return nil, &FetchError{Name: d.Name, URL: d.Head.URL, Err: err}
	}
	logger.Logger().Infof("resolved %s from head: %s", d.Name, commit)
	return &Source{Dir: dest, URL: d.Head.URL, Commit: commit}, nil
}

// FetchResources downloads and verifies every dependency resource on the
// worker pool, without extracting anything.
func (p *Processor) FetchResources(ctx context.Context, d *descriptor.PackageDescriptor) ([]*pkgfetcher.Result, error) {
	artifacts, err := resourceArtifacts(d.SortedResources())
	if err != nil {
		return nil, err
	}
	results, err := p.fetcher.FetchPackages(ctx, artifacts)
	if err != nil {
		var ae *pkgfetcher.ArtifactError
		if errors.As(err, &ae) {
			return nil, classifyFetch(ae.Artifact, ae.Err)
		}
		return nil, &FetchError{Name: d.Name, Err: err}
	}
	return results, nil
}

// StageDependencies fetches, verifies and extracts every resource of d into
// <isolatedPrefix>/<name>, then runs the resource commands inside it.
// isolatedPrefix is the vendor directory of the prefix being assembled.
// Resources are processed in name order. Any failure aborts.
func (p *Processor) StageDependencies(ctx context.Context, d *descriptor.PackageDescriptor, isolatedPrefix string) error {
	log := logger.Logger()

	resources := d.SortedResources()
	if len(resources) == 0 {
		log.Debugf("%s has no dependency resources", d.ID())
		return nil
	}
	artifacts, err := resourceArtifacts(resources)
	if err != nil {
		return err
	}

	root := filepath.Dir(isolatedPrefix)
	for _, a := range artifacts {
		res, err := p.fetcher.Fetch(ctx, a)
		if err != nil {
			return classifyFetch(a, err)
		}

		dest := filepath.Join(isolatedPrefix, a.Name)
		if err := unpack(res.Path, a.URL, dest); err != nil {
			return &InstallError{Step: "extract " + a.Name, Err: err}
		}

		env := stepEnv(root, dest, d.Install.Env, EnvResource+"="+a.Name)
		for _, cmd := range d.Install.ResourceCommands {
			if _, err := shell.ExecCmd(ctx, cmd, dest, env); err != nil {
				return &InstallError{Step: "resource " + a.Name, Err: err}
			}
		}
		log.Infof("staged %s into %s", a.Name, dest)
	}
	return nil
}

// InstallPrimary runs the install commands of d inside sourceDir, copies the
// declared files and writes the wrapper scripts into root.
func (p *Processor) InstallPrimary(ctx context.Context, d *descriptor.PackageDescriptor, sourceDir, root string) error {
	log := logger.Logger()

	env := stepEnv(root, sourceDir, d.Install.Env)
	for _, cmd := range d.Install.Commands {
		if _, err := shell.ExecCmd(ctx, cmd, sourceDir, env); err != nil {
			return &InstallError{Step: "command", Err: err}
		}
	}

	for _, f := range d.Install.Files {
		mode, err := f.FileMode()
		if err != nil {
			return &InstallError{Step: "file " + f.From, Err: err}
		}
		dst := filepath.Join(root, filepath.FromSlash(f.To))
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return &InstallError{Step: "file " + f.From, Err: err}
		}
		if err := copyFile(filepath.Join(sourceDir, filepath.FromSlash(f.From)), dst, mode); err != nil {
			return &InstallError{Step: "file " + f.From, Err: err}
		}
	}

	for _, tool := range d.Install.Wrappers {
		target := filepath.Join(root, installenv.LibexecBinDir, tool)
		if _, err := os.Stat(target); err != nil {
			return &InstallError{Step: "wrapper " + tool, Err: fmt.Errorf("wrapped executable missing: %w", err)}
		}
		shim := filepath.Join(root, installenv.BinDir, tool)
		if err := os.WriteFile(shim, wrapperScript(tool, d.Install.Env), 0755); err != nil {
			return &InstallError{Step: "wrapper " + tool, Err: err}
		}
		// WriteFile keeps the mode of an existing file
		if err := os.Chmod(shim, 0755); err != nil {
			return &InstallError{Step: "wrapper " + tool, Err: err}
		}
	}
	log.Infof("installed %s into %s", d.ID(), root)
	return nil
}

// AssetTargets maps each asset kind to its destination directory.
type AssetTargets map[descriptor.AssetKind]string

// AssetTargets returns the destinations for an install at prefix. Shell
// completion directories configured globally replace the in-prefix ones.
func (p *Processor) AssetTargets(prefix string) AssetTargets {
	cfg := p.helpers.GetConfig().Completions
	targets := AssetTargets{
		descriptor.AssetBashCompletion: filepath.Join(prefix, installenv.BashCompletionDir),
		descriptor.AssetZshCompletion:  filepath.Join(prefix, installenv.ZshCompletionDir),
		descriptor.AssetFishCompletion: filepath.Join(prefix, installenv.FishCompletionDir),
		descriptor.AssetMan:            filepath.Join(prefix, installenv.ManDir),
		descriptor.AssetDoc:            filepath.Join(prefix, installenv.DocDir),
	}
	for kind, dir := range map[descriptor.AssetKind]string{
		descriptor.AssetBashCompletion: cfg.Bash,
		descriptor.AssetZshCompletion:  cfg.Zsh,
		descriptor.AssetFishCompletion: cfg.Fish,
	} {
		if dir != "" {
			targets[kind] = dir
		}
	}
	return targets
}

// InstallAuxiliaryAssets copies the assets of d from sourceDir into their
// destination directories. Destination directories are never created.
// Every failure is collected into the returned *AssetError; the assets that
// were copied are returned either way.
func (p *Processor) InstallAuxiliaryAssets(d *descriptor.PackageDescriptor, sourceDir string, targets AssetTargets) ([]InstalledAsset, error) {
	log := logger.Logger()

	var (
		installed []InstalledAsset
		failures  []AssetFailure
	)
	for _, a := range d.Assets {
		dir, ok := targets[a.Kind]
		if !ok {
			failures = append(failures, AssetFailure{Asset: a, Err: fmt.Errorf("no destination for asset kind %q", a.Kind)})
			continue
		}
		src := filepath.Join(sourceDir, filepath.FromSlash(a.From))
		dest := filepath.Join(dir, a.TargetName(filepath.Base(src)))

		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			failures = append(failures, AssetFailure{Asset: a, Dest: dest, Err: fmt.Errorf("destination directory %s does not exist", dir)})
			continue
		}
		if err := copyFile(src, dest, 0644); err != nil {
			failures = append(failures, AssetFailure{Asset: a, Dest: dest, Err: err})
			continue
		}
		log.Debugf("installed %s asset %s", a.Kind, dest)
		installed = append(installed, InstalledAsset{Kind: a.Kind, Path: dest})
	}

	if len(failures) > 0 {
		err := &AssetError{Failures: failures}
		log.Warn(err.Error())
		return installed, err
	}
	return installed, nil
}

// PostInstallCheck runs the smoke test command with <prefix>/bin first on
// PATH. A non-zero exit is returned as *VerificationError.
func (p *Processor) PostInstallCheck(ctx context.Context, command, prefix string) error {
	log := logger.Logger()

	argv, err := shellquote.Split(command)
	if err != nil {
		return &VerificationError{Command: command, ExitCode: 1, Err: fmt.Errorf("parsing smoke test: %w", err)}
	}
	if len(argv) == 0 {
		return &VerificationError{Command: command, ExitCode: 1, Err: errors.New("empty smoke test")}
	}

	path := filepath.Join(prefix, installenv.BinDir)
	if cur := os.Getenv("PATH"); cur != "" {
		path += string(os.PathListSeparator) + cur
	}
	env := []string{"PATH=" + path}

	log.Infof("running smoke test: %s", command)
	if _, err := shell.ExecCmdWithStream(ctx, shell.Quote(argv...), prefix, env); err != nil {
		code := shell.ExitCode(err)
		if code <= 0 {
			code = 1
		}
		return &VerificationError{Command: command, ExitCode: code, Err: err}
	}
	return nil
}

// unpack extracts archivePath into dest, dropping a single top-level
// directory. dest must not exist yet.
func unpack(archivePath, sourceURL, dest string) error {
	tmp := dest + ".extract"
	os.RemoveAll(tmp)
	defer os.RemoveAll(tmp)

	if err := archive.Extract(archivePath, urlBase(sourceURL), tmp); err != nil {
		return err
	}
	root, err := archive.SourceRoot(tmp)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	return os.Rename(root, dest)
}

func urlBase(rawURL string) string {
	base := rawURL
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	return base[strings.LastIndex(base, "/")+1:]
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chmod(dst, mode)
}
