package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/open-edge-platform/formula-installer/internal/descriptor"
	"github.com/open-edge-platform/formula-installer/internal/installenv"
	"github.com/open-edge-platform/formula-installer/internal/pkgfetcher"
	"github.com/open-edge-platform/formula-installer/internal/utils/logger"
	"github.com/open-edge-platform/formula-installer/internal/utils/shell"
	"github.com/open-edge-platform/formula-installer/internal/utils/system"
)

// HeadVersion is the version directory of head installs.
const HeadVersion = "HEAD"

// Options tune a single install.
type Options struct {
	// Head installs from the head branch instead of the pinned archive.
	Head bool
	// Prefix overrides <cellar>/<name>/<version>.
	Prefix string
	// Force reinstalls over an install of the same source.
	Force bool
	// SkipTest skips the smoke test.
	SkipTest bool
}

// Result describes a committed install. The primary install is in place
// even when AssetErr or VerifyErr is set.
type Result struct {
	Prefix           string
	Receipt          *Receipt
	AlreadyInstalled bool
	AssetErr         *AssetError
	VerifyErr        *VerificationError
}

// Partial reports whether a non-fatal failure happened after commit.
func (r *Result) Partial() bool {
	return r.AssetErr != nil || r.VerifyErr != nil
}

// Err joins the non-fatal failures, or returns nil.
func (r *Result) Err() error {
	var errs []error
	if r.AssetErr != nil {
		errs = append(errs, r.AssetErr)
	}
	if r.VerifyErr != nil {
		errs = append(errs, r.VerifyErr)
	}
	return errors.Join(errs...)
}

// Prefix returns the prefix an install of d with opts lands in.
func (p *Processor) Prefix(d *descriptor.PackageDescriptor, opts Options) (string, error) {
	if opts.Prefix != "" {
		return filepath.Abs(opts.Prefix)
	}
	version := d.Version
	if p.useHead(d, opts) {
		version = HeadVersion
	}
	return p.helpers.PrefixFor(d.Name, version)
}

func (p *Processor) useHead(d *descriptor.PackageDescriptor, opts Options) bool {
	return opts.Head || !d.HasSource()
}

// Install fetches and verifies everything d needs, assembles the prefix in
// a staging directory and commits it. Fetch and integrity failures happen
// before the prefix is touched. Asset and smoke test failures are reported
// in the result and leave the committed install in place.
func (p *Processor) Install(ctx context.Context, d *descriptor.PackageDescriptor, opts Options) (*Result, error) {
	log := logger.Logger()

	prefix, err := p.Prefix(d, opts)
	if err != nil {
		return nil, &InstallError{Step: "prefix", Err: err}
	}
	if err := checkDependsOn(d); err != nil {
		return nil, &InstallError{Step: "depends_on", Err: err}
	}

	buildDir, err := p.buildDir(d)
	if err != nil {
		return nil, &InstallError{Step: "build directory", Err: err}
	}
	defer os.RemoveAll(buildDir)

	// everything below until Lock only reads the network and the cache
	var src *Source
	if p.useHead(d, opts) {
		src, err = p.ResolveHead(ctx, d, filepath.Join(buildDir, "head"))
	} else {
		src, err = p.Resolve(ctx, d)
	}
	if err != nil {
		return nil, err
	}
	fetched, err := p.FetchResources(ctx, d)
	if err != nil {
		return nil, err
	}

	target := installenv.New(prefix)
	if !opts.Force && target.Exists() {
		if r, err := ReadReceipt(prefix); err == nil && sameSource(r, src) {
			log.Infof("%s is already installed in %s", d.ID(), prefix)
			return &Result{Prefix: prefix, Receipt: r, AlreadyInstalled: true}, nil
		}
	}

	if err := target.Lock(); err != nil {
		return nil, &InstallError{Step: "lock", Err: err}
	}
	defer target.Unlock()

	staging, err := target.Stage()
	if err != nil {
		return nil, &InstallError{Step: "stage", Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			target.Discard()
		}
	}()

	sourceDir := src.Dir
	if sourceDir == "" {
		sourceDir = filepath.Join(buildDir, "source")
		if err := unpack(src.Archive, src.URL, sourceDir); err != nil {
			return nil, &InstallError{Step: "extract " + d.Name, Err: err}
		}
	}

	if err := p.StageDependencies(ctx, d, installenv.VendorPrefix(staging)); err != nil {
		return nil, err
	}
	if err := p.InstallPrimary(ctx, d, sourceDir, staging); err != nil {
		return nil, err
	}

	receipt := p.newReceipt(ctx, d, src, fetched)
	if err := receipt.Write(staging); err != nil {
		return nil, &InstallError{Step: "receipt", Err: err}
	}
	if err := target.Commit(); err != nil {
		return nil, &InstallError{Step: "commit", Err: err}
	}
	committed = true
	log.Infof("%s installed into %s", d.ID(), prefix)

	result := &Result{Prefix: prefix, Receipt: receipt}

	assets, err := p.InstallAuxiliaryAssets(d, sourceDir, p.AssetTargets(prefix))
	receipt.Assets = assets
	if err != nil {
		var aerr *AssetError
		if errors.As(err, &aerr) {
			result.AssetErr = aerr
		}
		receipt.Warnings = append(receipt.Warnings, err.Error())
	}

	if d.Test != nil && !opts.SkipTest {
		if err := p.PostInstallCheck(ctx, d.Test.Command, prefix); err != nil {
			var verr *VerificationError
			if errors.As(err, &verr) {
				result.VerifyErr = verr
			}
			log.Warnf("%s: %v", d.ID(), err)
			receipt.Warnings = append(receipt.Warnings, err.Error())
		}
	}

	if err := receipt.Write(prefix); err != nil {
		log.Warnf("updating install receipt: %v", err)
	}
	return result, nil
}

// FetchOnly resolves and verifies the source and every resource of d into
// the download cache without installing anything.
func (p *Processor) FetchOnly(ctx context.Context, d *descriptor.PackageDescriptor) ([]*pkgfetcher.Result, error) {
	var results []*pkgfetcher.Result
	if d.HasSource() {
		a, err := sourceArtifact(d)
		if err != nil {
			return nil, err
		}
		res, err := p.fetcher.Fetch(ctx, a)
		if err != nil {
			return nil, classifyFetch(a, err)
		}
		results = append(results, res)
	}
	resources, err := p.FetchResources(ctx, d)
	if err != nil {
		return nil, err
	}
	return append(results, resources...), nil
}

// Test runs the smoke test of d against the install at prefix (the default
// prefix when empty) and returns its exit code.
func (p *Processor) Test(ctx context.Context, d *descriptor.PackageDescriptor, prefix string) (int, error) {
	if d.Test == nil {
		return 1, fmt.Errorf("%s declares no test", d.ID())
	}
	if prefix == "" {
		var err error
		if prefix, err = p.Prefix(d, Options{}); err != nil {
			return 1, err
		}
	}
	if !installenv.New(prefix).Exists() {
		return 1, fmt.Errorf("%s is not installed in %s", d.ID(), prefix)
	}

	err := p.PostInstallCheck(ctx, d.Test.Command, prefix)
	var verr *VerificationError
	if errors.As(err, &verr) {
		return verr.ExitCode, err
	}
	return 0, err
}

// Uninstall removes the install at prefix (the default prefix when empty)
// and every asset its receipt lists outside of it.
func (p *Processor) Uninstall(d *descriptor.PackageDescriptor, prefix string) error {
	log := logger.Logger()

	if prefix == "" {
		var err error
		if prefix, err = p.Prefix(d, Options{}); err != nil {
			return err
		}
	}
	target := installenv.New(prefix)
	if !target.Exists() {
		return fmt.Errorf("%s is not installed in %s", d.ID(), prefix)
	}
	if err := target.Lock(); err != nil {
		return err
	}
	defer target.Unlock()

	if r, err := ReadReceipt(prefix); err == nil {
		for _, a := range r.Assets {
			if isWithin(prefix, a.Path) {
				continue
			}
			if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
				log.Warnf("removing %s: %v", a.Path, err)
			}
		}
	} else {
		log.Warnf("%s: %v, assets outside the prefix are left alone", d.ID(), err)
	}

	if err := target.Destroy(); err != nil {
		return err
	}
	log.Infof("uninstalled %s from %s", d.ID(), prefix)
	return nil
}

// IsInstalled reports whether d has a committed install in its default
// prefix.
func (p *Processor) IsInstalled(d *descriptor.PackageDescriptor) bool {
	prefix, err := p.Prefix(d, Options{})
	if err != nil {
		return false
	}
	return installenv.New(prefix).Exists()
}

func (p *Processor) buildDir(d *descriptor.PackageDescriptor) (string, error) {
	tmp, err := p.helpers.CreateTempDir("formula-installer")
	if err != nil {
		return "", err
	}
	return os.MkdirTemp(tmp, d.Name+"-")
}

func (p *Processor) newReceipt(ctx context.Context, d *descriptor.PackageDescriptor, src *Source, fetched []*pkgfetcher.Result) *Receipt {
	r := &Receipt{
		InstallID: uuid.NewString(),
		Name:      d.Name,
		Version:   d.Version,
		Source: ReceiptSource{
			URL:    src.URL,
			Digest: src.Digest,
			Commit: src.Commit,
			Signer: src.Signer,
		},
		InstalledAt: time.Now().UTC(),
		Descriptor:  d.Path,
	}
	if src.Commit != "" {
		r.Version = HeadVersion
	}
	for _, f := range fetched {
		r.Resources = append(r.Resources, ReceiptResource{Name: f.Name, URL: f.URL, Digest: f.Digest.String()})
	}
	host, err := system.GetHostOsInfo(ctx)
	if err != nil {
		logger.Logger().Debugf("host detection incomplete: %v", err)
	}
	r.Host = host
	return r
}

// sameSource reports whether an existing receipt was produced from src.
// Head installs are never considered current.
func sameSource(r *Receipt, src *Source) bool {
	return src.Commit == "" && src.Digest != "" && r.Source.Digest == src.Digest
}

// checkDependsOn verifies every command named in depends_on is on PATH.
func checkDependsOn(d *descriptor.PackageDescriptor) error {
	var missing []string
	for _, dep := range d.DependsOn {
		if !shell.IsCommandExist(dep) {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("required commands not found on PATH: %s", strings.Join(missing, ", "))
	}
	return nil
}

func isWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
