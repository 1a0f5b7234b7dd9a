package pkgfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/dustin/go-humanize"
	digest "github.com/opencontainers/go-digest"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/open-edge-platform/formula-installer/internal/provider"
	"github.com/open-edge-platform/formula-installer/internal/utils/checksum"
	"github.com/open-edge-platform/formula-installer/internal/utils/logger"
	"github.com/open-edge-platform/formula-installer/internal/utils/signature"
)

// ErrSignature marks a detached signature that did not verify.
var ErrSignature = errors.New("signature verification failed")

// ArtifactError ties a failure to the artifact it happened on.
type ArtifactError struct {
	Artifact Artifact
	Err      error
}

func (e *ArtifactError) Error() string {
	return e.Err.Error()
}

func (e *ArtifactError) Unwrap() error { return e.Err }

// Artifact is one pinned download.
type Artifact struct {
	Name   string
	URL    string
	Digest digest.Digest
	// SignatureURL points at an armored detached signature, if any.
	SignatureURL string
}

// Result describes a verified artifact in the cache.
type Result struct {
	Artifact
	Path   string
	Size   int64
	Cached bool
	// Signer is the fingerprint of the key that signed the artifact.
	Signer string
}

// Fetcher downloads artifacts into a content-addressed cache.
type Fetcher struct {
	CacheDir     string
	Workers      int
	ShowProgress bool
	// Keyring verifies detached signatures. Nil skips them.
	Keyring openpgp.KeyRing
}

// CachePath returns where a verified copy of a is stored.
func (f *Fetcher) CachePath(a Artifact) string {
	base := path.Base(a.URL)
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	if base == "" || base == "." || base == "/" {
		base = a.Name
	}
	return filepath.Join(f.CacheDir, a.Digest.Encoded()+"--"+base)
}

// FetchPackages downloads and verifies the given artifacts using a pool of
// workers. It shows a single progress bar tracking files completed vs total.
// The first failure cancels the remaining downloads.
func (f *Fetcher) FetchPackages(ctx context.Context, artifacts []Artifact) ([]*Result, error) {
	if len(artifacts) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(f.CacheDir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	bar := f.newBar(len(artifacts))
	results := make([]*Result, len(artifacts))

	g, gctx := errgroup.WithContext(ctx)
	workers := f.Workers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)

	for i, a := range artifacts {
		g.Go(func() error {
			bar.Describe(fmt.Sprintf("downloading %s", a.Name))
			res, err := f.Fetch(gctx, a)
			if err != nil {
				return err
			}
			results[i] = res
			bar.Add(1)
			return nil
		})
	}

	err := g.Wait()
	bar.Finish()
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Fetch returns a verified copy of a, downloading it unless the cache
// already holds one. A cached file that no longer matches is replaced.
// Errors are *ArtifactError.
func (f *Fetcher) Fetch(ctx context.Context, a Artifact) (*Result, error) {
	res, err := f.fetch(ctx, a)
	if err != nil {
		return nil, &ArtifactError{Artifact: a, Err: err}
	}
	return res, nil
}

func (f *Fetcher) fetch(ctx context.Context, a Artifact) (*Result, error) {
	log := logger.Logger()

	if err := a.Digest.Validate(); err != nil {
		return nil, fmt.Errorf("artifact %s: invalid digest: %w", a.Name, err)
	}
	dest := f.CachePath(a)
	res := &Result{Artifact: a, Path: dest}

	if info, err := os.Stat(dest); err == nil {
		if _, err := checksum.VerifyFile(dest, a.Digest); err == nil {
			log.Debugf("cache hit for %s: %s", a.Name, dest)
			res.Cached = true
			res.Size = info.Size()
		} else {
			log.Warnf("cached %s is corrupt, downloading again: %v", a.Name, err)
			if err := os.Remove(dest); err != nil {
				return nil, fmt.Errorf("removing corrupt cache entry %s: %w", dest, err)
			}
		}
	}

	if !res.Cached {
		size, err := f.download(ctx, a, dest)
		if err != nil {
			return nil, err
		}
		res.Size = size
	}
	logger.FetchedReport.Add(a.URL)

	if a.SignatureURL != "" {
		signer, err := f.verifySignature(ctx, a, dest)
		if err != nil {
			return nil, err
		}
		res.Signer = signer
	}
	return res, nil
}

// download streams a into a temp file while hashing it and renames the file
// into place only when the digest matches.
func (f *Fetcher) download(ctx context.Context, a Artifact, dest string) (int64, error) {
	log := logger.Logger()
	start := time.Now()

	body, _, err := provider.Open(ctx, a.URL)
	if err != nil {
		return 0, fmt.Errorf("downloading %s from %s: %w", a.Name, a.URL, err)
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return 0, fmt.Errorf("creating cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	d := checksum.NewDigester(a.Digest)
	n, err := io.Copy(io.MultiWriter(tmp, d.Writer()), body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("downloading %s from %s: %w", a.Name, a.URL, err)
	}

	if _, err := d.Verify(); err != nil {
		return 0, fmt.Errorf("verifying %s: %w", a.Name, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return 0, fmt.Errorf("storing %s in cache: %w", a.Name, err)
	}

	log.Infof("downloaded %s (%s) in %s", a.Name, humanize.Bytes(uint64(n)), time.Since(start).Round(time.Millisecond))
	return n, nil
}

func (f *Fetcher) verifySignature(ctx context.Context, a Artifact, artifactPath string) (string, error) {
	log := logger.Logger()
	if f.Keyring == nil {
		log.Warnf("%s declares a signature but no keyring is configured, skipping signature check", a.Name)
		return "", nil
	}

	body, _, err := provider.Open(ctx, a.SignatureURL)
	if err != nil {
		return "", fmt.Errorf("downloading signature of %s from %s: %w", a.Name, a.SignatureURL, err)
	}
	defer body.Close()
	sig, err := io.ReadAll(io.LimitReader(body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("downloading signature of %s: %w", a.Name, err)
	}

	signer, err := signature.VerifyDetached(f.Keyring, artifactPath, sig)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %v", a.Name, ErrSignature, err)
	}
	log.Infof("%s signed by %s", a.Name, signer)
	return signer, nil
}

func (f *Fetcher) newBar(total int) *progressbar.ProgressBar {
	var w io.Writer = io.Discard
	if f.ShowProgress {
		w = os.Stderr
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("downloading"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
}
