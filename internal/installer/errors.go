package installer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/open-edge-platform/formula-installer/internal/descriptor"
	"github.com/open-edge-platform/formula-installer/internal/pkgfetcher"
	"github.com/open-edge-platform/formula-installer/internal/utils/checksum"
)

// FetchError reports a source that could not be downloaded.
type FetchError struct {
	Name string
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch of %s failed: %v", e.Name, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IntegrityError reports downloaded bytes that do not match their declared
// checksum or signature.
type IntegrityError struct {
	Name string
	URL  string
	Err  error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check of %s failed: %v", e.Name, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// InstallError reports a failed extraction, command or file copy. The
// staging directory is discarded and any previous install is left alone.
type InstallError struct {
	Step string
	Err  error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("install step %q failed: %v", e.Step, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }

// VerificationError reports a smoke test that exited non-zero.
type VerificationError struct {
	Command  string
	ExitCode int
	Err      error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("smoke test %q exited with code %d", e.Command, e.ExitCode)
}

func (e *VerificationError) Unwrap() error { return e.Err }

// AssetFailure is one auxiliary asset that could not be installed.
type AssetFailure struct {
	Asset descriptor.Asset
	Dest  string
	Err   error
}

// AssetError collects every asset failure of one install.
type AssetError struct {
	Failures []AssetFailure
}

func (e *AssetError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s %s -> %s: %v", f.Asset.Kind, f.Asset.From, f.Dest, f.Err))
	}
	return fmt.Sprintf("%d auxiliary asset(s) not installed: %s", len(e.Failures), strings.Join(parts, "; "))
}

func (e *AssetError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// classifyFetch turns a fetcher error into a FetchError or an IntegrityError.
func classifyFetch(a pkgfetcher.Artifact, err error) error {
	var mismatch *checksum.MismatchError
	if errors.As(err, &mismatch) || errors.Is(err, pkgfetcher.ErrSignature) {
		return &IntegrityError{Name: a.Name, URL: a.URL, Err: err}
	}
	return &FetchError{Name: a.Name, URL: a.URL, Err: err}
}
