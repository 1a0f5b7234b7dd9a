// Package installenv manages the on-disk prefix a formula is installed into.
// A prefix is assembled in a sibling staging directory and swapped into
// place with a rename, so readers see either the old install or the new one.
package installenv

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"

	"github.com/open-edge-platform/formula-installer/internal/utils/logger"
)

// Directories inside a prefix, relative to its root.
const (
	VendorDir         = "vendor"
	BinDir            = "bin"
	LibDir            = "lib"
	LibexecDir        = "libexec"
	LibexecBinDir     = "libexec/bin"
	BashCompletionDir = "share/bash-completion/completions"
	ZshCompletionDir  = "share/zsh/site-functions"
	FishCompletionDir = "share/fish/vendor_completions.d"
	ManDir            = "share/man/man1"
	DocDir            = "share/doc"

	ReceiptFile = "INSTALL_RECEIPT.json"
)

// Layout is every directory created in a fresh prefix.
var Layout = []string{
	VendorDir, BinDir, LibDir, LibexecBinDir,
	BashCompletionDir, ZshCompletionDir, FishCompletionDir, ManDir, DocDir,
}

// ErrLocked is returned when another install holds the prefix lock.
var ErrLocked = errors.New("prefix is locked by another install")

// Target is the installation target of one formula version.
type Target struct {
	prefix  string
	staging string
	lock    *os.File
}

// New returns the target for prefix. Nothing is touched on disk.
func New(prefix string) *Target {
	return &Target{prefix: filepath.Clean(prefix)}
}

// Prefix returns the final install location.
func (t *Target) Prefix() string {
	return t.prefix
}

// VendorPrefix returns the isolated dependency prefix under root.
func VendorPrefix(root string) string {
	return filepath.Join(root, VendorDir)
}

// StagingDir returns the directory being assembled, or "" before Stage.
func (t *Target) StagingDir() string {
	return t.staging
}

// LockPath returns the lock file guarding the prefix.
func (t *Target) LockPath() string {
	return t.prefix + ".lock"
}

// Exists reports whether an install is present at the prefix.
func (t *Target) Exists() bool {
	info, err := os.Stat(t.prefix)
	return err == nil && info.IsDir()
}

// Lock takes the exclusive prefix lock. It fails with ErrLocked when the
// lock file already exists.
func (t *Target) Lock() error {
	if t.lock != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(t.prefix), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(t.prefix), err)
	}
	f, err := os.OpenFile(t.LockPath(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrLocked, t.LockPath())
		}
		return fmt.Errorf("creating lock %s: %w", t.LockPath(), err)
	}
	f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	t.lock = f
	return nil
}

// Unlock releases the prefix lock.
func (t *Target) Unlock() error {
	if t.lock == nil {
		return nil
	}
	t.lock.Close()
	t.lock = nil
	if err := os.Remove(t.LockPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lock %s: %w", t.LockPath(), err)
	}
	// drop the formula directory once no version is left in it
	os.Remove(filepath.Dir(t.prefix))
	return nil
}

// Stage creates an empty staging directory with the prefix layout and
// returns its path.
func (t *Target) Stage() (string, error) {
	log := logger.Logger()

	if t.staging != "" {
		return t.staging, nil
	}
	staging := fmt.Sprintf("%s.staging-%s", t.prefix, uuid.NewString())
	if err := CreateLayout(staging); err != nil {
		os.RemoveAll(staging)
		return "", err
	}
	t.staging = staging
	log.Debugf("staging %s in %s", t.prefix, staging)
	return staging, nil
}

// CreateLayout creates root and every Layout directory below it.
func CreateLayout(root string) error {
	for _, dir := range Layout {
		if err := os.MkdirAll(filepath.Join(root, dir), 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// Commit swaps the staging directory into place. A previous install is
// moved aside first and only removed once the new one is in place.
func (t *Target) Commit() error {
	log := logger.Logger()

	if t.staging == "" {
		return errors.New("nothing staged")
	}

	var old string
	if _, err := os.Lstat(t.prefix); err == nil {
		old = fmt.Sprintf("%s.old-%s", t.prefix, uuid.NewString())
		if err := os.Rename(t.prefix, old); err != nil {
			return fmt.Errorf("moving previous install aside: %w", err)
		}
	}

	if err := os.Rename(t.staging, t.prefix); err != nil {
		if old != "" {
			if rerr := os.Rename(old, t.prefix); rerr != nil {
				log.Errorf("restoring previous install from %s failed: %v", old, rerr)
			}
		}
		return fmt.Errorf("committing %s: %w", t.prefix, err)
	}
	t.staging = ""

	if old != "" {
		if err := os.RemoveAll(old); err != nil {
			log.Warnf("removing previous install %s: %v", old, err)
		}
	}
	log.Debugf("committed %s", t.prefix)
	return nil
}

// Discard removes the staging directory, leaving any existing install alone.
func (t *Target) Discard() error {
	if t.staging == "" {
		return nil
	}
	err := os.RemoveAll(t.staging)
	t.staging = ""
	if err != nil {
		return fmt.Errorf("removing staging directory: %w", err)
	}
	return nil
}

// Destroy removes the installed prefix.
func (t *Target) Destroy() error {
	if !t.Exists() {
		return fmt.Errorf("%s is not installed", t.prefix)
	}
	if err := os.RemoveAll(t.prefix); err != nil {
		return fmt.Errorf("removing %s: %w", t.prefix, err)
	}
	return nil
}
