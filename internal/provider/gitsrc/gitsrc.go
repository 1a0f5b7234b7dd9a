package gitsrc

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/open-edge-platform/formula-installer/internal/config"
	"github.com/open-edge-platform/formula-installer/internal/provider"
	"github.com/open-edge-platform/formula-installer/internal/utils/logger"
)

// Git implements provider.Provider and provider.Cloner for repositories
type Git struct {
	auth transport.AuthMethod
}

func init() {
	provider.Register(&Git{})
}

// Name returns the unique name of the provider
func (p *Git) Name() string { return "git" }

// Schemes returns the URL schemes served by this provider. https repositories
// are reached through Clone directly.
func (p *Git) Schemes() []string { return []string{"git", "ssh"} }

// Init picks up an access token from the environment, if any
func (p *Git) Init(cfg *config.GlobalConfig) error {
	if token := os.Getenv("GIT_TOKEN"); token != "" {
		p.auth = &githttp.BasicAuth{Username: "git", Password: token}
	}
	return nil
}

// Open is not supported, a repository is not a single file
func (p *Git) Open(ctx context.Context, rawURL string) (io.ReadCloser, int64, error) {
	return nil, 0, fmt.Errorf("%s is a repository and must be cloned", rawURL)
}

// Clone checks out the tip of branch into dest and returns its commit hash
func (p *Git) Clone(ctx context.Context, rawURL, branch, dest string) (string, error) {
	log := logger.Logger()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("failed to create parent directory: %w", err)
	}

	opts := &git.CloneOptions{
		URL:      rawURL,
		Progress: nil,
	}
	if p.auth != nil && isRemote(rawURL) {
		opts.Auth = p.auth
	}
	if branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(branch)
		opts.SingleBranch = true
	}
	// local repositories are served in-process, which does not do shallow
	// clones
	if isRemote(rawURL) {
		opts.Depth = 1
	}

	log.Infof("cloning %s (branch %q)", rawURL, branch)
	repo, err := git.PlainCloneContext(ctx, dest, false, opts)
	if err != nil {
		os.RemoveAll(dest)
		return "", fmt.Errorf("failed to clone %s: %w", rawURL, err)
	}

	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to get HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

func isRemote(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https", "ssh", "git":
		return true
	}
	return false
}
