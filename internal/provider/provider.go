package provider

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"github.com/open-edge-platform/formula-installer/internal/config"
)

// Provider is the interface every source backend must implement.
type Provider interface {
	// Name is a unique ID, e.g. "http" or "git".
	Name() string

	// Schemes lists the URL schemes the provider serves.
	Schemes() []string

	// Init does any one-time setup from the global configuration.
	Init(cfg *config.GlobalConfig) error

	// Open streams the content behind rawURL. size is -1 when unknown.
	Open(ctx context.Context, rawURL string) (body io.ReadCloser, size int64, err error)
}

// Cloner is implemented by providers that check out a repository instead of
// serving a single file.
type Cloner interface {
	// Clone checks out branch (the default branch when empty) of the
	// repository at rawURL into dest and returns the checked-out commit.
	Clone(ctx context.Context, rawURL, branch, dest string) (commit string, err error)
}

var (
	providers = make(map[string]Provider)
	byScheme  = make(map[string]Provider)
)

// Register makes a Provider available under its Name() and its schemes.
func Register(p Provider) {
	providers[p.Name()] = p
	for _, s := range p.Schemes() {
		byScheme[s] = p
	}
}

// Get returns the Provider by name.
func Get(name string) (Provider, bool) {
	p, ok := providers[name]
	return p, ok
}

// Names lists the registered providers.
func Names() []string {
	names := make([]string, 0, len(providers))
	for n := range providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// InitAll initializes every registered provider.
func InitAll(cfg *config.GlobalConfig) error {
	for _, n := range Names() {
		if err := providers[n].Init(cfg); err != nil {
			return fmt.Errorf("initializing provider %s: %w", n, err)
		}
	}
	return nil
}

// ForURL returns the provider serving the scheme of rawURL.
func ForURL(rawURL string) (Provider, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		return nil, fmt.Errorf("URL %q has no scheme", rawURL)
	}
	p, ok := byScheme[scheme]
	if !ok {
		return nil, fmt.Errorf("no provider registered for scheme %q", scheme)
	}
	return p, nil
}

// Open is a shortcut for ForURL(rawURL).Open.
func Open(ctx context.Context, rawURL string) (io.ReadCloser, int64, error) {
	p, err := ForURL(rawURL)
	if err != nil {
		return nil, 0, err
	}
	return p.Open(ctx, rawURL)
}
