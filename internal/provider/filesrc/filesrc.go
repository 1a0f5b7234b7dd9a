package filesrc

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"github.com/open-edge-platform/formula-installer/internal/config"
	"github.com/open-edge-platform/formula-installer/internal/provider"
)

// File implements provider.Provider for file:// URLs
type File struct{}

func init() {
	provider.Register(&File{})
}

// Name returns the unique name of the provider
func (p *File) Name() string { return "file" }

// Schemes returns the URL schemes served by this provider
func (p *File) Schemes() []string { return []string{"file"} }

// Init is a no-op, local files need no setup
func (p *File) Init(cfg *config.GlobalConfig) error { return nil }

// Open opens the local file named by rawURL
func (p *File) Open(ctx context.Context, rawURL string) (io.ReadCloser, int64, error) {
	path, err := PathFromURL(rawURL)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	if info.IsDir() {
		f.Close()
		return nil, 0, fmt.Errorf("%s is a directory", path)
	}
	return f, info.Size(), nil
}

// PathFromURL returns the local path of a file:// URL.
func PathFromURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("not a file URL: %s", rawURL)
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", fmt.Errorf("file URL %s names a remote host", rawURL)
	}
	if u.Path == "" {
		return "", fmt.Errorf("file URL %s has no path", rawURL)
	}
	return filepath.FromSlash(u.Path), nil
}

// URLFromPath builds a file:// URL for an absolute local path.
func URLFromPath(path string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}
