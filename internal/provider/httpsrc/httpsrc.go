package httpsrc

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/open-edge-platform/formula-installer/internal/config"
	"github.com/open-edge-platform/formula-installer/internal/provider"
	"github.com/open-edge-platform/formula-installer/internal/utils/logger"
	"github.com/open-edge-platform/formula-installer/internal/utils/network"
)

// HTTP implements provider.Provider for http and https URLs
type HTTP struct {
	client *http.Client
}

func init() {
	provider.Register(&HTTP{client: network.NewSecureHTTPClient(0)})
}

// Name returns the unique name of the provider
func (p *HTTP) Name() string { return "http" }

// Schemes returns the URL schemes served by this provider
func (p *HTTP) Schemes() []string { return []string{"http", "https"} }

// Init rebuilds the client with the configured timeout
func (p *HTTP) Init(cfg *config.GlobalConfig) error {
	p.client = network.NewSecureHTTPClient(cfg.HTTP.Timeout)
	return nil
}

// Open issues a GET request and returns the response body
func (p *HTTP) Open(ctx context.Context, rawURL string) (io.ReadCloser, int64, error) {
	log := logger.Logger()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request for %s: %w", rawURL, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("bad status: %s", resp.Status)
	}
	log.Debugf("GET %s: %s", rawURL, resp.Status)
	return resp.Body, resp.ContentLength, nil
}
