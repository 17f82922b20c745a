package hosting

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Aegis-plus/AIGEN/internal/imaging"
)

// ErrAllRelaysFailed is returned when every relay endpoint failed to deliver
// the source image.
var ErrAllRelaysFailed = errors.New("all relay download attempts failed")

// DefaultRelayEndpoints lists the public CORS-relay services tried in
// priority order. Each entry is a template; %s receives the encoded source
// URL. wsrv.nl handles image redirects and headers best, so it goes first.
var DefaultRelayEndpoints = []string{
	"https://wsrv.nl/?url=%s&output=png",
	"https://corsproxy.io/?%s",
	"https://api.allorigins.win/raw?url=%s",
}

// RelayChain downloads image bytes through an ordered list of relay
// endpoints. It is the last-resort path for sources the hosting backend
// cannot fetch server-side.
type RelayChain struct {
	endpoints  []string
	httpClient *http.Client
}

// NewRelayChain creates a relay chain. An empty endpoint list falls back to
// DefaultRelayEndpoints.
func NewRelayChain(endpoints []string, httpClient *http.Client) *RelayChain {
	if len(endpoints) == 0 {
		endpoints = DefaultRelayEndpoints
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &RelayChain{
		endpoints:  endpoints,
		httpClient: httpClient,
	}
}

// Download fetches the source URL through the relays in declared order,
// stopping at the first success. Returns the raw bytes and their sniffed
// MIME type.
func (r *RelayChain) Download(ctx context.Context, srcURL string) ([]byte, string, error) {
	encoded := url.QueryEscape(srcURL)

	for _, endpoint := range r.endpoints {
		relayURL := fmt.Sprintf(endpoint, encoded)

		data, contentType, err := r.fetch(ctx, relayURL)
		if err != nil {
			slog.Warn("hosting: relay download failed", "relay", endpoint, "error", err)
			continue
		}

		mimeType := contentType
		if !strings.HasPrefix(mimeType, "image/") {
			mimeType = imaging.DetectMIME(data)
		}
		return data, mimeType, nil
	}
	return nil, "", ErrAllRelaysFailed
}

func (r *RelayChain) fetch(ctx context.Context, relayURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, relayURL, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("relay returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read relay response: %w", err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("relay returned an empty body")
	}
	return data, resp.Header.Get("Content-Type"), nil
}
