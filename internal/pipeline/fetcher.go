package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"
)

// MediaFetcher downloads the media bytes behind a MediaRef.
type MediaFetcher interface {
	Fetch(ctx context.Context, ref *MediaRef) ([]byte, error)
}

// HTTPFetcher fetches media from the URL the bridge exposes for each
// attachment.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates a fetcher with the given per-download timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, ref *MediaRef) ([]byte, error) {
	if ref == nil || ref.URL == "" {
		return nil, fmt.Errorf("no media url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("media request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("media download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media download: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("media read: %w", err)
	}
	return data, nil
}

func encodeMedia(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
