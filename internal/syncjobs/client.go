package syncjobs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// fetcher wraps outbound JSON calls with retries and bounded reads.
type fetcher struct {
	http     *http.Client
	retries  int
	backoff  time.Duration
	maxBytes int64
}

func newFetcher(timeout time.Duration, retries int, maxBytes int64) *fetcher {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if retries <= 0 {
		retries = 3
	}
	if maxBytes <= 0 {
		maxBytes = 64 * 1024 * 1024
	}
	return &fetcher{
		http:     &http.Client{Timeout: timeout},
		retries:  retries,
		backoff:  500 * time.Millisecond,
		maxBytes: maxBytes,
	}
}

// getJSON fetches url into out, retrying transient failures with
// exponential backoff.
func (f *fetcher) getJSON(ctx context.Context, url string, out any) error {
	var lastErr error
	for attempt := 0; attempt < f.retries; attempt++ {
		if attempt > 0 {
			wait := f.backoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		if err := f.getJSONOnce(ctx, url, out); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("fetch %s: %w", url, lastErr)
}

func (f *fetcher) getJSONOnce(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, f.maxBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// listedToken is one entry of the upstream token list.
type listedToken struct {
	Address  string `json:"address"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
	LogoURI  string `json:"logoURI"`
	Verified bool   `json:"verified"`
}
