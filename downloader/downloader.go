// Package downloader retrieves GTFS archives from HTTP URLs or the
// local filesystem.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

var ErrTooLarge = errors.New("response exceeds max size")

type GetOptions struct {
	MaxSize  int
	Timeout  time.Duration
	Cache    bool
	CacheTTL time.Duration
}

// A thing capable of downloading a file, optionally with caching
type Downloader interface {
	Get(ctx context.Context, url string, headers map[string]string, options GetOptions) ([]byte, error)
}

// Gets a file. Doesn't cache. Provided as convenience for
// implementing custom Downloaders.
func HTTPGet(ctx context.Context, url string, headers map[string]string, options GetOptions) ([]byte, error) {
	client := &http.Client{
		Timeout: options.Timeout,
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	for k, v := range headers {
		req.Header.Add(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	return readLimited(resp.Body, options.MaxSize)
}

// A truncated archive is useless, so oversized bodies are an error
// rather than cut short.
func readLimited(r io.Reader, maxSize int) ([]byte, error) {
	if maxSize > 0 {
		r = io.LimitReader(r, int64(maxSize)+1)
	}

	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}

	if maxSize > 0 && len(body) > maxSize {
		return nil, ErrTooLarge
	}

	return body, nil
}

// Reports whether source should be fetched over HTTP rather than
// read from disk.
func IsURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// Retrieves source, which is either an HTTP(S) URL fetched via d, or
// a local path (optionally prefixed with file://).
func Fetch(ctx context.Context, d Downloader, source string, options GetOptions) ([]byte, error) {
	if IsURL(source) {
		return d.Get(ctx, source, nil, options)
	}

	f, err := os.Open(strings.TrimPrefix(source, "file://"))
	if err != nil {
		return nil, fmt.Errorf("opening: %w", err)
	}
	defer f.Close()

	return readLimited(f, options.MaxSize)
}
