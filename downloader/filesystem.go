package downloader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Caches downloaded archives as files in a directory. A file's
// modification time is when it was retrieved.
type Filesystem struct {
	Dir    string
	Logger *slog.Logger

	TimeNow func() time.Time

	mutex sync.Mutex
}

func NewFilesystem(dir string, logger *slog.Logger) (*Filesystem, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Filesystem{
		Dir:     dir,
		Logger:  logger,
		TimeNow: time.Now,
	}, nil
}

func (f *Filesystem) path(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(f.Dir, hex.EncodeToString(sum[:])+".zip")
}

func (f *Filesystem) Get(
	ctx context.Context,
	url string,
	headers map[string]string,
	options GetOptions,
) ([]byte, error) {

	f.mutex.Lock()
	defer f.mutex.Unlock()

	path := f.path(url)

	if options.Cache {
		info, err := os.Stat(path)
		if err == nil {
			if info.ModTime().Add(options.CacheTTL).After(f.TimeNow()) {
				body, err := os.ReadFile(path)
				if err != nil {
					return nil, fmt.Errorf("reading cache: %w", err)
				}
				f.Logger.Debug("cache hit", "url", url)
				return body, nil
			}
			f.Logger.Debug("cache expired", "url", url)
		}
	}

	body, err := HTTPGet(ctx, url, headers, options)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}

	if options.Cache {
		err = os.WriteFile(path, body, 0644)
		if err != nil {
			return nil, fmt.Errorf("writing cache: %w", err)
		}
		now := f.TimeNow()
		err = os.Chtimes(path, now, now)
		if err != nil {
			return nil, fmt.Errorf("writing cache: %w", err)
		}
	}

	return body, nil
}
