package gtfskpi

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tidbyt.dev/gtfskpi/downloader"
	"tidbyt.dev/gtfskpi/metrics"
	"tidbyt.dev/gtfskpi/parse"
	"tidbyt.dev/gtfskpi/storage"
)

const (
	DefaultStaticTimeout = 60 * time.Second
	DefaultStaticMaxSize = 800 << 20 // 800 MB
)

var (
	ErrNoFeed        = errors.New("no such feed")
	ErrAmbiguousFeed = errors.New("feed id prefix matches more than one feed")
)

// Manager ingests GTFS archives into storage and hands out Feeds.
type Manager struct {
	StaticTimeout time.Duration
	StaticMaxSize int

	// Archives fetched over HTTP are cached for this long. Zero
	// disables caching.
	StaticCacheTTL time.Duration

	Downloader downloader.Downloader
	Logger     *slog.Logger
	Metrics    *metrics.Collector

	TimeNow func() time.Time

	storage storage.Storage
}

// Creates a new Manager on top of the given storage. Logs go to
// slog.Default() and no metrics are recorded unless configured.
func NewManager(s storage.Storage) *Manager {
	return &Manager{
		StaticTimeout: DefaultStaticTimeout,
		StaticMaxSize: DefaultStaticMaxSize,
		Downloader:    downloader.NewMemoryDownloader(),
		Logger:        slog.Default(),
		TimeNow:       time.Now,
		storage:       s,
	}
}

func (m *Manager) Storage() storage.Storage {
	return m.storage
}

// Retrieves and parses the GTFS archive at source, a URL or local
// path. Feeds are identified by the sha256 of the archive, so
// ingesting the same data twice does not parse it again.
func (m *Manager) Ingest(ctx context.Context, source string) (*storage.FeedMetadata, error) {
	defer m.Metrics.Time("ingest")()

	body, err := downloader.Fetch(ctx, m.Downloader, source, downloader.GetOptions{
		Cache:    m.StaticCacheTTL > 0,
		CacheTTL: m.StaticCacheTTL,
		Timeout:  m.StaticTimeout,
		MaxSize:  m.StaticMaxSize,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieving %s: %w", source, err)
	}
	hash := fmt.Sprintf("%x", sha256.Sum256(body))

	logger := m.Logger.With("feed", shortID(hash), "source", source)

	// The data may already exist in storage.
	existing, err := m.storage.ListFeeds(storage.ListFeedsFilter{Hash: hash})
	if err != nil {
		return nil, fmt.Errorf("listing feeds: %w", err)
	}
	for _, feed := range existing {
		if feed.URL == source {
			logger.Info("feed already ingested")
			return feed, nil
		}
	}
	if len(existing) > 0 {
		// It's in storage, but for a different source. Add a
		// metadata record for this one.
		metadata := *existing[0]
		metadata.URL = source
		metadata.RetrievedAt = m.TimeNow().UTC()
		err = m.storage.WriteFeedMetadata(&metadata)
		if err != nil {
			return nil, fmt.Errorf("writing metadata: %w", err)
		}
		logger.Info("feed already ingested from another source")
		return &metadata, nil
	}

	writer, err := m.storage.GetWriter(hash)
	if err != nil {
		return nil, fmt.Errorf("getting writer: %w", err)
	}

	// The writer is closed by ParseStatic on success.
	metadata, rows, err := parse.ParseStatic(writer, body)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("parsing: %w", err)
	}

	metadata.Hash = hash
	metadata.URL = source
	metadata.RetrievedAt = m.TimeNow().UTC()

	err = m.storage.WriteFeedMetadata(metadata)
	if err != nil {
		return nil, fmt.Errorf("writing metadata: %w", err)
	}

	m.Metrics.ObserveIngest(rows)
	logger.Info(
		"ingested feed",
		"stops", rows["stops.txt"],
		"routes", rows["routes.txt"],
		"trips", rows["trips.txt"],
		"stop_times", rows["stop_times.txt"],
	)

	return metadata, nil
}

// All ingested feeds, most recently retrieved first.
func (m *Manager) ListFeeds() ([]*storage.FeedMetadata, error) {
	feeds, err := m.storage.ListFeeds(storage.ListFeedsFilter{})
	if err != nil {
		return nil, fmt.Errorf("listing feeds: %w", err)
	}
	return feeds, nil
}

// Selects the most recently retrieved feed in Manager.Feed.
const LatestFeed = "latest"

// Gets a feed by id, or by a unique prefix of its id. A blank id, or
// LatestFeed, selects the most recently retrieved feed.
func (m *Manager) Feed(id string) (*Feed, error) {
	if id == LatestFeed {
		id = ""
	}

	feeds, err := m.ListFeeds()
	if err != nil {
		return nil, err
	}

	var match *storage.FeedMetadata
	for _, feed := range feeds {
		if id == "" || feed.Hash == id {
			match = feed
			break
		}
		if strings.HasPrefix(feed.Hash, id) {
			if match != nil && match.Hash != feed.Hash {
				return nil, fmt.Errorf("%w: %s", ErrAmbiguousFeed, id)
			}
			match = feed
		}
	}
	if match == nil {
		if id == "" {
			return nil, ErrNoFeed
		}
		return nil, fmt.Errorf("%w: %s", ErrNoFeed, id)
	}

	reader, err := m.storage.GetReader(match.Hash)
	if err != nil {
		return nil, fmt.Errorf("getting reader: %w", err)
	}

	return &Feed{
		Metadata: match,
		Reader:   reader,
		storage:  m.storage,
		logger:   m.Logger.With("feed", shortID(match.Hash)),
		metrics:  m.Metrics,
		timeNow:  m.TimeNow,
	}, nil
}

func shortID(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
