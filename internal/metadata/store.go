package metadata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrCorrupt marks durable storage that exists but cannot be decoded.
	ErrCorrupt = errors.New("metadata storage is corrupt")
	// ErrClosed is returned when a released store is used.
	ErrClosed = errors.New("metadata store is closed")
)

// Scraper produces metadata for identifiers of a single source.
type Scraper interface {
	Source() string
	Scrape(ctx context.Context, identifier string) (Metadata, error)
}

// Backend loads and saves the full metadata map.
//
// Load returns an empty map when nothing was persisted yet and an error
// wrapping ErrCorrupt when persisted data cannot be decoded.
type Backend interface {
	Load(ctx context.Context) (map[Key]Metadata, error)
	Save(ctx context.Context, records map[Key]Metadata) error
	Close() error
}

// Store caches metadata by (source, identifier) and delegates misses to
// the installed Scraper. Writes are batched and flushed once on Close.
type Store struct {
	mu      sync.Mutex
	backend Backend
	records map[Key]Metadata
	dirty   bool
	scraper Scraper
	closed  bool
	logger  *zap.Logger
}

// Open loads the persisted map from backend. A corrupt backend is fatal.
func Open(ctx context.Context, backend Backend, logger *zap.Logger) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("metadata backend is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	records, err := backend.Load(ctx)
	if err != nil {
		logger.Error("failed to load metadata; verify the metadata storage is valid", zap.Error(err))
		if closeErr := backend.Close(); closeErr != nil {
			logger.Warn("failed to release metadata backend", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	if records == nil {
		records = make(map[Key]Metadata)
	}
	logger.Debug("metadata loaded", zap.Int("records", len(records)))
	return &Store{
		backend: backend,
		records: records,
		logger:  logger,
	}, nil
}

// SetScraper installs the scraper used for cache misses. Passing nil
// uninstalls it. Cached entries are not affected.
func (s *Store) SetScraper(scraper Scraper) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scraper = scraper
}

// Get resolves metadata for identifier. An empty source means "use the
// installed scraper's source". Cached records always win over scraping.
// The boolean is false when no record exists and none could be scraped.
func (s *Store) Get(ctx context.Context, identifier, source string) (Metadata, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Metadata{}, false, ErrClosed
	}
	if source == "" && s.scraper == nil {
		return Metadata{}, false, nil
	}
	if source == "" {
		source = s.scraper.Source()
	}
	key := Key{Source: source, Identifier: identifier}
	if cached, ok := s.records[key]; ok {
		return cached.Clone(), true, nil
	}
	if s.scraper == nil {
		return Metadata{}, false, nil
	}

	if scraperSource := s.scraper.Source(); scraperSource != source {
		s.logger.Warn("scraping with a scraper for a different source",
			zap.String("source", source),
			zap.String("scraper_source", scraperSource),
			zap.String("identifier", identifier))
	}
	s.logger.Info("scraping metadata",
		zap.String("identifier", identifier),
		zap.String("source", s.scraper.Source()))
	scraped, err := s.scraper.Scrape(ctx, identifier)
	if err != nil {
		return Metadata{}, false, fmt.Errorf("scrape %s: %w", key, err)
	}
	s.records[key] = scraped.Clone()
	s.dirty = true
	return scraped, true, nil
}

// Lookup returns the cached record for (source, identifier) without ever
// scraping.
func (s *Store) Lookup(source, identifier string) (Metadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.records[Key{Source: source, Identifier: identifier}]
	if !ok {
		return Metadata{}, false
	}
	return m.Clone(), true
}

// Persist writes the full map when there are unsaved changes. On failure
// the dirty flag is kept so the next Persist retries everything.
func (s *Store) Persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked(ctx)
}

func (s *Store) persistLocked(ctx context.Context) error {
	if !s.dirty {
		return nil
	}
	snapshot := make(map[Key]Metadata, len(s.records))
	for k, v := range s.records {
		snapshot[k] = v.Clone()
	}
	s.logger.Info("persisting metadata changes", zap.Int("records", len(snapshot)))
	if err := s.backend.Save(ctx, snapshot); err != nil {
		s.logger.Error("failed to persist webcam metadata", zap.Error(err))
		return fmt.Errorf("persist metadata: %w", err)
	}
	s.dirty = false
	return nil
}

// Close persists pending changes once and releases the backend. Further
// calls are no-ops.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	persistErr := s.persistLocked(ctx)
	closeErr := s.backend.Close()
	if closeErr != nil {
		closeErr = fmt.Errorf("close metadata backend: %w", closeErr)
	}
	return errors.Join(persistErr, closeErr)
}

// Dirty reports whether there are unsaved writes.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Len returns the number of cached records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// All returns every cached record ordered by source and identifier.
func (s *Store) All() []Metadata {
	return s.filter(func(Metadata) bool { return true })
}

// Live returns the cached records whose webcams are live.
func (s *Store) Live() []Metadata {
	return s.filter(func(m Metadata) bool { return m.IsLive })
}

func (s *Store) filter(keep func(Metadata) bool) []Metadata {
	s.mu.Lock()
	out := make([]Metadata, 0, len(s.records))
	for _, m := range s.records {
		if keep(m) {
			out = append(out, m.Clone())
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}
