// Package scraper defines the pluggable metadata scraper contract and the
// registry that maps source names to implementations.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webcam-harvester/internal/fetcher"
	"github.com/JakeFAU/webcam-harvester/internal/metadata"
)

var (
	// ErrUnknownSource is returned when no scraper is registered for a source.
	ErrUnknownSource = errors.New("unknown metadata source")
	// ErrInvalidIdentifier is returned when an identifier can't be scraped
	// from the scraper's source.
	ErrInvalidIdentifier = errors.New("invalid webcam identifier")
)

// Scraper fetches and parses metadata for webcams of one source.
//
// Scrape must not fail on transport errors: an unreachable source yields a
// not-live record so the outcome is cached like any other. Contract errors
// such as ErrInvalidIdentifier are returned.
type Scraper interface {
	Source() string
	Scrape(ctx context.Context, identifier string) (metadata.Metadata, error)
}

// Limiter throttles outgoing requests per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Options carries the shared collaborators handed to scraper factories.
type Options struct {
	Fetcher fetcher.Fetcher
	// Limiter may be nil.
	Limiter Limiter
	// BaseURL overrides the source's default site root.
	BaseURL string
	Timeout time.Duration
	Logger  *zap.Logger
}

// Factory builds a Scraper from Options.
type Factory func(Options) (Scraper, error)

// Registry maps source names to scraper factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name. Names must be unique.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" {
		return fmt.Errorf("scraper name is required")
	}
	if factory == nil {
		return fmt.Errorf("scraper factory for %q is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("scraper %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// New builds the scraper registered under name.
func (r *Registry) New(name string, opts Options) (Scraper, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownSource, name, r.Names())
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s, err := factory(opts)
	if err != nil {
		return nil, fmt.Errorf("build scraper %q: %w", name, err)
	}
	return s, nil
}

// Names returns the registered source names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
