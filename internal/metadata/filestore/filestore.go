// Package filestore persists the metadata map to a single msgpack file.
//
// The file is held under an exclusive lock for the lifetime of the backend
// so two harvester processes never interleave writes, and saves go through
// a temp file and rename so a crash mid-write leaves the prior snapshot.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/gofrs/flock"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/webcam-harvester/internal/metadata"
)

const formatVersion = 1

// ErrLocked is returned when another process holds the metadata file.
var ErrLocked = errors.New("metadata file is locked by another process")

type fileFormat struct {
	Version int     `msgpack:"version"`
	Entries []entry `msgpack:"entries"`
}

type entry struct {
	Source     string            `msgpack:"source"`
	Identifier string            `msgpack:"identifier"`
	Metadata   metadata.Metadata `msgpack:"metadata"`
}

// Backend implements metadata.Backend on the local filesystem.
type Backend struct {
	path   string
	lock   *flock.Flock
	logger *zap.Logger
}

// New locks path for exclusive use. The file itself may not exist yet.
func New(path string, logger *zap.Logger) (*Backend, error) {
	if path == "" {
		return nil, fmt.Errorf("metadata path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create metadata directory: %w", err)
	}
	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire metadata lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return &Backend{
		path:   path,
		lock:   lock,
		logger: logger,
	}, nil
}

// Path returns the metadata file location.
func (b *Backend) Path() string {
	return b.path
}

// Load decodes the metadata file. A missing file yields an empty map.
func (b *Backend) Load(_ context.Context) (map[metadata.Key]metadata.Metadata, error) {
	// #nosec G304 -- path comes from operator configuration.
	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			b.logger.Info("no metadata file found; starting empty", zap.String("path", b.path))
			return map[metadata.Key]metadata.Metadata{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", b.path, err)
	}

	var decoded fileFormat
	if err := msgpack.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("decode %s: %w: %w", b.path, metadata.ErrCorrupt, err)
	}
	if decoded.Version != formatVersion {
		return nil, fmt.Errorf("decode %s: %w: unsupported version %d", b.path, metadata.ErrCorrupt, decoded.Version)
	}

	records := make(map[metadata.Key]metadata.Metadata, len(decoded.Entries))
	for _, e := range decoded.Entries {
		records[metadata.Key{Source: e.Source, Identifier: e.Identifier}] = e.Metadata
	}
	return records, nil
}

// Save writes records to a temp file in the same directory and renames it
// over the metadata file.
func (b *Backend) Save(_ context.Context, records map[metadata.Key]metadata.Metadata) error {
	entries := make([]entry, 0, len(records))
	for k, m := range records {
		entries = append(entries, entry{Source: k.Source, Identifier: k.Identifier, Metadata: m})
	}
	// Sort for deterministic output
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Source != entries[j].Source {
			return entries[i].Source < entries[j].Source
		}
		return entries[i].Identifier < entries[j].Identifier
	})

	data, err := msgpack.Marshal(fileFormat{Version: formatVersion, Entries: entries})
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(b.path), filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, b.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	b.logger.Debug("metadata file written", zap.String("path", b.path), zap.Int("records", len(entries)))
	return nil
}

// Close releases the file lock.
func (b *Backend) Close() error {
	if err := b.lock.Unlock(); err != nil {
		return fmt.Errorf("release metadata lock: %w", err)
	}
	return nil
}
