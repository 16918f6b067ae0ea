package postgres

import (
	"context"
	"fmt"
	"sort"

	"github.com/JakeFAU/webcam-harvester/internal/metadata"
)

const defaultMetadataTable = "webcam_metadata"

// MetadataBackend implements metadata.Backend on a Postgres table keyed by
// (source, identifier).
type MetadataBackend struct {
	pool  db
	table string
}

// NewMetadataBackend connects, ensures the table exists and returns the
// backend. The backend owns the pool.
func NewMetadataBackend(ctx context.Context, cfg PoolConfig, table string) (*MetadataBackend, error) {
	table, err := checkTable(table, defaultMetadataTable)
	if err != nil {
		return nil, err
	}
	pool, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	b := &MetadataBackend{pool: pool, table: table}
	if err := b.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

// NewMetadataBackendWithPool constructs a backend from an existing pool (primarily for testing).
func NewMetadataBackendWithPool(pool db, table string) (*MetadataBackend, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, defaultMetadataTable)
	if err != nil {
		return nil, err
	}
	return &MetadataBackend{pool: pool, table: table}, nil
}

// EnsureSchema creates the metadata table when missing.
func (b *MetadataBackend) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	source        text    NOT NULL,
	identifier    text    NOT NULL,
	livestill_url text    NOT NULL DEFAULT '',
	is_live       boolean NOT NULL DEFAULT false,
	facility      text,
	city          text,
	country       text,
	region        text,
	brand         text,
	coordinates   text,
	PRIMARY KEY (source, identifier)
)`, b.table)
	if _, err := b.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", b.table, err)
	}
	return nil
}

// Load reads every row. Rows that cannot be decoded make the whole table
// unusable and are reported as metadata.ErrCorrupt.
func (b *MetadataBackend) Load(ctx context.Context) (map[metadata.Key]metadata.Metadata, error) {
	query := fmt.Sprintf(`
SELECT source, identifier, livestill_url, is_live, facility, city, country, region, brand, coordinates
FROM %s`, b.table)
	rows, err := b.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", b.table, err)
	}
	defer rows.Close()

	records := make(map[metadata.Key]metadata.Metadata)
	for rows.Next() {
		var m metadata.Metadata
		if err := rows.Scan(
			&m.Source,
			&m.Identifier,
			&m.LivestillURL,
			&m.IsLive,
			&m.Facility,
			&m.City,
			&m.Country,
			&m.Region,
			&m.Brand,
			&m.Coordinates,
		); err != nil {
			return nil, fmt.Errorf("scan %s row: %w: %w", b.table, metadata.ErrCorrupt, err)
		}
		if !m.IsLive {
			m.LivestillURL = ""
		}
		records[m.Key()] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", b.table, err)
	}
	return records, nil
}

// Save upserts every record in one transaction.
func (b *MetadataBackend) Save(ctx context.Context, records map[metadata.Key]metadata.Metadata) (err error) {
	query := fmt.Sprintf(`
INSERT INTO %s (source, identifier, livestill_url, is_live, facility, city, country, region, brand, coordinates)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (source, identifier) DO UPDATE SET
	livestill_url = EXCLUDED.livestill_url,
	is_live       = EXCLUDED.is_live,
	facility      = EXCLUDED.facility,
	city          = EXCLUDED.city,
	country       = EXCLUDED.country,
	region        = EXCLUDED.region,
	brand         = EXCLUDED.brand,
	coordinates   = EXCLUDED.coordinates`, b.table)

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin metadata save: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	for _, key := range sortedKeys(records) {
		m := records[key]
		if _, err = tx.Exec(ctx, query,
			key.Source,
			key.Identifier,
			m.LivestillURL,
			m.IsLive,
			m.Facility,
			m.City,
			m.Country,
			m.Region,
			m.Brand,
			m.Coordinates,
		); err != nil {
			return fmt.Errorf("upsert %s: %w", key, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit metadata save: %w", err)
	}
	return nil
}

// Close releases the pool.
func (b *MetadataBackend) Close() error {
	if b == nil || b.pool == nil {
		return nil
	}
	b.pool.Close()
	return nil
}

func sortedKeys(records map[metadata.Key]metadata.Metadata) []metadata.Key {
	keys := make([]metadata.Key, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Source != keys[j].Source {
			return keys[i].Source < keys[j].Source
		}
		return keys[i].Identifier < keys[j].Identifier
	})
	return keys
}
