package core

// catalog.go loads the reference equipment set. The Postgres source is
// wrapped in a TTL cache because the catalog changes rarely but is read
// on every batch submission.

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type pgCatalog struct {
	pool *pgxpool.Pool
}

// NewCatalog creates a Postgres-backed equipment catalog.
func NewCatalog(pool *pgxpool.Pool) Catalog {
	return &pgCatalog{pool: pool}
}

func (c *pgCatalog) EquipmentFor(ctx context.Context, location, division string) ([]EquipmentKey, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT location, division, gov_number, inv_number, meter_type
		FROM equipment_catalog
		WHERE location = $1 AND division = $2
		ORDER BY inv_number, meter_type`,
		location, division)
	if err != nil {
		return nil, wrapStorage("query catalog", err)
	}
	defer rows.Close()

	var keys []EquipmentKey
	for rows.Next() {
		var key EquipmentKey
		if err := rows.Scan(&key.Location, &key.Division, &key.GovNumber,
			&key.InvNumber, &key.MeterType); err != nil {
			return nil, wrapStorage("scan catalog row", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStorage("iterate catalog", err)
	}
	return keys, nil
}

type catalogEntry struct {
	keys    []EquipmentKey
	fetched time.Time
}

// CachedCatalog caches per-location catalog reads with a TTL. A stale
// entry is served when the underlying source fails, so a flaky catalog
// source does not take submissions down with it.
type CachedCatalog struct {
	source Catalog
	ttl    time.Duration

	mu      sync.RWMutex
	entries map[string]catalogEntry
}

// NewCachedCatalog wraps source with a TTL cache.
func NewCachedCatalog(source Catalog, ttl time.Duration) *CachedCatalog {
	return &CachedCatalog{
		source:  source,
		ttl:     ttl,
		entries: make(map[string]catalogEntry),
	}
}

func (c *CachedCatalog) EquipmentFor(ctx context.Context, location, division string) ([]EquipmentKey, error) {
	cacheKey := location + "|" + division

	c.mu.RLock()
	entry, ok := c.entries[cacheKey]
	c.mu.RUnlock()
	if ok && time.Since(entry.fetched) < c.ttl {
		return entry.keys, nil
	}

	keys, err := c.source.EquipmentFor(ctx, location, division)
	if err != nil {
		if ok {
			// Serve stale over failing.
			return entry.keys, nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.entries[cacheKey] = catalogEntry{keys: keys, fetched: time.Now()}
	c.mu.Unlock()
	return keys, nil
}

// Invalidate drops every cached entry. Called after catalog imports.
func (c *CachedCatalog) Invalidate() {
	c.mu.Lock()
	c.entries = make(map[string]catalogEntry)
	c.mu.Unlock()
}
