// Package storagemap implements the storage-to-user mapping cache (C2): a
// TTL-jittered, per-storage cache of which users may see which paths
// (§3 StorageAccess/CachedMapping, §4.2).
package storagemap

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/nextcloud/notify-push/internal/identity"
	"github.com/nextcloud/notify-push/internal/npmetrics"
)

// Dialect selects the bind-parameter syntax for the configured database
// backend (§4.2: "use the backend's native bind-parameter syntax").
type Dialect int

const (
	// DialectPositional uses Postgres-style $1, $2, ... placeholders.
	DialectPositional Dialect = iota
	// DialectQuestion uses MySQL/SQLite-style ? placeholders.
	DialectQuestion
)

// StorageAccess grants user access to every path with prefix Root on a
// given storage (§3).
type StorageAccess struct {
	User identity.UserID
	Root string
}

type cachedMapping struct {
	access    []StorageAccess
	validTill time.Time
}

// jittered TTL bounds (§3): valid_till = now + U(4m, 5m).
const (
	ttlMin = 4 * time.Minute
	ttlMax = 5 * time.Minute
)

// Cache is the concurrent storage-id -> access-list cache.
type Cache struct {
	db     *sql.DB
	prefix string
	dial   Dialect

	mu      sync.RWMutex
	entries map[string]*cachedMapping
}

// New creates a Cache backed by db. prefix is the configured table prefix
// (default "oc_"); dial picks the bind-parameter syntax for db's driver.
func New(db *sql.DB, prefix string, dial Dialect) *Cache {
	return &Cache{
		db:      db,
		prefix:  prefix,
		dial:    dial,
		entries: make(map[string]*cachedMapping),
	}
}

// UsersFor returns every user granted access to path on storageID. Results
// are not deduplicated (open question 3, spec §9: the database returns
// distinct rows by construction and the original order is preserved).
func (c *Cache) UsersFor(ctx context.Context, storageID string, path string) ([]identity.UserID, error) {
	access, err := c.accessFor(ctx, storageID)
	if err != nil {
		return nil, err
	}

	var users []identity.UserID
	for _, a := range access {
		if strings.HasPrefix(path, a.Root) {
			users = append(users, a.User)
		}
	}
	return users, nil
}

func (c *Cache) accessFor(ctx context.Context, storageID string) ([]StorageAccess, error) {
	now := time.Now()

	c.mu.RLock()
	cached, ok := c.entries[storageID]
	c.mu.RUnlock()
	if ok && cached.validTill.After(now) {
		return cached.access, nil
	}

	access, err := c.load(ctx, storageID)
	if err != nil {
		// A query error does not poison the cache entry: nothing is
		// inserted on failure (§4.2).
		return nil, err
	}

	entry := &cachedMapping{
		access:    access,
		validTill: now.Add(ttlMin + time.Duration(rand.Int63n(int64(ttlMax-ttlMin)))),
	}
	c.mu.Lock()
	c.entries[storageID] = entry
	c.mu.Unlock()

	return access, nil
}

func (c *Cache) load(ctx context.Context, storageID string) ([]StorageAccess, error) {
	npmetrics.MappingQueries.Inc()

	// Distinguish a connect failure from a query failure (§7) by checking
	// reachability first; QueryContext below is then known to be reporting
	// a query/scan problem, not a dial problem.
	if err := c.db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}

	query := c.query()
	rows, err := c.db.QueryContext(ctx, query, storageID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	defer rows.Close()

	var access []StorageAccess
	for rows.Next() {
		var user, root string
		if err := rows.Scan(&user, &root); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrQuery, err)
		}
		access = append(access, StorageAccess{User: identity.New(user), Root: root})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	return access, nil
}

// query builds the mount⋈file-cache join, honoring the configured table
// prefix and the backend's native bind-parameter syntax (§4.2).
func (c *Cache) query() string {
	placeholder := "?"
	if c.dial == DialectPositional {
		placeholder = "$1"
	}
	return fmt.Sprintf(
		`SELECT m.user_id, m.mount_point
		 FROM %[1]smounts m
		 JOIN %[1]sfilecache fc ON fc.storage = m.storage_id
		 WHERE m.storage_id = %[2]s`,
		c.prefix, placeholder,
	)
}
