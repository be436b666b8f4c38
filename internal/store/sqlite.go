package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/vehicle-resolver/internal/model"
)

// sqliteTimeFormat is fixed width so stored timestamps compare correctly as
// text.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One connection: pragmas are per connection and writers serialize anyway.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS vehicle_cache (
	id               TEXT PRIMARY KEY,
	vin              TEXT NOT NULL UNIQUE,
	response         TEXT NOT NULL,
	listing_id       TEXT NOT NULL DEFAULT '',
	search_source    TEXT NOT NULL,
	cached_at        TEXT NOT NULL,
	last_verified_at TEXT NOT NULL,
	expires_at       TEXT NOT NULL,
	is_active        INTEGER NOT NULL DEFAULT 1,
	hit_count        INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_vehicle_cache_expires_at ON vehicle_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_vehicle_cache_search_source ON vehicle_cache(search_source);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetVehicle(ctx context.Context, vin string) (*model.CacheEntry, error) {
	var e model.CacheEntry
	var response, source, cachedAt, verifiedAt, expiresAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, vin, response, listing_id, search_source, cached_at, last_verified_at, expires_at, is_active, hit_count
		 FROM vehicle_cache WHERE vin = ?`,
		vin,
	).Scan(&e.ID, &e.VIN, &response, &e.ListingID, &source, &cachedAt, &verifiedAt, &expiresAt, &e.IsActive, &e.HitCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get vehicle %s", vin)
	}

	e.Response = []byte(response)
	e.SearchSource = model.SearchSource(source)
	for _, f := range []struct {
		raw string
		dst *time.Time
	}{{cachedAt, &e.CachedAt}, {verifiedAt, &e.LastVerifiedAt}, {expiresAt, &e.ExpiresAt}} {
		t, err := time.Parse(sqliteTimeFormat, f.raw)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse timestamp for %s", vin)
		}
		*f.dst = t
	}
	return &e, nil
}

func (s *SQLiteStore) UpsertVehicle(ctx context.Context, entry model.CacheEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vehicle_cache (id, vin, response, listing_id, search_source, cached_at, last_verified_at, expires_at, is_active, hit_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		 ON CONFLICT (vin) DO UPDATE SET
			response = excluded.response,
			listing_id = excluded.listing_id,
			search_source = excluded.search_source,
			cached_at = excluded.cached_at,
			last_verified_at = excluded.last_verified_at,
			expires_at = excluded.expires_at,
			is_active = excluded.is_active`,
		entry.ID, entry.VIN, string(entry.Response), entry.ListingID, string(entry.SearchSource),
		formatTime(entry.CachedAt), formatTime(entry.LastVerifiedAt), formatTime(entry.ExpiresAt), entry.IsActive,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert vehicle %s", entry.VIN)
	}
	return nil
}

func (s *SQLiteStore) RecordHit(ctx context.Context, vin string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE vehicle_cache SET hit_count = hit_count + 1, last_verified_at = ? WHERE vin = ?`,
		formatTime(at), vin,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record hit %s", vin)
	}
	return checkRowsAffected(res, "vehicle", vin)
}

func (s *SQLiteStore) CacheStats(ctx context.Context, now time.Time) (*model.CacheStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT search_source,
			COUNT(*),
			COALESCE(SUM(CASE WHEN is_active = 1 AND expires_at > ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(hit_count), 0)
		 FROM vehicle_cache
		 GROUP BY search_source`,
		formatTime(now),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: cache stats")
	}
	defer rows.Close() //nolint:errcheck

	stats := newStats()
	for rows.Next() {
		var source string
		var total, fresh, hits int64
		if err := rows.Scan(&source, &total, &fresh, &hits); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cache stats")
		}
		addStats(stats, source, total, fresh, hits)
	}
	return stats, eris.Wrap(rows.Err(), "sqlite: iterate cache stats")
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM vehicle_cache WHERE expires_at <= ?`, formatTime(now))
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired vehicles")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeFormat)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
