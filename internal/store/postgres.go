package store

import (
	"context"
	"embed"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/vehicle-resolver/internal/db"
	"github.com/sells-group/vehicle-resolver/internal/model"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying pool for subsystems that need direct query
// access (the secret source).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return db.Migrate(ctx, s.pool, migrationFS, "migrations")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) GetVehicle(ctx context.Context, vin string) (*model.CacheEntry, error) {
	var e model.CacheEntry
	var source string
	var response []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, vin, response, listing_id, search_source, cached_at, last_verified_at, expires_at, is_active, hit_count
		 FROM vehicle_cache WHERE vin = $1`,
		vin,
	).Scan(&e.ID, &e.VIN, &response, &e.ListingID, &source, &e.CachedAt, &e.LastVerifiedAt, &e.ExpiresAt, &e.IsActive, &e.HitCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get vehicle %s", vin)
	}
	e.Response = response
	e.SearchSource = model.SearchSource(source)
	return &e, nil
}

func (s *PostgresStore) UpsertVehicle(ctx context.Context, entry model.CacheEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO vehicle_cache (id, vin, response, listing_id, search_source, cached_at, last_verified_at, expires_at, is_active, hit_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0)
		 ON CONFLICT (vin) DO UPDATE SET
			response = EXCLUDED.response,
			listing_id = EXCLUDED.listing_id,
			search_source = EXCLUDED.search_source,
			cached_at = EXCLUDED.cached_at,
			last_verified_at = EXCLUDED.last_verified_at,
			expires_at = EXCLUDED.expires_at,
			is_active = EXCLUDED.is_active`,
		entry.ID, entry.VIN, []byte(entry.Response), entry.ListingID, string(entry.SearchSource),
		entry.CachedAt, entry.LastVerifiedAt, entry.ExpiresAt, entry.IsActive,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert vehicle %s", entry.VIN)
	}
	return nil
}

func (s *PostgresStore) RecordHit(ctx context.Context, vin string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE vehicle_cache SET hit_count = hit_count + 1, last_verified_at = $1 WHERE vin = $2`,
		at, vin,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: record hit %s", vin)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: vehicle not found: %s", vin)
	}
	return nil
}

func (s *PostgresStore) CacheStats(ctx context.Context, now time.Time) (*model.CacheStats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT search_source,
			COUNT(*),
			COUNT(*) FILTER (WHERE is_active AND expires_at > $1),
			COALESCE(SUM(hit_count), 0)
		 FROM vehicle_cache
		 GROUP BY search_source`,
		now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: cache stats")
	}
	defer rows.Close()

	stats := newStats()
	for rows.Next() {
		var source string
		var total, fresh, hits int64
		if err := rows.Scan(&source, &total, &fresh, &hits); err != nil {
			return nil, eris.Wrap(err, "postgres: scan cache stats")
		}
		addStats(stats, source, total, fresh, hits)
	}
	return stats, eris.Wrap(rows.Err(), "postgres: iterate cache stats")
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM vehicle_cache WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired vehicles")
	}
	return int(tag.RowsAffected()), nil
}

func addStats(stats *model.CacheStats, source string, total, fresh, hits int64) {
	stats.Entries += int(total)
	stats.Fresh += int(fresh)
	stats.Expired += int(total - fresh)
	stats.TotalHits += int(hits)
	stats.BySource[model.SearchSource(source)] += int(total)
}
