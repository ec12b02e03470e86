package cache

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// Pool is the subset of pgxpool.Pool the cache needs. pgxmock satisfies it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Postgres is a shared cache backend for multi-instance serve deployments.
type Postgres struct {
	pool Pool
	ttls TTLs
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS response_cache (
	key        TEXT PRIMARY KEY,
	val        BYTEA NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_response_cache_expiry ON response_cache(expires_at);
`

// NewPostgres connects a pool and migrates the cache table.
func NewPostgres(ctx context.Context, connString string, ttls TTLs) (*Postgres, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "cache: postgres parse config")
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "cache: postgres create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "cache: postgres ping")
	}

	p := &Postgres{pool: pool, ttls: ttls}
	if _, err := pool.Exec(ctx, postgresMigration); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "cache: postgres migrate")
	}
	return p, nil
}

// Get implements Cache.
func (p *Postgres) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var val []byte
	err := p.pool.QueryRow(ctx,
		`SELECT val FROM response_cache WHERE key = $1 AND expires_at > now()`, key,
	).Scan(&val)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "cache: postgres get")
	}
	return val, true, nil
}

// Set implements Cache.
func (p *Postgres) Set(ctx context.Context, key string, val []byte, tier TTLTier) error {
	expiresAt := time.Now().Add(p.ttls.For(tier))
	_, err := p.pool.Exec(ctx,
		`INSERT INTO response_cache (key, val, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET val = excluded.val, expires_at = excluded.expires_at`,
		key, val, expiresAt,
	)
	if err != nil {
		return eris.Wrap(err, "cache: postgres set")
	}
	return nil
}

// DeleteExpired drops expired rows and returns how many were removed.
func (p *Postgres) DeleteExpired(ctx context.Context) (int, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM response_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "cache: postgres delete expired")
	}
	return int(tag.RowsAffected()), nil
}

// Close implements Cache.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
