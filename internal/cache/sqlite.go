package cache

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLite is a file-backed cache using modernc.org/sqlite. WAL mode keeps
// concurrent investigations from blocking each other on reads.
type SQLite struct {
	db   *sql.DB
	ttls TTLs
}

// NewSQLite opens (and migrates) a SQLite cache at the given DSN.
func NewSQLite(dsn string, ttls TTLs) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "cache: sqlite open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "cache: sqlite exec %s", pragma)
		}
	}

	const migration = `
CREATE TABLE IF NOT EXISTS response_cache (
	key        TEXT PRIMARY KEY,
	val        BLOB NOT NULL,
	expires_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_response_cache_expiry ON response_cache(expires_at);
`
	if _, err := db.Exec(migration); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "cache: sqlite migrate")
	}

	return &SQLite{db: db, ttls: ttls}, nil
}

// Get implements Cache.
func (s *SQLite) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var val []byte
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT val, expires_at FROM response_cache WHERE key = ?`, key,
	).Scan(&val, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "cache: sqlite get")
	}
	if time.Now().After(expiresAt) {
		return nil, false, nil
	}
	return val, true, nil
}

// Set implements Cache.
func (s *SQLite) Set(ctx context.Context, key string, val []byte, tier TTLTier) error {
	expiresAt := time.Now().Add(s.ttls.For(tier))
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO response_cache (key, val, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET val = excluded.val, expires_at = excluded.expires_at`,
		key, val, expiresAt,
	)
	if err != nil {
		return eris.Wrap(err, "cache: sqlite set")
	}
	return nil
}

// DeleteExpired drops expired rows and returns how many were removed.
func (s *SQLite) DeleteExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM response_cache WHERE expires_at < ?`, time.Now())
	if err != nil {
		return 0, eris.Wrap(err, "cache: sqlite delete expired")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close implements Cache.
func (s *SQLite) Close() error {
	return s.db.Close()
}
