// Package sqlitestore provides a durable SQLite-backed counter store.
//
// It is intended for single-instance deployments that must not forget
// current-period consumption across restarts. Every operation runs inside
// an immediate transaction, so the check-and-mutate pairs are atomic even
// under concurrent connections.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"tollgate-ai/tollgate/pkg/store"
)

// Config configures the SQLite backend.
type Config struct {
	// Path is the database file path.
	Path string

	// BusyTimeout is how long SQLite waits on a locked database.
	// Default: 5 seconds.
	BusyTimeout time.Duration
}

// Backend is a SQLite-backed store.Backend.
type Backend struct {
	db *sql.DB
}

var _ store.Backend = (*Backend)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS windows (
	key          TEXT PRIMARY KEY,
	window_start INTEGER NOT NULL,
	count        INTEGER NOT NULL,
	touched      INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS counters (
	key      TEXT PRIMARY KEY,
	used     INTEGER NOT NULL,
	reserved INTEGER NOT NULL,
	touched  INTEGER NOT NULL
);
`

// New opens (creating if necessary) the database at cfg.Path and prepares
// the schema. WAL mode is enabled for concurrent read performance.
func New(cfg Config) (*Backend, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlitestore: path is required")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %q: %w", cfg.Path, err)
	}

	// A single connection serializes transactions, which is what makes the
	// read-modify-write pairs below atomic without SQLITE_BUSY retries.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: init schema: %w", err)
	}

	return &Backend{db: db}, nil
}

// withTx runs fn inside an immediate transaction and maps connection
// failures to store.ErrUnavailable.
func (b *Backend) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

// IncrWindow implements store.Backend.
func (b *Backend) IncrWindow(ctx context.Context, key string, windowStart int64, limit int64) (int64, bool, error) {
	var count int64
	var allowed bool

	err := b.withTx(ctx, func(tx *sql.Tx) error {
		var ws int64
		err := tx.QueryRowContext(ctx,
			`SELECT window_start, count FROM windows WHERE key = ?`, key).Scan(&ws, &count)
		switch {
		case err == sql.ErrNoRows:
			ws, count = windowStart, 0
		case err != nil:
			return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}

		if ws != windowStart {
			ws, count = windowStart, 0
		}
		if count+1 <= limit {
			count++
			allowed = true
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO windows (key, window_start, count, touched) VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET window_start = excluded.window_start,
				count = excluded.count, touched = excluded.touched`,
			key, ws, count, time.Now().Unix())
		if err != nil {
			return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
		return nil
	})
	return count, allowed, err
}

// Reserve implements store.Backend.
func (b *Backend) Reserve(ctx context.Context, key string, amount, limit int64) (store.Counter, bool, error) {
	var c store.Counter
	var ok bool

	err := b.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT used, reserved FROM counters WHERE key = ?`, key).Scan(&c.Used, &c.Reserved)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}

		if c.Used+c.Reserved+amount > limit {
			return nil
		}
		c.Reserved += amount
		ok = true
		return b.upsertCounter(ctx, tx, key, c)
	})
	return c, ok, err
}

// Consume implements store.Backend.
func (b *Backend) Consume(ctx context.Context, key string, reservedAmount, actualAmount int64) error {
	return b.withTx(ctx, func(tx *sql.Tx) error {
		var c store.Counter
		err := tx.QueryRowContext(ctx,
			`SELECT used, reserved FROM counters WHERE key = ?`, key).Scan(&c.Used, &c.Reserved)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}

		c.Reserved -= reservedAmount
		if c.Reserved < 0 {
			c.Reserved = 0
		}
		c.Used += actualAmount
		return b.upsertCounter(ctx, tx, key, c)
	})
}

// Release implements store.Backend.
func (b *Backend) Release(ctx context.Context, key string, reservedAmount int64) error {
	return b.withTx(ctx, func(tx *sql.Tx) error {
		var c store.Counter
		err := tx.QueryRowContext(ctx,
			`SELECT used, reserved FROM counters WHERE key = ?`, key).Scan(&c.Used, &c.Reserved)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}

		c.Reserved -= reservedAmount
		if c.Reserved < 0 {
			c.Reserved = 0
		}
		return b.upsertCounter(ctx, tx, key, c)
	})
}

func (b *Backend) upsertCounter(ctx context.Context, tx *sql.Tx, key string, c store.Counter) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO counters (key, used, reserved, touched) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET used = excluded.used,
			reserved = excluded.reserved, touched = excluded.touched`,
		key, c.Used, c.Reserved, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

// Get implements store.Backend.
func (b *Backend) Get(ctx context.Context, key string) (store.Counter, error) {
	var c store.Counter
	err := b.db.QueryRowContext(ctx,
		`SELECT used, reserved FROM counters WHERE key = ?`, key).Scan(&c.Used, &c.Reserved)
	if err == sql.ErrNoRows {
		return store.Counter{}, nil
	}
	if err != nil {
		return store.Counter{}, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return c, nil
}

// DeleteBefore implements store.Backend.
func (b *Backend) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	cut := cutoff.Unix()
	var removed int64

	res, err := b.db.ExecContext(ctx, `DELETE FROM counters WHERE touched < ?`, cut)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if n, err := res.RowsAffected(); err == nil {
		removed += n
	}

	res, err = b.db.ExecContext(ctx, `DELETE FROM windows WHERE touched < ?`, cut)
	if err != nil {
		return removed, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if n, err := res.RowsAffected(); err == nil {
		removed += n
	}
	return removed, nil
}

// Close implements store.Backend.
func (b *Backend) Close() error {
	return b.db.Close()
}
