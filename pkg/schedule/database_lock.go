package schedule

import (
	"context"
	"database/sql"
	"fmt"
	"hash/crc32"
	"os"
	"sync"
	"time"

	"github.com/pixelvide/ownmailer/pkg/database"
)

// DatabaseLockProvider implements LockProvider with the locking the
// database offers. MySQL uses GET_LOCK and Postgres advisory locks, both of
// which belong to a session, so the connection that took a lock is pinned
// until it is released. SQLite has neither and uses a table of expiring
// rows.
type DatabaseLockProvider struct {
	db      *sql.DB
	dialect database.Dialect
	table   string
	owner   string
	now     func() time.Time

	mu    sync.Mutex
	conns map[string]*sql.Conn
}

// NewDatabaseLockProvider creates a new database lock provider
func NewDatabaseLockProvider(db *sql.DB, connection string) *DatabaseLockProvider {
	dialect := database.DialectFor(connection)
	if dialect == "" {
		dialect = database.SQLite
	}
	host, _ := os.Hostname()
	return &DatabaseLockProvider{
		db:      db,
		dialect: dialect,
		table:   "schedule_locks",
		owner:   fmt.Sprintf("%s:%d", host, os.Getpid()),
		now:     time.Now,
		conns:   map[string]*sql.Conn{},
	}
}

// Migrate creates the lock table used by SQLite. Other dialects need none.
func (d *DatabaseLockProvider) Migrate(ctx context.Context) error {
	if d.dialect != database.SQLite {
		return nil
	}
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		name VARCHAR(255) PRIMARY KEY,
		owner VARCHAR(255) NOT NULL,
		expires_at BIGINT NOT NULL
		)`, d.table)
	if _, err := d.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("migrate %s: %w", d.table, err)
	}
	return nil
}

// GetLock attempts to acquire a lock
func (d *DatabaseLockProvider) GetLock(ctx context.Context, name string, duration time.Duration) (bool, error) {
	switch d.dialect {
	case database.MySQL:
		return d.sessionLock(ctx, name, "SELECT GET_LOCK(?, 0)", name)
	case database.Postgres:
		return d.sessionLock(ctx, name, "SELECT pg_try_advisory_lock($1)", hashName(name))
	}
	return d.rowLock(ctx, name, duration)
}

// ReleaseLock releases the lock
func (d *DatabaseLockProvider) ReleaseLock(ctx context.Context, name string) error {
	switch d.dialect {
	case database.MySQL:
		return d.sessionUnlock(ctx, name, "SELECT RELEASE_LOCK(?)", name)
	case database.Postgres:
		return d.sessionUnlock(ctx, name, "SELECT pg_advisory_unlock($1)", hashName(name))
	}
	_, err := d.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE name = ? AND owner = ?`, d.table), name, d.owner)
	return err
}

func (d *DatabaseLockProvider) sessionLock(ctx context.Context, name, query string, arg any) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, held := d.conns[name]; held {
		return false, nil
	}

	conn, err := d.db.Conn(ctx)
	if err != nil {
		return false, err
	}
	// GET_LOCK yields NULL on error; both functions yield true/1 on success
	var result sql.NullBool
	if err := conn.QueryRowContext(ctx, query, arg).Scan(&result); err != nil {
		conn.Close()
		return false, err
	}
	if !result.Valid {
		conn.Close()
		return false, fmt.Errorf("lock %s: database returned NULL", name)
	}
	if !result.Bool {
		conn.Close()
		return false, nil
	}
	d.conns[name] = conn
	return true, nil
}

func (d *DatabaseLockProvider) sessionUnlock(ctx context.Context, name, query string, arg any) error {
	d.mu.Lock()
	conn, ok := d.conns[name]
	delete(d.conns, name)
	d.mu.Unlock()
	if !ok {
		return nil
	}
	defer conn.Close()

	var result sql.NullBool
	return conn.QueryRowContext(ctx, query, arg).Scan(&result)
}

// rowLock inserts the lock row or takes over an expired one.
func (d *DatabaseLockProvider) rowLock(ctx context.Context, name string, duration time.Duration) (bool, error) {
	now := d.now()
	query := fmt.Sprintf(`INSERT INTO %[1]s (name, owner, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE %[1]s.expires_at <= ?`, d.table)
	res, err := d.db.ExecContext(ctx, query, name, d.owner, now.Add(duration).Unix(), now.Unix())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// hashName maps a lock name to the bigint key advisory locks take.
func hashName(name string) int64 {
	return int64(crc32.ChecksumIEEE([]byte(name)))
}
