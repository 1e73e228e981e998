package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pixelvide/ownmailer/pkg/database"
)

type DatabaseStore struct {
	db      *sql.DB
	table   string
	dialect database.Dialect
	now     func() time.Time
}

// NewDatabaseStore creates a new database cache store.
// connection is the configured database connection (sqlite, mysql, pgsql).
func NewDatabaseStore(db *sql.DB, table string, connection string) *DatabaseStore {
	if table == "" {
		table = "cache"
	}
	return &DatabaseStore{db: db, table: table, dialect: database.DialectFor(connection), now: time.Now}
}

func (s *DatabaseStore) query(q string, args ...any) string {
	return s.dialect.Rebind(fmt.Sprintf(q, args...))
}

// Migrate creates the cache table.
func (s *DatabaseStore) Migrate(ctx context.Context) error {
	q := s.query(`CREATE TABLE IF NOT EXISTS %s (%s VARCHAR(255) NOT NULL PRIMARY KEY, value %s NOT NULL, expiration BIGINT NOT NULL)`,
		s.table, s.dialect.Quote("key"), s.dialect.Text())
	_, err := s.db.ExecContext(ctx, q)
	return err
}

func (s *DatabaseStore) Get(ctx context.Context, key string) (string, error) {
	q := s.query("SELECT value FROM %s WHERE %s = ? AND expiration >= ?", s.table, s.dialect.Quote("key"))

	var value string
	err := s.db.QueryRowContext(ctx, q, key, s.now().Unix()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrMiss
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *DatabaseStore) Put(ctx context.Context, key string, value string, ttl time.Duration) error {
	expiration := s.now().Add(ttl).Unix()

	// delete then insert keeps one statement shape across dialects
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	del := s.query("DELETE FROM %s WHERE %s = ?", s.table, s.dialect.Quote("key"))
	if _, err := tx.ExecContext(ctx, del, key); err != nil {
		return err
	}

	ins := s.query("INSERT INTO %s (%s, value, expiration) VALUES (?, ?, ?)", s.table, s.dialect.Quote("key"))
	if _, err := tx.ExecContext(ctx, ins, key, value, expiration); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *DatabaseStore) Forget(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, s.query("DELETE FROM %s WHERE %s = ?", s.table, s.dialect.Quote("key")), key)
	return err
}

func (s *DatabaseStore) Flush(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.query("DELETE FROM %s", s.table))
	return err
}
