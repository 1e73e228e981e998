package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pixelvide/ownmailer/pkg/database"
)

// DatabaseFailedJobProvider implements queue.FailedJobProvider using a SQL database
type DatabaseFailedJobProvider struct {
	db      *sql.DB
	table   string
	dialect database.Dialect
	now     func() time.Time
}

// NewDatabaseFailedJobProvider creates a new provider
func NewDatabaseFailedJobProvider(db *sql.DB, tableName string, connection string) *DatabaseFailedJobProvider {
	if tableName == "" {
		tableName = "failed_jobs"
	}
	dialect := database.DialectFor(connection)
	if dialect == "" {
		dialect = database.SQLite
	}
	return &DatabaseFailedJobProvider{
		db:      db,
		table:   tableName,
		dialect: dialect,
		now:     time.Now,
	}
}

// Migrate creates the failed jobs table.
func (p *DatabaseFailedJobProvider) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id %s,
		uuid VARCHAR(64) NOT NULL UNIQUE,
		connection %s NOT NULL,
		queue %s NOT NULL,
		payload %s NOT NULL,
		exception %s NOT NULL,
		failed_at BIGINT NOT NULL
		)`, p.table, p.dialect.AutoIncrement(), p.dialect.Text(), p.dialect.Text(), p.dialect.Text(), p.dialect.Text())
	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("migrate %s: %w", p.table, err)
	}
	return nil
}

// Log records a failed job to the database
func (p *DatabaseFailedJobProvider) Log(ctx context.Context, connection string, queue string, payload []byte, exception string) error {
	query := p.dialect.Rebind(`INSERT INTO ` + p.table + ` (uuid, connection, queue, payload, exception, failed_at) VALUES (?, ?, ?, ?, ?, ?)`)

	_, err := p.db.ExecContext(ctx, query, uuid.NewString(), connection, queue, payload, exception, p.now().Unix())
	return err
}
