package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/pixelvide/ownmailer/pkg/config"
	"github.com/pixelvide/ownmailer/pkg/database"
	"github.com/pixelvide/ownmailer/pkg/queue"
)

// DatabaseDriver implements queue.Driver for SQL databases. Popped jobs are
// reserved rather than deleted; Ack deletes them, and a reservation older
// than RetryAfter makes the job available again.
type DatabaseDriver struct {
	db      *sql.DB
	table   string
	dialect database.Dialect

	PollInterval time.Duration
	RetryAfter   time.Duration
	now          func() time.Time
}

// NewDatabaseDriver creates a new database driver
func NewDatabaseDriver(cfg config.QueueConfig, connection string, db *sql.DB) *DatabaseDriver {
	tableName := cfg.Table
	if tableName == "" {
		tableName = "jobs"
	}
	dialect := database.DialectFor(connection)
	if dialect == "" {
		dialect = database.SQLite
	}
	return &DatabaseDriver{
		db:           db,
		table:        tableName,
		dialect:      dialect,
		PollInterval: time.Second,
		RetryAfter:   90 * time.Second,
		now:          time.Now,
	}
}

func (d *DatabaseDriver) query(q string) string {
	return d.dialect.Rebind(fmt.Sprintf(q, d.table))
}

// Migrate creates the jobs table.
func (d *DatabaseDriver) Migrate(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %%s (
		id %s,
		queue VARCHAR(255) NOT NULL,
		payload %s NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		reserved_at BIGINT NULL,
		available_at BIGINT NOT NULL,
		created_at BIGINT NOT NULL
		)`, d.dialect.AutoIncrement(), d.dialect.Text()),
	}
	if d.dialect != database.MySQL {
		statements = append(statements, `CREATE INDEX IF NOT EXISTS idx_%[1]s_queue ON %[1]s (queue)`)
	}
	for _, stmt := range statements {
		if _, err := d.db.ExecContext(ctx, d.query(stmt)); err != nil {
			return fmt.Errorf("migrate %s: %w", d.table, err)
		}
	}
	return nil
}

// Pop polls until a job is available or ctx ends
func (d *DatabaseDriver) Pop(ctx context.Context, queueName string) (*queue.Job, error) {
	ticker := time.NewTicker(d.PollInterval)
	defer ticker.Stop()

	for {
		job, err := d.popJob(ctx, queueName)
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *DatabaseDriver) popJob(ctx context.Context, queueName string) (*queue.Job, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := d.now()
	query := d.query(`SELECT id, payload, attempts FROM %s WHERE queue = ? AND (reserved_at IS NULL OR reserved_at <= ?) AND available_at <= ? ORDER BY id ASC LIMIT 1`) + d.dialect.ForUpdate()

	var (
		id       int64
		payload  []byte
		attempts int
	)
	err = tx.QueryRowContext(ctx, query, queueName, now.Add(-d.RetryAfter).Unix(), now.Unix()).Scan(&id, &payload, &attempts)
	if err != nil {
		return nil, err
	}

	reserve := d.query(`UPDATE %s SET reserved_at = ?, attempts = attempts + 1 WHERE id = ?`)
	if _, err := tx.ExecContext(ctx, reserve, now.Unix(), id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &queue.Job{
		ID:       strconv.FormatInt(id, 10),
		Body:     payload,
		Received: attempts + 1,
	}, nil
}

// Push adds a job to the database
func (d *DatabaseDriver) Push(ctx context.Context, queueName string, body []byte) error {
	query := d.query(`INSERT INTO %s (queue, payload, attempts, available_at, created_at) VALUES (?, ?, 0, ?, ?)`)

	now := d.now().Unix()
	_, err := d.db.ExecContext(ctx, query, queueName, body, now, now)
	return err
}

// Ack deletes a reserved job
func (d *DatabaseDriver) Ack(ctx context.Context, job *queue.Job) error {
	id, err := strconv.ParseInt(job.ID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid job id %q: %w", job.ID, err)
	}
	_, err = d.db.ExecContext(ctx, d.query(`DELETE FROM %s WHERE id = ?`), id)
	return err
}
