package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pixelvide/ownmailer/pkg/database"
	"github.com/pixelvide/ownmailer/pkg/email"
)

// SQLStore keeps each email as a JSON document next to a few indexed
// columns used for lookups and listing. The status column is a projection
// for filtering; the status returned to callers is always folded from the
// stored log.
type SQLStore struct {
	db      *sql.DB
	table   string
	dialect database.Dialect
}

// NewSQLStore creates a store on db. connection is the configured connection
// name (sqlite, mysql, pgsql).
func NewSQLStore(db *sql.DB, table string, connection string) *SQLStore {
	if table == "" {
		table = "emails"
	}
	dialect := database.DialectFor(connection)
	if dialect == "" {
		dialect = database.SQLite
	}
	return &SQLStore{db: db, table: table, dialect: dialect}
}

func (s *SQLStore) q(query string) string {
	return s.dialect.Rebind(strings.ReplaceAll(query, "{table}", s.table))
}

func (s *SQLStore) Migrate(ctx context.Context) error {
	idx := ""
	if s.dialect == database.MySQL {
		idx = ",\n\t\tINDEX idx_{table}_status (status)"
	}
	statements := []string{fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS {table} (
		seq %s,
		id VARCHAR(64) NOT NULL UNIQUE,
		external_id VARCHAR(255) NULL UNIQUE,
		status VARCHAR(32) NOT NULL,
		from_addr VARCHAR(512) NOT NULL,
		subject VARCHAR(1024) NOT NULL,
		recipients %s NOT NULL,
		data %s NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL%s
		)`, s.dialect.AutoIncrement(), s.dialect.Text(), s.dialect.Text(), idx)}
	if s.dialect != database.MySQL {
		statements = append(statements, `CREATE INDEX IF NOT EXISTS idx_{table}_status ON {table} (status)`)
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, s.q(stmt)); err != nil {
			return email.NewStoreError("migrate "+s.table, err)
		}
	}
	return nil
}

type row struct {
	externalID sql.NullString
	status     string
	from       string
	subject    string
	recipients string
	data       []byte
	createdAt  int64
	updatedAt  int64
}

func toRow(e *email.Email) (row, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return row{}, email.NewStoreError("encode email "+e.ID, err)
	}
	var addrs []string
	addrs = append(addrs, e.To...)
	addrs = append(addrs, e.Cc...)
	addrs = append(addrs, e.Bcc...)
	return row{
		externalID: sql.NullString{String: e.ExternalID, Valid: e.ExternalID != ""},
		status:     string(e.Status()),
		from:       e.From,
		subject:    e.Subject,
		recipients: strings.ToLower(strings.Join(addrs, "\n")),
		data:       data,
		createdAt:  e.CreatedAt.Unix(),
		updatedAt:  e.UpdatedAt.Unix(),
	}, nil
}

func decode(data []byte) (*email.Email, error) {
	var e email.Email
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, email.NewStoreError("decode stored email", err)
	}
	return &e, nil
}

func isDuplicate(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

func (s *SQLStore) Create(ctx context.Context, e *email.Email) (*email.Email, error) {
	r, err := toRow(e)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO {table} (id, external_id, status, from_addr, subject, recipients, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ID, r.externalID, r.status, r.from, r.subject, r.recipients, r.data, r.createdAt, r.updatedAt)
	if err != nil {
		if isDuplicate(err) {
			return nil, email.NewConflictError("email "+e.ID+" already exists", err)
		}
		return nil, email.NewStoreError("insert email "+e.ID, err)
	}
	return e.Clone(), nil
}

func (s *SQLStore) getBy(ctx context.Context, column, value string) (*email.Email, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, s.q(`SELECT data FROM {table} WHERE `+column+` = ?`), value).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, email.NewNotFoundError(fmt.Sprintf("no email with %s %s", column, value), nil)
	}
	if err != nil {
		return nil, email.NewStoreError("load email", err)
	}
	return decode(data)
}

func (s *SQLStore) Get(ctx context.Context, id string) (*email.Email, error) {
	return s.getBy(ctx, "id", id)
}

func (s *SQLStore) GetByExternalID(ctx context.Context, externalID string) (*email.Email, error) {
	return s.getBy(ctx, "external_id", externalID)
}

func (s *SQLStore) AppendLog(ctx context.Context, id string, fn Mutation) (*email.Email, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, email.NewStoreError("begin transaction", err)
	}
	defer tx.Rollback()

	var data []byte
	err = tx.QueryRowContext(ctx, s.q(`SELECT data FROM {table} WHERE id = ?`+s.dialect.ForUpdate()), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, email.NewStoreError("lock email "+id, err)
	}

	e, err := decode(data)
	if err != nil {
		return nil, err
	}
	if err := fn(e); err != nil {
		if errors.Is(err, ErrNoChange) {
			return decode(data)
		}
		return nil, err
	}

	r, err := toRow(e)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, s.q(`
		UPDATE {table} SET external_id = ?, status = ?, data = ?, updated_at = ?
		WHERE id = ?`),
		r.externalID, r.status, r.data, r.updatedAt, id)
	if err != nil {
		if isDuplicate(err) {
			return nil, email.NewConflictError("external id "+e.ExternalID+" already belongs to an email", err)
		}
		return nil, email.NewStoreError("update email "+id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, email.NewStoreError("commit email "+id, err)
	}
	return e, nil
}

// likeEscaper makes a search term match literally inside LIKE ... ESCAPE '!'.
// A backslash escape would itself need escaping in MySQL string literals.
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func (s *SQLStore) List(ctx context.Context, f Filter) (Page, error) {
	limit := limitOf(f)

	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Cursor > 0 {
		where = append(where, "seq < ?")
		args = append(args, f.Cursor)
	}
	if f.Search != "" {
		term := "%" + likeEscaper.Replace(strings.ToLower(f.Search)) + "%"
		where = append(where, "(LOWER(id) LIKE ? ESCAPE '!' OR LOWER(from_addr) LIKE ? ESCAPE '!' OR LOWER(subject) LIKE ? ESCAPE '!' OR recipients LIKE ? ESCAPE '!')")
		args = append(args, term, term, term, term)
	}

	query := `SELECT seq, data FROM {table}`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC LIMIT ?"
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return Page{}, email.NewStoreError("list emails", err)
	}
	defer rows.Close()

	page := Page{Data: make([]*email.Email, 0, limit)}
	var last int64
	for rows.Next() {
		var (
			seq  int64
			data []byte
		)
		if err := rows.Scan(&seq, &data); err != nil {
			return Page{}, email.NewStoreError("scan email", err)
		}
		if len(page.Data) == limit {
			page.HasMore = true
			page.NextCursor = last
			break
		}
		e, err := decode(data)
		if err != nil {
			return Page{}, err
		}
		page.Data = append(page.Data, e)
		last = seq
	}
	if err := rows.Err(); err != nil {
		return Page{}, email.NewStoreError("list emails", err)
	}
	return page, nil
}
