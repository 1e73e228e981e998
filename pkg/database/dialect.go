package database

import (
	"strconv"
	"strings"
)

// Dialect is the SQL flavour spoken by a connection.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	MySQL    Dialect = "mysql"
	Postgres Dialect = "postgres"
)

// DialectFor maps a connection name from configuration to its dialect.
// Unknown names yield "".
func DialectFor(connection string) Dialect {
	switch strings.ToLower(connection) {
	case "sqlite", "sqlite3":
		return SQLite
	case "mysql", "mariadb":
		return MySQL
	case "pgsql", "postgres", "postgresql", "pq":
		return Postgres
	}
	return ""
}

// Rebind rewrites ? placeholders into the form the dialect expects.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Quote quotes an identifier.
func (d Dialect) Quote(identifier string) string {
	if d == MySQL {
		return "`" + identifier + "`"
	}
	return `"` + identifier + `"`
}

// ForUpdate returns the row locking suffix for a SELECT inside a
// transaction. SQLite serializes writers and has no such clause.
func (d Dialect) ForUpdate() string {
	if d == SQLite {
		return ""
	}
	return " FOR UPDATE"
}

// AutoIncrement returns the column definition of an auto-incrementing
// primary key.
func (d Dialect) AutoIncrement() string {
	switch d {
	case MySQL:
		return "BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY"
	case Postgres:
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

// Text returns the column type for unbounded text.
func (d Dialect) Text() string {
	if d == MySQL {
		return "LONGTEXT"
	}
	return "TEXT"
}
