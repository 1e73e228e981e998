package database

import (
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/pixelvide/ownmailer/pkg/config"
	_ "modernc.org/sqlite"
)

// Factory opens pooled connections for the configured dialect.
type Factory struct {
	MaxOpen     int
	MaxLifetime time.Duration
}

func NewFactory() *Factory {
	return &Factory{MaxOpen: 25, MaxLifetime: 5 * time.Minute}
}

// DSN returns the database/sql driver name and data source for cfg.
func DSN(cfg config.DatabaseConfig) (string, string, error) {
	switch DialectFor(cfg.Connection) {
	case MySQL:
		mc := mysql.NewConfig()
		mc.User = cfg.Username
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(cfg.Host, portOr(cfg.Port, "3306"))
		mc.DBName = cfg.Database
		mc.ParseTime = true
		mc.Loc = time.Local
		return "mysql", mc.FormatDSN(), nil
	case Postgres:
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(cfg.Username, cfg.Password),
			Host:     net.JoinHostPort(cfg.Host, portOr(cfg.Port, "5432")),
			Path:     "/" + cfg.Database,
			RawQuery: "sslmode=disable",
		}
		return "postgres", u.String(), nil
	case SQLite:
		if cfg.Database == "" {
			return "sqlite", ":memory:", nil
		}
		return "sqlite", cfg.Database, nil
	}
	return "", "", fmt.Errorf("unsupported database connection: %s", cfg.Connection)
}

// Connect opens and pings a database.
func (f *Factory) Connect(cfg config.DatabaseConfig) (*sql.DB, error) {
	driverName, dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}

	if DialectFor(cfg.Connection) == SQLite {
		// one connection keeps :memory: shared and serializes writers
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(f.MaxOpen)
		db.SetMaxIdleConns(f.MaxOpen)
		db.SetConnMaxLifetime(f.MaxLifetime)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func portOr(port, fallback string) string {
	if port == "" {
		return fallback
	}
	return port
}
