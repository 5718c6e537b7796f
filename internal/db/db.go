package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect is the SQL flavour behind a DSN.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

const sqliteScheme = "sqlite://"

// DialectFor picks the dialect from the DSN scheme.
func DialectFor(dsn string) (Dialect, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return "", errors.New("db: empty DSN")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return Postgres, nil
	case strings.HasPrefix(dsn, sqliteScheme):
		return SQLite, nil
	default:
		return "", fmt.Errorf("db: unsupported DSN scheme in %q (want postgres:// or sqlite://)", redact(dsn))
	}
}

// Open opens and pings the database behind dsn. Caller must call Close when done.
func Open(dsn string) (*sql.DB, Dialect, error) {
	dialect, err := DialectFor(dsn)
	if err != nil {
		return nil, "", err
	}
	var conn *sql.DB
	switch dialect {
	case Postgres:
		conn, err = sql.Open("pgx", dsn)
	case SQLite:
		conn, err = sql.Open("sqlite", strings.TrimPrefix(strings.TrimSpace(dsn), sqliteScheme))
		if err == nil {
			// SQLite serializes writers; one connection avoids SQLITE_BUSY under concurrent sessions.
			conn.SetMaxOpenConns(1)
		}
	}
	if err != nil {
		return nil, "", err
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, "", err
	}
	return conn, dialect, nil
}

// Rebind rewrites ? placeholders to $n for Postgres. Queries must not contain literal '?'.
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

func redact(dsn string) string {
	if i := strings.Index(dsn, "@"); i >= 0 {
		if j := strings.Index(dsn, "://"); j >= 0 && j < i {
			return dsn[:j+3] + "***" + dsn[i:]
		}
	}
	return dsn
}
