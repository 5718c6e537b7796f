package tokenstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"storefront/internal/db"
)

const (
	selectTokenSQL = `SELECT token FROM access_tokens WHERE scope = ? AND storage_key = ?`
	deleteTokenSQL = `DELETE FROM access_tokens WHERE scope = ? AND storage_key = ?`
	upsertTokenSQL = `INSERT INTO access_tokens (scope, storage_key, token, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT (scope, storage_key) DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at`
	purgeTokensSQL = `DELETE FROM access_tokens WHERE updated_at < ?`
)

// SQLBackend stores tokens in the access_tokens table (Postgres or SQLite).
// Database errors are logged; reads degrade to "no token".
type SQLBackend struct {
	db      *sql.DB
	dialect db.Dialect
	logger  *zap.Logger
	nowF    func() time.Time
}

// NewSQLBackend returns a backend over an open database. The schema comes from the db migrations.
func NewSQLBackend(conn *sql.DB, dialect db.Dialect, logger *zap.Logger) *SQLBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLBackend{
		db:      conn,
		dialect: dialect,
		logger:  logger.Named("tokenstore"),
		nowF:    func() time.Time { return time.Now().UTC() },
	}
}

// Scoped returns the store for scope.
func (b *SQLBackend) Scoped(scope string) Store {
	return &sqlStore{b: b, scope: scope}
}

// Purge deletes tokens not written since before.
func (b *SQLBackend) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := b.db.ExecContext(ctx, b.dialect.Rebind(purgeTokensSQL), before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type sqlStore struct {
	b     *SQLBackend
	scope string
}

func (s *sqlStore) Get(ctx context.Context) (string, bool) {
	var token string
	err := s.b.db.QueryRowContext(ctx, s.b.dialect.Rebind(selectTokenSQL), s.scope, StorageKey).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false
	}
	if err != nil {
		s.b.logger.Warn("read access token", zap.String("scope", s.scope), zap.Error(err))
		return "", false
	}
	return token, token != ""
}

func (s *sqlStore) Set(ctx context.Context, token string) {
	// A clear must land even when the request that triggered it is gone.
	ctx = context.WithoutCancel(ctx)
	var err error
	if token == "" {
		_, err = s.b.db.ExecContext(ctx, s.b.dialect.Rebind(deleteTokenSQL), s.scope, StorageKey)
	} else {
		_, err = s.b.db.ExecContext(ctx, s.b.dialect.Rebind(upsertTokenSQL), s.scope, StorageKey, token, s.b.nowF())
	}
	if err != nil {
		s.b.logger.Warn("write access token", zap.String("scope", s.scope), zap.Bool("clear", token == ""), zap.Error(err))
	}
}
