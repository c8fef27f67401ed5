package tokenstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/marcogenualdo/redsktop-proxy/internal/tokenstore/migrations"
	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create token store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// A single connection serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure sqlite: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) applyMigrations() error {
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return err
	}

	source, err := iofs.New(migrations.Migrations, ".")
	if err != nil {
		return err
	}

	instance, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return err
	}

	if err := instance.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, username string) (*UserToken, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT username, access_token, refresh_token, expires_at, scope, updated_at
		FROM user_tokens WHERE username = ?`, username)

	var (
		tok       UserToken
		expiresAt int64
		updatedAt int64
	)
	err := row.Scan(&tok.Username, &tok.AccessToken, &tok.RefreshToken, &expiresAt, &tok.Scope, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read user token: %w", err)
	}

	tok.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	tok.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &tok, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, token UserToken) error {
	if token.Username == "" {
		return errors.New("username is required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_tokens (username, access_token, refresh_token, expires_at, scope, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			scope = excluded.scope,
			updated_at = excluded.updated_at`,
		token.Username,
		token.AccessToken,
		token.RefreshToken,
		token.ExpiresAt.Unix(),
		token.Scope,
		s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user token: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, username string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_tokens WHERE username = ?`, username); err != nil {
		return fmt.Errorf("failed to delete user token: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
