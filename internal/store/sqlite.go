package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/BTreeMap/FlowPipe/internal/logx"
	"github.com/BTreeMap/FlowPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore implements SessionStore and MessageLog on a local database file.
type SQLiteStore struct {
	db   *sql.DB
	opts Opts
}

var (
	_ SessionStore = (*SQLiteStore)(nil)
	_ MessageLog   = (*SQLiteStore)(nil)
	_ Sweeper      = (*SQLiteStore)(nil)
)

// NewSQLiteStore opens the database file named by the DSN, creating its
// directory when missing, and applies migrations.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	cfg := applyOpts(opts)
	logx.Debug().Bool("dsn_set", cfg.DSN != "").Msg("NewSQLiteStore invoked")

	dsn := cfg.DSN
	if dsn == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		logx.Error().Err(err).Str("dir", dir).Msg("Failed to create database directory")
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		logx.Error().Err(err).Msg("Failed to open SQLite connection")
		return nil, err
	}
	// A single writer avoids SQLITE_BUSY between concurrent dispatches.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		logx.Error().Err(err).Msg("SQLite ping failed")
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		logx.Error().Err(err).Msg("Failed to run migrations")
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	logx.Debug().Str("dir", dir).Msg("SQLite migrations applied successfully")

	return &SQLiteStore{db: db, opts: cfg}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, userID string) (*models.SessionState, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE user_id = ?`, userID)
	st, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session failed: %w", err)
	}
	if st.Expired(s.opts.Now()) {
		logx.Ctx(ctx).Debug().Str("event", "session_expired").Str("user_id", userID).Msg("SQLiteStore.Get: expired session removed")
		if err := s.Delete(ctx, userID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return st, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, state *models.SessionState) error {
	st := stamp(state, s.opts.Now(), s.opts.TTL)
	data, err := encodeData(st.Data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		st.UserID, st.Instance, nilIfEmpty(string(st.Flow())), nilIfEmpty(st.Subroute()), st.Step, data, st.UpdatedAt, st.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("upsert session failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete session failed: %w", err)
	}
	return nil
}

// DeleteExpired removes every session whose expiry has passed.
func (s *SQLiteStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, s.opts.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions failed: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	err := s.db.Close()
	if err != nil {
		logx.Error().Err(err).Msg("Failed to close SQLite database")
	}
	return err
}
