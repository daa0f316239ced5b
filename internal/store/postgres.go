package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "embed"

	"github.com/BTreeMap/FlowPipe/internal/logx"
	"github.com/BTreeMap/FlowPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore implements SessionStore and MessageLog on PostgreSQL.
type PostgresStore struct {
	db   *sql.DB
	opts Opts
}

var (
	_ SessionStore = (*PostgresStore)(nil)
	_ MessageLog   = (*PostgresStore)(nil)
	_ Sweeper      = (*PostgresStore)(nil)
)

// NewPostgresStore connects, configures the pool and applies migrations.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	cfg := applyOpts(opts)
	logx.Debug().Bool("dsn_set", cfg.DSN != "").Msg("PostgresStore.NewPostgresStore: creating Postgres store")
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		logx.Error().Err(err).Msg("Failed to open Postgres connection")
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		logx.Error().Err(err).Msg("Postgres ping failed")
		db.Close()
		return nil, err
	}
	return newPostgresStore(db, cfg)
}

// newPostgresStore runs migrations on an open handle. Tests pass a sqlmock db.
func newPostgresStore(db *sql.DB, cfg Opts) (*PostgresStore, error) {
	if _, err := db.Exec(postgresMigrations); err != nil {
		logx.Error().Err(err).Msg("Failed to run migrations")
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	logx.Debug().Msg("Postgres migrations applied successfully")
	return &PostgresStore{db: db, opts: cfg}, nil
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (*models.SessionState, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE user_id = $1`, userID)
	st, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session failed: %w", err)
	}
	if st.Expired(s.opts.Now()) {
		logx.Ctx(ctx).Debug().Str("event", "session_expired").Str("user_id", userID).Msg("PostgresStore.Get: expired session removed")
		if err := s.Delete(ctx, userID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return st, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, state *models.SessionState) error {
	st := stamp(state, s.opts.Now(), s.opts.TTL)
	data, err := encodeData(st.Data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			instance = EXCLUDED.instance,
			active_flow = EXCLUDED.active_flow,
			active_subroute = EXCLUDED.active_subroute,
			step = EXCLUDED.step,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at,
			expires_at = EXCLUDED.expires_at`,
		st.UserID, st.Instance, nilIfEmpty(string(st.Flow())), nilIfEmpty(st.Subroute()), st.Step, data, st.UpdatedAt, st.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("upsert session failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete session failed: %w", err)
	}
	return nil
}

// DeleteExpired removes every session whose expiry has passed.
func (s *PostgresStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, s.opts.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions failed: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the Postgres connection pool.
func (s *PostgresStore) Close() error {
	err := s.db.Close()
	if err != nil {
		logx.Error().Err(err).Msg("Failed to close Postgres database")
	}
	return err
}
