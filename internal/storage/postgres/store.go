// Package postgres implements storage.Store on PostgreSQL via pgx/v5.
// Queries are hand-written; nullable columns scan into pointer fields.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quorumlabs/identity/internal/storage"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx so every repository
// works inside and outside transactions.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the production storage.Store backed by a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
	db   dbtx
}

// New connects a pool and verifies it with a ping.
func New(ctx context.Context, dsn string) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &Store{pool: pool, db: pool}, nil
}

func (s *Store) Users() storage.Users                 { return &usersRepo{db: s.db} }
func (s *Store) Organizations() storage.Organizations { return &organizationsRepo{db: s.db} }
func (s *Store) Invites() storage.Invites             { return &invitesRepo{db: s.db} }
func (s *Store) RefreshTokens() storage.RefreshTokens { return &refreshTokensRepo{db: s.db} }

// WithTx runs fn against a transaction-scoped Store.
func (s *Store) WithTx(ctx context.Context, fn func(tx storage.Store) error) error {
	if s.pool == nil {
		// Already inside a transaction; pgx has no nested transactions
		// without savepoints, so reuse the current scope.
		return fn(s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	scoped := &Store{db: tx}
	if err := fn(scoped); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// mapErr converts pgx-level failures to the storage sentinels. 23505 is the
// Postgres unique_violation code.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return storage.ErrConflict
	}
	return err
}
