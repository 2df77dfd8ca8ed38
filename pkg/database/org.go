package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx operations repositories use. Both a pooled
// connection and a transaction satisfy it, so repository code is identical
// inside and outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// OrgScope wraps a connection with organization context and ensures cleanup.
// The connection has app.current_org_id set for RLS policy evaluation.
type OrgScope struct {
	Conn Querier

	conn *pgxpool.Conn
}

// Close resets the org context and releases the connection to the pool.
// This MUST be called to prevent org context from leaking to the next request.
func (s *OrgScope) Close() {
	if s.conn == nil {
		return
	}
	_, _ = s.conn.Exec(context.Background(), "RESET app.current_org_id")
	s.conn.Release()
}

// WithTx runs fn inside a transaction on this scope's connection. fn receives
// a scope whose Conn is the transaction; repository calls through it commit or
// roll back together. A scope built around a bare Querier (a transaction
// already in progress, or a fake in tests) has no pooled connection and runs
// fn on itself.
func (s *OrgScope) WithTx(ctx context.Context, fn func(txScope *OrgScope) error) error {
	if s.conn == nil {
		return fn(s)
	}
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&OrgScope{Conn: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && rbErr != pgx.ErrTxClosed {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// WithOrg acquires a connection and sets the organization context for RLS.
// The returned OrgScope MUST be closed with defer scope.Close().
func (db *DB) WithOrg(ctx context.Context, orgID uuid.UUID) (*OrgScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	_, err = conn.Exec(ctx, "SELECT set_config('app.current_org_id', $1, false)", orgID.String())
	if err != nil {
		conn.Release()
		return nil, err
	}

	return &OrgScope{Conn: conn, conn: conn}, nil
}

// WithoutOrg acquires a connection without organization context.
// Use this for cross-org operations like the expiration sweep.
// The returned OrgScope MUST be closed with defer scope.Close().
func (db *DB) WithoutOrg(ctx context.Context) (*OrgScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &OrgScope{Conn: conn, conn: conn}, nil
}
