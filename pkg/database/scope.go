package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx shared by pooled connections and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Scope wraps the connection acquired for one request and, while a
// transaction is open, the transaction running on it.
type Scope struct {
	Conn *pgxpool.Conn
	tx   pgx.Tx
}

// Q returns the transaction when one is open, otherwise the connection.
func (s *Scope) Q() Querier {
	if s.tx != nil {
		return s.tx
	}
	return s.Conn
}

// InTx returns true if the scope is running a transaction.
func (s *Scope) InTx() bool {
	return s.tx != nil
}

// Close releases the connection to the pool.
// This MUST be called once the request is done with the scope.
func (s *Scope) Close() {
	if s.Conn == nil {
		return
	}
	s.Conn.Release()
}

// Acquire takes a connection from the pool for the duration of a request.
// The returned Scope MUST be closed with defer scope.Close().
func (db *DB) Acquire(ctx context.Context) (*Scope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &Scope{Conn: conn}, nil
}

// RunInTx runs fn inside a read-write transaction on the scope found in ctx.
// If ctx is already inside a transaction, fn joins it.
func RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return runTx(ctx, pgx.TxOptions{}, fn)
}

// ReadSnapshot runs fn inside a read-only REPEATABLE READ transaction so that
// every query issued by fn sees the same committed data.
func ReadSnapshot(ctx context.Context, fn func(ctx context.Context) error) error {
	return runTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, fn)
}

func runTx(ctx context.Context, opts pgx.TxOptions, fn func(ctx context.Context) error) error {
	scope, ok := GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}
	if scope.InTx() {
		return fn(ctx)
	}

	tx, err := scope.Conn.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	txCtx := SetScope(ctx, &Scope{Conn: scope.Conn, tx: tx})
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
