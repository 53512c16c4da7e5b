package services

import (
	"context"

	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/database"
)

// TxFunc runs fn inside one database transaction. If fn returns an error the
// transaction is rolled back and nothing fn wrote is kept.
type TxFunc func(ctx context.Context, fn func(ctx context.Context) error) error

// ScopeFunc acquires a database scope of its own for work that runs
// concurrently with the request that started it.
// Returns the scoped context, a cleanup function (MUST be called), and any error.
type ScopeFunc func(ctx context.Context) (context.Context, func(), error)

// NewScopeFunc creates a ScopeFunc that uses the given database.
func NewScopeFunc(db *database.DB) ScopeFunc {
	provider := database.NewScopeProvider(db)
	return provider.WithScope
}

// Default transaction runners backed by the request-scoped connection.
var (
	RunInTx      TxFunc = database.RunInTx
	ReadSnapshot TxFunc = database.ReadSnapshot
)
