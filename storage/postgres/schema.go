package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// schemaLockID keys the advisory lock held while the schema is applied.
const schemaLockID int64 = 0x646f6e6f72687562

// EnsureSchema creates the records and sequences tables if they do not
// exist. Server instances starting together take turns on an advisory
// lock, so the CREATE statements never race each other.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", schemaLockID); err != nil {
			return fmt.Errorf("locking schema setup: %w", err)
		}
		if _, err := tx.Exec(ctx, schemaSQL); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
		return nil
	})
}
