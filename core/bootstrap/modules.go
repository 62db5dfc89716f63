package bootstrap

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// Seeder loads reference data after migrations. Seed returns how many rows it
// inserted; it must be idempotent across restarts.
type Seeder interface {
	Name() string
	Seed(ctx context.Context, db *sqlx.DB) (int, error)
}

// SeederFunc adapts a named function to Seeder.
type SeederFunc struct {
	Label string
	Fn    func(ctx context.Context, db *sqlx.DB) (int, error)
}

// Name returns the label used in logs.
func (f SeederFunc) Name() string { return f.Label }

// Seed executes the underlying function.
func (f SeederFunc) Seed(ctx context.Context, db *sqlx.DB) (int, error) {
	return f.Fn(ctx, db)
}
