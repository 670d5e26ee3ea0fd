package flags

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGFetcher loads flags from a Postgres feature_flags table
// (name text primary key, enabled boolean).
type PGFetcher struct {
	Pool *pgxpool.Pool
}

// NewPGFetcher connects a pgx pool for the given DSN.
func NewPGFetcher(ctx context.Context, dsn string) (*PGFetcher, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &PGFetcher{Pool: pool}, nil
}

func (f *PGFetcher) Fetch(ctx context.Context) (map[string]bool, error) {
	rows, err := f.Pool.Query(ctx, `SELECT name, enabled FROM feature_flags`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var name string
		var enabled bool
		if err := rows.Scan(&name, &enabled); err != nil {
			return nil, err
		}
		out[name] = enabled
	}
	return out, rows.Err()
}

// Close releases the underlying pool.
func (f *PGFetcher) Close() {
	if f != nil && f.Pool != nil {
		f.Pool.Close()
	}
}
