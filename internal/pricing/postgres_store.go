package pricing

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore persists versioned pricing entries. At most one row per
// (provider, model) is enabled at a time; Upsert disables the prior version
// in the same transaction.
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) LoadEnabled(ctx context.Context) (*Table, error) {
	query := `
		SELECT provider, model, cost_in_per_mtok, cost_out_per_mtok, price_in_per_mtok, price_out_per_mtok
		FROM pricing_entries
		WHERE enabled = true
	`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query pricing entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e := Entry{Enabled: true}
		err := rows.Scan(
			&e.Provider, &e.Model,
			&e.CostInPerMTok, &e.CostOutPerMTok,
			&e.PriceInPerMTok, &e.PriceOutPerMTok,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pricing entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pricing entries: %w", err)
	}

	return NewTable(entries), nil
}

// Upsert writes a new enabled version of an entry, disabling any previous
// enabled version of the same (provider, model) transactionally.
func (s *PostgresStore) Upsert(ctx context.Context, e Entry) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin pricing tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`UPDATE pricing_entries SET enabled = false WHERE provider = $1 AND model = $2 AND enabled = true`,
		e.Provider, e.Model,
	)
	if err != nil {
		return fmt.Errorf("failed to disable prior pricing entry: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO pricing_entries (provider, model, cost_in_per_mtok, cost_out_per_mtok, price_in_per_mtok, price_out_per_mtok, enabled)
		 VALUES ($1, $2, $3, $4, $5, $6, true)`,
		e.Provider, e.Model,
		e.CostInPerMTok, e.CostOutPerMTok,
		e.PriceInPerMTok, e.PriceOutPerMTok,
	)
	if err != nil {
		return fmt.Errorf("failed to insert pricing entry: %w", err)
	}

	return tx.Commit(ctx)
}
