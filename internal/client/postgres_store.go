package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

const clientColumns = `id, name, key_hash, active, rate_limit_per_minute, monthly_budget_usd, created_at`

func (s *PostgresStore) GetByKey(ctx context.Context, key string) (*Client, error) {
	query := `
		SELECT ` + clientColumns + `
		FROM clients
		WHERE key_hash = $1
	`
	return s.scanOne(s.db.QueryRow(ctx, query, HashKey(key)))
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*Client, error) {
	query := `
		SELECT ` + clientColumns + `
		FROM clients
		WHERE id = $1
	`
	return s.scanOne(s.db.QueryRow(ctx, query, id))
}

func (s *PostgresStore) scanOne(row pgx.Row) (*Client, error) {
	var c Client
	err := row.Scan(
		&c.ID, &c.Name, &c.KeyHash, &c.Active,
		&c.RateLimitPerMinute, &c.MonthlyBudgetUSD, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) Create(ctx context.Context, c *Client) error {
	if c.KeyHash == "" {
		return fmt.Errorf("key_hash is required")
	}

	query := `
		INSERT INTO clients (name, key_hash, active, rate_limit_per_minute, monthly_budget_usd)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		c.Name, c.KeyHash, c.Active, c.RateLimitPerMinute, c.MonthlyBudgetUSD,
	).Scan(&c.ID, &c.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	return nil
}

func (s *PostgresStore) Deactivate(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `UPDATE clients SET active = false WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate client: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}
