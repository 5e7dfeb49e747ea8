package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, rec *UsageRecord) error {
	query := `
		INSERT INTO usage_logs (
			client_id, request_id, endpoint, provider, model,
			input_tokens, output_tokens, input_cost_usd, output_cost_usd,
			latency_ms, success, error_kind, error_message, tokens_estimated,
			request_metadata, response_metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		rec.ClientID, rec.RequestID, rec.Endpoint, rec.Provider, rec.Model,
		rec.InputTokens, rec.OutputTokens, rec.InputCostUSD, rec.OutputCostUSD,
		rec.LatencyMs, rec.Success, rec.ErrorKind, rec.ErrorMessage, rec.TokensEstimated,
		rec.RequestMetadata, rec.ResponseMetadata,
	).Scan(&rec.ID, &rec.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}

	return nil
}

func (s *PostgresStore) ListByClient(ctx context.Context, clientID string, from, to time.Time) ([]*UsageRecord, error) {
	query := `
		SELECT id, created_at, client_id, request_id, endpoint, provider, model,
		       input_tokens, output_tokens, input_cost_usd, output_cost_usd,
		       latency_ms, success, COALESCE(error_kind, ''), COALESCE(error_message, ''), tokens_estimated
		FROM usage_logs
		WHERE client_id = $1 AND created_at BETWEEN $2 AND $3
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(ctx, query, clientID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()

	var recs []*UsageRecord
	for rows.Next() {
		var r UsageRecord
		err := rows.Scan(
			&r.ID, &r.CreatedAt, &r.ClientID, &r.RequestID, &r.Endpoint, &r.Provider, &r.Model,
			&r.InputTokens, &r.OutputTokens, &r.InputCostUSD, &r.OutputCostUSD,
			&r.LatencyMs, &r.Success, &r.ErrorKind, &r.ErrorMessage, &r.TokensEstimated,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		recs = append(recs, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage records: %w", err)
	}

	return recs, nil
}

func (s *PostgresStore) TotalCostByClient(ctx context.Context, clientID string, from, to time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(input_cost_usd + output_cost_usd), 0)
		FROM usage_logs
		WHERE client_id = $1 AND created_at BETWEEN $2 AND $3
	`
	var total float64
	err := s.db.QueryRow(ctx, query, clientID, from, to).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to get total cost: %w", err)
	}

	return total, nil
}

func (s *PostgresStore) MonthlyCost(ctx context.Context, clientID string, monthStart time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(input_cost_usd + output_cost_usd), 0)
		FROM usage_logs
		WHERE client_id = $1 AND created_at >= $2
	`
	var total float64
	err := s.db.QueryRow(ctx, query, clientID, monthStart).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to get monthly cost: %w", err)
	}

	return total, nil
}

// RefreshRollup re-aggregates [from, to) into granularity buckets. The
// upsert replaces whole buckets by natural key, so reprocessing a window is
// idempotent and tolerates late-arriving rows.
func (s *PostgresStore) RefreshRollup(ctx context.Context, g Granularity, from, to time.Time) error {
	query := `
		INSERT INTO usage_rollups (
			bucket_start, granularity, client_id, provider, endpoint,
			call_count, total_tokens, total_cost_usd, avg_latency_ms, success_rate
		)
		SELECT
			date_trunc($1, created_at) AS bucket_start,
			$1,
			client_id,
			provider,
			endpoint,
			COUNT(*),
			COALESCE(SUM(input_tokens + output_tokens), 0),
			COALESCE(SUM(input_cost_usd + output_cost_usd), 0),
			COALESCE(AVG(latency_ms), 0),
			AVG(CASE WHEN success THEN 1.0 ELSE 0.0 END)
		FROM usage_logs
		WHERE created_at >= $2 AND created_at < $3
		GROUP BY 1, client_id, provider, endpoint
		ON CONFLICT (bucket_start, granularity, client_id, provider, endpoint)
		DO UPDATE SET
			call_count     = EXCLUDED.call_count,
			total_tokens   = EXCLUDED.total_tokens,
			total_cost_usd = EXCLUDED.total_cost_usd,
			avg_latency_ms = EXCLUDED.avg_latency_ms,
			success_rate   = EXCLUDED.success_rate,
			refreshed_at   = now()
	`
	_, err := s.db.Exec(ctx, query, string(g), from, to)
	if err != nil {
		return fmt.Errorf("failed to refresh %s rollup: %w", g, err)
	}

	return nil
}

func (s *PostgresStore) BucketsByClient(ctx context.Context, clientID string, g Granularity, from, to time.Time) ([]*Bucket, error) {
	query := `
		SELECT bucket_start, granularity, client_id, provider, endpoint,
		       call_count, total_tokens, total_cost_usd, avg_latency_ms, success_rate
		FROM usage_rollups
		WHERE client_id = $1 AND granularity = $2 AND bucket_start BETWEEN $3 AND $4
		ORDER BY bucket_start DESC, provider
	`
	rows, err := s.db.Query(ctx, query, clientID, string(g), from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query rollup buckets: %w", err)
	}
	defer rows.Close()

	var buckets []*Bucket
	for rows.Next() {
		var b Bucket
		err := rows.Scan(
			&b.BucketStart, &b.Granularity, &b.ClientID, &b.Provider, &b.Endpoint,
			&b.CallCount, &b.TotalTokens, &b.TotalCostUSD, &b.AvgLatencyMs, &b.SuccessRate,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rollup bucket: %w", err)
		}
		buckets = append(buckets, &b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rollup buckets: %w", err)
	}

	return buckets, nil
}

func (s *PostgresStore) PurgeRawBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM usage_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge usage records: %w", err)
	}

	// The cutoff must survive restarts: a later rollup refresh uses it to
	// avoid recomputing buckets whose raw rows no longer exist.
	_, err = s.db.Exec(ctx, `
		INSERT INTO ledger_maintenance (id, purged_before)
		VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE
		SET purged_before = GREATEST(ledger_maintenance.purged_before, EXCLUDED.purged_before)
	`, cutoff)
	if err != nil {
		return tag.RowsAffected(), fmt.Errorf("failed to record purge watermark: %w", err)
	}

	return tag.RowsAffected(), nil
}

func (s *PostgresStore) PurgedBefore(ctx context.Context) (time.Time, error) {
	var t time.Time
	err := s.db.QueryRow(ctx, `SELECT purged_before FROM ledger_maintenance WHERE id = 1`).Scan(&t)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to read purge watermark: %w", err)
	}

	return t, nil
}
