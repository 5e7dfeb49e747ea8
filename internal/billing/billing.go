// Package billing owns the append-only usage ledger and its rollups. Raw
// rows are written once per attempted call and never updated; hourly, daily
// and monthly buckets are derived incrementally and kept past raw retention.
package billing

import (
	"context"
	"time"
)

// Granularity names a rollup resolution. Values match Postgres date_trunc
// field names.
type Granularity string

const (
	Hourly  Granularity = "hour"
	Daily   Granularity = "day"
	Monthly Granularity = "month"
)

func Granularities() []Granularity {
	return []Granularity{Hourly, Daily, Monthly}
}

// Truncate returns the bucket start containing t, in UTC.
func (g Granularity) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch g {
	case Hourly:
		return t.Truncate(time.Hour)
	case Daily:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case Monthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return t
}

// Next returns the start of the bucket after the one containing t.
func (g Granularity) Next(t time.Time) time.Time {
	start := g.Truncate(t)
	switch g {
	case Hourly:
		return start.Add(time.Hour)
	case Daily:
		return start.AddDate(0, 0, 1)
	case Monthly:
		return start.AddDate(0, 1, 0)
	}
	return start
}

// UsageRecord is one ledger row. Written exactly once per attempted call,
// success or failure; failures carry zero cost.
type UsageRecord struct {
	ID               string
	CreatedAt        time.Time
	ClientID         string
	RequestID        string
	Endpoint         string
	Provider         string
	Model            string
	InputTokens      int
	OutputTokens     int
	InputCostUSD     float64
	OutputCostUSD    float64
	LatencyMs        int64
	Success          bool
	ErrorKind        string
	ErrorMessage     string
	TokensEstimated  bool
	RequestMetadata  map[string]any
	ResponseMetadata map[string]any
}

func (r *UsageRecord) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

func (r *UsageRecord) TotalCostUSD() float64 {
	return r.InputCostUSD + r.OutputCostUSD
}

// Bucket is one aggregated rollup row. The natural key is (BucketStart,
// Granularity, ClientID, Provider, Endpoint); refreshes replace by that key.
type Bucket struct {
	BucketStart  time.Time
	Granularity  Granularity
	ClientID     string
	Provider     string
	Endpoint     string
	CallCount    int64
	TotalTokens  int64
	TotalCostUSD float64
	AvgLatencyMs float64
	SuccessRate  float64
}

type Store interface {
	Insert(ctx context.Context, rec *UsageRecord) error
	ListByClient(ctx context.Context, clientID string, from, to time.Time) ([]*UsageRecord, error)
	TotalCostByClient(ctx context.Context, clientID string, from, to time.Time) (float64, error)

	// MonthlyCost sums a client's spend since monthStart. Used by the
	// budget gate; a single indexed query over raw rows, always fresh.
	MonthlyCost(ctx context.Context, clientID string, monthStart time.Time) (float64, error)

	// RefreshRollup re-aggregates raw rows in [from, to) into granularity
	// buckets, replacing by natural key. Idempotent: re-running over the
	// same window with no new rows yields identical buckets.
	RefreshRollup(ctx context.Context, g Granularity, from, to time.Time) error
	BucketsByClient(ctx context.Context, clientID string, g Granularity, from, to time.Time) ([]*Bucket, error)

	// PurgeRawBefore bulk-expires raw rows older than cutoff and records
	// the cutoff durably. Rollups are never purged.
	PurgeRawBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// PurgedBefore reports the newest cutoff ever passed to
	// PurgeRawBefore, surviving restarts; zero if nothing was purged.
	// Raw rows older than it are gone, so rollup buckets touching that
	// range must keep their settled values.
	PurgedBefore(ctx context.Context) (time.Time, error)
}
