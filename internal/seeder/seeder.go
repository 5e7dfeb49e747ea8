package seeder

import (
	"context"
	"log"

	"github.com/vnmchuo/llm-meter/internal/client"
	"github.com/vnmchuo/llm-meter/internal/pricing"
)

const (
	TestAPIKey     = "test-api-key-12345"
	TestClientName = "test-client"
)

func SeedTestClient(ctx context.Context, store client.Store) {
	budget := 100.0
	c := &client.Client{
		Name:               TestClientName,
		KeyHash:            client.HashKey(TestAPIKey),
		Active:             true,
		RateLimitPerMinute: 1000,
		MonthlyBudgetUSD:   &budget,
	}

	if err := store.Create(ctx, c); err != nil {
		log.Printf("[Seeder] client may already exist, skipping: %v", err)
		return
	}
	log.Printf("[Seeder] test client created: id=%s key=%s", c.ID, TestAPIKey)
}

// DefaultPricing is the launch price list: USD per million tokens, vendor
// cost and client price per side.
func DefaultPricing() []pricing.Entry {
	return []pricing.Entry{
		{Provider: "claude", Model: "claude-3-5-sonnet-20241022", CostInPerMTok: 3.00, CostOutPerMTok: 15.00, PriceInPerMTok: 3.75, PriceOutPerMTok: 18.75, Enabled: true},
		{Provider: "claude", Model: "claude-3-5-haiku-20241022", CostInPerMTok: 0.80, CostOutPerMTok: 4.00, PriceInPerMTok: 1.00, PriceOutPerMTok: 5.00, Enabled: true},
		{Provider: "claude", Model: "claude-3-opus-20240229", CostInPerMTok: 15.00, CostOutPerMTok: 75.00, PriceInPerMTok: 18.75, PriceOutPerMTok: 93.75, Enabled: true},
		{Provider: "claude", Model: "haiku", CostInPerMTok: 0.25, CostOutPerMTok: 1.25, PriceInPerMTok: 0.31, PriceOutPerMTok: 1.56, Enabled: true},
		{Provider: "openai", Model: "gpt-4o", CostInPerMTok: 2.50, CostOutPerMTok: 10.00, PriceInPerMTok: 3.13, PriceOutPerMTok: 12.50, Enabled: true},
		{Provider: "openai", Model: "gpt-4o-mini", CostInPerMTok: 0.15, CostOutPerMTok: 0.60, PriceInPerMTok: 0.19, PriceOutPerMTok: 0.75, Enabled: true},
		{Provider: "openai", Model: "gpt-4-turbo", CostInPerMTok: 10.00, CostOutPerMTok: 30.00, PriceInPerMTok: 12.50, PriceOutPerMTok: 37.50, Enabled: true},
		{Provider: "openai", Model: "gpt-3.5", CostInPerMTok: 1.50, CostOutPerMTok: 2.00, PriceInPerMTok: 1.88, PriceOutPerMTok: 2.50, Enabled: true},
		{Provider: "gemini", Model: "gemini-1.5-pro", CostInPerMTok: 1.25, CostOutPerMTok: 5.00, PriceInPerMTok: 1.56, PriceOutPerMTok: 6.25, Enabled: true},
		{Provider: "gemini", Model: "gemini-1.5-flash", CostInPerMTok: 0.075, CostOutPerMTok: 0.30, PriceInPerMTok: 0.094, PriceOutPerMTok: 0.375, Enabled: true},
		{Provider: "gemini", Model: "gemini-2.0-flash", CostInPerMTok: 0.10, CostOutPerMTok: 0.40, PriceInPerMTok: 0.125, PriceOutPerMTok: 0.50, Enabled: true},
		{Provider: "cohere", Model: "command-r-plus", CostInPerMTok: 2.50, CostOutPerMTok: 10.00, PriceInPerMTok: 3.13, PriceOutPerMTok: 12.50, Enabled: true},
		{Provider: "cohere", Model: "command-r", CostInPerMTok: 0.15, CostOutPerMTok: 0.60, PriceInPerMTok: 0.19, PriceOutPerMTok: 0.75, Enabled: true},
	}
}

// SeedPricing writes the default price list; existing enabled versions are
// superseded, not duplicated.
func SeedPricing(ctx context.Context, store *pricing.PostgresStore) {
	for _, e := range DefaultPricing() {
		if err := store.Upsert(ctx, e); err != nil {
			log.Printf("[Seeder] pricing entry %s/%s failed: %v", e.Provider, e.Model, err)
		}
	}
	log.Printf("[Seeder] pricing table seeded (%d entries)", len(DefaultPricing()))
}
