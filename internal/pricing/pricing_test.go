package pricing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEntries() []Entry {
	return []Entry{
		{Provider: "claude", Model: "claude-3-5-sonnet-20241022", CostInPerMTok: 3.00, CostOutPerMTok: 15.00, PriceInPerMTok: 3.75, PriceOutPerMTok: 18.75, Enabled: true},
		{Provider: "claude", Model: "haiku", CostInPerMTok: 0.25, CostOutPerMTok: 1.25, PriceInPerMTok: 0.31, PriceOutPerMTok: 1.56, Enabled: true},
		{Provider: "claude", Model: "claude-3-5-haiku", CostInPerMTok: 0.80, CostOutPerMTok: 4.00, PriceInPerMTok: 1.00, PriceOutPerMTok: 5.00, Enabled: true},
		{Provider: "openai", Model: "gpt-4o", CostInPerMTok: 2.50, CostOutPerMTok: 10.00, PriceInPerMTok: 3.13, PriceOutPerMTok: 12.50, Enabled: true},
		{Provider: "openai", Model: "gpt-5", CostInPerMTok: 99.0, CostOutPerMTok: 99.0, Enabled: false},
	}
}

func TestLookup_ExactMatch(t *testing.T) {
	table := NewTable(testEntries())

	e, err := table.Lookup("claude", "claude-3-5-sonnet-20241022")
	require.NoError(t, err)
	assert.Equal(t, 3.00, e.CostInPerMTok)
	assert.Equal(t, 15.00, e.CostOutPerMTok)
}

func TestLookup_FragmentFallback(t *testing.T) {
	table := NewTable(testEntries())

	// No exact entry; the longest enabled fragment contained in the model
	// name wins, so claude-3-5-haiku beats the bare haiku entry.
	e, err := table.Lookup("claude", "claude-3-5-haiku-20241022")
	require.NoError(t, err)
	assert.Equal(t, "claude-3-5-haiku", e.Model)
	assert.Equal(t, 0.80, e.CostInPerMTok)
}

func TestLookup_FragmentShortest(t *testing.T) {
	table := NewTable(testEntries())

	e, err := table.Lookup("claude", "claude-haiku-experimental")
	require.NoError(t, err)
	assert.Equal(t, "haiku", e.Model)
}

func TestLookup_NotFound(t *testing.T) {
	table := NewTable(testEntries())

	_, err := table.Lookup("claude", "claude-99-ultra")
	assert.True(t, errors.Is(err, ErrPricingNotFound))

	_, err = table.Lookup("mistral", "mistral-large")
	assert.True(t, errors.Is(err, ErrPricingNotFound))
}

func TestLookup_DisabledExcluded(t *testing.T) {
	table := NewTable(testEntries())

	_, err := table.Lookup("openai", "gpt-5")
	assert.True(t, errors.Is(err, ErrPricingNotFound))
}

func TestCost_RoundsToSixDecimals(t *testing.T) {
	e := Entry{CostInPerMTok: 3.00, CostOutPerMTok: 15.00}

	inCost, outCost := e.Cost(1000, 500)
	assert.Equal(t, 0.003, inCost)
	assert.Equal(t, 0.0075, outCost)
	assert.InDelta(t, 0.0105, inCost+outCost, 1e-9)
}

func TestCost_ZeroTokens(t *testing.T) {
	e := Entry{CostInPerMTok: 3.00, CostOutPerMTok: 15.00}

	inCost, outCost := e.Cost(0, 0)
	assert.Zero(t, inCost)
	assert.Zero(t, outCost)
}

func TestPrice_IndependentOfCost(t *testing.T) {
	e := Entry{CostInPerMTok: 3.00, CostOutPerMTok: 15.00, PriceInPerMTok: 3.75, PriceOutPerMTok: 18.75}

	inPrice, outPrice := e.Price(1000, 500)
	assert.Equal(t, 0.00375, inPrice)
	assert.Equal(t, 0.009375, outPrice)
}

func TestCatalog_Swap(t *testing.T) {
	catalog := NewCatalog(NewTable(testEntries()))

	_, err := catalog.Table().Lookup("openai", "gpt-4o")
	require.NoError(t, err)

	catalog.Swap(NewTable([]Entry{
		{Provider: "openai", Model: "gpt-4o", CostInPerMTok: 5.00, CostOutPerMTok: 20.00, Enabled: true},
	}))

	e, err := catalog.Table().Lookup("openai", "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, 5.00, e.CostInPerMTok)

	_, err = catalog.Table().Lookup("claude", "claude-3-5-sonnet-20241022")
	assert.Error(t, err)
}
