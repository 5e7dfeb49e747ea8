// Package pricing maps (provider, model) to per-million-token rates and
// turns raw token counts into billable amounts.
package pricing

import (
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync/atomic"
)

var ErrPricingNotFound = errors.New("pricing not found")

// Entry is one versioned pricing row. Cost* is what the upstream vendor
// charges us, Price* is what we charge the client; both are USD per million
// tokens. Price below cost is allowed (negative margin is an operator
// decision, not validated here).
type Entry struct {
	Provider        string
	Model           string
	CostInPerMTok   float64
	CostOutPerMTok  float64
	PriceInPerMTok  float64
	PriceOutPerMTok float64
	Enabled         bool
}

// Cost computes the upstream cost of a call, rounded to 6 decimals.
func (e Entry) Cost(inputTokens, outputTokens int) (inCost, outCost float64) {
	inCost = round6(float64(inputTokens) / 1e6 * e.CostInPerMTok)
	outCost = round6(float64(outputTokens) / 1e6 * e.CostOutPerMTok)
	return inCost, outCost
}

// Price computes the client-billed amount of a call, rounded to 6 decimals.
func (e Entry) Price(inputTokens, outputTokens int) (inPrice, outPrice float64) {
	inPrice = round6(float64(inputTokens) / 1e6 * e.PriceInPerMTok)
	outPrice = round6(float64(outputTokens) / 1e6 * e.PriceOutPerMTok)
	return inPrice, outPrice
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// Table is an immutable snapshot of enabled pricing entries.
type Table struct {
	exact      map[string]Entry // "provider/model"
	byProvider map[string][]Entry
}

func NewTable(entries []Entry) *Table {
	t := &Table{
		exact:      make(map[string]Entry),
		byProvider: make(map[string][]Entry),
	}
	for _, e := range entries {
		if !e.Enabled {
			continue
		}
		t.exact[key(e.Provider, e.Model)] = e
		t.byProvider[e.Provider] = append(t.byProvider[e.Provider], e)
	}
	return t
}

func key(provider, model string) string {
	return provider + "/" + model
}

// Len reports the number of enabled entries in the snapshot.
func (t *Table) Len() int {
	return len(t.exact)
}

// Lookup finds the entry for (provider, model). Exact match wins; otherwise
// the longest entry whose model name is a fragment of the requested model is
// used and logged — the fallback is a deprecated path, never silent. A total
// miss is ErrPricingNotFound, never a zero-cost default.
func (t *Table) Lookup(provider, model string) (Entry, error) {
	if e, ok := t.exact[key(provider, model)]; ok {
		return e, nil
	}

	var best Entry
	var found bool
	lower := strings.ToLower(model)
	for _, e := range t.byProvider[provider] {
		if strings.Contains(lower, strings.ToLower(e.Model)) {
			if !found || len(e.Model) > len(best.Model) {
				best = e
				found = true
			}
		}
	}
	if found {
		log.Printf("pricing: no exact entry for %s/%s, using fragment match %q", provider, model, best.Model)
		return best, nil
	}

	return Entry{}, fmt.Errorf("%w: %s/%s", ErrPricingNotFound, provider, model)
}

// Catalog holds the active Table and supports atomic whole-table swaps so
// in-flight requests never observe a half-updated price list.
type Catalog struct {
	table atomic.Pointer[Table]
}

func NewCatalog(t *Table) *Catalog {
	c := &Catalog{}
	c.table.Store(t)
	return c
}

func (c *Catalog) Table() *Table {
	return c.table.Load()
}

func (c *Catalog) Swap(t *Table) {
	c.table.Store(t)
}
