package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vnmchuo/llm-meter/internal/billing"
	"github.com/vnmchuo/llm-meter/internal/client"
	"github.com/vnmchuo/llm-meter/internal/core"
	"github.com/vnmchuo/llm-meter/internal/gate"
	"github.com/vnmchuo/llm-meter/internal/pricing"
	"github.com/vnmchuo/llm-meter/internal/provider"
)

// PricingLoader rebuilds a pricing table from its backing store.
type PricingLoader interface {
	LoadEnabled(ctx context.Context) (*pricing.Table, error)
}

type Handler struct {
	service       *core.Service
	gate          *gate.Gate
	usage         billing.Store
	registry      *provider.Registry
	catalog       *pricing.Catalog
	pricingLoader PricingLoader
}

func NewHandler(service *core.Service, g *gate.Gate, usage billing.Store, registry *provider.Registry, catalog *pricing.Catalog, loader PricingLoader) *Handler {
	return &Handler{
		service:       service,
		gate:          g,
		usage:         usage,
		registry:      registry,
		catalog:       catalog,
		pricingLoader: loader,
	}
}

type completeRequest struct {
	Capability  string             `json:"capability,omitempty"`
	Provider    string             `json:"provider,omitempty"`
	Model       string             `json:"model,omitempty"`
	Messages    []provider.Message `json:"messages"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
	Temperature float64            `json:"temperature,omitempty"`
}

func (h *Handler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	c := client.FromContext(ctx)
	if c == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var body completeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(body.Messages) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "messages cannot be empty"})
		return
	}

	decision, err := h.gate.Admit(ctx, c)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !decision.Allowed {
		h.writeDenial(w, decision)
		return
	}

	requestID := client.GetRequestID(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
	}

	result, err := h.service.Execute(ctx, &core.CallRequest{
		ClientID:    c.ID,
		RequestID:   requestID,
		Endpoint:    r.URL.Path,
		Capability:  body.Capability,
		Provider:    body.Provider,
		Model:       body.Model,
		Messages:    body.Messages,
		MaxTokens:   body.MaxTokens,
		Temperature: body.Temperature,
	})
	if err != nil {
		h.writeCallError(w, result, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// writeDenial maps gate denials; these are distinct from call failures so a
// caller can tell "not allowed to call" from "call attempted and failed".
func (h *Handler) writeDenial(w http.ResponseWriter, d gate.Decision) {
	switch d.Reason {
	case gate.ReasonInactive:
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "client inactive", "reason": string(d.Reason)})
	case gate.ReasonRateLimited:
		w.Header().Set("Retry-After", d.RetryAfter.Round(time.Second).String())
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":       "rate limit exceeded",
			"reason":      string(d.Reason),
			"retry_after": d.RetryAfter.Round(time.Second).String(),
		})
	case gate.ReasonBudgetExceeded:
		writeJSON(w, http.StatusPaymentRequired, map[string]string{"error": "monthly budget exceeded", "reason": string(d.Reason)})
	default:
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "request denied"})
	}
}

func (h *Handler) writeCallError(w http.ResponseWriter, result *core.CallResult, err error) {
	var status int
	switch {
	case errors.Is(err, provider.ErrUnknownProvider), errors.Is(err, core.ErrUnknownCapability):
		status = http.StatusNotFound
	case errors.Is(err, provider.ErrNotConfigured), errors.Is(err, pricing.ErrPricingNotFound):
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusBadGateway
		var pErr *provider.Error
		if errors.As(err, &pErr) {
			switch pErr.Kind {
			case provider.KindTimeout:
				status = http.StatusGatewayTimeout
			case provider.KindInvalidRequest:
				status = http.StatusBadRequest
			case provider.KindRateLimited:
				status = http.StatusBadGateway // upstream limit, not the client's
			}
		}
	}

	resp := map[string]any{"error": err.Error()}
	if result != nil {
		resp["result"] = result
	}
	writeJSON(w, status, resp)
}

func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	c := client.FromContext(ctx)
	if c == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	now := time.Now()
	from := now.AddDate(0, 0, -30) // Default: last 30 days
	to := now

	if fromStr := r.URL.Query().Get("from"); fromStr != "" {
		var err error
		from, err = time.Parse(time.RFC3339, fromStr)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid 'from' date format (use RFC3339)"})
			return
		}
	}
	if toStr := r.URL.Query().Get("to"); toStr != "" {
		var err error
		to, err = time.Parse(time.RFC3339, toStr)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid 'to' date format (use RFC3339)"})
			return
		}
	}

	records, err := h.usage.ListByClient(ctx, c.ID, from, to)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	totalCost, err := h.usage.TotalCostByClient(ctx, c.ID, from, to)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	buckets, err := h.usage.BucketsByClient(ctx, c.ID, billing.Daily, from, to)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"client_id":      c.ID,
		"total_requests": len(records),
		"total_cost_usd": totalCost,
		"records":        usageJSON(records),
		"daily":          bucketJSON(buckets),
		"from":           from,
		"to":             to,
	})
}

// HandleReloadPricing re-reads enabled pricing entries and swaps the whole
// table atomically; in-flight requests keep the snapshot they started with.
// On a load failure the current table stays active.
func (h *Handler) HandleReloadPricing(w http.ResponseWriter, r *http.Request) {
	table, err := h.pricingLoader.LoadEnabled(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	h.catalog.Swap(table)
	log.Printf("pricing: table reloaded (%d entries)", table.Len())

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "reloaded",
		"entries": table.Len(),
	})
}

func (h *Handler) HandleProviders(w http.ResponseWriter, r *http.Request) {
	type providerInfo struct {
		provider.Descriptor
		Models []provider.ModelDescriptor `json:"models"`
	}

	descriptors := h.registry.ListAll()
	out := make([]providerInfo, 0, len(descriptors))
	for _, d := range descriptors {
		a, err := h.registry.Resolve(d.Key)
		if err != nil {
			continue
		}
		out = append(out, providerInfo{Descriptor: d, Models: a.Models()})
	}

	writeJSON(w, http.StatusOK, map[string]any{"providers": out})
}

type usageRecordJSON struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	Endpoint     string    `json:"endpoint"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	TotalTokens  int       `json:"total_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	LatencyMs    int64     `json:"latency_ms"`
	Success      bool      `json:"success"`
	ErrorKind    string    `json:"error_kind,omitempty"`
}

func usageJSON(records []*billing.UsageRecord) []usageRecordJSON {
	out := make([]usageRecordJSON, 0, len(records))
	for _, r := range records {
		out = append(out, usageRecordJSON{
			ID:           r.ID,
			CreatedAt:    r.CreatedAt,
			Provider:     r.Provider,
			Model:        r.Model,
			Endpoint:     r.Endpoint,
			InputTokens:  r.InputTokens,
			OutputTokens: r.OutputTokens,
			TotalTokens:  r.TotalTokens(),
			CostUSD:      r.TotalCostUSD(),
			LatencyMs:    r.LatencyMs,
			Success:      r.Success,
			ErrorKind:    r.ErrorKind,
		})
	}
	return out
}

type bucketRowJSON struct {
	BucketStart  time.Time `json:"bucket_start"`
	Provider     string    `json:"provider"`
	Endpoint     string    `json:"endpoint"`
	CallCount    int64     `json:"call_count"`
	TotalTokens  int64     `json:"total_tokens"`
	TotalCostUSD float64   `json:"total_cost_usd"`
	AvgLatencyMs float64   `json:"avg_latency_ms"`
	SuccessRate  float64   `json:"success_rate"`
}

func bucketJSON(buckets []*billing.Bucket) []bucketRowJSON {
	out := make([]bucketRowJSON, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, bucketRowJSON{
			BucketStart:  b.BucketStart,
			Provider:     b.Provider,
			Endpoint:     b.Endpoint,
			CallCount:    b.CallCount,
			TotalTokens:  b.TotalTokens,
			TotalCostUSD: b.TotalCostUSD,
			AvgLatencyMs: b.AvgLatencyMs,
			SuccessRate:  b.SuccessRate,
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
