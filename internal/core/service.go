// Package core is the unified call service: it resolves a provider and
// model, invokes the adapter under a timer, prices the token usage and
// writes exactly one usage record per attempted call.
package core

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vnmchuo/llm-meter/internal/billing"
	"github.com/vnmchuo/llm-meter/internal/pricing"
	"github.com/vnmchuo/llm-meter/internal/provider"
)

// CallRequest is immutable once submitted. Either Capability or an explicit
// Provider/Model pair selects the backend; explicit always wins.
type CallRequest struct {
	ClientID    string
	RequestID   string
	Endpoint    string
	Capability  string
	Provider    string
	Model       string
	Messages    []provider.Message
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration // zero means the service default
	Metadata    map[string]any
}

// CallResult is produced exactly once per request and never mutated.
type CallResult struct {
	Content         string  `json:"content"`
	Provider        string  `json:"provider"`
	Model           string  `json:"model"`
	InputTokens     int     `json:"input_tokens"`
	OutputTokens    int     `json:"output_tokens"`
	TokensEstimated bool    `json:"tokens_estimated,omitempty"`
	CostUSD         float64 `json:"cost_usd"`
	PriceUSD        float64 `json:"price_usd"`
	LatencyMs       int64   `json:"latency_ms"`
	Success         bool    `json:"success"`
	ErrorKind       string  `json:"error_kind,omitempty"`
}

type Options struct {
	DefaultTimeout time.Duration
	MaxRetries     int
}

type Service struct {
	registry *provider.Registry
	routes   *RouteTable
	catalog  *pricing.Catalog
	ledger   billing.Store
	requeue  *billing.Requeue
	breakers map[string]*gobreaker.CircuitBreaker
	tracer   trace.Tracer

	defaultTimeout time.Duration
	maxRetries     int
}

func NewService(
	registry *provider.Registry,
	routes *RouteTable,
	catalog *pricing.Catalog,
	ledger billing.Store,
	requeue *billing.Requeue,
	tracer trace.Tracer,
	opts Options,
) *Service {
	if opts.DefaultTimeout == 0 {
		opts.DefaultTimeout = 60 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}

	breakers := make(map[string]*gobreaker.CircuitBreaker)
	for _, d := range registry.ListAll() {
		settings := gobreaker.Settings{
			Name:        d.Key,
			MaxRequests: 3,
			Interval:    5 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}
		breakers[d.Key] = gobreaker.NewCircuitBreaker(settings)
	}

	return &Service{
		registry:       registry,
		routes:         routes,
		catalog:        catalog,
		ledger:         ledger,
		requeue:        requeue,
		breakers:       breakers,
		tracer:         tracer,
		defaultTimeout: opts.DefaultTimeout,
		maxRetries:     opts.MaxRetries,
	}
}

// Execute runs one metered call. Resolution failures (unknown provider,
// unconfigured provider, unknown capability, missing pricing) fail before
// any upstream I/O and write no usage record. Once the adapter is invoked,
// exactly one record is written whether the call succeeds or not; failures
// carry zero cost.
func (s *Service) Execute(ctx context.Context, req *CallRequest) (*CallResult, error) {
	ctx, span := s.tracer.Start(ctx, "core.execute")
	defer span.End()

	route, err := s.routes.Resolve(req.Capability, req.Provider, req.Model)
	if err != nil {
		return nil, err
	}

	adapter, err := s.registry.Resolve(route.Provider)
	if err != nil {
		return nil, err
	}
	if !adapter.Available() {
		return nil, &notConfiguredError{key: route.Provider}
	}

	if route.Model == "" {
		models := adapter.Models()
		if len(models) == 0 {
			return nil, &notConfiguredError{key: route.Provider}
		}
		route.Model = models[0].ID
	}

	entry, err := s.catalog.Table().Lookup(route.Provider, route.Model)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.String("client_id", req.ClientID),
		attribute.String("provider", route.Provider),
		attribute.String("model", route.Model),
	)

	timeout := req.Timeout
	if timeout == 0 {
		timeout = s.defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, callErr := s.call(callCtx, adapter, &provider.Request{
		Model:       route.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	latency := time.Since(start).Milliseconds()

	result := &CallResult{
		Provider:  route.Provider,
		Model:     route.Model,
		LatencyMs: latency,
	}

	rec := &billing.UsageRecord{
		ClientID:        req.ClientID,
		RequestID:       req.RequestID,
		Endpoint:        req.Endpoint,
		Provider:        route.Provider,
		Model:           route.Model,
		LatencyMs:       latency,
		RequestMetadata: req.Metadata,
	}

	if callErr != nil {
		result.ErrorKind = errorKind(callErr)
		rec.Success = false
		rec.ErrorKind = result.ErrorKind
		rec.ErrorMessage = callErr.Error()
	} else {
		inCost, outCost := entry.Cost(resp.InputTokens, resp.OutputTokens)
		inPrice, outPrice := entry.Price(resp.InputTokens, resp.OutputTokens)

		result.Content = resp.Content
		result.InputTokens = resp.InputTokens
		result.OutputTokens = resp.OutputTokens
		result.TokensEstimated = resp.TokensEstimated
		result.CostUSD = inCost + outCost
		result.PriceUSD = inPrice + outPrice
		result.Success = true

		rec.Success = true
		rec.InputTokens = resp.InputTokens
		rec.OutputTokens = resp.OutputTokens
		rec.InputCostUSD = inCost
		rec.OutputCostUSD = outCost
		rec.TokensEstimated = resp.TokensEstimated
	}

	s.writeRecord(ctx, rec)

	if callErr != nil {
		return result, callErr
	}
	return result, nil
}

// call invokes the adapter through its circuit breaker, retrying retryable
// provider errors with exponential backoff up to the configured bound.
func (s *Service) call(ctx context.Context, adapter provider.Adapter, req *provider.Request) (*provider.Response, error) {
	cb := s.breakers[adapter.Key()]

	operation := func() (*provider.Response, error) {
		out, err := cb.Execute(func() (interface{}, error) {
			return adapter.Complete(ctx, req)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return nil, backoff.Permanent(&provider.Error{
					Provider: adapter.Key(),
					Kind:     provider.KindUpstream,
					Detail:   "circuit breaker open",
				})
			}
			var pErr *provider.Error
			if errors.As(err, &pErr) && pErr.Retryable {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return out.(*provider.Response), nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.maxRetries)),
	)
}

// writeRecord persists the usage row. A failed write after a completed
// provider call means work was done but not billed; it is logged loudly and
// handed to the requeue, never dropped.
func (s *Service) writeRecord(ctx context.Context, rec *billing.UsageRecord) {
	if err := s.ledger.Insert(ctx, rec); err != nil {
		log.Printf("CRITICAL: usage record write failed, requeueing: client=%s provider=%s model=%s cost=%.6f err=%v",
			rec.ClientID, rec.Provider, rec.Model, rec.TotalCostUSD(), err)
		if s.requeue != nil {
			s.requeue.Enqueue(rec)
		}
	}
}

func errorKind(err error) string {
	var pErr *provider.Error
	if errors.As(err, &pErr) {
		return string(pErr.Kind)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return string(provider.KindTimeout)
	}
	return string(provider.KindUpstream)
}

// notConfiguredError wraps provider.ErrNotConfigured with the key.
type notConfiguredError struct {
	key string
}

func (e *notConfiguredError) Error() string {
	return "provider not configured: " + e.key
}

func (e *notConfiguredError) Unwrap() error {
	return provider.ErrNotConfigured
}
