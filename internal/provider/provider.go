package provider

import (
	"context"
	"errors"
	"fmt"
)

// Resolution errors, raised before any upstream call is made.
var (
	ErrUnknownProvider   = errors.New("unknown provider")
	ErrDuplicateProvider = errors.New("provider already registered")
	ErrNotConfigured     = errors.New("provider not configured")
)

// ErrorKind classifies upstream failures so callers can decide whether a
// retry makes sense and what to bill.
type ErrorKind string

const (
	KindInvalidRequest ErrorKind = "invalid_request"
	KindAuth           ErrorKind = "auth"
	KindRateLimited    ErrorKind = "rate_limited"
	KindTimeout        ErrorKind = "timeout"
	KindUpstream       ErrorKind = "upstream_error"
	KindCanceled       ErrorKind = "canceled"
)

// Error is the single error type adapters surface for backend failures.
type Error struct {
	Provider  string
	Kind      ErrorKind
	Retryable bool
	Status    int // HTTP status from the backend, 0 if none
	Detail    string
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Provider, e.Kind, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Detail)
}

// ClassifyStatus maps a backend HTTP status to an error kind. 429 and 5xx
// are retryable; everything else fails immediately.
func ClassifyStatus(providerKey string, status int, detail string) *Error {
	e := &Error{Provider: providerKey, Status: status, Detail: detail}
	switch {
	case status == 401 || status == 403:
		e.Kind = KindAuth
	case status == 408:
		e.Kind = KindTimeout
		e.Retryable = true
	case status == 429:
		e.Kind = KindRateLimited
		e.Retryable = true
	case status >= 500:
		e.Kind = KindUpstream
		e.Retryable = true
	default:
		e.Kind = KindInvalidRequest
	}
	return e
}

// WrapTransport converts a transport-level error (connection refused,
// context deadline) into a typed Error.
func WrapTransport(providerKey string, err error) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Provider: providerKey, Kind: KindTimeout, Retryable: true, Detail: err.Error()}
	case errors.Is(err, context.Canceled):
		return &Error{Provider: providerKey, Kind: KindCanceled, Detail: err.Error()}
	default:
		return &Error{Provider: providerKey, Kind: KindUpstream, Retryable: true, Detail: err.Error()}
	}
}

type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// Request is the normalized payload every adapter accepts.
type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Response is the normalized result every adapter returns. Token counts
// match what the backend billed; when the backend reports none, they are
// estimated locally and TokensEstimated is set.
type Response struct {
	ID              string
	Content         string
	InputTokens     int
	OutputTokens    int
	TokensEstimated bool
	Model           string
	Provider        string
}

// ModelDescriptor is one entry of an adapter's static catalog.
type ModelDescriptor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
}

// Metadata carries display information about an adapter.
type Metadata struct {
	DisplayName  string   `json:"display_name"`
	DocsURL      string   `json:"docs_url,omitempty"`
	RequiredKeys []string `json:"required_keys,omitempty"`
}

// Descriptor is what the registry reports about a registered adapter.
// Configured is recomputed from Available on every listing, never stored.
type Descriptor struct {
	Key        string   `json:"key"`
	Metadata   Metadata `json:"metadata"`
	Configured bool     `json:"configured"`
}

// Adapter is the contract every backend implements.
//
// Available reports whether required credentials are present; it never
// probes live connectivity. Models returns a static catalog and must not
// fail for an unconfigured adapter. Complete honors ctx cancellation and
// surfaces every backend failure as a typed *Error.
type Adapter interface {
	Key() string
	Available() bool
	Complete(ctx context.Context, req *Request) (*Response, error)
	Models() []ModelDescriptor
	Metadata() Metadata
}

// EstimateTokens is the local fallback when a backend omits usage counts:
// roughly one token per four characters.
func EstimateTokens(text string) int {
	n := (len(text) + 3) / 4
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}
