// Package client holds client identity and budget state. The core reads
// this state; mutation happens through an external management surface.
package client

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("client not found")

type Client struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	KeyHash            string    `json:"key_hash"`
	Active             bool      `json:"active"`
	RateLimitPerMinute int64     `json:"rate_limit_per_minute"`
	MonthlyBudgetUSD   *float64  `json:"monthly_budget_usd,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis
func (c *Client) MarshalBinary() ([]byte, error) {
	return json.Marshal(c)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis
func (c *Client) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, c)
}

type Store interface {
	GetByKey(ctx context.Context, key string) (*Client, error)
	GetByID(ctx context.Context, id string) (*Client, error)
	Create(ctx context.Context, c *Client) error
	Deactivate(ctx context.Context, id string) error
}

type Middleware func(next http.Handler) http.Handler

type contextKey string

const (
	clientKey    contextKey = "client"
	requestIDKey contextKey = "request_id"
)

func HashKey(key string) string {
	h := sha256.New()
	h.Write([]byte(key))
	return hex.EncodeToString(h.Sum(nil))
}

// NewMiddleware authenticates the X-API-Key or Bearer credential, caching
// resolved clients in redis for five minutes.
func NewMiddleware(store Store, cache *redis.Client) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			requestID := uuid.New().String()
			ctx = context.WithValue(ctx, requestIDKey, requestID)
			w.Header().Set("X-Request-ID", requestID)

			key := extractKey(r)
			if key == "" {
				http.Error(w, "Unauthorized: missing API key", http.StatusUnauthorized)
				return
			}

			redisKey := "client:" + HashKey(key)

			var cached Client
			err := cache.Get(ctx, redisKey).Scan(&cached)
			if err == nil {
				next.ServeHTTP(w, r.WithContext(WithClient(ctx, &cached)))
				return
			} else if err != redis.Nil {
				log.Printf("client: redis error: %v", err)
			}

			c, err := store.GetByKey(ctx, key)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					http.Error(w, "Unauthorized: invalid API key", http.StatusUnauthorized)
					return
				}
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			_ = cache.Set(ctx, redisKey, c, 5*time.Minute).Err()

			next.ServeHTTP(w, r.WithContext(WithClient(ctx, c)))
		})
	}
}

func extractKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

// Helpers to extract from context
func FromContext(ctx context.Context) *Client {
	if c, ok := ctx.Value(clientKey).(*Client); ok {
		return c
	}
	return nil
}

func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Helpers for testing
func WithClient(ctx context.Context, c *Client) context.Context {
	return context.WithValue(ctx, clientKey, c)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}
