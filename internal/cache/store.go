// Package cache stores completed chat responses keyed by a normalized
// message fingerprint.
package cache

import (
	"context"
	"time"
)

// Entry is a cached response.
type Entry struct {
	Content    string    `json:"content"`
	Model      string    `json:"model"`
	Tier       string    `json:"tier,omitempty"`
	TokensUsed int       `json:"tokensUsed"`
	CostUSD    float64   `json:"costUsd,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Store is a TTL key/value store for responses. Get reports a miss with
// (nil, nil); an expired entry is indistinguishable from an absent one.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error
	Close() error
}

// NopStore never stores anything.
type NopStore struct{}

func (NopStore) Get(context.Context, string) (*Entry, error)             { return nil, nil }
func (NopStore) Set(context.Context, string, Entry, time.Duration) error { return nil }
func (NopStore) Close() error                                            { return nil }
