// Package vectorstore wraps weaviate-go-client/v5 behind a resilient
// client, adapted from services/trace/weaviate/client.go's
// ResilientClient: circuit breaker plus exponential backoff around every
// call, so a temporarily unreachable Weaviate instance degrades the
// Knowledge Base to "retrieval returns nothing" instead of aborting a
// round. The health-check goroutine and degradation-handler registry from
// the original are trimmed since nothing here needs a push notification
// of state changes — callers just check IsAvailable before deciding
// whether to skip retrieval for a round.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/comet-forge/comet/pkg/logging"
)

var (
	// ErrCircuitOpen matches the teacher's own sentinel name and meaning:
	// too many recent failures, requests are being shed until cooldown.
	ErrCircuitOpen = errors.New("vectorstore: circuit breaker open")
)

// Config controls retry/circuit-breaker behavior. Field names and
// defaults mirror weaviate.ClientConfig's retry/circuit knobs.
type Config struct {
	URL              string
	RetryAttempts    int
	RetryBackoff     time.Duration
	MaxRetryBackoff  time.Duration
	RetryJitter      float64
	CircuitThreshold int
	CircuitCooldown  time.Duration
}

func DefaultConfig() Config {
	return Config{
		RetryAttempts:    3,
		RetryBackoff:     100 * time.Millisecond,
		MaxRetryBackoff:  5 * time.Second,
		RetryJitter:      0.25,
		CircuitThreshold: 5,
		CircuitCooldown:  30 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.RetryAttempts == 0 {
		c.RetryAttempts = d.RetryAttempts
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.MaxRetryBackoff == 0 {
		c.MaxRetryBackoff = d.MaxRetryBackoff
	}
	if c.RetryJitter == 0 {
		c.RetryJitter = d.RetryJitter
	}
	if c.CircuitThreshold == 0 {
		c.CircuitThreshold = d.CircuitThreshold
	}
	if c.CircuitCooldown == 0 {
		c.CircuitCooldown = d.CircuitCooldown
	}
}

// Client is a Weaviate client with retry + circuit breaker around Execute.
type Client struct {
	raw    *weaviate.Client
	cfg    Config
	logger *logging.Logger

	consecutiveFailures atomic.Int32
	circuitOpenUntil    atomic.Int64 // unix nanos; zero means closed
}

// New connects to a Weaviate instance. Unlike NewResilientClient, this
// never blocks trying to reach the server at construction — the first
// Execute call surfaces connectivity problems, since the Knowledge Base
// is an optional accelerant (spec.md's core loop must run without it).
func New(cfg Config, logger *logging.Logger) (*Client, error) {
	cfg.applyDefaults()
	if cfg.URL == "" {
		return nil, errors.New("vectorstore: URL is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	scheme, host := "http", cfg.URL
	if len(cfg.URL) > 8 && cfg.URL[:8] == "https://" {
		scheme, host = "https", cfg.URL[8:]
	} else if len(cfg.URL) > 7 && cfg.URL[:7] == "http://" {
		host = cfg.URL[7:]
	}

	raw, err := weaviate.NewClient(weaviate.Config{Host: host, Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: create client: %w", err)
	}
	return &Client{raw: raw, cfg: cfg, logger: logger}, nil
}

// Raw exposes the underlying client for schema/GraphQL/data builders that
// this package doesn't wrap directly.
func (c *Client) Raw() *weaviate.Client { return c.raw }

// IsAvailable reports whether the circuit breaker currently permits
// requests.
func (c *Client) IsAvailable() bool {
	until := c.circuitOpenUntil.Load()
	return until == 0 || time.Now().UnixNano() >= until
}

// Execute runs fn with retry and circuit-breaker protection, matching
// ResilientClient.Execute's shape (sans OTel spans and health-check
// state machine, which this trimmed adaptation doesn't carry).
func (c *Client) Execute(ctx context.Context, fn func() error) error {
	if !c.IsAvailable() {
		return ErrCircuitOpen
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff(attempt)):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			c.consecutiveFailures.Store(0)
			return nil
		}
	}

	failures := c.consecutiveFailures.Add(1)
	if int(failures) >= c.cfg.CircuitThreshold {
		c.circuitOpenUntil.Store(time.Now().Add(c.cfg.CircuitCooldown).UnixNano())
		c.logger.Warn("vectorstore circuit opened", "consecutive_failures", failures)
	}
	return lastErr
}

func (c *Client) backoff(attempt int) time.Duration {
	base := float64(c.cfg.RetryBackoff) * math.Pow(2, float64(attempt-1))
	if base > float64(c.cfg.MaxRetryBackoff) {
		base = float64(c.cfg.MaxRetryBackoff)
	}
	jitter := base * c.cfg.RetryJitter * (rand.Float64()*2 - 1)
	d := time.Duration(base + jitter)
	if d < 0 {
		d = 0
	}
	return d
}
