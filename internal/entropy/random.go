// Package entropy supplies the randomness behind raid selection and goblin
// counts: a random.org pool when an API key is configured, crypto/rand
// otherwise.
package entropy

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	randomOrgURL = "https://api.random.org/json-rpc/4/invoke"
	refillSize   = 100
	lowWater     = 10

	fetchTimeout = 15 * time.Second
	minBackoff   = 30 * time.Second
	maxBackoff   = 10 * time.Minute
)

// Source yields uniform floats in [0, 1).
type Source interface {
	Float() float64
}

// Warmer is a Source that can prefetch under a caller's context.
type Warmer interface {
	Warm(ctx context.Context) error
}

// Client provides true random numbers from random.org with a local pool.
// After a failed fetch it serves crypto/rand until the backoff expires.
type Client struct {
	apiKey   string
	endpoint string
	client   *http.Client
	now      func() time.Time

	mu         sync.Mutex
	pool       []float64
	retryAfter time.Time
	backoff    time.Duration
}

// NewClient creates a random.org client. Returns nil if apiKey is empty;
// a nil *Client still works as a Source and falls back to crypto/rand.
func NewClient(apiKey string) *Client {
	if apiKey == "" {
		return nil
	}
	return &Client{
		apiKey:   apiKey,
		endpoint: randomOrgURL,
		client:   &http.Client{Timeout: fetchTimeout},
		now:      time.Now,
	}
}

// Float returns a random float64 in [0, 1). Uses the pool, refilling from
// random.org when low. Falls back to crypto/rand on API failure.
func (c *Client) Float() float64 {
	if c == nil {
		return cryptoRandFloat()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pool) < lowWater {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		c.refillLocked(ctx)
		cancel()
	}
	if len(c.pool) == 0 {
		return cryptoRandFloat()
	}

	val := c.pool[0]
	c.pool = c.pool[1:]
	return val
}

// Warm tops up the pool under ctx so draws made right after it need no
// network round trip. It is a no-op while backing off.
func (c *Client) Warm(ctx context.Context) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pool) >= lowWater {
		return nil
	}
	return c.refillLocked(ctx)
}

// Enabled returns true if the client has a valid API key.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// refillLocked fetches a batch unless a recent failure is backing off.
// Callers hold c.mu.
func (c *Client) refillLocked(ctx context.Context) error {
	now := c.now()
	if now.Before(c.retryAfter) {
		return nil
	}
	if err := c.fetch(ctx); err != nil {
		c.backoff = min(max(c.backoff*2, minBackoff), maxBackoff)
		c.retryAfter = now.Add(c.backoff)
		slog.Warn("random.org unavailable, using crypto/rand", "error", err, "retry_in", c.backoff)
		return err
	}
	c.backoff = 0
	c.retryAfter = time.Time{}
	return nil
}

func (c *Client) fetch(ctx context.Context) error {
	req := map[string]any{
		"jsonrpc": "2.0",
		"method":  "generateDecimalFractions",
		"params": map[string]any{
			"apiKey":        c.apiKey,
			"n":             refillSize,
			"decimalPlaces": 6,
		},
		"id": 1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Result struct {
			Random struct {
				Data []float64 `json:"data"`
			} `json:"random"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if result.Error != nil {
		return fmt.Errorf("api error: %s", result.Error.Message)
	}

	for _, v := range result.Result.Random.Data {
		if v >= 0 && v < 1 {
			c.pool = append(c.pool, v)
		}
	}
	slog.Debug("random.org pool refilled", "count", len(result.Result.Random.Data))
	return nil
}

// Crypto is a Source backed by crypto/rand.
type Crypto struct{}

func (Crypto) Float() float64 { return cryptoRandFloat() }

// cryptoRandFloat generates a random float64 using crypto/rand.
func cryptoRandFloat() float64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0.5
	}
	// 53 bits for a uniform float64 in [0, 1).
	n := binary.LittleEndian.Uint64(buf[:]) >> 11
	return float64(n) / float64(1<<53)
}

// IntRange returns a uniform integer in [lo, hi] drawn from src.
func IntRange(src Source, lo, hi uint64) uint64 {
	if hi <= lo {
		return lo
	}
	span := hi - lo + 1
	n := uint64(src.Float() * float64(span))
	if n >= span {
		n = span - 1
	}
	return lo + n
}
