package entropy

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixed []float64

func (f *fixed) Float() float64 {
	v := (*f)[0]
	*f = (*f)[1:]
	return v
}

func TestIntRange(t *testing.T) {
	src := &fixed{0, 0.2, 0.999999, 0.5}
	assert.Equal(t, uint64(1), IntRange(src, 1, 5))
	assert.Equal(t, uint64(2), IntRange(src, 1, 5))
	assert.Equal(t, uint64(5), IntRange(src, 1, 5))
	assert.Equal(t, uint64(7), IntRange(src, 7, 7))
	assert.Len(t, *src, 1)
}

func TestCryptoFloatInRange(t *testing.T) {
	for range 1000 {
		v := Crypto{}.Float()
		require.GreaterOrEqual(t, v, 0.0)
		require.Less(t, v, 1.0)
	}
}

func TestNilClientFallsBack(t *testing.T) {
	var c *Client
	assert.False(t, c.Enabled())
	v := c.Float()
	assert.True(t, v >= 0 && v < 1)
	assert.Nil(t, NewClient(""))
}

func TestClientUsesPool(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		data := "0.25"
		for range 19 {
			data += ",0.5"
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","result":{"random":{"data":[%s]}},"id":1}`, data)
	}))
	defer srv.Close()

	c := NewClient("key")
	c.endpoint = srv.URL
	c.client = &http.Client{Timeout: time.Second}

	assert.True(t, c.Enabled())
	assert.Equal(t, 0.25, c.Float())
	for range 10 {
		assert.Equal(t, 0.5, c.Float())
	}
	assert.Equal(t, 1, calls)
}

func TestClientFallsBackOnAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","error":{"message":"quota exceeded"},"id":1}`)
	}))
	defer srv.Close()

	c := NewClient("key")
	c.endpoint = srv.URL

	v := c.Float()
	assert.True(t, v >= 0 && v < 1)
	assert.Empty(t, c.pool)
}

func TestClientBacksOffAfterFailure(t *testing.T) {
	var calls atomic.Int32
	healthy := atomic.Bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"jsonrpc":"2.0","result":{"random":{"data":[0.5]}},"id":1}`)
			return
		}
		fmt.Fprint(w, `{"jsonrpc":"2.0","result":{"random":{"data":[0.75]}},"id":1}`)
	}))
	defer srv.Close()

	now := time.Unix(1_700_000_000, 0)
	c := NewClient("key")
	c.endpoint = srv.URL
	c.now = func() time.Time { return now }

	for range 30 {
		v := c.Float()
		require.True(t, v >= 0 && v < 1)
	}
	assert.Equal(t, int32(1), calls.Load(), "an outage costs one request per backoff window")
	assert.Empty(t, c.pool, "non-200 bodies are not trusted")
	assert.Equal(t, minBackoff, c.backoff)

	// A second failure doubles the window.
	now = now.Add(minBackoff)
	c.Float()
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 2*minBackoff, c.backoff)

	healthy.Store(true)
	now = now.Add(2 * minBackoff)
	assert.Equal(t, 0.75, c.Float())
	assert.Equal(t, int32(3), calls.Load())
	assert.Zero(t, c.backoff)
}

func TestBackoffIsCapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	now := time.Unix(1_700_000_000, 0)
	c := NewClient("key")
	c.endpoint = srv.URL
	c.now = func() time.Time { return now }

	for range 10 {
		c.Float()
		now = now.Add(maxBackoff)
	}
	assert.Equal(t, maxBackoff, c.backoff)
}

func TestWarmHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient("key")
	c.endpoint = srv.URL

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := c.Warm(ctx)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	// Backing off now: warming again returns at once without a request.
	assert.NoError(t, c.Warm(context.Background()))

	var nilClient *Client
	assert.NoError(t, nilClient.Warm(context.Background()))
}
