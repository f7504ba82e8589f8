// Package raider implements the raid controller.
// It observes living outposts, decides which ones get raided this cycle,
// and acts through the controller-only raid operation.
package raider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/talgya/outposts/internal/persistence"
)

// Snapshot holds all data collected during an observation cycle.
type Snapshot struct {
	Status   Status                      `json:"status"`
	Outposts []persistence.OutpostRecord `json:"outposts"`
}

// Status mirrors GET /api/v1/status.
type Status struct {
	Name    string            `json:"name"`
	Slot    uint64            `json:"slot"`
	SimTime string            `json:"sim_time"`
	Stats   persistence.Stats `json:"stats"`
}

// Observer produces a snapshot of the living outposts.
type Observer interface {
	Observe(ctx context.Context) (*Snapshot, error)
}

// HTTPObserver fetches ledger state from the API.
type HTTPObserver struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewHTTPObserver creates an observer targeting the given API base URL.
func NewHTTPObserver(baseURL string) *HTTPObserver {
	return &HTTPObserver{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Observe fetches the status and the living outposts.
func (o *HTTPObserver) Observe(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}

	if err := o.fetchJSON(ctx, "/api/v1/status", &snap.Status); err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	if err := o.fetchJSON(ctx, "/api/v1/outposts?alive=true", &snap.Outposts); err != nil {
		return nil, fmt.Errorf("fetch outposts: %w", err)
	}
	return snap, nil
}

// fetchJSON GETs a path and decodes the JSON response into target.
func (o *HTTPObserver) fetchJSON(ctx context.Context, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s returned %d: %s", path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
