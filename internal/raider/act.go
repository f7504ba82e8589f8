package raider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/talgya/outposts/internal/engine"
)

// Actor resolves a raid against one outpost.
type Actor interface {
	Raid(ctx context.Context, address string, goblins uint64) (engine.RaidResult, error)
}

// HTTPActor executes raids via the controller API.
type HTTPActor struct {
	BaseURL       string
	ControllerKey string
	HTTPClient    *http.Client
}

// NewHTTPActor creates an actor targeting the given API base URL with
// controller auth.
func NewHTTPActor(baseURL, controllerKey string) *HTTPActor {
	return &HTTPActor{
		BaseURL:       baseURL,
		ControllerKey: controllerKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Raid sends POST /api/v1/outpost/{address}/raid.
func (a *HTTPActor) Raid(ctx context.Context, address string, goblins uint64) (engine.RaidResult, error) {
	var result engine.RaidResult
	body, err := json.Marshal(map[string]uint64{"goblins": goblins})
	if err != nil {
		return result, fmt.Errorf("marshal raid: %w", err)
	}

	path := "/api/v1/outpost/" + url.PathEscape(address) + "/raid"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return result, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.ControllerKey)

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return result, fmt.Errorf("POST raid: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return result, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return result, fmt.Errorf("raid failed (%d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, &result); err != nil {
		return result, fmt.Errorf("decode response: %w", err)
	}
	return result, nil
}
