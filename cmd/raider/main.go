// Command raider runs the raid controller against a running outpostd.
// It observes living outposts, picks raid targets at random, and acts via
// the controller raid endpoint.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/talgya/outposts/internal/config"
	"github.com/talgya/outposts/internal/entropy"
	"github.com/talgya/outposts/internal/raider"
)

func main() {
	cfg, err := config.LoadRaider()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.ParseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	policy, err := cfg.LoadPolicy()
	if err != nil {
		slog.Error("invalid raid policy", "error", err)
		os.Exit(1)
	}

	slog.Info("Outposts raider starting",
		"api_url", cfg.APIURL,
		"interval", cfg.Interval,
		"probability", policy.Probability,
		"tide_amplitude", policy.TideAmplitude,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Wait for the API to be ready before the first cycle.
	slog.Info("waiting for outpostd API...")
	if err := waitForAPI(ctx, cfg.APIURL, 5*time.Minute); err != nil {
		slog.Error("outpostd API not ready", "error", err)
		os.Exit(1)
	}

	var src entropy.Source = entropy.Crypto{}
	if c := entropy.NewClient(cfg.RandomOrgKey); c.Enabled() {
		slog.Info("random.org entropy enabled")
		src = c
	}

	runner := raider.NewRunner(
		raider.NewHTTPObserver(cfg.APIURL),
		raider.NewHTTPActor(cfg.APIURL, cfg.ControllerKey),
		policy,
		src,
		cfg.MemoryFile,
	)
	runner.Run(ctx, cfg.Interval)
	fmt.Println("Raider stopped.")
}

// waitForAPI polls the status endpoint with exponential backoff until it
// responds or limit elapses.
func waitForAPI(ctx context.Context, apiURL string, limit time.Duration) error {
	backoff := 2 * time.Second
	maxBackoff := 30 * time.Second
	deadline := time.Now().Add(limit)
	client := &http.Client{Timeout: 10 * time.Second}

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+"/api/v1/status", nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				slog.Info("outpostd API is ready")
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("no response from %s within %s", apiURL, limit)
		}
		slog.Info("outpostd not ready, retrying...", "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}
