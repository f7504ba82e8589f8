// Command outpostd runs the outpost ledger: the slot clock, the store and
// the HTTP API, optionally with the raid controller in-process.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/talgya/outposts/internal/api"
	"github.com/talgya/outposts/internal/auth"
	"github.com/talgya/outposts/internal/config"
	"github.com/talgya/outposts/internal/engine"
	"github.com/talgya/outposts/internal/entropy"
	"github.com/talgya/outposts/internal/persistence"
	"github.com/talgya/outposts/internal/raider"
)

func main() {
	cfg, err := config.LoadOutpostd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.ParseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	slog.Info("Outposts ledger starting", "port", cfg.Port, "dialect", cfg.Dialect)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("outpostd failed", "error", err)
		os.Exit(1)
	}
	fmt.Println("Ledger stopped. Slot checkpoint saved.")
}

func run(ctx context.Context, cfg config.Outpostd) error {
	// ── Database ──────────────────────────────────────────────────────
	pcfg, err := cfg.Persistence()
	if err != nil {
		return err
	}
	db, err := persistence.Open(ctx, pcfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// ── Slot clock ────────────────────────────────────────────────────
	start, err := engine.RestoreSlot(ctx, db)
	if err != nil {
		return err
	}
	eng := engine.NewEngine(start)
	eng.Interval = cfg.SlotInterval
	eng.OnEpoch = func(slot uint64) {
		if err := engine.Checkpoint(context.Background(), db, slot); err != nil {
			slog.Error("checkpoint failed", "slot", slot, "error", err)
			return
		}
		slog.Debug("slot checkpoint", "at", engine.SlotLabel(slot), "sim_time", engine.SimTime(slot))
	}
	if start > 0 {
		slog.Info("resuming clock", "at", engine.SlotLabel(start), "sim_time", engine.SimTime(start))
	}

	// ── Ledger ────────────────────────────────────────────────────────
	controller := auth.ControllerKey(cfg.ControllerKey)
	if cfg.ControllerKey == "" {
		slog.Warn("OUTPOSTD_CONTROLLER_KEY not set, controller endpoints will refuse every caller")
	}
	ledger := engine.NewLedger(db, controller, eng)

	// ── HTTP API ──────────────────────────────────────────────────────
	apiServer := &api.Server{
		Ledger:      ledger,
		Controller:  controller,
		Port:        cfg.Port,
		CORSOrigins: cfg.CORSOrigins,
	}
	if cfg.TokenSecret != "" {
		tokens, err := auth.NewTokenIssuer([]byte(cfg.TokenSecret))
		if err != nil {
			return fmt.Errorf("token issuer: %w", err)
		}
		apiServer.Tokens = tokens
	} else {
		slog.Warn("OUTPOSTD_TOKEN_SECRET not set, purchases are disabled")
	}
	if cfg.BuyRatePerMinute > 0 {
		limiter, closeLimiter := newLimiter(cfg)
		defer closeLimiter()
		apiServer.BuyLimiter = limiter
	}

	var runner *raider.Runner
	if cfg.EmbedRaider {
		runner, err = newEmbeddedRaider(cfg, ledger)
		if err != nil {
			return err
		}
	}
	srv := apiServer.Start()

	// ── Run ───────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		eng.Run(gctx)
		return nil
	})
	if runner != nil {
		g.Go(func() error {
			runner.Run(gctx, cfg.Raider.Interval)
			return nil
		})
	}

	fmt.Printf("\nOutposts ledger is live at slot %d.\n", eng.Slot())
	fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.Port)

	<-gctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", "error", err)
	}
	_ = g.Wait()

	// Final checkpoint on shutdown.
	if err := engine.Checkpoint(shutdownCtx, db, eng.Slot()); err != nil {
		return fmt.Errorf("final checkpoint: %w", err)
	}
	return nil
}

// newLimiter picks the shared Redis bucket when REDIS_ADDR is set.
func newLimiter(cfg config.Outpostd) (api.Limiter, func()) {
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		slog.Info("buy rate limit backed by redis", "addr", cfg.RedisAddr, "per_minute", cfg.BuyRatePerMinute)
		return api.NewRedisLimiter(client, cfg.BuyRatePerMinute, cfg.BuyBurst), func() { client.Close() }
	}
	ml := api.NewMemoryLimiter(cfg.BuyRatePerMinute, cfg.BuyBurst)
	return ml, ml.Close
}

func newEmbeddedRaider(cfg config.Outpostd, ledger *engine.Ledger) (*raider.Runner, error) {
	policy, err := cfg.Raider.LoadPolicy()
	if err != nil {
		return nil, err
	}
	var src entropy.Source = entropy.Crypto{}
	if c := entropy.NewClient(cfg.RandomOrgKey); c.Enabled() {
		slog.Info("random.org entropy enabled")
		src = c
	}
	client := &raider.LedgerClient{Ledger: ledger, Caller: cfg.ControllerKey}
	slog.Info("embedded raider enabled", "interval", cfg.Raider.Interval)
	return raider.NewRunner(client, client, policy, src, cfg.Raider.MemoryFile), nil
}
