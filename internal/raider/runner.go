package raider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/talgya/outposts/internal/entropy"
)

// Runner drives observe, decide, act cycles.
type Runner struct {
	Observer   Observer
	Actor      Actor
	Policy     Policy
	Source     entropy.Source
	Tide       *Tide
	Memory     *CycleMemory
	MemoryPath string
}

// NewRunner wires a runner with memory loaded from memoryPath.
func NewRunner(obs Observer, act Actor, policy Policy, src entropy.Source, memoryPath string) *Runner {
	if src == nil {
		src = entropy.Crypto{}
	}
	return &Runner{
		Observer:   obs,
		Actor:      act,
		Policy:     policy,
		Source:     src,
		Tide:       NewTide(policy.TideSeed, policy.TideAmplitude),
		Memory:     LoadMemory(memoryPath),
		MemoryPath: memoryPath,
	}
}

type outcome struct {
	ok        bool
	destroyed bool
}

// RunCycle executes one observe, decide, act cycle. Failed raids are counted
// as rejected; only observation failures abort the cycle.
func (r *Runner) RunCycle(ctx context.Context) (CycleReport, error) {
	cycle := r.Memory.Cycle + 1
	report := CycleReport{Cycle: cycle}

	snap, err := r.Observer.Observe(ctx)
	if err != nil {
		return report, fmt.Errorf("observe: %w", err)
	}
	report.Slot = snap.Status.Slot
	report.Considered = len(snap.Outposts)

	alive := make(map[string]bool, len(snap.Outposts))
	for _, o := range snap.Outposts {
		alive[o.Address] = true
	}
	r.Memory.Forget(alive)

	if w, ok := r.Source.(entropy.Warmer); ok {
		if err := w.Warm(ctx); err != nil {
			slog.Debug("entropy prefetch failed", "error", err)
		}
	}
	plans := Decide(snap, r.Policy, r.Memory.LastRaided, r.Source, r.Tide, cycle)
	report.Selected = len(plans)
	slog.Info("raid cycle decided",
		"cycle", cycle,
		"slot", snap.Status.Slot,
		"alive", len(snap.Outposts),
		"selected", len(plans),
	)

	outcomes := r.act(ctx, plans)
	for i, oc := range outcomes {
		if !oc.ok {
			report.Rejected++
			continue
		}
		report.Fulfilled++
		r.Memory.LastRaided[plans[i].Address] = snap.Status.Slot
		if oc.destroyed {
			report.Destroyed = append(report.Destroyed, plans[i].Address)
			delete(r.Memory.LastRaided, plans[i].Address)
		}
	}

	r.Memory.Record(report)
	if err := r.Memory.Save(r.MemoryPath); err != nil {
		slog.Error("failed to save raider memory", "error", err)
	}

	slog.Info("raid cycle complete",
		"cycle", cycle,
		"fulfilled", report.Fulfilled,
		"rejected", report.Rejected,
		"destroyed", len(report.Destroyed),
	)
	for _, addr := range report.Destroyed {
		slog.Info("outpost destroyed", "address", addr)
	}
	return report, nil
}

// act runs plans in batches. Every raid in a batch settles before the next
// batch starts.
func (r *Runner) act(ctx context.Context, plans []Plan) []outcome {
	outcomes := make([]outcome, len(plans))
	batch := max(r.Policy.BatchSize, 1)

	for start := 0; start < len(plans); start += batch {
		end := min(start+batch, len(plans))
		var g errgroup.Group
		g.SetLimit(max(r.Policy.Concurrency, 1))
		for i := start; i < end; i++ {
			g.Go(func() error {
				res, err := r.Actor.Raid(ctx, plans[i].Address, plans[i].Goblins)
				if err != nil {
					slog.Warn("raid rejected", "address", plans[i].Address, "goblins", plans[i].Goblins, "error", err)
					return nil
				}
				outcomes[i] = outcome{ok: true, destroyed: res.Destroyed}
				return nil
			})
		}
		_ = g.Wait()
		if ctx.Err() != nil {
			break
		}
	}
	return outcomes
}

// Run executes a cycle immediately and then every interval until ctx ends.
func (r *Runner) Run(ctx context.Context, interval time.Duration) error {
	slog.Info("raider starting", "interval", interval, "probability", r.Policy.Probability, "round_robin", r.Policy.RoundRobin)

	if _, err := r.RunCycle(ctx); err != nil {
		slog.Error("raid cycle failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("raider stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.RunCycle(ctx); err != nil {
				slog.Error("raid cycle failed", "error", err)
			}
		}
	}
}
