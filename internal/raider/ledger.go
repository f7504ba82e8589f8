package raider

import (
	"context"
	"fmt"

	"github.com/talgya/outposts/internal/engine"
)

// LedgerClient observes and raids an in-process ledger, for running the
// raider inside outpostd.
type LedgerClient struct {
	Ledger *engine.Ledger
	Caller string // controller identity presented to the ledger
}

// Observe reads status and living outposts from the ledger.
func (c *LedgerClient) Observe(ctx context.Context) (*Snapshot, error) {
	stats, err := c.Ledger.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	list, err := c.Ledger.Outposts(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("outposts: %w", err)
	}
	slot := c.Ledger.Slot()
	return &Snapshot{
		Status: Status{
			Name:    "outposts",
			Slot:    slot,
			SimTime: engine.SimTime(slot),
			Stats:   stats,
		},
		Outposts: list,
	}, nil
}

// Raid resolves a raid as the controller.
func (c *LedgerClient) Raid(ctx context.Context, address string, goblins uint64) (engine.RaidResult, error) {
	return c.Ledger.Raid(ctx, c.Caller, address, goblins)
}
