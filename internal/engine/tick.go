// Package engine hosts the outpost economy: a slot clock that only moves
// forward, and a Ledger that runs one authorized operation at a time.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Slot schedule. Two slots elapse per second of wall time.
const (
	SlotsPerSecond = 2
	SlotsPerMinute = 120
	SlotsPerHour   = 7200 // 60 × 120
	SlotsPerEpoch  = SlotsPerHour

	DefaultSlotInterval = time.Second / SlotsPerSecond
)

// Engine is the logical clock. Slot never decreases, including across
// restarts when the caller seeds it from the last checkpoint.
type Engine struct {
	slot     atomic.Uint64
	Interval time.Duration

	// Callbacks, populated during setup.
	OnSlot  func(slot uint64) // Every slot
	OnEpoch func(slot uint64) // Every SlotsPerEpoch slots
}

// NewEngine creates a clock starting at slot start.
func NewEngine(start uint64) *Engine {
	e := &Engine{Interval: DefaultSlotInterval}
	e.slot.Store(start)
	return e
}

// Slot returns the current slot.
func (e *Engine) Slot() uint64 {
	return e.slot.Load()
}

// Run advances the clock once per Interval until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	slog.Info("slot clock started", "slot", e.Slot(), "interval", e.Interval)

	ticker := time.NewTicker(e.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("slot clock stopped", "slot", e.Slot())
			return
		case <-ticker.C:
			e.step()
		}
	}
}

// step advances the clock by one slot.
func (e *Engine) step() {
	slot := e.slot.Add(1)

	if e.OnSlot != nil {
		e.OnSlot(slot)
	}
	if slot%SlotsPerEpoch == 0 && e.OnEpoch != nil {
		e.OnEpoch(slot)
	}
}

// SimTime renders the wall time a number of slots represents, e.g. "1h30m0s".
func SimTime(slots uint64) string {
	d := time.Duration(slots/SlotsPerSecond) * time.Second
	if slots%SlotsPerSecond != 0 {
		d += DefaultSlotInterval
	}
	return d.String()
}

// SlotLabel is a short human form of a slot number for logs.
func SlotLabel(slot uint64) string {
	return fmt.Sprintf("slot %d (epoch %d)", slot, slot/SlotsPerEpoch)
}
