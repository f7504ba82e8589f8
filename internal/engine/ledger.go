package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/outposts/internal/outpost"
	"github.com/talgya/outposts/internal/persistence"
)

// Event kinds recorded for committed operations.
const (
	KindIncorporate = "incorporate"
	KindBuy         = "buy"
	KindHire        = "hire"
	KindRaid        = "raid"
	KindDestroyed   = "destroyed"
)

const controllerActor = "controller"

// Authorizer decides whether a verified caller is the trusted controller.
type Authorizer interface {
	IsController(caller string) bool
}

// Clock supplies the current slot.
type Clock interface {
	Slot() uint64
}

// Ledger executes outpost operations in a single total order. Each operation
// checks authorization, runs inside one store transaction, and either commits
// every write or none of them. Within a process mu orders operations; across
// processes sharing Postgres the transaction's row locks do.
type Ledger struct {
	mu    sync.Mutex
	db    *persistence.DB
	auth  Authorizer
	clock Clock
	now   func() time.Time
}

// NewLedger wires a ledger to its store, controller check, and clock.
func NewLedger(db *persistence.DB, auth Authorizer, clock Clock) *Ledger {
	return &Ledger{db: db, auth: auth, clock: clock, now: time.Now}
}

// Purchase is the result of a successful BuyGoods.
type Purchase struct {
	Outpost     persistence.OutpostRecord `json:"outpost"`
	Participant outpost.Participant       `json:"participant"`
	Slot        uint64                    `json:"slot"`
}

// RaidResult is the result of a Raid.
type RaidResult struct {
	Outpost   persistence.OutpostRecord `json:"outpost"`
	Goblins   uint64                    `json:"goblins"`
	Destroyed bool                      `json:"destroyed"` // this raid destroyed the outpost
}

// Incorporate creates the outpost owned by discordID. Controller only.
func (l *Ledger) Incorporate(ctx context.Context, caller, discordID string) (persistence.OutpostRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireController(caller, "incorporate"); err != nil {
		return persistence.OutpostRecord{}, err
	}
	o, err := outpost.Incorporate(discordID)
	if err != nil {
		return persistence.OutpostRecord{}, err
	}

	slot := l.clock.Slot()
	rec := persistence.OutpostRecord{
		Address:     outpost.Address(discordID),
		Outpost:     o,
		CreatedSlot: slot,
	}
	err = l.db.InTx(ctx, func(tx *persistence.Tx) error {
		if err := tx.InsertOutpost(ctx, rec); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, l.event(slot, KindIncorporate, rec.Address, controllerActor, map[string]any{
			"discord_id": discordID,
		}))
	})
	if err != nil {
		return persistence.OutpostRecord{}, err
	}

	slog.Info("outpost incorporated", "discord_id", discordID, "address", rec.Address, "slot", slot)
	return rec, nil
}

// BuyGoods credits the outpost at address on behalf of participant caller.
// The participant record is created on first purchase.
func (l *Ledger) BuyGoods(ctx context.Context, caller, address string, size outpost.GoodsSize) (Purchase, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller == "" {
		return Purchase{}, fmt.Errorf("%w: buy goods requires a participant identity", outpost.ErrUnauthorized)
	}

	slot := l.clock.Slot()
	var res Purchase
	err := l.db.InTx(ctx, func(tx *persistence.Tx) error {
		rec, err := tx.Outpost(ctx, address)
		if err != nil {
			return err
		}
		p, err := tx.LockParticipant(ctx, caller)
		if err != nil {
			return err
		}

		o, p, err := outpost.BuyGoods(rec.Outpost, p, size, slot)
		if err != nil {
			return err
		}
		rec.Outpost = o

		if err := tx.UpdateOutpost(ctx, rec); err != nil {
			return err
		}
		if err := tx.UpsertParticipant(ctx, p); err != nil {
			return err
		}
		res = Purchase{Outpost: rec, Participant: p, Slot: slot}
		return tx.AppendEvent(ctx, l.event(slot, KindBuy, address, caller, map[string]any{
			"size":               size.String(),
			"amount":             size.Amount(),
			"next_purchase_slot": p.NextPurchaseSlot,
		}))
	})
	if err != nil {
		return Purchase{}, err
	}

	slog.Info("goods bought",
		"participant", caller,
		"address", address,
		"size", size,
		"credz", res.Outpost.Credz,
		"next_purchase_slot", res.Participant.NextPurchaseSlot,
	)
	return res, nil
}

// HireSecurity converts credz into security forces. Controller only.
func (l *Ledger) HireSecurity(ctx context.Context, caller, address string, amount uint64) (persistence.OutpostRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireController(caller, "hire security"); err != nil {
		return persistence.OutpostRecord{}, err
	}

	slot := l.clock.Slot()
	var rec persistence.OutpostRecord
	err := l.db.InTx(ctx, func(tx *persistence.Tx) error {
		var err error
		rec, err = tx.Outpost(ctx, address)
		if err != nil {
			return err
		}
		o, err := outpost.HireSecurity(rec.Outpost, amount)
		if err != nil {
			return err
		}
		rec.Outpost = o
		if err := tx.UpdateOutpost(ctx, rec); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, l.event(slot, KindHire, address, controllerActor, map[string]any{
			"amount": amount,
			"cost":   amount * outpost.SecurityCost,
		}))
	})
	if err != nil {
		return persistence.OutpostRecord{}, err
	}

	slog.Info("security hired", "address", address, "amount", amount, "credz", rec.Credz, "security_forces", rec.SecurityForces)
	return rec, nil
}

// Raid resolves a goblin attack against the outpost at address. Controller only.
func (l *Ledger) Raid(ctx context.Context, caller, address string, goblins uint64) (RaidResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireController(caller, "raid"); err != nil {
		return RaidResult{}, err
	}

	slot := l.clock.Slot()
	res := RaidResult{Goblins: goblins}
	err := l.db.InTx(ctx, func(tx *persistence.Tx) error {
		rec, err := tx.Outpost(ctx, address)
		if err != nil {
			return err
		}
		res.Outpost = rec
		if rec.IsDead {
			return nil
		}

		o, err := outpost.Raid(rec.Outpost, goblins)
		if err != nil {
			return err
		}
		rec.Outpost = o
		rec.LastRaidedSlot = slot
		res.Outpost = rec
		res.Destroyed = o.IsDead

		if err := tx.UpdateOutpost(ctx, rec); err != nil {
			return err
		}
		kind := KindRaid
		if res.Destroyed {
			kind = KindDestroyed
		}
		return tx.AppendEvent(ctx, l.event(slot, kind, address, controllerActor, map[string]any{
			"goblins":         goblins,
			"security_forces": o.SecurityForces,
			"battle_points":   o.BattlePoints,
		}))
	})
	if err != nil {
		return RaidResult{}, err
	}

	if res.Destroyed {
		slog.Info("outpost destroyed by goblins", "address", address, "goblins", goblins, "battle_points", res.Outpost.BattlePoints)
	} else {
		slog.Debug("raid resolved", "address", address, "goblins", goblins, "security_forces", res.Outpost.SecurityForces)
	}
	return res, nil
}

// Outpost returns the outpost stored at address.
func (l *Ledger) Outpost(ctx context.Context, address string) (persistence.OutpostRecord, error) {
	return l.db.Outpost(ctx, address)
}

// Participant returns the participant record for owner; an unknown owner
// reads as a zeroed record.
func (l *Ledger) Participant(ctx context.Context, owner string) (outpost.Participant, error) {
	p, _, err := l.db.Participant(ctx, owner)
	if err != nil {
		return outpost.Participant{}, err
	}
	p.Owner = owner
	return p, nil
}

// Outposts lists outposts, optionally only those still standing.
func (l *Ledger) Outposts(ctx context.Context, aliveOnly bool) ([]persistence.OutpostRecord, error) {
	return l.db.ListOutposts(ctx, aliveOnly)
}

// RecentEvents returns the newest limit events.
func (l *Ledger) RecentEvents(ctx context.Context, limit int) ([]persistence.EventRecord, error) {
	return l.db.RecentEvents(ctx, limit)
}

// Stats returns ledger-wide aggregates.
func (l *Ledger) Stats(ctx context.Context) (persistence.Stats, error) {
	return l.db.Stats(ctx)
}

// Slot returns the current clock reading.
func (l *Ledger) Slot() uint64 {
	return l.clock.Slot()
}

func (l *Ledger) requireController(caller, op string) error {
	if l.auth == nil || !l.auth.IsController(caller) {
		return fmt.Errorf("%w: %s is controller only", outpost.ErrUnauthorized, op)
	}
	return nil
}

func (l *Ledger) event(slot uint64, kind, address, actor string, detail map[string]any) persistence.EventRecord {
	raw, err := json.Marshal(detail)
	if err != nil {
		raw = []byte("{}")
	}
	return persistence.EventRecord{
		ID:        uuid.NewString(),
		Slot:      slot,
		Kind:      kind,
		Address:   address,
		Actor:     actor,
		Detail:    string(raw),
		CreatedAt: l.now().UnixMilli(),
	}
}
