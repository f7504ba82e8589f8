package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/talgya/outposts/internal/persistence"
)

const metaLastSlot = "last_slot"

// RestoreSlot returns the slot the clock should resume from: the later of the
// last checkpoint and the newest committed event, so a crash between
// checkpoints never moves the clock backward past recorded work.
func RestoreSlot(ctx context.Context, db *persistence.DB) (uint64, error) {
	var slot uint64
	if v, ok, err := db.GetMeta(ctx, metaLastSlot); err != nil {
		return 0, fmt.Errorf("read checkpoint: %w", err)
	} else if ok {
		slot, err = strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse checkpoint %q: %w", v, err)
		}
	}

	high, err := db.MaxEventSlot(ctx)
	if err != nil {
		return 0, err
	}
	return max(slot, high), nil
}

// Checkpoint records slot as the clock's resume point.
func Checkpoint(ctx context.Context, db *persistence.DB, slot uint64) error {
	return db.SaveMeta(ctx, metaLastSlot, strconv.FormatUint(slot, 10))
}
