// Package outpost provides the outpost economy state machine: the entity
// records, their deterministic addresses, and the four state transitions
// (incorporate, buy goods, hire security, raid).
package outpost

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"lukechampine.com/blake3"
)

const (
	MaxDiscordIDLen       = 20 // bytes
	SecurityCost          = 20 // credz per security force
	InitialSecurityForces = 10
)

// Outpost is the shared entity accumulating currency, defense, and score.
type Outpost struct {
	OwnerDiscordID string `json:"owner_discord_id" db:"owner_discord_id"`
	BattlePoints   uint64 `json:"battle_points" db:"battle_points"`
	Credz          uint64 `json:"credz" db:"credz"`
	SecurityForces uint64 `json:"security_forces" db:"security_forces"`
	IsDead         bool   `json:"is_dead" db:"is_dead"`
}

// Participant tracks one external authority's purchase history and cooldown.
type Participant struct {
	Owner            string `json:"owner" db:"owner"`
	GoodsBought      uint64 `json:"goods_bought" db:"goods_bought"`
	NextPurchaseSlot uint64 `json:"next_purchase_slot" db:"next_purchase_slot"`
}

// CanPurchase reports whether the cooldown has elapsed at slot.
func (p Participant) CanPurchase(slot uint64) bool {
	return slot >= p.NextPurchaseSlot
}

// SlotsUntilPurchase returns how many slots remain before the next purchase
// is allowed (0 when a purchase is allowed now).
func (p Participant) SlotsUntilPurchase(slot uint64) uint64 {
	if p.CanPurchase(slot) {
		return 0
	}
	return p.NextPurchaseSlot - slot
}

// GoodsSize is the purchase tier.
type GoodsSize uint8

const (
	Small GoodsSize = iota + 1
	Medium
	Large
)

// tier holds the reward and cooldown for one goods size.
type tier struct {
	amount   uint64
	cooldown uint64 // slots
}

// Two slots per second: small goods lock for 1 hour, medium 3, large 6.
var tiers = map[GoodsSize]tier{
	Small:  {amount: 10, cooldown: 1 * 60 * 60 * 2},
	Medium: {amount: 60, cooldown: 3 * 60 * 60 * 2},
	Large:  {amount: 120, cooldown: 6 * 60 * 60 * 2},
}

// Amount returns the credz (and goods) granted by a purchase of this size.
func (g GoodsSize) Amount() uint64 { return tiers[g].amount }

// Cooldown returns the cooldown length in slots for this size.
func (g GoodsSize) Cooldown() uint64 { return tiers[g].cooldown }

// Valid reports whether g is one of the three known sizes.
func (g GoodsSize) Valid() bool {
	_, ok := tiers[g]
	return ok
}

func (g GoodsSize) String() string {
	switch g {
	case Small:
		return "small"
	case Medium:
		return "medium"
	case Large:
		return "large"
	}
	return "unknown"
}

// ParseGoodsSize accepts the numeric form used by action links ("1", "2",
// "3") as well as the names "small", "medium" and "large".
func ParseGoodsSize(s string) (GoodsSize, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if n, err := strconv.Atoi(s); err == nil {
		g := GoodsSize(n)
		if n > 0 && n < 256 && g.Valid() {
			return g, nil
		}
		return 0, fmt.Errorf("%w: %s is not 1|2|3", ErrInvalidGoodsSize, s)
	}
	for g := range tiers {
		if g.String() == s {
			return g, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidGoodsSize, s)
}

// ValidateDiscordID checks the identity string bounds.
func ValidateDiscordID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidIdentity)
	}
	if len(id) > MaxDiscordIDLen {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidIdentity, len(id), MaxDiscordIDLen)
	}
	return nil
}

// Address derives the storage address of the outpost owned by discordID.
// At most one outpost exists per identity string.
func Address(discordID string) string {
	return derive("outpost", discordID)
}

// ParticipantAddress derives the storage address of a participant record.
func ParticipantAddress(owner string) string {
	return derive("participant", owner)
}

func derive(seed, key string) string {
	sum := blake3.Sum256([]byte(seed + key))
	return hex.EncodeToString(sum[:])
}
