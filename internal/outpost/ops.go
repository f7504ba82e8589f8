package outpost

import "fmt"

// Each handler takes its records by value and returns new values, so a
// failure can never leave a record half updated. Authorization and record
// lookup belong to the caller (see engine.Ledger).

// Incorporate creates a new outpost for discordID.
func Incorporate(discordID string) (Outpost, error) {
	if err := ValidateDiscordID(discordID); err != nil {
		return Outpost{}, err
	}
	return Outpost{
		OwnerDiscordID: discordID,
		SecurityForces: InitialSecurityForces,
	}, nil
}

// BuyGoods converts a participant's purchase into credz for the outpost.
// The purchase is refused while slot < p.NextPurchaseSlot.
//
// The cooldown threshold compounds: next = old + slot + cooldown. Deployed
// participant records depend on this rule, so it is kept as is.
func BuyGoods(o Outpost, p Participant, size GoodsSize, slot uint64) (Outpost, Participant, error) {
	if !size.Valid() {
		return o, p, fmt.Errorf("%w: %d", ErrInvalidGoodsSize, size)
	}
	if !p.CanPurchase(slot) {
		return o, p, fmt.Errorf("%w: %d slots remaining", ErrPurchaseCooldown, p.SlotsUntilPurchase(slot))
	}

	amount := size.Amount()
	goods, err := addU64(p.GoodsBought, amount, "goods_bought")
	if err != nil {
		return o, p, err
	}
	credz, err := addU64(o.Credz, amount, "credz")
	if err != nil {
		return o, p, err
	}
	next, err := addU64(p.NextPurchaseSlot, slot, "next_purchase_slot")
	if err != nil {
		return o, p, err
	}
	next, err = addU64(next, size.Cooldown(), "next_purchase_slot")
	if err != nil {
		return o, p, err
	}

	o.Credz = credz
	p.GoodsBought = goods
	p.NextPurchaseSlot = next
	return o, p, nil
}

// HireSecurity spends SecurityCost credz per unit on security forces.
// A destroyed outpost keeps zero security forces for good.
func HireSecurity(o Outpost, amount uint64) (Outpost, error) {
	if o.IsDead {
		return o, ErrDestroyed
	}
	cost, err := mulU64(amount, SecurityCost, "security cost")
	if err != nil {
		return o, err
	}
	if o.Credz < cost {
		return o, fmt.Errorf("%w: need %d, have %d", ErrInsufficientCredz, cost, o.Credz)
	}
	forces, err := addU64(o.SecurityForces, amount, "security_forces")
	if err != nil {
		return o, err
	}
	credz, err := subU64(o.Credz, cost, "credz")
	if err != nil {
		return o, err
	}

	o.Credz = credz
	o.SecurityForces = forces
	return o, nil
}

// Raid resolves a goblin attack. Each security force defeats one goblin and
// earns one battle point. If the goblins match or outnumber the defenders the
// outpost is destroyed and no points are awarded. Raiding a destroyed outpost
// changes nothing.
func Raid(o Outpost, goblins uint64) (Outpost, error) {
	if o.IsDead {
		return o, nil
	}
	if o.SecurityForces > goblins {
		points, err := addU64(o.BattlePoints, goblins, "battle_points")
		if err != nil {
			return o, err
		}
		forces, err := subU64(o.SecurityForces, goblins, "security_forces")
		if err != nil {
			return o, err
		}
		o.BattlePoints = points
		o.SecurityForces = forces
		return o, nil
	}

	o.SecurityForces = 0
	o.IsDead = true
	return o, nil
}
