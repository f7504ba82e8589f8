package persistence

import "github.com/talgya/outposts/internal/outpost"

const outpostColumns = "address, owner_discord_id, battle_points, credz, security_forces, is_dead, created_slot, last_raided_slot"

// OutpostRecord is a stored outpost with its address and bookkeeping slots.
type OutpostRecord struct {
	Address string `json:"address"`
	outpost.Outpost
	CreatedSlot    uint64 `json:"created_slot"`
	LastRaidedSlot uint64 `json:"last_raided_slot"`
}

// EventRecord is one committed ledger operation.
type EventRecord struct {
	ID        string `json:"id" db:"id"`
	Slot      uint64 `json:"slot" db:"slot"`
	Kind      string `json:"kind" db:"kind"`
	Address   string `json:"address" db:"address"`
	Actor     string `json:"actor" db:"actor"`
	Detail    string `json:"detail" db:"detail"`
	CreatedAt int64  `json:"created_at" db:"created_at"` // unix millis
}

// Stats holds ledger-wide aggregates.
type Stats struct {
	Outposts            int    `json:"outposts" db:"outposts"`
	Alive               int    `json:"alive" db:"alive"`
	TotalCredz          uint64 `json:"total_credz" db:"total_credz"`
	TotalBattlePoints   uint64 `json:"total_battle_points" db:"total_battle_points"`
	TotalSecurityForces uint64 `json:"total_security_forces" db:"total_security_forces"`
	Participants        int    `json:"participants" db:"-"`
}

type outpostRow struct {
	Address        string `db:"address"`
	OwnerDiscordID string `db:"owner_discord_id"`
	BattlePoints   int64  `db:"battle_points"`
	Credz          int64  `db:"credz"`
	SecurityForces int64  `db:"security_forces"`
	IsDead         bool   `db:"is_dead"`
	CreatedSlot    int64  `db:"created_slot"`
	LastRaidedSlot int64  `db:"last_raided_slot"`
}

func (r outpostRow) record() OutpostRecord {
	return OutpostRecord{
		Address: r.Address,
		Outpost: outpost.Outpost{
			OwnerDiscordID: r.OwnerDiscordID,
			BattlePoints:   uint64(r.BattlePoints),
			Credz:          uint64(r.Credz),
			SecurityForces: uint64(r.SecurityForces),
			IsDead:         r.IsDead,
		},
		CreatedSlot:    uint64(r.CreatedSlot),
		LastRaidedSlot: uint64(r.LastRaidedSlot),
	}
}

func rowFromRecord(rec OutpostRecord) (outpostRow, error) {
	r := outpostRow{
		Address:        rec.Address,
		OwnerDiscordID: rec.OwnerDiscordID,
		IsDead:         rec.IsDead,
	}
	fields := []struct {
		dst   *int64
		v     uint64
		field string
	}{
		{&r.BattlePoints, rec.BattlePoints, "battle_points"},
		{&r.Credz, rec.Credz, "credz"},
		{&r.SecurityForces, rec.SecurityForces, "security_forces"},
		{&r.CreatedSlot, rec.CreatedSlot, "created_slot"},
		{&r.LastRaidedSlot, rec.LastRaidedSlot, "last_raided_slot"},
	}
	for _, f := range fields {
		n, err := toInt64(f.v, f.field)
		if err != nil {
			return outpostRow{}, err
		}
		*f.dst = n
	}
	return r, nil
}

type participantRow struct {
	Owner            string `db:"owner"`
	GoodsBought      int64  `db:"goods_bought"`
	NextPurchaseSlot int64  `db:"next_purchase_slot"`
}

func (r participantRow) participant() outpost.Participant {
	return outpost.Participant{
		Owner:            r.Owner,
		GoodsBought:      uint64(r.GoodsBought),
		NextPurchaseSlot: uint64(r.NextPurchaseSlot),
	}
}
