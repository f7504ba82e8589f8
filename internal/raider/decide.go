package raider

import (
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/outposts/internal/engine"
	"github.com/talgya/outposts/internal/entropy"
)

// tideFrequency is how fast the tide drifts across cycles.
const tideFrequency = 0.07

// Plan is one raid chosen for this cycle.
type Plan struct {
	Address string `json:"address"`
	Goblins uint64 `json:"goblins"`
}

// Tide modulates the raid probability with slow coherent noise, so raids
// come in swells instead of at a flat rate.
type Tide struct {
	noise     opensimplex.Noise
	amplitude float64
}

// NewTide returns a tide with the given seed. Amplitude 0 leaves the base
// probability untouched.
func NewTide(seed int64, amplitude float64) *Tide {
	return &Tide{noise: opensimplex.NewNormalized(seed), amplitude: amplitude}
}

// Probability returns base scaled by the tide at cycle, clamped to [0, 1].
func (t *Tide) Probability(base float64, cycle uint64) float64 {
	if t == nil || t.amplitude == 0 {
		return base
	}
	n := t.noise.Eval2(float64(cycle)*tideFrequency, 0) // [0, 1)
	p := base * (1 + t.amplitude*(2*n-1))
	return math.Max(0, math.Min(1, p))
}

// Decide picks the outposts to raid from snap. lastRaided holds slots of
// raids this controller landed in earlier cycles.
func Decide(snap *Snapshot, policy Policy, lastRaided map[string]uint64, src entropy.Source, tide *Tide, cycle uint64) []Plan {
	p := tide.Probability(policy.Probability, cycle)
	gap := gapSlots(policy)
	now := snap.Status.Slot

	var plans []Plan
	for _, o := range snap.Outposts {
		if o.IsDead {
			continue
		}
		if policy.RoundRobin {
			// An outpost counts as raided when created.
			last := max(o.CreatedSlot, o.LastRaidedSlot, lastRaided[o.Address])
			if now < last+gap {
				continue
			}
		}
		if src.Float() >= p {
			continue
		}
		plans = append(plans, Plan{
			Address: o.Address,
			Goblins: entropy.IntRange(src, policy.MinGoblins, policy.MaxGoblins),
		})
	}
	return plans
}

func gapSlots(policy Policy) uint64 {
	if policy.MinGap <= 0 {
		return 0
	}
	return uint64(policy.MinGap.Seconds() * engine.SlotsPerSecond)
}
