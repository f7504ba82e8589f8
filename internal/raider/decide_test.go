package raider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/talgya/outposts/internal/engine"
	"github.com/talgya/outposts/internal/outpost"
	"github.com/talgya/outposts/internal/persistence"
)

// seqSource replays vals, repeating the last one.
type seqSource struct {
	vals []float64
	i    int
}

func (s *seqSource) Float() float64 {
	v := s.vals[min(s.i, len(s.vals)-1)]
	s.i++
	return v
}

func rec(addr string, created, raided uint64) persistence.OutpostRecord {
	return persistence.OutpostRecord{
		Address:        addr,
		Outpost:        outpost.Outpost{OwnerDiscordID: addr, SecurityForces: outpost.InitialSecurityForces},
		CreatedSlot:    created,
		LastRaidedSlot: raided,
	}
}

func TestDecideProbabilityAndGoblins(t *testing.T) {
	policy := DefaultPolicy()
	policy.RoundRobin = false
	snap := &Snapshot{
		Status:   Status{Slot: 10},
		Outposts: []persistence.OutpostRecord{rec("a", 0, 0), rec("b", 0, 0), rec("c", 0, 0)},
	}
	// a: roll 0.05 hits, goblins draw 0.99 -> 5
	// b: roll 0.50 misses
	// c: roll 0.0 hits, goblins draw 0.0 -> 1
	src := &seqSource{vals: []float64{0.05, 0.99, 0.50, 0.0, 0.0}}

	plans := Decide(snap, policy, nil, src, nil, 1)
	assert.Equal(t, []Plan{{Address: "a", Goblins: 5}, {Address: "c", Goblins: 1}}, plans)
}

func TestDecideRoundRobinGuard(t *testing.T) {
	policy := DefaultPolicy()
	policy.Probability = 1
	hour := uint64(engine.SlotsPerHour)
	now := 10 * hour
	snap := &Snapshot{
		Status: Status{Slot: now},
		Outposts: []persistence.OutpostRecord{
			rec("fresh", now-10, 0),      // created within the gap
			rec("raided", 0, now-hour+1), // raided within the gap
			rec("due", 0, now-hour),      // exactly one gap ago
			rec("remembered", 0, 0),      // raided by us within the gap
			rec("old", 0, 0),
		},
	}
	last := map[string]uint64{"remembered": now - 5}

	plans := Decide(snap, policy, last, &seqSource{vals: []float64{0}}, nil, 1)
	var got []string
	for _, p := range plans {
		got = append(got, p.Address)
	}
	assert.Equal(t, []string{"due", "old"}, got)

	policy.RoundRobin = false
	plans = Decide(snap, policy, last, &seqSource{vals: []float64{0}}, nil, 1)
	assert.Len(t, plans, 5)
}

func TestDecideSkipsDead(t *testing.T) {
	dead := rec("dead", 0, 0)
	dead.IsDead = true
	policy := DefaultPolicy()
	policy.Probability = 1
	snap := &Snapshot{Status: Status{Slot: 1 << 20}, Outposts: []persistence.OutpostRecord{dead}}
	assert.Empty(t, Decide(snap, policy, nil, &seqSource{vals: []float64{0}}, nil, 1))
}

func TestTide(t *testing.T) {
	flat := NewTide(7, 0)
	assert.Equal(t, 0.1, flat.Probability(0.1, 42))

	var nilTide *Tide
	assert.Equal(t, 0.3, nilTide.Probability(0.3, 1))

	tide := NewTide(7, 0.5)
	for c := uint64(0); c < 200; c++ {
		p := tide.Probability(0.1, c)
		assert.GreaterOrEqual(t, p, 0.05-1e-9)
		assert.LessOrEqual(t, p, 0.15+1e-9)
	}
	assert.Equal(t, tide.Probability(0.1, 9), NewTide(7, 0.5).Probability(0.1, 9), "same seed, same tide")

	big := NewTide(1, 100)
	for c := uint64(0); c < 50; c++ {
		p := big.Probability(0.9, c)
		assert.True(t, p >= 0 && p <= 1)
	}
}

func TestGapSlots(t *testing.T) {
	assert.Equal(t, uint64(engine.SlotsPerHour), gapSlots(Policy{MinGap: time.Hour}))
	assert.Equal(t, uint64(0), gapSlots(Policy{}))
}
