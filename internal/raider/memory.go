package raider

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

const maxRecords = 20

// CycleReport captures what happened in a single raid cycle.
type CycleReport struct {
	Cycle      uint64   `json:"cycle"`
	Slot       uint64   `json:"slot"`
	Considered int      `json:"considered"`
	Selected   int      `json:"selected"`
	Fulfilled  int      `json:"fulfilled"`
	Rejected   int      `json:"rejected"`
	Destroyed  []string `json:"destroyed,omitempty"`
}

// CycleMemory keeps recent cycle reports and the slot each outpost was last
// raided by this controller.
type CycleMemory struct {
	Cycle      uint64            `json:"cycle"`
	Records    []CycleReport     `json:"records"`
	LastRaided map[string]uint64 `json:"last_raided"`
}

// LoadMemory reads the memory file from disk. Returns empty memory if not
// found or unreadable.
func LoadMemory(path string) *CycleMemory {
	mem := &CycleMemory{LastRaided: map[string]uint64{}}
	if path == "" {
		return mem
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return mem
	}
	if err := json.Unmarshal(data, mem); err != nil {
		slog.Warn("raider memory corrupted, starting fresh", "path", path, "error", err)
		return &CycleMemory{LastRaided: map[string]uint64{}}
	}
	if mem.LastRaided == nil {
		mem.LastRaided = map[string]uint64{}
	}
	return mem
}

// Save writes the memory to disk. An empty path keeps memory in-process.
func (m *CycleMemory) Save(path string) error {
	if path == "" {
		return nil
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal raider memory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write raider memory: %w", err)
	}
	return nil
}

// Record adds a cycle report, trimming to maxRecords.
func (m *CycleMemory) Record(r CycleReport) {
	m.Cycle = r.Cycle
	m.Records = append(m.Records, r)
	if len(m.Records) > maxRecords {
		m.Records = m.Records[len(m.Records)-maxRecords:]
	}
}

// Forget drops last-raided entries for outposts not in alive.
func (m *CycleMemory) Forget(alive map[string]bool) {
	for addr := range m.LastRaided {
		if !alive[addr] {
			delete(m.LastRaided, addr)
		}
	}
}
