package raider

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy tunes the raid controller. Environment values are the defaults;
// a policy file overrides the fields it sets.
type Policy struct {
	Probability   float64       `yaml:"probability" env:"PROBABILITY_RAID" envDefault:"0.10"`
	RoundRobin    bool          `yaml:"round_robin" env:"RAID_ROUND_ROBIN" envDefault:"true"`
	MinGap        time.Duration `yaml:"min_gap" env:"RAID_MIN_GAP" envDefault:"1h"`
	MinGoblins    uint64        `yaml:"min_goblins" env:"RAID_MIN_GOBLINS" envDefault:"1"`
	MaxGoblins    uint64        `yaml:"max_goblins" env:"RAID_MAX_GOBLINS" envDefault:"5"`
	BatchSize     int           `yaml:"batch_size" env:"RAID_BATCH_SIZE" envDefault:"50"`
	Concurrency   int           `yaml:"concurrency" env:"RAID_CONCURRENCY" envDefault:"8"`
	TideAmplitude float64       `yaml:"tide_amplitude" env:"RAID_TIDE_AMPLITUDE" envDefault:"0"`
	TideSeed      int64         `yaml:"tide_seed" env:"RAID_TIDE_SEED" envDefault:"0"`
}

// DefaultPolicy matches the env defaults.
func DefaultPolicy() Policy {
	return Policy{
		Probability: 0.10,
		RoundRobin:  true,
		MinGap:      time.Hour,
		MinGoblins:  1,
		MaxGoblins:  5,
		BatchSize:   50,
		Concurrency: 8,
	}
}

// LoadPolicy overlays the YAML file at path onto base. An empty path
// returns base unchanged.
func LoadPolicy(path string, base Policy) (Policy, error) {
	if path == "" {
		return base, base.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read policy: %w", err)
	}
	p := base
	if err := yaml.Unmarshal(data, &p); err != nil {
		return base, fmt.Errorf("parse policy %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return base, fmt.Errorf("policy %s: %w", path, err)
	}
	return p, nil
}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	var errs []error
	if p.Probability < 0 || p.Probability > 1 {
		errs = append(errs, fmt.Errorf("probability %v outside [0, 1]", p.Probability))
	}
	if p.MinGoblins == 0 || p.MinGoblins > p.MaxGoblins {
		errs = append(errs, fmt.Errorf("goblin range %d..%d invalid", p.MinGoblins, p.MaxGoblins))
	}
	if p.BatchSize <= 0 {
		errs = append(errs, errors.New("batch_size must be positive"))
	}
	if p.Concurrency <= 0 {
		errs = append(errs, errors.New("concurrency must be positive"))
	}
	if p.MinGap < 0 {
		errs = append(errs, errors.New("min_gap must not be negative"))
	}
	if p.TideAmplitude < 0 {
		errs = append(errs, errors.New("tide_amplitude must not be negative"))
	}
	return errors.Join(errs...)
}
