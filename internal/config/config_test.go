package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/outposts/internal/persistence"
)

func TestLoadOutpostdDefaults(t *testing.T) {
	cfg, err := LoadOutpostd()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 500*time.Millisecond, cfg.SlotInterval)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.False(t, cfg.EmbedRaider)
	assert.Equal(t, 5*time.Minute, cfg.Raider.Interval)
	assert.Equal(t, 0.10, cfg.Raider.Policy.Probability)
	assert.True(t, cfg.Raider.Policy.RoundRobin)
	assert.Equal(t, time.Hour, cfg.Raider.Policy.MinGap)
	assert.Equal(t, uint64(5), cfg.Raider.Policy.MaxGoblins)
	assert.Equal(t, 50, cfg.Raider.Policy.BatchSize)

	pc, err := cfg.Persistence()
	require.NoError(t, err)
	assert.Equal(t, persistence.DialectSQLite, pc.Dialect)
}

func TestLoadOutpostdOverrides(t *testing.T) {
	t.Setenv("OUTPOSTD_PORT", "9090")
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("DB_DIALECT", "postgres")
	t.Setenv("DB_POSTGRES_DSN", "postgres://u:p@localhost/outposts")
	t.Setenv("PROBABILITY_RAID", "0.5")
	t.Setenv("RAID_MIN_GAP", "2h")

	cfg, err := LoadOutpostd()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 0.5, cfg.Raider.Policy.Probability)
	assert.Equal(t, 2*time.Hour, cfg.Raider.Policy.MinGap)

	pc, err := cfg.Persistence()
	require.NoError(t, err)
	assert.Equal(t, persistence.DialectPostgres, pc.Dialect)
}

func TestLoadOutpostdInvalid(t *testing.T) {
	t.Setenv("DB_DIALECT", "postgres")
	_, err := LoadOutpostd()
	assert.ErrorContains(t, err, "DB_POSTGRES_DSN")

	t.Setenv("DB_DIALECT", "mysql")
	_, err = LoadOutpostd()
	assert.ErrorContains(t, err, "unknown DB_DIALECT")

	t.Setenv("DB_DIALECT", "sqlite")
	t.Setenv("OUTPOSTD_EMBED_RAIDER", "true")
	_, err = LoadOutpostd()
	assert.ErrorContains(t, err, "OUTPOSTD_CONTROLLER_KEY")

	t.Setenv("OUTPOSTD_EMBED_RAIDER", "false")
	t.Setenv("OUTPOSTD_PORT", "not-a-port")
	_, err = LoadOutpostd()
	assert.ErrorContains(t, err, "parse env:")
}

func TestLoadRaider(t *testing.T) {
	t.Setenv("OUTPOSTD_CONTROLLER_KEY", "")
	_, err := LoadRaider()
	require.Error(t, err, "controller key is required")

	t.Setenv("OUTPOSTD_CONTROLLER_KEY", "ck")
	t.Setenv("RAIDER_API_URL", "http://api.internal:8080/")
	cfg, err := LoadRaider()
	require.NoError(t, err)
	assert.Equal(t, "http://api.internal:8080", cfg.APIURL)
	assert.Equal(t, "raider_memory.json", cfg.MemoryFile)
}

func TestRaiderPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("probability: 0.3\n"), 0644))
	t.Setenv("OUTPOSTD_CONTROLLER_KEY", "ck")
	t.Setenv("RAIDER_POLICY_FILE", path)
	t.Setenv("RAID_MAX_GOBLINS", "8")

	cfg, err := LoadRaider()
	require.NoError(t, err)
	p, err := cfg.LoadPolicy()
	require.NoError(t, err)
	assert.Equal(t, 0.3, p.Probability)
	assert.Equal(t, uint64(8), p.MaxGoblins)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("loud"))
}
