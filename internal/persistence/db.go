// Package persistence provides the SQL entity store for outposts,
// participants, and the ledger event log. SQLite is the default backend;
// Postgres is selected through Config.Dialect.
//
// Ledger transactions lock the outpost and participant rows they read
// (SELECT ... FOR UPDATE) on Postgres, so several outpostd processes may
// share one Postgres database. A SQLite file supports one writer process.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/outposts/internal/outpost"
)

// Dialect names a supported SQL backend.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Config selects and locates the backing database.
type Config struct {
	Dialect     Dialect
	SQLitePath  string
	PostgresDSN string
}

// DB wraps a SQL connection for ledger state persistence.
type DB struct {
	conn    *sqlx.DB
	dialect Dialect
}

// Open opens (creating if needed) the configured database and applies the schema.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	var driverName, dsn string
	switch cfg.Dialect {
	case DialectSQLite, "":
		cfg.Dialect = DialectSQLite
		path := cfg.SQLitePath
		if path == "" {
			path = filepath.Join("data", "outposts.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
		driverName = "sqlite"
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	case DialectPostgres:
		if cfg.PostgresDSN == "" {
			return nil, errors.New("postgres dialect requires a DSN")
		}
		driverName = "pgx"
		dsn = cfg.PostgresDSN
	default:
		return nil, fmt.Errorf("unsupported dialect %q", cfg.Dialect)
	}

	conn, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", cfg.Dialect, err)
	}
	if cfg.Dialect == DialectSQLite {
		conn.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping %s db: %w", cfg.Dialect, err)
	}

	db := New(conn, cfg.Dialect)
	if err := db.Migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	slog.Info("database opened", "dialect", cfg.Dialect)
	return db, nil
}

// New wraps an existing connection without touching the schema.
func New(conn *sqlx.DB, dialect Dialect) *DB {
	return &DB{conn: conn, dialect: dialect}
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Migrate creates any missing tables.
func (db *DB) Migrate(ctx context.Context) error {
	boolType, boolDefault := "INTEGER", "0"
	if db.dialect == DialectPostgres {
		boolType, boolDefault = "BOOLEAN", "FALSE"
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS outposts (
			address TEXT PRIMARY KEY,
			owner_discord_id TEXT NOT NULL,
			battle_points BIGINT NOT NULL,
			credz BIGINT NOT NULL,
			security_forces BIGINT NOT NULL,
			is_dead ` + boolType + ` NOT NULL DEFAULT ` + boolDefault + `,
			created_slot BIGINT NOT NULL,
			last_raided_slot BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS participants (
			owner TEXT PRIMARY KEY,
			goods_bought BIGINT NOT NULL,
			next_purchase_slot BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			slot BIGINT NOT NULL,
			kind TEXT NOT NULL,
			address TEXT NOT NULL,
			actor TEXT NOT NULL,
			detail TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_slot ON events(slot)`,
		`CREATE INDEX IF NOT EXISTS idx_outposts_dead ON outposts(is_dead)`,
	}
	for _, stmt := range schema {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// InTx runs fn inside one transaction. The transaction commits only if fn
// returns nil; any error rolls every write back.
func (db *DB) InTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Tx{tx: tx, dialect: db.dialect}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListOutposts returns all outposts ordered by creation, optionally only the living ones.
func (db *DB) ListOutposts(ctx context.Context, aliveOnly bool) ([]OutpostRecord, error) {
	q := "SELECT " + outpostColumns + " FROM outposts"
	if aliveOnly {
		q += " WHERE is_dead = " + db.falseLiteral()
	}
	q += " ORDER BY created_slot, address"

	var rows []outpostRow
	if err := db.conn.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("list outposts: %w", err)
	}
	out := make([]OutpostRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

// RecentEvents returns the most recent limit events, newest first.
func (db *DB) RecentEvents(ctx context.Context, limit int) ([]EventRecord, error) {
	var events []EventRecord
	err := db.conn.SelectContext(ctx, &events, db.conn.Rebind(
		"SELECT id, slot, kind, address, actor, detail, created_at FROM events ORDER BY slot DESC, created_at DESC LIMIT ?"),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	return events, nil
}

// MaxEventSlot returns the highest slot any committed operation ran at.
func (db *DB) MaxEventSlot(ctx context.Context) (uint64, error) {
	var slot int64
	if err := db.conn.GetContext(ctx, &slot, "SELECT COALESCE(MAX(slot), 0) FROM events"); err != nil {
		return 0, fmt.Errorf("max event slot: %w", err)
	}
	return uint64(slot), nil
}

// Stats aggregates ledger-wide counters.
func (db *DB) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := db.conn.GetContext(ctx, &st, `SELECT
		COUNT(*) AS outposts,
		COALESCE(SUM(CASE WHEN is_dead = `+db.falseLiteral()+` THEN 1 ELSE 0 END), 0) AS alive,
		COALESCE(SUM(credz), 0) AS total_credz,
		COALESCE(SUM(battle_points), 0) AS total_battle_points,
		COALESCE(SUM(security_forces), 0) AS total_security_forces
		FROM outposts`)
	if err != nil {
		return Stats{}, fmt.Errorf("outpost stats: %w", err)
	}
	if err := db.conn.GetContext(ctx, &st.Participants, "SELECT COUNT(*) FROM participants"); err != nil {
		return Stats{}, fmt.Errorf("participant stats: %w", err)
	}
	return st, nil
}

// SaveMeta stores a key-value pair in ledger metadata.
func (db *DB) SaveMeta(ctx context.Context, key, value string) error {
	_, err := db.conn.ExecContext(ctx, db.conn.Rebind(
		`INSERT INTO ledger_meta (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`),
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value. ok is false when the key is absent.
func (db *DB) GetMeta(ctx context.Context, key string) (value string, ok bool, err error) {
	err = db.conn.GetContext(ctx, &value, db.conn.Rebind("SELECT value FROM ledger_meta WHERE key = ?"), key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (db *DB) falseLiteral() string {
	if db.dialect == DialectPostgres {
		return "FALSE"
	}
	return "0"
}

// Tx is a single ledger transaction.
type Tx struct {
	tx      *sqlx.Tx
	dialect Dialect
}

// forUpdate is the row-lock suffix for reads that precede a write.
func (t *Tx) forUpdate() string {
	if t.dialect == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// Outpost loads and locks the outpost at address, or outpost.ErrNotFound.
func (t *Tx) Outpost(ctx context.Context, address string) (OutpostRecord, error) {
	return getOutpost(ctx, t.tx, t.tx.Rebind("SELECT "+outpostColumns+" FROM outposts WHERE address = ?"+t.forUpdate()), address)
}

func getOutpost(ctx context.Context, q sqlx.QueryerContext, query, address string) (OutpostRecord, error) {
	var r outpostRow
	err := sqlx.GetContext(ctx, q, &r, query, address)
	if errors.Is(err, sql.ErrNoRows) {
		return OutpostRecord{}, fmt.Errorf("%w: %s", outpost.ErrNotFound, address)
	}
	if err != nil {
		return OutpostRecord{}, fmt.Errorf("load outpost %s: %w", address, err)
	}
	return r.record(), nil
}

// InsertOutpost stores a new outpost. It refuses to replace an existing
// record at the same address.
func (t *Tx) InsertOutpost(ctx context.Context, rec OutpostRecord) error {
	var n int
	if err := t.tx.GetContext(ctx, &n, t.tx.Rebind("SELECT COUNT(*) FROM outposts WHERE address = ?"), rec.Address); err != nil {
		return fmt.Errorf("check outpost %s: %w", rec.Address, err)
	}
	if n > 0 {
		return fmt.Errorf("%w: %s", outpost.ErrAlreadyExists, rec.OwnerDiscordID)
	}

	r, err := rowFromRecord(rec)
	if err != nil {
		return err
	}
	_, err = t.tx.NamedExecContext(ctx, `INSERT INTO outposts
		(address, owner_discord_id, battle_points, credz, security_forces, is_dead, created_slot, last_raided_slot)
		VALUES (:address, :owner_discord_id, :battle_points, :credz, :security_forces, :is_dead, :created_slot, :last_raided_slot)`, r)
	if err != nil {
		return fmt.Errorf("insert outpost %s: %w", rec.Address, err)
	}
	return nil
}

// UpdateOutpost writes back the mutable fields of an existing outpost.
func (t *Tx) UpdateOutpost(ctx context.Context, rec OutpostRecord) error {
	r, err := rowFromRecord(rec)
	if err != nil {
		return err
	}
	res, err := t.tx.NamedExecContext(ctx, `UPDATE outposts SET
		battle_points = :battle_points, credz = :credz, security_forces = :security_forces,
		is_dead = :is_dead, last_raided_slot = :last_raided_slot
		WHERE address = :address`, r)
	if err != nil {
		return fmt.Errorf("update outpost %s: %w", rec.Address, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", outpost.ErrNotFound, rec.Address)
	}
	return nil
}

// Participant loads the participant record for owner. ok is false if absent.
func (t *Tx) Participant(ctx context.Context, owner string) (p outpost.Participant, ok bool, err error) {
	return getParticipant(ctx, t.tx, t.tx.Rebind(participantQuery+t.forUpdate()), owner)
}

// LockParticipant loads owner's record for a purchase, holding its row lock
// until the transaction ends. On Postgres an absent participant is first
// inserted with zero counters so concurrent first purchases queue on the
// same row; a rollback removes it again.
func (t *Tx) LockParticipant(ctx context.Context, owner string) (outpost.Participant, error) {
	if t.dialect == DialectPostgres {
		_, err := t.tx.ExecContext(ctx, t.tx.Rebind(`INSERT INTO participants (owner, goods_bought, next_purchase_slot)
			VALUES (?, 0, 0) ON CONFLICT (owner) DO NOTHING`), owner)
		if err != nil {
			return outpost.Participant{}, fmt.Errorf("reserve participant %s: %w", owner, err)
		}
	}
	p, _, err := t.Participant(ctx, owner)
	p.Owner = owner
	return p, err
}

const participantQuery = "SELECT owner, goods_bought, next_purchase_slot FROM participants WHERE owner = ?"

func getParticipant(ctx context.Context, q sqlx.QueryerContext, query, owner string) (outpost.Participant, bool, error) {
	var r participantRow
	err := sqlx.GetContext(ctx, q, &r, query, owner)
	if errors.Is(err, sql.ErrNoRows) {
		return outpost.Participant{}, false, nil
	}
	if err != nil {
		return outpost.Participant{}, false, fmt.Errorf("load participant %s: %w", owner, err)
	}
	return r.participant(), true, nil
}

// UpsertParticipant creates or overwrites the participant record.
func (t *Tx) UpsertParticipant(ctx context.Context, p outpost.Participant) error {
	goods, err := toInt64(p.GoodsBought, "goods_bought")
	if err != nil {
		return err
	}
	next, err := toInt64(p.NextPurchaseSlot, "next_purchase_slot")
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, t.tx.Rebind(`INSERT INTO participants (owner, goods_bought, next_purchase_slot)
		VALUES (?, ?, ?)
		ON CONFLICT (owner) DO UPDATE SET goods_bought = excluded.goods_bought, next_purchase_slot = excluded.next_purchase_slot`),
		p.Owner, goods, next,
	)
	if err != nil {
		return fmt.Errorf("upsert participant %s: %w", p.Owner, err)
	}
	return nil
}

// AppendEvent adds an event to the log.
func (t *Tx) AppendEvent(ctx context.Context, e EventRecord) error {
	slot, err := toInt64(e.Slot, "slot")
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, t.tx.Rebind(
		"INSERT INTO events (id, slot, kind, address, actor, detail, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)"),
		e.ID, slot, e.Kind, e.Address, e.Actor, e.Detail, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Participant reads a participant record outside of any ledger operation.
func (db *DB) Participant(ctx context.Context, owner string) (outpost.Participant, bool, error) {
	return getParticipant(ctx, db.conn, db.conn.Rebind(participantQuery), owner)
}

// Outpost reads an outpost record outside of any ledger operation.
func (db *DB) Outpost(ctx context.Context, address string) (OutpostRecord, error) {
	return getOutpost(ctx, db.conn, db.conn.Rebind("SELECT "+outpostColumns+" FROM outposts WHERE address = ?"), address)
}

// Counters are stored as signed BIGINT; anything past MaxInt64 is refused
// rather than wrapped.
func toInt64(v uint64, field string) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %s %d exceeds storage range", outpost.ErrOverflow, field, v)
	}
	return int64(v), nil
}
