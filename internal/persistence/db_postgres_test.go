package persistence

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/outposts/internal/outpost"
)

func newPostgresMock(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return New(sqlx.NewDb(conn, "pgx"), DialectPostgres), mock
}

var outpostCols = []string{"address", "owner_discord_id", "battle_points", "credz", "security_forces", "is_dead", "created_slot", "last_raided_slot"}

func TestPostgresTxLocksRows(t *testing.T) {
	db, mock := newPostgresMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM outposts WHERE address = $1 FOR UPDATE")).
		WithArgs("addr").
		WillReturnRows(sqlmock.NewRows(outpostCols).AddRow("addr", "42", int64(3), int64(10), int64(7), false, int64(1), int64(0)))
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (owner) DO NOTHING")).
		WithArgs("alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM participants WHERE owner = $1 FOR UPDATE")).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"owner", "goods_bought", "next_purchase_slot"}).AddRow("alice", int64(0), int64(0)))
	mock.ExpectCommit()

	var rec OutpostRecord
	var p outpost.Participant
	err := db.InTx(ctx, func(tx *Tx) error {
		var err error
		if rec, err = tx.Outpost(ctx, "addr"); err != nil {
			return err
		}
		p, err = tx.LockParticipant(ctx, "alice")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(10), rec.Credz)
	assert.Equal(t, "alice", p.Owner)
	assert.Zero(t, p.NextPurchaseSlot)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteLockParticipantIsPlainRead(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.InTx(ctx, func(tx *Tx) error {
		p, err := tx.LockParticipant(ctx, "nobody")
		assert.Equal(t, "nobody", p.Owner)
		return err
	})
	require.NoError(t, err)

	_, ok, err := db.Participant(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, ok, "a read must not create the participant")
}

func TestPostgresReadsDoNotLock(t *testing.T) {
	db, mock := newPostgresMock(t)
	ctx := context.Background()

	mock.ExpectQuery(`FROM outposts WHERE address = \$1$`).
		WithArgs("addr").
		WillReturnRows(sqlmock.NewRows(outpostCols).AddRow("addr", "42", int64(0), int64(0), int64(10), true, int64(1), int64(5)))

	rec, err := db.Outpost(ctx, "addr")
	require.NoError(t, err)
	assert.True(t, rec.IsDead)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListAliveAndStats(t *testing.T) {
	db, mock := newPostgresMock(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE is_dead = FALSE ORDER BY created_slot, address")).
		WillReturnRows(sqlmock.NewRows(outpostCols).AddRow("a", "1", int64(0), int64(0), int64(10), false, int64(1), int64(0)))
	// SUM over BIGINT is NUMERIC in Postgres; the driver hands it over as text.
	mock.ExpectQuery(regexp.QuoteMeta("CASE WHEN is_dead = FALSE")).
		WillReturnRows(sqlmock.NewRows([]string{"outposts", "alive", "total_credz", "total_battle_points", "total_security_forces"}).
			AddRow(int64(2), "1", "9223372036854775900", "12", "10"))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM participants").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(4)))

	list, err := db.ListOutposts(ctx, true)
	require.NoError(t, err)
	require.Len(t, list, 1)

	st, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Outposts)
	assert.Equal(t, 1, st.Alive)
	assert.Equal(t, uint64(9223372036854775900), st.TotalCredz)
	assert.Equal(t, uint64(12), st.TotalBattlePoints)
	assert.Equal(t, 4, st.Participants)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMigrateUsesBoolean(t *testing.T) {
	db, mock := newPostgresMock(t)

	mock.ExpectExec(regexp.QuoteMeta("is_dead BOOLEAN NOT NULL DEFAULT FALSE")).WillReturnResult(sqlmock.NewResult(0, 0))
	for i := 0; i < 5; i++ {
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	require.NoError(t, db.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
