package sqlite

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/coop/db/migrator"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	rndName := make([]byte, 12)
	_, err := rand.Read(rndName)
	require.NoError(t, err)

	db, err := sql.Open("sqlite", fmt.Sprintf("file:coop-%x?mode=memory&cache=shared", rndName))
	require.NoError(t, err)
	db.SetMaxIdleConns(10)
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func TestTable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestDB(t)
	d := New()

	def := migrator.TableDef{
		Name: "payslip",
		Columns: []migrator.ColumnDef{
			{Name: "id", Type: "uuid"},
			{Name: "employee_id", Type: "uuid"},
			{Name: "farm_id", Type: "uuid", Default: sql.Null[string]{
				V: "'00000000-0000-0000-0000-000000000000'", Valid: true,
			}},
			{Name: "gross", Type: "numeric(10,2)", Nullable: true},
		},
		PrimaryKey: []string{"employee_id", "id"},
		Indexes: []migrator.IndexDef{
			{Name: "ix_payslip_employee_id", Columns: []string{"employee_id"}},
			{Name: "ix_payslip_farm_gross", Columns: []string{"farm_id", "gross"}, Unique: true},
		},
	}
	stmts, err := d.Statements(ctx, db, migrator.CreateTable{Table: def})
	require.NoError(t, err)
	for _, stmt := range stmts {
		_, err = db.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}

	got, ok, err := d.Table(ctx, db, "", "payslip")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, def, got)

	idx, table, ok, err := d.Index(ctx, db, "", "ix_payslip_farm_gross")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, def.Indexes[1], idx)
	assert.Equal(t, "payslip", table)

	_, _, ok, err = d.Index(ctx, db, "", "ix_missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = d.Table(ctx, db, "", "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = d.Column(ctx, db, "", "missing", "id")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAlterColumnRebuild(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestDB(t)
	d := New()

	for _, stmt := range []string{
		`CREATE TABLE "ksef_invoice" ("id" uuid NOT NULL, "invoice_date" timestamp with time zone NOT NULL, PRIMARY KEY ("id"))`,
		`CREATE UNIQUE INDEX "ix_ksef_invoice_date" ON "ksef_invoice" ("invoice_date")`,
		`INSERT INTO ksef_invoice VALUES ('a', '2025-06-20')`,
	} {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}

	op := migrator.AlterColumn{Table: "ksef_invoice", Column: migrator.ColumnDef{
		Name: "invoice_date", Type: "date", Nullable: true,
	}}
	stmts, err := d.Statements(ctx, db, op)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"CREATE TABLE \"_new_ksef_invoice\" (\n\t\"id\" uuid NOT NULL,\n\t\"invoice_date\" date,\n\tPRIMARY KEY (\"id\")\n)",
		`INSERT INTO "_new_ksef_invoice" ("id", "invoice_date") SELECT "id", "invoice_date" FROM "ksef_invoice"`,
		`DROP TABLE "ksef_invoice"`,
		`ALTER TABLE "_new_ksef_invoice" RENAME TO "ksef_invoice"`,
		`CREATE UNIQUE INDEX "ix_ksef_invoice_date" ON "ksef_invoice" ("invoice_date")`,
	}, stmts)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	for _, stmt := range stmts {
		_, err = tx.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit())

	c, ok, err := d.Column(ctx, db, "", "ksef_invoice", "invoice_date")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, op.Column, c)

	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT count(*) FROM ksef_invoice WHERE id = 'a'`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestLock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestDB(t)
	d := &Dialect{pollInterval: 10 * time.Millisecond}

	release, err := d.Lock(ctx, db, "", "history", "first")
	require.NoError(t, err)

	lctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = d.Lock(lctx, db, "", "history", "second")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, release())

	release2, err := d.Lock(ctx, db, "", "history", "second")
	require.NoError(t, err)
	require.NoError(t, d.ForceUnlock(ctx, db, "", "history"))
	assert.EqualError(t, release2(), "the lock was released by another process")

	assert.EqualError(t, release(), "the lock was released by another process")
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	d := New()
	assert.Equal(t, "timestamp with time zone", d.NormalizeType(" TIMESTAMP  WITH\ttime zone"))
	assert.Equal(t, "numeric(10,2)", d.NormalizeType("NUMERIC(10,2)"))
	assert.Equal(t, "'ABC'", d.NormalizeDefault("('ABC')"))
	assert.Equal(t, "current_timestamp", d.NormalizeDefault("CURRENT_TIMESTAMP"))
	assert.Equal(t, "2025", d.NormalizeDefault("(2025)"))
}
