package db

import (
	"context"
	"crypto/rand"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/coop/db/migrator"
	"go.hackfix.me/coop/db/types"
)

func TestMigrations(t *testing.T) {
	t.Parallel()

	migs, err := Migrations()
	require.NoError(t, err)

	names := make([]string, len(migs))
	for i, m := range migs {
		names[i] = m.String()
	}
	assert.Equal(t, []string{
		"20250101000000_InitialCreate",
		"20250310121500_AddIrzplusCredentials",
		"20250402090000_AddProducerNumberColumns",
		"20250515143000_RenameFallenStockGroup",
		"20250620101500_ChangeKsefInvoiceDateType",
		"20250801080000_AddCycleYear",
		"20250905110000_AddPayslipFarm",
		"20251001093000_AddSaleFarmIndex",
	}, names)

	for _, m := range migs {
		_, err := m.Reverse()
		assert.NoError(t, err, m.String())
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	timeNow := func() time.Time { return time.Date(2025, 10, 1, 9, 30, 0, 0, time.UTC) }

	t.Run("ok/sqlite", func(t *testing.T) {
		t.Parallel()
		rndName := make([]byte, 12)
		_, err := rand.Read(rndName)
		require.NoError(t, err)

		d, err := Open(ctx, types.DriverSQLite,
			fmt.Sprintf("file:coop-%x?mode=memory&cache=shared", rndName), timeNow)
		require.NoError(t, err)
		t.Cleanup(func() { _ = d.Close() })

		assert.Equal(t, types.DriverSQLite, d.Driver())
		assert.Equal(t, "sqlite", d.Dialect().Name())
		assert.Equal(t, timeNow(), d.TimeNow())

		migs, err := Migrations()
		require.NoError(t, err)
		m, err := d.Migrator(migs)
		require.NoError(t, err)
		_, err = m.Upgrade(ctx, "")
		require.NoError(t, err)

		status, err := m.Status(ctx)
		require.NoError(t, err)
		require.Len(t, status, len(migs))
		for _, s := range status {
			assert.Equal(t, migrator.StateApplied, s.State, s.ID)
			assert.True(t, timeNow().Equal(s.AppliedAt.V), s.ID)
		}
	})

	t.Run("err/unsupported_driver", func(t *testing.T) {
		t.Parallel()
		_, err := Open(ctx, types.Driver("mysql"), "", timeNow)
		assert.EqualError(t, err, "unsupported database driver 'mysql'")
	})
}
