//go:build integration

package testhelpers

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-bi/pkg/database"
)

func TestGetTestDB_Connection(t *testing.T) {
	testDB := GetTestDB(t)

	var one int
	require.NoError(t, testDB.Pool.QueryRow(context.Background(), "SELECT 1").Scan(&one))
	assert.Equal(t, 1, one)
}

func TestNewSchema_Unique(t *testing.T) {
	testDB := GetTestDB(t)

	a := NewSchema(t, testDB.Pool)
	b := NewSchema(t, testDB.Pool)
	assert.NotEqual(t, a, b)

	var count int
	err := testDB.Pool.QueryRow(context.Background(),
		"SELECT COUNT(*) FROM information_schema.schemata WHERE schema_name IN ($1, $2)", a, b).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestGetAppDB_MigrationsApplied(t *testing.T) {
	appDB := GetAppDB(t)
	ctx := context.Background()

	for _, table := range []string{"bi_datasources", "bi_external_connections", "bi_diagrams"} {
		var exists bool
		err := appDB.DB.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)", table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, table)
	}

	// Running migrations again is a no-op.
	sqlDB, err := database.OpenSQL(appDB.ConnStr)
	require.NoError(t, err)
	defer sqlDB.Close()
	require.NoError(t, database.RunMigrations(sqlDB, zap.NewNop()))
}

func TestGetAppDB_RowLevelSecurity(t *testing.T) {
	appDB := GetAppDB(t)
	owner, other := uuid.New(), uuid.New()

	ctx := appDB.OwnerContext(t, owner)
	scope, ok := database.GetOwnerScope(ctx)
	require.True(t, ok)

	_, err := scope.Conn.Exec(ctx,
		"INSERT INTO bi_datasources (owner_id, name) VALUES ($1, 'mine')", owner)
	require.NoError(t, err)

	_, err = scope.Conn.Exec(ctx,
		"INSERT INTO bi_datasources (owner_id, name) VALUES ($1, 'theirs')", other)
	assert.Error(t, err, "policy rejects rows of another owner")

	otherCtx := appDB.OwnerContext(t, other)
	otherScope, _ := database.GetOwnerScope(otherCtx)
	var visible int
	require.NoError(t, otherScope.Conn.QueryRow(otherCtx,
		"SELECT COUNT(*) FROM bi_datasources WHERE name = 'mine'").Scan(&visible))
	assert.Zero(t, visible)
}
