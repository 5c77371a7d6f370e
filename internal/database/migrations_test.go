package database_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maelcorre/fleetdesk/internal/database"
	"github.com/maelcorre/fleetdesk/internal/database/testutil"
	"github.com/maelcorre/fleetdesk/internal/models"
)

func TestAutoMigrateCreatesSchema(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	for _, table := range []string{"users", "roles", "user_roles", "notifications"} {
		require.True(t, db.Migrator().HasTable(table), "missing table %s", table)
	}
}

func TestSeedDataInsertsDefaultRoles(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())

	var roles []models.Role
	require.NoError(t, db.Order("code").Find(&roles).Error)

	codes := make([]string, 0, len(roles))
	for _, role := range roles {
		codes = append(codes, role.Code)
	}
	require.Equal(t, []string{"admin", "driver", "operator"}, codes)
}

func TestSeedDataIsIdempotent(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())

	require.NoError(t, database.SeedData(db))
	require.NoError(t, database.SeedData(db))

	var count int64
	require.NoError(t, db.Model(&models.Role{}).Count(&count).Error)
	require.Equal(t, int64(3), count)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := database.Open(database.Config{Driver: "oracle"})
	require.Error(t, err)
}
