package repository

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/noor9026/slicebox/internal/database"
	"github.com/noor9026/slicebox/internal/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB connects to the integration database named by
// SLICEBOX_TEST_DATABASE_DSN and starts from empty tables. Tests are
// skipped when the variable is unset.
func setupTestDB(t *testing.T) {
	t.Helper()

	dsn := os.Getenv("SLICEBOX_TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("SLICEBOX_TEST_DATABASE_DSN not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	database.DB = db
	require.NoError(t, database.AutoMigrate())

	for _, table := range []string{
		"outgoing_tag_values", "outgoing_images", "outgoing_transactions",
		"incoming_images", "incoming_transactions",
		"anonymization_keys", "images", "boxes",
	} {
		require.NoError(t, db.Exec("DELETE FROM "+table).Error)
	}
}

func createTestBox(t *testing.T, name string, method models.SendMethod) *models.Box {
	t.Helper()
	box := &models.Box{
		Name:       name,
		Token:      uuid.New().String(),
		BaseURL:    "http://remote.example/api/box",
		SendMethod: method,
	}
	require.NoError(t, NewBoxRepository().Create(context.Background(), box))
	return box
}
