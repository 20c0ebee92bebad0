package services

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/noor9026/slicebox/internal/cache"
	"github.com/noor9026/slicebox/internal/database"
	"github.com/noor9026/slicebox/internal/dicomstream"
	"github.com/noor9026/slicebox/internal/models"
	"github.com/noor9026/slicebox/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom/pkg/tag"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

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
	require.NoError(t, db.Exec("DELETE FROM anonymization_keys").Error)
}

func imageAttributes(patientID, studyUID, seriesUID, sopUID string) *dicomstream.Attributes {
	attributes := dicomstream.NewAttributes()
	attributes.Set(tag.PatientName, "Doe^Jane")
	attributes.Set(tag.PatientID, patientID)
	attributes.Set(tag.PatientBirthDate, "19751224")
	attributes.Set(tag.PatientSex, "F")
	attributes.Set(tag.PatientAge, "050Y")
	attributes.Set(tag.StudyInstanceUID, studyUID)
	attributes.Set(tag.StudyDescription, "Chest CT")
	attributes.Set(tag.SeriesInstanceUID, seriesUID)
	attributes.Set(tag.SeriesDescription, "Axial")
	attributes.Set(tag.SOPInstanceUID, sopUID)
	return attributes
}

func TestKeyForImageReusesPseudonymsWithinSeries(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	service := NewAnonymizationService(repository.NewAnonymizationKeyRepository(), cache.NewMemoryCache(), true)

	first, err := service.KeyForImage(ctx, uuid.New(), imageAttributes("PAT1", "1.2.3", "1.2.3.1", "1.2.3.1.1"))
	require.NoError(t, err)

	second, err := service.KeyForImage(ctx, uuid.New(), imageAttributes("PAT1", "1.2.3", "1.2.3.1", "1.2.3.1.2"))
	require.NoError(t, err)

	assert.Equal(t, first.AnonPatientName, second.AnonPatientName)
	assert.Equal(t, first.AnonPatientID, second.AnonPatientID)
	assert.Equal(t, first.AnonStudyInstanceUID, second.AnonStudyInstanceUID)
	assert.Equal(t, first.AnonSeriesInstanceUID, second.AnonSeriesInstanceUID)
	assert.NotEqual(t, first.AnonSOPInstanceUID, second.AnonSOPInstanceUID,
		"each image gets its own pseudonymised SOP instance")
	assert.True(t, first.SamePatientStudySeries(second))
}

func TestKeyForImageNewSeriesNewUID(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	service := NewAnonymizationService(repository.NewAnonymizationKeyRepository(), cache.NewMemoryCache(), true)

	first, err := service.KeyForImage(ctx, uuid.New(), imageAttributes("PAT1", "1.2.3", "1.2.3.1", "1.2.3.1.1"))
	require.NoError(t, err)

	otherSeries, err := service.KeyForImage(ctx, uuid.New(), imageAttributes("PAT1", "1.2.3", "1.2.3.2", "1.2.3.2.1"))
	require.NoError(t, err)
	assert.Equal(t, first.AnonStudyInstanceUID, otherSeries.AnonStudyInstanceUID)
	assert.NotEqual(t, first.AnonSeriesInstanceUID, otherSeries.AnonSeriesInstanceUID)

	otherPatient, err := service.KeyForImage(ctx, uuid.New(), imageAttributes("PAT2", "9.8.7", "9.8.7.1", "9.8.7.1.1"))
	require.NoError(t, err)
	assert.NotEqual(t, first.AnonPatientID, otherPatient.AnonPatientID)
}

func TestKeyForImageFullMatchIsReusedNotDuplicated(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	repo := repository.NewAnonymizationKeyRepository()
	service := NewAnonymizationService(repo, cache.NewMemoryCache(), true)

	attributes := imageAttributes("PAT1", "1.2.3", "1.2.3.1", "1.2.3.1.1")
	imageID := uuid.New()

	first, err := service.KeyForImage(ctx, imageID, attributes)
	require.NoError(t, err)
	again, err := service.KeyForImage(ctx, imageID, attributes)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID, "re-anonymising the same image reuses its key")

	keys, err := repo.QueryProtectedKeys(ctx, "Doe^Jane", "PAT1")
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestLookupForReceivedImageLevels(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	service := NewAnonymizationService(repository.NewAnonymizationKeyRepository(), cache.NewMemoryCache(), true)

	key, err := service.KeyForImage(ctx, uuid.New(), imageAttributes("PAT1", "1.2.3", "1.2.3.1", "1.2.3.1.1"))
	require.NoError(t, err)

	matched, err := service.LookupForReceivedImage(ctx,
		key.AnonPatientName, key.AnonPatientID, key.AnonStudyInstanceUID,
		key.AnonSeriesInstanceUID, key.AnonSOPInstanceUID)
	require.NoError(t, err)
	require.NotNil(t, matched)
	assert.Equal(t, models.KeyLevelImage, matched.Level)

	matched, err = service.LookupForReceivedImage(ctx,
		key.AnonPatientName, key.AnonPatientID, key.AnonStudyInstanceUID,
		key.AnonSeriesInstanceUID, "2.25.424242")
	require.NoError(t, err)
	require.NotNil(t, matched)
	assert.Equal(t, models.KeyLevelSeries, matched.Level)

	matched, err = service.LookupForReceivedImage(ctx,
		key.AnonPatientName, key.AnonPatientID, "2.25.5555", "2.25.6666", "2.25.7777")
	require.NoError(t, err)
	require.NotNil(t, matched)
	assert.Equal(t, models.KeyLevelPatient, matched.Level)

	matched, err = service.LookupForReceivedImage(ctx,
		"Nobody", "NOPE", "1", "2", "3")
	require.NoError(t, err)
	assert.Nil(t, matched, "an unknown patient matches nothing")
}

func TestHandleImagesDeletedPurgesKeys(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	repo := repository.NewAnonymizationKeyRepository()
	service := NewAnonymizationService(repo, cache.NewMemoryCache(), true)

	imageID := uuid.New()
	_, err := service.KeyForImage(ctx, imageID, imageAttributes("PAT1", "1.2.3", "1.2.3.1", "1.2.3.1.1"))
	require.NoError(t, err)

	require.NoError(t, service.HandleImagesDeleted(ctx, []uuid.UUID{imageID}))

	key, err := repo.GetForImage(ctx, imageID)
	require.NoError(t, err)
	assert.Nil(t, key)
}
