package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/noor9026/slicebox/internal/database"
	"github.com/noor9026/slicebox/internal/models"
)

// AnonymizationKeyRepository handles anonymization key database operations
type AnonymizationKeyRepository struct{}

// NewAnonymizationKeyRepository creates a new anonymization key repository
func NewAnonymizationKeyRepository() *AnonymizationKeyRepository {
	return &AnonymizationKeyRepository{}
}

// Insert creates a new anonymization key
func (r *AnonymizationKeyRepository) Insert(ctx context.Context, key *models.AnonymizationKey) error {
	if err := database.DB.WithContext(ctx).Create(key).Error; err != nil {
		return fmt.Errorf("failed to insert anonymization key: %w", err)
	}
	return nil
}

// LookupForImage resolves the key matching the anonymised identifiers of a
// received image. The match cascades from the most specific level down:
// image, series, study, patient. The first predicate with a row wins and
// tags the result with its level.
func (r *AnonymizationKeyRepository) LookupForImage(ctx context.Context, anonPatientName, anonPatientID, anonStudyUID, anonSeriesUID, anonSOPInstanceUID string) (*models.MatchedKey, error) {
	patient := "anon_patient_name = ? AND anon_patient_id = ?"
	study := patient + " AND anon_study_instance_uid = ?"
	series := study + " AND anon_series_instance_uid = ?"
	image := series + " AND anon_sop_instance_uid = ?"

	lookups := []struct {
		level models.KeyLevel
		where string
		args  []interface{}
	}{
		{models.KeyLevelImage, image, []interface{}{anonPatientName, anonPatientID, anonStudyUID, anonSeriesUID, anonSOPInstanceUID}},
		{models.KeyLevelSeries, series, []interface{}{anonPatientName, anonPatientID, anonStudyUID, anonSeriesUID}},
		{models.KeyLevelStudy, study, []interface{}{anonPatientName, anonPatientID, anonStudyUID}},
		{models.KeyLevelPatient, patient, []interface{}{anonPatientName, anonPatientID}},
	}

	for _, lookup := range lookups {
		var key models.AnonymizationKey
		err := database.DB.WithContext(ctx).
			Where(lookup.where, lookup.args...).
			Order("created_at ASC").
			First(&key).Error
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("failed to look up anonymization key: %w", err)
		}
		return &models.MatchedKey{Key: key, Level: lookup.level}, nil
	}
	return nil, nil
}

// QueryProtectedKeys finds keys by original identifiers. Used on send, where
// the real patient attributes are in hand.
func (r *AnonymizationKeyRepository) QueryProtectedKeys(ctx context.Context, patientName, patientID string) ([]models.AnonymizationKey, error) {
	var keys []models.AnonymizationKey
	if err := database.DB.WithContext(ctx).
		Where("patient_name = ? AND patient_id = ?", patientName, patientID).
		Order("created_at ASC").
		Find(&keys).Error; err != nil {
		return nil, fmt.Errorf("failed to query protected keys: %w", err)
	}
	return keys, nil
}

// QueryAnonymousKeys finds keys by pseudonyms. Used on receive, where only
// the anonymised attributes are in hand.
func (r *AnonymizationKeyRepository) QueryAnonymousKeys(ctx context.Context, anonPatientName, anonPatientID string) ([]models.AnonymizationKey, error) {
	var keys []models.AnonymizationKey
	if err := database.DB.WithContext(ctx).
		Where("anon_patient_name = ? AND anon_patient_id = ?", anonPatientName, anonPatientID).
		Order("created_at ASC").
		Find(&keys).Error; err != nil {
		return nil, fmt.Errorf("failed to query anonymous keys: %w", err)
	}
	return keys, nil
}

// GetForImage returns the image-level key for a stored image, if any
func (r *AnonymizationKeyRepository) GetForImage(ctx context.Context, imageID uuid.UUID) (*models.AnonymizationKey, error) {
	var key models.AnonymizationKey
	err := database.DB.WithContext(ctx).Where("image_id = ?", imageID).First(&key).Error
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get anonymization key for image: %w", err)
	}
	return &key, nil
}

// DeleteForImageIDs removes the keys owned by the given images
func (r *AnonymizationKeyRepository) DeleteForImageIDs(ctx context.Context, imageIDs []uuid.UUID) error {
	if len(imageIDs) == 0 {
		return nil
	}
	if err := database.DB.WithContext(ctx).
		Where("image_id IN ?", imageIDs).
		Delete(&models.AnonymizationKey{}).Error; err != nil {
		return fmt.Errorf("failed to delete anonymization keys: %w", err)
	}
	return nil
}
