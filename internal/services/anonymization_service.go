package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/noor9026/slicebox/internal/cache"
	"github.com/noor9026/slicebox/internal/dicomstream"
	"github.com/noor9026/slicebox/internal/models"
	"github.com/noor9026/slicebox/internal/repository"
	"github.com/rs/zerolog/log"
	"github.com/suyashkumar/dicom/pkg/tag"
)

const keyCacheTTL = 15 * time.Minute

// AnonymizationService issues and resolves pseudonym mappings
type AnonymizationService struct {
	keyRepo        *repository.AnonymizationKeyRepository
	cache          cache.Cache
	purgeEmptyKeys bool
}

// NewAnonymizationService creates a new anonymization service
func NewAnonymizationService(keyRepo *repository.AnonymizationKeyRepository, cacheImpl cache.Cache, purgeEmptyKeys bool) *AnonymizationService {
	return &AnonymizationService{
		keyRepo:        keyRepo,
		cache:          cacheImpl,
		purgeEmptyKeys: purgeEmptyKeys,
	}
}

// KeyForImage returns the anonymization key to use when sending the image,
// reusing pseudonyms of earlier keys for the same patient, study and series
// so one real-world entity maps to one pseudonym. A key matching down to the
// image is reused outright; otherwise a new key is inserted.
func (s *AnonymizationService) KeyForImage(ctx context.Context, imageID uuid.UUID, attributes *dicomstream.Attributes) (*models.AnonymizationKey, error) {
	key := &models.AnonymizationKey{
		ImageID:             imageID,
		PatientName:         attributes.Get(tag.PatientName),
		PatientID:           attributes.Get(tag.PatientID),
		PatientBirthDate:    attributes.Get(tag.PatientBirthDate),
		StudyInstanceUID:    attributes.Get(tag.StudyInstanceUID),
		StudyDescription:    attributes.Get(tag.StudyDescription),
		StudyID:             attributes.Get(tag.StudyID),
		AccessionNumber:     attributes.Get(tag.AccessionNumber),
		SeriesInstanceUID:   attributes.Get(tag.SeriesInstanceUID),
		SeriesDescription:   attributes.Get(tag.SeriesDescription),
		ProtocolName:        attributes.Get(tag.ProtocolName),
		FrameOfReferenceUID: attributes.Get(tag.FrameOfReferenceUID),
		SOPInstanceUID:      attributes.Get(tag.SOPInstanceUID),
	}

	existing, err := s.keyRepo.QueryProtectedKeys(ctx, key.PatientName, key.PatientID)
	if err != nil {
		return nil, err
	}

	var patientMatch, studyMatch, seriesMatch *models.AnonymizationKey
	for i := range existing {
		candidate := &existing[i]
		if patientMatch == nil {
			patientMatch = candidate
		}
		if candidate.StudyInstanceUID == key.StudyInstanceUID {
			if studyMatch == nil {
				studyMatch = candidate
			}
			if candidate.SeriesInstanceUID == key.SeriesInstanceUID {
				if seriesMatch == nil {
					seriesMatch = candidate
				}
				if candidate.SOPInstanceUID == key.SOPInstanceUID {
					// Full match: the image was anonymised before
					return candidate, nil
				}
			}
		}
	}

	if patientMatch != nil {
		key.AnonPatientName = patientMatch.AnonPatientName
		key.AnonPatientID = patientMatch.AnonPatientID
		key.AnonPatientBirthDate = patientMatch.AnonPatientBirthDate
	} else {
		key.AnonPatientName = dicomstream.AnonymousPatientName(
			attributes.Get(tag.PatientSex), attributes.Get(tag.PatientAge))
		key.AnonPatientID = uuid.New().String()
		key.AnonPatientBirthDate = ""
	}

	if studyMatch != nil {
		key.AnonStudyInstanceUID = studyMatch.AnonStudyInstanceUID
		key.AnonStudyDescription = studyMatch.AnonStudyDescription
		key.AnonStudyID = studyMatch.AnonStudyID
		key.AnonAccessionNumber = studyMatch.AnonAccessionNumber
	} else {
		key.AnonStudyInstanceUID = dicomstream.NewUID()
		key.AnonStudyDescription = ""
		key.AnonStudyID = ""
		key.AnonAccessionNumber = ""
	}

	if seriesMatch != nil {
		key.AnonSeriesInstanceUID = seriesMatch.AnonSeriesInstanceUID
		key.AnonSeriesDescription = seriesMatch.AnonSeriesDescription
		key.AnonProtocolName = seriesMatch.AnonProtocolName
		key.AnonFrameOfReferenceUID = seriesMatch.AnonFrameOfReferenceUID
	} else {
		key.AnonSeriesInstanceUID = dicomstream.NewUID()
		key.AnonSeriesDescription = ""
		key.AnonProtocolName = ""
		if key.FrameOfReferenceUID != "" {
			key.AnonFrameOfReferenceUID = dicomstream.NewUID()
		}
	}

	key.AnonSOPInstanceUID = dicomstream.NewUID()

	if err := s.keyRepo.Insert(ctx, key); err != nil {
		return nil, err
	}
	return key, nil
}

// LookupForReceivedImage resolves the key matching an anonymised stream.
// Results are cached: all images of one series resolve the same key.
func (s *AnonymizationService) LookupForReceivedImage(ctx context.Context, anonPatientName, anonPatientID, anonStudyUID, anonSeriesUID, anonSOPInstanceUID string) (*models.MatchedKey, error) {
	cacheKey := cache.AnonymizationLookupKey(anonPatientName, anonPatientID, anonStudyUID, anonSeriesUID)
	if cached, err := s.cache.Get(ctx, cacheKey); err == nil {
		var matched models.MatchedKey
		if err := json.Unmarshal(cached, &matched); err == nil {
			return &matched, nil
		}
	}

	matched, err := s.keyRepo.LookupForImage(ctx, anonPatientName, anonPatientID, anonStudyUID, anonSeriesUID, anonSOPInstanceUID)
	if err != nil {
		return nil, err
	}
	if matched == nil {
		return nil, nil
	}

	// Image-level matches are specific to one SOP instance; cache only the
	// series-and-below part of the hierarchy
	if matched.Level != models.KeyLevelImage {
		if encoded, err := json.Marshal(matched); err == nil {
			if err := s.cache.Set(ctx, cacheKey, encoded, keyCacheTTL); err != nil {
				log.Debug().Err(err).Msg("Anonymization key cache set failed")
			}
		}
	}
	return matched, nil
}

// KeyLookup adapts the service to the pipeline's lookup callback
func (s *AnonymizationService) KeyLookup(ctx context.Context) dicomstream.KeyLookup {
	return func(anonPatientName, anonPatientID, anonStudyUID, anonSeriesUID, anonSOPInstanceUID string) (*models.MatchedKey, error) {
		return s.LookupForReceivedImage(ctx, anonPatientName, anonPatientID, anonStudyUID, anonSeriesUID, anonSOPInstanceUID)
	}
}

// QueryProtectedKeys lists keys by original identifiers
func (s *AnonymizationService) QueryProtectedKeys(ctx context.Context, patientName, patientID string) ([]models.AnonymizationKey, error) {
	return s.keyRepo.QueryProtectedKeys(ctx, patientName, patientID)
}

// QueryAnonymousKeys lists keys by pseudonyms
func (s *AnonymizationService) QueryAnonymousKeys(ctx context.Context, anonPatientName, anonPatientID string) ([]models.AnonymizationKey, error) {
	return s.keyRepo.QueryAnonymousKeys(ctx, anonPatientName, anonPatientID)
}

// HandleImagesDeleted purges the keys owned by deleted images when the
// purge policy is on. Safe to replay.
func (s *AnonymizationService) HandleImagesDeleted(ctx context.Context, imageIDs []uuid.UUID) error {
	if !s.purgeEmptyKeys || len(imageIDs) == 0 {
		return nil
	}
	if err := s.keyRepo.DeleteForImageIDs(ctx, imageIDs); err != nil {
		return fmt.Errorf("failed to purge anonymization keys: %w", err)
	}
	if err := s.cache.Clear(ctx, "anonkey:*"); err != nil {
		log.Debug().Err(err).Msg("Anonymization key cache clear failed")
	}
	return nil
}
