package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/noor9026/slicebox/internal/dicomstream"
	"github.com/noor9026/slicebox/internal/events"
	"github.com/noor9026/slicebox/internal/models"
	"github.com/noor9026/slicebox/internal/repository"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// MetadataService is the narrow interface to the patient/study/series
// catalog. The transfer core only ever adds extracted attributes and deletes
// by id or source.
type MetadataService struct {
	imageRepo *repository.ImageRepository
	bus       *events.Bus
}

// NewMetadataService creates a new metadata service
func NewMetadataService(imageRepo *repository.ImageRepository, bus *events.Bus) *MetadataService {
	return &MetadataService{imageRepo: imageRepo, bus: bus}
}

// AddMetadata indexes the extracted attributes of one received object and
// returns the catalog row plus whether an existing instance was overwritten.
func (s *MetadataService) AddMetadata(ctx context.Context, attributes *dicomstream.Attributes, source string) (*models.Image, bool, error) {
	sopInstanceUID := attributes.Get(tag.SOPInstanceUID)
	if sopInstanceUID == "" {
		return nil, false, fmt.Errorf("object carries no SOP instance UID")
	}

	image := &models.Image{
		SOPInstanceUID:      sopInstanceUID,
		SOPClassUID:         attributes.Get(tag.SOPClassUID),
		SeriesInstanceUID:   attributes.Get(tag.SeriesInstanceUID),
		StudyInstanceUID:    attributes.Get(tag.StudyInstanceUID),
		PatientName:         attributes.Get(tag.PatientName),
		PatientID:           attributes.Get(tag.PatientID),
		PatientBirthDate:    attributes.Get(tag.PatientBirthDate),
		PatientSex:          attributes.Get(tag.PatientSex),
		StudyDate:           attributes.Get(tag.StudyDate),
		StudyDescription:    attributes.Get(tag.StudyDescription),
		StudyID:             attributes.Get(tag.StudyID),
		AccessionNumber:     attributes.Get(tag.AccessionNumber),
		SeriesDescription:   attributes.Get(tag.SeriesDescription),
		ProtocolName:        attributes.Get(tag.ProtocolName),
		FrameOfReferenceUID: attributes.Get(tag.FrameOfReferenceUID),
		Modality:            attributes.Get(tag.Modality),
		Source:              source,
	}

	stored, overwrite, err := s.imageRepo.Upsert(ctx, image)
	if err != nil {
		return nil, false, err
	}

	s.bus.Publish(events.MetaDataAdded{ImageID: stored.ID, Overwrite: overwrite})
	return stored, overwrite, nil
}

// GetImage retrieves one catalog row
func (s *MetadataService) GetImage(ctx context.Context, id uuid.UUID) (*models.Image, error) {
	return s.imageRepo.GetByID(ctx, id)
}

// DeleteImages removes catalog rows and announces the deletion
func (s *MetadataService) DeleteImages(ctx context.Context, ids []uuid.UUID) error {
	if err := s.imageRepo.Delete(ctx, ids); err != nil {
		return err
	}
	s.bus.Publish(events.ImagesDeleted{ImageIDs: ids})
	return nil
}

// DeleteBySource removes every row received from the named source
func (s *MetadataService) DeleteBySource(ctx context.Context, source string) ([]uuid.UUID, error) {
	ids, err := s.imageRepo.DeleteBySource(ctx, source)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		s.bus.Publish(events.ImagesDeleted{ImageIDs: ids})
	}
	return ids, nil
}
