package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/noor9026/slicebox/internal/database"
	"github.com/noor9026/slicebox/internal/models"
	"gorm.io/gorm"
)

// ImageRepository handles image catalog database operations
type ImageRepository struct{}

// NewImageRepository creates a new image repository
func NewImageRepository() *ImageRepository {
	return &ImageRepository{}
}

// Upsert inserts or replaces the catalog row for the image's SOP instance
// UID. Returns the stored row and whether an existing row was overwritten.
func (r *ImageRepository) Upsert(ctx context.Context, image *models.Image) (*models.Image, bool, error) {
	overwrite := false
	err := database.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Image
		err := tx.Where("sop_instance_uid = ?", image.SOPInstanceUID).First(&existing).Error
		if err != nil {
			if !IsNotFound(err) {
				return err
			}
			return tx.Create(image).Error
		}
		overwrite = true
		image.ID = existing.ID
		image.CreatedAt = existing.CreatedAt
		return tx.Save(image).Error
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert image: %w", err)
	}
	return image, overwrite, nil
}

// GetByID retrieves an image by ID
func (r *ImageRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Image, error) {
	var image models.Image
	if err := database.DB.WithContext(ctx).First(&image, id).Error; err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get image: %w", err)
	}
	return &image, nil
}

// GetByIDs retrieves several images by ID
func (r *ImageRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Image, error) {
	var images []models.Image
	if len(ids) == 0 {
		return images, nil
	}
	if err := database.DB.WithContext(ctx).Where("id IN ?", ids).Find(&images).Error; err != nil {
		return nil, fmt.Errorf("failed to get images: %w", err)
	}
	return images, nil
}

// Delete removes catalog rows
func (r *ImageRepository) Delete(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	if err := database.DB.WithContext(ctx).Delete(&models.Image{}, ids).Error; err != nil {
		return fmt.Errorf("failed to delete images: %w", err)
	}
	return nil
}

// DeleteBySource removes all rows received from the named source
func (r *ImageRepository) DeleteBySource(ctx context.Context, source string) ([]uuid.UUID, error) {
	var images []models.Image
	if err := database.DB.WithContext(ctx).Where("source = ?", source).Find(&images).Error; err != nil {
		return nil, fmt.Errorf("failed to list images by source: %w", err)
	}
	ids := make([]uuid.UUID, 0, len(images))
	for _, image := range images {
		ids = append(ids, image.ID)
	}
	if err := r.Delete(ctx, ids); err != nil {
		return nil, err
	}
	return ids, nil
}
