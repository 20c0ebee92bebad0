package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/noor9026/slicebox/internal/database"
	"github.com/noor9026/slicebox/internal/models"
	"gorm.io/gorm"
)

// BoxRepository handles box database operations
type BoxRepository struct{}

// NewBoxRepository creates a new box repository
func NewBoxRepository() *BoxRepository {
	return &BoxRepository{}
}

// Create creates a new box. Duplicate names surface as ErrConflict.
func (r *BoxRepository) Create(ctx context.Context, box *models.Box) error {
	if err := database.DB.WithContext(ctx).Create(box).Error; err != nil {
		if translated := translateConflict(err); errors.Is(translated, ErrConflict) {
			return fmt.Errorf("box name %q already taken: %w", box.Name, ErrConflict)
		}
		return fmt.Errorf("failed to create box: %w", err)
	}
	return nil
}

// GetByID retrieves a box by ID
func (r *BoxRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Box, error) {
	var box models.Box
	if err := database.DB.WithContext(ctx).Where("id = ?", id).First(&box).Error; err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get box: %w", err)
	}
	return &box, nil
}

// GetByToken retrieves a box by its shared token
func (r *BoxRepository) GetByToken(ctx context.Context, token string) (*models.Box, error) {
	var box models.Box
	if err := database.DB.WithContext(ctx).Where("token = ?", token).First(&box).Error; err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get box by token: %w", err)
	}
	return &box, nil
}

// PollBoxByToken retrieves a POLL-mode box by token. Used to authenticate
// remote peers polling the outgoing queue.
func (r *BoxRepository) PollBoxByToken(ctx context.Context, token string) (*models.Box, error) {
	var box models.Box
	if err := database.DB.WithContext(ctx).
		Where("token = ? AND send_method = ?", token, models.SendMethodPoll).
		First(&box).Error; err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get poll box by token: %w", err)
	}
	return &box, nil
}

// List retrieves all boxes
func (r *BoxRepository) List(ctx context.Context) ([]models.Box, error) {
	var boxes []models.Box
	if err := database.DB.WithContext(ctx).Order("created_at ASC").Find(&boxes).Error; err != nil {
		return nil, fmt.Errorf("failed to list boxes: %w", err)
	}
	return boxes, nil
}

// Delete removes a box and its outgoing transactions. Images and tag values
// go with their transactions through the schema cascades.
func (r *BoxRepository) Delete(ctx context.Context, id uuid.UUID) error {
	err := database.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("box_id = ?", id).Delete(&models.OutgoingTransaction{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Box{}, id).Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete box: %w", err)
	}
	return nil
}

// UpdateLastContact records the last time the box was seen alive
func (r *BoxRepository) UpdateLastContact(ctx context.Context, id uuid.UUID, now time.Time) error {
	if err := database.DB.WithContext(ctx).
		Model(&models.Box{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"last_contact": now, "online": true}).Error; err != nil {
		return fmt.Errorf("failed to update box last contact: %w", err)
	}
	return nil
}

// RefreshOnline derives the online flag from the last contact time. A box
// is online iff it was heard from within the timeout.
func (r *BoxRepository) RefreshOnline(ctx context.Context, now time.Time, timeout time.Duration) error {
	cutoff := now.Add(-timeout)
	if err := database.DB.WithContext(ctx).
		Model(&models.Box{}).
		Where("online = true AND last_contact < ?", cutoff).
		Update("online", false).Error; err != nil {
		return fmt.Errorf("failed to refresh box online status: %w", err)
	}
	return nil
}
