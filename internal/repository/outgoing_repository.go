package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/noor9026/slicebox/internal/database"
	"github.com/noor9026/slicebox/internal/models"
	"gorm.io/gorm"
)

// OutgoingRepository handles outgoing transaction database operations
type OutgoingRepository struct{}

// NewOutgoingRepository creates a new outgoing repository
func NewOutgoingRepository() *OutgoingRepository {
	return &OutgoingRepository{}
}

// CreateTransaction enqueues a transaction with dense 1-based sequence
// numbers and the per-image forced tag values, all in one transaction.
func (r *OutgoingRepository) CreateTransaction(ctx context.Context, box *models.Box, images []models.ImageTagValues) (*models.OutgoingTransaction, error) {
	transaction := &models.OutgoingTransaction{
		BoxID:           box.ID,
		BoxName:         box.Name,
		TotalImageCount: int64(len(images)),
		Status:          models.TransactionWaiting,
	}

	err := database.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(transaction).Error; err != nil {
			return err
		}
		for i, entry := range images {
			image := &models.OutgoingImage{
				OutgoingTransactionID: transaction.ID,
				ImageID:               entry.ImageID,
				SequenceNumber:        int64(i + 1),
			}
			if err := tx.Create(image).Error; err != nil {
				return err
			}
			for _, tagValue := range entry.TagValues {
				value := &models.OutgoingTagValue{
					OutgoingImageID: image.ID,
					Tag:             tagValue.Tag,
					Value:           tagValue.Value,
				}
				if err := tx.Create(value).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create outgoing transaction: %w", err)
	}
	return transaction, nil
}

// NextTransactionImageForBox returns the oldest not-yet-sent image for the
// box, excluding FAILED and FINISHED transactions. Ordering is total:
// (transaction created, sequence number), and the unique index forbids ties.
func (r *OutgoingRepository) NextTransactionImageForBox(ctx context.Context, boxID uuid.UUID) (*models.OutgoingTransactionImage, error) {
	var image models.OutgoingImage
	err := database.DB.WithContext(ctx).
		Joins("JOIN outgoing_transactions ON outgoing_transactions.id = outgoing_images.outgoing_transaction_id").
		Where("outgoing_transactions.box_id = ? AND outgoing_images.sent = false AND outgoing_transactions.status NOT IN ?",
			boxID, []models.TransactionStatus{models.TransactionFailed, models.TransactionFinished}).
		Order("outgoing_transactions.created_at ASC, outgoing_images.sequence_number ASC").
		First(&image).Error
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get next outgoing image: %w", err)
	}

	var transaction models.OutgoingTransaction
	if err := database.DB.WithContext(ctx).First(&transaction, image.OutgoingTransactionID).Error; err != nil {
		return nil, fmt.Errorf("failed to load outgoing transaction: %w", err)
	}

	return &models.OutgoingTransactionImage{Transaction: transaction, Image: image}, nil
}

// GetTransaction retrieves a transaction by ID
func (r *OutgoingRepository) GetTransaction(ctx context.Context, id uuid.UUID) (*models.OutgoingTransaction, error) {
	var transaction models.OutgoingTransaction
	if err := database.DB.WithContext(ctx).First(&transaction, id).Error; err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get outgoing transaction: %w", err)
	}
	return &transaction, nil
}

// GetTransactionImage retrieves the queue entry for (transaction, image)
func (r *OutgoingRepository) GetTransactionImage(ctx context.Context, transactionID, imageID uuid.UUID) (*models.OutgoingTransactionImage, error) {
	var image models.OutgoingImage
	err := database.DB.WithContext(ctx).
		Where("outgoing_transaction_id = ? AND image_id = ?", transactionID, imageID).
		First(&image).Error
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get outgoing image: %w", err)
	}

	var transaction models.OutgoingTransaction
	if err := database.DB.WithContext(ctx).First(&transaction, transactionID).Error; err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load outgoing transaction: %w", err)
	}

	return &models.OutgoingTransactionImage{Transaction: transaction, Image: image}, nil
}

// MarkImageSent records a delivered image and advances the transaction. The
// image flip, the counter bump and the FINISHED transition commit together;
// a replayed ack finds sent = true and leaves the counter alone.
func (r *OutgoingRepository) MarkImageSent(ctx context.Context, transactionID, outgoingImageID uuid.UUID) (*models.OutgoingTransaction, error) {
	var transaction models.OutgoingTransaction
	err := database.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.OutgoingImage{}).
			Where("id = ? AND outgoing_transaction_id = ? AND sent = false", outgoingImageID, transactionID).
			Update("sent", true)
		if result.Error != nil {
			return result.Error
		}

		if err := tx.First(&transaction, transactionID).Error; err != nil {
			return err
		}

		transaction.SentImageCount += result.RowsAffected
		if transaction.Complete() {
			transaction.Status = models.TransactionFinished
		} else {
			transaction.Status = models.TransactionProcessing
		}
		return tx.Model(&transaction).
			Updates(map[string]interface{}{
				"sent_image_count": transaction.SentImageCount,
				"status":           transaction.Status,
				"updated_at":       time.Now().UTC(),
			}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to mark outgoing image sent: %w", err)
	}
	return &transaction, nil
}

// SetStatus moves a transaction to the given status
func (r *OutgoingRepository) SetStatus(ctx context.Context, transactionID uuid.UUID, status models.TransactionStatus) error {
	if err := database.DB.WithContext(ctx).
		Model(&models.OutgoingTransaction{}).
		Where("id = ?", transactionID).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now().UTC()}).Error; err != nil {
		return fmt.Errorf("failed to set outgoing transaction status: %w", err)
	}
	return nil
}

// TagValuesForImage returns the forced overrides for one queue entry
func (r *OutgoingRepository) TagValuesForImage(ctx context.Context, outgoingImageID uuid.UUID) ([]models.OutgoingTagValue, error) {
	var values []models.OutgoingTagValue
	if err := database.DB.WithContext(ctx).
		Where("outgoing_image_id = ?", outgoingImageID).
		Find(&values).Error; err != nil {
		return nil, fmt.Errorf("failed to get outgoing tag values: %w", err)
	}
	return values, nil
}

// ListTransactions retrieves transactions, newest first
func (r *OutgoingRepository) ListTransactions(ctx context.Context, limit int) ([]models.OutgoingTransaction, error) {
	var transactions []models.OutgoingTransaction
	query := database.DB.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&transactions).Error; err != nil {
		return nil, fmt.Errorf("failed to list outgoing transactions: %w", err)
	}
	return transactions, nil
}

// DeleteTransaction removes a transaction; images and tag values cascade
func (r *OutgoingRepository) DeleteTransaction(ctx context.Context, id uuid.UUID) error {
	if err := database.DB.WithContext(ctx).Delete(&models.OutgoingTransaction{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete outgoing transaction: %w", err)
	}
	return nil
}

// DemoteStalled moves PROCESSING transactions whose last update is older
// than the timeout back to WAITING. FINISHED and FAILED never move.
func (r *OutgoingRepository) DemoteStalled(ctx context.Context, now time.Time, timeout time.Duration) error {
	cutoff := now.Add(-timeout)
	if err := database.DB.WithContext(ctx).
		Model(&models.OutgoingTransaction{}).
		Where("status = ? AND updated_at < ?", models.TransactionProcessing, cutoff).
		Updates(map[string]interface{}{"status": models.TransactionWaiting, "updated_at": now}).Error; err != nil {
		return fmt.Errorf("failed to demote stalled outgoing transactions: %w", err)
	}
	return nil
}
