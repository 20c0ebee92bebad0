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

// IncomingRepository handles incoming transaction database operations
type IncomingRepository struct{}

// NewIncomingRepository creates a new incoming repository
func NewIncomingRepository() *IncomingRepository {
	return &IncomingRepository{}
}

// UpdateIncoming records one received image. The transaction row is upserted
// on (box, outgoing transaction), the image row on (transaction, sequence
// number). A replayed sequence number updates the stored image id without
// touching the counters, so replays converge on the same final state.
func (r *IncomingRepository) UpdateIncoming(ctx context.Context, box *models.Box, outgoingTransactionID uuid.UUID, sequenceNumber, totalImageCount int64, imageID uuid.UUID, overwrite bool) (*models.IncomingTransaction, error) {
	var transaction models.IncomingTransaction

	err := database.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("box_id = ? AND outgoing_transaction_id = ?", box.ID, outgoingTransactionID).
			First(&transaction).Error
		if err != nil {
			if !IsNotFound(err) {
				return err
			}
			transaction = models.IncomingTransaction{
				BoxID:                 box.ID,
				BoxName:               box.Name,
				OutgoingTransactionID: outgoingTransactionID,
				TotalImageCount:       totalImageCount,
				Status:                models.TransactionWaiting,
			}
			// Inserts run under a savepoint so a conflict does not abort the
			// enclosing transaction
			if err := tx.Transaction(func(inner *gorm.DB) error { return inner.Create(&transaction).Error }); err != nil {
				// Concurrent first receive; reload the winner's row
				if !errors.Is(translateConflict(err), ErrConflict) {
					return err
				}
				transaction = models.IncomingTransaction{}
				if err := tx.Where("box_id = ? AND outgoing_transaction_id = ?", box.ID, outgoingTransactionID).
					First(&transaction).Error; err != nil {
					return err
				}
			}
		}

		image := models.IncomingImage{
			IncomingTransactionID: transaction.ID,
			ImageID:               imageID,
			SequenceNumber:        sequenceNumber,
			Overwrite:             overwrite,
		}
		replay := false
		if err := tx.Transaction(func(inner *gorm.DB) error { return inner.Create(&image).Error }); err != nil {
			if !errors.Is(translateConflict(err), ErrConflict) {
				return err
			}
			// Same (transaction, sequence) seen before: idempotent replay
			replay = true
			if err := tx.Model(&models.IncomingImage{}).
				Where("incoming_transaction_id = ? AND sequence_number = ?", transaction.ID, sequenceNumber).
				Updates(map[string]interface{}{"image_id": imageID, "overwrite": overwrite}).Error; err != nil {
				return err
			}
		}

		if !replay {
			transaction.ReceivedImageCount = min64(totalImageCount, transaction.ReceivedImageCount+1)
			if !overwrite {
				transaction.AddedImageCount = min64(totalImageCount, transaction.AddedImageCount+1)
			}
		}
		transaction.TotalImageCount = totalImageCount
		if transaction.Complete() {
			transaction.Status = models.TransactionFinished
		} else {
			transaction.Status = models.TransactionProcessing
		}

		return tx.Model(&transaction).Updates(map[string]interface{}{
			"received_image_count": transaction.ReceivedImageCount,
			"added_image_count":    transaction.AddedImageCount,
			"total_image_count":    transaction.TotalImageCount,
			"status":               transaction.Status,
			"updated_at":           time.Now().UTC(),
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update incoming transaction: %w", err)
	}
	return &transaction, nil
}

// GetByBoxAndOutgoing retrieves an incoming transaction by its natural key
func (r *IncomingRepository) GetByBoxAndOutgoing(ctx context.Context, boxID, outgoingTransactionID uuid.UUID) (*models.IncomingTransaction, error) {
	var transaction models.IncomingTransaction
	err := database.DB.WithContext(ctx).
		Where("box_id = ? AND outgoing_transaction_id = ?", boxID, outgoingTransactionID).
		First(&transaction).Error
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get incoming transaction: %w", err)
	}
	return &transaction, nil
}

// ImagesForTransaction lists the received images of a transaction
func (r *IncomingRepository) ImagesForTransaction(ctx context.Context, transactionID uuid.UUID) ([]models.IncomingImage, error) {
	var images []models.IncomingImage
	if err := database.DB.WithContext(ctx).
		Where("incoming_transaction_id = ?", transactionID).
		Order("sequence_number ASC").
		Find(&images).Error; err != nil {
		return nil, fmt.Errorf("failed to list incoming images: %w", err)
	}
	return images, nil
}

// ListTransactions retrieves incoming transactions, newest first
func (r *IncomingRepository) ListTransactions(ctx context.Context, limit int) ([]models.IncomingTransaction, error) {
	var transactions []models.IncomingTransaction
	query := database.DB.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&transactions).Error; err != nil {
		return nil, fmt.Errorf("failed to list incoming transactions: %w", err)
	}
	return transactions, nil
}

// DeleteTransaction removes a transaction; its images cascade
func (r *IncomingRepository) DeleteTransaction(ctx context.Context, id uuid.UUID) error {
	if err := database.DB.WithContext(ctx).Delete(&models.IncomingTransaction{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete incoming transaction: %w", err)
	}
	return nil
}

// DemoteStalled moves PROCESSING transactions whose last update is older
// than the timeout back to WAITING
func (r *IncomingRepository) DemoteStalled(ctx context.Context, now time.Time, timeout time.Duration) error {
	cutoff := now.Add(-timeout)
	if err := database.DB.WithContext(ctx).
		Model(&models.IncomingTransaction{}).
		Where("status = ? AND updated_at < ?", models.TransactionProcessing, cutoff).
		Updates(map[string]interface{}{"status": models.TransactionWaiting, "updated_at": now}).Error; err != nil {
		return fmt.Errorf("failed to demote stalled incoming transactions: %w", err)
	}
	return nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
