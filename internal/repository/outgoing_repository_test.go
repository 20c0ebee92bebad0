package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/noor9026/slicebox/internal/database"
	"github.com/noor9026/slicebox/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func enqueue(t *testing.T, box *models.Box, imageCount int) *models.OutgoingTransaction {
	t.Helper()
	images := make([]models.ImageTagValues, imageCount)
	for i := range images {
		images[i] = models.ImageTagValues{ImageID: uuid.New()}
	}
	transaction, err := NewOutgoingRepository().CreateTransaction(context.Background(), box, images)
	require.NoError(t, err)
	return transaction
}

func TestNextImageFollowsSequenceOrder(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	repo := NewOutgoingRepository()
	box := createTestBox(t, "peer-a", models.SendMethodPush)

	transaction := enqueue(t, box, 3)

	for expected := int64(1); expected <= 3; expected++ {
		item, err := repo.NextTransactionImageForBox(ctx, box.ID)
		require.NoError(t, err)
		require.NotNil(t, item)
		assert.Equal(t, expected, item.Image.SequenceNumber)
		assert.Equal(t, transaction.ID, item.Transaction.ID)

		_, err = repo.MarkImageSent(ctx, item.Transaction.ID, item.Image.ID)
		require.NoError(t, err)
	}

	item, err := repo.NextTransactionImageForBox(ctx, box.ID)
	require.NoError(t, err)
	assert.Nil(t, item, "a finished transaction serves no more work")
}

func TestMarkImageSentFinishesTransaction(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	repo := NewOutgoingRepository()
	box := createTestBox(t, "peer-a", models.SendMethodPush)

	enqueue(t, box, 2)

	item, err := repo.NextTransactionImageForBox(ctx, box.ID)
	require.NoError(t, err)
	updated, err := repo.MarkImageSent(ctx, item.Transaction.ID, item.Image.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.SentImageCount)
	assert.Equal(t, models.TransactionProcessing, updated.Status)

	item, err = repo.NextTransactionImageForBox(ctx, box.ID)
	require.NoError(t, err)
	updated, err = repo.MarkImageSent(ctx, item.Transaction.ID, item.Image.ID)
	require.NoError(t, err)

	// sentImageCount == totalImageCount iff status == FINISHED
	assert.Equal(t, int64(2), updated.SentImageCount)
	assert.Equal(t, updated.TotalImageCount, updated.SentImageCount)
	assert.Equal(t, models.TransactionFinished, updated.Status)
}

func TestDuplicateAckCountsOnce(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	repo := NewOutgoingRepository()
	box := createTestBox(t, "peer-a", models.SendMethodPush)

	enqueue(t, box, 2)

	item, err := repo.NextTransactionImageForBox(ctx, box.ID)
	require.NoError(t, err)

	_, err = repo.MarkImageSent(ctx, item.Transaction.ID, item.Image.ID)
	require.NoError(t, err)
	replayed, err := repo.MarkImageSent(ctx, item.Transaction.ID, item.Image.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(1), replayed.SentImageCount, "a replayed ack must not double count")
}

func TestFailedTransactionServesNoWork(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	repo := NewOutgoingRepository()
	box := createTestBox(t, "peer-a", models.SendMethodPush)

	transaction := enqueue(t, box, 1)
	require.NoError(t, repo.SetStatus(ctx, transaction.ID, models.TransactionFailed))

	item, err := repo.NextTransactionImageForBox(ctx, box.ID)
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestDemoteStalledIsMonotone(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	repo := NewOutgoingRepository()
	box := createTestBox(t, "peer-a", models.SendMethodPush)

	stalled := enqueue(t, box, 1)
	finished := enqueue(t, box, 1)
	require.NoError(t, repo.SetStatus(ctx, stalled.ID, models.TransactionProcessing))
	require.NoError(t, repo.SetStatus(ctx, finished.ID, models.TransactionFinished))

	// Age both rows past twice the timeout
	past := time.Now().UTC().Add(-2 * time.Minute)
	require.NoError(t, database.DB.Model(&models.OutgoingTransaction{}).
		Where("id IN ?", []uuid.UUID{stalled.ID, finished.ID}).
		Update("updated_at", past).Error)

	require.NoError(t, repo.DemoteStalled(ctx, time.Now().UTC(), time.Minute))

	reloaded, err := repo.GetTransaction(ctx, stalled.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionWaiting, reloaded.Status)

	reloaded, err = repo.GetTransaction(ctx, finished.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionFinished, reloaded.Status,
		"FINISHED never transitions backward")
}

func TestSequenceNumberUniquePerTransaction(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	box := createTestBox(t, "peer-a", models.SendMethodPush)

	transaction := enqueue(t, box, 1)

	duplicate := &models.OutgoingImage{
		OutgoingTransactionID: transaction.ID,
		ImageID:               uuid.New(),
		SequenceNumber:        1,
	}
	err := database.DB.WithContext(ctx).Create(duplicate).Error
	assert.Error(t, err, "duplicate (transaction, sequence) must be rejected by the schema")
}

func TestTagValuesForImage(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	repo := NewOutgoingRepository()
	box := createTestBox(t, "peer-a", models.SendMethodPush)

	transaction, err := repo.CreateTransaction(ctx, box, []models.ImageTagValues{{
		ImageID:   uuid.New(),
		TagValues: []models.TagValue{{Tag: 0x00080060, Value: "OT"}},
	}})
	require.NoError(t, err)

	item, err := repo.NextTransactionImageForBox(ctx, box.ID)
	require.NoError(t, err)
	require.Equal(t, transaction.ID, item.Transaction.ID)

	values, err := repo.TagValuesForImage(ctx, item.Image.ID)
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, uint32(0x00080060), values[0].Tag)
	assert.Equal(t, "OT", values[0].Value)
}
