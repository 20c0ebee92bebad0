package repository

import (
	"context"
	"testing"
	"time"

	"github.com/noor9026/slicebox/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBoxDuplicateName(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	repo := NewBoxRepository()

	createTestBox(t, "peer-a", models.SendMethodPush)

	err := repo.Create(ctx, &models.Box{
		Name:       "peer-a",
		Token:      "another-token",
		BaseURL:    "http://other.example/api/box",
		SendMethod: models.SendMethodPush,
	})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestPollBoxByTokenFiltersMethod(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	repo := NewBoxRepository()

	pushBox := createTestBox(t, "pusher", models.SendMethodPush)
	pollBox := createTestBox(t, "poller", models.SendMethodPoll)

	found, err := repo.PollBoxByToken(ctx, pollBox.Token)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, pollBox.ID, found.ID)

	found, err = repo.PollBoxByToken(ctx, pushBox.Token)
	require.NoError(t, err)
	assert.Nil(t, found, "a PUSH box must not authenticate as a poller")

	found, err = repo.PollBoxByToken(ctx, "no-such-token")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestRefreshOnline(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	repo := NewBoxRepository()

	box := createTestBox(t, "peer-a", models.SendMethodPoll)
	require.NoError(t, repo.UpdateLastContact(ctx, box.ID, time.Now().UTC().Add(-2*time.Minute)))

	require.NoError(t, repo.RefreshOnline(ctx, time.Now().UTC(), time.Minute))
	reloaded, err := repo.GetByID(ctx, box.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.Online, "a box silent past the timeout goes offline")

	require.NoError(t, repo.UpdateLastContact(ctx, box.ID, time.Now().UTC()))
	require.NoError(t, repo.RefreshOnline(ctx, time.Now().UTC(), time.Minute))
	reloaded, err = repo.GetByID(ctx, box.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.Online)
}

func TestDeleteBoxCascadesTransactions(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	boxRepo := NewBoxRepository()
	outgoingRepo := NewOutgoingRepository()

	box := createTestBox(t, "peer-a", models.SendMethodPush)
	transaction := enqueue(t, box, 2)

	require.NoError(t, boxRepo.Delete(ctx, box.ID))

	gone, err := boxRepo.GetByID(ctx, box.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	reloaded, err := outgoingRepo.GetTransaction(ctx, transaction.ID)
	require.NoError(t, err)
	assert.Nil(t, reloaded, "outgoing transactions go with their box")
}
