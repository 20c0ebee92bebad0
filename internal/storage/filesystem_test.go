package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTempPathShape(t *testing.T) {
	first := TempPath()
	second := TempPath()
	assert.True(t, strings.HasPrefix(first, "tmp-"))
	assert.NotEqual(t, first, second)
	_, err := uuid.Parse(strings.TrimPrefix(first, "tmp-"))
	assert.NoError(t, err)
}

func TestSinkMoveSource(t *testing.T) {
	store, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	imageID := uuid.New()
	tempPath := TempPath()

	sink, err := store.FileSink(ctx, tempPath)
	require.NoError(t, err)
	_, err = sink.Write([]byte("dicom bytes"))
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	require.NoError(t, store.Move(ctx, tempPath, store.ImageName(imageID)))

	source, err := store.FileSource(ctx, imageID)
	require.NoError(t, err)
	defer source.Close()
	data, err := io.ReadAll(source)
	require.NoError(t, err)
	assert.Equal(t, []byte("dicom bytes"), data)

	// The staged object is gone after the move
	_, err = os.Stat(filepath.Join(store.root, tempPath))
	assert.True(t, os.IsNotExist(err))
}

func TestDeleteFromStorage(t *testing.T) {
	root := t.TempDir()
	store, err := NewFileStorage(root)
	require.NoError(t, err)
	ctx := context.Background()

	imageID := uuid.New()
	sink, err := store.FileSink(ctx, store.ImageName(imageID))
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	require.NoError(t, store.DeleteFromStorage(ctx, []uuid.UUID{imageID}))
	_, err = os.Stat(filepath.Join(root, store.ImageName(imageID)))
	assert.True(t, os.IsNotExist(err))

	// Deleting again is not an error
	assert.NoError(t, store.DeleteFromStorage(ctx, []uuid.UUID{imageID}))
}

func TestScheduleCleanup(t *testing.T) {
	root := t.TempDir()
	store, err := NewFileStorage(root)
	require.NoError(t, err)
	ctx := context.Background()

	tempPath := TempPath()
	sink, err := store.FileSink(ctx, tempPath)
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	ScheduleCleanup(store, []string{tempPath}, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(root, tempPath))
		return os.IsNotExist(err)
	}, time.Second, 10*time.Millisecond)
}
