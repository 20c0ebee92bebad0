package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// FileStorage stores objects as flat files under a root directory
type FileStorage struct {
	root string
}

// NewFileStorage creates the root directory if needed
func NewFileStorage(root string) (*FileStorage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileStorage{root: root}, nil
}

// ImageName maps an image id to its object path
func (s *FileStorage) ImageName(imageID uuid.UUID) string {
	return imageID.String()
}

// FileSource opens the stored bytes of an image
func (s *FileStorage) FileSource(ctx context.Context, imageID uuid.UUID) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.root, s.ImageName(imageID)))
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", imageID, err)
	}
	return f, nil
}

// FileSink opens a writer for the given path
func (s *FileStorage) FileSink(ctx context.Context, path string) (io.WriteCloser, error) {
	f, err := os.Create(filepath.Join(s.root, path))
	if err != nil {
		return nil, fmt.Errorf("failed to create object %s: %w", path, err)
	}
	return f, nil
}

// Move atomically renames a staged object to its final path
func (s *FileStorage) Move(ctx context.Context, srcPath, dstPath string) error {
	if err := os.Rename(filepath.Join(s.root, srcPath), filepath.Join(s.root, dstPath)); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", srcPath, dstPath, err)
	}
	return nil
}

// DeleteFromStorage removes the objects of the given images
func (s *FileStorage) DeleteFromStorage(ctx context.Context, imageIDs []uuid.UUID) error {
	paths := make([]string, 0, len(imageIDs))
	for _, id := range imageIDs {
		paths = append(paths, s.ImageName(id))
	}
	return s.DeleteByName(ctx, paths)
}

// DeleteByName removes objects by path. Missing objects are not an error.
func (s *FileStorage) DeleteByName(ctx context.Context, paths []string) error {
	for _, path := range paths {
		if err := os.Remove(filepath.Join(s.root, path)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete object %s: %w", path, err)
		}
	}
	return nil
}

// ScheduleCleanup deletes staged objects after a delay, letting any open
// file handles settle first.
func ScheduleCleanup(s Storage, paths []string, delay time.Duration) {
	if len(paths) == 0 {
		return
	}
	go func() {
		time.Sleep(delay)
		if err := s.DeleteByName(context.Background(), paths); err != nil {
			log.Warn().Err(err).Strs("paths", paths).Msg("Temp cleanup failed")
		}
	}()
}
