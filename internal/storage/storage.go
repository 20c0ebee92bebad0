package storage

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// Storage is a byte sink/source keyed by image id. Writes are staged under
// temp paths and promoted with Move; Move is atomic within one backend.
type Storage interface {
	// FileSource opens the stored bytes of an image
	FileSource(ctx context.Context, imageID uuid.UUID) (io.ReadCloser, error)
	// FileSink opens a writer for the given path, creating it
	FileSink(ctx context.Context, path string) (io.WriteCloser, error)
	// Move atomically renames a staged object to its final path
	Move(ctx context.Context, srcPath, dstPath string) error
	// DeleteFromStorage removes the objects of the given images
	DeleteFromStorage(ctx context.Context, imageIDs []uuid.UUID) error
	// DeleteByName removes objects by path
	DeleteByName(ctx context.Context, paths []string) error
	// ImageName maps an image id to its object path
	ImageName(imageID uuid.UUID) string
}

// TempPath returns a fresh staging key
func TempPath() string {
	return "tmp-" + uuid.New().String()
}
