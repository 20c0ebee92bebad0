package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Cache defines the cache interface
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Clear(ctx context.Context, pattern string) error
}

// ErrCacheMiss is returned when a key is not found in cache
var ErrCacheMiss = fmt.Errorf("cache miss")

// AnonymizationLookupKey builds the cache key for a reverse-anonymisation
// key lookup. Every image of a series shares the same key, so the cache
// collapses per-image lookups during a transfer to one database round-trip.
func AnonymizationLookupKey(anonPatientName, anonPatientID, anonStudyUID, anonSeriesUID string) string {
	return strings.Join([]string{"anonkey", anonPatientName, anonPatientID, anonStudyUID, anonSeriesUID}, ":")
}
