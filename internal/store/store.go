package store

import (
	"context"

	"github.com/kjstillabower/weather-lookup-service/internal/models"
)

// Store maps request identifiers to stored records.
// Put inserts or overwrites unconditionally. Get returns (record, true, nil) when
// present and (zero, false, nil) when absent; err is reserved for backend failures.
type Store interface {
	Put(ctx context.Context, id string, record models.StoredRecord) error
	Get(ctx context.Context, id string) (models.StoredRecord, bool, error)
}
