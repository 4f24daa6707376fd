package storage

import (
	"context"

	"mercari-watcher/models"
)

// SeenPersister is the interface any seen-store backend must satisfy.
// Records are loaded and saved in insertion order.
type SeenPersister interface {
	LoadSeen(ctx context.Context) ([]models.SeenRecord, error)
	SaveSeen(ctx context.Context, records []models.SeenRecord) error
	Close() error
}

// SeenRecordWriter is the interface for exporting the seen store.
type SeenRecordWriter interface {
	WriteSeen(records []models.SeenRecord) error
	Close() error
}
