package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, session *Session) error
	FindBySessionID(ctx context.Context, db *gorm.DB, sessionID string) (*Session, error)
	// Save writes every mutable column when the stored version still equals
	// expectedVersion, and reports whether the row was updated.
	Save(ctx context.Context, db *gorm.DB, session *Session, expectedVersion int) (bool, error)
	Stats(ctx context.Context, db *gorm.DB) (*Stats, error)
	DeleteOlderThan(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)
}
