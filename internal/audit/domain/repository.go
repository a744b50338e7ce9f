package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type ListFilter struct {
	SessionID string
	Action    string
	Limit     int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *Entry) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Entry, error)
	DeleteOlderThan(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)
}
