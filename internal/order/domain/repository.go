package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, order *Order) error
	FindByID(ctx context.Context, db *gorm.DB, id int64) (*Order, error)
	// CompareAndSetStatus moves the order from one status to another and
	// reports whether a row was changed.
	CompareAndSetStatus(ctx context.Context, db *gorm.DB, id int64, from, to string, now time.Time) (bool, error)
}
