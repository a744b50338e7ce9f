package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type DeliveryOutcome struct {
	Status       string
	ResponseCode *int
	ResponseBody *string
	LastError    *string
	NextRetryAt  *time.Time
	ProcessedAt  time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, event *Event) error
	FindByWebhookID(ctx context.Context, db *gorm.DB, webhookID string) (*Event, error)
	RecordOutcome(ctx context.Context, db *gorm.DB, webhookID string, outcome DeliveryOutcome) error
	ListRetryCandidates(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Event, error)
	// ClaimRetry increments attempts when the row still holds the observed
	// attempts value and is failed. It reports whether this caller won.
	ClaimRetry(ctx context.Context, db *gorm.DB, webhookID string, observedAttempts int, now time.Time) (bool, error)
	Stats(ctx context.Context, db *gorm.DB) (*Stats, error)
	DeleteOlderThan(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)
}
