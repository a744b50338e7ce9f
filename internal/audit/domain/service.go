package domain

import (
	"context"
	"errors"
	"time"
)

type Event struct {
	Level     string
	Action    string
	SessionID string
	OrderID   int64
	Message   string
	Context   map[string]any
}

type ListRequest struct {
	SessionID string
	Action    string
	Limit     int
}

type Service interface {
	Record(ctx context.Context, event Event) error
	List(ctx context.Context, req ListRequest) ([]Entry, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

var ErrInvalidAction = errors.New("invalid_action")
