package repository

import (
	"context"
	"strings"
	"time"

	"github.com/smallbiznis/acpgateway/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.Entry) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO acp_logs (
			id, level, action, session_id, order_id, message, context, actor_type, request_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.Level,
		entry.Action,
		entry.SessionID,
		entry.OrderID,
		entry.Message,
		entry.Context,
		entry.ActorType,
		entry.RequestID,
		entry.CreatedAt,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Entry, error) {
	var entries []domain.Entry
	stmt := db.WithContext(ctx).Model(&domain.Entry{})

	if sessionID := strings.TrimSpace(filter.SessionID); sessionID != "" {
		stmt = stmt.Where("session_id = ?", sessionID)
	}
	if action := strings.TrimSpace(filter.Action); action != "" {
		stmt = stmt.Where("action = ?", action)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}

	if err := stmt.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) DeleteOlderThan(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(`DELETE FROM acp_logs WHERE created_at < ?`, cutoff)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
