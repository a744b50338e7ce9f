package domain

import (
	"time"

	"gorm.io/datatypes"
)

const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Entry is one row of the persisted activity log.
type Entry struct {
	ID        int64             `json:"id" gorm:"primaryKey"`
	Level     string            `json:"level" gorm:"type:varchar(20);not null"`
	Action    string            `json:"action" gorm:"type:varchar(100);not null;index:ix_acp_logs_action"`
	SessionID *string           `json:"session_id,omitempty" gorm:"type:varchar(64);index:ix_acp_logs_session"`
	OrderID   *int64            `json:"order_id,omitempty"`
	Message   string            `json:"message" gorm:"type:text;not null"`
	Context   datatypes.JSONMap `json:"context,omitempty"`
	ActorType *string           `json:"actor_type,omitempty" gorm:"type:varchar(20)"`
	RequestID *string           `json:"request_id,omitempty" gorm:"type:varchar(128)"`
	CreatedAt time.Time         `json:"created_at" gorm:"not null;index:ix_acp_logs_created_at"`
}

func (Entry) TableName() string { return "acp_logs" }
