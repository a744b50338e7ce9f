package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	obscontext "github.com/smallbiznis/acpgateway/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestGormConfigFor(t *testing.T) {
	assert.Equal(t, gormlogger.Info, GormConfigFor("debug").Level)
	assert.Equal(t, gormlogger.Warn, GormConfigFor("info").Level)
	assert.Equal(t, gormlogger.Error, GormConfigFor("ERROR").Level)
}

func TestGormLoggerTraceFailedQuery(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewGormLogger(zap.New(core), GormConfigFor("info"))

	ctx := obscontext.WithRequestID(context.Background(), "req_1")
	ctx = obscontext.WithSessionID(ctx, "acp_session_abc")
	l.Trace(ctx, time.Now(), func() (string, int64) {
		return `UPDATE "acp_checkout_sessions" SET "status"=$1 WHERE session_id = $2`, 0
	}, errors.New("deadlock detected"))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.ErrorLevel, entry.Level)
	fields := entry.ContextMap()
	assert.Equal(t, "UPDATE", fields["operation"])
	assert.Equal(t, "acp_checkout_sessions", fields["table"])
	assert.Equal(t, "req_1", fields["request_id"])
	assert.Equal(t, "acp_session_abc", fields["session_id"])
	assert.Equal(t, "gorm", fields["component"])
}

func TestGormLoggerSkipsNotFound(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewGormLogger(zap.New(core), GormConfigFor("info"))

	l.Trace(context.Background(), time.Now(), func() (string, int64) {
		return `SELECT * FROM "acp_checkout_sessions"`, 0
	}, gormlogger.ErrRecordNotFound)
	assert.Equal(t, 0, logs.Len())

	l.cfg.LogNotFound = true
	l.Trace(context.Background(), time.Now(), func() (string, int64) {
		return `SELECT * FROM "acp_checkout_sessions"`, 0
	}, gormlogger.ErrRecordNotFound)
	assert.Equal(t, 1, logs.Len())
}

func TestGormLoggerSlowQuery(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewGormLogger(zap.New(core), GormLoggerConfig{Level: gormlogger.Warn, SlowThreshold: time.Millisecond})

	l.Trace(context.Background(), time.Now().Add(-time.Second), func() (string, int64) {
		return `SELECT * FROM "acp_webhooks" WHERE status = 'failed'`, 3
	}, nil)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	assert.Equal(t, int64(3), entry.ContextMap()["rows_affected"])
	assert.Equal(t, "acp_webhooks", entry.ContextMap()["table"])
}

func TestWithContextOmitsEmptyFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	WithContext(context.Background(), zap.New(core)).Info("no fields")

	require.Equal(t, 1, logs.Len())
	assert.Empty(t, logs.All()[0].Context)
}
