package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/acpgateway/internal/audit/domain"
	"github.com/smallbiznis/acpgateway/internal/audit/repository"
	"github.com/smallbiznis/acpgateway/internal/audit/service"
	"github.com/smallbiznis/acpgateway/internal/clock"
	obscontext "github.com/smallbiznis/acpgateway/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setup(t *testing.T) (domain.Service, *clock.FakeClock) {
	t.Helper()
	dsn := fmt.Sprintf("file:audit_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Entry{}))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	return service.NewService(service.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
		Clock: clk,
	}), clk
}

func TestRecordMasksContextAndUsesRequestScope(t *testing.T) {
	svc, _ := setup(t)
	ctx := obscontext.WithRequestID(context.Background(), "req_1")
	ctx = obscontext.WithSessionID(ctx, "acp_session_x")
	ctx = obscontext.WithActor(ctx, "agent", "")

	require.NoError(t, svc.Record(ctx, domain.Event{
		Action:  "checkout.session.created",
		Message: "Checkout session created",
		Context: map[string]any{"signature": "sha256=deadbeefcafe", "amount": "20.00"},
	}))

	entries, err := svc.List(context.Background(), domain.ListRequest{SessionID: "acp_session_x"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.LevelInfo, entries[0].Level)
	assert.Equal(t, "req_1", *entries[0].RequestID)
	assert.Equal(t, "agent", *entries[0].ActorType)
	assert.Equal(t, "20.00", entries[0].Context["amount"])
	assert.Equal(t, "****cafe", entries[0].Context["signature"])
}

func TestRecordRequiresAction(t *testing.T) {
	svc, _ := setup(t)
	assert.ErrorIs(t, svc.Record(context.Background(), domain.Event{}), domain.ErrInvalidAction)
}

func TestPurgeOlderThan(t *testing.T) {
	svc, clk := setup(t)
	ctx := context.Background()

	require.NoError(t, svc.Record(ctx, domain.Event{Action: "old"}))
	clk.Advance(40 * 24 * time.Hour)
	require.NoError(t, svc.Record(ctx, domain.Event{Action: "new"}))

	removed, err := svc.PurgeOlderThan(ctx, clk.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	entries, err := svc.List(ctx, domain.ListRequest{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].Action)
}
