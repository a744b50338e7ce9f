package authorization

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) Service {
	t.Helper()
	dsn := fmt.Sprintf("file:authz_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
}

func TestAgentMayDriveCheckout(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for _, action := range []string{
		ActionSessionCreate, ActionSessionView, ActionSessionUpdate,
		ActionSessionComplete, ActionSessionCancel,
	} {
		assert.NoError(t, svc.Authorize(ctx, ActorAgent, ObjectCheckoutSession, action), action)
	}
}

func TestAgentCannotReachMerchantOperations(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Authorize(ctx, ActorAgent, ObjectOrder, ActionOrderStatusUpdate), ErrForbidden)
	assert.ErrorIs(t, svc.Authorize(ctx, ActorAgent, ObjectWebhook, ActionWebhookRetry), ErrForbidden)
	assert.ErrorIs(t, svc.Authorize(ctx, ActorAgent, ObjectCheckoutSession, ActionSessionStats), ErrForbidden)
}

func TestMerchantOperations(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	assert.NoError(t, svc.Authorize(ctx, ActorMerchant, ObjectOrder, ActionOrderStatusUpdate))
	assert.NoError(t, svc.Authorize(ctx, ActorMerchant, ObjectWebhook, ActionWebhookStats))
	assert.ErrorIs(t, svc.Authorize(ctx, ActorMerchant, ObjectCheckoutSession, ActionSessionComplete), ErrForbidden)
}

func TestUnknownActorRejected(t *testing.T) {
	svc := newTestService(t)
	assert.ErrorIs(t, svc.Authorize(context.Background(), "stranger", ObjectWebhook, ActionWebhookStats), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(context.Background(), ActorAgent, "", ActionWebhookStats), ErrInvalidObject)
}
