package adapters_test

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/acpgateway/internal/payment/adapters"
	"github.com/smallbiznis/acpgateway/internal/payment/adapters/stub"
	"github.com/smallbiznis/acpgateway/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRoutesByMethod(t *testing.T) {
	r := adapters.NewRegistry("acp", stub.New("acp", "ACP Payment"), stub.New("card", "Card"))

	res, err := r.Charge(context.Background(), domain.ChargeRequest{Amount: decimal.NewFromInt(20), Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, "acp", res.Method)
	assert.True(t, strings.HasPrefix(res.PaymentID, "pay_"))
	assert.True(t, strings.HasPrefix(res.TransactionID, "txn_"))
	assert.Len(t, res.PaymentID, len("pay_")+16)

	res, err = r.Charge(context.Background(), domain.ChargeRequest{Method: " CARD ", Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)
	assert.Equal(t, "Card", res.MethodTitle)

	_, err = r.Charge(context.Background(), domain.ChargeRequest{Method: "crypto"})
	assert.ErrorIs(t, err, domain.ErrUnsupportedMethod)
}
