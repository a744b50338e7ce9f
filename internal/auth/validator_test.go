package auth

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/smallbiznis/acpgateway/internal/clock"
	"github.com/smallbiznis/acpgateway/internal/config"
	"github.com/smallbiznis/acpgateway/internal/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestValidator(mutate func(*config.ACPConfig)) *Validator {
	cfg := config.ACPConfig{
		APIKey:         "agent-key",
		MerchantAPIKey: "merchant-key",
		SigningSecret:  "signing-secret",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewValidator(cfg, clock.NewFakeClock(testNow), zap.NewNop())
}

func validHeaders(ts int64) http.Header {
	h := http.Header{}
	h.Set(HeaderAuthorization, "Bearer agent-key")
	h.Set(HeaderIdempotencyKey, "idem_123")
	h.Set(HeaderRequestID, "req-1")
	h.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	return h
}

func authMessage(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	return authErr.Message
}

func TestValidateHeadersAccepted(t *testing.T) {
	v := newTestValidator(nil)
	h := validHeaders(testNow.Unix())
	h.Set(HeaderAPIVersion, "2025-09-29")

	got, err := v.ValidateHeaders(h)
	require.NoError(t, err)
	assert.Equal(t, "idem_123", got.IdempotencyKey)
	assert.Equal(t, "req-1", got.RequestID)
	assert.Equal(t, "agent-key", got.Token)
	assert.Equal(t, "2025-09-29", got.APIVersion)
}

func TestValidateHeadersMissing(t *testing.T) {
	v := newTestValidator(nil)
	for _, name := range []string{HeaderIdempotencyKey, HeaderRequestID, HeaderTimestamp} {
		h := validHeaders(testNow.Unix())
		h.Del(name)
		_, err := v.ValidateHeaders(h)
		assert.Equal(t, "Missing required header: "+name, authMessage(t, err))
	}
}

func TestTimestampBoundary(t *testing.T) {
	v := newTestValidator(nil)

	_, err := v.ValidateHeaders(validHeaders(testNow.Unix() - 299))
	assert.NoError(t, err)
	_, err = v.ValidateHeaders(validHeaders(testNow.Unix() - 300))
	assert.NoError(t, err)

	_, err = v.ValidateHeaders(validHeaders(testNow.Unix() - 301))
	assert.Equal(t, "Timestamp is too old (replay attack prevention)", authMessage(t, err))

	_, err = v.ValidateHeaders(validHeaders(testNow.Unix() + 301))
	assert.Equal(t, "Timestamp is in the future", authMessage(t, err))

	h := validHeaders(testNow.Unix())
	h.Set(HeaderTimestamp, "yesterday")
	_, err = v.ValidateHeaders(h)
	assert.Equal(t, "Timestamp must be a valid Unix timestamp", authMessage(t, err))
}

func TestConfiguredTolerance(t *testing.T) {
	v := newTestValidator(func(c *config.ACPConfig) { c.TimestampTolerance = 60 * time.Second })
	_, err := v.ValidateHeaders(validHeaders(testNow.Unix() - 61))
	assert.True(t, IsAuthError(err))
}

func TestBearerToken(t *testing.T) {
	v := newTestValidator(nil)

	h := validHeaders(testNow.Unix())
	h.Set(HeaderAuthorization, "bearer    agent-key")
	_, err := v.ValidateHeaders(h)
	assert.NoError(t, err)

	h.Set(HeaderAuthorization, "Bearer wrong")
	_, err = v.ValidateHeaders(h)
	assert.Equal(t, "Invalid or expired token", authMessage(t, err))

	h.Set(HeaderAuthorization, "Basic abc")
	_, err = v.ValidateHeaders(h)
	assert.Equal(t, "Invalid authorization format", authMessage(t, err))

	h.Del(HeaderAuthorization)
	_, err = v.ValidateHeaders(h)
	assert.Equal(t, "Authorization header required", authMessage(t, err))
}

func TestUnsetAPIKeyRejectsEverything(t *testing.T) {
	v := newTestValidator(func(c *config.ACPConfig) { c.APIKey = "" })
	h := validHeaders(testNow.Unix())
	h.Set(HeaderAuthorization, "Bearer ")
	_, err := v.ValidateHeaders(h)
	assert.True(t, IsAuthError(err))
}

func TestIdempotencyKeyFormat(t *testing.T) {
	v := newTestValidator(nil)
	h := validHeaders(testNow.Unix())
	h.Set(HeaderIdempotencyKey, "bad key")
	_, err := v.ValidateHeaders(h)
	assert.Equal(t, "Invalid idempotency key format", authMessage(t, err))
}

func TestAuthenticateMerchant(t *testing.T) {
	v := newTestValidator(nil)
	assert.NoError(t, v.AuthenticateMerchant("Bearer merchant-key"))
	assert.Error(t, v.AuthenticateMerchant("Bearer agent-key"))
}

func TestVerifyBody(t *testing.T) {
	body := []byte(`{"items":[{"sku":"A","quantity":1}]}`)

	off := newTestValidator(nil)
	assert.NoError(t, off.VerifyBody(&Headers{}, body))

	on := newTestValidator(func(c *config.ACPConfig) { c.SignatureRequired = true })
	err := on.VerifyBody(&Headers{}, body)
	assert.Equal(t, "Missing required header: Signature", authMessage(t, err))

	good := &Headers{Signature: signature.Sign(body, "signing-secret")}
	assert.NoError(t, on.VerifyBody(good, body))

	tampered := append([]byte(nil), body...)
	tampered[3] = 'X'
	err = on.VerifyBody(good, tampered)
	assert.Equal(t, "Invalid request signature", authMessage(t, err))
}
