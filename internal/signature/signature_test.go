package signature

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		payload := make([]byte, rng.Intn(512))
		rng.Read(payload)
		secret := randomSecret(rng)

		sig := Sign(payload, secret)
		assert.True(t, strings.HasPrefix(sig, Prefix))
		assert.True(t, Verify(payload, sig, secret))

		if len(payload) == 0 {
			continue
		}
		tampered := append([]byte(nil), payload...)
		idx := rng.Intn(len(tampered))
		tampered[idx] ^= 0x01
		assert.False(t, Verify(tampered, sig, secret), "flipped byte %d must fail", idx)
	}
}

func TestVerifyAcceptsBareHex(t *testing.T) {
	payload := []byte(`{"event":"order.status_changed"}`)
	sig := strings.TrimPrefix(Sign(payload, "s3cret"), Prefix)
	assert.True(t, Verify(payload, sig, "s3cret"))
}

func TestVerifyRejectsWrongSecretAndGarbage(t *testing.T) {
	payload := []byte("body")
	sig := Sign(payload, "a")
	assert.False(t, Verify(payload, sig, "b"))
	assert.False(t, Verify(payload, "sha256=zz", "a"))
	assert.False(t, Verify(payload, "", "a"))
}

func randomSecret(rng *rand.Rand) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 8+rng.Intn(24))
	for i := range b {
		b[i] = alphabet[rng.Intn(len(alphabet))]
	}
	return string(b)
}
