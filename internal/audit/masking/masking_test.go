package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret("  "))
	assert.Equal(t, "****", MaskSecret("abcd"))
	assert.Equal(t, "sk_live_****7890", MaskSecret("sk_live_1234567890"))
}

func TestMaskJSONMasksSensitiveKeysOnly(t *testing.T) {
	out := MaskJSON(map[string]any{
		"currency":      "USD",
		"Authorization": "Bearer abcdefgh",
		"payment": map[string]any{
			"card_number": "4242424242424242",
			"method":      "card",
		},
		"items": []any{map[string]any{"api_key": "key_123456789"}},
	})

	assert.Equal(t, "USD", out["currency"])
	assert.Equal(t, "****efgh", out["Authorization"])

	payment := out["payment"].(map[string]any)
	assert.Equal(t, "****4242", payment["card_number"])
	assert.Equal(t, "card", payment["method"])

	items := out["items"].([]any)
	assert.Equal(t, "key_****6789", items[0].(map[string]any)["api_key"])
}

func TestMaskJSONEmpty(t *testing.T) {
	assert.Nil(t, MaskJSON(nil))
	assert.Nil(t, MaskJSON(map[string]any{" ": "x"}))
}
