package idempotency

import "testing"

func TestValidKey(t *testing.T) {
	valid := []string{"abc", "ABC_123", "a-b-c", "0"}
	for _, k := range valid {
		if !ValidKey(k) {
			t.Fatalf("expected %q to be valid", k)
		}
	}
	invalid := []string{"", "a b", "a.b", "a/b", "ключ"}
	for _, k := range invalid {
		if ValidKey(k) {
			t.Fatalf("expected %q to be invalid", k)
		}
	}
}
