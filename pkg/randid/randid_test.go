package randid

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^acp_session_[A-Za-z0-9]{16}$`)
	seen := map[string]struct{}{}
	for i := 0; i < 200; i++ {
		id, err := New("acp_session_")
		require.NoError(t, err)
		assert.Regexp(t, pattern, id)
		_, dup := seen[id]
		assert.False(t, dup)
		seen[id] = struct{}{}
	}
}
