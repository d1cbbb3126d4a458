package idgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserIDFormat(t *testing.T) {
	id, err := UserID()
	require.NoError(t, err)
	require.Len(t, id, UserIDLength)
	for _, r := range id {
		assert.True(t, strings.ContainsRune(alphabet, r), "unexpected character %q", r)
	}
}

func TestStringLength(t *testing.T) {
	for _, n := range []int{0, 1, 20, 64} {
		s, err := String(n)
		require.NoError(t, err)
		assert.Len(t, s, n)
	}
}

func TestUserIDsDiffer(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id, err := UserID()
		require.NoError(t, err)
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}
