package idgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("txn_")
	assert.Regexp(t, `^txn_[0-9a-f]{24}$`, id)

	seen := make(map[string]bool)
	for range 1000 {
		id := WithPrefix("")
		assert.Len(t, id, 24)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}
