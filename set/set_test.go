package set

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet_InsertKeepsOrder(t *testing.T) {
	var s Set[string]
	assert.True(t, s.Insert("validate"))
	assert.True(t, s.Insert("lock_rate"))
	assert.False(t, s.Insert("validate"))

	assert.True(t, s.Contains("lock_rate"))
	assert.False(t, s.Contains("capture"))
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []string{"validate", "lock_rate"}, s.Values())
}
