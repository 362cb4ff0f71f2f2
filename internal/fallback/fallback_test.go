package fallback

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageReturnsOneOfThePool(t *testing.T) {
	pool := All()
	for i := 0; i < 50; i++ {
		assert.Contains(t, pool, Message())
	}
}

func TestAllReturnsFiveMessages(t *testing.T) {
	assert.Len(t, All(), 5)
}

func TestAllReturnsACopy(t *testing.T) {
	pool := All()
	pool[0] = "mutated"
	assert.NotEqual(t, pool[0], All()[0])
}
