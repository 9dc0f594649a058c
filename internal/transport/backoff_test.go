package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	want := []time.Duration{
		1 * time.Second,
		3 * time.Second,
		7 * time.Second,
		15 * time.Second,
		30 * time.Second,
	}
	for i, w := range want {
		n := i + 1
		assert.Equal(t, w, Backoff(n), "attempt %d", n)
		assert.LessOrEqual(t, Backoff(n), 30*time.Second)
	}

	assert.Equal(t, time.Duration(0), Backoff(0))
	assert.Equal(t, 30*time.Second, Backoff(64))
}

func TestBackoff_Monotonic(t *testing.T) {
	prev := Backoff(1)
	for n := 2; n <= 10; n++ {
		cur := Backoff(n)
		assert.GreaterOrEqual(t, cur, prev)
		prev = cur
	}
}
