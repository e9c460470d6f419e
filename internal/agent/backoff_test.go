package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoublesUpToMax(t *testing.T) {
	b := newBackoff(1*time.Second, 8*time.Second)
	var last time.Duration
	for i := 0; i < 10; i++ {
		d := b.next()
		assert.LessOrEqual(t, d, 8*time.Second)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		last = d
	}
	_ = last
}

func TestBackoffResetReturnsToBase(t *testing.T) {
	b := newBackoff(1*time.Second, 8*time.Second)
	for i := 0; i < 5; i++ {
		b.next()
	}
	b.reset()
	assert.Equal(t, 1*time.Second, b.current)
}
