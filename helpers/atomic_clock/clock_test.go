package atomic_clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClock(t *testing.T) {
	t.Parallel()
	const delta = 100 * time.Millisecond
	var c Clock
	assert.True(t, Since(&c) > time.Hour)

	c.SetNow()
	assert.True(t, Since(&c) < delta)
}
