package cli

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadLines(t *testing.T) {
	t.Parallel()
	lines := []string{}
	err := ReadLines(context.Background(), strings.NewReader("send 1\n\n  stop  \n"), func(line string) {
		lines = append(lines, line)
	})
	assert.NoError(t, err)
	assert.Equal(t, []string{"send 1", "stop"}, lines)
}

func TestReadLinesCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	n := 0
	err := ReadLines(ctx, strings.NewReader("a\nb\nc\n"), func(string) {
		n++
		cancel()
	})
	assert.Equal(t, context.Canceled, err)
	assert.Equal(t, 1, n)
}
