package subcmd

import (
	"context"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/svlink/state"
)

func TestParse(t *testing.T) {
	t.Parallel()
	noop := func(context.Context, *state.Config, []string) error { return nil }
	mods := []Mod{{Name: "server", Usage: "run", Main: noop}, {Name: "addrs", Main: noop}}

	m, err := Parse("addrs", mods)
	require.NoError(t, err)
	assert.Equal(t, "addrs", m.Name)

	_, err = Parse("", mods)
	assert.EqualError(t, err, "empty command")
	_, err = Parse("bogus", mods)
	assert.EqualError(t, err, "unknown command='bogus'")
	assert.Contains(t, Usage(mods), "server")
}

func TestParseInt32s(t *testing.T) {
	t.Parallel()
	xs, err := ParseInt32s([]string{"-5", "2147483647"}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int32{-5, 2147483647}, xs)

	_, err = ParseInt32s([]string{"2147483648"}, 1)
	assert.Error(t, err)
	_, err = ParseInt32s([]string{"1"}, 2)
	assert.True(t, errors.IsNotValid(err))
}
