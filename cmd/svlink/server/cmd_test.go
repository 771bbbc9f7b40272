package server

import (
	"bytes"
	"context"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/svlink/device"
	"github.com/temoto/svlink/log2"
	"github.com/temoto/svlink/packet"
	"github.com/temoto/svlink/state"
)

func TestShell(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	config := &state.Config{}
	config.Server.Listen = "tcp://127.0.0.1:0"
	v, err := device.New(device.Options{Log: log, Config: config.Device})
	require.NoError(t, err)
	require.NoError(t, v.Server().Start(config.ListenOptions()))
	v.Start()
	defer v.Stop()

	out := new(bytes.Buffer)
	sh := &shell{config: config, v: v, out: out}
	ctx := context.Background()

	require.NoError(t, sh.exec(ctx, "help"))
	assert.Contains(t, out.String(), "commands:")

	out.Reset()
	require.NoError(t, sh.exec(ctx, "conns"))
	assert.Contains(t, out.String(), "pending tasks=0")

	require.NoError(t, sh.exec(ctx, "state 1"))
	assert.Equal(t, packet.StateRun, v.State())
	require.NoError(t, sh.exec(ctx, "data 10 20"))
	require.NoError(t, sh.exec(ctx, "send hello"))
	require.NoError(t, sh.exec(ctx, "   "))

	out.Reset()
	require.NoError(t, sh.exec(ctx, "stat"))
	assert.Contains(t, out.String(), `"broken":0`)

	require.NoError(t, sh.exec(ctx, "stop"))
	assert.False(t, v.Server().Listening())
	require.NoError(t, sh.exec(ctx, "start"))
	assert.True(t, v.Server().Listening())

	cases := []struct {
		line  string
		check func(error) bool
	}{
		{"answer ok", func(err error) bool { return err != nil }},
		{"answer maybe", errors.IsNotValid},
		{"data 1", errors.IsNotValid},
		{"data 1 x", func(err error) bool { return err != nil }},
		{"state", errors.IsNotValid},
		{"state 200", errors.IsNotValid},
		{"state -129", errors.IsNotValid},
		{"send", errors.IsNotValid},
		{"bogus", errors.IsNotFound},
	}
	for _, c := range cases {
		err := sh.exec(ctx, c.line)
		assert.True(t, c.check(err), "line=%s err=%v", c.line, err)
	}
	assert.Equal(t, packet.StateRun, v.State())
}
