package console

import (
	"strings"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/svlink/packet"
)

func TestTuningTruncate(t *testing.T) {
	t.Parallel()
	tu := Tuning{
		SteeringP: 1.9, SteeringI: -1.9, SteeringD: 0.4, SteeringZero: 90.99,
		ForwardP: 3, ForwardI: 2.5, ForwardD: 1, ForwardIntegral: 100.7,
		BackwardP: -3.2, BackwardI: -2, BackwardD: -1.01, BackwardIntegral: -100,
	}
	s := tu.Settings(42)
	assert.Equal(t, packet.Settings{
		Coi:      42,
		Steering: packet.SteeringGains{P: 1, I: -1, D: 0, Zero: 90},
		Forward:  packet.DriveGains{P: 3, I: 2, D: 1, Integral: 100},
		Backward: packet.DriveGains{P: -3, I: -2, D: -1, Integral: -100},
	}, s)
	assert.Equal(t, s, TuningFromSettings(s).Settings(42))
}

func TestParseTuning(t *testing.T) {
	t.Parallel()
	tu, err := ParseTuning(strings.Fields("1 2 3 4 5 6 7 8 9 10 11 12.5"))
	require.NoError(t, err)
	assert.Equal(t, 1.0, tu.SteeringP)
	assert.Equal(t, 4.0, tu.SteeringZero)
	assert.Equal(t, 8.0, tu.ForwardIntegral)
	assert.Equal(t, 12.5, tu.BackwardIntegral)

	_, err = ParseTuning(strings.Fields("1 2 3"))
	require.Error(t, err)
	assert.True(t, errors.IsNotValid(err))

	_, err = ParseTuning(strings.Fields("1 2 3 4 5 6 7 8 9 10 11 x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field=12")

	for _, bad := range []string{"NaN", "+Inf", "-Inf", "2147483648", "-2147483649", "1e300"} {
		_, err = ParseTuning(strings.Fields("1 2 3 4 5 " + bad + " 7 8 9 10 11 12"))
		assert.True(t, errors.IsNotValid(err), "value=%s err=%v", bad, err)
		assert.Contains(t, err.Error(), "field=6")
	}
	tu, err = ParseTuning(strings.Fields("1 2 3 4 5 6 7 8 9 10 11 2147483647.9"))
	require.NoError(t, err)
	assert.Equal(t, int32(2147483647), tu.Settings(1).Backward.Integral)
}

func TestTimeline(t *testing.T) {
	t.Parallel()
	var tl Timeline
	assert.Equal(t, 0.0, tl.Seconds(5000))
	assert.Equal(t, 1.5, tl.Seconds(6500))
	tl.Reset()
	assert.Equal(t, 0.0, tl.Seconds(100))
	assert.Equal(t, -0.1, tl.Seconds(0))
}

func TestSpeed(t *testing.T) {
	t.Parallel()
	var s Speed
	assert.Equal(t, 0.0, s.Update(0, 10))
	assert.Equal(t, 20.0, s.Update(0.5, 20))
	assert.Equal(t, 0.0, s.Update(0.5, 30), "same time")
	assert.Equal(t, -10.0, s.Update(1.5, 20))
}
