package console

import (
	"math"
	"strconv"

	"github.com/juju/errors"
	"github.com/temoto/svlink/packet"
)

const TuningFields = 12

// Tuning is operator view of vehicle settings.
// Wire values are truncated toward zero.
type Tuning struct {
	SteeringP, SteeringI, SteeringD, SteeringZero     float64
	ForwardP, ForwardI, ForwardD, ForwardIntegral     float64
	BackwardP, BackwardI, BackwardD, BackwardIntegral float64
}

func (t Tuning) Settings(coi int8) packet.Settings {
	return packet.Settings{
		Coi: coi,
		Steering: packet.SteeringGains{
			P: int32(t.SteeringP), I: int32(t.SteeringI), D: int32(t.SteeringD), Zero: int32(t.SteeringZero),
		},
		Forward: packet.DriveGains{
			P: int32(t.ForwardP), I: int32(t.ForwardI), D: int32(t.ForwardD), Integral: int32(t.ForwardIntegral),
		},
		Backward: packet.DriveGains{
			P: int32(t.BackwardP), I: int32(t.BackwardI), D: int32(t.BackwardD), Integral: int32(t.BackwardIntegral),
		},
	}
}

func TuningFromSettings(s packet.Settings) Tuning {
	return Tuning{
		SteeringP: float64(s.Steering.P), SteeringI: float64(s.Steering.I),
		SteeringD: float64(s.Steering.D), SteeringZero: float64(s.Steering.Zero),
		ForwardP: float64(s.Forward.P), ForwardI: float64(s.Forward.I),
		ForwardD: float64(s.Forward.D), ForwardIntegral: float64(s.Forward.Integral),
		BackwardP: float64(s.Backward.P), BackwardI: float64(s.Backward.I),
		BackwardD: float64(s.Backward.D), BackwardIntegral: float64(s.Backward.Integral),
	}
}

// ParseTuning reads fields in Tuning order.
func ParseTuning(args []string) (Tuning, error) {
	if len(args) != TuningFields {
		return Tuning{}, errors.NotValidf("tuning expected %d numbers, got %d", TuningFields, len(args))
	}
	var v [TuningFields]float64
	for i, s := range args {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Tuning{}, errors.Annotatef(err, "tuning field=%d", i+1)
		}
		if tf := math.Trunc(f); math.IsNaN(f) || tf < math.MinInt32 || tf > math.MaxInt32 {
			return Tuning{}, errors.NotValidf("tuning field=%d value=%s out of int32 range", i+1, s)
		}
		v[i] = f
	}
	return Tuning{
		v[0], v[1], v[2], v[3],
		v[4], v[5], v[6], v[7],
		v[8], v[9], v[10], v[11],
	}, nil
}
