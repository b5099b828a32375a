package attribution

import (
	"fmt"
	"math"
	"time"
)

// Model identifies an attribution credit model.
type Model string

const (
	FirstTouch    Model = "first_touch"
	LastTouch     Model = "last_touch"
	Linear        Model = "linear"
	TimeDecay     Model = "time_decay"
	PositionBased Model = "position_based"
)

// AllModels lists every supported credit model.
var AllModels = []Model{FirstTouch, LastTouch, Linear, TimeDecay, PositionBased}

// ParseModel validates a model name from an API request.
func ParseModel(s string) (Model, error) {
	for _, m := range AllModels {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown attribution model: %q", s)
}

// CreditConfig carries model parameters.
type CreditConfig struct {
	// HalfLife is the time-decay half-life: a touchpoint this far
	// before the conversion gets half the weight of one at the
	// conversion instant.
	HalfLife time.Duration
}

// Position-based model shares: 40% first touch, 40% last touch, 20%
// split across the middle.
const (
	positionEdgeShare   = 0.4
	positionMiddleShare = 0.2
)

// CreditForPath distributes exactly 1.0 of conversion credit across a
// path's touchpoints under the given model. The returned slice is
// parallel to path.Touchpoints.
func CreditForPath(model Model, path *ConversionPath, cfg CreditConfig) ([]float64, error) {
	n := len(path.Touchpoints)
	if n == 0 {
		return nil, fmt.Errorf("conversion path has no touchpoints")
	}

	credits := make([]float64, n)

	switch model {
	case FirstTouch:
		credits[0] = 1.0

	case LastTouch:
		credits[n-1] = 1.0

	case Linear:
		share := 1.0 / float64(n)
		for i := range credits {
			credits[i] = share
		}

	case TimeDecay:
		halfLife := cfg.HalfLife
		if halfLife <= 0 {
			halfLife = 7 * 24 * time.Hour
		}
		var total float64
		for i, tp := range path.Touchpoints {
			age := path.ConvertedAt.Sub(tp.Timestamp)
			w := math.Pow(2, -age.Hours()/halfLife.Hours())
			credits[i] = w
			total += w
		}
		for i := range credits {
			credits[i] /= total
		}

	case PositionBased:
		switch n {
		case 1:
			credits[0] = 1.0
		case 2:
			// No middle to absorb its share, split evenly.
			credits[0] = 0.5
			credits[1] = 0.5
		default:
			credits[0] = positionEdgeShare
			credits[n-1] = positionEdgeShare
			middle := positionMiddleShare / float64(n-2)
			for i := 1; i < n-1; i++ {
				credits[i] = middle
			}
		}

	default:
		return nil, fmt.Errorf("unknown attribution model: %q", model)
	}

	return credits, nil
}
