package backtrack

import "fmt"

// Policy decides lostness from a full window of samples, oldest first.
type Policy interface {
	Name() string
	Lost(samples []float64) bool
}

// #region confidence
// ConfidencePolicy reports lost when the mean confidence falls strictly
// below Threshold.
type ConfidencePolicy struct {
	Threshold float64
}

func (ConfidencePolicy) Name() string { return "confidence" }

func (p ConfidencePolicy) Lost(samples []float64) bool {
	if len(samples) == 0 {
		return false
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return sum/float64(len(samples)) < p.Threshold
}

// #endregion confidence

// #region distance
// DistancePolicy reports lost when the hop distance to the goal grew on
// every step of the window.
type DistancePolicy struct{}

func (DistancePolicy) Name() string { return "topo_distance" }

func (DistancePolicy) Lost(samples []float64) bool {
	if len(samples) < 2 {
		return false
	}
	for i := 1; i < len(samples); i++ {
		if samples[i] <= samples[i-1] {
			return false
		}
	}
	return true
}

// #endregion distance

// NewPolicy builds a policy by name.
func NewPolicy(name string, threshold float64) (Policy, error) {
	switch name {
	case "confidence":
		return ConfidencePolicy{Threshold: threshold}, nil
	case "topo_distance":
		return DistancePolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown backtrack policy %q", name)
	}
}
