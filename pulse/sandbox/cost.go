package sandbox

import "math"

// Pricing constants
const (
	BaseCost      = 0.01 // Charged per invocation
	CostPerSecond = 0.05 // Charged per second of wall clock
)

// Cost prices a run: round4(BaseCost + executionTime*CostPerSecond).
// Failed runs are priced the same way.
func Cost(executionTime float64) float64 {
	return round4(BaseCost + executionTime*CostPerSecond)
}

func round4(x float64) float64 {
	return math.Round(x*1e4) / 1e4
}
