package errors

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// CheckNumericalStability guards a vector produced during an epoch, such as
// the per-frame scores of an evaluated video, before it is exported.
func CheckNumericalStability(operation string, values []float64, epoch int) error {
	for _, v := range values {
		if !finite(v) {
			return NewNumericalInstabilityError(operation, values, epoch)
		}
	}
	return nil
}

// CheckScalar guards the contrastive loss of one batch. A diverged loss
// cannot be recovered from, so training stops.
func CheckScalar(operation string, value float64, epoch int) error {
	if !finite(value) {
		return NewNumericalInstabilityError(operation, []float64{value}, epoch)
	}
	return nil
}

// LogSumExp returns log Σ exp(v) over one row of similarity logits without
// overflow at 1/τ scale. An empty row gives -Inf.
func LogSumExp(values []float64) float64 {
	if len(values) == 0 {
		return math.Inf(-1)
	}
	return floats.LogSumExp(values)
}
