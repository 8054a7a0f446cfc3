package optim

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/YuminosukeSato/pglsum/core/model"
)

// GradNorm returns the L2 norm of all gradients taken as one vector.
func GradNorm(params []*model.Parameter) float64 {
	sum := 0.0
	for _, p := range params {
		rows, _ := p.Grad.Dims()
		for i := 0; i < rows; i++ {
			row := p.Grad.RawRowView(i)
			sum += floats.Dot(row, row)
		}
	}
	return math.Sqrt(sum)
}

// ClipGradNorm rescales every gradient by maxNorm/(norm+1e-6) when the global
// norm exceeds maxNorm, and returns the norm measured before clipping.
func ClipGradNorm(params []*model.Parameter, maxNorm float64) float64 {
	norm := GradNorm(params)
	if norm <= maxNorm {
		return norm
	}
	scale := maxNorm / (norm + 1e-6)
	for _, p := range params {
		p.Grad.Scale(scale, p.Grad)
	}
	return norm
}
