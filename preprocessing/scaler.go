// Package preprocessing standardizes frame features before training.
package preprocessing

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	perrors "github.com/YuminosukeSato/pglsum/pkg/errors"
)

// minScale replaces the scale of a constant feature.
const minScale = 1e-8

// StandardScaler maps every feature to zero mean and unit variance, with the
// statistics pooled over all frames of all fitted videos.
type StandardScaler struct {
	Mean  []float64
	Scale []float64

	fitted bool
}

// NewStandardScaler returns an unfitted scaler.
func NewStandardScaler() *StandardScaler {
	return &StandardScaler{}
}

// Fit computes per-feature mean and population standard deviation over the
// frames of every video.
func (s *StandardScaler) Fit(videos []mat.Matrix) error {
	if len(videos) == 0 {
		return perrors.NewModelError("StandardScaler.Fit", "no videos", perrors.ErrEmptyData)
	}
	_, d := videos[0].Dims()
	if d == 0 {
		return perrors.NewModelError("StandardScaler.Fit", "no features", perrors.ErrEmptyData)
	}

	sum := make([]float64, d)
	sumSq := make([]float64, d)
	row := make([]float64, d)
	n := 0
	for _, v := range videos {
		r, c := v.Dims()
		if c != d {
			return perrors.NewDimensionError("StandardScaler.Fit", d, c, 1)
		}
		for i := 0; i < r; i++ {
			mat.Row(row, i, v)
			floats.Add(sum, row)
			for j, x := range row {
				sumSq[j] += x * x
			}
		}
		n += r
	}
	if n == 0 {
		return perrors.NewModelError("StandardScaler.Fit", "no frames", perrors.ErrEmptyData)
	}

	s.Mean = make([]float64, d)
	s.Scale = make([]float64, d)
	for j := 0; j < d; j++ {
		mean := sum[j] / float64(n)
		variance := math.Max(sumSq[j]/float64(n)-mean*mean, 0)
		s.Mean[j] = mean
		s.Scale[j] = math.Sqrt(variance)
		if s.Scale[j] < minScale {
			s.Scale[j] = 1
		}
	}
	s.fitted = true
	return nil
}

// Transform returns (x - mean) / scale.
func (s *StandardScaler) Transform(x mat.Matrix) (*mat.Dense, error) {
	if !s.fitted {
		return nil, perrors.NewNotBuiltError("StandardScaler", "Transform")
	}
	r, c := x.Dims()
	if c != len(s.Mean) {
		return nil, perrors.NewDimensionError("StandardScaler.Transform", len(s.Mean), c, 1)
	}

	out := mat.DenseCopyOf(x)
	for i := 0; i < r; i++ {
		row := out.RawRowView(i)
		floats.Sub(row, s.Mean)
		floats.Div(row, s.Scale)
	}
	return out, nil
}

// InverseTransform undoes Transform.
func (s *StandardScaler) InverseTransform(x mat.Matrix) (*mat.Dense, error) {
	if !s.fitted {
		return nil, perrors.NewNotBuiltError("StandardScaler", "InverseTransform")
	}
	r, c := x.Dims()
	if c != len(s.Mean) {
		return nil, perrors.NewDimensionError("StandardScaler.InverseTransform", len(s.Mean), c, 1)
	}

	out := mat.DenseCopyOf(x)
	for i := 0; i < r; i++ {
		row := out.RawRowView(i)
		floats.Mul(row, s.Scale)
		floats.Add(row, s.Mean)
	}
	return out, nil
}
