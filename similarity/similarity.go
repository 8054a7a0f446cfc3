// Package similarity scores every pair of embeddings from two views of the
// same batch by temperature-scaled cosine similarity.
package similarity

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/pglsum/core/parallel"
	perrors "github.com/YuminosukeSato/pglsum/pkg/errors"
)

const (
	// Temperature divides every cosine similarity.
	Temperature = 0.1
	// Epsilon floors each vector norm.
	Epsilon = 1e-6
)

// Scorer computes S[i][j] = cos(H1[i], H2[j]) / τ.
type Scorer struct {
	tau float64
}

// Default scores with Temperature.
var Default = &Scorer{tau: Temperature}

// New returns a Scorer with temperature tau.
func New(tau float64) (*Scorer, error) {
	if !(tau > 0) || math.IsInf(tau, 0) {
		return nil, perrors.NewValidationError("temperature", "must be a positive finite number", tau)
	}
	return &Scorer{tau: tau}, nil
}

// Temperature returns τ.
func (s *Scorer) Temperature() float64 {
	return s.tau
}

// Matrix scores rows of h1 against rows of h2 with the default temperature.
func Matrix(h1, h2 mat.Matrix) (*mat.Dense, error) {
	return Default.Matrix(h1, h2)
}

// Matrix returns the N×M similarity matrix of h1 (N×D) and h2 (M×D). Every
// entry lies in [-1/τ, 1/τ]; zero rows score 0 against everything.
func (s *Scorer) Matrix(h1, h2 mat.Matrix) (*mat.Dense, error) {
	u1, _, err := unitRows(h1)
	if err != nil {
		return nil, err
	}
	u2, _, err := unitRows(h2)
	if err != nil {
		return nil, err
	}
	if _, d1 := u1.Dims(); d1 != colsOf(u2) {
		return nil, perrors.NewDimensionError("similarity.Matrix", d1, colsOf(u2), 1)
	}

	var out mat.Dense
	out.Mul(u1, u2.T())
	// Unit rows can still produce a dot product a few ULPs past ±1.
	out.Apply(func(_, _ int, v float64) float64 {
		return math.Max(-1, math.Min(1, v)) / s.tau
	}, &out)
	return &out, nil
}

// Backward returns dLoss/dH1 and dLoss/dH2 given dS = dLoss/dS. A row whose
// norm was floored at Epsilon is treated as having a constant norm.
func (s *Scorer) Backward(h1, h2, dS mat.Matrix) (dH1, dH2 *mat.Dense, err error) {
	u1, n1, err := unitRows(h1)
	if err != nil {
		return nil, nil, err
	}
	u2, n2, err := unitRows(h2)
	if err != nil {
		return nil, nil, err
	}
	r1, d1 := u1.Dims()
	r2, d2 := u2.Dims()
	if d1 != d2 {
		return nil, nil, perrors.NewDimensionError("similarity.Backward", d1, d2, 1)
	}
	if dr, dc := dS.Dims(); dr != r1 || dc != r2 {
		if dr != r1 {
			return nil, nil, perrors.NewDimensionError("similarity.Backward", r1, dr, 0)
		}
		return nil, nil, perrors.NewDimensionError("similarity.Backward", r2, dc, 1)
	}

	var g mat.Dense
	g.Scale(1/s.tau, dS)

	// Gradients with respect to the unit vectors.
	var du1, du2 mat.Dense
	du1.Mul(&g, u2)
	du2.Mul(g.T(), u1)

	unproject(&du1, u1, n1)
	unproject(&du2, u2, n2)
	return &du1, &du2, nil
}

// unitRows returns h with every row divided by max(‖row‖, Epsilon), and the
// floored norms.
func unitRows(h mat.Matrix) (*mat.Dense, []float64, error) {
	r, c := h.Dims()
	if r == 0 || c == 0 {
		return nil, nil, perrors.ErrEmptyData
	}
	u := mat.DenseCopyOf(h)
	norms := make([]float64, r)
	parallel.ForWithThreshold(r, parallel.DefaultThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			row := u.RawRowView(i)
			n := math.Max(floats.Norm(row, 2), Epsilon)
			norms[i] = n
			floats.Scale(1/n, row)
		}
	})
	return u, norms, nil
}

// unproject maps gradients on unit vectors back to the raw rows in place:
// d = (du - (du·u)u) / n, or du / Epsilon when the norm was floored.
func unproject(du, u *mat.Dense, norms []float64) {
	r, _ := du.Dims()
	parallel.ForWithThreshold(r, parallel.DefaultThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			g := du.RawRowView(i)
			if norms[i] > Epsilon {
				ui := u.RawRowView(i)
				floats.AddScaled(g, -floats.Dot(g, ui), ui)
			}
			floats.Scale(1/norms[i], g)
		}
	})
}

func colsOf(m mat.Matrix) int {
	_, c := m.Dims()
	return c
}
