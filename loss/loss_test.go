package loss

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	perrors "github.com/YuminosukeSato/pglsum/pkg/errors"
)

func TestInfoNCEUniformScores(t *testing.T) {
	// Equal scores give log(B) whatever the labels.
	s := mat.NewDense(4, 4, nil)
	l, grad, err := InfoNCE(s)
	require.NoError(t, err)
	assert.InDelta(t, math.Log(4), l, 1e-12)

	// Every row of the gradient sums to zero.
	for i := 0; i < 4; i++ {
		assert.InDelta(t, 0.0, mat.Sum(grad.RowView(i)), 1e-12)
		assert.InDelta(t, (0.25-1)/4, grad.At(i, i), 1e-12)
	}
}

func TestInfoNCEConfidentDiagonal(t *testing.T) {
	s := mat.NewDense(2, 2, []float64{10, -10, -10, 10})
	l, _, err := InfoNCE(s)
	require.NoError(t, err)
	assert.Less(t, l, 1e-6)
	assert.GreaterOrEqual(t, l, 0.0)
}

func TestInfoNCELargeScoresStayFinite(t *testing.T) {
	s := mat.NewDense(2, 2, []float64{1000, 999, -1000, 1000})
	l, grad, err := InfoNCE(s)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(l) || math.IsInf(l, 0))
	assert.False(t, math.IsNaN(mat.Sum(grad)))
}

func TestInfoNCEGradientMatchesFiniteDifferences(t *testing.T) {
	s := mat.NewDense(3, 3, []float64{1, 0.5, -2, 0.3, 2, 0.1, -1, 1.5, 0.7})
	_, grad, err := InfoNCE(s)
	require.NoError(t, err)

	const step = 1e-6
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			orig := s.At(i, j)
			s.Set(i, j, orig+step)
			lp, _, _ := InfoNCE(s)
			s.Set(i, j, orig-step)
			lm, _, _ := InfoNCE(s)
			s.Set(i, j, orig)
			assert.InDelta(t, (lp-lm)/(2*step), grad.At(i, j), 1e-6, "(%d,%d)", i, j)
		}
	}
}

func TestInfoNCERejectsNonSquare(t *testing.T) {
	_, _, err := InfoNCE(mat.NewDense(2, 3, nil))
	var de *perrors.DimensionError
	assert.ErrorAs(t, err, &de)
}

func TestCrossEntropyLabelValidation(t *testing.T) {
	_, _, err := CrossEntropy(mat.NewDense(2, 2, nil), []int{0})
	var de *perrors.DimensionError
	assert.ErrorAs(t, err, &de)

	_, _, err = CrossEntropy(mat.NewDense(2, 2, nil), []int{0, 2})
	var ve *perrors.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestDiagonalLabels(t *testing.T) {
	assert.Equal(t, []int{0, 1, 2}, DiagonalLabels(3))
	assert.Empty(t, DiagonalLabels(0))
}
