package optim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/pglsum/core/model"
	perrors "github.com/YuminosukeSato/pglsum/pkg/errors"
)

func param(name string, values ...float64) *model.Parameter {
	return model.NewParameter(name, model.RoleWeight, mat.NewDense(1, len(values), values))
}

func TestAdamFirstStepMovesByLR(t *testing.T) {
	p := param("w", 1, -1)
	p.Grad.Set(0, 0, 0.5)
	p.Grad.Set(0, 1, -3)

	opt, err := NewAdam([]*model.Parameter{p}, AdamConfig{LR: 0.01})
	require.NoError(t, err)
	opt.Step()

	// With bias correction the first step is lr * sign(g).
	assert.InDelta(t, 1-0.01, p.Value.At(0, 0), 1e-6)
	assert.InDelta(t, -1+0.01, p.Value.At(0, 1), 1e-6)
	assert.Equal(t, 1, opt.Timestep())
}

func TestAdamWeightDecayActsWithoutGradient(t *testing.T) {
	p := param("w", 2)
	opt, err := NewAdam([]*model.Parameter{p}, AdamConfig{LR: 0.1, WeightDecay: 1e-2})
	require.NoError(t, err)

	opt.Step()
	assert.Less(t, p.Value.At(0, 0), 2.0)
}

func TestAdamZeroGradientNoDecayKeepsParameter(t *testing.T) {
	p := param("w", 2)
	opt, err := NewAdam([]*model.Parameter{p}, AdamConfig{LR: 0.1})
	require.NoError(t, err)

	opt.Step()
	assert.Equal(t, 2.0, p.Value.At(0, 0))
}

func TestAdamZeroGrad(t *testing.T) {
	p := param("w", 1)
	p.Grad.Set(0, 0, 4)
	opt, err := NewAdam([]*model.Parameter{p}, AdamConfig{LR: 1e-3})
	require.NoError(t, err)

	opt.ZeroGrad()
	assert.Equal(t, 0.0, p.Grad.At(0, 0))
	assert.Equal(t, 1e-3, opt.LR())
}

func TestNewAdamValidation(t *testing.T) {
	var ve *perrors.ValidationError
	_, err := NewAdam(nil, AdamConfig{LR: 0})
	assert.ErrorAs(t, err, &ve)
	_, err = NewAdam(nil, AdamConfig{LR: 1, WeightDecay: -1})
	assert.ErrorAs(t, err, &ve)
}

func TestClipGradNorm(t *testing.T) {
	a := param("a", 0, 0)
	b := param("b", 0)
	a.Grad.Set(0, 0, 3)
	a.Grad.Set(0, 1, 4)
	b.Grad.Set(0, 0, 12)
	params := []*model.Parameter{a, b}

	pre := ClipGradNorm(params, 5)
	assert.InDelta(t, 13.0, pre, 1e-12)
	assert.LessOrEqual(t, GradNorm(params), 5.0)
	assert.InDelta(t, 5.0, GradNorm(params), 1e-5)

	// Direction is preserved.
	assert.InDelta(t, 4.0/3.0, a.Grad.At(0, 1)/a.Grad.At(0, 0), 1e-12)
}

func TestClipGradNormBelowThresholdIsNoop(t *testing.T) {
	a := param("a", 0)
	a.Grad.Set(0, 0, 1)

	pre := ClipGradNorm([]*model.Parameter{a}, 5)
	assert.Equal(t, 1.0, pre)
	assert.Equal(t, 1.0, a.Grad.At(0, 0))
}

func TestGradNormEmpty(t *testing.T) {
	assert.Equal(t, 0.0, GradNorm(nil))
	assert.False(t, math.IsNaN(ClipGradNorm(nil, 1)))
}
