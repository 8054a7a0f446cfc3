// Package optim updates model parameters from their accumulated gradients.
package optim

import (
	"math"

	"github.com/YuminosukeSato/pglsum/core/model"
	perrors "github.com/YuminosukeSato/pglsum/pkg/errors"
)

// AdamConfig holds the Adam hyperparameters. Zero betas and epsilon take the
// usual defaults.
type AdamConfig struct {
	LR          float64
	WeightDecay float64 // L2 penalty added to the gradient
	Betas       [2]float64
	Eps         float64
}

// Adam is the Adam optimizer with L2 weight decay folded into the gradient:
//
//	g   = grad + wd * p
//	m   = b1*m + (1-b1)*g
//	v   = b2*v + (1-b2)*g²
//	p  -= lr * (m/(1-b1^t)) / (sqrt(v/(1-b2^t)) + eps)
type Adam struct {
	params      []*model.Parameter
	lr          float64
	weightDecay float64
	beta1       float64
	beta2       float64
	eps         float64
	t           int
	m           map[*model.Parameter][]float64
	v           map[*model.Parameter][]float64
}

// NewAdam creates an optimizer over params.
func NewAdam(params []*model.Parameter, cfg AdamConfig) (*Adam, error) {
	if !(cfg.LR > 0) {
		return nil, perrors.NewValidationError("lr", "must be positive", cfg.LR)
	}
	if cfg.WeightDecay < 0 {
		return nil, perrors.NewValidationError("l2_req", "must be non-negative", cfg.WeightDecay)
	}
	if cfg.Betas[0] == 0 {
		cfg.Betas[0] = 0.9
	}
	if cfg.Betas[1] == 0 {
		cfg.Betas[1] = 0.999
	}
	if cfg.Eps == 0 {
		cfg.Eps = 1e-8
	}

	return &Adam{
		params:      params,
		lr:          cfg.LR,
		weightDecay: cfg.WeightDecay,
		beta1:       cfg.Betas[0],
		beta2:       cfg.Betas[1],
		eps:         cfg.Eps,
		m:           make(map[*model.Parameter][]float64, len(params)),
		v:           make(map[*model.Parameter][]float64, len(params)),
	}, nil
}

// Step applies one update to every parameter.
func (a *Adam) Step() {
	a.t++
	bc1 := 1 - math.Pow(a.beta1, float64(a.t))
	bc2 := 1 - math.Pow(a.beta2, float64(a.t))

	for _, p := range a.params {
		m, ok := a.m[p]
		if !ok {
			m = make([]float64, p.Size())
			a.m[p] = m
		}
		v, ok := a.v[p]
		if !ok {
			v = make([]float64, p.Size())
			a.v[p] = v
		}
		a.update(p, m, v, bc1, bc2)
	}
}

func (a *Adam) update(p *model.Parameter, m, v []float64, bc1, bc2 float64) {
	rows, cols := p.Value.Dims()
	k := 0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			w := p.Value.At(i, j)
			g := p.Grad.At(i, j) + a.weightDecay*w

			m[k] = a.beta1*m[k] + (1-a.beta1)*g
			v[k] = a.beta2*v[k] + (1-a.beta2)*g*g

			mHat := m[k] / bc1
			vHat := v[k] / bc2
			p.Value.Set(i, j, w-a.lr*mHat/(math.Sqrt(vHat)+a.eps))
			k++
		}
	}
}

// ZeroGrad clears the gradients of every parameter.
func (a *Adam) ZeroGrad() {
	for _, p := range a.params {
		p.ZeroGrad()
	}
}

// LR returns the learning rate.
func (a *Adam) LR() float64 {
	return a.lr
}

// Timestep returns the number of steps taken.
func (a *Adam) Timestep() int {
	return a.t
}
