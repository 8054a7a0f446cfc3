// Package initializer resets model parameters according to a named policy.
//
// Weight parameters receive the policy, bias parameters are set to BiasValue
// and normalization parameters keep whatever the model constructed them with.
// The decision is made from each parameter's Role, never from its name.
package initializer

import (
	"math"
	"math/rand/v2"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/pglsum/core/model"
	perrors "github.com/YuminosukeSato/pglsum/pkg/errors"
)

// Policy names a weight initialization scheme.
type Policy string

const (
	// Normal draws from N(0, gain²).
	Normal Policy = "normal"
	// Xavier draws from U(-a, a), a = √2·√(6/(fan_in+fan_out)).
	Xavier Policy = "xavier"
	// Kaiming draws from U(-a, a), a = √2·√(3/fan_in).
	Kaiming Policy = "kaiming"
	// Orthogonal fills with a (semi-)orthogonal matrix scaled by √2.
	Orthogonal Policy = "orthogonal"
)

// BiasValue is the constant written into every bias parameter.
const BiasValue = 0.1

// reluGain is the gain of the xavier and orthogonal policies.
var reluGain = math.Sqrt2

// Policies lists the known policies.
func Policies() []Policy {
	return []Policy{Normal, Xavier, Kaiming, Orthogonal}
}

// ParsePolicy resolves a configured policy name.
func ParsePolicy(name string) (Policy, error) {
	p := Policy(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Policies() {
		if p == known {
			return p, nil
		}
	}
	return "", perrors.NewValidationError("init_type",
		"unknown initialization policy, expected one of normal, xavier, kaiming, orthogonal", name)
}

// ParameterSet is anything exposing learnable parameters.
type ParameterSet interface {
	Parameters() []*model.Parameter
}

// Initialize applies policy to every weight of m and BiasValue to every bias.
// gain only affects the normal policy. An unknown policy returns a
// ValidationError before any parameter is modified.
func Initialize(m ParameterSet, policy string, gain float64, rng *rand.Rand) error {
	p, err := ParsePolicy(policy)
	if err != nil {
		return err
	}
	for _, param := range m.Parameters() {
		switch param.Role {
		case model.RoleWeight:
			fill(param, p, gain, rng)
		case model.RoleBias:
			fillConstant(param.Value, BiasValue)
		}
	}
	return nil
}

func fill(p *model.Parameter, policy Policy, gain float64, rng *rand.Rand) {
	switch policy {
	case Normal:
		fillFunc(p.Value, func() float64 { return rng.NormFloat64() * gain })
	case Xavier:
		fanIn, fanOut := p.Fans()
		bound := reluGain * math.Sqrt(6/float64(fanIn+fanOut))
		fillUniform(p.Value, bound, rng)
	case Kaiming:
		fanIn, _ := p.Fans()
		bound := reluGain * math.Sqrt(3/float64(fanIn))
		fillUniform(p.Value, bound, rng)
	case Orthogonal:
		fillOrthogonal(p.Value, reluGain, rng)
	}
}

func fillFunc(m *mat.Dense, draw func() float64) {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m.Set(i, j, draw())
		}
	}
}

func fillConstant(m *mat.Dense, v float64) {
	fillFunc(m, func() float64 { return v })
}

func fillUniform(m *mat.Dense, bound float64, rng *rand.Rand) {
	fillFunc(m, func() float64 { return (2*rng.Float64() - 1) * bound })
}

// fillOrthogonal writes gain·Q where Q has orthonormal rows or columns,
// whichever is fewer, taken from the QR factorization of a Gaussian matrix.
func fillOrthogonal(m *mat.Dense, gain float64, rng *rand.Rand) {
	r, c := m.Dims()
	tall, wide := r, c
	if r < c {
		tall, wide = c, r
	}

	a := mat.NewDense(tall, wide, nil)
	fillFunc(a, rng.NormFloat64)

	var qr mat.QR
	qr.Factorize(a)
	var q, rr mat.Dense
	qr.QTo(&q)
	qr.RTo(&rr)

	// Make the factorization unique: diag(R) > 0.
	basis := mat.NewDense(tall, wide, nil)
	for j := 0; j < wide; j++ {
		sign := 1.0
		if rr.At(j, j) < 0 {
			sign = -1
		}
		for i := 0; i < tall; i++ {
			basis.Set(i, j, sign*gain*q.At(i, j))
		}
	}

	if r < c {
		m.Copy(basis.T())
		return
	}
	m.Copy(basis)
}
