// Package model defines the contract between the training core and a
// sequence-to-importance summarization model.
//
// A Summarizer maps a (frames × features) sequence to a pooled embedding and
// one importance weight per frame. The core never looks inside the network:
// it asks for forward passes in an explicit Mode, backpropagates an embedding
// gradient through the Output it got back, and reads the model's Parameters,
// each tagged with a Role at construction time.
package model

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Mode selects the behaviour of a forward pass.
type Mode int

const (
	// ModeTrain enables stochastic paths and records a gradient trace.
	// Two ModeTrain calls on the same sequence yield different embeddings.
	ModeTrain Mode = iota
	// ModeEval is deterministic and records nothing.
	ModeEval
)

func (m Mode) String() string {
	if m == ModeTrain {
		return "train"
	}
	return "eval"
}

// Role classifies a learnable tensor for initialization.
type Role int

const (
	// RoleWeight is a projection matrix or vector.
	RoleWeight Role = iota
	// RoleBias is an additive offset, including normalization offsets.
	RoleBias
	// RoleNormalization is a normalization gain.
	RoleNormalization
)

func (r Role) String() string {
	switch r {
	case RoleWeight:
		return "weight"
	case RoleBias:
		return "bias"
	case RoleNormalization:
		return "normalization"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// Parameter is a named learnable tensor with its accumulated gradient.
type Parameter struct {
	Name  string
	Role  Role
	Value *mat.Dense
	Grad  *mat.Dense

	// FanIn and FanOut are the number of inputs feeding and outputs fed by
	// each unit. Zero means "derive from the shape" (cols, rows).
	FanIn  int
	FanOut int
}

// NewParameter creates a parameter with a zero gradient of the same shape.
func NewParameter(name string, role Role, value *mat.Dense) *Parameter {
	r, c := value.Dims()
	return &Parameter{
		Name:  name,
		Role:  role,
		Value: value,
		Grad:  mat.NewDense(r, c, nil),
	}
}

// WithFans records the fan-in and fan-out of the layer owning p.
func (p *Parameter) WithFans(fanIn, fanOut int) *Parameter {
	p.FanIn = fanIn
	p.FanOut = fanOut
	return p
}

// Fans returns fan-in and fan-out, deriving them from the shape when the
// owning layer did not set them.
func (p *Parameter) Fans() (fanIn, fanOut int) {
	if p.FanIn > 0 && p.FanOut > 0 {
		return p.FanIn, p.FanOut
	}
	r, c := p.Value.Dims()
	return c, r
}

// Size returns the number of scalars in the parameter.
func (p *Parameter) Size() int {
	r, c := p.Value.Dims()
	return r * c
}

// ZeroGrad clears the accumulated gradient.
func (p *Parameter) ZeroGrad() {
	p.Grad.Zero()
}

// CountParams returns the total number of learnable scalars.
func CountParams(params []*Parameter) int {
	n := 0
	for _, p := range params {
		n += p.Size()
	}
	return n
}

// Output is the result of one forward pass.
type Output struct {
	// Embedding is the pooled video representation.
	Embedding *mat.VecDense
	// Weights holds one importance score per input frame.
	Weights []float64
	// Trace is implementation-private state needed by Backward. It is nil
	// for outputs produced in ModeEval.
	Trace any
}

// Summarizer is a sequence-to-importance model.
type Summarizer interface {
	// Forward runs the model over frames (T × input size).
	Forward(frames mat.Matrix, mode Mode) (*Output, error)

	// Backward accumulates into every parameter's Grad the gradient of the
	// loss, given grad = dLoss/dEmbedding for out. Calls accumulate; the two
	// views of one video both contribute to the same step.
	Backward(out *Output, grad *mat.VecDense) error

	Parameters() []*Parameter
	ZeroGrad()

	// Placement is the device holding the parameters.
	Placement() Device
}
