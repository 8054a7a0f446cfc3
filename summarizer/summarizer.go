// Package summarizer provides AttentionSummarizer, a multi-head attention
// pooler that fuses global and segment-local frame attention into one
// importance weight per frame.
//
// Forward pass over frames X (T × D):
//
//	X'   = dropout(X + PE)                 train mode only for dropout
//	K    = X' Wk + bk                      split into heads of D/heads columns
//	e_th = K_h[t] · q_h / √(D/heads)
//	f_h  = fuse(softmax_t(e_h), segment-wise softmax_t(e_h))
//	w_t  = mean_h f_th                     frame importance
//	v    = Σ_t w_t X'[t]
//	z    = LayerNorm(v Wo + bo)            embedding
package summarizer

import (
	"math"
	"math/rand/v2"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/pglsum/core/model"
	perrors "github.com/YuminosukeSato/pglsum/pkg/errors"
)

// Fusion combines the global and local attention of one frame.
type Fusion string

const (
	FusionAdd  Fusion = "add"
	FusionMult Fusion = "mult"
	FusionAvg  Fusion = "avg"
	FusionMax  Fusion = "max"
)

// PositionalEncoding selects how frame positions are added to features.
type PositionalEncoding string

const (
	PosEncNone     PositionalEncoding = "none"
	PosEncAbsolute PositionalEncoding = "absolute"
	PosEncRelative PositionalEncoding = "relative"
)

// DefaultDropout is the train-mode drop probability of frame features.
const DefaultDropout = 0.5

const layerNormEps = 1e-5

// Config describes the network.
type Config struct {
	InputSize  int
	OutputSize int // defaults to InputSize
	Segments   int
	Heads      int
	Fusion     string
	PosEnc     string // "", "none", "absolute" or "relative"

	// Dropout is the drop probability applied in ModeTrain. Nil means
	// DefaultDropout.
	Dropout *float64
}

// AttentionSummarizer implements model.Summarizer.
type AttentionSummarizer struct {
	inputSize  int
	outputSize int
	segments   int
	heads      int
	headDim    int
	fusion     Fusion
	posEnc     PositionalEncoding
	dropout    float64

	keyW   *model.Parameter // D × D
	keyB   *model.Parameter // 1 × D
	query  *model.Parameter // heads × D/heads
	outW   *model.Parameter // D × O
	outB   *model.Parameter // 1 × O
	normW  *model.Parameter // 1 × O
	normB  *model.Parameter // 1 × O
	params []*model.Parameter

	rng    *rand.Rand
	device model.Device
}

var _ model.Summarizer = (*AttentionSummarizer)(nil)

func parseFusion(name string) (Fusion, error) {
	f := Fusion(strings.ToLower(name))
	switch f {
	case FusionAdd, FusionMult, FusionAvg, FusionMax:
		return f, nil
	}
	return "", perrors.NewValidationError("fusion", "expected one of add, mult, avg, max", name)
}

func parsePosEnc(name string) (PositionalEncoding, error) {
	p := PositionalEncoding(strings.ToLower(name))
	switch p {
	case "", PosEncNone:
		return PosEncNone, nil
	case PosEncAbsolute, PosEncRelative:
		return p, nil
	}
	return "", perrors.NewValidationError("pos_enc", "expected absolute, relative or none", name)
}

// New builds a summarizer placed on device. rng is the model's private stream:
// it draws the default parameter values and every train-mode dropout mask.
func New(cfg Config, rng *rand.Rand, device model.Device) (*AttentionSummarizer, error) {
	if cfg.InputSize <= 0 {
		return nil, perrors.NewValidationError("input_size", "must be positive", cfg.InputSize)
	}
	if cfg.OutputSize == 0 {
		cfg.OutputSize = cfg.InputSize
	}
	if cfg.OutputSize < 0 {
		return nil, perrors.NewValidationError("output_size", "must be positive", cfg.OutputSize)
	}
	if cfg.Heads <= 0 {
		return nil, perrors.NewValidationError("heads", "must be positive", cfg.Heads)
	}
	if cfg.InputSize%cfg.Heads != 0 {
		return nil, perrors.NewValidationError("heads", "must divide input_size", cfg.Heads)
	}
	if cfg.Segments <= 0 {
		return nil, perrors.NewValidationError("n_segments", "must be positive", cfg.Segments)
	}
	fusion, err := parseFusion(cfg.Fusion)
	if err != nil {
		return nil, err
	}
	posEnc, err := parsePosEnc(cfg.PosEnc)
	if err != nil {
		return nil, err
	}
	dropout := DefaultDropout
	if cfg.Dropout != nil {
		dropout = *cfg.Dropout
	}
	if dropout < 0 || dropout >= 1 {
		return nil, perrors.NewValidationError("dropout", "must be in [0, 1)", dropout)
	}
	if rng == nil {
		return nil, perrors.NewValidationError("rng", "a random stream is required", nil)
	}
	if _, err := model.ParseDevice(string(device)); err != nil {
		return nil, err
	}

	d, o := cfg.InputSize, cfg.OutputSize
	s := &AttentionSummarizer{
		inputSize:  d,
		outputSize: o,
		segments:   cfg.Segments,
		heads:      cfg.Heads,
		headDim:    d / cfg.Heads,
		fusion:     fusion,
		posEnc:     posEnc,
		dropout:    dropout,
		rng:        rng,
		device:     device,
	}

	s.keyW = model.NewParameter("attention.key.weight", model.RoleWeight, mat.NewDense(d, d, nil)).WithFans(d, d)
	s.keyB = model.NewParameter("attention.key.bias", model.RoleBias, mat.NewDense(1, d, nil))
	s.query = model.NewParameter("attention.query.weight", model.RoleWeight, mat.NewDense(s.heads, s.headDim, nil))
	s.outW = model.NewParameter("output.weight", model.RoleWeight, mat.NewDense(d, o, nil)).WithFans(d, o)
	s.outB = model.NewParameter("output.bias", model.RoleBias, mat.NewDense(1, o, nil))
	s.normW = model.NewParameter("norm.weight", model.RoleNormalization, mat.NewDense(1, o, nil))
	s.normB = model.NewParameter("norm.bias", model.RoleBias, mat.NewDense(1, o, nil))
	s.params = []*model.Parameter{s.keyW, s.keyB, s.query, s.outW, s.outB, s.normW, s.normB}

	s.resetParameters()
	return s, nil
}

// resetParameters draws U(-1/√fan_in, 1/√fan_in) for projections and their
// biases, and sets the layer norm to the identity.
func (s *AttentionSummarizer) resetParameters() {
	uniform := func(m *mat.Dense, fanIn int) {
		bound := 1 / math.Sqrt(float64(fanIn))
		r, c := m.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				m.Set(i, j, (2*s.rng.Float64()-1)*bound)
			}
		}
	}
	uniform(s.keyW.Value, s.inputSize)
	uniform(s.keyB.Value, s.inputSize)
	uniform(s.query.Value, s.headDim)
	uniform(s.outW.Value, s.inputSize)
	uniform(s.outB.Value, s.inputSize)
	for j := 0; j < s.outputSize; j++ {
		s.normW.Value.Set(0, j, 1)
	}
	s.normB.Value.Zero()
}

// Parameters returns the learnable tensors in a fixed order.
func (s *AttentionSummarizer) Parameters() []*model.Parameter {
	return s.params
}

// ZeroGrad clears every gradient.
func (s *AttentionSummarizer) ZeroGrad() {
	for _, p := range s.params {
		p.ZeroGrad()
	}
}

// Placement returns the device holding the parameters.
func (s *AttentionSummarizer) Placement() model.Device {
	return s.device
}

// Name identifies the architecture in logs.
func (s *AttentionSummarizer) Name() string { return "attention_summarizer" }

// InputSize returns D.
func (s *AttentionSummarizer) InputSize() int { return s.inputSize }

// OutputSize returns the embedding length.
func (s *AttentionSummarizer) OutputSize() int { return s.outputSize }
