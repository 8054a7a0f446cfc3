package summarizer

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/pglsum/core/model"
	"github.com/YuminosukeSato/pglsum/core/parallel"
	perrors "github.com/YuminosukeSato/pglsum/pkg/errors"
)

// trace holds the activations Backward needs.
type trace struct {
	owner *AttentionSummarizer

	x      *mat.Dense  // T × D encoded, dropped-out frames
	keys   *mat.Dense  // T × D
	global [][]float64 // heads × T
	local  [][]float64 // heads × T
	bounds [][2]int

	pooled *mat.VecDense // D
	normed []float64     // O, layer norm output before the affine step
	invStd float64
}

// Forward runs the network over frames (T × D). In ModeTrain a dropout mask
// is drawn from the model's stream and the returned output can be passed to
// Backward; in ModeEval the pass is deterministic and untracked.
func (s *AttentionSummarizer) Forward(frames mat.Matrix, mode model.Mode) (*model.Output, error) {
	t, d := frames.Dims()
	if t == 0 {
		return nil, perrors.Wrap(perrors.ErrEmptyData, "AttentionSummarizer.Forward")
	}
	if d != s.inputSize {
		return nil, perrors.NewDimensionError("AttentionSummarizer.Forward", s.inputSize, d, 1)
	}

	x := mat.DenseCopyOf(frames)
	rows := make([][]float64, t)
	for i := range rows {
		rows[i] = x.RawRowView(i)
	}
	addPositionalEncoding(rows, s.posEnc)
	if mode == model.ModeTrain {
		s.applyDropout(rows)
	}

	var keys mat.Dense
	keys.Mul(x, s.keyW.Value)
	bias := s.keyB.Value.RawRowView(0)
	for i := 0; i < t; i++ {
		floats.Add(keys.RawRowView(i), bias)
	}

	scores := s.scores(&keys)
	bounds := segmentBounds(t, s.segments)
	global := make([][]float64, s.heads)
	local := make([][]float64, s.heads)
	weights := make([]float64, t)
	for h := 0; h < s.heads; h++ {
		global[h] = make([]float64, t)
		local[h] = make([]float64, t)
		softmax(global[h], scores[h])
		for _, b := range bounds {
			softmax(local[h][b[0]:b[1]], scores[h][b[0]:b[1]])
		}
		for i := 0; i < t; i++ {
			weights[i] += fuse(s.fusion, global[h][i], local[h][i])
		}
	}
	floats.Scale(1/float64(s.heads), weights)

	pooled := mat.NewVecDense(d, nil)
	pooled.MulVec(x.T(), mat.NewVecDense(t, weights))

	projected := mat.NewVecDense(s.outputSize, nil)
	projected.MulVec(s.outW.Value.T(), pooled)
	y := projected.RawVector().Data
	floats.Add(y, s.outB.Value.RawRowView(0))

	normed, invStd := layerNorm(y)
	embedding := make([]float64, s.outputSize)
	floats.MulTo(embedding, normed, s.normW.Value.RawRowView(0))
	floats.Add(embedding, s.normB.Value.RawRowView(0))

	out := &model.Output{
		Embedding: mat.NewVecDense(s.outputSize, embedding),
		Weights:   weights,
	}
	if mode == model.ModeTrain {
		out.Trace = &trace{
			owner:  s,
			x:      x,
			keys:   &keys,
			global: global,
			local:  local,
			bounds: bounds,
			pooled: pooled,
			normed: normed,
			invStd: invStd,
		}
	}
	return out, nil
}

// applyDropout zeroes each feature with probability s.dropout and scales the
// survivors by 1/(1-p).
func (s *AttentionSummarizer) applyDropout(rows [][]float64) {
	if s.dropout == 0 {
		return
	}
	keep := 1 / (1 - s.dropout)
	for _, row := range rows {
		for j := range row {
			if s.rng.Float64() < s.dropout {
				row[j] = 0
			} else {
				row[j] *= keep
			}
		}
	}
}

// scores returns e[h][t] = K_h[t] · q_h / √headDim.
func (s *AttentionSummarizer) scores(keys *mat.Dense) [][]float64 {
	t, _ := keys.Dims()
	scale := 1 / math.Sqrt(float64(s.headDim))
	e := make([][]float64, s.heads)
	for h := range e {
		e[h] = make([]float64, t)
	}
	parallel.ForWithThreshold(t, parallel.DefaultThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			k := keys.RawRowView(i)
			for h := 0; h < s.heads; h++ {
				lo := h * s.headDim
				e[h][i] = floats.Dot(k[lo:lo+s.headDim], s.query.Value.RawRowView(h)) * scale
			}
		}
	})
	return e
}

// layerNorm returns (y - mean) / sqrt(var + eps) and 1/sqrt(var + eps).
func layerNorm(y []float64) ([]float64, float64) {
	n := float64(len(y))
	mean := floats.Sum(y) / n
	variance := 0.0
	for _, v := range y {
		variance += (v - mean) * (v - mean)
	}
	variance /= n

	invStd := 1 / math.Sqrt(variance+layerNormEps)
	out := make([]float64, len(y))
	for i, v := range y {
		out[i] = (v - mean) * invStd
	}
	return out, invStd
}
