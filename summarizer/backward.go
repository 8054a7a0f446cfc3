package summarizer

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/pglsum/core/model"
	perrors "github.com/YuminosukeSato/pglsum/pkg/errors"
)

// Backward accumulates into every parameter gradient the effect of grad, the
// loss gradient with respect to out.Embedding.
func (s *AttentionSummarizer) Backward(out *model.Output, grad *mat.VecDense) error {
	const op = "AttentionSummarizer.Backward"
	if out == nil || out.Trace == nil {
		return perrors.NewModelError(op, "untracked output", perrors.ErrNoGradient)
	}
	tr, ok := out.Trace.(*trace)
	if !ok || tr.owner != s {
		return perrors.NewModelError(op, "output was produced by another model", nil)
	}
	if grad.Len() != s.outputSize {
		return perrors.NewDimensionError(op, s.outputSize, grad.Len(), 0)
	}

	dy := s.backwardNorm(tr, grad)

	// Output projection.
	dyVec := mat.NewVecDense(len(dy), dy)
	s.outW.Grad.RankOne(s.outW.Grad, 1, tr.pooled, dyVec)
	floats.Add(s.outB.Grad.RawRowView(0), dy)
	dPooled := mat.NewVecDense(s.inputSize, nil)
	dPooled.MulVec(s.outW.Value, dyVec)

	// Pooling: v = Σ w_t x_t.
	t, _ := tr.x.Dims()
	dWeights := mat.NewVecDense(t, nil)
	dWeights.MulVec(tr.x, dPooled)

	dScores := s.backwardAttention(tr, dWeights.RawVector().Data)
	s.backwardKeys(tr, dScores)
	return nil
}

// backwardNorm handles the layer norm and returns dLoss/dy.
func (s *AttentionSummarizer) backwardNorm(tr *trace, grad *mat.VecDense) []float64 {
	o := s.outputSize
	gamma := s.normW.Value.RawRowView(0)
	dGamma := s.normW.Grad.RawRowView(0)
	dBeta := s.normB.Grad.RawRowView(0)

	dNormed := make([]float64, o)
	for j := 0; j < o; j++ {
		dz := grad.AtVec(j)
		dGamma[j] += dz * tr.normed[j]
		dBeta[j] += dz
		dNormed[j] = dz * gamma[j]
	}

	meanD := floats.Sum(dNormed) / float64(o)
	meanDX := floats.Dot(dNormed, tr.normed) / float64(o)
	dy := make([]float64, o)
	for j := range dy {
		dy[j] = tr.invStd * (dNormed[j] - meanD - tr.normed[j]*meanDX)
	}
	return dy
}

// backwardAttention maps dLoss/dw_t to dLoss/de[h][t].
func (s *AttentionSummarizer) backwardAttention(tr *trace, dWeights []float64) [][]float64 {
	t := len(dWeights)
	dScores := make([][]float64, s.heads)
	dGlobal := make([]float64, t)
	dLocal := make([]float64, t)
	perHead := 1 / float64(s.heads)

	for h := 0; h < s.heads; h++ {
		for i := 0; i < t; i++ {
			dGlobal[i], dLocal[i] = fuseBackward(s.fusion, tr.global[h][i], tr.local[h][i], dWeights[i]*perHead)
		}
		de := make([]float64, t)
		softmaxBackward(de, tr.global[h], dGlobal)
		for _, b := range tr.bounds {
			softmaxBackward(de[b[0]:b[1]], tr.local[h][b[0]:b[1]], dLocal[b[0]:b[1]])
		}
		dScores[h] = de
	}
	return dScores
}

// backwardKeys propagates score gradients into the query and key projection.
func (s *AttentionSummarizer) backwardKeys(tr *trace, dScores [][]float64) {
	t, d := tr.keys.Dims()
	scale := 1 / math.Sqrt(float64(s.headDim))

	dKeys := mat.NewDense(t, d, nil)
	for h := 0; h < s.heads; h++ {
		lo, hi := h*s.headDim, (h+1)*s.headDim
		q := s.query.Value.RawRowView(h)
		dq := s.query.Grad.RawRowView(h)
		for i := 0; i < t; i++ {
			g := dScores[h][i] * scale
			if g == 0 {
				continue
			}
			floats.AddScaled(dKeys.RawRowView(i)[lo:hi], g, q)
			floats.AddScaled(dq, g, tr.keys.RawRowView(i)[lo:hi])
		}
	}

	var dW mat.Dense
	dW.Mul(tr.x.T(), dKeys)
	s.keyW.Grad.Add(s.keyW.Grad, &dW)

	dB := s.keyB.Grad.RawRowView(0)
	for i := 0; i < t; i++ {
		floats.Add(dB, dKeys.RawRowView(i))
	}
}
