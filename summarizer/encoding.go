package summarizer

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// addPositionalEncoding adds the sinusoidal code of each frame position to x
// in place. Absolute positions are frame indices; relative positions are the
// frame index divided by the sequence length.
func addPositionalEncoding(x [][]float64, kind PositionalEncoding) {
	if kind == PosEncNone {
		return
	}
	t := len(x)
	for i, row := range x {
		pos := float64(i)
		if kind == PosEncRelative {
			pos /= float64(t)
		}
		d := len(row)
		for k := 0; k < d; k += 2 {
			freq := math.Pow(10000, -float64(k)/float64(d))
			row[k] += math.Sin(pos * freq)
			if k+1 < d {
				row[k+1] += math.Cos(pos * freq)
			}
		}
	}
}

// segmentBounds splits t frames into at most n contiguous segments of
// ceil(t/n) frames. Sequences shorter than n get one frame per segment.
func segmentBounds(t, n int) [][2]int {
	if t < n {
		n = t
	}
	size := (t + n - 1) / n
	bounds := make([][2]int, 0, n)
	for start := 0; start < t; start += size {
		end := start + size
		if end > t {
			end = t
		}
		bounds = append(bounds, [2]int{start, end})
	}
	return bounds
}

// softmax writes softmax(src) into dst.
func softmax(dst, src []float64) {
	maxVal := floats.Max(src)
	sum := 0.0
	for i, v := range src {
		dst[i] = math.Exp(v - maxVal)
		sum += dst[i]
	}
	floats.Scale(1/sum, dst)
}

// softmaxBackward accumulates into de the gradient of the softmax inputs given
// the outputs p and their gradient dp: de_i = p_i (dp_i - Σ p_j dp_j).
func softmaxBackward(de, p, dp []float64) {
	dot := floats.Dot(p, dp)
	for i := range de {
		de[i] += p[i] * (dp[i] - dot)
	}
}

// fuse combines global and local attention per frame.
func fuse(f Fusion, g, l float64) float64 {
	switch f {
	case FusionMult:
		return g * l
	case FusionAvg:
		return (g + l) / 2
	case FusionMax:
		return math.Max(g, l)
	default:
		return g + l
	}
}

// fuseBackward returns dg and dl given df.
func fuseBackward(f Fusion, g, l, df float64) (dg, dl float64) {
	switch f {
	case FusionMult:
		return df * l, df * g
	case FusionAvg:
		return df / 2, df / 2
	case FusionMax:
		if g >= l {
			return df, 0
		}
		return 0, df
	default:
		return df, df
	}
}
