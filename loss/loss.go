// Package loss implements the contrastive objective.
package loss

import (
	"math"

	"gonum.org/v1/gonum/mat"

	perrors "github.com/YuminosukeSato/pglsum/pkg/errors"
)

// CrossEntropy returns the mean over rows of -log softmax(logits[i])[labels[i]]
// and its gradient with respect to logits, (softmax - onehot) / rows.
func CrossEntropy(logits mat.Matrix, labels []int) (float64, *mat.Dense, error) {
	rows, cols := logits.Dims()
	if rows == 0 || cols == 0 {
		return 0, nil, perrors.ErrEmptyData
	}
	if len(labels) != rows {
		return 0, nil, perrors.NewDimensionError("loss.CrossEntropy", rows, len(labels), 0)
	}

	grad := mat.DenseCopyOf(logits)
	scale := 1 / float64(rows)
	total := 0.0
	for i := 0; i < rows; i++ {
		label := labels[i]
		if label < 0 || label >= cols {
			return 0, nil, perrors.NewValidationError("labels", "label out of range", label)
		}

		row := grad.RawRowView(i)
		lse := perrors.LogSumExp(row)
		total += lse - row[label]

		for j, v := range row {
			row[j] = math.Exp(v-lse) * scale
		}
		row[label] -= scale
	}
	return total * scale, grad, nil
}

// InfoNCE scores a square similarity matrix whose matching pairs sit on the
// diagonal. Labels are built from the row count of s.
func InfoNCE(s mat.Matrix) (float64, *mat.Dense, error) {
	rows, cols := s.Dims()
	if rows != cols {
		return 0, nil, perrors.NewDimensionError("loss.InfoNCE", rows, cols, 1)
	}
	return CrossEntropy(s, DiagonalLabels(rows))
}

// DiagonalLabels returns 0, 1, ..., n-1.
func DiagonalLabels(n int) []int {
	labels := make([]int, n)
	for i := range labels {
		labels[i] = i
	}
	return labels
}
