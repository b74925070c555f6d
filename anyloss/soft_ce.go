package anyloss

import "github.com/unixpickle/anydiff"

// SoftCE computes the cross-entropy between soft target
// distributions and the softmax of logits, averaged over
// the n rows of the batch.
//
// Both targets and logits are packed row-major n x C
// matrices.
func SoftCE(targets, logits anydiff.Res, n int) anydiff.Res {
	cols := logits.Output().Len() / n
	if targets.Output().Len() != logits.Output().Len() {
		panic("targets and logits must have the same length")
	}
	logProbs := anydiff.LogSoftmax(logits, cols)
	dots := anydiff.SumCols(&anydiff.Matrix{
		Data: anydiff.Mul(targets, logProbs),
		Rows: n,
		Cols: cols,
	})
	return anydiff.Scale(anydiff.Sum(dots), dots.Output().Creator().MakeNumeric(-1/float64(n)))
}
