package anytriplet

import (
	"errors"
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// ErrNoNegatives is returned when an anchor has no sample
// of a different identity in its batch.
var ErrNoNegatives = errors.New("batch has an anchor without negatives")

// Pairs stores, for every anchor in a batch, the index of
// its hardest positive and its hardest negative.
type Pairs struct {
	Pos []int
	Neg []int
}

// HardestPairs mines the farthest same-identity sample and
// the nearest different-identity sample of every anchor
// from an n x n distance matrix.
// Each anchor counts as its own positive.
func HardestPairs(dist []float64, labels []int) (*Pairs, error) {
	n := len(labels)
	if len(dist) != n*n {
		panic(fmt.Sprintf("distance matrix should have %d entries, but has %d", n*n, len(dist)))
	}
	res := &Pairs{Pos: make([]int, n), Neg: make([]int, n)}
	for i, label := range labels {
		pos, neg := i, -1
		for j, other := range labels {
			d := dist[i*n+j]
			if other == label {
				if d > dist[i*n+pos] {
					pos = j
				}
			} else if neg == -1 || d < dist[i*n+neg] {
				neg = j
			}
		}
		if neg == -1 {
			return nil, ErrNoNegatives
		}
		res.Pos[i], res.Neg[i] = pos, neg
	}
	return res, nil
}

// Mine finds the hardest pairs of a batch of global
// embeddings without building a differentiable graph.
func Mine(feat anyvec.Vector, labels []int, normalize bool) (*Pairs, error) {
	dist := globalDist(anydiff.NewConst(feat), len(labels), normalize)
	return HardestPairs(floats(dist.Output()), labels)
}

// selectMask builds a constant vector of the given size
// with ones at the given indices.
func selectMask(c anyvec.Creator, size int, indices []int) anydiff.Res {
	mask := make([]float64, size)
	for _, i := range indices {
		mask[i] = 1
	}
	return anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(mask)))
}

// rowSums sums the entries of dist at the flat indices of
// every row, producing a vector with one entry per row.
func rowSums(dist anydiff.Res, rows int, indices []int) anydiff.Res {
	c := dist.Output().Creator()
	size := dist.Output().Len()
	return anydiff.SumCols(&anydiff.Matrix{
		Data: anydiff.Mul(dist, selectMask(c, size, indices)),
		Rows: rows,
		Cols: size / rows,
	})
}
