package anyvwords

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// quantizeChunk bounds the rows multiplied at once when
// computing point-to-center distances.
const quantizeChunk = 512

// A Vocabulary is a set of cluster centers in descriptor
// space.
type Vocabulary struct {
	// Centers is a K x dim matrix.
	Centers *mat.Dense
}

// FitVocabulary clusters the rows of points into k centers
// with Lloyd's algorithm.
//
// Centers start at distinct random points when there are
// at least k of them.
// With fewer points, the initial centers repeat points,
// and the duplicate centers never win an assignment.
func FitVocabulary(points *mat.Dense, k, maxIter int, rng *rand.Rand) *Vocabulary {
	n, dim := points.Dims()
	var perm []int
	if rng != nil {
		perm = rng.Perm(n)
	} else {
		perm = rand.Perm(n)
	}
	centers := mat.NewDense(k, dim, nil)
	for i := 0; i < k; i++ {
		centers.SetRow(i, points.RawRowView(perm[i%n]))
	}
	v := &Vocabulary{Centers: centers}

	var assign []int
	sums := make([]float64, dim)
	for iter := 0; iter < maxIter; iter++ {
		next := v.Quantize(points)
		if assign != nil && intsEqual(assign, next) {
			break
		}
		assign = next

		counts := make([]int, k)
		members := make([][]int, k)
		for i, c := range assign {
			counts[c]++
			members[c] = append(members[c], i)
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				continue
			}
			for i := range sums {
				sums[i] = 0
			}
			for _, i := range members[c] {
				floats.Add(sums, points.RawRowView(i))
			}
			floats.Scale(1/float64(counts[c]), sums)
			centers.SetRow(c, sums)
		}
	}
	return v
}

// Size returns the number of words.
func (v *Vocabulary) Size() int {
	k, _ := v.Centers.Dims()
	return k
}

// Quantize maps every row of points to the index of its
// nearest center.
// Ties go to the lowest index.
func (v *Vocabulary) Quantize(points *mat.Dense) []int {
	n, _ := points.Dims()
	k := v.Size()

	centerNorms := make([]float64, k)
	for c := range centerNorms {
		row := v.Centers.RawRowView(c)
		centerNorms[c] = floats.Dot(row, row)
	}

	res := make([]int, n)
	for start := 0; start < n; start += quantizeChunk {
		end := start + quantizeChunk
		if end > n {
			end = n
		}
		var prod mat.Dense
		prod.Mul(points.Slice(start, end, 0, points.RawMatrix().Cols), v.Centers.T())
		for i := start; i < end; i++ {
			dots := prod.RawRowView(i - start)
			best, bestDist := 0, math.Inf(1)
			for c, dot := range dots {
				// The point's own norm is the same for every center.
				if d := centerNorms[c] - 2*dot; d < bestDist {
					best, bestDist = c, d
				}
			}
			res[i] = best
		}
	}
	return res
}

func intsEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i, x := range a {
		if b[i] != x {
			return false
		}
	}
	return true
}
