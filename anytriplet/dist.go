package anytriplet

import (
	"github.com/fountaindream/VCFL-plus/anyloss"
	"github.com/unixpickle/anydiff"
)

const minSquaredDist = 1e-12

// PairwiseDist computes the n x n matrix of Euclidean
// distances between the rows of an n-row matrix.
// Squared distances are clamped below at 1e-12 before the
// square root is taken.
func PairwiseDist(x anydiff.Res, n int) anydiff.Res {
	c := x.Output().Creator()
	cols := x.Output().Len() / n
	return anydiff.Pool(x, func(x anydiff.Res) anydiff.Res {
		norms := anydiff.SumCols(&anydiff.Matrix{
			Data: anydiff.Square(x),
			Rows: n,
			Cols: cols,
		})
		mat := &anydiff.Matrix{Data: x, Rows: n, Cols: cols}
		dots := anydiff.MatMul(false, true, mat, mat)
		sq := anydiff.Add(
			anyloss.RepeatCols(norms, n),
			anydiff.AddRepeated(anydiff.Scale(dots.Data, c.MakeNumeric(-2)), norms),
		)
		clamped := anydiff.AddScalar(
			anydiff.ClipPos(anydiff.AddScalar(sq, c.MakeNumeric(-minSquaredDist))),
			c.MakeNumeric(minSquaredDist),
		)
		return anydiff.Pow(clamped, c.MakeNumeric(0.5))
	})
}

// partDist computes squashed distances between every pair
// of parts in a batch of n images with the given number of
// parts each.
// The result is an (n*parts) x (n*parts) matrix with
// entries in [0, 1).
func partDist(local anydiff.Res, n, parts int, normalize bool) anydiff.Res {
	c := local.Output().Creator()
	if normalize {
		local = anyloss.Normalize(local, n*parts)
	}
	dist := PairwiseDist(local, n*parts)

	// (e^d - 1) / (e^d + 1) is tanh(d/2).
	return anydiff.Tanh(anydiff.Scale(dist, c.MakeNumeric(0.5)))
}

// shortestPath finds the cheapest monotone path from the
// top-left to the bottom-right of the parts x parts block
// of dist starting at (row*parts, col*parts), moving only
// down or right.
//
// It returns the path cost and the flat indices (into the
// full matrix with the given stride) of the visited
// entries.
func shortestPath(dist []float64, stride, row, col, parts int) (float64, []int) {
	at := func(u, v int) int {
		return (row*parts+u)*stride + col*parts + v
	}
	cost := make([]float64, parts*parts)
	for u := 0; u < parts; u++ {
		for v := 0; v < parts; v++ {
			d := dist[at(u, v)]
			switch {
			case u == 0 && v == 0:
				cost[0] = d
			case u == 0:
				cost[v] = cost[v-1] + d
			case v == 0:
				cost[u*parts] = cost[(u-1)*parts] + d
			default:
				up, left := cost[(u-1)*parts+v], cost[u*parts+v-1]
				if up < left {
					cost[u*parts+v] = up + d
				} else {
					cost[u*parts+v] = left + d
				}
			}
		}
	}

	path := make([]int, 0, 2*parts-1)
	u, v := parts-1, parts-1
	for {
		path = append(path, at(u, v))
		if u == 0 && v == 0 {
			break
		}
		if u == 0 {
			v--
		} else if v == 0 {
			u--
		} else if cost[(u-1)*parts+v] < cost[u*parts+v-1] {
			u--
		} else {
			v--
		}
	}
	return cost[parts*parts-1], path
}

// alignedDist computes the n x n matrix of shortest-path
// distances between images from the part distance matrix.
func alignedDist(dist []float64, n, parts int) []float64 {
	res := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			res[i*n+j], _ = shortestPath(dist, n*parts, i, j, parts)
		}
	}
	return res
}
