// Package anytriplet implements triplet ranking losses on
// batches of embeddings with hard example mining.
package anytriplet

import (
	"fmt"

	"github.com/fountaindream/VCFL-plus/anyloss"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// An Engine computes triplet losses on global and local
// (part) embeddings.
type Engine interface {
	// Global computes the loss of an n-row matrix of global
	// embeddings, where n is len(labels).
	Global(feat anydiff.Res, labels []int, normalize bool) (*Result, error)

	// Local computes the loss of local embeddings stored as
	// n*parts rows, one per image part.
	//
	// If pairs is nil, the engine mines its own hardest
	// pairs from local distances.
	// Otherwise, the given pairs are used.
	Local(local anydiff.Res, parts int, labels []int, pairs *Pairs,
		normalize bool) (*Result, error)
}

// A Result is the outcome of a triplet loss computation.
type Result struct {
	// Loss is the mean ranking loss over anchors.
	Loss anydiff.Res

	// DistAP and DistAN are the distances from every anchor
	// to its positive and negative.
	DistAP []float64
	DistAN []float64

	Pairs  *Pairs
	Margin float64
}

// Precision returns the fraction of anchors whose negative
// is farther than their positive.
func (r *Result) Precision() float64 {
	return r.fraction(0)
}

// SatisfyMargin returns the fraction of anchors whose
// negative is farther than their positive by more than
// the margin.
func (r *Result) SatisfyMargin() float64 {
	return r.fraction(r.Margin)
}

// MeanAP returns the mean anchor-positive distance.
func (r *Result) MeanAP() float64 {
	return mean(r.DistAP)
}

// MeanAN returns the mean anchor-negative distance.
func (r *Result) MeanAN() float64 {
	return mean(r.DistAN)
}

func (r *Result) fraction(margin float64) float64 {
	var count int
	for i, ap := range r.DistAP {
		if r.DistAN[i] > ap+margin {
			count++
		}
	}
	return float64(count) / float64(len(r.DistAP))
}

// BatchHard is an Engine that uses the hardest positive
// and hardest negative of every anchor, and the loss
//
//	mean(max(0, d_ap - d_an + margin))
//
// Local distances align parts with a shortest path through
// the part-to-part distance matrix.
type BatchHard struct {
	GlobalMargin float64
	LocalMargin  float64
}

// Global computes the global batch-hard loss.
func (b *BatchHard) Global(feat anydiff.Res, labels []int, normalize bool) (*Result, error) {
	n := len(labels)
	checkRows(feat, n, 1)
	dist := globalDist(feat, n, normalize)
	pairs, err := HardestPairs(floats(dist.Output()), labels)
	if err != nil {
		return nil, essentials.AddCtx("global triplet", err)
	}
	var apIdx, anIdx []int
	for i := 0; i < n; i++ {
		apIdx = append(apIdx, i*n+pairs.Pos[i])
		anIdx = append(anIdx, i*n+pairs.Neg[i])
	}
	return ranking(rowSums(dist, n, apIdx), rowSums(dist, n, anIdx), pairs,
		b.GlobalMargin), nil
}

// Local computes the local batch-hard loss.
func (b *BatchHard) Local(local anydiff.Res, parts int, labels []int, pairs *Pairs,
	normalize bool) (*Result, error) {
	n := len(labels)
	checkRows(local, n, parts)
	dist := partDist(local, n, parts, normalize)
	distVals := floats(dist.Output())

	if pairs == nil {
		var err error
		pairs, err = HardestPairs(alignedDist(distVals, n, parts), labels)
		if err != nil {
			return nil, essentials.AddCtx("local triplet", err)
		}
	} else if len(pairs.Pos) != n || len(pairs.Neg) != n {
		panic(fmt.Sprintf("pairs should cover %d anchors", n))
	}

	var apIdx, anIdx []int
	for i := 0; i < n; i++ {
		_, path := shortestPath(distVals, n*parts, i, pairs.Pos[i], parts)
		apIdx = append(apIdx, path...)
		_, path = shortestPath(distVals, n*parts, i, pairs.Neg[i], parts)
		anIdx = append(anIdx, path...)
	}

	// Every path of anchor i lies in its block of rows, so
	// summing the rows of each block gives one distance per
	// anchor.
	groupSums := func(indices []int) anydiff.Res {
		perRow := rowSums(dist, n*parts, indices)
		return anydiff.SumCols(&anydiff.Matrix{Data: perRow, Rows: n, Cols: parts})
	}
	return ranking(groupSums(apIdx), groupSums(anIdx), pairs, b.LocalMargin), nil
}

func globalDist(feat anydiff.Res, n int, normalize bool) anydiff.Res {
	if normalize {
		feat = anyloss.Normalize(feat, n)
	}
	return PairwiseDist(feat, n)
}

func ranking(ap, an anydiff.Res, pairs *Pairs, margin float64) *Result {
	c := ap.Output().Creator()
	n := ap.Output().Len()
	hinge := anydiff.ClipPos(anydiff.AddScalar(anydiff.Sub(ap, an), c.MakeNumeric(margin)))
	return &Result{
		Loss:   anydiff.Scale(anydiff.Sum(hinge), c.MakeNumeric(1/float64(n))),
		DistAP: append([]float64{}, floats(ap.Output())...),
		DistAN: append([]float64{}, floats(an.Output())...),
		Pairs:  pairs,
		Margin: margin,
	}
}

func checkRows(r anydiff.Res, n, parts int) {
	if n == 0 {
		panic("empty batch")
	}
	if r.Output().Len()%(n*parts) != 0 {
		panic(fmt.Sprintf("embedding length %d is not divisible into %d rows",
			r.Output().Len(), n*parts))
	}
}

func floats(v anyvec.Vector) []float64 {
	return anyloss.Floats(v)
}

func mean(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}
