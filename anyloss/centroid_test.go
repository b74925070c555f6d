package anyloss

import (
	"math"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anydifftest"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
)

func TestCompactnessMatchesDistances(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	cents := NewCentroids(c, 3, 4)
	x := c.MakeVector(5 * 4)
	anyvec.Rand(x, anyvec.Normal, nil)
	labels := []int{0, 2, 2, 1, 0}

	actual := Scalar(cents.Compactness(anydiff.NewConst(x), labels))

	xs := x.Data().([]float64)
	table := cents.Table.Vector.Data().([]float64)
	var expected float64
	for i, y := range labels {
		for j := 0; j < 4; j++ {
			d := xs[i*4+j] - table[y*4+j]
			expected += d * d
		}
	}
	// Masked-out entries are clamped up to the floor.
	expected += float64(len(labels)*(3-1)) * centroidDistMin
	expected /= float64(len(labels))

	if math.Abs(actual-expected) > 1e-9 {
		t.Errorf("expected %f but got %f", expected, actual)
	}
	if actual < 0 {
		t.Errorf("negative compactness: %f", actual)
	}
}

func TestCompactnessZeroAtCentroids(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	cents := NewCentroids(c, 2, 3)
	table := cents.Table.Vector.Data().([]float64)
	labels := []int{1, 0, 1}
	var xs []float64
	for _, y := range labels {
		xs = append(xs, table[y*3:(y+1)*3]...)
	}
	actual := Scalar(cents.Compactness(anydiff.NewConst(anyvec64.MakeVectorData(xs)), labels))
	if actual < 0 || actual > 1e-9 {
		t.Errorf("expected (almost) zero but got %e", actual)
	}
}

func TestCompactnessProp(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	cents := NewCentroids(c, 3, 2)
	x := anydiff.NewVar(c.MakeVector(4 * 2))
	anyvec.Rand(x.Vector, anyvec.Normal, nil)
	labels := []int{0, 1, 1, 2}
	checker := &anydifftest.ResChecker{
		F: func() anydiff.Res {
			return cents.Compactness(x, labels)
		},
		V: []*anydiff.Var{x, cents.Table},
	}
	checker.FullCheck(t)
}
