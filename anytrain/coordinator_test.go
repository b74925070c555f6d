package anytrain

import (
	"math"
	"testing"

	"github.com/fountaindream/VCFL-plus/anysgd"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec/anyvec64"
)

func TestCoordinatorCentroidStep(t *testing.T) {
	for _, weight := range []float64{0, 0.5, 2} {
		c := anyvec64.DefaultCreator{}
		param := anydiff.NewVar(c.MakeVectorData(c.MakeNumericList([]float64{1, -2})))
		table := anydiff.NewVar(c.MakeVectorData(c.MakeNumericList([]float64{3, 4, 5})))
		coord := &Coordinator{
			Primary:        &anysgd.Optimizer{Params: []*anydiff.Var{param}},
			Centroids:      &anysgd.Optimizer{Params: []*anydiff.Var{table}},
			CentroidWeight: weight,
		}
		coord.SetRate(0.1)

		total := anydiff.Sum(anydiff.Square(param))
		if weight != 0 {
			weighted := anydiff.Scale(anydiff.Sum(anydiff.Square(table)), c.MakeNumeric(weight))
			total = anydiff.Add(total, weighted)
		}
		coord.Step(total)

		actualParam := param.Vector.Data().([]float64)
		expectedParam := []float64{1 - 0.1*2, -2 + 0.1*4}
		for i, x := range expectedParam {
			if math.Abs(actualParam[i]-x) > 1e-12 {
				t.Errorf("weight %f: param %d should be %f but got %f", weight, i, x,
					actualParam[i])
			}
		}

		actualTable := table.Vector.Data().([]float64)
		expectedTable := []float64{3, 4, 5}
		if weight != 0 {
			// The step is independent of the weight.
			for i, x := range expectedTable {
				expectedTable[i] = x - 0.1*2*x
			}
		}
		for i, x := range expectedTable {
			if math.Abs(actualTable[i]-x) > 1e-12 {
				t.Errorf("weight %f: centroid %d should be %f but got %f", weight, i, x,
					actualTable[i])
			}
		}
	}
}

func TestCoordinatorZeroesGradient(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	param := anydiff.NewVar(c.MakeVectorData(c.MakeNumericList([]float64{1})))
	coord := &Coordinator{Primary: &anysgd.Optimizer{Params: []*anydiff.Var{param}}}
	coord.SetRate(1)
	for i := 0; i < 3; i++ {
		coord.Step(anydiff.Sum(param))
	}
	if x := param.Vector.Data().([]float64)[0]; math.Abs(x-(-2)) > 1e-12 {
		t.Errorf("expected -2 but got %f", x)
	}
}
