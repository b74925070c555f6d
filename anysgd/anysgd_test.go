package anysgd

import (
	"math"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
)

// testObjective is 3x^2+3xy-2x+y^2, minimized at
// (x = 4/3, y = -2).
type testObjective struct {
	X *anydiff.Var
	Y *anydiff.Var
}

func newTestObjective(c anyvec.Creator) *testObjective {
	return &testObjective{
		X: anydiff.NewVar(c.MakeVector(1)),
		Y: anydiff.NewVar(c.MakeVector(1)),
	}
}

func (t *testObjective) Cost() anydiff.Res {
	mk := t.X.Vector.Creator().MakeNumeric
	x, y := anydiff.Res(t.X), anydiff.Res(t.Y)
	return anydiff.Add(
		anydiff.Add(anydiff.Scale(anydiff.Mul(x, x), mk(3)), anydiff.Scale(anydiff.Mul(x, y), mk(3))),
		anydiff.Add(anydiff.Scale(x, mk(-2)), anydiff.Mul(y, y)),
	)
}

func (t *testObjective) Params() []*anydiff.Var {
	return []*anydiff.Var{t.X, t.Y}
}

func (t *testObjective) Current() (x, y float64) {
	return t.X.Vector.Data().([]float64)[0], t.Y.Vector.Data().([]float64)[0]
}

func runOptimizer(o *Optimizer, obj *testObjective, steps int) {
	one := anyvec64.MakeVectorData([]float64{1})
	for i := 0; i < steps; i++ {
		o.ZeroGrad()
		obj.Cost().Propagate(one, o.Grad())
		o.Step()
	}
}

func TestOptimizers(t *testing.T) {
	tests := []struct {
		name  string
		tr    Transformer
		rate  float64
		steps int
	}{
		{"SGD", nil, 0.05, 2000},
		{"Momentum", &Momentum{Momentum: 0.9}, 0.01, 2000},
		{"Adam", &Adam{}, 0.001, 20000},
		{"RMSProp", &RMSProp{}, 0.0005, 20000},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			obj := newTestObjective(anyvec64.DefaultCreator{})
			o := &Optimizer{Params: obj.Params(), Transformer: test.tr, Rate: test.rate}
			runOptimizer(o, obj, test.steps)
			x, y := obj.Current()
			if math.Abs(x-4.0/3) > 1e-2 || math.Abs(y+2) > 1e-2 {
				t.Errorf("bad solution: %f, %f", x, y)
			}
		})
	}
}

func TestOptimizerWeightDecay(t *testing.T) {
	v := anydiff.NewVar(anyvec64.MakeVectorData([]float64{2, -4}))
	o := &Optimizer{Params: []*anydiff.Var{v}, WeightDecay: 0.5, Rate: 0.1}
	o.ZeroGrad()
	o.Step()
	expected := []float64{2 - 0.1*0.5*2, -4 + 0.1*0.5*4}
	actual := v.Vector.Data().([]float64)
	for i, x := range expected {
		if math.Abs(actual[i]-x) > 1e-12 {
			t.Errorf("component %d: expected %f but got %f", i, x, actual[i])
		}
	}
}

func TestOptimizerZeroGrad(t *testing.T) {
	obj := newTestObjective(anyvec64.DefaultCreator{})
	o := &Optimizer{Params: obj.Params(), Rate: 0.1}
	one := anyvec64.MakeVectorData([]float64{1})
	obj.Cost().Propagate(one, o.Grad())
	obj.Cost().Propagate(one, o.Grad())
	if g := o.Grad()[obj.X].Data().([]float64)[0]; g != -4 {
		t.Fatalf("expected accumulated gradient -4 but got %f", g)
	}
	o.ZeroGrad()
	for v, vec := range o.Grad() {
		if vec.Data().([]float64)[0] != 0 {
			t.Errorf("gradient of %p not cleared", v)
		}
	}
	o.Step()
	if x, y := obj.Current(); x != 0 || y != 0 {
		t.Errorf("zero gradient moved parameters to %f, %f", x, y)
	}
}
