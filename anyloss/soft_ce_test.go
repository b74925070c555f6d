package anyloss

import (
	"math"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anydifftest"
	"github.com/unixpickle/anyvec/anyvec64"
)

func TestSoftCE(t *testing.T) {
	targets := anydiff.NewConst(anyvec64.MakeVectorData([]float64{
		1, 0,
		0.2, 0.8,
	}))
	logits := anydiff.NewConst(anyvec64.MakeVectorData([]float64{
		0, 0,
		1, 2,
	}))
	actual := Scalar(SoftCE(targets, logits, 2))

	logZ := math.Log(math.Exp(1) + math.Exp(2))
	second := -(0.2*(1-logZ) + 0.8*(2-logZ))
	expected := (math.Log(2) + second) / 2
	if math.Abs(actual-expected) > 1e-9 {
		t.Errorf("expected %f but got %f", expected, actual)
	}
}

func TestSoftCEProp(t *testing.T) {
	logits := anydiff.NewVar(anyvec64.MakeVectorData([]float64{
		0.5, -1, 2,
		1, 0.3, -0.2,
	}))
	targets := anydiff.NewConst(anyvec64.MakeVectorData([]float64{
		0.8, 0.1, 0.1,
		0.1, 0.1, 0.8,
	}))
	checker := &anydifftest.ResChecker{
		F: func() anydiff.Res {
			return SoftCE(targets, logits, 2)
		},
		V: []*anydiff.Var{logits},
	}
	checker.FullCheck(t)
}
