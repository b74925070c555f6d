package anyloss

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// A Kind identifies one of the loss terms.
type Kind int

// The loss terms, in aggregation order.
const (
	Global Kind = iota
	Local
	ID
	VisualWords
	Centroid
	View

	numKinds
)

var kindNames = [numKinds]string{"global", "local", "id", "sift", "centroid", "view"}

// Kinds returns every Kind in aggregation order.
func Kinds() []Kind {
	res := make([]Kind, numKinds)
	for i := range res {
		res[i] = Kind(i)
	}
	return res
}

// String returns the short name of the term.
func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Weights stores one non-negative weight per loss term.
// A weight of exactly zero disables a term entirely.
type Weights struct {
	Global      float64 `yaml:"global"`
	Local       float64 `yaml:"local"`
	ID          float64 `yaml:"id"`
	VisualWords float64 `yaml:"sift"`
	Centroid    float64 `yaml:"centroid"`
	View        float64 `yaml:"view"`
}

// Of returns the weight of a term.
func (w Weights) Of(k Kind) float64 {
	switch k {
	case Global:
		return w.Global
	case Local:
		return w.Local
	case ID:
		return w.ID
	case VisualWords:
		return w.VisualWords
	case Centroid:
		return w.Centroid
	case View:
		return w.View
	default:
		panic("unknown loss kind: " + k.String())
	}
}

// Enabled reports whether a term will be computed.
func (w Weights) Enabled(k Kind) bool {
	return w.Of(k) != 0
}

// Validate checks that no weight is negative.
func (w Weights) Validate() error {
	for _, k := range Kinds() {
		if w.Of(k) < 0 {
			return fmt.Errorf("negative %s loss weight: %f", k, w.Of(k))
		}
	}
	return nil
}

// A Value is the outcome of one loss term: either an
// enabled, computed loss or a disabled term.
type Value struct {
	loss anydiff.Res
}

// Enabled wraps a computed loss.
func Enabled(loss anydiff.Res) Value {
	return Value{loss: loss}
}

// Disabled is the Value of a term that was not computed.
var Disabled = Value{}

// Get returns the loss and whether the term was enabled.
func (v Value) Get() (anydiff.Res, bool) {
	return v.loss, v.loss != nil
}

// Scalar returns the numerical loss and whether the term
// was enabled.
func (v Value) Scalar() (float64, bool) {
	if v.loss == nil {
		return 0, false
	}
	return Scalar(v.loss), true
}

// A Term describes one weighted loss.
// Compute is only called when Weight is non-zero.
type Term struct {
	Kind    Kind
	Weight  float64
	Compute func() (anydiff.Res, error)
}

// An Aggregate is the weighted sum of a set of terms.
type Aggregate struct {
	Total  anydiff.Res
	values [numKinds]Value
}

// Value returns the outcome of a term.
// Terms that were not part of the aggregation are
// Disabled.
func (a *Aggregate) Value(k Kind) Value {
	return a.values[k]
}

// Combine computes every term with a non-zero weight and
// sums the weighted results.
// Terms with zero weight are never computed and do not
// appear in the total.
//
// If no term is enabled, the total is a constant zero.
func Combine(c anyvec.Creator, terms []Term) (*Aggregate, error) {
	res := &Aggregate{}
	for _, term := range terms {
		if term.Weight == 0 {
			continue
		}
		loss, err := term.Compute()
		if err != nil {
			return nil, essentials.AddCtx(term.Kind.String()+" loss", err)
		}
		if loss.Output().Len() != 1 {
			return nil, fmt.Errorf("%s loss: expected a scalar but got %d components",
				term.Kind, loss.Output().Len())
		}
		res.values[term.Kind] = Enabled(loss)
		weighted := anydiff.Scale(loss, c.MakeNumeric(term.Weight))
		if res.Total == nil {
			res.Total = weighted
		} else {
			res.Total = anydiff.Add(res.Total, weighted)
		}
	}
	if res.Total == nil {
		res.Total = anydiff.NewConst(c.MakeVector(1))
	}
	return res, nil
}
