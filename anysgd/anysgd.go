// Package anysgd provides gradient-based optimizers and
// learning rate schedules for anydiff parameters.
package anysgd

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// An Optimizer updates a fixed set of parameters from an
// accumulated gradient.
//
// Gradients are accumulated by propagating into Grad().
// Step consumes the accumulated gradient without clearing
// it, so ZeroGrad should be called before every backward
// pass.
type Optimizer struct {
	// Params is the list of parameters to update.
	// It must not change after the first call to Grad.
	Params []*anydiff.Var

	// Transformer, if non-nil, is used to transform each
	// gradient before the step.
	// If it is nil, plain SGD is performed.
	Transformer Transformer

	// WeightDecay is an L2 penalty coefficient.
	// If it is non-zero, WeightDecay*param is added to the
	// gradient before it is transformed.
	WeightDecay float64

	// Rate is the learning rate.
	Rate float64

	grad anydiff.Grad
}

// Grad returns the gradient that accumulates the
// derivatives of the parameters.
// The same gradient is returned on every call.
func (o *Optimizer) Grad() anydiff.Grad {
	if o.grad == nil {
		o.grad = anydiff.NewGrad(o.Params...)
	}
	return o.grad
}

// ZeroGrad clears the accumulated gradient.
func (o *Optimizer) ZeroGrad() {
	for _, vec := range o.Grad() {
		vec.Set(vec.Creator().MakeVector(vec.Len()))
	}
}

// SetRate sets the learning rate for future steps.
func (o *Optimizer) SetRate(rate float64) {
	o.Rate = rate
}

// Step applies one update using the accumulated gradient.
func (o *Optimizer) Step() {
	grad := copyGrad(o.Grad())
	if o.WeightDecay != 0 {
		for _, v := range o.Params {
			decay := v.Vector.Copy()
			decay.Scale(decay.Creator().MakeNumeric(o.WeightDecay))
			grad[v].Add(decay)
		}
	}
	if o.Transformer != nil {
		grad = o.Transformer.Transform(grad)
	}
	scaleGrad(grad, -o.Rate)
	grad.AddToVars()
}

// MarshalBinary saves the transformer state.
// Transformers without saveable state produce an empty
// result.
func (o *Optimizer) MarshalBinary() ([]byte, error) {
	if tm, ok := o.Transformer.(TransformMarshaler); ok {
		return tm.MarshalState(o.Params)
	}
	return []byte{}, nil
}

// UnmarshalBinary restores a transformer state saved by
// MarshalBinary for an optimizer with the same Params.
func (o *Optimizer) UnmarshalBinary(data []byte) error {
	if tm, ok := o.Transformer.(TransformMarshaler); ok {
		return tm.UnmarshalState(o.Params, data)
	}
	return nil
}

// Vectors returns the current parameter vectors in the
// order of Params.
func (o *Optimizer) Vectors() []anyvec.Vector {
	res := make([]anyvec.Vector, len(o.Params))
	for i, p := range o.Params {
		res[i] = p.Vector
	}
	return res
}
