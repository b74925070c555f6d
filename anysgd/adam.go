package anysgd

import (
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

const (
	adamDefaultDecayRate1 = 0.9
	adamDefaultDecayRate2 = 0.999
	adamDefaultDamping    = 1e-8
)

// Adam implements the adaptive moments SGD technique
// described in https://arxiv.org/pdf/1412.6980.pdf.
type Adam struct {
	// These are decay rates for the first and second
	// moments of the gradient.
	// If these are 0, defaults as suggested in the
	// original Adam paper are used.
	DecayRate1, DecayRate2 float64

	// Damping is used to prevent divisions by zero.
	// This should be very small.
	// If it is 0, a default is used.
	Damping float64

	firstMoment  anydiff.Grad
	secondMoment anydiff.Grad
	iteration    float64
}

// Transform transforms the gradient using Adam.
//
// This is not thread-safe.
func (a *Adam) Transform(realGrad anydiff.Grad) anydiff.Grad {
	a.updateMoments(realGrad)

	a.iteration++
	scalingFactor := math.Sqrt(1-math.Pow(a.decayRate(2), a.iteration)) /
		(1 - math.Pow(a.decayRate(1), a.iteration))
	damping := a.damping()
	for variable, vec := range realGrad {
		firstVec := a.firstMoment[variable]
		secondVec := a.secondMoment[variable]

		vec.Set(firstVec)
		vec.Scale(vec.Creator().MakeNumeric(scalingFactor))

		divisor := secondVec.Copy()
		divisor.AddScalar(divisor.Creator().MakeNumeric(damping))
		anyvec.Pow(divisor, divisor.Creator().MakeNumeric(0.5))
		vec.Div(divisor)
	}

	return realGrad
}

func (a *Adam) updateMoments(grad anydiff.Grad) {
	if a.firstMoment == nil {
		a.firstMoment = zeroGrad(grad)
		a.secondMoment = zeroGrad(grad)
	}
	for v, vec := range grad {
		decayAverage(a.firstMoment[v], vec, a.decayRate(1))
		sq := vec.Copy()
		anyvec.Pow(sq, sq.Creator().MakeNumeric(2))
		decayAverage(a.secondMoment[v], sq, a.decayRate(2))
	}
}

// decayAverage computes avg = rate*avg + (1-rate)*x.
func decayAverage(avg, x anyvec.Vector, rate float64) {
	avg.Scale(avg.Creator().MakeNumeric(rate))
	scaled := x.Copy()
	scaled.Scale(x.Creator().MakeNumeric(1 - rate))
	avg.Add(scaled)
}

// MarshalState saves the moment estimates and the step
// count.
func (a *Adam) MarshalState(vars []*anydiff.Var) ([]byte, error) {
	return marshalMoments(vars, a.iteration, a.firstMoment, a.secondMoment)
}

// UnmarshalState restores a state saved by MarshalState.
func (a *Adam) UnmarshalState(vars []*anydiff.Var, data []byte) error {
	iteration, moments, err := unmarshalMoments(vars, data, 2)
	if err != nil {
		return essentials.AddCtx("unmarshal Adam", err)
	}
	a.iteration = iteration
	a.firstMoment, a.secondMoment = moments[0], moments[1]
	return nil
}

func (a *Adam) decayRate(moment int) float64 {
	if moment == 1 {
		return valueOrDefault(a.DecayRate1, adamDefaultDecayRate1)
	} else if moment == 2 {
		return valueOrDefault(a.DecayRate2, adamDefaultDecayRate2)
	}
	panic("invalid moment")
}

func (a *Adam) damping() float64 {
	return valueOrDefault(a.Damping, adamDefaultDamping)
}
