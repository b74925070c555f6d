package anysgd

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/essentials"
)

// Momentum implements SGD with momentum.
//
// The transformed gradient v is computed as
//
//	v := momentum * v + grad
type Momentum struct {
	Momentum float64
	rolling  anydiff.Grad
}

// Transform transforms the gradient using momentum.
//
// This is not thread-safe.
func (m *Momentum) Transform(g anydiff.Grad) anydiff.Grad {
	if m.rolling == nil {
		m.rolling = copyGrad(g)
		return g
	}
	for v, x := range m.rolling {
		x.Scale(x.Creator().MakeNumeric(m.Momentum))
		x.Add(g[v])
		g[v].Set(x)
	}
	return g
}

// MarshalState saves the rolling velocity.
func (m *Momentum) MarshalState(vars []*anydiff.Var) ([]byte, error) {
	return marshalMoments(vars, 0, m.rolling)
}

// UnmarshalState restores a state saved by MarshalState.
func (m *Momentum) UnmarshalState(vars []*anydiff.Var, data []byte) error {
	_, moments, err := unmarshalMoments(vars, data, 1)
	if err != nil {
		return essentials.AddCtx("unmarshal Momentum", err)
	}
	m.rolling = moments[0]
	return nil
}
