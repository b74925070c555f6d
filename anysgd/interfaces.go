package anysgd

import "github.com/unixpickle/anydiff"

// A Transformer transforms gradients.
// For example, pre-conditioning could be implemented as a
// transformer.
//
// After its first call, a Transformer expects to see
// gradients of the same form (i.e. containing the same
// variables).
//
// A Transformer may modify its own input and return the
// same gradient as an output.
// However, a Transformer should not retain a reference to
// the input.
// If a Transformer needs to cache things relating to its
// inputs, it must allocate a separate gradient.
type Transformer interface {
	Transform(g anydiff.Grad) anydiff.Grad
}

// TransformMarshaler is a Transformer whose internal state
// can be saved and restored.
//
// Since gradients are unordered, the state is keyed by an
// explicit list of variables which must match between
// saving and restoring.
type TransformMarshaler interface {
	Transformer
	MarshalState(vars []*anydiff.Var) ([]byte, error)
	UnmarshalState(vars []*anydiff.Var, data []byte) error
}

// A Schedule determines the learning rate given the
// 1-based epoch number.
//
// Schedules are stateless: the same epoch always yields
// the same rate.
type Schedule interface {
	Rate(epoch int) float64
}
