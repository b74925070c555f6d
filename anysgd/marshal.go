package anysgd

import (
	"errors"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

var errVarsGradMismatch = errors.New("variable list does not match gradients")

// marshalMoments serializes a step counter and a list of
// moment gradients.
// The moments must either all be nil or all cover vars.
// Nil moments are stored as zero vectors with a flag, so
// the layout only depends on vars.
func marshalMoments(vars []*anydiff.Var, count float64, moments ...anydiff.Grad) ([]byte, error) {
	present := serializer.Int(1)
	if moments[0] == nil {
		present = 0
	}
	objs := []interface{}{serializer.Float64(count), present}
	for _, grad := range moments {
		if grad == nil {
			for _, v := range vars {
				zero := v.Vector.Creator().MakeVector(v.Vector.Len())
				objs = append(objs, &anyvecsave.S{Vector: zero})
			}
			continue
		}
		if len(vars) != len(grad) {
			return nil, errVarsGradMismatch
		}
		for _, v := range vars {
			vec, ok := grad[v]
			if !ok {
				return nil, errVarsGradMismatch
			}
			objs = append(objs, &anyvecsave.S{Vector: vec})
		}
	}
	return serializer.SerializeAny(objs...)
}

// unmarshalMoments reverses marshalMoments.
// If no moments were saved, the moments are nil.
func unmarshalMoments(vars []*anydiff.Var, data []byte, numMoments int) (float64,
	[]anydiff.Grad, error) {
	var count serializer.Float64
	var present serializer.Int
	dests := []interface{}{&count, &present}
	for i := 0; i < numMoments*len(vars); i++ {
		dests = append(dests, new(*anyvecsave.S))
	}
	if err := serializer.DeserializeAny(data, dests...); err != nil {
		return 0, nil, essentials.AddCtx("unmarshal moments", err)
	}

	moments := make([]anydiff.Grad, numMoments)
	if present == 0 {
		return float64(count), moments, nil
	}
	for i := range moments {
		moments[i] = anydiff.Grad{}
		for j, v := range vars {
			vec := (*dests[2+i*len(vars)+j].(**anyvecsave.S)).Vector
			if vec.Len() != v.Vector.Len() {
				return 0, nil, errors.New("unmarshal moments: bad vector length")
			} else if vec.Creator() != v.Vector.Creator() {
				return 0, nil, errors.New("unmarshal moments: bad vector creator")
			}
			moments[i][v] = vec
		}
	}
	return float64(count), moments, nil
}
