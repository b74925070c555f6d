package anyloss

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// DescriptorMatch measures how far the learned global
// embedding is from a fixed, per-image auxiliary
// descriptor.
//
// Both n-row matrices are passed through a row-wise
// softmax, and the result is the Euclidean norm of their
// difference over the whole batch.
// The descriptor is a constant; gradients only reach the
// embedding.
func DescriptorMatch(global anydiff.Res, descriptors anyvec.Vector, n int) anydiff.Res {
	if global.Output().Len() != descriptors.Len() {
		panic(fmt.Sprintf("descriptor length %d does not match embedding length %d",
			descriptors.Len(), global.Output().Len()))
	}
	c := global.Output().Creator()
	target := Softmax(anydiff.NewConst(descriptors), n)
	diff := anydiff.Sub(Softmax(global, n), anydiff.NewConst(target.Output()))
	return anydiff.Pow(anydiff.Sum(anydiff.Square(diff)), c.MakeNumeric(0.5))
}
