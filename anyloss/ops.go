package anyloss

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// Scalar returns the first component of a result as a
// float64.
// It returns 0 for numeric types other than float32 and
// float64.
func Scalar(r anydiff.Res) float64 {
	switch data := r.Output().Data().(type) {
	case []float32:
		if len(data) > 0 {
			return float64(data[0])
		}
	case []float64:
		if len(data) > 0 {
			return data[0]
		}
	}
	return 0
}

// Floats copies a vector into a []float64.
func Floats(v anyvec.Vector) []float64 {
	switch data := v.Data().(type) {
	case []float32:
		res := make([]float64, len(data))
		for i, x := range data {
			res[i] = float64(x)
		}
		return res
	case []float64:
		return data
	default:
		panic("unsupported numeric type")
	}
}

// RepeatCols turns a length-n vector into an n x cols
// matrix whose i-th row is filled with v[i].
func RepeatCols(v anydiff.Res, cols int) anydiff.Res {
	c := v.Output().Creator()
	ones := c.MakeVector(cols)
	ones.AddScalar(c.MakeNumeric(1))
	return anydiff.MatMul(false, false,
		&anydiff.Matrix{Data: v, Rows: v.Output().Len(), Cols: 1},
		&anydiff.Matrix{Data: anydiff.NewConst(ones), Rows: 1, Cols: cols},
	).Data
}

// Clamp limits every component to [min, max].
// Components outside the range get zero gradient.
func Clamp(in anydiff.Res, min, max float64) anydiff.Res {
	c := in.Output().Creator()
	return anydiff.Pool(in, func(in anydiff.Res) anydiff.Res {
		above := anydiff.ClipPos(anydiff.AddScalar(in, c.MakeNumeric(-min)))
		over := anydiff.ClipPos(anydiff.AddScalar(in, c.MakeNumeric(-max)))
		return anydiff.AddScalar(anydiff.Sub(above, over), c.MakeNumeric(min))
	})
}

// Normalize scales every row of an n-row matrix to unit
// Euclidean length.
// All-zero rows stay zero.
func Normalize(in anydiff.Res, n int) anydiff.Res {
	c := in.Output().Creator()
	cols := in.Output().Len() / n
	return anydiff.Pool(in, func(in anydiff.Res) anydiff.Res {
		sq := anydiff.SumCols(&anydiff.Matrix{
			Data: anydiff.Square(in),
			Rows: n,
			Cols: cols,
		})
		inv := anydiff.Pow(anydiff.AddScalar(sq, c.MakeNumeric(1e-12)), c.MakeNumeric(-0.5))
		return anydiff.Mul(in, RepeatCols(inv, cols))
	})
}

// Softmax applies a softmax to every row of an n-row
// matrix.
func Softmax(in anydiff.Res, n int) anydiff.Res {
	return anydiff.Exp(anydiff.LogSoftmax(in, in.Output().Len()/n))
}
