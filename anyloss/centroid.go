package anyloss

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

const (
	centroidDistMin = 1e-12
	centroidDistMax = 1e12
)

func init() {
	var c Centroids
	serializer.RegisterTypedDeserializer(c.SerializerType(), DeserializeCentroids)
}

// Centroids is a learnable table with one centroid per
// identity class, used to pull embeddings of a class
// together.
//
// The table is only ever changed by an optimizer step
// driven by the gradient of Compactness.
type Centroids struct {
	NumClasses int
	Dim        int

	// Table is the row-major NumClasses x Dim matrix.
	Table *anydiff.Var
}

// NewCentroids creates a table with normally distributed
// entries.
func NewCentroids(c anyvec.Creator, numClasses, dim int) *Centroids {
	table := c.MakeVector(numClasses * dim)
	anyvec.Rand(table, anyvec.Normal, nil)
	return &Centroids{
		NumClasses: numClasses,
		Dim:        dim,
		Table:      anydiff.NewVar(table),
	}
}

// DeserializeCentroids deserializes a Centroids table.
func DeserializeCentroids(d []byte) (*Centroids, error) {
	var classes serializer.Int
	var table *anyvecsave.S
	if err := serializer.DeserializeAny(d, &classes, &table); err != nil {
		return nil, essentials.AddCtx("deserialize Centroids", err)
	}
	if classes <= 0 || table.Vector.Len()%int(classes) != 0 {
		return nil, fmt.Errorf("deserialize Centroids: bad table size %d for %d classes",
			table.Vector.Len(), classes)
	}
	return &Centroids{
		NumClasses: int(classes),
		Dim:        table.Vector.Len() / int(classes),
		Table:      anydiff.NewVar(table.Vector),
	}, nil
}

// Compactness computes the mean squared distance between
// every embedding and the centroid of its class.
//
// The full sample-to-centroid distance matrix is built
// first, masked to the own-class column, and clamped to
// [1e-12, 1e12] before summation.
// The result is a single-component, non-negative value.
func (c *Centroids) Compactness(x anydiff.Res, labels []int) anydiff.Res {
	n := len(labels)
	if x.Output().Len() != n*c.Dim {
		panic(fmt.Sprintf("embedding length should be %d, but got %d",
			n*c.Dim, x.Output().Len()))
	}
	cr := x.Output().Creator()

	mask := make([]float64, n*c.NumClasses)
	for i, y := range labels {
		if y < 0 || y >= c.NumClasses {
			panic(fmt.Sprintf("label %d out of range [0, %d)", y, c.NumClasses))
		}
		mask[i*c.NumClasses+y] = 1
	}
	maskRes := anydiff.NewConst(cr.MakeVectorData(cr.MakeNumericList(mask)))

	return anydiff.Pool(x, func(x anydiff.Res) anydiff.Res {
		return anydiff.Pool(c.Table, func(table anydiff.Res) anydiff.Res {
			xNorms := anydiff.SumCols(&anydiff.Matrix{
				Data: anydiff.Square(x),
				Rows: n,
				Cols: c.Dim,
			})
			cNorms := anydiff.SumCols(&anydiff.Matrix{
				Data: anydiff.Square(table),
				Rows: c.NumClasses,
				Cols: c.Dim,
			})
			dots := anydiff.MatMul(false, true,
				&anydiff.Matrix{Data: x, Rows: n, Cols: c.Dim},
				&anydiff.Matrix{Data: table, Rows: c.NumClasses, Cols: c.Dim},
			)
			dist := anydiff.Add(
				RepeatCols(xNorms, c.NumClasses),
				anydiff.AddRepeated(anydiff.Scale(dots.Data, cr.MakeNumeric(-2)), cNorms),
			)
			masked := Clamp(anydiff.Mul(dist, maskRes), centroidDistMin, centroidDistMax)
			return anydiff.Scale(anydiff.Sum(masked), cr.MakeNumeric(1/float64(n)))
		})
	})
}

// Parameters returns the centroid table.
func (c *Centroids) Parameters() []*anydiff.Var {
	return []*anydiff.Var{c.Table}
}

// SerializerType returns the unique ID used to serialize
// Centroids with the serializer package.
func (c *Centroids) SerializerType() string {
	return "github.com/fountaindream/VCFL-plus/anyloss.Centroids"
}

// Serialize serializes the table.
func (c *Centroids) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		serializer.Int(c.NumClasses),
		&anyvecsave.S{Vector: c.Table.Vector},
	)
}
