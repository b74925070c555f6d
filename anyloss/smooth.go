// Package anyloss implements the loss terms of the
// trainer and the weighted aggregation that combines them
// into one differentiable scalar.
package anyloss

import (
	"errors"
	"fmt"

	"github.com/unixpickle/anyvec"
)

const (
	// TrueClassMass is the probability assigned to the
	// labelled class by SmoothLabel.
	TrueClassMass = 0.8

	// SpreadMass is the probability spread over the other
	// classes by SmoothLabel.
	SpreadMass = 0.2
)

// ErrTooFewClasses is returned when a smoothed target is
// requested for fewer than two classes.
var ErrTooFewClasses = errors.New("label smoothing needs at least two classes")

// SmoothLabel produces a smoothed target distribution for
// label y out of numClasses classes.
//
// The true class gets TrueClassMass and every other class
// gets SpreadMass/(numClasses-1).
func SmoothLabel(y, numClasses int) ([]float64, error) {
	if numClasses <= 1 {
		return nil, ErrTooFewClasses
	}
	if y < 0 || y >= numClasses {
		return nil, fmt.Errorf("smooth label: label %d out of range [0, %d)", y, numClasses)
	}
	floor := SpreadMass / float64(numClasses-1)
	res := make([]float64, numClasses)
	res[y] = TrueClassMass
	for i, x := range res {
		if x < floor {
			res[i] = floor
		}
	}
	return res, nil
}

// SmoothBatch packs the smoothed targets for a batch of
// labels into a row-major len(labels) x numClasses vector.
func SmoothBatch(c anyvec.Creator, labels []int, numClasses int) (anyvec.Vector, error) {
	packed := make([]float64, 0, len(labels)*numClasses)
	for _, y := range labels {
		row, err := SmoothLabel(y, numClasses)
		if err != nil {
			return nil, err
		}
		packed = append(packed, row...)
	}
	return c.MakeVectorData(c.MakeNumericList(packed)), nil
}
