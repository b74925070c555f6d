package anytrain

import (
	"github.com/fountaindream/VCFL-plus/anysgd"
	"github.com/unixpickle/anydiff"
)

// A Coordinator updates the network parameters and the
// centroid table from one combined loss.
type Coordinator struct {
	// Primary updates the network parameters.
	Primary *anysgd.Optimizer

	// Centroids updates the centroid table.
	// It may be nil if there is no table.
	Centroids *anysgd.Optimizer

	// CentroidWeight is the weight of the centroid loss in
	// the combined loss.
	CentroidWeight float64
}

// SetRate sets the learning rate of both optimizers.
func (c *Coordinator) SetRate(rate float64) {
	c.Primary.SetRate(rate)
	if c.Centroids != nil {
		c.Centroids.SetRate(rate)
	}
}

// Step clears both gradients, back-propagates total once,
// and applies the updates.
//
// The centroid table is only updated when CentroidWeight
// is non-zero, and its gradient is first divided by
// CentroidWeight so that its step size does not depend on
// the weight.
func (c *Coordinator) Step(total anydiff.Res) {
	c.Primary.ZeroGrad()
	grad := anydiff.Grad{}
	for v, vec := range c.Primary.Grad() {
		grad[v] = vec
	}
	if c.Centroids != nil {
		c.Centroids.ZeroGrad()
		for v, vec := range c.Centroids.Grad() {
			grad[v] = vec
		}
	}

	cr := total.Output().Creator()
	upstream := cr.MakeVector(1)
	upstream.AddScalar(cr.MakeNumeric(1))
	total.Propagate(upstream, grad)

	c.Primary.Step()
	if c.Centroids != nil && c.CentroidWeight != 0 {
		for _, vec := range c.Centroids.Grad() {
			vec.Scale(vec.Creator().MakeNumeric(1 / c.CentroidWeight))
		}
		c.Centroids.Step()
	}
}
