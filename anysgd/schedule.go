package anysgd

import (
	"errors"
	"fmt"
	"math"
)

// expFloor is the fraction of the base rate reached one
// epoch past the final epoch of an ExpSchedule.
const expFloor = 0.001

// A ConstSchedule always returns the same learning rate.
type ConstSchedule float64

// Rate returns float64(c).
func (c ConstSchedule) Rate(epoch int) float64 {
	return float64(c)
}

// ExpSchedule holds the learning rate at BaseLR until
// epoch DecayAt, then decays it exponentially so that it
// approaches BaseLR*0.001 after the final epoch Total.
type ExpSchedule struct {
	BaseLR  float64
	DecayAt int
	Total   int
}

// Rate computes the learning rate for the epoch.
func (e *ExpSchedule) Rate(epoch int) float64 {
	if epoch < e.DecayAt {
		return e.BaseLR
	}
	progress := float64(epoch+1-e.DecayAt) / float64(e.Total+1-e.DecayAt)
	return e.BaseLR * math.Pow(expFloor, progress)
}

// Validate checks that the decay epoch lies within the
// schedule.
func (e *ExpSchedule) Validate() error {
	if e.DecayAt < 1 || e.DecayAt > e.Total {
		return fmt.Errorf("exponential decay epoch %d outside [1, %d]", e.DecayAt, e.Total)
	}
	return nil
}

// StaircaseSchedule multiplies BaseLR by Factor once for
// every threshold in At that the epoch has reached.
type StaircaseSchedule struct {
	BaseLR float64
	At     []int
	Factor float64
}

// Rate computes the learning rate for the epoch.
func (s *StaircaseSchedule) Rate(epoch int) float64 {
	var steps int
	for _, a := range s.At {
		if a <= epoch {
			steps++
		}
	}
	return s.BaseLR * math.Pow(s.Factor, float64(steps))
}

// Validate checks that the thresholds are strictly
// ascending and that the factor shrinks the rate.
func (s *StaircaseSchedule) Validate() error {
	if s.Factor <= 0 || s.Factor >= 1 {
		return fmt.Errorf("staircase factor %f outside (0, 1)", s.Factor)
	}
	for i := 1; i < len(s.At); i++ {
		if s.At[i] <= s.At[i-1] {
			return errors.New("staircase thresholds must be strictly ascending")
		}
	}
	return nil
}
