package anytrain

// A Meter tracks the latest value and running average of
// a scalar.
type Meter struct {
	Val   float64
	Sum   float64
	Count int
}

// Update records a value.
func (m *Meter) Update(val float64) {
	m.Val = val
	m.Sum += val
	m.Count++
}

// Avg returns the average of all recorded values, or 0 if
// there are none.
func (m *Meter) Avg() float64 {
	if m.Count == 0 {
		return 0
	}
	return m.Sum / float64(m.Count)
}

// Reset forgets all recorded values.
func (m *Meter) Reset() {
	*m = Meter{}
}
