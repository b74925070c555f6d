package anysgd

import (
	"math"
	"testing"
)

func TestExpSchedule(t *testing.T) {
	s := &ExpSchedule{BaseLR: 2e-4, DecayAt: 151, Total: 300}
	for _, epoch := range []int{1, 100, 150} {
		if s.Rate(epoch) != 2e-4 {
			t.Errorf("epoch %d: expected base rate but got %e", epoch, s.Rate(epoch))
		}
	}
	last := s.Rate(150)
	for epoch := 151; epoch <= 300; epoch++ {
		rate := s.Rate(epoch)
		if rate >= last {
			t.Fatalf("epoch %d: rate %e did not decrease from %e", epoch, rate, last)
		}
		last = rate
	}
	expected := 2e-4 * math.Pow(0.001, 150.0/151)
	if math.Abs(s.Rate(300)-expected) > 1e-15 {
		t.Errorf("expected final rate %e but got %e", expected, s.Rate(300))
	}
	if s.Rate(300) != s.Rate(300) {
		t.Error("schedule is not idempotent")
	}
}

func TestStaircaseSchedule(t *testing.T) {
	s := &StaircaseSchedule{BaseLR: 1e-3, At: []int{101, 201}, Factor: 0.1}
	expected := map[int]float64{
		1:   1e-3,
		100: 1e-3,
		101: 1e-4,
		150: 1e-4,
		200: 1e-4,
		201: 1e-5,
		300: 1e-5,
	}
	for epoch, rate := range expected {
		if actual := s.Rate(epoch); math.Abs(actual-rate) > 1e-15 {
			t.Errorf("epoch %d: expected %e but got %e", epoch, rate, actual)
		}
	}
	for epoch := 2; epoch <= 300; epoch++ {
		if s.Rate(epoch) > s.Rate(epoch-1) {
			t.Fatalf("epoch %d: rate increased", epoch)
		}
	}
}

func TestScheduleValidate(t *testing.T) {
	if err := (&StaircaseSchedule{At: []int{101, 101}, Factor: 0.1}).Validate(); err == nil {
		t.Error("expected error for repeated threshold")
	}
	if err := (&StaircaseSchedule{At: []int{1}, Factor: 1}).Validate(); err == nil {
		t.Error("expected error for factor 1")
	}
	if err := (&StaircaseSchedule{At: []int{5, 9}, Factor: 0.5}).Validate(); err != nil {
		t.Error(err)
	}
	if err := (&ExpSchedule{DecayAt: 400, Total: 300}).Validate(); err == nil {
		t.Error("expected error for late decay")
	}
}
