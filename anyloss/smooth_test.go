package anyloss

import (
	"errors"
	"math"
	"testing"

	"github.com/unixpickle/anyvec/anyvec64"
)

func TestSmoothLabelDistribution(t *testing.T) {
	for c := 2; c <= 12; c++ {
		for y := 0; y < c; y++ {
			dist, err := SmoothLabel(y, c)
			if err != nil {
				t.Fatal(err)
			}
			var sum float64
			for i, x := range dist {
				sum += x
				if i != y && x >= dist[y] {
					t.Errorf("C=%d y=%d: component %d (%f) not below true class (%f)",
						c, y, i, x, dist[y])
				}
			}
			if math.Abs(sum-1) > 1e-9 {
				t.Errorf("C=%d y=%d: sum is %f", c, y, sum)
			}
		}
	}
}

func TestSmoothLabelFourClasses(t *testing.T) {
	dist, err := SmoothLabel(2, 4)
	if err != nil {
		t.Fatal(err)
	}
	expected := []float64{0.2 / 3, 0.2 / 3, 0.8, 0.2 / 3}
	for i, x := range expected {
		if math.Abs(dist[i]-x) > 1e-9 {
			t.Errorf("component %d: expected %f but got %f", i, x, dist[i])
		}
	}
}

func TestSmoothLabelErrors(t *testing.T) {
	for _, c := range []int{0, 1} {
		if _, err := SmoothLabel(0, c); !errors.Is(err, ErrTooFewClasses) {
			t.Errorf("C=%d: expected ErrTooFewClasses, got %v", c, err)
		}
	}
	if _, err := SmoothLabel(3, 3); err == nil {
		t.Error("expected error for out-of-range label")
	}
	if _, err := SmoothLabel(-1, 3); err == nil {
		t.Error("expected error for negative label")
	}
}

func TestSmoothBatchTwoClasses(t *testing.T) {
	vec, err := SmoothBatch(anyvec64.DefaultCreator{}, []int{0, 0, 1, 1}, 2)
	if err != nil {
		t.Fatal(err)
	}
	actual := vec.Data().([]float64)
	expected := []float64{
		0.8, 0.2,
		0.8, 0.2,
		0.2, 0.8,
		0.2, 0.8,
	}
	if len(actual) != len(expected) {
		t.Fatalf("expected %d components, got %d", len(expected), len(actual))
	}
	for i, x := range expected {
		if math.Abs(actual[i]-x) > 1e-9 {
			t.Errorf("component %d: expected %f but got %f", i, x, actual[i])
		}
	}
}
