package anyvwords

import (
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestFitVocabularyClusters(t *testing.T) {
	rng := rand.New(rand.NewSource(1337))
	var data []float64
	for i := 0; i < 40; i++ {
		center := float64(i%2) * 100
		data = append(data, center+rng.Float64(), center+rng.Float64())
	}
	points := mat.NewDense(40, 2, data)
	vocab := FitVocabulary(points, 2, 20, rng)
	assign := vocab.Quantize(points)
	for i := 2; i < 40; i++ {
		if assign[i] != assign[i%2] {
			t.Fatalf("point %d: cluster %d, expected %d", i, assign[i], assign[i%2])
		}
	}
	if assign[0] == assign[1] {
		t.Error("separated groups share a cluster")
	}
}

func TestQuantizeTies(t *testing.T) {
	vocab := &Vocabulary{Centers: mat.NewDense(3, 1, []float64{1, 1, 5})}
	points := mat.NewDense(2, 1, []float64{0, 4})
	assign := vocab.Quantize(points)
	if assign[0] != 0 || assign[1] != 2 {
		t.Errorf("unexpected assignment: %v", assign)
	}
}
