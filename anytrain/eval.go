package anytrain

import (
	"github.com/fountaindream/VCFL-plus"
	"github.com/fountaindream/VCFL-plus/anytriplet"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// A TripletEvaluator scores a model by the mean triplet
// precision of its global embeddings on held-out batches.
type TripletEvaluator struct {
	Sampler Sampler
	Engine  anytriplet.Engine

	// Batches is the number of batches to score.
	// If it is 0, one epoch of the sampler is scored.
	Batches int

	Normalize bool
}

// Evaluate computes the mean precision.
func (t *TripletEvaluator) Evaluate(m vcfl.Model) (float64, error) {
	var meter Meter
	for i := 0; t.Batches == 0 || i < t.Batches; i++ {
		batch, epochDone, err := t.Sampler.Next()
		if err != nil {
			return 0, essentials.AddCtx("evaluate", err)
		}
		out := m.Forward(anydiff.NewConst(batch.Inputs), batch.Num)
		res, err := t.Engine.Global(out.Global, batch.Labels, t.Normalize)
		if err != nil {
			return 0, essentials.AddCtx("evaluate", err)
		}
		meter.Update(res.Precision())
		if t.Batches == 0 && epochDone {
			break
		}
	}
	return meter.Avg(), nil
}

func vectors(vars []*anydiff.Var) []anyvec.Vector {
	res := make([]anyvec.Vector, len(vars))
	for i, v := range vars {
		res[i] = v.Vector
	}
	return res
}
