// Package anytrain drives the training of a
// re-identification model with a weighted combination of
// losses.
package anytrain

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fountaindream/VCFL-plus"
	"github.com/fountaindream/VCFL-plus/anyckpt"
	"github.com/fountaindream/VCFL-plus/anydata"
	"github.com/fountaindream/VCFL-plus/anyloss"
	"github.com/fountaindream/VCFL-plus/anymetrics"
	"github.com/fountaindream/VCFL-plus/anysgd"
	"github.com/fountaindream/VCFL-plus/anytriplet"
	"github.com/fountaindream/VCFL-plus/anyvwords"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// A Sampler produces training batches.
// The epochDone flag marks the last batch of an epoch.
type Sampler interface {
	Next() (batch *anydata.Batch, epochDone bool, err error)
}

// An Evaluator scores a model.
type Evaluator interface {
	Evaluate(m vcfl.Model) (float64, error)
}

// A Loop trains a model for a number of epochs.
type Loop struct {
	Model       vcfl.Model
	Engine      anytriplet.Engine
	Coordinator *Coordinator
	Schedule    anysgd.Schedule
	Sampler     Sampler

	// Centroids is required when the centroid loss is
	// enabled, and is saved in checkpoints when present.
	Centroids *anyloss.Centroids

	// Encoder is required when the visual word loss is
	// enabled.
	Encoder *anyvwords.Encoder

	Weights anyloss.Weights

	// Normalize makes the triplet losses use L2-normalized
	// embeddings.
	Normalize bool

	// LocalOwnHardSample makes the local loss mine its own
	// hardest pairs instead of reusing the global ones.
	LocalOwnHardSample bool

	NumIDs  int
	NumCams int

	// TotalEpochs is the number of epochs to train for.
	TotalEpochs int

	// StartEpoch is the number of completed epochs.
	// Training resumes at epoch StartEpoch+1.
	StartEpoch int

	// Checkpoint, if non-nil, receives a checkpoint after
	// every epoch.
	Checkpoint *anyckpt.Manager
	RunID      string

	// Recorder, if non-nil, receives the average of every
	// scalar after every epoch.
	Recorder anymetrics.Recorder

	// Evaluator, if non-nil, scores the model after the
	// final epoch and in Test.
	Evaluator Evaluator

	Logger   *slog.Logger
	LogSteps int

	// StatusFunc, if non-nil, is called after every step.
	StatusFunc func(epoch, step int)
}

// Run trains until TotalEpochs epochs are complete or done
// is closed.
//
// The done channel is only checked between epochs, after
// the checkpoint has been written.
func (l *Loop) Run(done <-chan struct{}) error {
	logger := l.logger()
	for ep := l.StartEpoch; ep < l.TotalEpochs; ep++ {
		epoch := ep + 1
		if err := l.runEpoch(epoch); err != nil {
			return essentials.AddCtx("run", err)
		}
		l.StartEpoch = epoch
		if err := l.saveCheckpoint(epoch, 0); err != nil {
			return essentials.AddCtx("run", err)
		}
		select {
		case <-done:
			logger.Info("stopping", slog.Int("epoch", epoch))
			return nil
		default:
		}
	}
	if l.Evaluator != nil {
		score, err := l.evaluate()
		if err != nil {
			return essentials.AddCtx("run", err)
		}
		if err := l.saveCheckpoint(l.StartEpoch, score); err != nil {
			return essentials.AddCtx("run", err)
		}
	}
	return nil
}

// Test loads the checkpoint and evaluates the model once.
func (l *Loop) Test() (float64, error) {
	if l.Evaluator == nil {
		return 0, errors.New("test: no evaluator")
	}
	if err := l.Resume(); err != nil {
		return 0, essentials.AddCtx("test", err)
	}
	score, err := l.evaluate()
	if err != nil {
		return 0, essentials.AddCtx("test", err)
	}
	return score, nil
}

// Resume restores the model, the optimizer state and the
// centroid table from the checkpoint, and sets StartEpoch
// to the saved epoch.
func (l *Loop) Resume() error {
	if l.Checkpoint == nil {
		return errors.New("resume: no checkpoint configured")
	}
	state, err := l.Checkpoint.Load()
	if err != nil {
		return essentials.AddCtx("resume", err)
	}
	if err := anyckpt.Apply(state.Params, l.Model.Parameters()); err != nil {
		return essentials.AddCtx("resume", err)
	}
	if err := l.Coordinator.Primary.UnmarshalBinary(state.Optimizer); err != nil {
		return essentials.AddCtx("resume", err)
	}
	if l.Centroids != nil && state.Centroids != nil {
		err := anyckpt.Apply([]anyvec.Vector{state.Centroids}, l.Centroids.Parameters())
		if err != nil {
			return essentials.AddCtx("resume centroids", err)
		}
	}
	l.StartEpoch = state.Epoch
	if state.RunID != "" {
		l.RunID = state.RunID
	}
	l.logger().Info("resumed", slog.Int("epoch", state.Epoch),
		slog.Float64("score", state.Score), slog.String("run_id", l.RunID))
	return nil
}

func (l *Loop) runEpoch(epoch int) error {
	logger := l.logger()
	l.Coordinator.SetRate(l.Schedule.Rate(epoch))
	l.Model.SetTraining(true)

	meters := meterSet{}
	start := time.Now()
	for step := 1; ; step++ {
		stepStart := time.Now()
		batch, epochDone, err := l.Sampler.Next()
		if err != nil {
			return err
		}
		scalars, err := l.Step(batch)
		if err != nil {
			return essentials.AddCtx("step", err)
		}
		meters.Update(scalars)
		if l.StatusFunc != nil {
			l.StatusFunc(epoch, step)
		}
		if l.LogSteps > 0 && step%l.LogSteps == 0 {
			attrs := append([]slog.Attr{
				slog.Int("step", step),
				slog.Int("epoch", epoch),
				slog.Duration("step_time", time.Since(stepStart)),
			}, logAttrs(meters.Latest())...)
			logger.LogAttrs(context.Background(), slog.LevelInfo, "step", attrs...)
		}
		if epochDone {
			break
		}
	}

	averages := meters.Averages()
	attrs := append([]slog.Attr{
		slog.Int("epoch", epoch),
		slog.Float64("lr", l.Coordinator.Primary.Rate),
		slog.Duration("elapsed", time.Since(start)),
	}, logAttrs(averages)...)
	logger.LogAttrs(context.Background(), slog.LevelInfo, "epoch", attrs...)

	if l.Recorder != nil {
		if err := l.Recorder.Record(epoch, averages); err != nil {
			return err
		}
	}
	return nil
}

// Step runs one optimization step on a batch and returns
// the named scalars of every enabled term.
func (l *Loop) Step(batch *anydata.Batch) (map[string]float64, error) {
	c := batch.Inputs.Creator()
	n := batch.Num
	out := l.Model.Forward(anydiff.NewConst(batch.Inputs), n)

	var globalRes, localRes *anytriplet.Result
	terms := []anyloss.Term{
		{
			Kind:   anyloss.Global,
			Weight: l.Weights.Global,
			Compute: func() (anydiff.Res, error) {
				var err error
				globalRes, err = l.Engine.Global(out.Global, batch.Labels, l.Normalize)
				if err != nil {
					return nil, err
				}
				return globalRes.Loss, nil
			},
		},
		{
			Kind:   anyloss.Local,
			Weight: l.Weights.Local,
			Compute: func() (anydiff.Res, error) {
				var pairs *anytriplet.Pairs
				if !l.LocalOwnHardSample {
					if globalRes != nil {
						pairs = globalRes.Pairs
					} else {
						var err error
						pairs, err = anytriplet.Mine(out.Global.Output(), batch.Labels, l.Normalize)
						if err != nil {
							return nil, err
						}
					}
				}
				var err error
				localRes, err = l.Engine.Local(out.Local, out.Parts, batch.Labels, pairs,
					l.Normalize)
				if err != nil {
					return nil, err
				}
				return localRes.Loss, nil
			},
		},
		{
			Kind:   anyloss.ID,
			Weight: l.Weights.ID,
			Compute: func() (anydiff.Res, error) {
				targets, err := anyloss.SmoothBatch(c, batch.Labels, l.NumIDs)
				if err != nil {
					return nil, err
				}
				return anyloss.SoftCE(anydiff.NewConst(targets), out.IDLogits, n), nil
			},
		},
		{
			Kind:   anyloss.VisualWords,
			Weight: l.Weights.VisualWords,
			Compute: func() (anydiff.Res, error) {
				if l.Encoder == nil {
					return nil, errors.New("visual word loss enabled without an encoder")
				}
				words, err := l.Encoder.Encode(batch.Images)
				if err != nil {
					return nil, err
				}
				if words.K != out.GlobalDim {
					return nil, errors.New("vocabulary size must equal the global embedding size")
				}
				return anyloss.DescriptorMatch(out.Global, words.Vector(c), n), nil
			},
		},
		{
			Kind:   anyloss.Centroid,
			Weight: l.Weights.Centroid,
			Compute: func() (anydiff.Res, error) {
				if l.Centroids == nil {
					return nil, errors.New("centroid loss enabled without centroids")
				}
				normed := anyloss.Normalize(out.Global, n)
				return l.Centroids.Compactness(normed, batch.Labels), nil
			},
		},
		{
			Kind:   anyloss.View,
			Weight: l.Weights.View,
			Compute: func() (anydiff.Res, error) {
				targets, err := anyloss.SmoothBatch(c, batch.Cameras, l.NumCams)
				if err != nil {
					return nil, err
				}
				return anyloss.SoftCE(anydiff.NewConst(targets), out.ViewLogits, n), nil
			},
		},
	}

	agg, err := anyloss.Combine(c, terms)
	if err != nil {
		return nil, err
	}
	scalars := stepScalars(agg, globalRes, localRes)
	l.Coordinator.Step(agg.Total)
	return scalars, nil
}

func (l *Loop) saveCheckpoint(epoch int, score float64) error {
	if l.Checkpoint == nil {
		return nil
	}
	opt, err := l.Coordinator.Primary.MarshalBinary()
	if err != nil {
		return err
	}
	state := &anyckpt.State{
		Epoch:     epoch,
		Score:     score,
		RunID:     l.RunID,
		Params:    vectors(l.Model.Parameters()),
		Optimizer: opt,
	}
	if l.Centroids != nil {
		state.Centroids = l.Centroids.Table.Vector
	}
	if err := l.Checkpoint.Save(state); err != nil {
		return err
	}
	l.logger().Debug("saved checkpoint", slog.Int("epoch", epoch),
		slog.String("path", l.Checkpoint.Path))
	return nil
}

func (l *Loop) evaluate() (float64, error) {
	l.Model.SetTraining(false)
	score, err := l.Evaluator.Evaluate(l.Model)
	if err != nil {
		return 0, err
	}
	l.logger().Info("evaluation", slog.Int("epoch", l.StartEpoch), slog.Float64("score", score))
	return score, nil
}

func (l *Loop) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}
