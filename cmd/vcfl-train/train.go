package main

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/fountaindream/VCFL-plus"
	"github.com/fountaindream/VCFL-plus/anyckpt"
	"github.com/fountaindream/VCFL-plus/anyconf"
	"github.com/fountaindream/VCFL-plus/anydata"
	"github.com/fountaindream/VCFL-plus/anyloss"
	"github.com/fountaindream/VCFL-plus/anymetrics"
	"github.com/fountaindream/VCFL-plus/anysgd"
	"github.com/fountaindream/VCFL-plus/anysift"
	"github.com/fountaindream/VCFL-plus/anytrain"
	"github.com/fountaindream/VCFL-plus/anytriplet"
	"github.com/fountaindream/VCFL-plus/anyvwords"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/rip"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train or evaluate a model",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return essentials.AddCtx("invalid configuration", err)
		}
		logger, closer, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer closer.Close()
		return runTrain(cfg, logger)
	},
}

func runTrain(cfg *anyconf.Config, logger *slog.Logger) error {
	seed := cfg.Dataset.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	logger.Info("starting", slog.Int64("seed", seed), slog.String("exp_dir", cfg.Run.ExpDir))

	all, err := anydata.Scan(cfg.Dataset.Root, cfg.Dataset.Part)
	if err != nil {
		return err
	}
	trainSet, valSet := all, (*anydata.Set)(nil)
	if cfg.Dataset.ValRatio > 0 {
		trainSet, valSet = anydata.SplitIdentities(all, 1-cfg.Dataset.ValRatio)
	}
	if trainSet.NumCams > cfg.Dataset.NumCameras {
		return fmt.Errorf("dataset has %d cameras but num_cameras is %d",
			trainSet.NumCams, cfg.Dataset.NumCameras)
	}
	logger.Info("loaded dataset", slog.Int("images", len(trainSet.Samples)),
		slog.Int("identities", trainSet.NumIDs()), slog.Int("cameras", trainSet.NumCams))

	creator := anyvec32.CurrentCreator()
	rng := rand.New(rand.NewSource(seed))
	loader := &anydata.Loader{
		Height:   cfg.Dataset.ResizeH,
		Width:    cfg.Dataset.ResizeW,
		InHeight: cfg.Model.InHeight,
		InWidth:  cfg.Model.InWidth,
		Mean:     anydata.DefaultMean,
		Std:      anydata.DefaultStd,
	}
	sampler := &anydata.Sampler{
		Set:         trainSet,
		Loader:      loader,
		Creator:     creator,
		IDsPerBatch: cfg.Dataset.IDsPerBatch,
		ImsPerID:    cfg.Dataset.ImsPerID,
		Mirror:      true,
		Shuffle:     true,
		Prefetch:    cfg.Dataset.PrefetchThreads,
		Rand:        rand.New(rand.NewSource(rng.Int63())),
	}
	if err := sampler.Validate(); err != nil {
		return err
	}
	defer sampler.Close()

	model, err := vcfl.NewBaseline(creator, vcfl.BaselineConfig{
		InHeight:  cfg.Model.InHeight,
		InWidth:   cfg.Model.InWidth,
		Hidden:    cfg.Model.Hidden,
		GlobalDim: cfg.Model.GlobalDim,
		LocalDim:  cfg.Model.LocalDim,
		Parts:     cfg.Model.Parts,
		NumIDs:    trainSet.NumIDs(),
		NumCams:   cfg.Dataset.NumCameras,
		KeepProb:  cfg.Model.KeepProb,
	})
	if err != nil {
		return err
	}
	engine := &anytriplet.BatchHard{
		GlobalMargin: cfg.Loss.GlobalMargin,
		LocalMargin:  cfg.Loss.LocalMargin,
	}
	centroids := anyloss.NewCentroids(creator, trainSet.NumIDs(), cfg.Model.GlobalDim)

	runID := uuid.NewString()
	loop := &anytrain.Loop{
		Model:  model,
		Engine: engine,
		Coordinator: &anytrain.Coordinator{
			Primary: &anysgd.Optimizer{
				Params:      model.Parameters(),
				Transformer: cfg.Transformer(),
				WeightDecay: cfg.Optim.WeightDecay,
			},
			Centroids:      &anysgd.Optimizer{Params: centroids.Parameters()},
			CentroidWeight: cfg.Loss.Weights.Centroid,
		},
		Schedule:           cfg.LRSchedule(),
		Sampler:            sampler,
		Centroids:          centroids,
		Weights:            cfg.Loss.Weights,
		Normalize:          cfg.Loss.NormalizeFeature,
		LocalOwnHardSample: cfg.Loss.LocalOwnHardSample,
		NumIDs:             trainSet.NumIDs(),
		NumCams:            cfg.Dataset.NumCameras,
		TotalEpochs:        cfg.Schedule.TotalEpochs,
		Checkpoint:         &anyckpt.Manager{Path: cfg.CkptPath()},
		RunID:              runID,
		Logger:             logger,
		LogSteps:           cfg.Run.LogSteps,
		StatusFunc:         progressFunc(sampler.BatchesPerEpoch()),
	}
	if cfg.Loss.Weights.Enabled(anyloss.VisualWords) {
		vwSeed := cfg.VWords.Seed
		if vwSeed == 0 {
			vwSeed = rng.Int63()
		}
		loop.Encoder = &anyvwords.Encoder{
			Detector: anysift.Detector{},
			K:        cfg.VWords.K,
			MaxIter:  cfg.VWords.MaxIter,
			Rand:     rand.New(rand.NewSource(vwSeed)),
		}
	}
	if valSet != nil && valSet.NumIDs() > 1 {
		valIDs := cfg.Dataset.IDsPerBatch
		if valIDs > valSet.NumIDs() {
			valIDs = valSet.NumIDs()
		}
		valSampler := &anydata.Sampler{
			Set:         valSet,
			Loader:      loader,
			Creator:     creator,
			IDsPerBatch: valIDs,
			ImsPerID:    cfg.Dataset.ImsPerID,
			Prefetch:    cfg.Dataset.PrefetchThreads,
			Rand:        rand.New(rand.NewSource(rng.Int63())),
		}
		defer valSampler.Close()
		loop.Evaluator = &anytrain.TripletEvaluator{
			Sampler:   valSampler,
			Engine:    engine,
			Normalize: cfg.Loss.NormalizeFeature,
		}
	} else if cfg.Run.OnlyTest {
		return errors.New("only_test requires at least two validation identities")
	}

	if cfg.Run.OnlyTest {
		score, err := loop.Test()
		if err != nil {
			return err
		}
		fmt.Printf("validation precision: %.4f\n", score)
		return nil
	}

	if cfg.Run.Resume {
		if err := loop.Resume(); err != nil {
			return err
		}
	}
	recorder, err := anymetrics.OpenSQLite(cfg.MetricsPath(), loop.RunID)
	if err != nil {
		return err
	}
	defer recorder.Close()
	loop.Recorder = recorder

	logger.Info("training", slog.String("run_id", loop.RunID),
		slog.Int("start_epoch", loop.StartEpoch+1), slog.Int("total_epochs", loop.TotalEpochs),
		slog.Int("parameters", parameterCount(model)))
	fmt.Fprintln(os.Stderr, "Press ctrl+c once to stop after the current epoch...")
	return loop.Run(rip.NewRIP().Chan())
}

// progressFunc returns a StatusFunc that shows one
// progress bar per epoch.
func progressFunc(steps int) func(epoch, step int) {
	var bar *progressbar.ProgressBar
	return func(epoch, step int) {
		if step == 1 {
			bar = progressbar.NewOptions(steps,
				progressbar.OptionSetDescription(fmt.Sprintf("epoch %d", epoch)),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionShowIts(),
				progressbar.OptionSetItsString("batches"),
				progressbar.OptionSetPredictTime(true),
				progressbar.OptionClearOnFinish(),
			)
		}
		bar.Add(1)
	}
}

func parameterCount(m vcfl.Model) int {
	var count int
	for _, p := range m.Parameters() {
		count += p.Vector.Len()
	}
	return count
}
