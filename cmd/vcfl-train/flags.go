package main

import (
	"errors"

	"github.com/fountaindream/VCFL-plus/anyconf"
	"github.com/spf13/cobra"
	"github.com/unixpickle/essentials"
)

func addConfigFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("data-root", "", "dataset root directory")
	f.String("exp-dir", "", "experiment directory for logs and checkpoints")
	f.String("ckpt-file", "", "checkpoint file (default <exp-dir>/ckpt.bin)")
	f.Int64("seed", 0, "random seed (0 picks one)")
	f.Int("ids-per-batch", 0, "identities per batch")
	f.Int("ims-per-id", 0, "images per identity")
	f.Float64("glw", 0, "global triplet loss weight")
	f.Float64("llw", 0, "local triplet loss weight")
	f.Float64("idlw", 0, "identity loss weight")
	f.Float64("slw", 0, "visual word loss weight")
	f.Float64("clw", 0, "centroid loss weight")
	f.Float64("vlw", 0, "view loss weight")
	f.Float64("global-margin", 0, "global triplet margin")
	f.Float64("local-margin", 0, "local triplet margin")
	f.Bool("normalize-feature", true, "L2-normalize embeddings before triplet losses")
	f.Bool("local-own-hard-sample", false, "mine local pairs from local distances")
	f.String("optimizer", "", "optimizer: adam, rmsprop, momentum or sgd")
	f.Float64("base-lr", 0, "base learning rate")
	f.Float64("weight-decay", 0, "weight decay")
	f.String("lr-decay-type", "", "learning rate schedule: exp or staircase")
	f.Int("exp-decay-at-epoch", 0, "first epoch of exponential decay")
	f.IntSlice("staircase-decay-at-epochs", nil, "epochs at which the staircase decays")
	f.Float64("staircase-decay-multiply-factor", 0, "staircase decay factor")
	f.Int("total-epochs", 0, "number of epochs to train")
	f.Bool("resume", false, "resume from the checkpoint")
	f.Bool("only-test", false, "only evaluate the checkpoint")
	f.Int("log-steps", 0, "steps between step logs")
	f.String("log-level", "", "log level: debug, info, warn or error")
	f.String("log-format", "", "log format: text or json")
}

// loadConfig resolves the configuration from defaults, the
// config file, the environment and the changed flags.
func loadConfig(cmd *cobra.Command) (*anyconf.Config, error) {
	cfg, err := anyconf.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return nil, essentials.AddCtx("apply flags", err)
	}
	return cfg, nil
}

// applyFlags overrides the configuration with every flag
// that was set explicitly.
func applyFlags(cmd *cobra.Command, cfg *anyconf.Config) error {
	f := cmd.Flags()
	strs := map[string]*string{
		"data-root":     &cfg.Dataset.Root,
		"exp-dir":       &cfg.Run.ExpDir,
		"ckpt-file":     &cfg.Run.CkptFile,
		"optimizer":     &cfg.Optim.Kind,
		"lr-decay-type": &cfg.Schedule.Type,
		"log-level":     &cfg.Logging.Level,
		"log-format":    &cfg.Logging.Format,
	}
	ints := map[string]*int{
		"ids-per-batch":      &cfg.Dataset.IDsPerBatch,
		"ims-per-id":         &cfg.Dataset.ImsPerID,
		"exp-decay-at-epoch": &cfg.Schedule.ExpDecayAt,
		"total-epochs":       &cfg.Schedule.TotalEpochs,
		"log-steps":          &cfg.Run.LogSteps,
	}
	floats := map[string]*float64{
		"glw":                             &cfg.Loss.Weights.Global,
		"llw":                             &cfg.Loss.Weights.Local,
		"idlw":                            &cfg.Loss.Weights.ID,
		"slw":                             &cfg.Loss.Weights.VisualWords,
		"clw":                             &cfg.Loss.Weights.Centroid,
		"vlw":                             &cfg.Loss.Weights.View,
		"global-margin":                   &cfg.Loss.GlobalMargin,
		"local-margin":                    &cfg.Loss.LocalMargin,
		"base-lr":                         &cfg.Optim.BaseLR,
		"weight-decay":                    &cfg.Optim.WeightDecay,
		"staircase-decay-multiply-factor": &cfg.Schedule.StaircaseFactor,
	}
	bools := map[string]*bool{
		"normalize-feature":     &cfg.Loss.NormalizeFeature,
		"local-own-hard-sample": &cfg.Loss.LocalOwnHardSample,
		"resume":                &cfg.Run.Resume,
		"only-test":             &cfg.Run.OnlyTest,
	}

	var err error
	for name, dest := range strs {
		if f.Changed(name) {
			if *dest, err = f.GetString(name); err != nil {
				return err
			}
		}
	}
	for name, dest := range ints {
		if f.Changed(name) {
			if *dest, err = f.GetInt(name); err != nil {
				return err
			}
		}
	}
	for name, dest := range floats {
		if f.Changed(name) {
			if *dest, err = f.GetFloat64(name); err != nil {
				return err
			}
		}
	}
	for name, dest := range bools {
		if f.Changed(name) {
			if *dest, err = f.GetBool(name); err != nil {
				return err
			}
		}
	}
	if f.Changed("seed") {
		if cfg.Dataset.Seed, err = f.GetInt64("seed"); err != nil {
			return err
		}
	}
	if f.Changed("staircase-decay-at-epochs") {
		if cfg.Schedule.StaircaseAt, err = f.GetIntSlice("staircase-decay-at-epochs"); err != nil {
			return err
		}
	}
	if cfg.Run.Resume && cfg.Run.OnlyTest {
		return errors.New("--resume and --only-test are mutually exclusive")
	}
	return nil
}
