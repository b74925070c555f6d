// Package anyconf loads and validates training
// configurations.
package anyconf

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fountaindream/VCFL-plus/anyloss"
	"github.com/fountaindream/VCFL-plus/anysgd"
	"github.com/unixpickle/essentials"
	"gopkg.in/yaml.v3"
)

// Schedule types.
const (
	ScheduleExp       = "exp"
	ScheduleStaircase = "staircase"
)

// Optimizer kinds.
const (
	OptimAdam     = "adam"
	OptimRMSProp  = "rmsprop"
	OptimMomentum = "momentum"
	OptimSGD      = "sgd"
)

// Config is the full configuration of a training run.
type Config struct {
	Dataset  DatasetConfig  `yaml:"dataset"`
	Model    ModelConfig    `yaml:"model"`
	Loss     LossConfig     `yaml:"loss"`
	Optim    OptimConfig    `yaml:"optim"`
	Schedule ScheduleConfig `yaml:"schedule"`
	VWords   VWordsConfig   `yaml:"vwords"`
	Run      RunConfig      `yaml:"run"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type DatasetConfig struct {
	Root string `yaml:"root"`
	Part string `yaml:"part"`

	ResizeH int `yaml:"resize_h"`
	ResizeW int `yaml:"resize_w"`

	IDsPerBatch     int `yaml:"ids_per_batch"`
	ImsPerID        int `yaml:"ims_per_id"`
	PrefetchThreads int `yaml:"prefetch_threads"`

	// Seed fixes all random choices when non-zero.
	Seed int64 `yaml:"seed"`

	NumCameras int `yaml:"num_cameras"`

	// ValRatio is the fraction of identities held out for
	// validation. Zero disables validation.
	ValRatio float64 `yaml:"val_ratio"`
}

type ModelConfig struct {
	InHeight  int     `yaml:"in_height"`
	InWidth   int     `yaml:"in_width"`
	Hidden    int     `yaml:"hidden"`
	GlobalDim int     `yaml:"global_dim"`
	LocalDim  int     `yaml:"local_dim"`
	Parts     int     `yaml:"parts"`
	KeepProb  float64 `yaml:"keep_prob"`
}

type LossConfig struct {
	Weights            anyloss.Weights `yaml:"weights"`
	GlobalMargin       float64         `yaml:"global_margin"`
	LocalMargin        float64         `yaml:"local_margin"`
	NormalizeFeature   bool            `yaml:"normalize_feature"`
	LocalOwnHardSample bool            `yaml:"local_dist_own_hard_sample"`
}

type OptimConfig struct {
	Kind        string  `yaml:"kind"`
	BaseLR      float64 `yaml:"base_lr"`
	WeightDecay float64 `yaml:"weight_decay"`
	Momentum    float64 `yaml:"momentum"`
}

type ScheduleConfig struct {
	Type            string  `yaml:"type"`
	ExpDecayAt      int     `yaml:"exp_decay_at_epoch"`
	StaircaseAt     []int   `yaml:"staircase_decay_at_epochs"`
	StaircaseFactor float64 `yaml:"staircase_decay_multiply_factor"`
	TotalEpochs     int     `yaml:"total_epochs"`
}

type VWordsConfig struct {
	K       int   `yaml:"k"`
	MaxIter int   `yaml:"kmeans_iters"`
	Seed    int64 `yaml:"seed"`
}

type RunConfig struct {
	ExpDir    string `yaml:"exp_dir"`
	CkptFile  string `yaml:"ckpt_file"`
	Resume    bool   `yaml:"resume"`
	OnlyTest  bool   `yaml:"only_test"`
	LogSteps  int    `yaml:"log_steps"`
	LogToFile bool   `yaml:"log_to_file"`
	MetricsDB string `yaml:"metrics_db"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Dataset: DatasetConfig{
			Part:            "bounding_box_train",
			ResizeH:         256,
			ResizeW:         128,
			IDsPerBatch:     32,
			ImsPerID:        4,
			PrefetchThreads: 2,
			NumCameras:      6,
		},
		Model: ModelConfig{
			InHeight:  64,
			InWidth:   32,
			Hidden:    512,
			GlobalDim: 2048,
			LocalDim:  128,
			Parts:     8,
			KeepProb:  0.5,
		},
		Loss: LossConfig{
			Weights:          anyloss.Weights{Global: 1},
			GlobalMargin:     0.3,
			LocalMargin:      0.3,
			NormalizeFeature: true,
		},
		Optim: OptimConfig{
			Kind:        OptimAdam,
			BaseLR:      2e-4,
			WeightDecay: 5e-4,
			Momentum:    0.9,
		},
		Schedule: ScheduleConfig{
			Type:            ScheduleExp,
			ExpDecayAt:      76,
			StaircaseAt:     []int{101, 201},
			StaircaseFactor: 0.1,
			TotalEpochs:     150,
		},
		VWords: VWordsConfig{
			K:       2048,
			MaxIter: 20,
		},
		Run: RunConfig{
			ExpDir:    "exp",
			LogSteps:  20,
			LogToFile: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML file over the defaults and then
// applies environment overrides.
// If path is empty, only the defaults and the environment
// are used.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, essentials.AddCtx("load config", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, essentials.AddCtx("load config", err)
		}
	}
	if err := c.ApplyEnv(); err != nil {
		return nil, essentials.AddCtx("load config", err)
	}
	return c, nil
}

// ApplyEnv overrides paths and logging from VCFL_*
// environment variables.
func (c *Config) ApplyEnv() error {
	strs := map[string]*string{
		"VCFL_DATA_ROOT":  &c.Dataset.Root,
		"VCFL_EXP_DIR":    &c.Run.ExpDir,
		"VCFL_CKPT_FILE":  &c.Run.CkptFile,
		"VCFL_METRICS_DB": &c.Run.MetricsDB,
		"VCFL_LOG_LEVEL":  &c.Logging.Level,
	}
	for key, dest := range strs {
		if s := os.Getenv(key); s != "" {
			*dest = s
		}
	}
	if s := os.Getenv("VCFL_SEED"); s != "" {
		seed, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("VCFL_SEED: %w", err)
		}
		c.Dataset.Seed = seed
	}
	return nil
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	d := c.Dataset
	check(d.Root != "", "dataset root is required")
	check(d.ResizeH > 0 && d.ResizeW > 0, "resize size must be positive")
	check(d.IDsPerBatch > 1, "ids_per_batch must be at least 2")
	check(d.ImsPerID > 0, "ims_per_id must be positive")
	check(d.PrefetchThreads >= 0, "prefetch_threads must not be negative")
	check(d.NumCameras > 1, "num_cameras must be at least 2")
	check(d.ValRatio >= 0 && d.ValRatio < 1, "val_ratio must be in [0, 1)")

	m := c.Model
	check(m.InHeight > 0 && m.InWidth > 0, "model input size must be positive")
	check(m.Hidden > 0 && m.GlobalDim > 0 && m.LocalDim > 0, "model sizes must be positive")
	check(m.Parts > 0 && m.InHeight%m.Parts == 0,
		"parts (%d) must divide in_height (%d)", m.Parts, m.InHeight)
	check(m.KeepProb > 0 && m.KeepProb <= 1, "keep_prob must be in (0, 1]")

	l := c.Loss
	if err := l.Weights.Validate(); err != nil {
		errs = append(errs, err)
	}
	check(l.GlobalMargin >= 0 && l.LocalMargin >= 0, "margins must not be negative")
	if l.Weights.Enabled(anyloss.VisualWords) {
		check(c.VWords.K == m.GlobalDim,
			"vwords k (%d) must equal global_dim (%d) when the sift loss is enabled",
			c.VWords.K, m.GlobalDim)
	}

	o := c.Optim
	switch o.Kind {
	case OptimAdam, OptimRMSProp, OptimMomentum, OptimSGD:
	default:
		errs = append(errs, fmt.Errorf("unknown optimizer kind: %q", o.Kind))
	}
	check(o.BaseLR > 0, "base_lr must be positive")
	check(o.WeightDecay >= 0, "weight_decay must not be negative")

	s := c.Schedule
	check(s.TotalEpochs > 0, "total_epochs must be positive")
	switch s.Type {
	case ScheduleExp, ScheduleStaircase:
		if err := c.LRSchedule().(interface{ Validate() error }).Validate(); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("unknown schedule type: %q", s.Type))
	}

	check(c.VWords.K > 0 && c.VWords.MaxIter > 0, "vwords sizes must be positive")
	check(c.Run.ExpDir != "", "exp_dir is required")
	check(c.Run.LogSteps > 0, "log_steps must be positive")
	check(!c.Run.OnlyTest || c.Dataset.ValRatio > 0, "only_test requires val_ratio > 0")

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		errs = append(errs, fmt.Errorf("logging level: %w", err))
	}
	check(c.Logging.Format == "text" || c.Logging.Format == "json",
		"logging format must be text or json")

	return errors.Join(errs...)
}

// LRSchedule builds the learning rate schedule.
// It returns nil for an unknown schedule type.
func (c *Config) LRSchedule() anysgd.Schedule {
	s := c.Schedule
	switch s.Type {
	case ScheduleExp:
		return &anysgd.ExpSchedule{
			BaseLR:  c.Optim.BaseLR,
			DecayAt: s.ExpDecayAt,
			Total:   s.TotalEpochs,
		}
	case ScheduleStaircase:
		return &anysgd.StaircaseSchedule{
			BaseLR: c.Optim.BaseLR,
			At:     s.StaircaseAt,
			Factor: s.StaircaseFactor,
		}
	}
	return nil
}

// Transformer builds the gradient transformer of the
// primary optimizer.
func (c *Config) Transformer() anysgd.Transformer {
	switch c.Optim.Kind {
	case OptimAdam:
		return &anysgd.Adam{}
	case OptimRMSProp:
		return &anysgd.RMSProp{}
	case OptimMomentum:
		return &anysgd.Momentum{Momentum: c.Optim.Momentum}
	}
	return nil
}

// CkptPath returns the checkpoint file path.
func (c *Config) CkptPath() string {
	if c.Run.CkptFile != "" {
		return c.Run.CkptFile
	}
	return filepath.Join(c.Run.ExpDir, "ckpt.bin")
}

// MetricsPath returns the metrics database path.
func (c *Config) MetricsPath() string {
	if c.Run.MetricsDB != "" {
		return c.Run.MetricsDB
	}
	return filepath.Join(c.Run.ExpDir, "metrics.db")
}

// LogPath returns the log file path.
func (c *Config) LogPath() string {
	return filepath.Join(c.Run.ExpDir, "train.log")
}

// Level returns the parsed logging level, defaulting to
// info.
func (c *Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// YAML encodes the configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
