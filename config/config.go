// Package config loads and validates the YAML run configuration. The file
// layout mirrors the sections consumed by the rest of the repository: `data`
// (channel columns and file lists), `model`, `transforms` (pipeline-global
// scalars plus transform-name-keyed argument mappings) and `training`.
//
// Configuration is loaded once at startup and treated as immutable
// afterwards. Malformed or incomplete files fail here, before any pipeline
// is built or any training starts.
package config

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingSection indicates a required top-level section is absent.
	ErrMissingSection = errors.New("missing required config section")

	// ErrInvalidValue indicates a present key holds an unusable value.
	ErrInvalidValue = errors.New("invalid config value")
)

// DataConfig addresses the dataset on disk. ImageCols and LabelCols name the
// channels of every record; each split CSV lists one file path per column.
type DataConfig struct {
	DataDir   string   `koanf:"data_dir"`
	ImageCols []string `koanf:"image_cols"`
	LabelCols []string `koanf:"label_cols"`
	TrainCSV  string   `koanf:"train_csv"`
	ValidCSV  string   `koanf:"valid_csv"`
	TestCSV   string   `koanf:"test_csv"`
}

// Cols returns image columns followed by label columns, the key order used
// by every dictionary transform.
func (d DataConfig) Cols() []string {
	cols := make([]string, 0, len(d.ImageCols)+len(d.LabelCols))
	cols = append(cols, d.ImageCols...)
	cols = append(cols, d.LabelCols...)
	return cols
}

type ModelConfig struct {
	OutChannels int   `koanf:"out_channels"`
	HiddenSizes []int `koanf:"hidden_sizes"`
}

// TransformEntry is one transform-name-keyed mapping from the `transforms`
// section, in file declaration order.
type TransformEntry struct {
	Name string
	Args map[string]any
}

// TransformsConfig carries the pipeline-global scalars plus the ordered
// per-transform argument mappings. The scalar keys (prob, mode, spacing,
// orientation, min/max intensity, label_map) are reserved and never treated
// as transform names.
type TransformsConfig struct {
	Prob         float64   `koanf:"prob"`
	Mode         []string  `koanf:"mode"`
	Spacing      []float64 `koanf:"spacing"`
	Orientation  string    `koanf:"orientation"`
	MinIntensity float64   `koanf:"min_intensity"`
	MaxIntensity float64   `koanf:"max_intensity"`
	LabelMap     [][]int   `koanf:"label_map"`

	Entries []TransformEntry `koanf:"-"`
}

// ImageMode returns the interpolation mode used for image columns. Label
// columns always resample with nearest neighbour so discrete values survive.
func (t TransformsConfig) ImageMode() string {
	if len(t.Mode) == 0 {
		return "bilinear"
	}
	return t.Mode[0]
}

// LabelMapPairs splits the configured (original, target) pairs into two
// parallel slices.
func (t TransformsConfig) LabelMapPairs() (orig, target []int) {
	for _, p := range t.LabelMap {
		if len(p) != 2 {
			continue
		}
		orig = append(orig, p[0])
		target = append(target, p[1])
	}
	return orig, target
}

type TrainingConfig struct {
	Epochs                int     `koanf:"epochs"`
	BatchSize             int     `koanf:"batch_size"`
	LearningRate          float64 `koanf:"learning_rate"`
	EarlyStoppingPatience int     `koanf:"early_stopping_patience"`
}

// Config is the parsed run configuration.
type Config struct {
	RunID string `koanf:"run_id"`
	Seed  int64  `koanf:"seed"`
	Debug bool   `koanf:"debug"`

	OutDir   string `koanf:"out_dir"`
	ModelDir string `koanf:"model_dir"`
	LogDir   string `koanf:"log_dir"`

	PushoverCredentials string `koanf:"pushover_credentials"`

	Data       DataConfig       `koanf:"data"`
	Model      ModelConfig      `koanf:"model"`
	Transforms TransformsConfig `koanf:"transforms"`
	Training   TrainingConfig   `koanf:"training"`
}

// Validate fails fast on structural problems so that a bad config never
// reaches pipeline construction.
func (c *Config) Validate() error {
	if c.RunID == "" {
		return fmt.Errorf("%w: run_id", ErrInvalidValue)
	}
	if len(c.Data.ImageCols) == 0 {
		return fmt.Errorf("%w: data.image_cols must not be empty", ErrInvalidValue)
	}
	if len(c.Data.LabelCols) == 0 {
		return fmt.Errorf("%w: data.label_cols must not be empty", ErrInvalidValue)
	}
	seen := map[string]bool{}
	for _, col := range c.Data.Cols() {
		if col == "" {
			return fmt.Errorf("%w: empty column name in data section", ErrInvalidValue)
		}
		if seen[col] {
			return fmt.Errorf("%w: column %q appears more than once across image_cols and label_cols", ErrInvalidValue, col)
		}
		seen[col] = true
	}
	if c.Data.DataDir == "" {
		return fmt.Errorf("%w: data.data_dir", ErrInvalidValue)
	}
	if c.Model.OutChannels < 2 {
		return fmt.Errorf("%w: model.out_channels must be >= 2, got %d", ErrInvalidValue, c.Model.OutChannels)
	}
	if c.Transforms.Prob < 0 || c.Transforms.Prob > 1 {
		return fmt.Errorf("%w: transforms.prob must be in [0, 1], got %g", ErrInvalidValue, c.Transforms.Prob)
	}
	if len(c.Transforms.Spacing) != 3 {
		return fmt.Errorf("%w: transforms.spacing must have 3 entries, got %d", ErrInvalidValue, len(c.Transforms.Spacing))
	}
	for _, s := range c.Transforms.Spacing {
		if s <= 0 {
			return fmt.Errorf("%w: transforms.spacing entries must be positive", ErrInvalidValue)
		}
	}
	for _, p := range c.Transforms.LabelMap {
		if len(p) != 2 {
			return fmt.Errorf("%w: transforms.label_map entries must be [original, target] pairs", ErrInvalidValue)
		}
	}
	if c.Transforms.MaxIntensity <= c.Transforms.MinIntensity {
		return fmt.Errorf("%w: transforms.max_intensity must exceed min_intensity", ErrInvalidValue)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if len(c.Transforms.Mode) == 0 {
		c.Transforms.Mode = []string{"bilinear", "nearest"}
	}
	if c.Transforms.Prob == 0 {
		c.Transforms.Prob = 0.1
	}
	if len(c.Transforms.Spacing) == 0 {
		c.Transforms.Spacing = []float64{1, 1, 1}
	}
	if c.Transforms.Orientation == "" {
		c.Transforms.Orientation = "RAS"
	}
	if c.Transforms.MaxIntensity == 0 && c.Transforms.MinIntensity == 0 {
		c.Transforms.MaxIntensity = 1
	}
	if c.OutDir == "" {
		c.OutDir = "output"
	}
	if c.ModelDir == "" {
		c.ModelDir = "models"
	}
	if c.LogDir == "" {
		c.LogDir = "logs"
	}
	if c.Training.Epochs == 0 {
		c.Training.Epochs = 10
	}
	if c.Training.BatchSize == 0 {
		c.Training.BatchSize = 2
	}
	if c.Training.LearningRate == 0 {
		c.Training.LearningRate = 0.001
	}
	if c.Data.TrainCSV == "" {
		c.Data.TrainCSV = "train.csv"
	}
	if c.Data.ValidCSV == "" {
		c.Data.ValidCSV = "valid.csv"
	}
	if c.Data.TestCSV == "" {
		c.Data.TestCSV = "test.csv"
	}
}
