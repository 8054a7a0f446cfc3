// Package config holds the run configuration of pglsum.
//
// A Config is loaded once at startup, validated, resolved and then passed by
// value: nothing mutates it during a run.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/pglsum/initializer"
	perrors "github.com/YuminosukeSato/pglsum/pkg/errors"
)

// Run modes.
const (
	ModeTrain = "train"
	ModeTest  = "test"
)

// Config is the full run configuration.
type Config struct {
	Mode      string `yaml:"mode"`
	Verbose   bool   `yaml:"verbose"`
	VideoType string `yaml:"video_type"`
	Seed      int64  `yaml:"seed"`
	Device    string `yaml:"device"`

	// Model
	InputSize int    `yaml:"input_size"`
	Fusion    string `yaml:"fusion"`
	Segments  int    `yaml:"n_segments"`
	PosEnc    string `yaml:"pos_enc"`
	Heads     int    `yaml:"heads"`

	// Training
	Epochs      int     `yaml:"n_epochs"`
	BatchSize   int     `yaml:"batch_size"`
	Clip        float64 `yaml:"clip"`
	LR          float64 `yaml:"lr"`
	WeightDecay float64 `yaml:"l2_req"`
	InitType    string  `yaml:"init_type"` // empty or "none" skips initialization
	InitGain    float64 `yaml:"init_gain"`

	// Data
	FeaturesPath string `yaml:"features_path"`
	SplitsPath   string `yaml:"splits_path"`
	SplitIndex   int    `yaml:"split_index"`

	// StandardizeFeatures rescales every feature to zero mean and unit
	// variance using statistics of the training videos.
	StandardizeFeatures bool `yaml:"standardize_features"`

	// Output
	ExpDir          string `yaml:"exp_dir"`
	SaveDir         string `yaml:"save_dir"`
	LogDir          string `yaml:"log_dir"`
	ScoreDir        string `yaml:"score_dir"`
	SaveWeights     bool   `yaml:"save_weights"`
	SaveCheckpoints bool   `yaml:"save_checkpoints"`
	Checkpoint      string `yaml:"checkpoint"` // loaded before evaluation in test mode
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Mode:        ModeTrain,
		VideoType:   "SumMe",
		Seed:        12345,
		Device:      "cpu",
		InputSize:   1024,
		Fusion:      "add",
		Segments:    4,
		PosEnc:      "absolute",
		Heads:       8,
		Epochs:      200,
		BatchSize:   20,
		Clip:        5.0,
		LR:          5e-5,
		WeightDecay: 1e-5,
		InitType:    "xavier",
		InitGain:    1.4142,
		ExpDir:      "exp",
	}
}

// Override adjusts a loaded configuration before it is resolved.
type Override func(*Config)

// Load reads a YAML file over the defaults, applies overrides, resolves the
// output directories and validates the result. An empty path looks for
// ./pglsum.yaml and ./config.yaml and falls back to the defaults.
func Load(path string, overrides ...Override) (Config, error) {
	cfg := Default()

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, perrors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, perrors.Wrapf(err, "parse config %s", path)
		}
	}

	for _, o := range overrides {
		o(&cfg)
	}
	cfg = cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func findConfigFile() string {
	for _, p := range []string{"./pglsum.yaml", "./config.yaml"} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Resolve fills unset output directories from ExpDir, VideoType and
// SplitIndex: <exp>/<type>/{models,logs,results}/split<i>.
func (c Config) Resolve() Config {
	split := fmt.Sprintf("split%d", c.SplitIndex)
	base := filepath.Join(c.ExpDir, c.VideoType)
	if c.SaveDir == "" {
		c.SaveDir = filepath.Join(base, "models", split)
	}
	if c.LogDir == "" {
		c.LogDir = filepath.Join(base, "logs", split)
	}
	if c.ScoreDir == "" {
		c.ScoreDir = filepath.Join(base, "results", split)
	}
	return c
}

// InitEnabled reports whether a weight initialization policy is configured.
func (c Config) InitEnabled() bool {
	t := strings.ToLower(strings.TrimSpace(c.InitType))
	return t != "" && t != "none"
}

// Validate checks the values that can be checked without building anything.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeTrain, ModeTest:
	default:
		return perrors.NewValidationError("mode", "expected train or test", c.Mode)
	}
	if c.VideoType == "" {
		return perrors.NewValidationError("video_type", "must not be empty", c.VideoType)
	}
	if c.InputSize <= 0 {
		return perrors.NewValidationError("input_size", "must be positive", c.InputSize)
	}
	if c.Heads <= 0 || c.InputSize%c.Heads != 0 {
		return perrors.NewValidationError("heads", "must be positive and divide input_size", c.Heads)
	}
	if c.Segments <= 0 {
		return perrors.NewValidationError("n_segments", "must be positive", c.Segments)
	}
	if c.Epochs < 0 {
		return perrors.NewValidationError("n_epochs", "must not be negative", c.Epochs)
	}
	if c.BatchSize <= 0 {
		return perrors.NewValidationError("batch_size", "must be positive", c.BatchSize)
	}
	if !(c.Clip > 0) {
		return perrors.NewValidationError("clip", "must be positive", c.Clip)
	}
	if !(c.LR > 0) {
		return perrors.NewValidationError("lr", "must be positive", c.LR)
	}
	if c.WeightDecay < 0 {
		return perrors.NewValidationError("l2_req", "must not be negative", c.WeightDecay)
	}
	if c.InitEnabled() {
		if _, err := initializer.ParsePolicy(c.InitType); err != nil {
			return err
		}
	}
	if c.SplitIndex < 0 {
		return perrors.NewValidationError("split_index", "must not be negative", c.SplitIndex)
	}
	return nil
}

// Save writes the configuration as YAML.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return perrors.Wrap(err, "encode config")
	}
	return os.WriteFile(path, data, 0o644)
}
