package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/YuminosukeSato/pglsum/pkg/errors"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default().Resolve()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1024, cfg.InputSize)
	assert.Equal(t, 20, cfg.BatchSize)
	assert.Equal(t, 5e-5, cfg.LR)
	assert.Equal(t, int64(12345), cfg.Seed)
	assert.Equal(t, filepath.Join("exp", "SumMe", "models", "split0"), cfg.SaveDir)
	assert.Equal(t, filepath.Join("exp", "SumMe", "logs", "split0"), cfg.LogDir)
	assert.Equal(t, filepath.Join("exp", "SumMe", "results", "split0"), cfg.ScoreDir)
	assert.True(t, cfg.InitEnabled())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pglsum.yaml")
	content := `
video_type: TVSum
split_index: 3
batch_size: 4
init_type: orthogonal
exp_dir: /tmp/runs
score_dir: /tmp/scores
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "TVSum", cfg.VideoType)
	assert.Equal(t, 4, cfg.BatchSize)
	assert.Equal(t, 8, cfg.Heads, "unset keys keep defaults")
	assert.Equal(t, filepath.Join("/tmp/runs", "TVSum", "models", "split3"), cfg.SaveDir)
	assert.Equal(t, "/tmp/scores", cfg.ScoreDir)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	want := Default()
	want.Epochs = 7
	want.Fusion = "max"
	require.NoError(t, want.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want.Resolve(), got)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		param  string
		mutate func(c *Config)
	}{
		{"mode", func(c *Config) { c.Mode = "infer" }},
		{"input_size", func(c *Config) { c.InputSize = 0 }},
		{"heads", func(c *Config) { c.Heads = 7 }},
		{"n_segments", func(c *Config) { c.Segments = 0 }},
		{"batch_size", func(c *Config) { c.BatchSize = 0 }},
		{"clip", func(c *Config) { c.Clip = 0 }},
		{"lr", func(c *Config) { c.LR = -1 }},
		{"l2_req", func(c *Config) { c.WeightDecay = -1 }},
		{"init_type", func(c *Config) { c.InitType = "he" }},
		{"split_index", func(c *Config) { c.SplitIndex = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.param, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			var ve *perrors.ValidationError
			require.ErrorAs(t, cfg.Validate(), &ve)
			assert.Equal(t, tt.param, ve.ParamName)
		})
	}
}

func TestInitEnabled(t *testing.T) {
	cfg := Default()
	cfg.InitType = "none"
	assert.False(t, cfg.InitEnabled())
	require.NoError(t, cfg.Validate())

	cfg.InitType = ""
	assert.False(t, cfg.InitEnabled())
}

func TestLoadAppliesOverridesBeforeResolve(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pglsum.yaml")
	require.NoError(t, os.WriteFile(path, []byte("exp_dir: runs\n"), 0o644))

	cfg, err := Load(path, func(c *Config) { c.SplitIndex = 2 })
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("runs", "SumMe", "logs", "split2"), cfg.LogDir)

	_, err = Load(path, func(c *Config) { c.BatchSize = 0 })
	var ve *perrors.ValidationError
	assert.ErrorAs(t, err, &ve)
}
